// Package pipeline sequences the collect and join stages for a single invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

// Mode selects which stages run.
type Mode string

// Supported modes.
const (
	ModeCollect Mode = "collect"
	ModeJoin    Mode = "join"
	ModeBoth    Mode = "both"
)

// ParseMode validates a mode name. Empty selects ModeBoth.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeBoth:
		return ModeBoth, nil
	case ModeCollect:
		return ModeCollect, nil
	case ModeJoin:
		return ModeJoin, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want collect, join or both)", raw)
	}
}

// Stage is a runnable step that reports its own outcome.
type Stage interface {
	Run(ctx context.Context) qa.Result
}

// Uploader copies a finished artifact to remote storage.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, object, contentType string) (string, error)
}

// Artifact is a local file uploaded after the run.
type Artifact struct {
	Path        string
	Object      string
	ContentType string
}

// Report collects the stage results and uploaded artifact URIs of one invocation.
type Report struct {
	Mode    Mode
	Results []qa.Result
	Uploads []string
	// UploadErr joins every failed upload; it does not affect Failed.
	UploadErr error
}

// Failed reports whether any stage failed.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Failed() {
			return true
		}
	}
	return false
}

// Err joins the errors of every stage.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Stage, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Runner wires the stages together.
type Runner struct {
	collect   Stage
	join      Stage
	uploaders []Uploader
	artifacts []Artifact
	logger    *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithUploader adds a destination for the artifacts after the stages finish.
func WithUploader(u Uploader) Option {
	return func(r *Runner) {
		r.uploaders = append(r.uploaders, u)
	}
}

// WithArtifacts sets the files handed to every uploader.
func WithArtifacts(artifacts ...Artifact) Option {
	return func(r *Runner) {
		r.artifacts = append(r.artifacts, artifacts...)
	}
}

// New constructs a Runner. Either stage may be nil when its mode is never requested.
func New(collect, join Stage, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{collect: collect, join: join, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the stages selected by mode. The join stage is skipped when
// collection failed; a partial collection still feeds the join.
func (r *Runner) Run(ctx context.Context, mode Mode) Report {
	report := Report{Mode: mode}

	if mode == ModeCollect || mode == ModeBoth {
		res := r.runStage(ctx, "collect", r.collect)
		report.Results = append(report.Results, res)
		if res.Failed() {
			if mode == ModeBoth {
				r.logger.Warn("collection failed, skipping join", zap.Error(res.Err))
			}
			r.upload(ctx, &report)
			return report
		}
	}
	if mode == ModeJoin || mode == ModeBoth {
		if ctx.Err() != nil && mode == ModeBoth {
			r.logger.Warn("interrupted, skipping join")
		} else {
			report.Results = append(report.Results, r.runStage(ctx, "join", r.join))
		}
	}
	r.upload(ctx, &report)
	return report
}

func (r *Runner) runStage(ctx context.Context, name string, stage Stage) qa.Result {
	if stage == nil {
		return qa.Result{Stage: name, Status: qa.StatusFailed, Err: fmt.Errorf("%s stage is not configured", name)}
	}
	r.logger.Info("stage starting", zap.String("stage", name))
	return stage.Run(ctx)
}

func (r *Runner) upload(ctx context.Context, report *Report) {
	if len(r.uploaders) == 0 || len(r.artifacts) == 0 {
		return
	}
	if ctx.Err() != nil {
		r.logger.Warn("interrupted, skipping artifact upload")
		return
	}
	var errs []error
	for _, a := range r.artifacts {
		if _, err := os.Stat(a.Path); err != nil {
			r.logger.Info("artifact not present, skipping upload", zap.String("path", a.Path))
			continue
		}
		for _, u := range r.uploaders {
			uri, err := u.UploadFile(ctx, a.Path, a.Object, a.ContentType)
			if err != nil {
				r.logger.Error("artifact upload failed", zap.String("path", a.Path), zap.Error(err))
				errs = append(errs, fmt.Errorf("upload %s: %w", a.Path, err))
				continue
			}
			report.Uploads = append(report.Uploads, uri)
		}
	}
	report.UploadErr = errors.Join(errs...)
}
