// Package joiner attaches answers to collected questions and maintains the
// merged output table.
//
// A question gets a row only when its answer request succeeded; the rest stay
// off the skip-list and are retried by the next run.
package joiner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/metrics"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/storage/csvtable"
)

// Stage names the joiner in results and metrics.
const Stage = "join"

// Config controls batching and the shape of the output table.
type Config struct {
	OutputPath     string
	BatchSize      int
	TopN           int
	AcceptedPolicy qa.AcceptedPolicy
	// Delay is the pause between question batches.
	Delay time.Duration
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0")
	}
	if c.TopN < 0 {
		return fmt.Errorf("top n must be >= 0")
	}
	if _, err := qa.ParseAcceptedPolicy(string(c.AcceptedPolicy)); err != nil {
		return err
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	return nil
}

// Joiner builds one output row per question whose answers were fetched.
type Joiner struct {
	store     qa.QuestionStore
	fetcher   qa.AnswerFetcher
	cleaner   qa.Cleaner
	sleeper   qa.Sleeper
	clock     qa.Clock
	ids       qa.IDGenerator
	exporters []qa.RowExporter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Joiner. Exporters receive every batch of new rows.
func New(
	store qa.QuestionStore,
	fetcher qa.AnswerFetcher,
	cleaner qa.Cleaner,
	sleeper qa.Sleeper,
	clock qa.Clock,
	ids qa.IDGenerator,
	cfg Config,
	logger *zap.Logger,
	exporters ...qa.RowExporter,
) (*Joiner, error) {
	if store == nil || fetcher == nil || cleaner == nil || sleeper == nil || clock == nil || ids == nil {
		return nil, errors.New("joiner requires a store, fetcher, cleaner, sleeper, clock and id generator")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("joiner config: %w", err)
	}
	if cfg.AcceptedPolicy == "" {
		cfg.AcceptedPolicy = qa.AcceptedFirst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Joiner{
		store:     store,
		fetcher:   fetcher,
		cleaner:   cleaner,
		sleeper:   sleeper,
		clock:     clock,
		ids:       ids,
		exporters: exporters,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run processes every question missing from the output table. The table is
// rewritten after each batch, so an interrupted run resumes where it stopped.
func (j *Joiner) Run(ctx context.Context) (res qa.Result) {
	start := j.clock.Now()
	res = qa.Result{Stage: Stage}
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("joiner panicked", zap.Any("panic", r))
			res.Status = qa.StatusFailed
			res.Reason = qa.ReasonNone
			res.Err = fmt.Errorf("joiner panic: %v", r)
		}
		res.Duration = j.clock.Now().Sub(start)
		metrics.ObserveRun(Stage, string(res.Status))
		j.logger.Info("join finished",
			zap.String("run_id", res.RunID),
			zap.String("status", string(res.Status)),
			zap.String("reason", string(res.Reason)),
			zap.Int("batches", res.Batches),
			zap.Int("added", res.Added),
			zap.Int("total", res.Total),
		)
	}()

	runID, err := j.ids.NewID()
	if err != nil {
		return failed(res, err)
	}
	res.RunID = runID

	questions, err := j.store.Load()
	if err != nil {
		return failed(res, fmt.Errorf("load questions: %w", err))
	}
	table, err := csvtable.Open(j.cfg.OutputPath, j.cfg.TopN)
	if err != nil {
		return failed(res, err)
	}
	res.Total = table.Len()

	pending := unprocessed(questions, table)
	j.logger.Info("join started",
		zap.String("run_id", runID),
		zap.Int("questions", len(questions)),
		zap.Int("processed", table.ProcessedCount()),
		zap.Int("pending", len(pending)),
	)
	if len(pending) == 0 {
		res.Status = qa.StatusCompleted
		res.Reason = qa.ReasonNothingToDo
		return res
	}

	res.Status, res.Reason, res.Err = j.join(ctx, runID, pending, table, &res)
	return res
}

func (j *Joiner) join(ctx context.Context, runID string, pending []qa.Question, table *csvtable.Table, res *qa.Result) (qa.Status, qa.Reason, error) {
	batches := chunk(pending, j.cfg.BatchSize)
	for i, batch := range batches {
		if i > 0 {
			if err := j.sleeper.Sleep(ctx, j.cfg.Delay); err != nil {
				j.logger.Warn("join interrupted", zap.Int("batch", i+1))
				return qa.StatusPartial, qa.ReasonCanceled, nil
			}
		}
		if ctx.Err() != nil {
			j.logger.Warn("join interrupted", zap.Int("batch", i+1))
			return qa.StatusPartial, qa.ReasonCanceled, nil
		}

		j.logger.Info("processing batch", zap.Int("batch", i+1), zap.Int("batches", len(batches)))
		answers, err := j.fetcher.FetchAnswers(ctx, questionIDs(batch), j.cfg.TopN)
		if err != nil && ctx.Err() == nil {
			j.logger.Error("answer fetch errored", zap.Int("batch", i+1), zap.Error(err))
			return qa.StatusFailed, qa.ReasonNone, fmt.Errorf("fetch answers for batch %d: %w", i+1, err)
		}

		rows := j.buildRows(batch, answers)
		if len(rows) > 0 {
			added, werr := table.Append(rows)
			if werr != nil {
				return qa.StatusFailed, qa.ReasonNone, fmt.Errorf("persist batch %d: %w", i+1, werr)
			}
			res.Added += added
			res.Total = table.Len()
			metrics.AddRows(added)
			j.export(ctx, runID, rows)
		}
		res.Batches++
		j.logger.Info("saved rows", zap.Int("added", len(rows)), zap.Int("total", table.Len()))

		if err != nil {
			j.logger.Warn("join interrupted", zap.Int("batch", i+1))
			return qa.StatusPartial, qa.ReasonCanceled, nil
		}
		if answers.QuotaExhausted {
			j.logger.Warn("api quota running low, stopping", zap.Int("quota", answers.QuotaRemaining))
			return qa.StatusPartial, qa.ReasonQuotaExhausted, nil
		}
	}
	return qa.StatusCompleted, qa.ReasonNone, nil
}

func (j *Joiner) buildRows(batch []qa.Question, answers qa.AnswerBatch) []qa.Row {
	rows := make([]qa.Row, 0, len(batch))
	for _, q := range batch {
		// Unfetched questions get no row so they are retried.
		if !answers.Fetched[q.QuestionID] {
			continue
		}
		group := answers.Groups[q.QuestionID]
		row := qa.Row{
			QuestionID:  q.QuestionID,
			Title:       q.Title,
			Body:        j.cleaner.Clean(q.Body),
			Score:       q.Score,
			ViewCount:   q.ViewCount,
			AnswerCount: q.AnswerCount,
			Tags:        q.Tags,
		}
		if accepted, ok := j.cfg.AcceptedPolicy.Pick(group.Accepted); ok {
			row.AcceptedAnswer = accepted.Format()
		}
		for idx, a := range group.Others {
			if idx >= j.cfg.TopN {
				break
			}
			row.TopAnswers = append(row.TopAnswers, a.Format())
		}
		rows = append(rows, row)
	}
	return rows
}

func (j *Joiner) export(ctx context.Context, runID string, rows []qa.Row) {
	for _, exp := range j.exporters {
		if err := exp.ExportRows(ctx, runID, rows); err != nil {
			j.logger.Warn("row export failed", zap.String("run_id", runID), zap.Int("rows", len(rows)), zap.Error(err))
		}
	}
}

func failed(res qa.Result, err error) qa.Result {
	res.Status = qa.StatusFailed
	res.Err = err
	return res
}

func unprocessed(questions []qa.Question, table *csvtable.Table) []qa.Question {
	pending := make([]qa.Question, 0, len(questions))
	seen := make(map[int64]bool, len(questions))
	for _, q := range questions {
		if table.Processed(q.QuestionID) || seen[q.QuestionID] {
			continue
		}
		seen[q.QuestionID] = true
		pending = append(pending, q)
	}
	return pending
}

func questionIDs(questions []qa.Question) []int64 {
	ids := make([]int64, len(questions))
	for i, q := range questions {
		ids[i] = q.QuestionID
	}
	return ids
}

func chunk(questions []qa.Question, size int) [][]qa.Question {
	var out [][]qa.Question
	for start := 0; start < len(questions); start += size {
		end := start + size
		if end > len(questions) {
			end = len(questions)
		}
		out = append(out, questions[start:end])
	}
	return out
}
