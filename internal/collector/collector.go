// Package collector drives paginated question retrieval into the question store.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/metrics"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

// Stage names the collector in results and metrics.
const Stage = "collect"

// Config controls the page range and stop conditions of a collection run.
type Config struct {
	StartPage    int
	MaxPages     int
	PageSize     int
	AcceptedOnly bool
	// SaveInterval persists the collection every N processed pages.
	SaveInterval int
	// Delay is the fixed pause between pages; a larger API backoff wins.
	Delay time.Duration
	// QuotaFloor stops the run once a successful page reports less quota.
	QuotaFloor int
	// MaxConsecutiveFailures stops the run after that many failed pages in a row; zero disables.
	MaxConsecutiveFailures int
}

// Validate enforces positive page and interval settings.
func (c Config) Validate() error {
	if c.StartPage <= 0 {
		return fmt.Errorf("start page must be > 0")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be > 0")
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		return fmt.Errorf("page size must be between 1 and 100")
	}
	if c.SaveInterval <= 0 {
		return fmt.Errorf("save interval must be > 0")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	return nil
}

// Collector appends unseen questions page by page and always persists on exit.
type Collector struct {
	fetcher qa.QuestionFetcher
	store   qa.QuestionStore
	sleeper qa.Sleeper
	clock   qa.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Collector.
func New(
	fetcher qa.QuestionFetcher,
	store qa.QuestionStore,
	sleeper qa.Sleeper,
	clock qa.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Collector, error) {
	if fetcher == nil || store == nil || sleeper == nil || clock == nil {
		return nil, errors.New("collector requires a fetcher, store, sleeper and clock")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("collector config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		fetcher: fetcher,
		store:   store,
		sleeper: sleeper,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

type collection struct {
	questions []qa.Question
	seen      map[int64]struct{}
}

func newCollection(existing []qa.Question) *collection {
	c := &collection{
		questions: existing,
		seen:      make(map[int64]struct{}, len(existing)),
	}
	for _, q := range existing {
		c.seen[q.QuestionID] = struct{}{}
	}
	return c
}

func (c *collection) merge(questions []qa.Question) int {
	added := 0
	for _, q := range questions {
		if _, ok := c.seen[q.QuestionID]; ok {
			continue
		}
		c.seen[q.QuestionID] = struct{}{}
		c.questions = append(c.questions, q)
		added++
	}
	return added
}

// Run collects pages until the range is exhausted or a stop condition fires.
// Whatever the exit path (stop condition, cancellation, error or panic), the
// collection is saved once more before Run returns.
func (c *Collector) Run(ctx context.Context) (res qa.Result) {
	start := c.clock.Now()
	res = qa.Result{Stage: Stage}

	existing, err := c.store.Load()
	if err != nil {
		res.Status = qa.StatusFailed
		res.Err = fmt.Errorf("load questions: %w", err)
		metrics.ObserveRun(Stage, string(res.Status))
		return res
	}
	col := newCollection(existing)
	c.logger.Info("collection started",
		zap.Int("existing", len(existing)),
		zap.Int("start_page", c.cfg.StartPage),
		zap.Int("max_pages", c.cfg.MaxPages),
	)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("collector panicked", zap.Any("panic", r))
			res.Status = qa.StatusFailed
			res.Reason = qa.ReasonNone
			res.Err = fmt.Errorf("collector panic: %v", r)
		}
		if err := c.store.Save(col.questions); err != nil {
			c.logger.Error("final save failed", zap.Error(err))
			res.Status = qa.StatusFailed
			res.Err = errors.Join(res.Err, fmt.Errorf("final save: %w", err))
		}
		res.Total = len(col.questions)
		res.Duration = c.clock.Now().Sub(start)
		metrics.ObserveRun(Stage, string(res.Status))
		c.logger.Info("collection finished",
			zap.String("status", string(res.Status)),
			zap.String("reason", string(res.Reason)),
			zap.Int("pages", res.Batches),
			zap.Int("added", res.Added),
			zap.Int("total", res.Total),
		)
	}()

	res.Status, res.Reason, res.Err = c.collect(ctx, col, &res)
	return res
}

func (c *Collector) collect(ctx context.Context, col *collection, res *qa.Result) (qa.Status, qa.Reason, error) {
	end := c.cfg.StartPage + c.cfg.MaxPages
	prevEmpty := false
	failures := 0

	for page := c.cfg.StartPage; page < end; page++ {
		if ctx.Err() != nil {
			c.logger.Warn("collection interrupted", zap.Int("page", page))
			return qa.StatusPartial, qa.ReasonCanceled, nil
		}

		result, err := c.fetcher.FetchQuestions(ctx, page, c.cfg.PageSize, c.cfg.AcceptedOnly)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Warn("collection interrupted", zap.Int("page", page))
				return qa.StatusPartial, qa.ReasonCanceled, nil
			}
			c.logger.Error("question fetch errored", zap.Int("page", page), zap.Error(err))
			return qa.StatusFailed, qa.ReasonNone, fmt.Errorf("fetch page %d: %w", page, err)
		}

		res.Batches++
		added := col.merge(result.Questions)
		res.Added += added
		metrics.ObservePage(result.OK, added)
		c.logger.Info("added new questions",
			zap.Int("page", page),
			zap.Int("added", added),
			zap.Int("total", len(col.questions)),
		)

		if res.Batches%c.cfg.SaveInterval == 0 {
			if err := c.store.Save(col.questions); err != nil {
				return qa.StatusFailed, qa.ReasonNone, fmt.Errorf("save questions: %w", err)
			}
		}

		if !result.OK {
			failures++
			prevEmpty = false
			if c.cfg.MaxConsecutiveFailures > 0 && failures >= c.cfg.MaxConsecutiveFailures {
				c.logger.Warn("too many consecutive failed pages, stopping", zap.Int("failures", failures))
				return qa.StatusPartial, qa.ReasonAPIFailures, nil
			}
		} else {
			failures = 0
			if result.QuotaRemaining < c.cfg.QuotaFloor {
				c.logger.Warn("api quota running low, stopping", zap.Int("quota", result.QuotaRemaining))
				return qa.StatusPartial, qa.ReasonQuotaExhausted, nil
			}
			empty := len(result.Questions) == 0
			if empty && prevEmpty {
				c.logger.Info("confirmed end of results", zap.Int("page", page))
				return qa.StatusCompleted, qa.ReasonEndOfResults, nil
			}
			if empty {
				c.logger.Info("no questions on page, confirming with the next one", zap.Int("page", page))
			}
			prevEmpty = empty
		}

		if page+1 < end {
			wait := c.cfg.Delay
			if result.Backoff > wait {
				c.logger.Info("honoring api backoff", zap.Duration("backoff", result.Backoff))
				wait = result.Backoff
			}
			if err := c.sleeper.Sleep(ctx, wait); err != nil {
				c.logger.Warn("collection interrupted", zap.Int("page", page))
				return qa.StatusPartial, qa.ReasonCanceled, nil
			}
		}
	}
	return qa.StatusCompleted, qa.ReasonNone, nil
}
