// Package postgres mirrors joined question and answer rows into Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

// DefaultTable receives rows when no table is configured.
const DefaultTable = "qa_rows"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RowStoreConfig controls the Postgres connection pool used for row export.
type RowStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// CreateTable issues CREATE TABLE IF NOT EXISTS on startup.
	CreateTable bool
}

type txPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RowStore writes joined rows into Postgres, ignoring questions already exported.
type RowStore struct {
	pool   txPool
	table  string
	now    func() time.Time
	logger *zap.Logger
}

// NewRowStore creates a Postgres-backed RowStore using the provided config.
func NewRowStore(ctx context.Context, cfg RowStoreConfig, logger *zap.Logger) (*RowStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("export.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := newRowStore(pool, table, logger)
	if cfg.CreateTable {
		if err := store.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewRowStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRowStoreWithPool(pool txPool, table string, logger *zap.Logger) (*RowStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newRowStore(pool, table, logger), nil
}

func newRowStore(pool txPool, table string, logger *zap.Logger) *RowStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RowStore{
		pool:   pool,
		table:  table,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("postgres"),
	}
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RowStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureTable creates the export table when it does not exist.
func (s *RowStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	question_id     BIGINT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	title           TEXT NOT NULL,
	body            TEXT NOT NULL,
	score           INTEGER NOT NULL,
	view_count      INTEGER NOT NULL,
	answer_count    INTEGER NOT NULL,
	tags            TEXT NOT NULL,
	accepted_answer TEXT NOT NULL,
	top_answers     TEXT[] NOT NULL,
	exported_at     TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// ExportRows inserts rows in one transaction. Questions already present are left untouched.
func (s *RowStore) ExportRows(ctx context.Context, runID string, rows []qa.Row) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("row store is not configured")
	}
	if len(rows) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	question_id,
	run_id,
	title,
	body,
	score,
	view_count,
	answer_count,
	tags,
	accepted_answer,
	top_answers,
	exported_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (question_id) DO NOTHING`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	exportedAt := s.now()
	inserted := int64(0)
	for _, row := range rows {
		topAnswers := row.TopAnswers
		if topAnswers == nil {
			topAnswers = []string{}
		}
		tag, err := tx.Exec(ctx, query,
			row.QuestionID,
			runID,
			row.Title,
			row.Body,
			row.Score,
			row.ViewCount,
			row.AnswerCount,
			row.Tags,
			row.AcceptedAnswer,
			topAnswers,
			exportedAt,
		)
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
			return fmt.Errorf("insert row %d: %w", row.QuestionID, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}
	s.logger.Debug("exported rows",
		zap.String("run_id", runID),
		zap.Int("rows", len(rows)),
		zap.Int64("inserted", inserted),
	)
	return nil
}
