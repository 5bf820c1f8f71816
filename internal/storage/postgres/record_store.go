// Package postgres persists crawl runs and their records into Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Run describes one crawl run.
type Run struct {
	ID         string
	Stage      string
	StartedAt  time.Time
	FinishedAt time.Time
	Canceled   bool
	Schools    int
	Failures   int
}

type beginCloser interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RecordStore writes run rows and their review and criterion records.
type RecordStore struct {
	pool   beginCloser
	tables tables
}

type tables struct {
	runs, reviews, criteria string
}

var (
	reviewColumns    = []string{"run_id", "school", "author", "review_date", "rating", "content", "source_url"}
	criterionColumns = []string{"run_id", "school", "theme_title", "theme_id", "criterion", "score_of_10", "raw_note"}
)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sinks.postgres.dsn is required")
	}
	t, err := tableNames(cfg.TablePrefix)
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
	return &RecordStore{pool: pool, tables: t}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool beginCloser, prefix string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t, err := tableNames(prefix)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, tables: t}, nil
}

func tableNames(prefix string) (tables, error) {
	t := tables{
		runs:     prefix + "crawl_runs",
		reviews:  prefix + "reviews",
		criteria: prefix + "criteria",
	}
	for _, name := range []string{t.runs, t.reviews, t.criteria} {
		if !validTableName.MatchString(name) {
			return tables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveRun stores run and its records in a single transaction. Records are
// bulk loaded with COPY.
func (s *RecordStore) SaveRun(
	ctx context.Context,
	run Run,
	reviews []crawler.ReviewRecord,
	criteria []crawler.CriterionRecord,
) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	stage,
	started_at,
	finished_at,
	canceled,
	schools,
	failures,
	reviews,
	criteria
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.tables.runs)
	if _, err = tx.Exec(ctx, query,
		run.ID,
		run.Stage,
		run.StartedAt,
		run.FinishedAt,
		run.Canceled,
		run.Schools,
		run.Failures,
		len(reviews),
		len(criteria),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(reviews) > 0 {
		rows := make([][]any, 0, len(reviews))
		for _, r := range reviews {
			rows = append(rows, []any{run.ID, r.School, r.Author, r.Date, r.Rating, r.Content, r.SourceURL})
		}
		if _, err = tx.CopyFrom(ctx, pgx.Identifier{s.tables.reviews}, reviewColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy reviews: %w", err)
		}
	}
	if len(criteria) > 0 {
		rows := make([][]any, 0, len(criteria))
		for _, c := range criteria {
			rows = append(rows, []any{run.ID, c.School, c.ThemeTitle, c.ThemeID, c.CriterionLabel, c.ScoreOf10, c.RawNote})
		}
		if _, err = tx.CopyFrom(ctx, pgx.Identifier{s.tables.criteria}, criterionColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy criteria: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
