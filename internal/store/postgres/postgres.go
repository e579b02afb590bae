// Package postgres is the PostgreSQL backend for the ledger, for deployments
// where several processes share one database.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds pool settings.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns pool defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store is the PostgreSQL backend. Aggregate rows are locked with
// SELECT ... FOR UPDATE inside transactions and every update is also
// checked against the row version.
type Store struct {
	pool *pgxpool.Pool
}

// New connects, pings and migrates the database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
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
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool returns the underlying pool for maintenance queries.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		slog.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// WithinTx runs fn in one read-committed transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ledger.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *Store) GetAggregate(ctx context.Context, profileID string, topicID int64) (model.AggregateEntry, error) {
	return getAggregate(ctx, s.pool, profileID, topicID, false)
}

func (s *Store) ListAggregates(ctx context.Context, profileID string) ([]model.AggregateEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+aggregateColumns+` FROM topic_aggregates WHERE profile_id = $1 ORDER BY topic_id`,
		profileID,
	)
	if err != nil {
		return nil, classify("list aggregates", err)
	}
	defer rows.Close()

	var entries []model.AggregateEntry
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, classify("list aggregates", err)
		}
		entries = append(entries, a)
	}
	return entries, classify("list aggregates", rows.Err())
}

func (s *Store) ListHistory(ctx context.Context, profileID string, topicID int64) ([]model.HistoryRecord, error) {
	return listHistory(ctx, s.pool, profileID, topicID)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const aggregateColumns = `profile_id, topic_id, discipline, topic_text, theory_done,
	total_questions, total_correct, percentage, tier, last_measured, version`

func scanAggregate(row pgx.Row) (model.AggregateEntry, error) {
	var a model.AggregateEntry
	var tier string
	var last *time.Time
	err := row.Scan(&a.ProfileID, &a.TopicID, &a.Discipline, &a.Topic, &a.TheoryDone,
		&a.TotalQuestions, &a.TotalCorrect, &a.Percentage, &tier, &last, &a.Version)
	if err != nil {
		return a, err
	}
	a.Tier = model.MasteryTier(tier)
	if last != nil {
		d := model.Day(*last)
		a.LastMeasuredDate = &d
	}
	return a, nil
}

func getAggregate(ctx context.Context, q querier, profileID string, topicID int64, lock bool) (model.AggregateEntry, error) {
	query := `SELECT ` + aggregateColumns + ` FROM topic_aggregates WHERE profile_id = $1 AND topic_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	a, err := scanAggregate(q.QueryRow(ctx, query, profileID, topicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ledger.NotFound("get aggregate", "topic %d in profile %s", topicID, profileID)
	}
	return a, classify("get aggregate", err)
}

const historyColumns = `seq, record_id, profile_id, topic_id, session_date, attempted, correct, percentage, created_at`

func scanHistory(row pgx.Row) (model.HistoryRecord, error) {
	var r model.HistoryRecord
	err := row.Scan(&r.Sequence, &r.ID, &r.ProfileID, &r.TopicID, &r.Date,
		&r.Attempted, &r.Correct, &r.Percentage, &r.CreatedAt)
	r.Date = model.Day(r.Date)
	return r, err
}

func listHistory(ctx context.Context, q querier, profileID string, topicID int64) ([]model.HistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM history_records WHERE profile_id = $1`
	args := []any{profileID}
	if topicID > 0 {
		query += ` AND topic_id = $2`
		args = append(args, topicID)
	}
	query += ` ORDER BY seq`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list history", err)
	}
	defer rows.Close()

	var records []model.HistoryRecord
	for rows.Next() {
		r, err := scanHistory(rows)
		if err != nil {
			return nil, classify("list history", err)
		}
		records = append(records, r)
	}
	return records, classify("list history", rows.Err())
}

// classify maps PostgreSQL errors onto ledger error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return ledger.Conflict(op, err)
		case "23505": // unique_violation
			return &ledger.Error{Op: op, Kind: ledger.ErrAlreadyExists, Err: err}
		case "23503": // foreign_key_violation
			return &ledger.Error{Op: op, Kind: ledger.ErrNotFound, Err: err}
		case "23502", "23514": // not_null_violation, check_violation
			return &ledger.Error{Op: op, Kind: ledger.ErrInvalidInput, Err: err}
		}
	}
	return ledger.Storage(op, err)
}
