package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite backend. All access goes through one connection, so
// transactions are serialized and BEGIN takes the write lock immediately.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the database location: $STUDYLEDGER_DB if set, else
// $XDG_DATA_HOME/studyledger/studyledger.db, else ~/.local/share/studyledger/studyledger.db.
func DefaultDBPath() string {
	if p := os.Getenv("STUDYLEDGER_DB"); p != "" {
		return p
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "studyledger.db"
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "studyledger", "studyledger.db")
}

// New opens (creating if needed) the database at dbPath and applies migrations.
func New(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(normal)" +
		"&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle for maintenance queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
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

// WithinTx runs fn inside one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *Store) GetAggregate(ctx context.Context, profileID string, topicID int64) (model.AggregateEntry, error) {
	return getAggregate(ctx, s.db, profileID, topicID)
}

func (s *Store) ListAggregates(ctx context.Context, profileID string) ([]model.AggregateEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+aggregateColumns+` FROM topic_aggregates WHERE profile_id = ? ORDER BY topic_id`,
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
	return listHistory(ctx, s.db, profileID, topicID)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const aggregateColumns = `profile_id, topic_id, discipline, topic_text, theory_done,
	total_questions, total_correct, percentage, tier, last_measured, version`

func scanAggregate(row rowScanner) (model.AggregateEntry, error) {
	var a model.AggregateEntry
	var last sql.NullString
	err := row.Scan(&a.ProfileID, &a.TopicID, &a.Discipline, &a.Topic, &a.TheoryDone,
		&a.TotalQuestions, &a.TotalCorrect, &a.Percentage, &a.Tier, &last, &a.Version)
	if err != nil {
		return a, err
	}
	if last.Valid {
		d, err := model.ParseDate(last.String)
		if err != nil {
			return a, fmt.Errorf("parse last measured date %q: %w", last.String, err)
		}
		a.LastMeasuredDate = &d
	}
	return a, nil
}

func getAggregate(ctx context.Context, q queryer, profileID string, topicID int64) (model.AggregateEntry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM topic_aggregates WHERE profile_id = ? AND topic_id = ?`,
		profileID, topicID,
	)
	a, err := scanAggregate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ledger.NotFound("get aggregate", "topic %d in profile %s", topicID, profileID)
	}
	return a, classify("get aggregate", err)
}

const historyColumns = `seq, record_id, profile_id, topic_id, session_date, attempted, correct, percentage, created_at`

func scanHistory(row rowScanner) (model.HistoryRecord, error) {
	var r model.HistoryRecord
	var date string
	err := row.Scan(&r.Sequence, &r.ID, &r.ProfileID, &r.TopicID, &date,
		&r.Attempted, &r.Correct, &r.Percentage, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	r.Date, err = model.ParseDate(date)
	if err != nil {
		return r, fmt.Errorf("parse session date %q: %w", date, err)
	}
	return r, nil
}

func listHistory(ctx context.Context, q queryer, profileID string, topicID int64) ([]model.HistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM history_records WHERE profile_id = ?`
	args := []any{profileID}
	if topicID > 0 {
		query += ` AND topic_id = ?`
		args = append(args, topicID)
	}
	query += ` ORDER BY seq`

	rows, err := q.QueryContext(ctx, query, args...)
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

func formatDate(t time.Time) string {
	return model.Day(t).Format(model.DateLayout)
}

// classify maps driver errors onto ledger error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch code := se.Code(); {
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return ledger.Conflict(op, err)
		case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, code == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			strings.Contains(se.Error(), "UNIQUE constraint failed"):
			return &ledger.Error{Op: op, Kind: ledger.ErrAlreadyExists, Err: err}
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
			strings.Contains(se.Error(), "FOREIGN KEY constraint failed"):
			return &ledger.Error{Op: op, Kind: ledger.ErrNotFound, Err: err}
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			return &ledger.Error{Op: op, Kind: ledger.ErrInvalidInput, Err: err}
		}
	}
	return ledger.Storage(op, err)
}
