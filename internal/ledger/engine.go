// Package ledger keeps per-topic performance aggregates equal to the fold of
// their live practice-session history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/studyledger/internal/mastery"
	"github.com/pavelanni/studyledger/internal/model"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 10 * time.Millisecond
)

// ApplyInput is one practice session result for one topic.
type ApplyInput struct {
	TopicID   int64
	Date      time.Time
	Attempted int
	Correct   int
}

// SessionResult is one topic's result inside a batch sharing a date.
type SessionResult struct {
	TopicID   int64 `json:"topic_id" validate:"gt=0"`
	Attempted int   `json:"attempted" validate:"gt=0"`
	Correct   int   `json:"correct" validate:"gte=0,ltefield=Attempted"`
}

// ApplyResult is the aggregate after an Apply and the record it created.
type ApplyResult struct {
	Aggregate model.AggregateEntry `json:"aggregate"`
	Record    model.HistoryRecord  `json:"record"`
}

// RetractResult is the aggregate after a Retract and the record it removed.
type RetractResult struct {
	Aggregate model.AggregateEntry `json:"aggregate"`
	Record    model.HistoryRecord  `json:"record"`
}

// Engine orchestrates apply and retract against a Repository.
type Engine struct {
	repo        Repository
	now         func() time.Time
	maxAttempts int
	baseDelay   time.Duration
	log         *slog.Logger
	metrics     *Metrics
	observers   []Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to reject future-dated sessions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRetry bounds conflict retries. Values below 1 keep the defaults.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			e.baseDelay = baseDelay
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithObserver adds an observer notified after every committed mutation.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// NewEngine creates an Engine over repo.
func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:        repo,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply records one session and folds it into the topic's aggregate. Both
// writes commit together or not at all.
func (e *Engine) Apply(ctx context.Context, profileID string, in ApplyInput) (ApplyResult, error) {
	const op = "apply"
	start := time.Now()

	if err := e.validateApply(op, profileID, in); err != nil {
		e.metrics.observe(op, err, start)
		return ApplyResult{}, err
	}

	var res ApplyResult
	err := e.retry(ctx, op, func() error {
		return e.repo.WithinTx(ctx, func(tx Tx) error {
			var err error
			res, err = e.applyTx(ctx, tx, op, profileID, in)
			return err
		})
	})
	e.metrics.observe(op, err, start)
	if err != nil {
		return ApplyResult{}, err
	}

	e.logApplied(profileID, res)
	e.notify(ctx, profileID, in.TopicID)
	return res, nil
}

// ApplyBatch validates every result, then applies them all in one
// transaction. An unknown topic or any other failure leaves the ledger
// untouched and no results are returned.
func (e *Engine) ApplyBatch(ctx context.Context, profileID string, date time.Time, results []SessionResult) ([]ApplyResult, error) {
	const op = "apply batch"
	start := time.Now()

	if len(results) == 0 {
		err := Invalid(op, "no results")
		e.metrics.observe(op, err, start)
		return nil, err
	}
	inputs := make([]ApplyInput, len(results))
	for i, r := range results {
		inputs[i] = ApplyInput{TopicID: r.TopicID, Date: date, Attempted: r.Attempted, Correct: r.Correct}
		if err := e.validateApply(op, profileID, inputs[i]); err != nil {
			e.metrics.observe(op, err, start)
			return nil, fmt.Errorf("result %d: %w", i+1, err)
		}
	}

	var applied []ApplyResult
	err := e.retry(ctx, op, func() error {
		applied = make([]ApplyResult, 0, len(inputs))
		return e.repo.WithinTx(ctx, func(tx Tx) error {
			// Every topic must exist before the first write.
			for i, in := range inputs {
				if _, err := tx.GetAggregate(ctx, profileID, in.TopicID); err != nil {
					if errors.Is(err, ErrNotFound) {
						err = &Error{Op: op, Kind: ErrInvalidInput, Message: fmt.Sprintf("unknown topic %d", in.TopicID), Err: err}
					}
					return fmt.Errorf("result %d: %w", i+1, err)
				}
			}
			for i, in := range inputs {
				res, err := e.applyTx(ctx, tx, op, profileID, in)
				if err != nil {
					return fmt.Errorf("result %d (topic %d): %w", i+1, in.TopicID, err)
				}
				applied = append(applied, res)
			}
			return nil
		})
	})
	e.metrics.observe(op, err, start)
	if err != nil {
		return nil, err
	}

	notified := make(map[int64]bool, len(applied))
	for _, res := range applied {
		e.logApplied(profileID, res)
		if !notified[res.Record.TopicID] {
			notified[res.Record.TopicID] = true
			e.notify(ctx, profileID, res.Record.TopicID)
		}
	}
	return applied, nil
}

// applyTx folds one session into its aggregate and records it inside tx.
// The aggregate is re-read each time so repeated topics chain versions.
func (e *Engine) applyTx(ctx context.Context, tx Tx, op, profileID string, in ApplyInput) (ApplyResult, error) {
	cur, err := tx.GetAggregate(ctx, profileID, in.TopicID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ApplyResult{}, &Error{Op: op, Kind: ErrInvalidInput, Message: fmt.Sprintf("unknown topic %d", in.TopicID), Err: err}
		}
		return ApplyResult{}, err
	}

	day := model.Day(in.Date)
	next := cur
	next.TotalQuestions += in.Attempted
	next.TotalCorrect += in.Correct
	next.LastMeasuredDate = &day
	derive(&next)

	if err := tx.UpdateAggregate(ctx, next, cur.Version); err != nil {
		return ApplyResult{}, err
	}
	next.Version = cur.Version + 1

	rec, err := tx.InsertHistory(ctx, model.HistoryRecord{
		ID:         uuid.NewString(),
		ProfileID:  profileID,
		TopicID:    in.TopicID,
		Date:       day,
		Attempted:  in.Attempted,
		Correct:    in.Correct,
		Percentage: mastery.Percentage(in.Correct, in.Attempted),
		CreatedAt:  e.now().UTC(),
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Aggregate: next, Record: rec}, nil
}

func (e *Engine) logApplied(profileID string, res ApplyResult) {
	e.log.Debug("applied session",
		"profile", profileID,
		"topic", res.Record.TopicID,
		"record", res.Record.ID,
		"total_questions", res.Aggregate.TotalQuestions,
		"tier", res.Aggregate.Tier,
	)
}

// Retract removes one session and subtracts it from its topic's aggregate.
// If the aggregate cannot absorb the record it fails with
// ErrConsistencyViolation and changes nothing; Reconcile repairs the topic.
func (e *Engine) Retract(ctx context.Context, profileID, recordID string) (RetractResult, error) {
	const op = "retract"
	start := time.Now()

	if strings.TrimSpace(profileID) == "" || strings.TrimSpace(recordID) == "" {
		err := Invalid(op, "profile and record id are required")
		e.metrics.observe(op, err, start)
		return RetractResult{}, err
	}

	var res RetractResult
	err := e.retry(ctx, op, func() error {
		return e.repo.WithinTx(ctx, func(tx Tx) error {
			rec, err := tx.GetHistory(ctx, profileID, recordID)
			if err != nil {
				return err
			}
			cur, err := tx.GetAggregate(ctx, profileID, rec.TopicID)
			if err != nil {
				return err
			}

			next := cur
			next.TotalQuestions -= rec.Attempted
			next.TotalCorrect -= rec.Correct
			if next.TotalQuestions < 0 || next.TotalCorrect < 0 || next.TotalCorrect > next.TotalQuestions {
				return NewError(op, ErrConsistencyViolation,
					"topic %d holds %d/%d and cannot absorb record %s (%d/%d)",
					cur.TopicID, cur.TotalCorrect, cur.TotalQuestions, rec.ID, rec.Correct, rec.Attempted)
			}

			if err := tx.DeleteHistory(ctx, profileID, recordID); err != nil {
				return err
			}
			remaining, err := tx.TopicHistory(ctx, profileID, rec.TopicID)
			if err != nil {
				return err
			}
			next.LastMeasuredDate = lastApplied(remaining)
			derive(&next)

			if err := tx.UpdateAggregate(ctx, next, cur.Version); err != nil {
				return err
			}
			next.Version = cur.Version + 1

			res = RetractResult{Aggregate: next, Record: rec}
			return nil
		})
	})
	e.metrics.observe(op, err, start)
	if err != nil {
		if errors.Is(err, ErrConsistencyViolation) {
			e.metrics.violation()
			e.log.Warn("aggregate out of sync with history", "profile", profileID, "record", recordID, "error", err)
		}
		return RetractResult{}, err
	}

	e.log.Debug("retracted session",
		"profile", profileID,
		"topic", res.Record.TopicID,
		"record", recordID,
		"total_questions", res.Aggregate.TotalQuestions,
		"tier", res.Aggregate.Tier,
	)
	e.notify(ctx, profileID, res.Record.TopicID)
	return res, nil
}

// GetAggregate returns one topic's aggregate.
func (e *Engine) GetAggregate(ctx context.Context, profileID string, topicID int64) (model.AggregateEntry, error) {
	return e.repo.GetAggregate(ctx, profileID, topicID)
}

// ListAggregates returns every topic of the profile ordered by id.
func (e *Engine) ListAggregates(ctx context.Context, profileID string) ([]model.AggregateEntry, error) {
	return e.repo.ListAggregates(ctx, profileID)
}

// ListHistory returns live records, optionally for one topic (0 = all).
func (e *Engine) ListHistory(ctx context.Context, profileID string, topicID int64) ([]model.HistoryRecord, error) {
	if topicID < 0 {
		return nil, Invalid("list history", "topic id must not be negative")
	}
	return e.repo.ListHistory(ctx, profileID, topicID)
}

// ToggleTheory sets the theory flag of one topic.
func (e *Engine) ToggleTheory(ctx context.Context, profileID string, topicID int64, done bool) (model.AggregateEntry, error) {
	const op = "toggle theory"
	var out model.AggregateEntry
	err := e.retry(ctx, op, func() error {
		return e.repo.WithinTx(ctx, func(tx Tx) error {
			entry, err := setTheory(ctx, tx, profileID, topicID, done)
			out = entry
			return err
		})
	})
	if err != nil {
		return model.AggregateEntry{}, err
	}
	e.notify(ctx, profileID, topicID)
	return out, nil
}

// SetTheory sets the theory flag of several topics in one transaction.
func (e *Engine) SetTheory(ctx context.Context, profileID string, topicIDs []int64, done bool) ([]model.AggregateEntry, error) {
	const op = "set theory"
	if len(topicIDs) == 0 {
		return nil, Invalid(op, "no topics")
	}
	var out []model.AggregateEntry
	err := e.retry(ctx, op, func() error {
		out = out[:0]
		return e.repo.WithinTx(ctx, func(tx Tx) error {
			for _, id := range topicIDs {
				entry, err := setTheory(ctx, tx, profileID, id, done)
				if err != nil {
					return err
				}
				out = append(out, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, id := range topicIDs {
		e.notify(ctx, profileID, id)
	}
	return out, nil
}

func setTheory(ctx context.Context, tx Tx, profileID string, topicID int64, done bool) (model.AggregateEntry, error) {
	cur, err := tx.GetAggregate(ctx, profileID, topicID)
	if err != nil {
		return model.AggregateEntry{}, err
	}
	if cur.TheoryDone == done {
		return cur, nil
	}
	next := cur
	next.TheoryDone = done
	if err := tx.UpdateAggregate(ctx, next, cur.Version); err != nil {
		return model.AggregateEntry{}, err
	}
	next.Version = cur.Version + 1
	return next, nil
}

func (e *Engine) validateApply(op, profileID string, in ApplyInput) error {
	switch {
	case strings.TrimSpace(profileID) == "":
		return Invalid(op, "profile id is required")
	case in.TopicID <= 0:
		return Invalid(op, "topic id must be positive, got %d", in.TopicID)
	case in.Attempted <= 0:
		return Invalid(op, "questions attempted must be positive, got %d", in.Attempted)
	case in.Correct < 0 || in.Correct > in.Attempted:
		return Invalid(op, "questions correct must be between 0 and %d, got %d", in.Attempted, in.Correct)
	case in.Date.IsZero():
		return Invalid(op, "date is required")
	case model.Day(in.Date).After(model.Day(e.now())):
		return Invalid(op, "date %s is in the future", in.Date.Format(model.DateLayout))
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, profileID string, topicID int64) {
	for _, o := range e.observers {
		o.LedgerChanged(ctx, profileID, topicID)
	}
}

// derive recomputes percentage and tier from the totals.
func derive(a *model.AggregateEntry) {
	a.Percentage = mastery.Percentage(a.TotalCorrect, a.TotalQuestions)
	a.Tier = mastery.TierFor(a.TotalCorrect, a.TotalQuestions)
}

// lastApplied returns the date of the record with the highest sequence.
func lastApplied(records []model.HistoryRecord) *time.Time {
	var last *model.HistoryRecord
	for i := range records {
		if last == nil || records[i].Sequence > last.Sequence {
			last = &records[i]
		}
	}
	if last == nil {
		return nil
	}
	d := model.Day(last.Date)
	return &d
}
