package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/pavelanni/studyledger/internal/model"
)

// Drift describes a topic whose stored aggregate disagrees with its history.
type Drift struct {
	TopicID  int64                `json:"topic_id"`
	Stored   model.AggregateEntry `json:"stored"`
	Expected model.AggregateEntry `json:"expected"`
}

// ReconcileResult reports what Reconcile did to one topic.
type ReconcileResult struct {
	Before  model.AggregateEntry `json:"before"`
	After   model.AggregateEntry `json:"after"`
	Changed bool                 `json:"changed"`
}

// Fold rebuilds base's derived fields from records. Records of other topics
// are ignored. Identity, text, theory flag and version are kept.
func Fold(base model.AggregateEntry, records []model.HistoryRecord) model.AggregateEntry {
	out := base
	out.TotalQuestions = 0
	out.TotalCorrect = 0

	var own []model.HistoryRecord
	for _, r := range records {
		if r.TopicID != base.TopicID {
			continue
		}
		out.TotalQuestions += r.Attempted
		out.TotalCorrect += r.Correct
		own = append(own, r)
	}
	out.LastMeasuredDate = lastApplied(own)
	derive(&out)
	return out
}

// InSync reports whether a and b agree on every folded field.
func InSync(a, b model.AggregateEntry) bool {
	return a.TotalQuestions == b.TotalQuestions &&
		a.TotalCorrect == b.TotalCorrect &&
		a.Percentage == b.Percentage &&
		a.Tier == b.Tier &&
		sameDate(a.LastMeasuredDate, b.LastMeasuredDate)
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return model.Day(*a).Equal(model.Day(*b))
}

// Audit compares every topic of the profile with the fold of its history,
// inside one transaction so the snapshot is consistent.
func (e *Engine) Audit(ctx context.Context, profileID string) ([]Drift, error) {
	const op = "audit"
	var drifts []Drift
	err := e.retry(ctx, op, func() error {
		drifts = drifts[:0]
		return e.repo.WithinTx(ctx, func(tx Tx) error {
			if err := requireProfile(ctx, tx, op, profileID); err != nil {
				return err
			}
			count, err := tx.CountTopics(ctx, profileID)
			if err != nil {
				return err
			}
			for id := int64(1); id <= int64(count); id++ {
				stored, err := tx.GetAggregate(ctx, profileID, id)
				if err != nil {
					return err
				}
				records, err := tx.TopicHistory(ctx, profileID, id)
				if err != nil {
					return err
				}
				if expected := Fold(stored, records); !InSync(stored, expected) {
					drifts = append(drifts, Drift{TopicID: id, Stored: stored, Expected: expected})
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return drifts, nil
}

// Reconcile rewrites one topic's aggregate as the fold of its live history.
func (e *Engine) Reconcile(ctx context.Context, profileID string, topicID int64) (ReconcileResult, error) {
	const op = "reconcile"
	start := time.Now()
	if topicID <= 0 {
		return ReconcileResult{}, Invalid(op, "topic id must be positive, got %d", topicID)
	}

	var res ReconcileResult
	err := e.retry(ctx, op, func() error {
		return e.repo.WithinTx(ctx, func(tx Tx) error {
			cur, err := tx.GetAggregate(ctx, profileID, topicID)
			if err != nil {
				return err
			}
			records, err := tx.TopicHistory(ctx, profileID, topicID)
			if err != nil {
				return err
			}
			next := Fold(cur, records)
			res = ReconcileResult{Before: cur, After: cur}
			if InSync(cur, next) {
				return nil
			}
			if err := tx.UpdateAggregate(ctx, next, cur.Version); err != nil {
				return err
			}
			next.Version = cur.Version + 1
			res.After = next
			res.Changed = true
			return nil
		})
	})
	e.metrics.observe(op, err, start)
	if err != nil {
		return ReconcileResult{}, err
	}

	if res.Changed {
		e.log.Info("reconciled topic",
			"profile", profileID,
			"topic", topicID,
			"before_questions", res.Before.TotalQuestions,
			"before_correct", res.Before.TotalCorrect,
			"after_questions", res.After.TotalQuestions,
			"after_correct", res.After.TotalCorrect,
		)
		e.notify(ctx, profileID, topicID)
	}
	return res, nil
}

// ReconcileAll repairs every drifted topic of the profile.
func (e *Engine) ReconcileAll(ctx context.Context, profileID string) ([]ReconcileResult, error) {
	drifts, err := e.Audit(ctx, profileID)
	if err != nil {
		return nil, err
	}
	results := make([]ReconcileResult, 0, len(drifts))
	for _, d := range drifts {
		res, err := e.Reconcile(ctx, profileID, d.TopicID)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// RetractWithRepair retracts recordID and, if the aggregate turns out to be
// out of sync with history, reconciles the profile and tries once more.
func (e *Engine) RetractWithRepair(ctx context.Context, profileID, recordID string) (RetractResult, []ReconcileResult, error) {
	res, err := e.Retract(ctx, profileID, recordID)
	if !errors.Is(err, ErrConsistencyViolation) {
		return res, nil, err
	}
	repaired, err := e.ReconcileAll(ctx, profileID)
	if err != nil {
		return RetractResult{}, repaired, err
	}
	res, err = e.Retract(ctx, profileID, recordID)
	return res, repaired, err
}
