package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

// pgTx implements ledger.Tx over one pgx.Tx.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ProfileExists(ctx context.Context, profileID string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, profileID).Scan(&ok)
	return ok, classify("profile exists", err)
}

func (t *pgTx) CountTopics(ctx context.Context, profileID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM topic_aggregates WHERE profile_id = $1`, profileID).Scan(&n)
	return n, classify("count topics", err)
}

func (t *pgTx) InsertTopic(ctx context.Context, e model.AggregateEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO topic_aggregates (profile_id, topic_id, discipline, topic_text, tier)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ProfileID, e.TopicID, e.Discipline, e.Topic, string(e.Tier),
	)
	return classify("insert topic", err)
}

// GetAggregate locks the row until the transaction ends.
func (t *pgTx) GetAggregate(ctx context.Context, profileID string, topicID int64) (model.AggregateEntry, error) {
	return getAggregate(ctx, t.tx, profileID, topicID, true)
}

func (t *pgTx) UpdateAggregate(ctx context.Context, e model.AggregateEntry, expectedVersion int64) error {
	var last *time.Time
	if e.LastMeasuredDate != nil {
		d := model.Day(*e.LastMeasuredDate)
		last = &d
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE topic_aggregates
		 SET theory_done = $1, total_questions = $2, total_correct = $3, percentage = $4,
		     tier = $5, last_measured = $6, version = version + 1
		 WHERE profile_id = $7 AND topic_id = $8 AND version = $9`,
		e.TheoryDone, e.TotalQuestions, e.TotalCorrect, e.Percentage,
		string(e.Tier), last,
		e.ProfileID, e.TopicID, expectedVersion,
	)
	if err != nil {
		return classify("update aggregate", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.Conflict("update aggregate", errors.New("aggregate version changed"))
	}
	return nil
}

func (t *pgTx) InsertHistory(ctx context.Context, r model.HistoryRecord) (model.HistoryRecord, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO history_records (record_id, profile_id, topic_id, session_date, attempted, correct, percentage, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING seq`,
		r.ID, r.ProfileID, r.TopicID, model.Day(r.Date), r.Attempted, r.Correct, r.Percentage, r.CreatedAt,
	).Scan(&r.Sequence)
	return r, classify("insert history", err)
}

// GetHistory locks the record so a concurrent retract of it waits and then
// finds it gone.
func (t *pgTx) GetHistory(ctx context.Context, profileID, recordID string) (model.HistoryRecord, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+historyColumns+` FROM history_records WHERE profile_id = $1 AND record_id = $2 FOR UPDATE`,
		profileID, recordID,
	)
	r, err := scanHistory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, ledger.NotFound("get history", "record %s in profile %s", recordID, profileID)
	}
	return r, classify("get history", err)
}

func (t *pgTx) DeleteHistory(ctx context.Context, profileID, recordID string) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM history_records WHERE profile_id = $1 AND record_id = $2`,
		profileID, recordID,
	)
	if err != nil {
		return classify("delete history", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.NotFound("delete history", "record %s in profile %s", recordID, profileID)
	}
	return nil
}

func (t *pgTx) TopicHistory(ctx context.Context, profileID string, topicID int64) ([]model.HistoryRecord, error) {
	return listHistory(ctx, t.tx, profileID, topicID)
}
