package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

// sqliteTx implements ledger.Tx over one *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) ProfileExists(ctx context.Context, profileID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE id = ?`, profileID).Scan(&n)
	if err != nil {
		return false, classify("profile exists", err)
	}
	return n > 0, nil
}

func (t *sqliteTx) CountTopics(ctx context.Context, profileID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM topic_aggregates WHERE profile_id = ?`, profileID).Scan(&n)
	if err != nil {
		return 0, classify("count topics", err)
	}
	return n, nil
}

func (t *sqliteTx) InsertTopic(ctx context.Context, e model.AggregateEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO topic_aggregates (profile_id, topic_id, discipline, topic_text, tier)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ProfileID, e.TopicID, e.Discipline, e.Topic, e.Tier,
	)
	return classify("insert topic", err)
}

func (t *sqliteTx) GetAggregate(ctx context.Context, profileID string, topicID int64) (model.AggregateEntry, error) {
	return getAggregate(ctx, t.tx, profileID, topicID)
}

func (t *sqliteTx) UpdateAggregate(ctx context.Context, e model.AggregateEntry, expectedVersion int64) error {
	var last any
	if e.LastMeasuredDate != nil {
		last = formatDate(*e.LastMeasuredDate)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE topic_aggregates
		 SET theory_done = ?, total_questions = ?, total_correct = ?, percentage = ?,
		     tier = ?, last_measured = ?, version = version + 1
		 WHERE profile_id = ? AND topic_id = ? AND version = ?`,
		e.TheoryDone, e.TotalQuestions, e.TotalCorrect, e.Percentage,
		e.Tier, last,
		e.ProfileID, e.TopicID, expectedVersion,
	)
	if err != nil {
		return classify("update aggregate", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update aggregate", err)
	}
	if n == 0 {
		return ledger.Conflict("update aggregate", errors.New("aggregate version changed"))
	}
	return nil
}

func (t *sqliteTx) InsertHistory(ctx context.Context, r model.HistoryRecord) (model.HistoryRecord, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO history_records (record_id, profile_id, topic_id, session_date, attempted, correct, percentage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProfileID, r.TopicID, formatDate(r.Date), r.Attempted, r.Correct, r.Percentage, r.CreatedAt,
	)
	if err != nil {
		return r, classify("insert history", err)
	}
	r.Sequence, err = res.LastInsertId()
	if err != nil {
		return r, classify("insert history", err)
	}
	return r, nil
}

func (t *sqliteTx) GetHistory(ctx context.Context, profileID, recordID string) (model.HistoryRecord, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM history_records WHERE profile_id = ? AND record_id = ?`,
		profileID, recordID,
	)
	r, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ledger.NotFound("get history", "record %s in profile %s", recordID, profileID)
	}
	return r, classify("get history", err)
}

func (t *sqliteTx) DeleteHistory(ctx context.Context, profileID, recordID string) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM history_records WHERE profile_id = ? AND record_id = ?`,
		profileID, recordID,
	)
	if err != nil {
		return classify("delete history", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete history", err)
	}
	if n == 0 {
		return ledger.NotFound("delete history", "record %s in profile %s", recordID, profileID)
	}
	return nil
}

func (t *sqliteTx) TopicHistory(ctx context.Context, profileID string, topicID int64) ([]model.HistoryRecord, error) {
	return listHistory(ctx, t.tx, profileID, topicID)
}
