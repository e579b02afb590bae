package ledger

import (
	"context"

	"github.com/pavelanni/studyledger/internal/model"
)

// Repository is the transactional store behind the engine. Every method is
// scoped to one profile partition.
type Repository interface {
	// WithinTx runs fn in a single atomic transaction. The transaction is
	// rolled back if fn returns an error, panics or ctx ends before commit.
	WithinTx(ctx context.Context, fn func(Tx) error) error

	GetAggregate(ctx context.Context, profileID string, topicID int64) (model.AggregateEntry, error)
	// ListAggregates returns every topic ordered by id ascending.
	ListAggregates(ctx context.Context, profileID string) ([]model.AggregateEntry, error)
	// ListHistory returns live records in apply order. topicID 0 means all topics.
	ListHistory(ctx context.Context, profileID string, topicID int64) ([]model.HistoryRecord, error)
}

// Tx is the view of the store inside one transaction.
type Tx interface {
	ProfileExists(ctx context.Context, profileID string) (bool, error)
	CountTopics(ctx context.Context, profileID string) (int, error)
	InsertTopic(ctx context.Context, entry model.AggregateEntry) error

	GetAggregate(ctx context.Context, profileID string, topicID int64) (model.AggregateEntry, error)
	// UpdateAggregate writes entry only if the stored version still equals
	// expectedVersion, failing with ErrConflict otherwise.
	UpdateAggregate(ctx context.Context, entry model.AggregateEntry, expectedVersion int64) error

	// InsertHistory stores rec and returns it with its apply sequence set.
	InsertHistory(ctx context.Context, rec model.HistoryRecord) (model.HistoryRecord, error)
	GetHistory(ctx context.Context, profileID, recordID string) (model.HistoryRecord, error)
	DeleteHistory(ctx context.Context, profileID, recordID string) error
	// TopicHistory returns the topic's live records in apply order.
	TopicHistory(ctx context.Context, profileID string, topicID int64) ([]model.HistoryRecord, error)
}

// Observer is notified after a mutation of a topic has committed.
type Observer interface {
	LedgerChanged(ctx context.Context, profileID string, topicID int64)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, profileID string, topicID int64)

func (f ObserverFunc) LedgerChanged(ctx context.Context, profileID string, topicID int64) {
	f(ctx, profileID, topicID)
}
