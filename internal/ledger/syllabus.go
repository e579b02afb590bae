package ledger

import (
	"context"
	"strings"

	"github.com/pavelanni/studyledger/internal/model"
)

// SyllabusEntry is one imported line of the syllabus.
type SyllabusEntry struct {
	Discipline string `json:"discipline" validate:"required"`
	Topic      string `json:"topic" validate:"required"`
}

// InitializeTopic creates the all-zero aggregate for topic id, which must be
// the next id in the profile's sequence.
func (e *Engine) InitializeTopic(ctx context.Context, profileID string, id int64, discipline, text string) (model.AggregateEntry, error) {
	const op = "initialize topic"
	if strings.TrimSpace(profileID) == "" {
		return model.AggregateEntry{}, Invalid(op, "profile id is required")
	}
	if id <= 0 {
		return model.AggregateEntry{}, Invalid(op, "topic id must be positive, got %d", id)
	}

	var entry model.AggregateEntry
	err := e.retry(ctx, op, func() error {
		return e.repo.WithinTx(ctx, func(tx Tx) error {
			if err := requireProfile(ctx, tx, op, profileID); err != nil {
				return err
			}
			count, err := tx.CountTopics(ctx, profileID)
			if err != nil {
				return err
			}
			switch want := int64(count) + 1; {
			case id < want:
				return NewError(op, ErrAlreadyExists, "topic %d already exists", id)
			case id > want:
				return Invalid(op, "topic ids are sequential: next is %d, got %d", want, id)
			}
			entry, err = initializeTopic(ctx, tx, op, profileID, id, discipline, text)
			return err
		})
	})
	if err != nil {
		return model.AggregateEntry{}, err
	}
	e.notify(ctx, profileID, id)
	return entry, nil
}

// ImportSyllabus seeds a profile's topics with ids 1..N in input order. A
// profile that already has topics is refused with ErrAlreadyInitialized.
func (e *Engine) ImportSyllabus(ctx context.Context, profileID string, entries []SyllabusEntry) ([]model.AggregateEntry, error) {
	const op = "import syllabus"
	if strings.TrimSpace(profileID) == "" {
		return nil, Invalid(op, "profile id is required")
	}
	if len(entries) == 0 {
		return nil, Invalid(op, "syllabus is empty")
	}
	for i, s := range entries {
		if strings.TrimSpace(s.Discipline) == "" || strings.TrimSpace(s.Topic) == "" {
			return nil, Invalid(op, "entry %d needs both discipline and topic", i+1)
		}
	}

	var created []model.AggregateEntry
	err := e.retry(ctx, op, func() error {
		created = created[:0]
		return e.repo.WithinTx(ctx, func(tx Tx) error {
			if err := requireProfile(ctx, tx, op, profileID); err != nil {
				return err
			}
			count, err := tx.CountTopics(ctx, profileID)
			if err != nil {
				return err
			}
			if count > 0 {
				return NewError(op, ErrAlreadyInitialized, "profile %s already has %d topics", profileID, count)
			}
			for i, s := range entries {
				entry, err := initializeTopic(ctx, tx, op, profileID, int64(i+1), s.Discipline, s.Topic)
				if err != nil {
					return err
				}
				created = append(created, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("imported syllabus", "profile", profileID, "topics", len(created))
	e.notify(ctx, profileID, 0)
	return created, nil
}

// initializeTopic is the only constructor of AggregateEntry rows.
func initializeTopic(ctx context.Context, tx Tx, op, profileID string, id int64, discipline, text string) (model.AggregateEntry, error) {
	discipline = strings.TrimSpace(discipline)
	text = strings.TrimSpace(text)
	if discipline == "" || text == "" {
		return model.AggregateEntry{}, Invalid(op, "topic %d needs both discipline and text", id)
	}
	entry := model.AggregateEntry{
		ProfileID:  profileID,
		TopicID:    id,
		Discipline: discipline,
		Topic:      text,
		Tier:       model.TierNotMeasured,
	}
	if err := tx.InsertTopic(ctx, entry); err != nil {
		return model.AggregateEntry{}, err
	}
	return entry, nil
}

func requireProfile(ctx context.Context, tx Tx, op, profileID string) error {
	ok, err := tx.ProfileExists(ctx, profileID)
	if err != nil {
		return err
	}
	if !ok {
		return NotFound(op, "profile %s", profileID)
	}
	return nil
}
