package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/studyledger/internal/model"
)

// Export collects everything stored for one profile.
func Export(ctx context.Context, repo Repository, profiles ProfileStore, profileID string) (model.ProfileExport, error) {
	prof, err := profiles.GetProfile(ctx, profileID)
	if err != nil {
		return model.ProfileExport{}, err
	}
	topics, err := repo.ListAggregates(ctx, profileID)
	if err != nil {
		return model.ProfileExport{}, fmt.Errorf("list aggregates: %w", err)
	}
	history, err := repo.ListHistory(ctx, profileID, 0)
	if err != nil {
		return model.ProfileExport{}, fmt.Errorf("list history: %w", err)
	}
	studyTime, err := profiles.ListStudyTime(ctx, profileID)
	if err != nil {
		return model.ProfileExport{}, fmt.Errorf("list study time: %w", err)
	}
	return model.ProfileExport{
		ExportedAt: time.Now().UTC(),
		Profile:    prof,
		Topics:     topics,
		History:    history,
		StudyTime:  studyTime,
	}, nil
}
