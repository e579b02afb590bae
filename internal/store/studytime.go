package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/studyledger/internal/model"
)

func (s *Store) AddStudyTime(ctx context.Context, e model.StudyTimeEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO study_time (id, profile_id, discipline, study_date, minutes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProfileID, e.Discipline, formatDate(e.Date), e.Minutes, e.CreatedAt,
	)
	return classify("add study time", err)
}

func (s *Store) ListStudyTime(ctx context.Context, profileID string) ([]model.StudyTimeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile_id, discipline, study_date, minutes, created_at
		 FROM study_time WHERE profile_id = ? ORDER BY study_date, created_at`,
		profileID,
	)
	if err != nil {
		return nil, classify("list study time", err)
	}
	defer rows.Close()

	var entries []model.StudyTimeEntry
	for rows.Next() {
		var e model.StudyTimeEntry
		var date string
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.Discipline, &date, &e.Minutes, &e.CreatedAt); err != nil {
			return nil, classify("list study time", err)
		}
		if e.Date, err = model.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse study date %q: %w", date, err)
		}
		entries = append(entries, e)
	}
	return entries, classify("list study time", rows.Err())
}
