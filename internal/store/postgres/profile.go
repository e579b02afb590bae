package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

func (s *Store) CreateProfile(ctx context.Context, p model.Profile) error {
	structure, err := json.Marshal(p.Structure)
	if err != nil {
		return fmt.Errorf("marshal exam structure: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO profiles (id, name, role, year, status, final_score, exam_structure, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Role, p.Year, string(p.Status), p.FinalScore, structure, p.CreatedAt,
	)
	if err = classify("create profile", err); errors.Is(err, ledger.ErrAlreadyExists) {
		return ledger.NewError("create profile", ledger.ErrAlreadyExists, "profile %s already exists", p.ID)
	}
	return err
}

const profileColumns = `id, name, role, year, status, final_score, exam_structure, created_at`

func scanProfile(row pgx.Row) (model.Profile, error) {
	var p model.Profile
	var status string
	var structure []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Role, &p.Year, &status, &p.FinalScore, &structure, &p.CreatedAt); err != nil {
		return p, err
	}
	p.Status = model.ProfileStatus(status)
	if err := json.Unmarshal(structure, &p.Structure); err != nil {
		return p, fmt.Errorf("parse exam structure of %s: %w", p.ID, err)
	}
	if p.Structure == nil {
		p.Structure = model.ExamStructure{}
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (model.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ledger.NotFound("get profile", "profile %s", id)
	}
	return p, classify("get profile", err)
}

func (s *Store) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM profiles
		 ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END, name, year`)
	if err != nil {
		return nil, classify("list profiles", err)
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, classify("list profiles", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, classify("list profiles", rows.Err())
}

// UpdateProfile locks the profile row for the read-modify-write.
func (s *Store) UpdateProfile(ctx context.Context, id string, mutate func(*model.Profile)) (model.Profile, error) {
	var p model.Profile
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var err error
		p, err = scanProfile(tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.NotFound("update profile", "profile %s", id)
		}
		if err != nil {
			return classify("update profile", err)
		}
		mutate(&p)

		structure, err := json.Marshal(p.Structure)
		if err != nil {
			return fmt.Errorf("marshal exam structure: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE profiles SET status = $1, final_score = $2, exam_structure = $3 WHERE id = $4`,
			string(p.Status), p.FinalScore, structure, id,
		)
		return classify("update profile", err)
	})
	if err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

func (s *Store) Disciplines(ctx context.Context, profileID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT discipline FROM topic_aggregates WHERE profile_id = $1 ORDER BY discipline`,
		profileID,
	)
	if err != nil {
		return nil, classify("list disciplines", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return out, classify("list disciplines", err)
}

func (s *Store) AddStudyTime(ctx context.Context, e model.StudyTimeEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO study_time (id, profile_id, discipline, study_date, minutes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ProfileID, e.Discipline, model.Day(e.Date), e.Minutes, e.CreatedAt,
	)
	return classify("add study time", err)
}

func (s *Store) ListStudyTime(ctx context.Context, profileID string) ([]model.StudyTimeEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, profile_id, discipline, study_date, minutes, created_at
		 FROM study_time WHERE profile_id = $1 ORDER BY study_date, created_at`,
		profileID,
	)
	if err != nil {
		return nil, classify("list study time", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StudyTimeEntry, error) {
		var e model.StudyTimeEntry
		err := row.Scan(&e.ID, &e.ProfileID, &e.Discipline, &e.Date, &e.Minutes, &e.CreatedAt)
		e.Date = model.Day(e.Date)
		return e, err
	})
	return out, classify("list study time", err)
}

func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO metadata (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return classify("set metadata", err)
}

// GetMetadata returns "" for a missing key.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM metadata WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, classify("get metadata", err)
}
