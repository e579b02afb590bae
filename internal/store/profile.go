package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

func (s *Store) CreateProfile(ctx context.Context, p model.Profile) error {
	structure, err := json.Marshal(p.Structure)
	if err != nil {
		return fmt.Errorf("marshal exam structure: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, role, year, status, final_score, exam_structure, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Role, p.Year, p.Status, p.FinalScore, string(structure), p.CreatedAt,
	)
	if err != nil {
		err = classify("create profile", err)
		if errors.Is(err, ledger.ErrAlreadyExists) {
			return ledger.NewError("create profile", ledger.ErrAlreadyExists, "profile %s already exists", p.ID)
		}
	}
	return err
}

const profileColumns = `id, name, role, year, status, final_score, exam_structure, created_at`

func scanProfile(row rowScanner) (model.Profile, error) {
	var p model.Profile
	var score sql.NullFloat64
	var structure string
	if err := row.Scan(&p.ID, &p.Name, &p.Role, &p.Year, &p.Status, &score, &structure, &p.CreatedAt); err != nil {
		return p, err
	}
	if score.Valid {
		p.FinalScore = &score.Float64
	}
	if err := json.Unmarshal([]byte(structure), &p.Structure); err != nil {
		return p, fmt.Errorf("parse exam structure of %s: %w", p.ID, err)
	}
	if p.Structure == nil {
		p.Structure = model.ExamStructure{}
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (model.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ledger.NotFound("get profile", "profile %s", id)
	}
	return p, classify("get profile", err)
}

func (s *Store) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
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

func (s *Store) UpdateProfile(ctx context.Context, id string, mutate func(*model.Profile)) (model.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Profile{}, classify("begin transaction", err)
	}
	defer tx.Rollback()

	p, err := scanProfile(tx.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ledger.NotFound("update profile", "profile %s", id)
	}
	if err != nil {
		return model.Profile{}, classify("update profile", err)
	}
	mutate(&p)

	structure, err := json.Marshal(p.Structure)
	if err != nil {
		return model.Profile{}, fmt.Errorf("marshal exam structure: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET status = ?, final_score = ?, exam_structure = ? WHERE id = ?`,
		p.Status, p.FinalScore, string(structure), id,
	); err != nil {
		return model.Profile{}, classify("update profile", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Profile{}, classify("commit", err)
	}
	return p, nil
}

func (s *Store) Disciplines(ctx context.Context, profileID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT discipline FROM topic_aggregates WHERE profile_id = ? ORDER BY discipline`,
		profileID,
	)
	if err != nil {
		return nil, classify("list disciplines", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, classify("list disciplines", err)
		}
		out = append(out, d)
	}
	return out, classify("list disciplines", rows.Err())
}
