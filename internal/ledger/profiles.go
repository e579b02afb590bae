package ledger

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/studyledger/internal/model"
)

// Study time limits per logged entry.
const (
	MaxStudyMinutes  = 6 * 60
	StudyMinutesStep = 5
)

// ProfileStore persists profiles and their study time log.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p model.Profile) error
	GetProfile(ctx context.Context, id string) (model.Profile, error)
	// ListProfiles returns active profiles first, then archived, each by name.
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	// UpdateProfile reads the profile, applies mutate and writes status,
	// final score and exam structure back, all in one transaction.
	UpdateProfile(ctx context.Context, id string, mutate func(*model.Profile)) (model.Profile, error)
	// Disciplines returns the distinct syllabus disciplines, sorted.
	Disciplines(ctx context.Context, profileID string) ([]string, error)
	AddStudyTime(ctx context.Context, e model.StudyTimeEntry) error
	ListStudyTime(ctx context.Context, profileID string) ([]model.StudyTimeEntry, error)
}

// Profiles manages the profile lifecycle. Profiles are never deleted.
type Profiles struct {
	store ProfileStore
	now   func() time.Time
}

// NewProfiles creates the service. A nil now uses time.Now.
func NewProfiles(store ProfileStore, now func() time.Time) *Profiles {
	if now == nil {
		now = time.Now
	}
	return &Profiles{store: store, now: now}
}

// Create registers an active profile identified by the name_role_year slug.
func (p *Profiles) Create(ctx context.Context, name, role string, year int, structure model.ExamStructure) (model.Profile, error) {
	const op = "create profile"
	name = strings.TrimSpace(name)
	role = strings.TrimSpace(role)
	if name == "" || role == "" {
		return model.Profile{}, Invalid(op, "name and role are required")
	}
	if year < 1900 || year > 9999 {
		return model.Profile{}, Invalid(op, "year %d out of range", year)
	}
	if err := validateStructure(op, structure); err != nil {
		return model.Profile{}, err
	}
	if structure == nil {
		structure = model.ExamStructure{}
	}

	prof := model.Profile{
		ID:        model.ProfileSlug(name, role, year),
		Name:      name,
		Role:      role,
		Year:      year,
		Status:    model.ProfileActive,
		Structure: structure,
		CreatedAt: p.now().UTC(),
	}
	if err := p.store.CreateProfile(ctx, prof); err != nil {
		return model.Profile{}, err
	}
	slog.Info("created profile", "id", prof.ID)
	return prof, nil
}

func (p *Profiles) Get(ctx context.Context, id string) (model.Profile, error) {
	return p.store.GetProfile(ctx, id)
}

func (p *Profiles) List(ctx context.Context) ([]model.Profile, error) {
	return p.store.ListProfiles(ctx)
}

// Archive closes a campaign, optionally recording the real exam score.
func (p *Profiles) Archive(ctx context.Context, id string, finalScore *float64) (model.Profile, error) {
	if finalScore != nil && *finalScore < 0 {
		return model.Profile{}, Invalid("archive profile", "final score must not be negative")
	}
	return p.update(ctx, id, func(prof *model.Profile) {
		prof.Status = model.ProfileArchived
		if finalScore != nil {
			prof.FinalScore = finalScore
		}
	})
}

// Reactivate reopens an archived campaign. The final score is kept.
func (p *Profiles) Reactivate(ctx context.Context, id string) (model.Profile, error) {
	return p.update(ctx, id, func(prof *model.Profile) {
		prof.Status = model.ProfileActive
	})
}

func (p *Profiles) SetFinalScore(ctx context.Context, id string, score float64) (model.Profile, error) {
	if score < 0 {
		return model.Profile{}, Invalid("set final score", "final score must not be negative")
	}
	return p.update(ctx, id, func(prof *model.Profile) {
		prof.FinalScore = &score
	})
}

func (p *Profiles) SetStructure(ctx context.Context, id string, structure model.ExamStructure) (model.Profile, error) {
	if err := validateStructure("set exam structure", structure); err != nil {
		return model.Profile{}, err
	}
	return p.update(ctx, id, func(prof *model.Profile) {
		prof.Structure = structure
	})
}

func (p *Profiles) update(ctx context.Context, id string, mutate func(*model.Profile)) (model.Profile, error) {
	prof, err := p.store.UpdateProfile(ctx, id, mutate)
	if err != nil {
		return model.Profile{}, err
	}
	slog.Info("updated profile", "id", prof.ID, "status", prof.Status)
	return prof, nil
}

// LogStudyTime records net study minutes for one of the profile's disciplines.
func (p *Profiles) LogStudyTime(ctx context.Context, profileID, discipline string, date time.Time, minutes int) (model.StudyTimeEntry, error) {
	const op = "log study time"
	discipline = strings.TrimSpace(discipline)
	switch {
	case minutes <= 0 || minutes > MaxStudyMinutes:
		return model.StudyTimeEntry{}, Invalid(op, "minutes must be between %d and %d, got %d", StudyMinutesStep, MaxStudyMinutes, minutes)
	case minutes%StudyMinutesStep != 0:
		return model.StudyTimeEntry{}, Invalid(op, "minutes must be a multiple of %d, got %d", StudyMinutesStep, minutes)
	case date.IsZero():
		return model.StudyTimeEntry{}, Invalid(op, "date is required")
	case model.Day(date).After(model.Day(p.now())):
		return model.StudyTimeEntry{}, Invalid(op, "date %s is in the future", date.Format(model.DateLayout))
	}

	if _, err := p.store.GetProfile(ctx, profileID); err != nil {
		return model.StudyTimeEntry{}, err
	}
	disciplines, err := p.store.Disciplines(ctx, profileID)
	if err != nil {
		return model.StudyTimeEntry{}, err
	}
	if !slices.Contains(disciplines, discipline) {
		return model.StudyTimeEntry{}, Invalid(op, "discipline %q is not in the syllabus", discipline)
	}

	entry := model.StudyTimeEntry{
		ID:         uuid.NewString(),
		ProfileID:  profileID,
		Discipline: discipline,
		Date:       model.Day(date),
		Minutes:    minutes,
		CreatedAt:  p.now().UTC(),
	}
	if err := p.store.AddStudyTime(ctx, entry); err != nil {
		return model.StudyTimeEntry{}, err
	}
	return entry, nil
}

func (p *Profiles) StudyTime(ctx context.Context, profileID string) ([]model.StudyTimeEntry, error) {
	return p.store.ListStudyTime(ctx, profileID)
}

func validateStructure(op string, s model.ExamStructure) error {
	for name, w := range s {
		switch {
		case strings.TrimSpace(name) == "":
			return Invalid(op, "exam structure has an unnamed discipline")
		case w.Questions < 0:
			return Invalid(op, "discipline %q: question count must not be negative", name)
		case w.Weight <= 0:
			return Invalid(op, "discipline %q: weight must be positive", name)
		}
	}
	return nil
}
