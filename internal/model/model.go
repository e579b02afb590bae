package model

import (
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// ProfileStatus is the lifecycle state of a study profile.
type ProfileStatus string

const (
	// ProfileActive marks a campaign that is still being studied for.
	ProfileActive ProfileStatus = "active"
	// ProfileArchived marks a finished campaign.
	ProfileArchived ProfileStatus = "archived"
)

// MasteryTier is the discrete classification of a topic's percentage.
type MasteryTier string

const (
	TierNotMeasured       MasteryTier = "not_measured"
	TierNeedsUrgentReview MasteryTier = "needs_urgent_review"
	TierDeveloping        MasteryTier = "developing"
	TierSolid             MasteryTier = "solid"
	TierMastered          MasteryTier = "mastered"
)

// Tiers lists every tier from weakest to strongest, NotMeasured first.
var Tiers = []MasteryTier{
	TierNotMeasured,
	TierNeedsUrgentReview,
	TierDeveloping,
	TierSolid,
	TierMastered,
}

// MessageID returns the i18n message id of the tier's label.
func (t MasteryTier) MessageID() string {
	switch t {
	case TierNeedsUrgentReview:
		return "TierNeedsUrgentReview"
	case TierDeveloping:
		return "TierDeveloping"
	case TierSolid:
		return "TierSolid"
	case TierMastered:
		return "TierMastered"
	default:
		return "TierNotMeasured"
	}
}

// DisciplineWeight describes how one discipline is scored on the real exam.
type DisciplineWeight struct {
	Questions int     `json:"questions"`
	Weight    float64 `json:"weight"`
}

// ExamStructure maps discipline name to its share of the real exam.
type ExamStructure map[string]DisciplineWeight

// Profile is a named exam campaign with its own syllabus, aggregates and history.
type Profile struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Role       string        `json:"role"`
	Year       int           `json:"year"`
	Status     ProfileStatus `json:"status"`
	FinalScore *float64      `json:"final_score,omitempty"`
	Structure  ExamStructure `json:"structure"`
	CreatedAt  time.Time     `json:"created_at"`
}

// AggregateEntry is the cumulative performance state of one syllabus topic.
// It is the fold of every live HistoryRecord for the topic.
type AggregateEntry struct {
	ProfileID        string      `json:"profile_id"`
	TopicID          int64       `json:"topic_id"`
	Discipline       string      `json:"discipline"`
	Topic            string      `json:"topic"`
	TheoryDone       bool        `json:"theory_done"`
	TotalQuestions   int         `json:"total_questions"`
	TotalCorrect     int         `json:"total_correct"`
	Percentage       float64     `json:"percentage"`
	Tier             MasteryTier `json:"tier"`
	LastMeasuredDate *time.Time  `json:"last_measured_date,omitempty"`
	// Version is bumped by every write and guards check-and-set updates.
	Version int64 `json:"version"`
}

// Measured reports whether any session has been applied to the topic.
func (a AggregateEntry) Measured() bool {
	return a.TotalQuestions > 0
}

// HistoryRecord is one practice session applied to exactly one topic.
type HistoryRecord struct {
	ID         string    `json:"record_id"`
	ProfileID  string    `json:"profile_id"`
	TopicID    int64     `json:"topic_id"`
	Date       time.Time `json:"date"`
	Attempted  int       `json:"questions_attempted"`
	Correct    int       `json:"questions_correct"`
	Percentage float64   `json:"percentage"`
	// Sequence is the store-assigned apply order.
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// StudyTimeEntry is one logged block of net study time for a discipline.
type StudyTimeEntry struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profile_id"`
	Discipline string    `json:"discipline"`
	Date       time.Time `json:"date"`
	Minutes    int       `json:"minutes"`
	CreatedAt  time.Time `json:"created_at"`
}

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Metadata keys.
const (
	MetaOwnerPasswordHash = "owner_password_hash"
	metaImportHashPrefix  = "syllabus_sha256:"
)

// ImportHashKey is the metadata key holding the sha256 of the syllabus file
// last imported into a profile.
func ImportHashKey(profileID string) string {
	return metaImportHashPrefix + profileID
}
