// Package prompts renders study coach prompts from embedded templates.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/studyledger/internal/model"
	"github.com/pavelanni/studyledger/internal/report"
)

//go:embed templates/*.txt
var Templates embed.FS

var markupRegex = regexp.MustCompile(`(?i)</?\s*(study-data|system-instructions)\b[^>]*>`)

// maxTextRunes bounds each topic text copied into a prompt.
const maxTextRunes = 300

// Tone selects how the coach addresses the candidate.
type Tone string

const (
	ToneStrict      Tone = "strict"
	ToneStandard    Tone = "standard"
	ToneEncouraging Tone = "encouraging"
)

var tones = []Tone{ToneStrict, ToneStandard, ToneEncouraging}

// IsValidTone checks if a tone name is known.
func IsValidTone(s string) bool {
	for _, t := range tones {
		if string(t) == s {
			return true
		}
	}
	return false
}

// Topic is one topic as shown to the model.
type Topic struct {
	ID         int64
	Text       string
	Discipline string
	Percentage float64
}

// Discipline is one discipline line as shown to the model.
type Discipline struct {
	Name       string
	Percentage float64
	Questions  int
	Measured   int
	Topics     int
}

// CoachData holds template data for coach prompts.
type CoachData struct {
	Profile     string
	Language    string
	Questions   int
	Correct     int
	Percentage  float64
	Measured    int
	Topics      int
	TheoryDone  int
	Disciplines []Discipline
	Urgent      []Topic
	Developing  []Topic
	Suggestions []Topic
}

// NewCoachData flattens report output into template data. Topic texts come
// from user-supplied syllabi and are sanitized.
func NewCoachData(p model.Profile, language string, summary report.Summary,
	disciplines []report.DisciplineReport, plan report.Plan,
) CoachData {
	d := CoachData{
		Profile:     fmt.Sprintf("%s, %s (%d)", sanitize(p.Name), sanitize(p.Role), p.Year),
		Language:    language,
		Questions:   summary.TotalQuestions,
		Correct:     summary.TotalCorrect,
		Percentage:  summary.Percentage,
		Measured:    summary.MeasuredTopics,
		Topics:      summary.TotalTopics,
		TheoryDone:  summary.TheoryDone,
		Urgent:      topics(plan.Urgent),
		Developing:  topics(plan.Developing),
		Suggestions: topics(plan.Suggestions),
	}
	for _, r := range disciplines {
		d.Disciplines = append(d.Disciplines, Discipline{
			Name:       sanitize(r.Discipline),
			Percentage: r.Percentage,
			Questions:  r.TotalQuestions,
			Measured:   r.MeasuredTopics,
			Topics:     r.TotalTopics,
		})
	}
	return d
}

func topics(entries []model.AggregateEntry) []Topic {
	out := make([]Topic, 0, len(entries))
	for _, e := range entries {
		out = append(out, Topic{
			ID:         e.TopicID,
			Text:       sanitize(e.Topic),
			Discipline: sanitize(e.Discipline),
			Percentage: e.Percentage,
		})
	}
	return out
}

// Set is a parsed template per tone.
type Set struct {
	coach map[Tone]*template.Template
}

// Load parses coach_<tone>.txt and context.txt from fsys. Pass Templates
// for the built-in prompts.
func Load(fsys fs.FS) (*Set, error) {
	shared, err := fs.ReadFile(fsys, "templates/context.txt")
	if err != nil {
		return nil, fmt.Errorf("read prompt context: %w", err)
	}
	s := &Set{coach: make(map[Tone]*template.Template, len(tones))}
	for _, t := range tones {
		file := "templates/coach_" + string(t) + ".txt"
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", file, err)
		}
		tmpl, err := template.New(string(t)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", file, err)
		}
		if _, err := tmpl.Parse(string(shared)); err != nil {
			return nil, fmt.Errorf("parse prompt context for %s: %w", file, err)
		}
		s.coach[t] = tmpl
	}
	return s, nil
}

// BuildCoachPrompt renders the prompt for tone.
func (s *Set) BuildCoachPrompt(tone Tone, data CoachData) (string, error) {
	tmpl, ok := s.coach[tone]
	if !ok {
		return "", fmt.Errorf("invalid coach tone: %q", tone)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitize(s string) string {
	s = markupRegex.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxTextRunes {
		s = string([]rune(s)[:maxTextRunes]) + "..."
	}
	return s
}
