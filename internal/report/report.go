// Package report derives study reports from ledger read-contract output.
// Every function is pure and never touches storage.
package report

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/pavelanni/studyledger/internal/mastery"
	"github.com/pavelanni/studyledger/internal/model"
)

// MaxSuggestions caps the unmeasured topics an action plan proposes.
const MaxSuggestions = 3

// DisciplineReport summarizes one discipline.
type DisciplineReport struct {
	Discipline     string  `json:"discipline"`
	TotalQuestions int     `json:"total_questions"`
	TotalCorrect   int     `json:"total_correct"`
	Percentage     float64 `json:"percentage"`
	// MeanPercentage averages the percentages of measured topics only.
	MeanPercentage   float64 `json:"mean_percentage"`
	MeasuredTopics   int     `json:"measured_topics"`
	TotalTopics      int     `json:"total_topics"`
	MeasuredProgress float64 `json:"measured_progress"`
}

// ByDiscipline groups entries by discipline, sorted by name.
func ByDiscipline(entries []model.AggregateEntry) []DisciplineReport {
	index := make(map[string]*DisciplineReport)
	sums := make(map[string]float64)
	for _, e := range entries {
		r, ok := index[e.Discipline]
		if !ok {
			r = &DisciplineReport{Discipline: e.Discipline}
			index[e.Discipline] = r
		}
		r.TotalTopics++
		r.TotalQuestions += e.TotalQuestions
		r.TotalCorrect += e.TotalCorrect
		if e.Measured() {
			r.MeasuredTopics++
			sums[e.Discipline] += e.Percentage
		}
	}

	out := make([]DisciplineReport, 0, len(index))
	for name, r := range index {
		r.Percentage = mastery.Percentage(r.TotalCorrect, r.TotalQuestions)
		if r.MeasuredTopics > 0 {
			r.MeanPercentage = mastery.Round2(sums[name] / float64(r.MeasuredTopics))
		}
		r.MeasuredProgress = mastery.Percentage(r.MeasuredTopics, r.TotalTopics)
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b DisciplineReport) int { return cmp.Compare(a.Discipline, b.Discipline) })
	return out
}

// Activity is the question volume of one day or period.
type Activity struct {
	// Period is YYYY-MM-DD for days, YYYY-Www for weeks and YYYY-MM for months.
	Period     string    `json:"period"`
	Start      time.Time `json:"start"`
	Questions  int       `json:"questions"`
	Correct    int       `json:"correct"`
	Percentage float64   `json:"percentage"`
}

// Period selects the bucket width of ByPeriod.
type Period string

const (
	Day   Period = "day"
	Week  Period = "week"
	Month Period = "month"
)

// ParsePeriod accepts day, week or month.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case Day, Week, Month:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q (want day, week or month)", s)
}

// Daily sums records per session date, newest first.
func Daily(records []model.HistoryRecord) []Activity {
	out, _ := ByPeriod(records, Day)
	return out
}

// ByPeriod sums records per ISO week (starting Monday), calendar month or
// day, newest first.
func ByPeriod(records []model.HistoryRecord, p Period) ([]Activity, error) {
	if _, err := ParsePeriod(string(p)); err != nil {
		return nil, err
	}
	index := make(map[time.Time]*Activity)
	for _, r := range records {
		start, label := bucket(model.Day(r.Date), p)
		a, ok := index[start]
		if !ok {
			a = &Activity{Period: label, Start: start}
			index[start] = a
		}
		a.Questions += r.Attempted
		a.Correct += r.Correct
	}

	out := make([]Activity, 0, len(index))
	for _, a := range index {
		a.Percentage = mastery.Percentage(a.Correct, a.Questions)
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b Activity) int { return b.Start.Compare(a.Start) })
	return out, nil
}

func bucket(d time.Time, p Period) (time.Time, string) {
	switch p {
	case Week:
		offset := (int(d.Weekday()) + 6) % 7
		start := d.AddDate(0, 0, -offset)
		year, week := d.ISOWeek()
		return start, fmt.Sprintf("%d-W%02d", year, week)
	case Month:
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.Format("2006-01")
	default:
		return d, d.Format(model.DateLayout)
	}
}

// Summary is the profile-wide view.
type Summary struct {
	TotalTopics    int                       `json:"total_topics"`
	MeasuredTopics int                       `json:"measured_topics"`
	TheoryDone     int                       `json:"theory_done"`
	TotalQuestions int                       `json:"total_questions"`
	TotalCorrect   int                       `json:"total_correct"`
	Percentage     float64                   `json:"percentage"`
	Tiers          map[model.MasteryTier]int `json:"tiers"`
}

func Overall(entries []model.AggregateEntry) Summary {
	s := Summary{Tiers: make(map[model.MasteryTier]int, len(model.Tiers))}
	for _, t := range model.Tiers {
		s.Tiers[t] = 0
	}
	for _, e := range entries {
		s.TotalTopics++
		s.TotalQuestions += e.TotalQuestions
		s.TotalCorrect += e.TotalCorrect
		s.Tiers[e.Tier]++
		if e.Measured() {
			s.MeasuredTopics++
		}
		if e.TheoryDone {
			s.TheoryDone++
		}
	}
	s.Percentage = mastery.Percentage(s.TotalCorrect, s.TotalQuestions)
	return s
}

// Plan lists what to reinforce and what to study next.
type Plan struct {
	Urgent      []model.AggregateEntry `json:"urgent"`
	Developing  []model.AggregateEntry `json:"developing"`
	Suggestions []model.AggregateEntry `json:"suggestions"`
}

// ActionPlan picks urgent-review and developing topics plus up to
// MaxSuggestions unmeasured ones. Suggestions come from the priority
// disciplines when any of those is still unmeasured.
func ActionPlan(entries []model.AggregateEntry, priority []string) Plan {
	p := Plan{
		Urgent:      []model.AggregateEntry{},
		Developing:  []model.AggregateEntry{},
		Suggestions: []model.AggregateEntry{},
	}
	var unmeasured, preferred []model.AggregateEntry
	for _, e := range sortedByID(entries) {
		switch e.Tier {
		case model.TierNeedsUrgentReview:
			p.Urgent = append(p.Urgent, e)
		case model.TierDeveloping:
			p.Developing = append(p.Developing, e)
		case model.TierNotMeasured:
			unmeasured = append(unmeasured, e)
			if slices.Contains(priority, e.Discipline) {
				preferred = append(preferred, e)
			}
		}
	}
	if len(preferred) == 0 {
		preferred = unmeasured
	}
	p.Suggestions = append(p.Suggestions, preferred[:min(MaxSuggestions, len(preferred))]...)
	return p
}

// TheoryGroup is the pending theory of one discipline.
type TheoryGroup struct {
	Discipline string                 `json:"discipline"`
	Topics     []model.AggregateEntry `json:"topics"`
}

// PendingTheory lists topics whose theory is not done, grouped by discipline.
func PendingTheory(entries []model.AggregateEntry) []TheoryGroup {
	var out []TheoryGroup
	for _, e := range sortedByID(entries) {
		if e.TheoryDone {
			continue
		}
		i := slices.IndexFunc(out, func(g TheoryGroup) bool { return g.Discipline == e.Discipline })
		if i < 0 {
			out = append(out, TheoryGroup{Discipline: e.Discipline})
			i = len(out) - 1
		}
		out[i].Topics = append(out[i].Topics, e)
	}
	slices.SortFunc(out, func(a, b TheoryGroup) int { return cmp.Compare(a.Discipline, b.Discipline) })
	return out
}

// FinalLine compares study performance with one discipline's exam weight.
type FinalLine struct {
	Discipline      string  `json:"discipline"`
	StudyPercentage float64 `json:"study_percentage"`
	Estimated       float64 `json:"estimated"`
	Max             float64 `json:"max"`
}

// Final is the post-exam analysis of an archived profile.
type Final struct {
	Lines      []FinalLine `json:"lines"`
	Estimated  float64     `json:"estimated"`
	Max        float64     `json:"max"`
	FinalScore *float64    `json:"final_score,omitempty"`
	Delta      *float64    `json:"delta,omitempty"`
}

// FinalAnalysis estimates the exam score from study percentages: each
// discipline scores pct/100 × questions × weight.
func FinalAnalysis(p model.Profile, entries []model.AggregateEntry) Final {
	type totals struct{ questions, correct int }
	byDiscipline := make(map[string]totals)
	for _, e := range entries {
		t := byDiscipline[e.Discipline]
		t.questions += e.TotalQuestions
		t.correct += e.TotalCorrect
		byDiscipline[e.Discipline] = t
	}

	f := Final{Lines: []FinalLine{}}
	var estimated, maxScore float64
	for name, w := range p.Structure {
		t := byDiscipline[name]
		pct := mastery.Percentage(t.correct, t.questions)
		lineMax := float64(w.Questions) * w.Weight
		lineEst := pct / 100 * lineMax
		estimated += lineEst
		maxScore += lineMax
		f.Lines = append(f.Lines, FinalLine{
			Discipline:      name,
			StudyPercentage: pct,
			Estimated:       mastery.Round2(lineEst),
			Max:             mastery.Round2(lineMax),
		})
	}
	slices.SortFunc(f.Lines, func(a, b FinalLine) int { return cmp.Compare(a.Discipline, b.Discipline) })
	f.Estimated = mastery.Round2(estimated)
	f.Max = mastery.Round2(maxScore)
	if p.FinalScore != nil {
		score := *p.FinalScore
		delta := mastery.Round2(score - f.Estimated)
		f.FinalScore = &score
		f.Delta = &delta
	}
	return f
}

// Minutes is a study time total under a key (a discipline or a date).
type Minutes struct {
	Key     string `json:"key"`
	Minutes int    `json:"minutes"`
}

// StudyTimeReport totals logged study time.
type StudyTimeReport struct {
	TotalMinutes int       `json:"total_minutes"`
	ByDiscipline []Minutes `json:"by_discipline"`
	// ByDay is newest first.
	ByDay []Minutes `json:"by_day"`
}

func StudyTime(entries []model.StudyTimeEntry) StudyTimeReport {
	perDiscipline := make(map[string]int)
	perDay := make(map[string]int)
	r := StudyTimeReport{ByDiscipline: []Minutes{}, ByDay: []Minutes{}}
	for _, e := range entries {
		r.TotalMinutes += e.Minutes
		perDiscipline[e.Discipline] += e.Minutes
		perDay[model.Day(e.Date).Format(model.DateLayout)] += e.Minutes
	}
	for k, v := range perDiscipline {
		r.ByDiscipline = append(r.ByDiscipline, Minutes{Key: k, Minutes: v})
	}
	for k, v := range perDay {
		r.ByDay = append(r.ByDay, Minutes{Key: k, Minutes: v})
	}
	slices.SortFunc(r.ByDiscipline, func(a, b Minutes) int {
		return cmp.Or(cmp.Compare(b.Minutes, a.Minutes), cmp.Compare(a.Key, b.Key))
	})
	slices.SortFunc(r.ByDay, func(a, b Minutes) int { return cmp.Compare(b.Key, a.Key) })
	return r
}

func sortedByID(entries []model.AggregateEntry) []model.AggregateEntry {
	out := slices.Clone(entries)
	slices.SortFunc(out, func(a, b model.AggregateEntry) int { return cmp.Compare(a.TopicID, b.TopicID) })
	return out
}
