package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/studyledger/internal/model"
)

func entry(id int64, discipline string, questions, correct int, tier model.MasteryTier, pct float64) model.AggregateEntry {
	return model.AggregateEntry{
		TopicID: id, Discipline: discipline, Topic: "t",
		TotalQuestions: questions, TotalCorrect: correct, Percentage: pct, Tier: tier,
	}
}

func sample() []model.AggregateEntry {
	return []model.AggregateEntry{
		entry(1, "Português", 40, 26, model.TierDeveloping, 65),
		entry(2, "Português", 10, 10, model.TierMastered, 100),
		entry(3, "Português", 0, 0, model.TierNotMeasured, 0),
		entry(4, "Matemática", 10, 3, model.TierNeedsUrgentReview, 30),
		entry(5, "Matemática", 0, 0, model.TierNotMeasured, 0),
		entry(6, "Legislação", 0, 0, model.TierNotMeasured, 0),
		entry(7, "Legislação", 0, 0, model.TierNotMeasured, 0),
		entry(8, "Legislação", 0, 0, model.TierNotMeasured, 0),
		entry(9, "Legislação", 0, 0, model.TierNotMeasured, 0),
	}
}

func day(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestByDiscipline(t *testing.T) {
	got := ByDiscipline(sample())
	require.Len(t, got, 3)
	assert.Equal(t, "Legislação", got[0].Discipline)
	assert.Equal(t, 0, got[0].MeasuredTopics)
	assert.Equal(t, 0.0, got[0].Percentage)

	pt := got[2]
	assert.Equal(t, "Português", pt.Discipline)
	assert.Equal(t, 50, pt.TotalQuestions)
	assert.Equal(t, 36, pt.TotalCorrect)
	assert.Equal(t, 72.0, pt.Percentage)
	assert.Equal(t, 82.5, pt.MeanPercentage)
	assert.Equal(t, 2, pt.MeasuredTopics)
	assert.Equal(t, 3, pt.TotalTopics)
	assert.Equal(t, 66.67, pt.MeasuredProgress)
}

func TestDailyAndPeriods(t *testing.T) {
	records := []model.HistoryRecord{
		{Date: day("2025-06-09"), Attempted: 10, Correct: 5}, // Monday
		{Date: day("2025-06-15"), Attempted: 10, Correct: 10}, // Sunday, same ISO week
		{Date: day("2025-06-15"), Attempted: 20, Correct: 10},
		{Date: day("2025-05-31"), Attempted: 4, Correct: 1},
	}

	daily := Daily(records)
	require.Len(t, daily, 3)
	assert.Equal(t, "2025-06-15", daily[0].Period)
	assert.Equal(t, 30, daily[0].Questions)
	assert.Equal(t, 66.67, daily[0].Percentage)
	assert.Equal(t, "2025-05-31", daily[2].Period)

	weeks, err := ByPeriod(records, Week)
	require.NoError(t, err)
	require.Len(t, weeks, 2)
	assert.Equal(t, "2025-W24", weeks[0].Period)
	assert.True(t, weeks[0].Start.Equal(day("2025-06-09")))
	assert.Equal(t, 40, weeks[0].Questions)
	assert.Equal(t, 62.5, weeks[0].Percentage)

	months, err := ByPeriod(records, Month)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, "2025-06", months[0].Period)
	assert.Equal(t, "2025-05", months[1].Period)

	_, err = ByPeriod(records, Period("year"))
	assert.Error(t, err)
	assert.Empty(t, Daily(nil))
}

func TestOverall(t *testing.T) {
	entries := sample()
	entries[0].TheoryDone = true

	s := Overall(entries)
	assert.Equal(t, 9, s.TotalTopics)
	assert.Equal(t, 3, s.MeasuredTopics)
	assert.Equal(t, 1, s.TheoryDone)
	assert.Equal(t, 60, s.TotalQuestions)
	assert.Equal(t, 39, s.TotalCorrect)
	assert.Equal(t, 65.0, s.Percentage)
	assert.Equal(t, 6, s.Tiers[model.TierNotMeasured])
	assert.Equal(t, 0, s.Tiers[model.TierSolid])
	assert.Len(t, s.Tiers, len(model.Tiers))
}

func TestActionPlan(t *testing.T) {
	plan := ActionPlan(sample(), []string{"Legislação"})
	require.Len(t, plan.Urgent, 1)
	assert.Equal(t, int64(4), plan.Urgent[0].TopicID)
	require.Len(t, plan.Developing, 1)
	assert.Equal(t, int64(1), plan.Developing[0].TopicID)
	require.Len(t, plan.Suggestions, MaxSuggestions)
	assert.Equal(t, int64(6), plan.Suggestions[0].TopicID)
	assert.Equal(t, int64(8), plan.Suggestions[2].TopicID)

	fallback := ActionPlan(sample(), []string{"Física"})
	ids := []int64{}
	for _, e := range fallback.Suggestions {
		ids = append(ids, e.TopicID)
	}
	assert.Equal(t, []int64{3, 5, 6}, ids)

	empty := ActionPlan(nil, nil)
	assert.NotNil(t, empty.Urgent)
	assert.Empty(t, empty.Suggestions)
}

func TestPendingTheory(t *testing.T) {
	entries := sample()
	for i := range entries {
		entries[i].TheoryDone = entries[i].Discipline != "Matemática"
	}
	entries[2].TheoryDone = false

	groups := PendingTheory(entries)
	require.Len(t, groups, 2)
	assert.Equal(t, "Matemática", groups[0].Discipline)
	assert.Len(t, groups[0].Topics, 2)
	assert.Equal(t, "Português", groups[1].Discipline)
	assert.Equal(t, int64(3), groups[1].Topics[0].TopicID)
}

func TestFinalAnalysis(t *testing.T) {
	score := 30.0
	p := model.Profile{
		Structure: model.ExamStructure{
			"Português":  {Questions: 20, Weight: 2},
			"Matemática": {Questions: 10, Weight: 1},
			"Inglês":     {Questions: 5, Weight: 1},
		},
		FinalScore: &score,
	}
	f := FinalAnalysis(p, sample())

	require.Len(t, f.Lines, 3)
	assert.Equal(t, "Inglês", f.Lines[0].Discipline)
	assert.Equal(t, 0.0, f.Lines[0].Estimated)
	assert.Equal(t, FinalLine{Discipline: "Matemática", StudyPercentage: 30, Estimated: 3, Max: 10}, f.Lines[1])
	assert.Equal(t, FinalLine{Discipline: "Português", StudyPercentage: 72, Estimated: 28.8, Max: 40}, f.Lines[2])
	assert.Equal(t, 31.8, f.Estimated)
	assert.Equal(t, 55.0, f.Max)
	require.NotNil(t, f.Delta)
	assert.Equal(t, -1.8, *f.Delta)

	p.FinalScore = nil
	assert.Nil(t, FinalAnalysis(p, sample()).Delta)
}

func TestStudyTime(t *testing.T) {
	r := StudyTime([]model.StudyTimeEntry{
		{Discipline: "Português", Date: day("2025-06-01"), Minutes: 60},
		{Discipline: "Matemática", Date: day("2025-06-01"), Minutes: 30},
		{Discipline: "Matemática", Date: day("2025-06-03"), Minutes: 45},
	})
	assert.Equal(t, 135, r.TotalMinutes)
	assert.Equal(t, []Minutes{{Key: "Matemática", Minutes: 75}, {Key: "Português", Minutes: 60}}, r.ByDiscipline)
	assert.Equal(t, []Minutes{{Key: "2025-06-03", Minutes: 45}, {Key: "2025-06-01", Minutes: 90}}, r.ByDay)
}
