package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pavelanni/studyledger/internal/i18n"
	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/llm/prompts"
	"github.com/pavelanni/studyledger/internal/model"
	"github.com/pavelanni/studyledger/internal/report"
)

var reportKinds = []string{"disciplines", "daily", "periods", "summary", "plan", "theory", "final", "study-time"}

func reportCmd() *cobra.Command {
	cmd := newLedgerCmd("report KIND", "Print a study report ("+strings.Join(reportKinds, ", ")+")",
		cobra.ExactArgs(1), runReport)
	cmd.ValidArgs = reportKinds
	addProfileFlag(cmd)
	f := cmd.Flags()
	f.String("period", string(report.Week), "Bucket for the periods report (day, week, month)")
	f.StringSlice("priority-disciplines", nil, "Disciplines suggested first in the plan report")
	f.Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func runReport(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	asJSON := a.v.GetBool("json")

	switch kind := args[0]; kind {
	case "daily", "periods":
		records, err := a.engine.ListHistory(ctx, id, 0)
		if err != nil {
			return err
		}
		period := report.Day
		if kind == "periods" {
			if period, err = report.ParsePeriod(a.v.GetString("period")); err != nil {
				return err
			}
		}
		activity, err := report.ByPeriod(records, period)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out, activity)
		}
		return printActivity(ctx, out, activity)
	case "study-time":
		entries, err := a.profiles.StudyTime(ctx, id)
		if err != nil {
			return err
		}
		st := report.StudyTime(entries)
		if asJSON {
			return printJSON(out, st)
		}
		return printStudyTime(ctx, out, st)
	case "disciplines", "summary", "plan", "theory", "final":
	default:
		return ledger.Invalid("report", "unknown report %q (want one of %s)", kind, strings.Join(reportKinds, ", "))
	}

	entries, err := a.aggregates(ctx, id)
	if err != nil {
		return err
	}
	var v any
	switch args[0] {
	case "disciplines":
		v = report.ByDiscipline(entries)
	case "summary":
		v = report.Overall(entries)
	case "plan":
		v = report.ActionPlan(entries, a.v.GetStringSlice("priority-disciplines"))
	case "theory":
		v = report.PendingTheory(entries)
	case "final":
		p, err := a.profiles.Get(ctx, id)
		if err != nil {
			return err
		}
		v = report.FinalAnalysis(p, entries)
	}
	if asJSON {
		return printJSON(out, v)
	}

	switch r := v.(type) {
	case []report.DisciplineReport:
		return printDisciplines(ctx, out, r)
	case report.Summary:
		return printSummary(ctx, out, r)
	case report.Plan:
		return printPlan(ctx, out, r)
	case []report.TheoryGroup:
		return printTheory(ctx, out, r)
	case report.Final:
		return printFinal(ctx, out, r)
	}
	return nil
}

func printActivity(ctx context.Context, w io.Writer, activity []report.Activity) error {
	tw := newTable(w)
	header(ctx, tw, "ColPeriod", "ColQuestions", "ColCorrect", "ColPercent")
	for _, a := range activity {
		row(tw, a.Period, a.Questions, a.Correct, pct(a.Percentage))
	}
	return tw.Flush()
}

func printDisciplines(ctx context.Context, w io.Writer, reports []report.DisciplineReport) error {
	tw := newTable(w)
	header(ctx, tw, "ColDiscipline", "ColQuestions", "ColCorrect", "ColPercent", "ColMean",
		"ColMeasured", "ColTotalTopics", "ColProgress")
	for _, r := range reports {
		row(tw, r.Discipline, r.TotalQuestions, r.TotalCorrect, pct(r.Percentage), pct(r.MeanPercentage),
			r.MeasuredTopics, r.TotalTopics, pct(r.MeasuredProgress))
	}
	return tw.Flush()
}

func printSummary(ctx context.Context, w io.Writer, s report.Summary) error {
	fmt.Fprintf(w, "%d/%d (%s%%)\n", s.TotalCorrect, s.TotalQuestions, pct(s.Percentage))
	fmt.Fprintln(w, i18n.Tp(ctx, "TopicsMeasured", s.MeasuredTopics))
	fmt.Fprintf(w, "%s: %d/%d\n", i18n.T(ctx, "ColTheory"), s.TheoryDone, s.TotalTopics)
	tw := newTable(w)
	header(ctx, tw, "ColTier", "ColTotalTopics")
	for _, t := range model.Tiers {
		row(tw, i18n.TierLabel(ctx, t), s.Tiers[t])
	}
	return tw.Flush()
}

func printTopics(ctx context.Context, w io.Writer, entries []model.AggregateEntry) error {
	tw := newTable(w)
	header(ctx, tw, "ColID", "ColDiscipline", "ColTopic", "ColPercent")
	for _, e := range entries {
		row(tw, e.TopicID, e.Discipline, e.Topic, pct(e.Percentage))
	}
	return tw.Flush()
}

func printPlan(ctx context.Context, w io.Writer, p report.Plan) error {
	fmt.Fprintf(w, "== %s\n", i18n.T(ctx, "PlanUrgent"))
	if len(p.Urgent) == 0 {
		fmt.Fprintln(w, i18n.T(ctx, "PlanNothingUrgent"))
	} else if err := printTopics(ctx, w, p.Urgent); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n== %s\n", i18n.T(ctx, "PlanDeveloping"))
	if err := printTopics(ctx, w, p.Developing); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n== %s\n", i18n.T(ctx, "PlanSuggestions"))
	if len(p.Suggestions) == 0 {
		fmt.Fprintln(w, i18n.T(ctx, "PlanAllMeasured"))
		return nil
	}
	return printTopics(ctx, w, p.Suggestions)
}

func printTheory(ctx context.Context, w io.Writer, groups []report.TheoryGroup) error {
	tw := newTable(w)
	header(ctx, tw, "ColDiscipline", "ColID", "ColTopic")
	for _, g := range groups {
		for _, e := range g.Topics {
			row(tw, g.Discipline, e.TopicID, e.Topic)
		}
	}
	return tw.Flush()
}

func printFinal(ctx context.Context, w io.Writer, f report.Final) error {
	tw := newTable(w)
	header(ctx, tw, "ColDiscipline", "ColPercent", "ColEstimated")
	for _, l := range f.Lines {
		row(tw, l.Discipline, pct(l.StudyPercentage), fmt.Sprintf("%s / %s", pct(l.Estimated), pct(l.Max)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, i18n.Td(ctx, "FinalEstimated", map[string]any{"Estimated": pct(f.Estimated), "Max": pct(f.Max)}))
	if f.FinalScore != nil && f.Delta != nil {
		fmt.Fprintln(w, i18n.Td(ctx, "FinalReal", map[string]any{"Score": pct(*f.FinalScore), "Delta": pct(*f.Delta)}))
	}
	return nil
}

func printStudyTime(ctx context.Context, w io.Writer, st report.StudyTimeReport) error {
	fmt.Fprintln(w, i18n.Tp(ctx, "StudyMinutes", st.TotalMinutes))
	tw := newTable(w)
	header(ctx, tw, "ColDiscipline", "ColMinutes")
	for _, m := range st.ByDiscipline {
		row(tw, m.Key, m.Minutes)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	tw = newTable(w)
	header(ctx, tw, "ColDate", "ColMinutes")
	for _, m := range st.ByDay {
		row(tw, m.Key, m.Minutes)
	}
	return tw.Flush()
}

func timeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Log and list study time",
	}
	logCmd := newLedgerCmd("log DISCIPLINE MINUTES", "Log minutes studied for a discipline", cobra.ExactArgs(2), runTimeLog)
	addProfileFlag(logCmd)
	logCmd.Flags().String("date", "", "Study date YYYY-MM-DD (default today)")

	list := newLedgerCmd("list", "List logged study time", cobra.NoArgs, runTimeList)
	addProfileFlag(list)

	cmd.AddCommand(logCmd, list)
	return cmd
}

func runTimeLog(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	date, err := dateFlag(a)
	if err != nil {
		return err
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid minutes %q: %w", args[1], err)
	}
	entry, err := a.profiles.LogStudyTime(ctx, id, args[0], date, minutes)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", entry.Date.Format(model.DateLayout), entry.Discipline,
		i18n.Tp(ctx, "StudyMinutes", entry.Minutes))
	return nil
}

func runTimeList(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	entries, err := a.profiles.StudyTime(ctx, id)
	if err != nil {
		return err
	}
	tw := newTable(cmd.OutOrStdout())
	header(ctx, tw, "ColDate", "ColDiscipline", "ColMinutes")
	for _, e := range entries {
		row(tw, e.Date.Format(model.DateLayout), e.Discipline, e.Minutes)
	}
	return tw.Flush()
}

func exportCmd() *cobra.Command {
	cmd := newLedgerCmd("export", "Export a profile as JSON", cobra.NoArgs, runExport)
	addProfileFlag(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func runExport(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	export, err := ledger.Export(ctx, a.backend, a.backend, id)
	if err != nil {
		return err
	}

	outPath := a.v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := printJSON(w, export); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func coachCmd() *cobra.Command {
	cmd := newLedgerCmd("coach", "Ask the LLM coach what to study next", cobra.NoArgs, runCoach)
	addProfileFlag(cmd)
	f := cmd.Flags()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("coach-tone", string(prompts.ToneStandard), "Coach tone (strict, standard, encouraging)")
	f.StringSlice("priority-disciplines", nil, "Disciplines suggested first")
	return cmd
}

func runCoach(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	tone := prompts.Tone(strings.ToLower(a.v.GetString("coach-tone")))
	if !prompts.IsValidTone(string(tone)) {
		return fmt.Errorf("unknown coach tone %q", tone)
	}
	coach, err := newCoach(ctx, a.v)
	if err != nil {
		return err
	}
	if coach == nil {
		return fmt.Errorf("coach needs --llm-url")
	}

	p, err := a.profiles.Get(ctx, id)
	if err != nil {
		return err
	}
	entries, err := a.aggregates(ctx, id)
	if err != nil {
		return err
	}
	data := prompts.NewCoachData(p, i18n.T(ctx, "CoachLanguage"), report.Overall(entries),
		report.ByDiscipline(entries), report.ActionPlan(entries, a.v.GetStringSlice("priority-disciplines")))
	advice, err := coach.Advise(ctx, tone, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), advice.Advice)
	return nil
}
