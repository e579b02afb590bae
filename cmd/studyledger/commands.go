package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/studyledger/internal/i18n"
	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
	"github.com/pavelanni/studyledger/internal/syllabus"
)

type runFunc func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

// withApp opens the shared wiring around fn and closes it afterwards.
func withApp(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		err = fn(cmd.Context(), a, cmd, args)
		if errors.Is(err, ledger.ErrConsistencyViolation) {
			fmt.Fprintln(cmd.ErrOrStderr(), i18n.T(cmd.Context(), "ConsistencyHint"))
		}
		return err
	}
}

func newLedgerCmd(use, short string, args cobra.PositionalArgs, fn runFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE:  withApp(fn),
	}
	addStorageFlags(cmd)
	return cmd
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// header writes the localized column titles.
func header(ctx context.Context, tw io.Writer, ids ...string) {
	cols := make([]string, len(ids))
	for i, id := range ids {
		cols[i] = i18n.T(ctx, id)
	}
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
}

func row(tw io.Writer, cols ...any) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c)
	}
	fmt.Fprintln(tw, strings.Join(parts, "\t"))
}

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// dateFlag parses --date, defaulting to today.
func dateFlag(a *app) (time.Time, error) {
	s := a.v.GetString("date")
	if s == "" {
		return model.Day(time.Now()), nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return d, fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", s)
	}
	return d, nil
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage exam profiles",
	}

	create := newLedgerCmd("create", "Create a profile", cobra.NoArgs, runProfileCreate)
	create.Flags().String("name", "", "Exam or agency name")
	create.Flags().String("role", "", "Position applied for")
	create.Flags().Int("year", time.Now().Year(), "Exam year")
	create.Flags().String("structure", "", "JSON file with the exam structure")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("role")

	archive := newLedgerCmd("archive ID", "Archive a profile", cobra.ExactArgs(1), runProfileArchive)
	archive.Flags().Float64("score", 0, "Final exam score")

	cmd.AddCommand(
		create,
		newLedgerCmd("list", "List profiles", cobra.NoArgs, runProfileList),
		newLedgerCmd("show ID", "Show a profile", cobra.ExactArgs(1), runProfileShow),
		archive,
		newLedgerCmd("reactivate ID", "Reactivate an archived profile", cobra.ExactArgs(1), runProfileReactivate),
		newLedgerCmd("score ID SCORE", "Record the real exam score", cobra.ExactArgs(2), runProfileScore),
		newLedgerCmd("structure ID FILE", "Replace the exam structure from a JSON file", cobra.ExactArgs(2), runProfileStructure),
	)
	return cmd
}

func readStructure(path string) (model.ExamStructure, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read structure: %w", err)
	}
	var s model.ExamStructure
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse structure %s: %w", path, err)
	}
	return s, nil
}

func runProfileCreate(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	structure, err := readStructure(a.v.GetString("structure"))
	if err != nil {
		return err
	}
	p, err := a.profiles.Create(ctx, a.v.GetString("name"), a.v.GetString("role"), a.v.GetInt("year"), structure)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p.ID)
	return nil
}

func runProfileList(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	list, err := a.profiles.List(ctx)
	if err != nil {
		return err
	}
	tw := newTable(cmd.OutOrStdout())
	header(ctx, tw, "ColID", "ColProfile", "ColStatus")
	for _, p := range list {
		row(tw, p.ID, fmt.Sprintf("%s, %s (%d)", p.Name, p.Role, p.Year), p.Status)
	}
	return tw.Flush()
}

func runProfileShow(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	p, err := a.profiles.Get(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), p)
}

func runProfileArchive(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	var score *float64
	if cmd.Flags().Changed("score") {
		s := a.v.GetFloat64("score")
		score = &s
	}
	p, err := a.profiles.Archive(ctx, args[0], score)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p.ID, p.Status)
	return nil
}

func runProfileReactivate(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	p, err := a.profiles.Reactivate(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p.ID, p.Status)
	return nil
}

func runProfileScore(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	score, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid score %q: %w", args[1], err)
	}
	p, err := a.profiles.SetFinalScore(ctx, args[0], score)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p.ID, *p.FinalScore)
	return nil
}

func runProfileStructure(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	structure, err := readStructure(args[1])
	if err != nil {
		return err
	}
	p, err := a.profiles.SetStructure(ctx, args[0], structure)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), p.Structure)
}

func importCmd() *cobra.Command {
	cmd := newLedgerCmd("import FILE", "Import a syllabus table into a profile", cobra.ExactArgs(1), runImport)
	addProfileFlag(cmd)
	return cmd
}

func runImport(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	res, err := syllabus.Import(ctx, a.engine, a.backend, id, data)
	if err != nil {
		return err
	}
	if res.Unchanged {
		fmt.Fprintln(cmd.OutOrStdout(), i18n.T(ctx, "SyllabusUnchanged"))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), i18n.Tp(ctx, "SyllabusImported", res.Topics))
	return nil
}

func applyCmd() *cobra.Command {
	cmd := newLedgerCmd("apply TOPIC:ATTEMPTED:CORRECT...",
		"Record practice session results (one argument per topic)", cobra.MinimumNArgs(1), runApply)
	addProfileFlag(cmd)
	cmd.Flags().String("date", "", "Session date YYYY-MM-DD (default today)")
	return cmd
}

func parseResult(s string) (ledger.SessionResult, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ledger.SessionResult{}, fmt.Errorf("invalid result %q (want TOPIC:ATTEMPTED:CORRECT)", s)
	}
	var nums [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return ledger.SessionResult{}, fmt.Errorf("invalid result %q: %w", s, err)
		}
		nums[i] = n
	}
	return ledger.SessionResult{TopicID: nums[0], Attempted: int(nums[1]), Correct: int(nums[2])}, nil
}

func runApply(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	date, err := dateFlag(a)
	if err != nil {
		return err
	}
	results := make([]ledger.SessionResult, 0, len(args))
	for _, arg := range args {
		r, err := parseResult(arg)
		if err != nil {
			return err
		}
		results = append(results, r)
	}

	applied, err := a.engine.ApplyBatch(ctx, id, date, results)
	for _, res := range applied {
		fmt.Fprintln(cmd.OutOrStdout(), i18n.Td(ctx, "SessionApplied", map[string]any{
			"TopicID":    res.Record.TopicID,
			"Correct":    res.Record.Correct,
			"Attempted":  res.Record.Attempted,
			"RecordID":   res.Record.ID,
			"Percentage": pct(res.Aggregate.Percentage),
			"Tier":       i18n.TierLabel(ctx, res.Aggregate.Tier),
		}))
	}
	return err
}

func retractCmd() *cobra.Command {
	cmd := newLedgerCmd("retract RECORD_ID", "Remove a recorded session result", cobra.ExactArgs(1), runRetract)
	addProfileFlag(cmd)
	cmd.Flags().Bool("repair", false, "Reconcile and retry if the topic is out of sync")
	return cmd
}

func runRetract(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	var res ledger.RetractResult
	if a.v.GetBool("repair") {
		var repaired []ledger.ReconcileResult
		res, repaired, err = a.engine.RetractWithRepair(ctx, id, args[0])
		for _, r := range repaired {
			fmt.Fprintf(cmd.ErrOrStderr(), "reconciled topic %d: %d/%d -> %d/%d\n", r.After.TopicID,
				r.Before.TotalCorrect, r.Before.TotalQuestions, r.After.TotalCorrect, r.After.TotalQuestions)
		}
	} else {
		res, err = a.engine.Retract(ctx, id, args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), i18n.Td(ctx, "SessionRetracted", map[string]any{
		"RecordID":   res.Record.ID,
		"TopicID":    res.Record.TopicID,
		"Percentage": pct(res.Aggregate.Percentage),
		"Tier":       i18n.TierLabel(ctx, res.Aggregate.Tier),
	}))
	return nil
}

func historyCmd() *cobra.Command {
	cmd := newLedgerCmd("history", "List recorded session results", cobra.NoArgs, runHistory)
	addProfileFlag(cmd)
	cmd.Flags().Int64("topic", 0, "Only this topic")
	return cmd
}

func runHistory(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	records, err := a.engine.ListHistory(ctx, id, a.v.GetInt64("topic"))
	if err != nil {
		return err
	}
	tw := newTable(cmd.OutOrStdout())
	header(ctx, tw, "ColRecord", "ColDate", "ColTopic", "ColQuestions", "ColCorrect", "ColPercent")
	for _, r := range records {
		row(tw, r.ID, r.Date.Format(model.DateLayout), r.TopicID, r.Attempted, r.Correct, pct(r.Percentage))
	}
	return tw.Flush()
}

func topicsCmd() *cobra.Command {
	cmd := newLedgerCmd("topics", "Show the performance of every topic", cobra.NoArgs, runTopics)
	addProfileFlag(cmd)
	cmd.Flags().String("discipline", "", "Only this discipline")
	return cmd
}

// aggregates lists topics through the dashboard cache when one is configured.
func (a *app) aggregates(ctx context.Context, profileID string) ([]model.AggregateEntry, error) {
	if a.cache == nil {
		return a.engine.ListAggregates(ctx, profileID)
	}
	return a.cache.Aggregates(ctx, profileID, a.engine.ListAggregates)
}

func runTopics(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	entries, err := a.aggregates(ctx, id)
	if err != nil {
		return err
	}
	only := a.v.GetString("discipline")

	tw := newTable(cmd.OutOrStdout())
	header(ctx, tw, "ColID", "ColDiscipline", "ColTopic", "ColTheory", "ColQuestions", "ColCorrect",
		"ColPercent", "ColTier", "ColLastMeasured")
	for _, e := range entries {
		if only != "" && !strings.EqualFold(e.Discipline, only) {
			continue
		}
		theory, last := "", ""
		if e.TheoryDone {
			theory = "✓"
		}
		if e.LastMeasuredDate != nil {
			last = e.LastMeasuredDate.Format(model.DateLayout)
		}
		row(tw, e.TopicID, e.Discipline, e.Topic, theory, e.TotalQuestions, e.TotalCorrect,
			pct(e.Percentage), i18n.TierLabel(ctx, e.Tier), last)
	}
	return tw.Flush()
}

func theoryCmd() *cobra.Command {
	cmd := newLedgerCmd("theory TOPIC...", "Mark the theory of topics as studied", cobra.MinimumNArgs(1), runTheory)
	addProfileFlag(cmd)
	cmd.Flags().Bool("undo", false, "Mark as not studied")
	return cmd
}

func runTheory(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	topicIDs := make([]int64, 0, len(args))
	for _, arg := range args {
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid topic %q: %w", arg, err)
		}
		topicIDs = append(topicIDs, n)
	}
	entries, err := a.engine.SetTheory(ctx, id, topicIDs, !a.v.GetBool("undo"))
	if err != nil {
		return err
	}
	tw := newTable(cmd.OutOrStdout())
	header(ctx, tw, "ColID", "ColTopic", "ColTheory")
	for _, e := range entries {
		row(tw, e.TopicID, e.Topic, e.TheoryDone)
	}
	return tw.Flush()
}

func reconcileCmd() *cobra.Command {
	cmd := newLedgerCmd("reconcile", "Rebuild topic aggregates from their history", cobra.NoArgs, runReconcile)
	addProfileFlag(cmd)
	cmd.Flags().Int64("topic", 0, "Only this topic (default every drifted topic)")
	cmd.Flags().Bool("audit", false, "Only report drift, change nothing")
	return cmd
}

func runReconcile(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	id, err := a.profileID(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if a.v.GetBool("audit") {
		drifts, err := a.engine.Audit(ctx, id)
		if err != nil {
			return err
		}
		if len(drifts) == 0 {
			fmt.Fprintln(out, "in sync")
			return nil
		}
		tw := newTable(out)
		header(ctx, tw, "ColID", "ColQuestions", "ColCorrect", "ColPercent")
		for _, d := range drifts {
			row(tw, d.TopicID,
				fmt.Sprintf("%d -> %d", d.Stored.TotalQuestions, d.Expected.TotalQuestions),
				fmt.Sprintf("%d -> %d", d.Stored.TotalCorrect, d.Expected.TotalCorrect),
				fmt.Sprintf("%s -> %s", pct(d.Stored.Percentage), pct(d.Expected.Percentage)))
		}
		return tw.Flush()
	}

	var results []ledger.ReconcileResult
	if topic := a.v.GetInt64("topic"); topic > 0 {
		res, err := a.engine.Reconcile(ctx, id, topic)
		if err != nil {
			return err
		}
		results = append(results, res)
	} else if results, err = a.engine.ReconcileAll(ctx, id); err != nil {
		return err
	}
	changed := 0
	for _, r := range results {
		if r.Changed {
			changed++
			fmt.Fprintf(out, "topic %d: %d/%d -> %d/%d\n", r.After.TopicID,
				r.Before.TotalCorrect, r.Before.TotalQuestions, r.After.TotalCorrect, r.After.TotalQuestions)
		}
	}
	fmt.Fprintf(out, "%d topic(s) reconciled\n", changed)
	return nil
}
