package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/studyledger/internal/i18n"
	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/llm/prompts"
	"github.com/pavelanni/studyledger/internal/model"
	"github.com/pavelanni/studyledger/internal/report"
)

type studyTimeRequest struct {
	Discipline string `json:"discipline" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Minutes    int    `json:"minutes" validate:"required,gt=0,lte=360"`
}

func (h *Handler) handleListStudyTime(w http.ResponseWriter, r *http.Request) {
	entries, err := h.profiles.StudyTime(r.Context(), profileID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.StudyTimeEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleLogStudyTime(w http.ResponseWriter, r *http.Request) {
	var req studyTimeRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		writeError(w, r, ledger.Invalid("log study time", "bad date %q", req.Date))
		return
	}
	entry, err := h.profiles.LogStudyTime(r.Context(), profileID(r), req.Discipline, date, req.Minutes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// priority returns the ?priority=a,b disciplines, or the configured ones.
func (h *Handler) priority(r *http.Request) []string {
	q := r.URL.Query().Get("priority")
	if q == "" {
		return h.config.Priority
	}
	var out []string
	for _, d := range strings.Split(q, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := profileID(r)
	name := chi.URLParam(r, "report")

	switch name {
	case "daily", "periods":
		records, err := h.engine.ListHistory(ctx, id, 0)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if name == "daily" {
			writeJSON(w, http.StatusOK, report.Daily(records))
			return
		}
		q := r.URL.Query().Get("period")
		if q == "" {
			q = string(report.Week)
		}
		period, err := report.ParsePeriod(q)
		if err != nil {
			writeError(w, r, ledger.Invalid("report", "%v", err))
			return
		}
		out, err := report.ByPeriod(records, period)
		if err != nil {
			writeError(w, r, ledger.Invalid("report", "%v", err))
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	case "study-time":
		entries, err := h.profiles.StudyTime(ctx, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report.StudyTime(entries))
		return
	}

	entries, err := h.aggregates(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch name {
	case "disciplines":
		writeJSON(w, http.StatusOK, report.ByDiscipline(entries))
	case "summary":
		writeJSON(w, http.StatusOK, report.Overall(entries))
	case "plan":
		writeJSON(w, http.StatusOK, report.ActionPlan(entries, h.priority(r)))
	case "theory":
		writeJSON(w, http.StatusOK, report.PendingTheory(entries))
	case "final":
		p, ok := h.profile(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, report.FinalAnalysis(p, entries))
	default:
		writeError(w, r, ledger.NotFound("report", "unknown report %q", name))
	}
}

func (h *Handler) handleCoach(w http.ResponseWriter, r *http.Request) {
	if h.coach == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "coach is not configured", Kind: "unavailable"})
		return
	}
	tone := h.config.CoachTone
	if q := r.URL.Query().Get("tone"); q != "" {
		if !prompts.IsValidTone(q) {
			writeError(w, r, ledger.Invalid("coach", "unknown tone %q", q))
			return
		}
		tone = prompts.Tone(q)
	}

	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	entries, err := h.aggregates(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := prompts.NewCoachData(p, i18n.T(r.Context(), "CoachLanguage"),
		report.Overall(entries), report.ByDiscipline(entries), report.ActionPlan(entries, h.priority(r)))
	advice, err := h.coach.Advise(r.Context(), tone, data)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Kind: "coach_failed"})
		return
	}
	writeJSON(w, http.StatusOK, advice)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := profileID(r)
	out, err := ledger.Export(r.Context(), h.store, h.store, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, id))
	writeJSON(w, http.StatusOK, out)
}
