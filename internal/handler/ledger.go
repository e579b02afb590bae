package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

type theoryRequest struct {
	Done *bool `json:"done" validate:"required"`
}

type theoryBatchRequest struct {
	TopicIDs []int64 `json:"topic_ids" validate:"required,min=1,dive,gt=0"`
	Done     *bool   `json:"done" validate:"required"`
}

type sessionsRequest struct {
	Date    string                 `json:"date" validate:"required,datetime=2006-01-02"`
	Results []ledger.SessionResult `json:"results" validate:"required,min=1,dive"`
}

type sessionView struct {
	Aggregate topicView          `json:"aggregate"`
	Record    model.HistoryRecord `json:"record"`
}

type retractView struct {
	Aggregate topicView                `json:"aggregate"`
	Record    model.HistoryRecord      `json:"record"`
	Repaired  []ledger.ReconcileResult `json:"repaired,omitempty"`
}

func (h *Handler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	entries, err := h.aggregates(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topicViews(r.Context(), entries))
}

func (h *Handler) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	topicID, ok := pathInt(w, r, "topicID")
	if !ok {
		return
	}
	a, err := h.engine.GetAggregate(r.Context(), profileID(r), topicID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTopicView(r.Context(), a))
}

func (h *Handler) handleTheory(w http.ResponseWriter, r *http.Request) {
	topicID, ok := pathInt(w, r, "topicID")
	if !ok {
		return
	}
	var req theoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.engine.ToggleTheory(r.Context(), profileID(r), topicID, *req.Done)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTopicView(r.Context(), a))
}

func (h *Handler) handleTheoryBatch(w http.ResponseWriter, r *http.Request) {
	var req theoryBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	entries, err := h.engine.SetTheory(r.Context(), profileID(r), req.TopicIDs, *req.Done)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topicViews(r.Context(), entries))
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	var req sessionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		writeError(w, r, ledger.Invalid("apply", "bad date %q", req.Date))
		return
	}
	results, err := h.engine.ApplyBatch(r.Context(), profileID(r), date, req.Results)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(results))
	for _, res := range results {
		out = append(out, sessionView{Aggregate: newTopicView(r.Context(), res.Aggregate), Record: res.Record})
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	topicID, ok := queryInt(w, r, "topic")
	if !ok {
		return
	}
	records, err := h.engine.ListHistory(r.Context(), p.ID, topicID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []model.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleRetract removes one history record. With ?repair=true a topic found
// out of sync is reconciled and the retract retried.
func (h *Handler) handleRetract(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordID")
	var (
		res      ledger.RetractResult
		repaired []ledger.ReconcileResult
		err      error
	)
	if r.URL.Query().Get("repair") == "true" {
		res, repaired, err = h.engine.RetractWithRepair(r.Context(), profileID(r), recordID)
	} else {
		res, err = h.engine.Retract(r.Context(), profileID(r), recordID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retractView{
		Aggregate: newTopicView(r.Context(), res.Aggregate),
		Record:    res.Record,
		Repaired:  repaired,
	})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.engine.Audit(r.Context(), profileID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if drifts == nil {
		drifts = []ledger.Drift{}
	}
	writeJSON(w, http.StatusOK, drifts)
}

// handleReconcile repairs one topic (?topic=N) or every drifted topic.
func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	topicID, ok := queryInt(w, r, "topic")
	if !ok {
		return
	}
	if topicID > 0 {
		res, err := h.engine.Reconcile(r.Context(), profileID(r), topicID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, []ledger.ReconcileResult{res})
		return
	}
	results, err := h.engine.ReconcileAll(r.Context(), profileID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
