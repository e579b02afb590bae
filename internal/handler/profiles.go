package handler

import (
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
	"github.com/pavelanni/studyledger/internal/syllabus"
)

// maxSyllabusBytes caps uploaded syllabus files.
const maxSyllabusBytes = 4 << 20

type createProfileRequest struct {
	Name      string              `json:"name" validate:"required,max=200"`
	Role      string              `json:"role" validate:"required,max=200"`
	Year      int                 `json:"year" validate:"required,gte=1900,lte=9999"`
	Structure model.ExamStructure `json:"structure"`
}

type archiveRequest struct {
	FinalScore *float64 `json:"final_score" validate:"omitempty,gte=0"`
}

type finalScoreRequest struct {
	Score *float64 `json:"score" validate:"required,gte=0"`
}

type structureRequest struct {
	Structure model.ExamStructure `json:"structure" validate:"required,min=1"`
}

type syllabusRequest struct {
	Topics []ledger.SyllabusEntry `json:"topics" validate:"required,min=1,dive"`
}

func (h *Handler) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := h.profiles.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Profile{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.profiles.Create(r.Context(), req.Name, req.Role, req.Year, req.Structure)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	p, err := h.profiles.Archive(r.Context(), profileID(r), req.FinalScore)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Reactivate(r.Context(), profileID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleFinalScore(w http.ResponseWriter, r *http.Request) {
	var req finalScoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.profiles.SetFinalScore(r.Context(), profileID(r), *req.Score)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleStructure(w http.ResponseWriter, r *http.Request) {
	var req structureRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.profiles.SetStructure(r.Context(), profileID(r), req.Structure)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleImportSyllabus accepts either a CSV file (text/csv) or a JSON list
// of topics.
func (h *Handler) handleImportSyllabus(w http.ResponseWriter, r *http.Request) {
	id := profileID(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxSyllabusBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error(), Kind: "invalid_input"})
			return
		}
		res, err := syllabus.Import(r.Context(), h.engine, h.store, id, data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusCreated
		if res.Unchanged {
			status = http.StatusOK
		}
		writeJSON(w, status, res)
		return
	}

	var req syllabusRequest
	if !h.decode(w, r, &req) {
		return
	}
	topics, err := h.engine.ImportSyllabus(r.Context(), id, req.Topics)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, topicViews(r.Context(), topics))
}

func profileID(r *http.Request) string {
	return chi.URLParam(r, "profileID")
}
