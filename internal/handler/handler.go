// Package handler serves the ledger over a JSON HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/studyledger/internal/i18n"
	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/llm"
	"github.com/pavelanni/studyledger/internal/llm/prompts"
	"github.com/pavelanni/studyledger/internal/model"
	"github.com/pavelanni/studyledger/internal/syllabus"
)

// Store is the persistence the API reads from directly.
type Store interface {
	ledger.Repository
	ledger.ProfileStore
	syllabus.Metadata
}

// AggregateCache serves a profile's aggregates, loading them on a miss.
type AggregateCache interface {
	Aggregates(ctx context.Context, profileID string,
		load func(context.Context, string) ([]model.AggregateEntry, error)) ([]model.AggregateEntry, error)
}

// Coach produces study advice.
type Coach interface {
	Advise(ctx context.Context, tone prompts.Tone, data prompts.CoachData) (llm.Advice, error)
}

// Config holds API settings.
type Config struct {
	// Priority disciplines are suggested first in action plans.
	Priority  []string
	CoachTone prompts.Tone
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	engine   *ledger.Engine
	profiles *ledger.Profiles
	store    Store
	cache    AggregateCache
	coach    Coach
	config   Config
	validate *validator.Validate
}

// Option configures optional Handler dependencies.
type Option func(*Handler)

// WithCache serves topic lists through c.
func WithCache(c AggregateCache) Option {
	return func(h *Handler) { h.cache = c }
}

// WithCoach enables the coach endpoint.
func WithCoach(c Coach) Option {
	return func(h *Handler) { h.coach = c }
}

// New creates a new Handler.
func New(engine *ledger.Engine, profiles *ledger.Profiles, store Store, cfg Config, opts ...Option) *Handler {
	if cfg.CoachTone == "" {
		cfg.CoachTone = prompts.ToneStandard
	}
	h := &Handler{
		engine:   engine,
		profiles: profiles,
		store:    store,
		config:   cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// NewRouter builds the full HTTP router: health and metrics in the open,
// the API under /api behind owner authentication.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(i18n.Middleware)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(api chi.Router) {
		api.Use(h.requireOwner)
		h.Routes(api)
	})
	return r
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/profiles", h.handleListProfiles)
	r.Post("/profiles", h.handleCreateProfile)
	r.Route("/profiles/{profileID}", func(r chi.Router) {
		r.Get("/", h.handleGetProfile)
		r.Post("/archive", h.handleArchive)
		r.Post("/reactivate", h.handleReactivate)
		r.Put("/final-score", h.handleFinalScore)
		r.Put("/structure", h.handleStructure)
		r.Post("/syllabus", h.handleImportSyllabus)

		r.Get("/topics", h.handleListTopics)
		r.Get("/topics/{topicID}", h.handleGetTopic)
		r.Put("/topics/{topicID}/theory", h.handleTheory)
		r.Put("/theory", h.handleTheoryBatch)

		r.Post("/sessions", h.handleSessions)
		r.Get("/history", h.handleHistory)
		r.Delete("/history/{recordID}", h.handleRetract)
		r.Get("/audit", h.handleAudit)
		r.Post("/reconcile", h.handleReconcile)

		r.Get("/study-time", h.handleListStudyTime)
		r.Post("/study-time", h.handleLogStudyTime)

		r.Get("/reports/{report}", h.handleReport)
		r.Get("/coach", h.handleCoach)
		r.Get("/export", h.handleExport)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ListProfiles(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// topicView is an aggregate with its localized tier label.
type topicView struct {
	model.AggregateEntry
	TierLabel string `json:"tier_label"`
}

func newTopicView(ctx context.Context, a model.AggregateEntry) topicView {
	return topicView{AggregateEntry: a, TierLabel: i18n.TierLabel(ctx, a.Tier)}
}

func topicViews(ctx context.Context, entries []model.AggregateEntry) []topicView {
	out := make([]topicView, 0, len(entries))
	for _, a := range entries {
		out = append(out, newTopicView(ctx, a))
	}
	return out
}

// aggregates lists a profile's topics, through the cache when one is set.
func (h *Handler) aggregates(ctx context.Context, profileID string) ([]model.AggregateEntry, error) {
	if h.cache == nil {
		return h.engine.ListAggregates(ctx, profileID)
	}
	return h.cache.Aggregates(ctx, profileID, h.engine.ListAggregates)
}

// profile loads the profile named in the URL, writing the error response on failure.
func (h *Handler) profile(w http.ResponseWriter, r *http.Request) (model.Profile, bool) {
	p, err := h.profiles.Get(r.Context(), chi.URLParam(r, "profileID"))
	if err != nil {
		writeError(w, r, err)
		return p, false
	}
	return p, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error(), Kind: "invalid_input"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid " + name, Kind: "invalid_input"})
		return 0, false
	}
	return v, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid " + name, Kind: "invalid_input"})
		return 0, false
	}
	return v, true
}

type errorBody struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
	Hint   string            `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "invalid_input"})
		return
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Namespace()] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Kind: "invalid_input", Fields: fields})
}

// statusOf maps a ledger error kind to an HTTP status and a kind name.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrConsistencyViolation):
		return http.StatusConflict, "consistency_violation"
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		return http.StatusConflict, "already_initialized"
	case errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusOf(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	if errors.Is(err, ledger.ErrConsistencyViolation) {
		body.Hint = i18n.T(r.Context(), "ConsistencyHint")
	}
	writeJSON(w, status, body)
}
