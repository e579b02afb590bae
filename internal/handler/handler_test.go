package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/studyledger/internal/i18n"
	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/llm"
	"github.com/pavelanni/studyledger/internal/llm/prompts"
	"github.com/pavelanni/studyledger/internal/model"
	"github.com/pavelanni/studyledger/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var today = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

const syllabusCSV = "Disciplina;Tópico do Edital\n" +
	"Português;Crase\n" +
	"Português;Regência\n" +
	"Matemática;Porcentagem\n"

type fakeCoach struct {
	tone prompts.Tone
	data prompts.CoachData
	err  error
}

func (c *fakeCoach) Advise(_ context.Context, tone prompts.Tone, data prompts.CoachData) (llm.Advice, error) {
	c.tone, c.data = tone, data
	if c.err != nil {
		return llm.Advice{}, c.err
	}
	return llm.Advice{Tone: tone, Model: "fake", Advice: "Review Crase."}, nil
}

type testServer struct {
	store  *store.Store
	server *httptest.Server
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	s, err := store.New(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := prometheus.NewRegistry()
	clock := func() time.Time { return today }
	engine := ledger.NewEngine(s,
		ledger.WithClock(clock),
		ledger.WithRetry(3, time.Millisecond),
		ledger.WithMetrics(ledger.NewMetrics(reg)),
	)
	h := New(engine, ledger.NewProfiles(s, clock), s, Config{Priority: []string{"Matemática"}}, opts...)
	srv := httptest.NewServer(NewRouter(h, reg))
	t.Cleanup(srv.Close)
	return &testServer{store: s, server: srv}
}

func (ts *testServer) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) doJSON(t *testing.T, method, path string, in any) *http.Response {
	t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return ts.do(t, method, path, "application/json", body)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// seed creates a profile with the three-topic syllabus and returns its id.
func (ts *testServer) seed(t *testing.T) string {
	t.Helper()
	resp := ts.doJSON(t, http.MethodPost, "/api/profiles", map[string]any{
		"name": "Prefeitura", "role": "Analista", "year": 2025,
		"structure": map[string]any{
			"Português":  map[string]any{"questions": 10, "weight": 1},
			"Matemática": map[string]any{"questions": 10, "weight": 2},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decodeBody[model.Profile](t, resp)

	resp = ts.do(t, http.MethodPost, "/api/profiles/"+p.ID+"/syllabus", "text/csv", strings.NewReader(syllabusCSV))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return p.ID
}

func (ts *testServer) applySession(t *testing.T, id string, results ...map[string]any) []sessionView {
	t.Helper()
	resp := ts.doJSON(t, http.MethodPost, "/api/profiles/"+id+"/sessions", map[string]any{
		"date": "2025-06-10", "results": results,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[[]sessionView](t, resp)
}

func TestSessionFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seed(t)
	base := "/api/profiles/" + id

	resp := ts.do(t, http.MethodPost, base+"/syllabus", "text/csv", strings.NewReader(syllabusCSV))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[map[string]any](t, resp)["unchanged"].(bool))

	out := ts.applySession(t, id,
		map[string]any{"topic_id": 1, "attempted": 10, "correct": 7},
		map[string]any{"topic_id": 3, "attempted": 5, "correct": 5},
	)
	require.Len(t, out, 2)
	assert.Equal(t, 70.0, out[0].Aggregate.Percentage)
	assert.Equal(t, model.TierDeveloping, out[0].Aggregate.Tier)
	assert.Equal(t, "Developing", out[0].Aggregate.TierLabel)
	assert.Equal(t, "Mastered", out[1].Aggregate.TierLabel)

	resp = ts.do(t, http.MethodGet, base+"/topics?lang=pt-BR", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	topics := decodeBody[[]topicView](t, resp)
	require.Len(t, topics, 3)
	assert.Equal(t, "Em Desenvolvimento", topics[0].TierLabel)
	assert.Equal(t, "Não Medido", topics[1].TierLabel)

	resp = ts.do(t, http.MethodGet, base+"/history?topic=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeBody[[]model.HistoryRecord](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, out[0].Record.ID, history[0].ID)

	resp = ts.do(t, http.MethodDelete, base+"/history/"+history[0].ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	retracted := decodeBody[retractView](t, resp)
	assert.Zero(t, retracted.Aggregate.TotalQuestions)
	assert.Equal(t, model.TierNotMeasured, retracted.Aggregate.Tier)

	resp = ts.do(t, http.MethodDelete, base+"/history/"+history[0].ID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/audit", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]ledger.Drift](t, resp))
}

func TestTheory(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seed(t)
	base := "/api/profiles/" + id

	resp := ts.doJSON(t, http.MethodPut, base+"/topics/2/theory", map[string]any{"done": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[topicView](t, resp).TheoryDone)

	resp = ts.doJSON(t, http.MethodPut, base+"/theory", map[string]any{"topic_ids": []int{1, 9}, "done": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/topics/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[topicView](t, resp).TheoryDone)

	resp = ts.doJSON(t, http.MethodPut, base+"/theory", map[string]any{"topic_ids": []int{1, 3}, "done": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]topicView](t, resp), 2)

	resp = ts.do(t, http.MethodGet, base+"/reports/theory", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]any](t, resp))
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seed(t)
	base := "/api/profiles/" + id

	resp := ts.doJSON(t, http.MethodPost, base+"/sessions", map[string]any{
		"date": "2025-06-10", "results": []map[string]any{{"topic_id": 1, "attempted": 5, "correct": 6}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, "invalid_input", body.Kind)
	assert.Equal(t, "ltefield", body.Fields["sessionsRequest.Results[0].Correct"])

	resp = ts.doJSON(t, http.MethodPost, base+"/sessions", map[string]any{
		"date": "2025-07-01", "results": []map[string]any{{"topic_id": 1, "attempted": 5, "correct": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, base+"/sessions", "application/json", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/topics/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/profiles/nobody", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeBody[errorBody](t, resp).Kind)

	resp = ts.doJSON(t, http.MethodPost, "/api/profiles", map[string]any{"name": "Prefeitura", "role": "Analista", "year": 2025})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_exists", decodeBody[errorBody](t, resp).Kind)

	resp = ts.do(t, http.MethodPost, base+"/syllabus", "text/csv", strings.NewReader(syllabusCSV+"Português;Crase II\n"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_initialized", decodeBody[errorBody](t, resp).Kind)
}

func TestSessionBatchIsAllOrNothing(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seed(t)
	base := "/api/profiles/" + id

	resp := ts.doJSON(t, http.MethodPost, base+"/sessions", map[string]any{
		"date": "2025-06-10", "results": []map[string]any{
			{"topic_id": 1, "attempted": 10, "correct": 5},
			{"topic_id": 999, "attempted": 3, "correct": 3},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", decodeBody[errorBody](t, resp).Kind)

	resp = ts.do(t, http.MethodGet, base+"/topics/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decodeBody[topicView](t, resp).TotalQuestions)

	resp = ts.do(t, http.MethodGet, base+"/history", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]model.HistoryRecord](t, resp))
}

func TestUnknownProfileListsAreNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	for _, path := range []string{"/api/profiles/nobody/topics", "/api/profiles/nobody/history"} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "not_found", decodeBody[errorBody](t, resp).Kind, path)
	}
}

func TestRetractRepair(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seed(t)
	base := "/api/profiles/" + id

	out := ts.applySession(t, id, map[string]any{"topic_id": 2, "attempted": 8, "correct": 8})
	_, err := ts.store.DB().Exec(
		`UPDATE topic_aggregates SET total_questions = 3, total_correct = 3 WHERE profile_id = ? AND topic_id = 2`, id)
	require.NoError(t, err)

	resp := ts.do(t, http.MethodDelete, base+"/history/"+out[0].Record.ID, "", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, "consistency_violation", body.Kind)
	assert.NotEmpty(t, body.Hint)

	resp = ts.do(t, http.MethodDelete, base+"/history/"+out[0].Record.ID+"?repair=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	retracted := decodeBody[retractView](t, resp)
	assert.Len(t, retracted.Repaired, 1)
	assert.Zero(t, retracted.Aggregate.TotalQuestions)
}

func TestReports(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seed(t)
	base := "/api/profiles/" + id

	ts.applySession(t, id,
		map[string]any{"topic_id": 1, "attempted": 10, "correct": 5},
		map[string]any{"topic_id": 3, "attempted": 10, "correct": 9},
	)

	resp := ts.do(t, http.MethodGet, base+"/reports/summary", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decodeBody[map[string]any](t, resp)
	assert.Equal(t, 70.0, summary["percentage"])
	assert.Equal(t, 2.0, summary["measured_topics"])

	resp = ts.do(t, http.MethodGet, base+"/reports/disciplines", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]any](t, resp), 2)

	resp = ts.do(t, http.MethodGet, base+"/reports/plan", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	plan := decodeBody[struct {
		Urgent      []model.AggregateEntry `json:"urgent"`
		Suggestions []model.AggregateEntry `json:"suggestions"`
	}](t, resp)
	require.Len(t, plan.Urgent, 1)
	assert.Equal(t, int64(1), plan.Urgent[0].TopicID)
	require.Len(t, plan.Suggestions, 1)
	assert.Equal(t, int64(2), plan.Suggestions[0].TopicID)

	resp = ts.do(t, http.MethodGet, base+"/reports/periods?period=month", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	periods := decodeBody[[]map[string]any](t, resp)
	require.Len(t, periods, 1)
	assert.Equal(t, "2025-06", periods[0]["period"])

	resp = ts.do(t, http.MethodGet, base+"/reports/periods?period=year", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/reports/final", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[map[string]any](t, resp)["lines"], 2)

	resp = ts.do(t, http.MethodGet, base+"/reports/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStudyTime(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seed(t)
	base := "/api/profiles/" + id

	resp := ts.doJSON(t, http.MethodPost, base+"/study-time", map[string]any{
		"discipline": "Português", "date": "2025-06-14", "minutes": 45,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.doJSON(t, http.MethodPost, base+"/study-time", map[string]any{
		"discipline": "Português", "date": "2025-06-14", "minutes": 400,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/reports/study-time", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 45.0, decodeBody[map[string]any](t, resp)["total_minutes"])

	resp = ts.do(t, http.MethodGet, base+"/export", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), id+".json")
	export := decodeBody[model.ProfileExport](t, resp)
	assert.Len(t, export.Topics, 3)
	assert.Len(t, export.StudyTime, 1)
}

func TestCoach(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seed(t)
	resp := ts.do(t, http.MethodGet, "/api/profiles/"+id+"/coach", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	coach := &fakeCoach{}
	ts = newTestServer(t, WithCoach(coach))
	id = ts.seed(t)
	base := "/api/profiles/" + id

	resp = ts.do(t, http.MethodGet, base+"/coach?tone=strict", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Review Crase.", decodeBody[llm.Advice](t, resp).Advice)
	assert.Equal(t, prompts.ToneStrict, coach.tone)
	assert.Equal(t, "English", coach.data.Language)
	assert.Equal(t, 3, coach.data.Topics)

	resp = ts.do(t, http.MethodGet, base+"/coach?tone=rude", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	coach.err = errors.New("model offline")
	resp = ts.do(t, http.MethodGet, base+"/coach", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, prompts.ToneStandard, coach.tone)
}

func TestOwnerAuth(t *testing.T) {
	ts := newTestServer(t)
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	require.NoError(t, ts.store.SetMetadata(context.Background(), model.MetaOwnerPasswordHash, hash))

	get := func(user, password string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ts.server.URL+"/api/profiles", nil)
		require.NoError(t, err)
		if user != "" {
			req.SetBasicAuth(user, password)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get("", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
	assert.Equal(t, http.StatusUnauthorized, get(OwnerUser, "wrong").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("admin", "s3cret").StatusCode)
	assert.Equal(t, http.StatusOK, get(OwnerUser, "s3cret").StatusCode)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "", nil).StatusCode)
	resp = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
