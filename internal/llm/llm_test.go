package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/studyledger/internal/llm/prompts"
)

// fakeAPI serves the two OpenAI endpoints the client uses.
func fakeAPI(t *testing.T, answer string, gotPrompt *string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"coach-model","object":"model","owned_by":"test"}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) > 0 {
			*gotPrompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "coach-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": answer},
				"finish_reason": "stop",
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, modelName string) *Client {
	t.Helper()
	set, err := prompts.Load(prompts.Templates)
	if err != nil {
		t.Fatalf("load prompts: %v", err)
	}
	return New(srv.URL+"/v1", "test-key", modelName, set)
}

func TestAdvise(t *testing.T) {
	var prompt string
	srv := fakeAPI(t, "  Review topic 4 first.\n", &prompt)
	c := newTestClient(t, srv, "coach-model")

	data := prompts.CoachData{Profile: "Prefeitura, Analista (2025)", Language: "English", Questions: 10, Correct: 4}
	advice, err := c.Advise(context.Background(), prompts.ToneStrict, data)
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if advice.Advice != "Review topic 4 first." {
		t.Errorf("advice = %q", advice.Advice)
	}
	if advice.Tone != prompts.ToneStrict || advice.Model != "coach-model" {
		t.Errorf("advice metadata = %+v", advice)
	}
	if !strings.Contains(prompt, "Prefeitura, Analista (2025)") {
		t.Errorf("system prompt missing profile:\n%s", prompt)
	}
}

func TestAdviseEmptyAnswer(t *testing.T) {
	var prompt string
	srv := fakeAPI(t, "   ", &prompt)
	c := newTestClient(t, srv, "coach-model")

	if _, err := c.Advise(context.Background(), prompts.ToneStandard, prompts.CoachData{}); err == nil {
		t.Error("empty answer should fail")
	}
}

func TestPing(t *testing.T) {
	var prompt string
	srv := fakeAPI(t, "", &prompt)

	if err := newTestClient(t, srv, "coach-model").Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := newTestClient(t, srv, "other-model").Ping(context.Background()); err == nil {
		t.Error("Ping should fail for a model the API does not serve")
	}
}
