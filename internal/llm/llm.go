// Package llm asks an OpenAI-compatible model for study advice.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/studyledger/internal/llm/prompts"
)

// Advice is the coach's answer.
type Advice struct {
	Tone   prompts.Tone `json:"tone"`
	Model  string       `json:"model"`
	Advice string       `json:"advice"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	prompts *prompts.Set
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, set *prompts.Set) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		prompts: set,
	}
}

// Ping checks that the API answers and serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range list.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served by the API", c.model)
}

// Advise renders the coach prompt for tone and returns the model's plan.
func (c *Client) Advise(ctx context.Context, tone prompts.Tone, data prompts.CoachData) (Advice, error) {
	prompt, err := c.prompts.BuildCoachPrompt(tone, data)
	if err != nil {
		return Advice{}, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: "What should I study next?"},
		},
		Temperature: 0.4,
	})
	if err != nil {
		return Advice{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Advice{}, errors.New("LLM returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("LLM response", "tone", tone, "chars", len(text))
	if text == "" {
		return Advice{}, errors.New("LLM returned an empty answer")
	}
	return Advice{Tone: tone, Model: c.model, Advice: text}, nil
}
