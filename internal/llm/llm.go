package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/recitation/internal/llm/prompts"
	"github.com/pavelanni/recitation/internal/model"
)

// Client is the diagnostic analyzer backed by an OpenAI-compatible chat API.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client using the given prompt variant.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if err := prompts.Load(prompts.FS); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}, nil
}

// Ping checks that the endpoint is reachable by listing its models.
func (c *Client) Ping(ctx context.Context) error {
	models, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	slog.Debug("LLM models available", "count", len(models.Models))
	return nil
}

// Analyze compares a transcribed recording with the reference cards of its
// session and returns a normalized diagnostic report.
func (c *Client) Analyze(ctx context.Context, unitID string, sessionIndex int, cards []model.Card, tr model.Transcript) (*model.DiagnosticReport, error) {
	systemPrompt, err := prompts.BuildAnalyzePrompt(c.variant, unitID, sessionIndex, cards, tr)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Analyze the recording and return the report."},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response",
		"unit_id", unitID,
		"session_index", sessionIndex,
		"elapsed", time.Since(start),
		"total_tokens", resp.Usage.TotalTokens,
		"raw", raw,
	)

	report, err := parseReport(raw)
	if err != nil {
		return nil, err
	}
	report.Normalize(unitID, sessionIndex, cards, tr)
	return report, nil
}

// parseReport decodes the model output, falling back to the content of a
// markdown code fence when the model wrapped its JSON in one.
func parseReport(raw string) (*model.DiagnosticReport, error) {
	var report model.DiagnosticReport
	if err := json.Unmarshal([]byte(raw), &report); err == nil {
		return &report, nil
	}

	extracted := extractJSON(raw)
	if err := json.Unmarshal([]byte(extracted), &report); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, truncate(raw, 500))
	}
	slog.Debug("parsed LLM response from markdown fence")
	return &report, nil
}

func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if i := strings.Index(content, "```"); i >= 0 {
		content = content[i+3:]
		content = strings.TrimPrefix(content, "json")
		if j := strings.Index(content, "```"); j >= 0 {
			content = content[:j]
		}
		return strings.TrimSpace(content)
	}

	// Some models add a sentence before or after the object.
	if i, j := strings.Index(content, "{"), strings.LastIndex(content, "}"); i >= 0 && j > i {
		return content[i : j+1]
	}
	return content
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
