// Package llm talks to the text model that writes agent dialogue,
// summarizes conversations and rates memories.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
	model      = "claude-haiku-4-5-20251001"
)

var (
	// ErrDisabled is returned by a client without an API key.
	ErrDisabled = errors.New("LLM client not configured")
	// ErrRateLimited is returned when the per-minute call budget is spent.
	ErrRateLimited = errors.New("LLM rate limit exceeded")
)

// Client calls the Anthropic Messages API under a per-minute call budget.
type Client struct {
	apiKey     string
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient returns nil when apiKey is empty; a nil client reports
// Enabled() == false and every call returns ErrDisabled.
func NewClient(apiKey string, perMinute int) *Client {
	if apiKey == "" {
		return nil
	}
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Client{
		apiKey: apiKey,
		url:    apiURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Message is one conversation turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type response struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends one user turn with a system prompt and returns the first
// text block of the reply. Calls over the per-minute budget fail fast with
// ErrRateLimited instead of waiting.
func (c *Client) Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if !c.limiter.Allow() {
		return "", ErrRateLimited
	}

	payload, err := json.Marshal(request{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []Message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Content) == 0 {
		return "", errors.New("completion: no content")
	}

	slog.Debug("completion",
		"in", out.Usage.InputTokens,
		"out", out.Usage.OutputTokens,
		"took", time.Since(started),
	)
	return out.Content[0].Text, nil
}
