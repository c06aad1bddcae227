// Package llm writes narrative outbreak bulletins through the Anthropic
// Messages API.
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
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultURL   = "https://api.anthropic.com/v1/messages"
	apiVersion   = "2023-06-01"
	DefaultModel = "claude-haiku-4-5-20251001"

	// defaultCooldown applies when the API throttles without a Retry-After.
	defaultCooldown = 30 * time.Second
	maxResponseBody = 1 << 20
)

// ErrCoolingDown is returned while the client waits out an upstream
// throttle. Bulletins fall back to plain text in the meantime.
var ErrCoolingDown = errors.New("llm cooling down after throttle")

// APIError is a non-200 answer from the Messages API.
type APIError struct {
	Status  int
	Type    string // e.g. "overloaded_error", "rate_limit_error"
	Message string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error %d (%s): %s", e.Status, e.Type, e.Message)
}

// Throttled reports whether the API asked the caller to back off.
func (e *APIError) Throttled() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == 529
}

// Client wraps the Messages endpoint for bulletin text.
type Client struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	coolUntil time.Time
}

// NewClient creates a new API client. An empty model uses DefaultModel.
// Returns nil if apiKey is empty (LLM features disabled).
func NewClient(apiKey, model string) *Client {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		url:        defaultURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// WithURL points the client at another Messages endpoint.
func (c *Client) WithURL(url string) *Client {
	c.url = url
	return c
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Write sends one bulletin prompt and returns the text. A reply cut off at
// maxTokens is trimmed back to its last full sentence.
func (c *Client) Write(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", errors.New("LLM client not configured")
	}

	c.mu.Lock()
	until := c.coolUntil
	c.mu.Unlock()
	if c.now().Before(until) {
		return "", ErrCoolingDown
	}

	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := decodeAPIError(resp.StatusCode, respBody)
		if apiErr.Throttled() {
			c.coolDown(resp.Header.Get("Retry-After"))
		}
		return "", apiErr
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	var parts []string
	for _, block := range apiResp.Content {
		if block.Type == "" || block.Type == "text" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if apiResp.StopReason == "max_tokens" {
		text = lastSentence(text)
	}
	if text == "" {
		return "", errors.New("empty response")
	}

	slog.Debug("llm call",
		"model", c.model,
		"stop_reason", apiResp.StopReason,
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
	)
	return text, nil
}

func (c *Client) coolDown(retryAfter string) {
	wait := defaultCooldown
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
		wait = time.Duration(secs) * time.Second
	}
	c.mu.Lock()
	c.coolUntil = c.now().Add(wait)
	c.mu.Unlock()
	slog.Warn("llm throttled", "cooldown", wait)
}

func decodeAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
		e.Type, e.Message = eb.Error.Type, eb.Error.Message
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	return e
}

// lastSentence cuts s after its final sentence terminator. Text without one
// is returned unchanged.
func lastSentence(s string) string {
	if i := strings.LastIndexAny(s, ".!?"); i >= 0 {
		return s[:i+1]
	}
	return s
}
