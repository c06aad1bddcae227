// Package client drives a remote contagion service over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/talgya/contagion/internal/engine"
)

const sessionHeader = "X-Session-ID"

// Client talks to one session on a contagion service.
type Client struct {
	BaseURL    string
	SessionID  string // Empty until Initialize, or set to join an existing session
	AdminKey   string // Bearer token for autoplay control
	HTTPClient *http.Client
}

// New creates a Client targeting the given API base URL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Initialize starts a new run and adopts the session id the server assigns.
func (c *Client) Initialize(ctx context.Context, p engine.Parameters) (engine.State, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return engine.State{}, fmt.Errorf("marshal parameters: %w", err)
	}
	resp, raw, err := c.do(ctx, http.MethodPost, "/epidemic/initialize", body, false)
	if err != nil {
		return engine.State{}, err
	}
	if id := resp.Header.Get(sessionHeader); id != "" {
		c.SessionID = id
	}
	return decodeState("initialize", raw)
}

// Update advances the session one day. It returns engine.ErrNotInitialized
// when the server reports the session was never initialized.
func (c *Client) Update(ctx context.Context) (engine.State, error) {
	_, raw, err := c.do(ctx, http.MethodGet, "/epidemic/update", nil, false)
	if err != nil {
		return engine.State{}, err
	}
	return decodeState("update", raw)
}

// State fetches the current snapshot without advancing.
func (c *Client) State(ctx context.Context) (engine.State, error) {
	_, raw, err := c.do(ctx, http.MethodGet, "/epidemic/state", nil, false)
	if err != nil {
		return engine.State{}, err
	}
	return decodeState("state", raw)
}

// SetAutoplay sets the server-side autoplay speed and returns the applied value.
func (c *Client) SetAutoplay(ctx context.Context, speed float64) (float64, error) {
	body, _ := json.Marshal(map[string]float64{"speed": speed})
	_, raw, err := c.do(ctx, http.MethodPost, "/epidemic/autoplay", body, true)
	if err != nil {
		return 0, err
	}
	if isSoftError(raw) {
		return 0, engine.ErrNotInitialized
	}
	var out struct {
		Speed float64 `json:"speed"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode autoplay: %w", err)
	}
	return out.Speed, nil
}

// WaitReady polls the service root with exponential backoff until it
// responds or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	maxBackoff := 30 * time.Second

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/", nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := c.HTTPClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		slog.Info("service not ready, retrying", "url", c.BaseURL, "backoff", backoff)

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", c.BaseURL, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, admin bool) (*http.Response, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.SessionID != "" {
		req.Header.Set(sessionHeader, c.SessionID)
	}
	if admin && c.AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	return resp, raw, nil
}

func isSoftError(raw []byte) bool {
	var soft engine.SoftError
	return json.Unmarshal(raw, &soft) == nil && soft.Error != ""
}

func decodeState(op string, raw []byte) (engine.State, error) {
	if isSoftError(raw) {
		return engine.State{}, engine.ErrNotInitialized
	}
	var st engine.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return engine.State{}, fmt.Errorf("decode %s: %w", op, err)
	}
	return st, nil
}
