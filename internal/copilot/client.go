// Package copilot is the client for the downstream LLM agent runtime.
// It exposes the session lifecycle (create, send turns, destroy), the
// tool-callback loop, the error-hook classification, and an
// identity-keyed client cache with idle eviction.
package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// maxAttempts bounds doWithRetry: one initial try plus two retries.
// Only transport errors and 5xx are retried; 4xx fails immediately.
const maxAttempts = 3

// ClientConfig configures a runtime client.
type ClientConfig struct {
	// BaseURL is the runtime root, without a trailing slash.
	BaseURL string
	// Token authenticates every request as a bearer token.
	Token string
	// HTTPClient overrides the default client. Cached clients share
	// one so sessions reuse the connection pool.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the agent runtime over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a runtime client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger.Named("copilot"),
	}
}

// Token returns the bearer token the client was dialed with.
func (c *Client) Token() string {
	return c.token
}

// Close releases idle connections. Safe to call more than once.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// APIError is a non-2xx response from the runtime.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runtime API error (status %d): %s", e.StatusCode, e.Message)
}

type createSessionRequest struct {
	Model        string          `json:"model"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Tools        []wireTool      `json:"tools,omitempty"`
	Provider     *ProviderConfig `json:"provider,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type turnRequest struct {
	Content     string           `json:"content,omitempty"`
	ToolResults []wireToolResult `json:"tool_results,omitempty"`
}

type wireToolResult struct {
	CallID string `json:"call_id"`
	ToolResult
}

// ToolCall is the runtime asking for one registered tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// TurnResponse is the runtime's answer to one send-and-wait turn.
type TurnResponse struct {
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	Usage      *UsageSnapshot `json:"usage,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// UsageSnapshot is the usage event attached to a turn. The quota
// fields are pointers so a partial event is distinguishable from
// zero values when merged into the quota monitor.
type UsageSnapshot struct {
	InputTokens         int      `json:"input_tokens,omitempty"`
	OutputTokens        int      `json:"output_tokens,omitempty"`
	RemainingPercent    *float64 `json:"remaining_percent,omitempty"`
	UsedRequests        *int     `json:"used_requests,omitempty"`
	EntitlementRequests *int     `json:"entitlement_requests,omitempty"`
	Unlimited           *bool    `json:"unlimited,omitempty"`
	ResetDate           *string  `json:"reset_date,omitempty"`
}

// HasQuota reports whether the event carries any quota field worth
// forwarding to the monitor.
func (u UsageSnapshot) HasQuota() bool {
	return u.RemainingPercent != nil || u.UsedRequests != nil ||
		u.EntitlementRequests != nil || u.Unlimited != nil || u.ResetDate != nil
}

// ProviderConfig is the BYOK override sent at session creation. It is
// only honored when both Type and BaseURL are set.
type ProviderConfig struct {
	Type    string `json:"type"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
}

// Enabled reports whether the override is complete enough to send.
func (p *ProviderConfig) Enabled() bool {
	return p != nil && p.Type != "" && p.BaseURL != ""
}

func (c *Client) createSession(ctx context.Context, req createSessionRequest) (string, error) {
	var resp createSessionResponse
	if err := c.doWithRetry(ctx, http.MethodPost, "/v1/sessions", req, &resp); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("create session: runtime returned no session id")
	}
	return resp.SessionID, nil
}

func (c *Client) sendTurn(ctx context.Context, sessionID string, req turnRequest) (*TurnResponse, error) {
	var resp TurnResponse
	if err := c.doWithRetry(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/turns", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) destroySession(ctx context.Context, sessionID string) error {
	return c.doWithRetry(ctx, http.MethodDelete, "/v1/sessions/"+sessionID, nil, nil)
}

// doWithRetry sends one JSON request with exponential backoff. 4xx
// responses and encode/decode failures are permanent; transport
// errors and 5xx are retried up to maxAttempts total tries.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal runtime request: %w", err)
		}
	}

	op := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build runtime request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("runtime request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read runtime response: %w", err)
		}
		if resp.StatusCode >= 500 {
			c.logger.Warn("runtime request failed, will retry",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(data)}
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Message: apiMessage(data)})
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode runtime response: %w", err))
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), maxAttempts-1))
}

func apiMessage(body []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	msg := string(body)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
