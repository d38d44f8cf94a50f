package copilot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/metrics"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/telemetry"
)

// defaultMaxTurns guards against a runaway tool loop.
const defaultMaxTurns = 50

// Tool result types reported back to the runtime.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// ToolResult is what a tool handler hands back to the model.
type ToolResult struct {
	TextForLLM string `json:"text_for_llm"`
	ResultType string `json:"result_type"`
	Error      string `json:"error,omitempty"`
}

// ToolHandler executes one tool call. Handlers report failures inside
// the result; returned results are passed to the model verbatim.
type ToolHandler func(ctx context.Context, args map[string]any) ToolResult

// ToolDefinition registers a callable tool with a session.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is the JSON-schema object describing the arguments.
	Parameters map[string]any
	Handler    ToolHandler
}

// SessionConfig configures one runtime session.
type SessionConfig struct {
	// JobID tags error-hook events and log lines.
	JobID        string
	Model        string
	SystemPrompt string
	Tools        []ToolDefinition
	// Provider is the optional BYOK override.
	Provider *ProviderConfig
	// MaxTurns overrides defaultMaxTurns when positive.
	MaxTurns int
	// OnError resolves session errors; Classify is used when nil.
	OnError ErrorHook
	// OnUsage fires after every turn that carried usage data.
	OnUsage func(UsageSnapshot)
}

// Session is one open conversation with the runtime.
type Session struct {
	client   *Client
	id       string
	cfg      SessionConfig
	tools    map[string]ToolDefinition
	maxTurns int
	logger   *zap.Logger
}

// NewSession opens a session with the runtime, registering the tool
// set and the optional provider override.
func (c *Client) NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	req := createSessionRequest{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
	}
	for _, tool := range cfg.Tools {
		req.Tools = append(req.Tools, wireTool{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	if cfg.Provider.Enabled() {
		req.Provider = cfg.Provider
	}

	id, err := c.createSession(ctx, req)
	if err != nil {
		return nil, err
	}

	tools := make(map[string]ToolDefinition, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		tools[tool.Name] = tool
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Session{
		client:   c,
		id:       id,
		cfg:      cfg,
		tools:    tools,
		maxTurns: maxTurns,
		logger:   c.logger.With(zap.String("session_id", id), zap.String("job_id", cfg.JobID)),
	}, nil
}

// ID returns the runtime-assigned session id.
func (s *Session) ID() string {
	return s.id
}

// Run drives the session to completion: send the prompt, execute any
// requested tool calls, feed the results back, and repeat until the
// model answers without tool calls. Returns the final content.
func (s *Session) Run(ctx context.Context, prompt string) (string, error) {
	req := turnRequest{Content: prompt}

	for turn := 1; turn <= s.maxTurns; turn++ {
		tctx, span := telemetry.StartTurnSpan(ctx, s.cfg.Model, turn)
		resp, err := s.send(tctx, req)
		if err != nil {
			span.RecordError(err)
			telemetry.EndTurnSpan(span, 0, 0, false)
			return "", err
		}
		metrics.RecordAgentTurn(s.cfg.Model)

		if resp.Usage != nil {
			telemetry.EndTurnSpan(span,
				int64(resp.Usage.InputTokens), int64(resp.Usage.OutputTokens),
				len(resp.ToolCalls) > 0)
			if s.cfg.OnUsage != nil {
				s.cfg.OnUsage(*resp.Usage)
			}
		} else {
			telemetry.EndTurnSpan(span, 0, 0, len(resp.ToolCalls) > 0)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		results := make([]wireToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			results = append(results, wireToolResult{
				CallID:     call.ID,
				ToolResult: s.invokeTool(tctx, call),
			})
		}
		req = turnRequest{ToolResults: results}
	}

	return "", fmt.Errorf("session exceeded %d turns without a final answer", s.maxTurns)
}

// Destroy releases the runtime session. Callers typically defer this
// and ignore the error.
func (s *Session) Destroy(ctx context.Context) error {
	if err := s.client.destroySession(ctx, s.id); err != nil {
		return fmt.Errorf("destroy session %s: %w", s.id, err)
	}
	return nil
}

// send performs one turn, consulting the error hook on failure. A
// retry resolution grants a fixed budget of extra tries; everything
// else aborts the run.
func (s *Session) send(ctx context.Context, req turnRequest) (*TurnResponse, error) {
	retries := 0
	granted := false
	for {
		resp, err := s.client.sendTurn(ctx, s.id, req)
		if err == nil {
			return resp, nil
		}

		res := s.resolve(ErrorEvent{
			JobID:       s.cfg.JobID,
			Text:        err.Error(),
			Context:     ContextModelCall,
			Recoverable: recoverable(err),
		})
		if res.Action == ActionRetry {
			if !granted {
				retries = res.RetryCount
				granted = true
			}
			if retries > 0 {
				retries--
				s.logger.Warn("retrying turn after model error",
					zap.Int("retries_left", retries), zap.Error(err))
				continue
			}
		}
		if res.Note != "" {
			return nil, fmt.Errorf("%s: %w", res.Note, err)
		}
		return nil, fmt.Errorf("turn failed: %w", err)
	}
}

// invokeTool runs one registered handler. Panics and unknown tools
// become failure results so the model can plan an alternative step;
// nothing propagates into the loop.
func (s *Session) invokeTool(ctx context.Context, call ToolCall) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("tool %s panicked: %v", call.Name, r)
			s.resolve(ErrorEvent{
				JobID:   s.cfg.JobID,
				Text:    err.Error(),
				Context: ContextToolExecution,
			})
			result = ToolResult{
				TextForLLM: fmt.Sprintf("Tool %s failed: %v", call.Name, r),
				ResultType: ResultFailure,
				Error:      err.Error(),
			}
		}
	}()

	def, ok := s.tools[call.Name]
	if !ok {
		return ToolResult{
			TextForLLM: fmt.Sprintf("Tool %q is not available in this session.", call.Name),
			ResultType: ResultFailure,
			Error:      "unknown tool",
		}
	}

	result = def.Handler(ctx, call.Arguments)
	if result.ResultType == "" {
		result.ResultType = ResultSuccess
	}
	return result
}

func (s *Session) resolve(ev ErrorEvent) Resolution {
	if s.cfg.OnError != nil {
		return s.cfg.OnError(ev)
	}
	return Classify(ev)
}

// recoverable reports whether a turn error is worth retrying: yes for
// transport errors and 5xx, no for 4xx.
func recoverable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}
