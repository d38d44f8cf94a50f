package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/agent"
)

type agentInput struct {
	Prompt string         `json:"prompt" jsonschema:"research task for the agent, at most 10000 characters"`
	URLs   []string       `json:"urls,omitempty" jsonschema:"URLs to focus the research on"`
	Schema map[string]any `json:"schema,omitempty" jsonschema:"JSON schema the final answer must match"`
	Model  string         `json:"model,omitempty" jsonschema:"model to run the session with; see scorch_agent_models"`
}

type agentStatusInput struct {
	ID string `json:"id" jsonschema:"agent job id returned by scorch_agent"`
}

type emptyInput struct{}

func (b *binding) registerAgentTools(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "scorch_agent",
		Description: "Start an autonomous web research job and return its job id",
	}, b.handleAgent)

	addTool(srv, &mcp.Tool{
		Name:        "scorch_agent_status",
		Description: "Poll an agent research job for progress and results",
	}, b.handleAgentStatus)

	addTool(srv, &mcp.Tool{
		Name:        "scorch_agent_models",
		Description: "List the models agent jobs may run with",
	}, b.handleAgentModels)

	addTool(srv, &mcp.Tool{
		Name:        "scorch_agent_rate_limit_status",
		Description: "Show agent admission limits and this caller's current usage",
	}, b.handleAgentRateLimitStatus)
}

func (b *binding) handleAgent(ctx context.Context, _ *mcp.CallToolRequest, input agentInput) (*mcp.CallToolResult, any, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, nil, fmt.Errorf("prompt is required")
	}
	if utf8.RuneCountInString(prompt) > agent.MaxPromptLength {
		return nil, nil, fmt.Errorf("prompt exceeds the maximum length of %d characters", agent.MaxPromptLength)
	}
	if err := b.requireEngineAuth(); err != nil {
		return nil, nil, err
	}

	resp := b.srv.agent.Start(ctx, agent.StartRequest{
		Prompt:        prompt,
		URLs:          input.URLs,
		Schema:        cleanMap(input.Schema),
		Model:         input.Model,
		IdentityToken: b.creds.ResolveToken(b.srv.cfg.Copilot.Token),
	}, b.client)

	if resp.RateLimited {
		resp.Error += ". Poll scorch_agent_rate_limit_status for current limits."
	}
	return jsonToolResult(resp)
}

func (b *binding) handleAgentStatus(_ context.Context, _ *mcp.CallToolRequest, input agentStatusInput) (*mcp.CallToolResult, any, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, nil, fmt.Errorf("id is required")
	}

	job, err := b.srv.agent.Status(id)
	if err != nil {
		if agent.IsNotFound(err) {
			return nil, nil, fmt.Errorf("no agent job found with id %q", id)
		}
		return nil, nil, err
	}

	out := map[string]any{
		"success": job.Status == agent.StatusCompleted,
		"status":  job.Status,
	}
	if job.Progress != "" {
		out["progress"] = job.Progress
	}
	if job.Result != nil {
		out["data"] = job.Result
	}
	if job.Error != "" {
		out["error"] = job.Error
	}
	if job.Finished() {
		out["duration"] = job.CompletedAt.Sub(job.CreatedAt).Seconds()
	}
	return jsonToolResult(out)
}

func (b *binding) handleAgentModels(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	models, def := b.srv.agent.Models()
	return jsonToolResult(map[string]any{
		"allowed_models": models,
		"default_model":  def,
	})
}

func (b *binding) handleAgentRateLimitStatus(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	return jsonToolResult(b.srv.agent.RateLimitStatus(b.creds.ResolveToken(b.srv.cfg.Copilot.Token)))
}
