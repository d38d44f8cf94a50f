package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/agent"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/config"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/copilot"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/engine"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/identity"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/localscrape"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/ratelimit"
)

func TestToolsRegistered(t *testing.T) {
	srv, _, _ := newTestServer(t, "", "", nil)
	session := connect(t, srv, identity.Credentials{})

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	expected := []string{
		"scorch_agent",
		"scorch_agent_models",
		"scorch_agent_rate_limit_status",
		"scorch_agent_status",
		"scorch_check_crawl_status",
		"scorch_crawl",
		"scorch_extract",
		"scorch_map",
		"scorch_scrape",
		"scorch_search",
	}

	if len(names) != len(expected) {
		t.Fatalf("expected %d tools, got %d: %v", len(expected), len(names), names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Fatalf("unexpected tool list: got %v want %v", names, expected)
		}
	}
}

func TestRateLimitStatusScopedToCaller(t *testing.T) {
	srv, guard, _ := newTestServer(t, "", "", nil)
	guard.Acquire("tok-a")

	callerA := connect(t, srv, identity.Credentials{CopilotToken: "tok-a"})
	result, err := callerA.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "scorch_agent_rate_limit_status",
	})
	if err != nil {
		t.Fatalf("call rate limit status: %v", err)
	}
	var statsA ratelimit.Stats
	decodeToolJSON(t, result, &statsA)
	if statsA.YourActiveJobs != 1 {
		t.Fatalf("expected 1 active job for tok-a, got %d", statsA.YourActiveJobs)
	}
	if statsA.ActiveJobs != 1 {
		t.Fatalf("expected 1 active job globally, got %d", statsA.ActiveJobs)
	}
	if statsA.Limits.MaxConcurrentPerUser <= 0 {
		t.Fatalf("expected limits projection, got %+v", statsA.Limits)
	}

	callerB := connect(t, srv, identity.Credentials{CopilotToken: "tok-b"})
	result, err = callerB.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "scorch_agent_rate_limit_status",
	})
	if err != nil {
		t.Fatalf("call rate limit status as tok-b: %v", err)
	}
	var statsB ratelimit.Stats
	decodeToolJSON(t, result, &statsB)
	if statsB.YourActiveJobs != 0 {
		t.Fatalf("tok-b should hold no slots, got %d", statsB.YourActiveJobs)
	}
	if statsB.ActiveJobs != 1 {
		t.Fatalf("global count should still be visible, got %d", statsB.ActiveJobs)
	}
}

func TestToolErrorSurfacesInBand(t *testing.T) {
	srv, _, _ := newTestServer(t, "", "", nil)
	session := connect(t, srv, identity.Credentials{})

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "scorch_agent_status",
		Arguments: map[string]any{"id": "missing"},
	})
	if err != nil {
		t.Fatalf("tool errors must not become transport errors: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError result for unknown job id")
	}
	text := firstText(t, result)
	if !strings.Contains(text, "no agent job found") {
		t.Fatalf("unexpected error text: %q", text)
	}
}

func newTestServer(t *testing.T, engineURL, runtimeURL string, mutate func(*config.Config)) (*Server, *ratelimit.Guard, *agent.Store) {
	t.Helper()

	cfg := config.Default()
	cfg.API.URL = engineURL
	if mutate != nil {
		mutate(&cfg)
	}
	if runtimeURL == "" {
		runtimeURL = "http://runtime.invalid"
	}

	guard := ratelimit.NewGuard(ratelimit.Config{}, zap.NewNop())
	store := agent.NewStore()
	cache := copilot.NewClientCache(copilot.ClientConfig{
		BaseURL: runtimeURL,
		Token:   "process-token",
	}, zap.NewNop())
	engineClient := engine.NewClient(engine.Config{
		BaseURL: engineURL,
		APIKey:  cfg.API.Key,
	})
	agentEngine := agent.NewEngine(agent.Config{
		AllowedModels: cfg.Agent.AllowedModels,
		DefaultModel:  cfg.Agent.DefaultModel,
		MaxTurns:      cfg.Agent.MaxTurns,
	}, guard, store, cache, engineClient, zap.NewNop())
	t.Cleanup(agentEngine.Shutdown)

	srv := New(cfg, agentEngine, engineClient, localscrape.New(zap.NewNop()), zap.NewNop())
	return srv, guard, store
}

func connect(t *testing.T, srv *Server, creds identity.Credentials) *mcp.ClientSession {
	t.Helper()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.newServer(creds).Run(runCtx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("connect client: %v", err)
	}

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Logf("mcp server run exited with: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Log("timed out waiting for mcp server shutdown")
		}
	})

	return session
}

func firstText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("empty tool result: %#v", result)
	}
	content, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return content.Text
}

func decodeToolJSON(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	text := firstText(t, result)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("decode tool json: %v (text=%q)", err, text)
	}
}
