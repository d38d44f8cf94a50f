// Package mcpserver exposes the scraping engine and the agent job
// engine as MCP tools over stdio or HTTP SSE transports.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/agent"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/config"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/engine"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/identity"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/localscrape"
)

// Version is injected from the build metadata.
var Version = "dev"

// Server exposes the ten ScorchCrawl tools over MCP transports. Each
// HTTP connection gets its own MCP server bound to the credentials in
// that request's headers; stdio runs one server under the process
// configuration.
type Server struct {
	cfg    config.Config
	agent  *agent.Engine
	engine *engine.Client
	local  *localscrape.Scraper
	logger *zap.Logger
}

// New wires the MCP tool surface. local may be nil when local-proxy
// mode is off.
func New(cfg config.Config, agentEngine *agent.Engine, engineClient *engine.Client, local *localscrape.Scraper, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		agent:  agentEngine,
		engine: engineClient,
		local:  local,
		logger: logger.Named("mcp"),
	}
}

// Handler returns the HTTP SSE transport handler mounted at /mcp.
func (s *Server) Handler() http.Handler {
	return mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return s.newServer(identity.FromRequest(r))
	}, nil)
}

// RunStdio serves MCP over stdin/stdout until ctx is done. Stdio
// callers carry no per-request headers, so every call runs with the
// process-level credentials.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.newServer(identity.Credentials{}).Run(ctx, &mcp.StdioTransport{})
}

// newServer builds an MCP server whose tools run with creds.
func (s *Server) newServer(creds identity.Credentials) *mcp.Server {
	implVersion := Version
	if implVersion == "" {
		implVersion = "dev"
	}
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "scorchcrawl",
		Version: implVersion,
	}, nil)

	s.bind(creds).registerTools(srv)
	return srv
}

// bind resolves one connection's view of the server: the caller's
// credentials and an engine client authenticated with them.
func (s *Server) bind(creds identity.Credentials) *binding {
	return &binding{
		srv:    s,
		creds:  creds,
		client: s.engine.WithAPIKey(creds.ResolveAPIKey(s.cfg.API.Key)),
	}
}

// binding carries per-connection state into the tool handlers.
type binding struct {
	srv    *Server
	creds  identity.Credentials
	client *engine.Client
}

// requireEngineAuth enforces the hosted deployment's key requirement.
// Self-hosted servers accept unauthenticated engine calls.
func (b *binding) requireEngineAuth() error {
	if b.srv.cfg.CloudService && !b.client.HasAPIKey() {
		return fmt.Errorf("a ScorchCrawl API key is required: pass a bearer Authorization header, x-scorchcrawl-api-key, or x-api-key")
	}
	return nil
}

// localProxyEnabled reports whether scrape calls may try the local
// fetcher first.
func (s *Server) localProxyEnabled() bool {
	return s.cfg.LocalProxy && s.local != nil
}
