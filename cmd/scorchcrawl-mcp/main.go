// ScorchCrawl MCP Server — bridges MCP clients to the scraping engine
// and the Copilot agent runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/agent"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/config"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/copilot"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/engine"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/localscrape"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/mcpserver"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/ratelimit"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("SCORCHCRAWL_CONFIG"), "path to a YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("scorchcrawl-mcp %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTraces, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdownTraces = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = shutdownTraces(flushCtx)
	}()

	engineClient := engine.NewClient(engine.Config{
		BaseURL: cfg.API.URL,
		APIKey:  cfg.API.Key,
	})

	var local *localscrape.Scraper
	if cfg.LocalProxy {
		local = localscrape.New(logger)
	}

	cache := copilot.NewClientCache(copilot.ClientConfig{
		BaseURL: cfg.Copilot.URL,
		Token:   cfg.Copilot.Token,
		Logger:  logger,
	}, logger)

	guard := ratelimit.NewGuard(ratelimit.Config{
		MaxConcurrentGlobal:         cfg.Limits.MaxConcurrentGlobal,
		MaxConcurrentPerUser:        cfg.Limits.MaxConcurrentPerUser,
		RateWindow:                  time.Duration(cfg.Limits.RateWindowMS) * time.Millisecond,
		MaxRequestsPerWindow:        cfg.Limits.MaxRequestsPerWindow,
		MaxRequestsPerWindowPerUser: cfg.Limits.MaxRequestsPerWindowPerUser,
		QuotaRejectThreshold:        cfg.Limits.QuotaRejectThreshold,
		StaleJobTimeout:             time.Duration(cfg.Limits.StaleJobTimeoutMS) * time.Millisecond,
		GCInterval:                  time.Duration(cfg.Limits.GCIntervalMS) * time.Millisecond,
	}, logger)

	var provider *copilot.ProviderConfig
	if cfg.HasBYOK() {
		provider = &copilot.ProviderConfig{
			Type:    cfg.BYOK.Provider,
			BaseURL: cfg.BYOK.BaseURL,
			APIKey:  cfg.BYOK.APIKey,
		}
	} else if cfg.BYOK.Provider != "" {
		logger.Warn("BYOK provider disabled: needs a supported provider type (openai, azure, anthropic) and a base URL",
			zap.String("provider", cfg.BYOK.Provider),
		)
	}

	agentEngine := agent.NewEngine(agent.Config{
		AllowedModels:     cfg.Agent.AllowedModels,
		DefaultModel:      cfg.Agent.DefaultModel,
		Provider:          provider,
		MaxTurns:          cfg.Agent.MaxTurns,
		StaleJobTimeout:   time.Duration(cfg.Limits.StaleJobTimeoutMS) * time.Millisecond,
		GCInterval:        time.Duration(cfg.Limits.GCIntervalMS) * time.Millisecond,
		Retention:         time.Duration(cfg.Agent.RetentionMS) * time.Millisecond,
		RetentionSchedule: cfg.Agent.RetentionSchedule,
	}, guard, agent.NewStore(), cache, engineClient, logger)
	defer agentEngine.Shutdown()

	mcpserver.Version = version
	srv := mcpserver.New(cfg, agentEngine, engineClient, local, logger)

	switch cfg.Transport {
	case "stdio":
		logger.Info("serving MCP over stdio",
			zap.String("version", version),
			zap.String("engine", cfg.API.URL),
			zap.Bool("cloud_service", cfg.CloudService),
			zap.Bool("local_proxy", cfg.LocalProxy),
			zap.Bool("safe_mode", cfg.SafeMode),
		)
		if err := srv.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal("stdio transport failed", zap.Error(err))
		}
	case "http":
		serveHTTP(ctx, cfg, srv, logger)
	default:
		logger.Fatal("unknown transport", zap.String("transport", cfg.Transport))
	}
}

// buildLogger builds the process logger: production JSON on stderr, so
// the stdio transport keeps stdout for the MCP wire.
func buildLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func serveHTTP(ctx context.Context, cfg config.Config, srv *mcpserver.Server, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`+"\n", version)
	})

	httpSrv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// SSE sessions hold the response open for their whole life, so
		// no write deadline.
		IdleTimeout: 120 * time.Second,
	}

	passthrough := startPassthrough(cfg, logger)

	logger.Info("starting MCP server",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.String("engine", cfg.API.URL),
		zap.Bool("cloud_service", cfg.CloudService),
		zap.Bool("local_proxy", cfg.LocalProxy),
		zap.Bool("safe_mode", cfg.SafeMode),
	)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if passthrough != nil {
		if err := passthrough.Shutdown(shutdownCtx); err != nil {
			logger.Error("passthrough shutdown error", zap.Error(err))
		}
	}
}

// startPassthrough serves the engine's native HTTP surface on its own
// listener, forwarding requests unchanged. Clients that want the raw
// scraping API instead of MCP point here.
func startPassthrough(cfg config.Config, logger *zap.Logger) *http.Server {
	if cfg.PassthroughAddr == "" {
		return nil
	}

	target, err := url.Parse(cfg.API.URL)
	if err != nil {
		logger.Fatal("passthrough target", zap.Error(err))
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
		if cfg.API.Key != "" && r.Header.Get("Authorization") == "" {
			r.Header.Set("Authorization", "Bearer "+cfg.API.Key)
		}
	}
	proxy.ErrorLog = zap.NewStdLog(logger.Named("passthrough"))

	srv := &http.Server{
		Addr:         cfg.PassthroughAddr,
		Handler:      proxy,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting scraping API passthrough",
		zap.String("addr", cfg.PassthroughAddr),
		zap.String("target", cfg.API.URL),
	)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("passthrough server error", zap.Error(err))
		}
	}()
	return srv
}
