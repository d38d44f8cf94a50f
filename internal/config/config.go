// Package config provides configuration loading for the ScorchCrawl MCP server.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultAPIURL is the hosted ScorchCrawl scraping API.
const DefaultAPIURL = "https://api.scorchcrawl.dev"

// DefaultCopilotURL is the hosted Copilot agent runtime.
const DefaultCopilotURL = "https://copilot.scorchcrawl.dev"

// Config holds all MCP server configuration.
type Config struct {
	// Transport selects how the MCP server is exposed: "stdio" or "http".
	Transport string `yaml:"transport"`
	// Listen address for the HTTP transport (default ":3000").
	ListenAddr string `yaml:"listen_addr"`
	// Optional second listener that reverse-proxies raw scraping API
	// requests straight to the engine, bypassing MCP.
	PassthroughAddr string `yaml:"passthrough_addr,omitempty"`

	// Scraping engine settings
	API APIConfig `yaml:"api"`

	// Copilot agent runtime settings
	Copilot CopilotConfig `yaml:"copilot,omitempty"`

	// Agent job settings
	Agent AgentConfig `yaml:"agent,omitempty"`

	// Admission limits for agent jobs
	Limits LimitsConfig `yaml:"limits,omitempty"`

	// BYOK routes agent model calls to a caller-operated provider
	// instead of the managed Copilot quota.
	BYOK BYOKConfig `yaml:"byok,omitempty"`

	// CloudService marks the hosted deployment: scraping API keys are
	// mandatory and safe mode is forced on.
	CloudService bool `yaml:"cloud_service"`
	// LocalProxy fetches pages from this process when the requested
	// formats allow it, falling back to the engine otherwise.
	LocalProxy bool `yaml:"local_proxy"`
	// SafeMode disables engine features that can reach arbitrary
	// infrastructure (page actions, crawl webhooks).
	SafeMode bool `yaml:"safe_mode"`

	// OTLP trace collector endpoint (empty disables tracing).
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// Log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
}

// APIConfig configures the downstream scraping engine.
type APIConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key,omitempty"`
}

// CopilotConfig configures the Copilot agent runtime.
type CopilotConfig struct {
	URL string `yaml:"url,omitempty"`
	// Token is the process-wide fallback used when a request carries
	// no Copilot token header.
	Token string `yaml:"token,omitempty"`
}

// AgentConfig configures agent job execution and retention.
type AgentConfig struct {
	AllowedModels []string `yaml:"allowed_models,omitempty"`
	DefaultModel  string   `yaml:"default_model,omitempty"`
	MaxTurns      int      `yaml:"max_turns,omitempty"`
	// RetentionMS is how long finished jobs stay queryable.
	RetentionMS int `yaml:"retention_ms,omitempty"`
	// RetentionSchedule is the sweep cadence: a duration ("10m") or a
	// five-field cron expression ("*/10 * * * *").
	RetentionSchedule string `yaml:"retention_schedule,omitempty"`
}

// LimitsConfig configures admission control for agent jobs.
// All durations are milliseconds.
type LimitsConfig struct {
	MaxConcurrentGlobal         int     `yaml:"max_concurrent_global"`
	MaxConcurrentPerUser        int     `yaml:"max_concurrent_per_user"`
	RateWindowMS                int     `yaml:"rate_window_ms"`
	MaxRequestsPerWindow        int     `yaml:"max_requests_per_window"`
	MaxRequestsPerWindowPerUser int     `yaml:"max_requests_per_window_per_user"`
	QuotaRejectThreshold        float64 `yaml:"quota_reject_threshold"`
	StaleJobTimeoutMS           int     `yaml:"stale_job_timeout_ms"`
	GCIntervalMS                int     `yaml:"gc_interval_ms"`
}

// BYOKConfig configures a bring-your-own-key model provider.
type BYOKConfig struct {
	Provider string `yaml:"provider,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		Transport:  "stdio",
		ListenAddr: ":3000",
		API: APIConfig{
			URL: DefaultAPIURL,
		},
		Agent: AgentConfig{
			AllowedModels:     []string{"gpt-4.1", "gpt-5-mini", "claude-sonnet-4", "gemini-2.5-pro"},
			DefaultModel:      "gpt-4.1",
			MaxTurns:          50,
			RetentionMS:       3600000,
			RetentionSchedule: "10m",
		},
		Limits: LimitsConfig{
			MaxConcurrentGlobal:         10,
			MaxConcurrentPerUser:        2,
			RateWindowMS:                60000,
			MaxRequestsPerWindow:        100,
			MaxRequestsPerWindowPerUser: 10,
			QuotaRejectThreshold:        10,
			StaleJobTimeoutMS:           600000,
			GCIntervalMS:                300000,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	// Load from file if it exists
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("SCORCHCRAWL_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("SCORCHCRAWL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SCORCHCRAWL_PASSTHROUGH_ADDR"); v != "" {
		cfg.PassthroughAddr = v
	}
	if v := os.Getenv("SCORCHCRAWL_API_URL"); v != "" {
		cfg.API.URL = v
	}
	if v := os.Getenv("SCORCHCRAWL_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("SCORCHCRAWL_COPILOT_URL"); v != "" {
		cfg.Copilot.URL = v
	}
	if v := os.Getenv("SCORCHCRAWL_COPILOT_TOKEN"); v != "" {
		cfg.Copilot.Token = v
	} else if v := os.Getenv("GITHUB_TOKEN"); v != "" && cfg.Copilot.Token == "" {
		cfg.Copilot.Token = v
	}
	if v := os.Getenv("SCORCHCRAWL_AGENT_MODELS"); v != "" {
		cfg.Agent.AllowedModels = splitModels(v)
	}
	if v := os.Getenv("SCORCHCRAWL_DEFAULT_MODEL"); v != "" {
		cfg.Agent.DefaultModel = v
	}
	if v := os.Getenv("SCORCHCRAWL_AGENT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxTurns = n
		}
	}
	if v := os.Getenv("SCORCHCRAWL_JOB_RETENTION_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.RetentionMS = n
		}
	}
	if v := os.Getenv("SCORCHCRAWL_RETENTION_SCHEDULE"); v != "" {
		cfg.Agent.RetentionSchedule = v
	}
	if v := os.Getenv("SCORCHCRAWL_MAX_CONCURRENT_GLOBAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxConcurrentGlobal = n
		}
	}
	if v := os.Getenv("SCORCHCRAWL_MAX_CONCURRENT_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxConcurrentPerUser = n
		}
	}
	if v := os.Getenv("SCORCHCRAWL_RATE_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.RateWindowMS = n
		}
	}
	if v := os.Getenv("SCORCHCRAWL_MAX_REQUESTS_PER_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxRequestsPerWindow = n
		}
	}
	if v := os.Getenv("SCORCHCRAWL_MAX_REQUESTS_PER_WINDOW_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxRequestsPerWindowPerUser = n
		}
	}
	if v := os.Getenv("SCORCHCRAWL_QUOTA_REJECT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Limits.QuotaRejectThreshold = f
		}
	}
	if v := os.Getenv("SCORCHCRAWL_STALE_JOB_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.StaleJobTimeoutMS = n
		}
	}
	if v := os.Getenv("SCORCHCRAWL_GC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.GCIntervalMS = n
		}
	}
	if v := os.Getenv("SCORCHCRAWL_CLOUD_SERVICE"); v != "" {
		cfg.CloudService = v == "true" || v == "1"
	}
	if v := os.Getenv("SCORCHCRAWL_LOCAL_PROXY"); v != "" {
		cfg.LocalProxy = v == "true" || v == "1"
	}
	if v := os.Getenv("SCORCHCRAWL_SAFE_MODE"); v != "" {
		cfg.SafeMode = v == "true" || v == "1"
	}
	if v := os.Getenv("SCORCHCRAWL_BYOK_PROVIDER"); v != "" {
		cfg.BYOK.Provider = v
	}
	if v := os.Getenv("SCORCHCRAWL_BYOK_BASE_URL"); v != "" {
		cfg.BYOK.BaseURL = v
	}
	if v := os.Getenv("SCORCHCRAWL_BYOK_API_KEY"); v != "" {
		cfg.BYOK.APIKey = v
	}
	if v := os.Getenv("SCORCHCRAWL_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("SCORCHCRAWL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.normalize()

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// byokProviders are the supported bring-your-own-key backends.
var byokProviders = map[string]bool{
	"openai":    true,
	"azure":     true,
	"anthropic": true,
}

// normalize resolves derived settings after all sources are applied.
func (c *Config) normalize() {
	c.API.URL = strings.TrimRight(c.API.URL, "/")
	c.BYOK.Provider = strings.ToLower(strings.TrimSpace(c.BYOK.Provider))

	// A localProxy query parameter on the engine URL turns the mode on;
	// the parameter itself never reaches the engine.
	if u, err := url.Parse(c.API.URL); err == nil {
		q := u.Query()
		if v := q.Get("localProxy"); v == "true" || v == "1" {
			c.LocalProxy = true
		}
		if q.Has("localProxy") {
			q.Del("localProxy")
			u.RawQuery = q.Encode()
			c.API.URL = strings.TrimRight(u.String(), "?")
		}
	}

	if !c.CloudService {
		c.CloudService = isCloudHost(c.API.URL)
	}
	if c.CloudService {
		c.SafeMode = true
	}

	if c.Copilot.URL == "" {
		c.Copilot.URL = DefaultCopilotURL
	}

	if len(c.Agent.AllowedModels) == 0 {
		c.Agent.AllowedModels = Default().Agent.AllowedModels
	}
	if c.Agent.DefaultModel == "" {
		c.Agent.DefaultModel = c.Agent.AllowedModels[0]
	}
}

// HasAPIKey returns true if a server-side scraping API key is configured.
func (c Config) HasAPIKey() bool {
	return c.API.Key != ""
}

// HasBYOK returns true if a usable bring-your-own-key provider is
// configured: a supported provider type plus a base URL.
func (c Config) HasBYOK() bool {
	return byokProviders[c.BYOK.Provider] && c.BYOK.BaseURL != ""
}

func isCloudHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "api.scorchcrawl.dev" || strings.HasSuffix(host, ".scorchcrawl.dev")
}

// splitModels parses a comma-separated model list, dropping empty entries.
func splitModels(s string) []string {
	var models []string
	for _, part := range strings.Split(s, ",") {
		if m := strings.TrimSpace(part); m != "" {
			models = append(models, m)
		}
	}
	return models
}
