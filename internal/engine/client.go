// Package engine is the HTTP client for the downstream ScorchCrawl
// scraping engine. Responses are passed through as raw JSON objects;
// the MCP layer does not reinterpret engine documents.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/metrics"
)

// defaultOrigin labels every engine request as coming from this bridge.
const defaultOrigin = "mcp-server"

// Config configures the engine client.
type Config struct {
	// BaseURL is the engine root, without a trailing slash.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Origin overrides the request origin label.
	Origin string
	// HTTPClient overrides the default client (mainly for tests).
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the scraping engine.
type Client struct {
	baseURL    string
	apiKey     string
	origin     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds an engine client.
func NewClient(cfg Config) *Client {
	origin := cfg.Origin
	if origin == "" {
		origin = defaultOrigin
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		origin:     origin,
		httpClient: httpClient,
		logger:     logger.Named("engine"),
	}
}

// WithAPIKey returns a copy of the client authenticated with the
// given key. The zero key returns the client unchanged.
func (c *Client) WithAPIKey(key string) *Client {
	if key == "" || key == c.apiKey {
		return c
	}
	clone := *c
	clone.apiKey = key
	return &clone
}

// HasAPIKey reports whether the client carries credentials.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// Scrape fetches a single URL through the engine.
func (c *Client) Scrape(ctx context.Context, req ScrapeRequest) (map[string]any, error) {
	req.Origin = c.origin
	return c.post(ctx, "scrape", "/v1/scrape", req)
}

// Map discovers the URLs of a site.
func (c *Client) Map(ctx context.Context, req MapRequest) (map[string]any, error) {
	req.Origin = c.origin
	return c.post(ctx, "map", "/v1/map", req)
}

// Search runs a web search, optionally scraping each result.
func (c *Client) Search(ctx context.Context, req SearchRequest) (map[string]any, error) {
	req.Origin = c.origin
	return c.post(ctx, "search", "/v1/search", req)
}

// Crawl starts an asynchronous crawl and returns its handle.
func (c *Client) Crawl(ctx context.Context, req CrawlRequest) (map[string]any, error) {
	req.Origin = c.origin
	return c.post(ctx, "crawl", "/v1/crawl", req)
}

// CrawlStatus fetches the state of a previously started crawl.
func (c *Client) CrawlStatus(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, "crawl_status", "/v1/crawl/"+url.PathEscape(id))
}

// Extract pulls structured data from one or more URLs.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (map[string]any, error) {
	req.Origin = c.origin
	return c.post(ctx, "extract", "/v1/extract", req)
}

func (c *Client) post(ctx context.Context, endpoint, path string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(endpoint, req)
}

func (c *Client) get(ctx context.Context, endpoint, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	return c.do(endpoint, req)
}

func (c *Client) do(endpoint string, req *http.Request) (map[string]any, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", "scorchcrawl-mcp")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordEngineRequest(endpoint, "error")
		return nil, fmt.Errorf("engine %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordEngineRequest(endpoint, "error")
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	metrics.RecordEngineRequest(endpoint, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode >= 400 {
		c.logger.Warn("engine request failed",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: extractAPIError(body)}
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return result, nil
}
