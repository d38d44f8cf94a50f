package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/engine"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/localscrape"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/metrics"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/telemetry"
)

type scrapeInput struct {
	URL                 string            `json:"url" jsonschema:"URL to scrape"`
	Formats             []any             `json:"formats,omitempty" jsonschema:"output formats: markdown, html, rawHtml, links, summary, screenshot, or typed objects for json/screenshot"`
	OnlyMainContent     *bool             `json:"onlyMainContent,omitempty" jsonschema:"strip navigation and page chrome, keeping the main content (default true)"`
	IncludeTags         []string          `json:"includeTags,omitempty" jsonschema:"CSS selectors to restrict extraction to"`
	ExcludeTags         []string          `json:"excludeTags,omitempty" jsonschema:"CSS selectors to remove before extraction"`
	WaitFor             int               `json:"waitFor,omitempty" jsonschema:"milliseconds to wait for dynamic content"`
	Timeout             int               `json:"timeout,omitempty" jsonschema:"request timeout in milliseconds"`
	Headers             map[string]string `json:"headers,omitempty" jsonschema:"extra HTTP headers for the fetch"`
	Mobile              *bool             `json:"mobile,omitempty" jsonschema:"emulate a mobile viewport"`
	SkipTLSVerification *bool             `json:"skipTlsVerification,omitempty" jsonschema:"accept invalid TLS certificates for this request"`
	RemoveBase64Images  *bool             `json:"removeBase64Images,omitempty" jsonschema:"drop inline base64 images from the output"`
	Location            map[string]any    `json:"location,omitempty" jsonschema:"geographic location settings for the fetch"`
	Proxy               string            `json:"proxy,omitempty" jsonschema:"proxy profile: basic, stealth, or auto"`
	MaxAge              int               `json:"maxAge,omitempty" jsonschema:"accept a cached copy up to this age in milliseconds"`
	Parsers             []any             `json:"parsers,omitempty" jsonschema:"document parsers to apply, e.g. pdf"`
	Actions             []map[string]any  `json:"actions,omitempty" jsonschema:"browser actions to run before capture (disabled in safe mode)"`
	StoreInCache        *bool             `json:"storeInCache,omitempty" jsonschema:"store the result in the engine cache"`
}

type mapInput struct {
	URL                   string         `json:"url" jsonschema:"site URL to discover"`
	Search                string         `json:"search,omitempty" jsonschema:"filter discovered URLs by this term"`
	Sitemap               string         `json:"sitemap,omitempty" jsonschema:"sitemap handling: include, skip, or only"`
	IncludeSubdomains     *bool          `json:"includeSubdomains,omitempty" jsonschema:"also discover subdomain URLs"`
	Limit                 int            `json:"limit,omitempty" jsonschema:"maximum number of URLs to return"`
	IgnoreQueryParameters *bool          `json:"ignoreQueryParameters,omitempty" jsonschema:"treat URLs differing only in query parameters as one"`
	Location              map[string]any `json:"location,omitempty" jsonschema:"geographic location settings"`
}

type searchInput struct {
	Query         string           `json:"query" jsonschema:"search query"`
	Limit         int              `json:"limit,omitempty" jsonschema:"maximum number of results"`
	Location      string           `json:"location,omitempty" jsonschema:"location bias for the search"`
	Sources       []map[string]any `json:"sources,omitempty" jsonschema:"result sources: objects with type web, images, or news"`
	ScrapeOptions map[string]any   `json:"scrapeOptions,omitempty" jsonschema:"scrape each result with these options"`
}

type crawlInput struct {
	URL                    string           `json:"url" jsonschema:"root URL to crawl"`
	Prompt                 string           `json:"prompt,omitempty" jsonschema:"natural-language description of what to crawl"`
	Limit                  int              `json:"limit,omitempty" jsonschema:"maximum number of pages"`
	MaxDiscoveryDepth      int              `json:"maxDiscoveryDepth,omitempty" jsonschema:"how many link hops from the root to follow"`
	Sitemap                string           `json:"sitemap,omitempty" jsonschema:"sitemap handling: include, skip, or only"`
	AllowExternalLinks     *bool            `json:"allowExternalLinks,omitempty" jsonschema:"follow links to other domains"`
	AllowSubdomains        *bool            `json:"allowSubdomains,omitempty" jsonschema:"follow links to subdomains"`
	CrawlEntireDomain      *bool            `json:"crawlEntireDomain,omitempty" jsonschema:"crawl sibling and parent paths, not just children"`
	IncludePaths           []string         `json:"includePaths,omitempty" jsonschema:"only crawl paths matching these patterns"`
	ExcludePaths           []string         `json:"excludePaths,omitempty" jsonschema:"skip paths matching these patterns"`
	DeduplicateSimilarURLs *bool            `json:"deduplicateSimilarURLs,omitempty" jsonschema:"collapse near-duplicate URLs"`
	IgnoreQueryParameters  *bool            `json:"ignoreQueryParameters,omitempty" jsonschema:"treat URLs differing only in query parameters as one"`
	Delay                  int              `json:"delay,omitempty" jsonschema:"seconds to wait between page fetches"`
	Webhook                any              `json:"webhook,omitempty" jsonschema:"URL or config object to notify with crawl events (disabled in safe mode)"`
	ScrapeOptions          map[string]any   `json:"scrapeOptions,omitempty" jsonschema:"scrape each crawled page with these options"`
}

type crawlStatusInput struct {
	ID string `json:"id" jsonschema:"crawl job id returned by scorch_crawl"`
}

type extractInput struct {
	URLs               []string       `json:"urls" jsonschema:"URLs to extract from"`
	Prompt             string         `json:"prompt,omitempty" jsonschema:"what to extract"`
	Schema             map[string]any `json:"schema,omitempty" jsonschema:"JSON schema for the extracted object"`
	AllowExternalLinks *bool          `json:"allowExternalLinks,omitempty" jsonschema:"follow links off the given domains"`
	EnableWebSearch    *bool          `json:"enableWebSearch,omitempty" jsonschema:"augment extraction with web search"`
	IncludeSubdomains  *bool          `json:"includeSubdomains,omitempty" jsonschema:"include subdomain pages"`
}

func (b *binding) registerTools(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "scorch_scrape",
		Description: "Scrape a single URL into markdown, HTML, links, or structured formats",
	}, b.handleScrape)

	addTool(srv, &mcp.Tool{
		Name:        "scorch_map",
		Description: "Discover the URLs of a site, optionally filtered by a search term",
	}, b.handleMap)

	addTool(srv, &mcp.Tool{
		Name:        "scorch_search",
		Description: "Search the web and optionally scrape each result",
	}, b.handleSearch)

	addTool(srv, &mcp.Tool{
		Name:        "scorch_crawl",
		Description: "Start an asynchronous crawl of a site and return its job id",
	}, b.handleCrawl)

	addTool(srv, &mcp.Tool{
		Name:        "scorch_check_crawl_status",
		Description: "Check the status and collected pages of a crawl job",
	}, b.handleCrawlStatus)

	addTool(srv, &mcp.Tool{
		Name:        "scorch_extract",
		Description: "Extract structured data from one or more URLs using a prompt or schema",
	}, b.handleExtract)

	b.registerAgentTools(srv)
}

// addTool registers a handler wrapped with per-call metrics and a
// dispatch span.
func addTool[In any](srv *mcp.Server, tool *mcp.Tool, h func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, any, error)) {
	mcp.AddTool(srv, tool, func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, any, error) {
		ctx, span := telemetry.StartMCPCallSpan(ctx, tool.Name)
		defer span.End()

		start := time.Now()
		result, out, err := h(ctx, req, input)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.RecordToolCall(tool.Name, status, time.Since(start))
		return result, out, err
	})
}

func (b *binding) handleScrape(ctx context.Context, _ *mcp.CallToolRequest, input scrapeInput) (*mcp.CallToolResult, any, error) {
	targetURL := strings.TrimSpace(input.URL)
	if targetURL == "" {
		return nil, nil, fmt.Errorf("url is required")
	}
	if err := b.requireEngineAuth(); err != nil {
		return nil, nil, err
	}
	if b.srv.cfg.SafeMode && len(input.Actions) > 0 {
		return nil, nil, fmt.Errorf("page actions are disabled in safe mode")
	}

	formats, err := normalizeFormats(input.Formats)
	if err != nil {
		return nil, nil, err
	}

	if b.srv.localProxyEnabled() && localCapable(formats) {
		result, err := b.scrapeLocally(ctx, targetURL, input, formats)
		switch {
		case err == nil:
			return jsonToolResult(map[string]any{"success": true, "data": result})
		case errors.Is(err, localscrape.ErrFormatNeedsServer):
			// fall through to the engine
		default:
			spa, ok := localscrape.AsSPAShell(err)
			if !ok {
				return nil, nil, fmt.Errorf("local fetch failed: %w", err)
			}
			b.srv.logger.Debug("local scrape hit an SPA shell, retrying via engine",
				zap.String("url", targetURL),
				zap.String("reason", spa.Reason),
			)
		}
	}

	resp, err := b.client.Scrape(ctx, engine.ScrapeRequest{
		URL:                 targetURL,
		Formats:             formats,
		OnlyMainContent:     input.OnlyMainContent,
		IncludeTags:         input.IncludeTags,
		ExcludeTags:         input.ExcludeTags,
		WaitFor:             input.WaitFor,
		Timeout:             input.Timeout,
		Headers:             input.Headers,
		Mobile:              input.Mobile,
		SkipTLSVerification: input.SkipTLSVerification,
		RemoveBase64Images:  input.RemoveBase64Images,
		Location:            cleanMap(input.Location),
		Proxy:               input.Proxy,
		MaxAge:              input.MaxAge,
		Parsers:             cleanSlice(input.Parsers),
		Actions:             cleanMapSlice(input.Actions),
		StoreInCache:        input.StoreInCache,
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(resp)
}

// scrapeLocally maps the tool input onto the local fetcher.
func (b *binding) scrapeLocally(ctx context.Context, targetURL string, input scrapeInput, formats []engine.Format) (*localscrape.Result, error) {
	opts := localscrape.Options{
		Formats:         formatNames(formats),
		OnlyMainContent: input.OnlyMainContent,
		IncludeTags:     input.IncludeTags,
		ExcludeTags:     input.ExcludeTags,
		Headers:         input.Headers,
	}
	if input.Timeout > 0 {
		opts.Timeout = time.Duration(input.Timeout) * time.Millisecond
	}
	if input.SkipTLSVerification != nil {
		opts.SkipTLSVerification = *input.SkipTLSVerification
	}
	return b.srv.local.Scrape(ctx, targetURL, opts)
}

func (b *binding) handleMap(ctx context.Context, _ *mcp.CallToolRequest, input mapInput) (*mcp.CallToolResult, any, error) {
	targetURL := strings.TrimSpace(input.URL)
	if targetURL == "" {
		return nil, nil, fmt.Errorf("url is required")
	}
	if err := b.requireEngineAuth(); err != nil {
		return nil, nil, err
	}
	if err := validateSitemap(input.Sitemap); err != nil {
		return nil, nil, err
	}

	resp, err := b.client.Map(ctx, engine.MapRequest{
		URL:                   targetURL,
		Search:                input.Search,
		Sitemap:               input.Sitemap,
		IncludeSubdomains:     input.IncludeSubdomains,
		Limit:                 input.Limit,
		IgnoreQueryParameters: input.IgnoreQueryParameters,
		Location:              cleanMap(input.Location),
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(resp)
}

func (b *binding) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input searchInput) (*mcp.CallToolResult, any, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, nil, fmt.Errorf("query is required")
	}
	if err := b.requireEngineAuth(); err != nil {
		return nil, nil, err
	}
	if err := validateSources(input.Sources); err != nil {
		return nil, nil, err
	}

	resp, err := b.client.Search(ctx, engine.SearchRequest{
		Query:         query,
		Limit:         input.Limit,
		Location:      input.Location,
		Sources:       cleanMapSlice(input.Sources),
		ScrapeOptions: cleanMap(input.ScrapeOptions),
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(resp)
}

func (b *binding) handleCrawl(ctx context.Context, _ *mcp.CallToolRequest, input crawlInput) (*mcp.CallToolResult, any, error) {
	targetURL := strings.TrimSpace(input.URL)
	if targetURL == "" {
		return nil, nil, fmt.Errorf("url is required")
	}
	if err := b.requireEngineAuth(); err != nil {
		return nil, nil, err
	}
	if err := validateSitemap(input.Sitemap); err != nil {
		return nil, nil, err
	}
	webhook := truncateEmptyLeaves(input.Webhook)
	if emptyLeaf(webhook) {
		webhook = nil
	}
	if b.srv.cfg.SafeMode && webhook != nil {
		return nil, nil, fmt.Errorf("crawl webhooks are disabled in safe mode")
	}

	resp, err := b.client.Crawl(ctx, engine.CrawlRequest{
		URL:                    targetURL,
		Prompt:                 input.Prompt,
		Limit:                  input.Limit,
		MaxDiscoveryDepth:      input.MaxDiscoveryDepth,
		Sitemap:                input.Sitemap,
		AllowExternalLinks:     input.AllowExternalLinks,
		AllowSubdomains:        input.AllowSubdomains,
		CrawlEntireDomain:      input.CrawlEntireDomain,
		IncludePaths:           input.IncludePaths,
		ExcludePaths:           input.ExcludePaths,
		DeduplicateSimilarURLs: input.DeduplicateSimilarURLs,
		IgnoreQueryParameters:  input.IgnoreQueryParameters,
		Delay:                  input.Delay,
		Webhook:                webhook,
		ScrapeOptions:          cleanMap(input.ScrapeOptions),
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(resp)
}

func (b *binding) handleCrawlStatus(ctx context.Context, _ *mcp.CallToolRequest, input crawlStatusInput) (*mcp.CallToolResult, any, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, nil, fmt.Errorf("id is required")
	}
	if err := b.requireEngineAuth(); err != nil {
		return nil, nil, err
	}

	resp, err := b.client.CrawlStatus(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(resp)
}

func (b *binding) handleExtract(ctx context.Context, _ *mcp.CallToolRequest, input extractInput) (*mcp.CallToolResult, any, error) {
	urls := make([]string, 0, len(input.URLs))
	for _, u := range input.URLs {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return nil, nil, fmt.Errorf("urls is required")
	}
	if err := b.requireEngineAuth(); err != nil {
		return nil, nil, err
	}

	resp, err := b.client.Extract(ctx, engine.ExtractRequest{
		URLs:               urls,
		Prompt:             input.Prompt,
		Schema:             cleanMap(input.Schema),
		AllowExternalLinks: input.AllowExternalLinks,
		EnableWebSearch:    input.EnableWebSearch,
		IncludeSubdomains:  input.IncludeSubdomains,
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(resp)
}

func jsonToolResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return textToolResult(string(data)), nil, nil
}

func textToolResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
