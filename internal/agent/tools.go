package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/copilot"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/engine"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/telemetry"
)

// maxToolResultChars caps what one tool feeds back into the model.
// Oversized page content is hard-cut, not summarized.
const maxToolResultChars = 50000

// buildTools returns the scraping tool set registered with every
// session, closing over the per-job engine client.
func (e *Engine) buildTools(scrape *engine.Client) []copilot.ToolDefinition {
	return []copilot.ToolDefinition{
		{
			Name:        "web_scrape",
			Description: "Fetch a single web page and return its content. Use for reading a specific URL.",
			Parameters: objectSchema(map[string]any{
				"url":             map[string]any{"type": "string", "description": "The URL to fetch."},
				"formats":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Output formats, default [\"markdown\"]."},
				"onlyMainContent": map[string]any{"type": "boolean", "description": "Strip navigation and page chrome."},
				"waitFor":         map[string]any{"type": "number", "description": "Milliseconds to wait for dynamic content."},
			}, "url"),
			Handler: toolHandler("web_scrape", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				req := engine.ScrapeRequest{URL: stringArg(args, "url")}
				for _, f := range stringListArg(args, "formats") {
					req.Formats = append(req.Formats, engine.Format{Type: f})
				}
				if len(req.Formats) == 0 {
					req.Formats = []engine.Format{{Type: "markdown"}}
				}
				if v, ok := args["onlyMainContent"].(bool); ok {
					req.OnlyMainContent = &v
				}
				req.WaitFor = intArg(args, "waitFor")
				return scrape.Scrape(ctx, req)
			}),
		},
		{
			Name:        "web_search",
			Description: "Search the web and return result snippets with URLs.",
			Parameters: objectSchema(map[string]any{
				"query": map[string]any{"type": "string", "description": "The search query."},
				"limit": map[string]any{"type": "number", "description": "Maximum results, default 5."},
			}, "query"),
			Handler: toolHandler("web_search", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return scrape.Search(ctx, engine.SearchRequest{
					Query: stringArg(args, "query"),
					Limit: intArg(args, "limit"),
				})
			}),
		},
		{
			Name:        "web_map",
			Description: "Discover the URLs of a website, optionally filtered by a search term.",
			Parameters: objectSchema(map[string]any{
				"url":    map[string]any{"type": "string", "description": "The site to map."},
				"search": map[string]any{"type": "string", "description": "Filter discovered URLs by this term."},
				"limit":  map[string]any{"type": "number", "description": "Maximum URLs to return."},
			}, "url"),
			Handler: toolHandler("web_map", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return scrape.Map(ctx, engine.MapRequest{
					URL:    stringArg(args, "url"),
					Search: stringArg(args, "search"),
					Limit:  intArg(args, "limit"),
				})
			}),
		},
		{
			Name:        "web_extract",
			Description: "Extract structured data from one or more pages using a prompt or JSON schema.",
			Parameters: objectSchema(map[string]any{
				"urls":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Pages to extract from."},
				"prompt": map[string]any{"type": "string", "description": "What to extract."},
				"schema": map[string]any{"type": "object", "description": "JSON schema for the extracted data."},
			}, "urls"),
			Handler: toolHandler("web_extract", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				req := engine.ExtractRequest{
					URLs:   stringListArg(args, "urls"),
					Prompt: stringArg(args, "prompt"),
				}
				if schema, ok := args["schema"].(map[string]any); ok {
					req.Schema = schema
				}
				return scrape.Extract(ctx, req)
			}),
		},
	}
}

// toolHandler adapts an engine call into the session callback shape:
// spans around the call, errors turned into failure results the model
// can react to, responses serialized and clipped.
func toolHandler(name string, run func(ctx context.Context, args map[string]any) (map[string]any, error)) copilot.ToolHandler {
	return func(ctx context.Context, args map[string]any) copilot.ToolResult {
		targetURL := stringArg(args, "url")
		ctx, span := telemetry.StartToolCallSpan(ctx, name, targetURL)

		resp, err := run(ctx, args)
		if err != nil {
			telemetry.EndToolCallSpan(span, copilot.ResultFailure, 0)
			return copilot.ToolResult{
				TextForLLM: fmt.Sprintf("%s failed: %v", name, err),
				ResultType: copilot.ResultFailure,
				Error:      err.Error(),
			}
		}

		text := clip(compactJSON(resp), maxToolResultChars)
		telemetry.EndToolCallSpan(span, copilot.ResultSuccess, len(text))
		return copilot.ToolResult{TextForLLM: text, ResultType: copilot.ResultSuccess}
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg accepts the number forms JSON decoding produces.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringListArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func compactJSON(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
