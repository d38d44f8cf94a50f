package mcpserver

import (
	"fmt"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/engine"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/localscrape"
)

// truncateEmptyLeaves removes empty values (nil, empty string, empty
// sequence, empty mapping) from a parameter tree recursively, so
// engine-side defaults apply instead of explicit empties. Idempotent.
func truncateEmptyLeaves(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, val := range t {
			cleaned := truncateEmptyLeaves(val)
			if !emptyLeaf(cleaned) {
				out[key] = cleaned
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			cleaned := truncateEmptyLeaves(val)
			if !emptyLeaf(cleaned) {
				out = append(out, cleaned)
			}
		}
		return out
	default:
		return v
	}
}

func emptyLeaf(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

// cleanMap applies truncateEmptyLeaves to a parameter object. A fully
// empty result maps to nil so the field stays off the wire.
func cleanMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	cleaned, _ := truncateEmptyLeaves(m).(map[string]any)
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

// cleanSlice cleans a free-form list, mapping an all-empty result to
// nil.
func cleanSlice(s []any) []any {
	if len(s) == 0 {
		return nil
	}
	cleaned, _ := truncateEmptyLeaves(s).([]any)
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

// cleanMapSlice cleans each object in a list, dropping the ones that
// empty out entirely.
func cleanMapSlice(ms []map[string]any) []map[string]any {
	if len(ms) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(ms))
	for _, m := range ms {
		if cleaned := cleanMap(m); cleaned != nil {
			out = append(out, cleaned)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeFormats converts the wire formats field, whose entries are
// either names ("markdown") or typed objects ({"type": "json", ...}),
// into engine format values.
func normalizeFormats(raw []any) ([]engine.Format, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	formats := make([]engine.Format, 0, len(raw))
	for _, entry := range raw {
		switch t := entry.(type) {
		case string:
			if t == "" {
				continue
			}
			formats = append(formats, engine.Format{Type: t})
		case map[string]any:
			typ, _ := t["type"].(string)
			if typ == "" {
				return nil, fmt.Errorf("format object missing type")
			}
			opts := make(map[string]any, len(t))
			for k, v := range t {
				if k == "type" {
					continue
				}
				opts[k] = v
			}
			formats = append(formats, engine.Format{Type: typ, Options: cleanMap(opts)})
		default:
			return nil, fmt.Errorf("format must be a string or an object, got %T", entry)
		}
	}
	return formats, nil
}

// localCapable reports whether every requested format can be produced
// by the local fetcher. Typed formats always need the engine. An empty
// list defaults to markdown, which is local.
func localCapable(formats []engine.Format) bool {
	for _, f := range formats {
		if len(f.Options) > 0 || !localscrape.SupportsFormat(f.Type) {
			return false
		}
	}
	return true
}

// formatNames projects the format types for the local fetcher.
func formatNames(formats []engine.Format) []string {
	if len(formats) == 0 {
		return nil
	}
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.Type
	}
	return names
}

var sitemapModes = map[string]bool{"include": true, "skip": true, "only": true}

func validateSitemap(mode string) error {
	if mode == "" || sitemapModes[mode] {
		return nil
	}
	return fmt.Errorf("invalid sitemap mode %q: expected include, skip, or only", mode)
}

var searchSources = map[string]bool{"web": true, "images": true, "news": true}

func validateSources(sources []map[string]any) error {
	for _, src := range sources {
		typ, _ := src["type"].(string)
		if !searchSources[typ] {
			return fmt.Errorf("invalid search source type %q: expected web, images, or news", typ)
		}
	}
	return nil
}
