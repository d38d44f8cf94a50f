package engine

import (
	"encoding/json"
	"fmt"
)

// Format is one requested output format. The wire form is either a
// bare string ("markdown") or an object with a type discriminator and
// extra options ({"type": "json", "schema": {...}}).
type Format struct {
	Type string
	// Options holds the object form's extra keys. Empty for the
	// string form.
	Options map[string]any
}

// MarshalJSON writes the string form when there are no options,
// otherwise the object form.
func (f Format) MarshalJSON() ([]byte, error) {
	if len(f.Options) == 0 {
		return json.Marshal(f.Type)
	}
	obj := make(map[string]any, len(f.Options)+1)
	for k, v := range f.Options {
		obj[k] = v
	}
	obj["type"] = f.Type
	return json.Marshal(obj)
}

// UnmarshalJSON accepts both wire forms.
func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Format{Type: s}
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("format must be a string or an object: %w", err)
	}
	typ, _ := obj["type"].(string)
	if typ == "" {
		return fmt.Errorf("format object missing type")
	}
	delete(obj, "type")
	if len(obj) == 0 {
		obj = nil
	}
	*f = Format{Type: typ, Options: obj}
	return nil
}

// ScrapeRequest is the payload for the scrape endpoint. Unset fields
// stay off the wire so engine-side defaults apply.
type ScrapeRequest struct {
	URL                 string            `json:"url"`
	Formats             []Format          `json:"formats,omitempty"`
	OnlyMainContent     *bool             `json:"onlyMainContent,omitempty"`
	IncludeTags         []string          `json:"includeTags,omitempty"`
	ExcludeTags         []string          `json:"excludeTags,omitempty"`
	WaitFor             int               `json:"waitFor,omitempty"`
	Timeout             int               `json:"timeout,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	Mobile              *bool             `json:"mobile,omitempty"`
	SkipTLSVerification *bool             `json:"skipTlsVerification,omitempty"`
	RemoveBase64Images  *bool             `json:"removeBase64Images,omitempty"`
	Location            map[string]any    `json:"location,omitempty"`
	Proxy               string            `json:"proxy,omitempty"`
	MaxAge              int               `json:"maxAge,omitempty"`
	Parsers             []any             `json:"parsers,omitempty"`
	Actions             []map[string]any  `json:"actions,omitempty"`
	StoreInCache        *bool             `json:"storeInCache,omitempty"`
	Origin              string            `json:"origin,omitempty"`
}

// MapRequest is the payload for the map endpoint.
type MapRequest struct {
	URL                   string         `json:"url"`
	Search                string         `json:"search,omitempty"`
	Sitemap               string         `json:"sitemap,omitempty"`
	IncludeSubdomains     *bool          `json:"includeSubdomains,omitempty"`
	Limit                 int            `json:"limit,omitempty"`
	IgnoreQueryParameters *bool          `json:"ignoreQueryParameters,omitempty"`
	Location              map[string]any `json:"location,omitempty"`
	Origin                string         `json:"origin,omitempty"`
}

// SearchRequest is the payload for the search endpoint.
type SearchRequest struct {
	Query         string           `json:"query"`
	Limit         int              `json:"limit,omitempty"`
	Location      string           `json:"location,omitempty"`
	Sources       []map[string]any `json:"sources,omitempty"`
	ScrapeOptions map[string]any   `json:"scrapeOptions,omitempty"`
	Origin        string           `json:"origin,omitempty"`
}

// CrawlRequest is the payload for the crawl endpoint.
type CrawlRequest struct {
	URL                    string           `json:"url"`
	Prompt                 string           `json:"prompt,omitempty"`
	Limit                  int              `json:"limit,omitempty"`
	MaxDiscoveryDepth      int              `json:"maxDiscoveryDepth,omitempty"`
	Sitemap                string           `json:"sitemap,omitempty"`
	AllowExternalLinks     *bool            `json:"allowExternalLinks,omitempty"`
	AllowSubdomains        *bool            `json:"allowSubdomains,omitempty"`
	CrawlEntireDomain      *bool            `json:"crawlEntireDomain,omitempty"`
	IncludePaths           []string         `json:"includePaths,omitempty"`
	ExcludePaths           []string         `json:"excludePaths,omitempty"`
	DeduplicateSimilarURLs *bool            `json:"deduplicateSimilarURLs,omitempty"`
	IgnoreQueryParameters  *bool            `json:"ignoreQueryParameters,omitempty"`
	Delay                  int              `json:"delay,omitempty"`
	Webhook                any              `json:"webhook,omitempty"`
	ScrapeOptions          map[string]any   `json:"scrapeOptions,omitempty"`
	Origin                 string           `json:"origin,omitempty"`
}

// ExtractRequest is the payload for the extract endpoint.
type ExtractRequest struct {
	URLs               []string       `json:"urls"`
	Prompt             string         `json:"prompt,omitempty"`
	Schema             map[string]any `json:"schema,omitempty"`
	AllowExternalLinks *bool          `json:"allowExternalLinks,omitempty"`
	EnableWebSearch    *bool          `json:"enableWebSearch,omitempty"`
	IncludeSubdomains  *bool          `json:"includeSubdomains,omitempty"`
	Origin             string         `json:"origin,omitempty"`
}

// APIError is a non-2xx engine response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine API error (status %d): %s", e.StatusCode, e.Message)
}

// extractAPIError pulls a human-readable message out of an error
// response body. Engines answer either {"error": "..."} or
// {"error": {"message": "..."}}; anything else is passed through raw.
func extractAPIError(body []byte) string {
	var wrapper struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Error) > 0 {
		var msg string
		if err := json.Unmarshal(wrapper.Error, &msg); err == nil && msg != "" {
			return msg
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(wrapper.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	s := string(body)
	if len(s) > 500 {
		s = s[:500] + "..."
	}
	return s
}
