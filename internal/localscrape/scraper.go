// Package localscrape fetches and reduces web pages from this process
// instead of the scraping engine. It covers the static-HTML formats
// only; anything needing a browser or model stays on the engine.
package localscrape

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	// maxBodyBytes caps how much of a response is read. Pages past
	// this size are scraped truncated rather than ballooning memory.
	maxBodyBytes = 10 << 20
)

// ErrFormatNeedsServer marks a requested format the local fetcher
// cannot produce. Callers fall back to the engine.
var ErrFormatNeedsServer = errors.New("format requires the scraping engine")

// localFormats are the formats producible without a browser or model.
var localFormats = map[string]bool{
	"markdown": true,
	"html":     true,
	"rawHtml":  true,
	"links":    true,
}

// SupportsFormat reports whether the local fetcher can produce the
// named format.
func SupportsFormat(name string) bool {
	return localFormats[name]
}

// SPAShellError reports that the fetched page looks like an empty
// client-side app shell. Partial carries whatever was extracted so
// callers can still fall back gracefully.
type SPAShellError struct {
	Reason  string
	Partial *Result
}

func (e *SPAShellError) Error() string {
	return "SPA shell detected: " + e.Reason
}

// AsSPAShell unwraps err into a SPAShellError if it is one.
func AsSPAShell(err error) (*SPAShellError, bool) {
	var spa *SPAShellError
	if errors.As(err, &spa) {
		return spa, true
	}
	return nil, false
}

// Options controls a single local scrape.
type Options struct {
	// Formats to produce; defaults to markdown.
	Formats []string
	// OnlyMainContent strips navigation chrome before reduction.
	// Defaults to true.
	OnlyMainContent *bool
	// IncludeTags restricts reduction to these CSS selectors.
	IncludeTags []string
	// ExcludeTags removes these CSS selectors before reduction.
	ExcludeTags []string
	// Headers are merged over the default browser-plausible set.
	Headers map[string]string
	// Timeout for the whole fetch; defaults to 30s.
	Timeout time.Duration
	// SkipTLSVerification fetches through a client that accepts any
	// certificate. Scoped to this request only.
	SkipTLSVerification bool
}

// Result is a locally produced document, shaped like an engine
// document so callers cannot tell the two apart.
type Result struct {
	Markdown string   `json:"markdown,omitempty"`
	HTML     string   `json:"html,omitempty"`
	RawHTML  string   `json:"rawHtml,omitempty"`
	Links    []string `json:"links,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Metadata mirrors the engine's document metadata keys.
type Metadata struct {
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	Language      string `json:"language,omitempty"`
	Keywords      string `json:"keywords,omitempty"`
	Robots        string `json:"robots,omitempty"`
	OGTitle       string `json:"ogTitle,omitempty"`
	OGDescription string `json:"ogDescription,omitempty"`
	OGImage       string `json:"ogImage,omitempty"`
	OGURL         string `json:"ogUrl,omitempty"`
	OGSiteName    string `json:"ogSiteName,omitempty"`
	SourceURL     string `json:"sourceURL"`
	URL           string `json:"url"`
	StatusCode    int    `json:"statusCode"`
	ContentType   string `json:"contentType,omitempty"`
}

// noiseSelectors are stripped when OnlyMainContent is on.
var noiseSelectors = []string{
	"nav", "header", "footer", "aside",
	"[role=navigation]", "[role=banner]", "[role=complementary]", "[role=contentinfo]",
	".sidebar", "#sidebar", ".menu", ".navbar", ".breadcrumb",
	".cookie-banner", ".cookie-consent", ".gdpr",
	".ad", ".ads", ".advertisement", ".banner",
	".popup", ".modal", ".newsletter", ".subscribe",
	".social-share", ".share-buttons", ".related-posts", ".comments",
}

// mainContentSelectors are tried in order when picking the reduction
// target; the first match with substantial content wins.
var mainContentSelectors = []string{
	"main", "article", "[role=main]",
	".main-content", ".content", "#content", "#main",
}

// Scraper fetches pages over plain HTTP. It holds two clients so a
// per-request TLS skip never weakens verification for other requests.
type Scraper struct {
	client         *http.Client
	insecureClient *http.Client
	logger         *zap.Logger
}

// New builds a local scraper.
func New(logger *zap.Logger) *Scraper {
	return &Scraper{
		client: &http.Client{},
		insecureClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		logger: logger.Named("localscrape"),
	}
}

// Scrape fetches rawURL and reduces it to the requested formats.
//
// Returns ErrFormatNeedsServer (wrapped) when a format needs the
// engine, and *SPAShellError when the page is an empty client-side
// shell; both leave fallback to the caller.
func (s *Scraper) Scrape(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []string{"markdown"}
	}
	for _, f := range formats {
		if !localFormats[f] {
			metrics.RecordLocalScrape("needs_server")
			return nil, fmt.Errorf("format %q: %w", f, ErrFormatNeedsServer)
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		metrics.RecordLocalScrape("error")
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	raw, meta, err := s.fetch(ctx, u, opts)
	if err != nil {
		metrics.RecordLocalScrape("error")
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		metrics.RecordLocalScrape("error")
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	extractMetadata(doc, meta)

	// Detect before any stripping mutates the document; a page whose
	// only content is chrome must not look like a shell afterwards.
	spaReason := DetectSPAShell(raw, doc)

	result := &Result{Metadata: *meta}
	wants := make(map[string]bool, len(formats))
	for _, f := range formats {
		wants[f] = true
	}

	if wants["rawHtml"] {
		result.RawHTML = raw
	}
	if wants["links"] {
		result.Links = extractLinks(doc, meta.URL)
	}
	if wants["markdown"] || wants["html"] {
		target := s.reduce(doc, opts)
		html := selectionHTML(target)
		if wants["html"] {
			result.HTML = html
		}
		if wants["markdown"] {
			result.Markdown = toMarkdown(html, u.Host)
		}
	}

	if spaReason != "" {
		s.logger.Debug("SPA shell detected",
			zap.String("url", rawURL),
			zap.String("reason", spaReason),
		)
		metrics.RecordLocalScrape("spa_detected")
		return nil, &SPAShellError{Reason: spaReason, Partial: result}
	}

	metrics.RecordLocalScrape("success")
	return result, nil
}

// fetch performs the HTTP request and fills the transport-level
// metadata fields.
func (s *Scraper) fetch(ctx context.Context, u *url.URL, opts Options) (string, *Metadata, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}

	// Browser-plausible defaults; Accept-Encoding is left to the
	// transport so responses are transparently decompressed.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	client := s.client
	if opts.SkipTLSVerification {
		client = s.insecureClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", u, err)
	}

	meta := &Metadata{
		SourceURL:   u.String(),
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	return string(body), meta, nil
}

// reduce strips noise and picks the reduction target inside doc.
// Mutates doc.
func (s *Scraper) reduce(doc *goquery.Document, opts Options) *goquery.Selection {
	// Scripts, styles, and iframes are never content.
	doc.Find("script, style, noscript, template, iframe").Remove()

	mainOnly := opts.OnlyMainContent == nil || *opts.OnlyMainContent
	if mainOnly {
		doc.Find(strings.Join(noiseSelectors, ", ")).Remove()
	}
	if len(opts.ExcludeTags) > 0 {
		doc.Find(strings.Join(opts.ExcludeTags, ", ")).Remove()
	}

	if len(opts.IncludeTags) > 0 {
		if sel := doc.Find(strings.Join(opts.IncludeTags, ", ")); sel.Length() > 0 {
			return sel
		}
	}

	if mainOnly {
		for _, candidate := range mainContentSelectors {
			sel := doc.Find(candidate).First()
			if sel.Length() == 0 {
				continue
			}
			if inner, err := sel.Html(); err == nil && len(strings.TrimSpace(inner)) > 100 {
				return sel
			}
		}
	}

	return doc.Find("body")
}

// selectionHTML renders every matched node, not just the first.
// includeTags selections regularly match several elements.
func selectionHTML(sel *goquery.Selection) string {
	if sel.Length() == 1 {
		h, err := goquery.OuterHtml(sel)
		if err != nil {
			return ""
		}
		return h
	}
	var sb strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		if h, err := goquery.OuterHtml(s); err == nil {
			sb.WriteString(h)
			sb.WriteString("\n")
		}
	})
	return sb.String()
}

// toMarkdown converts reduced HTML to GitHub-flavored markdown.
// domain resolves relative links in the output.
func toMarkdown(html, domain string) string {
	conv := md.NewConverter(domain, true, nil)
	conv.Use(plugin.GitHubFlavored())
	out, err := conv.ConvertString(html)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// extractLinks collects absolute, deduplicated hrefs in document
// order. Fragments and javascript: pseudo-links are dropped.
func extractLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		abs := href
		if base != nil {
			if resolved, err := base.Parse(href); err == nil {
				abs = resolved.String()
			}
		}
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})
	return links
}

// extractMetadata fills the document-level metadata fields from doc.
func extractMetadata(doc *goquery.Document, meta *Metadata) {
	meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	meta.Description = metaContent(doc, "description")
	meta.Keywords = metaContent(doc, "keywords")
	meta.Robots = metaContent(doc, "robots")
	meta.Language = doc.Find("html").AttrOr("lang", "")
	meta.OGTitle = metaProperty(doc, "og:title")
	meta.OGDescription = metaProperty(doc, "og:description")
	meta.OGImage = metaProperty(doc, "og:image")
	meta.OGURL = metaProperty(doc, "og:url")
	meta.OGSiteName = metaProperty(doc, "og:site_name")
	if meta.Title == "" {
		meta.Title = meta.OGTitle
	}
	if meta.Description == "" {
		meta.Description = meta.OGDescription
	}
}

func metaContent(doc *goquery.Document, name string) string {
	return strings.TrimSpace(doc.Find(`meta[name="` + name + `"]`).First().AttrOr("content", ""))
}

func metaProperty(doc *goquery.Document, prop string) string {
	v := doc.Find(`meta[property="` + prop + `"]`).First().AttrOr("content", "")
	if v == "" {
		v = doc.Find(`meta[name="` + prop + `"]`).First().AttrOr("content", "")
	}
	return strings.TrimSpace(v)
}
