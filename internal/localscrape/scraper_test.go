package localscrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

const articlePage = `<!DOCTYPE html>
<html lang="en">
<head>
<title>Migration Guide</title>
<meta name="description" content="How to migrate safely">
<meta property="og:title" content="Migration Guide (OG)">
<meta property="og:site_name" content="Example Docs">
</head>
<body>
<nav>Site Navigation Home About Pricing</nav>
<main>
<h1>Database Migration</h1>
<p>This guide walks through a zero-downtime migration in enough detail
that the main-content probe considers it substantial page content.</p>
<a href="/guides/rollback">Rollback</a>
<a href="https://example.org/external">External</a>
<a href="/guides/rollback">Rollback again</a>
<a href="#section-2">Jump</a>
<a href="javascript:void(0)">Noop</a>
</main>
<footer>Copyright Example Docs</footer>
</body>
</html>`

func newTestScraper(t *testing.T) *Scraper {
	t.Helper()
	return New(zap.NewNop())
}

func serve(t *testing.T, page string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScrapeArticle(t *testing.T) {
	srv := serve(t, articlePage)
	s := newTestScraper(t)

	res, err := s.Scrape(context.Background(), srv.URL, Options{
		Formats: []string{"markdown", "html", "rawHtml", "links"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Metadata.Title != "Migration Guide" {
		t.Errorf("title: got %q", res.Metadata.Title)
	}
	if res.Metadata.Description != "How to migrate safely" {
		t.Errorf("description: got %q", res.Metadata.Description)
	}
	if res.Metadata.Language != "en" {
		t.Errorf("language: got %q", res.Metadata.Language)
	}
	if res.Metadata.OGTitle != "Migration Guide (OG)" {
		t.Errorf("og title: got %q", res.Metadata.OGTitle)
	}
	if res.Metadata.StatusCode != 200 {
		t.Errorf("status: got %d", res.Metadata.StatusCode)
	}
	if res.Metadata.SourceURL != srv.URL {
		t.Errorf("source URL: got %q", res.Metadata.SourceURL)
	}
	if !strings.Contains(res.Metadata.ContentType, "text/html") {
		t.Errorf("content type: got %q", res.Metadata.ContentType)
	}

	if !strings.Contains(res.Markdown, "Database Migration") {
		t.Errorf("markdown should contain the heading, got %q", res.Markdown)
	}
	if strings.Contains(res.Markdown, "Site Navigation") {
		t.Error("markdown should not contain nav chrome")
	}
	if !strings.Contains(res.HTML, "<main") {
		t.Errorf("html output should be the main element, got %q", res.HTML)
	}
	if !strings.Contains(res.RawHTML, "<nav>") {
		t.Error("raw html should be the unstripped page")
	}

	wantLinks := []string{
		srv.URL + "/guides/rollback",
		"https://example.org/external",
	}
	if len(res.Links) != len(wantLinks) {
		t.Fatalf("expected %d links, got %v", len(wantLinks), res.Links)
	}
	for i, want := range wantLinks {
		if res.Links[i] != want {
			t.Errorf("link %d: expected %q, got %q", i, want, res.Links[i])
		}
	}
}

func TestScrapeServerOnlyFormat(t *testing.T) {
	s := newTestScraper(t)

	_, err := s.Scrape(context.Background(), "https://example.com", Options{
		Formats: []string{"markdown", "screenshot"},
	})
	if !errors.Is(err, ErrFormatNeedsServer) {
		t.Fatalf("expected ErrFormatNeedsServer, got %v", err)
	}
}

func TestScrapeSPAShell(t *testing.T) {
	srv := serve(t, `<html><head><script src="/app.js"></script></head><body><div id="app"></div></body></html>`)
	s := newTestScraper(t)

	_, err := s.Scrape(context.Background(), srv.URL, Options{Formats: []string{"markdown"}})
	spa, ok := AsSPAShell(err)
	if !ok {
		t.Fatalf("expected SPAShellError, got %v", err)
	}
	if !strings.Contains(spa.Reason, "#app") {
		t.Errorf("reason should name the mount point, got %q", spa.Reason)
	}
	if spa.Partial == nil {
		t.Fatal("partial result should accompany the detection")
	}
	if spa.Partial.Metadata.StatusCode != 200 {
		t.Errorf("partial metadata should be populated, got %+v", spa.Partial.Metadata)
	}
}

func TestScrapeExcludeTags(t *testing.T) {
	page := `<html><body><main><h1>Real Content</h1>
<p>A long enough paragraph so the main selector is chosen as the reduction
target for this page without falling back to the body element.</p>
<div class="promo">Buy our premium plan now</div></main></body></html>`
	srv := serve(t, page)
	s := newTestScraper(t)

	res, err := s.Scrape(context.Background(), srv.URL, Options{
		Formats:     []string{"markdown"},
		ExcludeTags: []string{".promo"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Markdown, "premium plan") {
		t.Errorf("excluded selector should be stripped, got %q", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "Real Content") {
		t.Errorf("real content should survive, got %q", res.Markdown)
	}
}

func TestScrapeIncludeTags(t *testing.T) {
	page := `<html><body>
<div class="intro">Introduction paragraph text</div>
<div class="body-text">Body paragraph text</div>
<div class="junk">Everything else on the page</div>
</body></html>`
	srv := serve(t, page)
	s := newTestScraper(t)

	res, err := s.Scrape(context.Background(), srv.URL, Options{
		Formats:     []string{"markdown"},
		IncludeTags: []string{".intro", ".body-text"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Markdown, "Introduction paragraph") ||
		!strings.Contains(res.Markdown, "Body paragraph") {
		t.Errorf("both included selectors should appear, got %q", res.Markdown)
	}
	if strings.Contains(res.Markdown, "Everything else") {
		t.Errorf("non-included content should be dropped, got %q", res.Markdown)
	}
}

func TestScrapeKeepChromeWhenMainContentOff(t *testing.T) {
	page := `<html><body>
<nav>Primary Navigation Links</nav>
<p>Preamble paragraph outside the main element.</p>
<main><p>` + strings.Repeat("Article text. ", 30) + `</p></main>
<p>Postscript paragraph outside the main element.</p>
</body></html>`
	srv := serve(t, page)
	s := newTestScraper(t)

	off := false
	res, err := s.Scrape(context.Background(), srv.URL, Options{
		Formats:         []string{"markdown"},
		OnlyMainContent: &off,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Markdown, "Primary Navigation") {
		t.Errorf("onlyMainContent=false should keep chrome, got %q", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "Preamble paragraph") ||
		!strings.Contains(res.Markdown, "Postscript paragraph") {
		t.Errorf("onlyMainContent=false should keep the whole body, not just <main>, got %q", res.Markdown)
	}
}

func TestScrapeStripsIframes(t *testing.T) {
	page := `<html><body><main><h1>Embedded Media Post</h1>
<p>A long enough paragraph so the main selector is chosen as the reduction
target for this page without falling back to the body element.</p>
<iframe src="https://ads.example.com/frame"><p>iframe fallback advertisement text</p></iframe>
</main></body></html>`
	srv := serve(t, page)
	s := newTestScraper(t)

	res, err := s.Scrape(context.Background(), srv.URL, Options{
		Formats: []string{"markdown", "html"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Markdown, "iframe fallback") {
		t.Errorf("iframe content should be stripped from markdown, got %q", res.Markdown)
	}
	if strings.Contains(res.HTML, "<iframe") {
		t.Errorf("iframe element should be stripped from html, got %q", res.HTML)
	}
}

func TestScrapeOpenGraphFallbacks(t *testing.T) {
	page := `<html><head>
<meta property="og:title" content="OG Only Title">
<meta property="og:description" content="OG only description">
</head><body><main><p>` + strings.Repeat("Body prose for the reducer. ", 15) + `</p></main></body></html>`
	srv := serve(t, page)
	s := newTestScraper(t)

	res, err := s.Scrape(context.Background(), srv.URL, Options{Formats: []string{"markdown"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata.Title != "OG Only Title" {
		t.Errorf("title should fall back to og:title, got %q", res.Metadata.Title)
	}
	if res.Metadata.Description != "OG only description" {
		t.Errorf("description should fall back to og:description, got %q", res.Metadata.Description)
	}
}

func TestScrapeCustomHeaders(t *testing.T) {
	var gotUA, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Probe")
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()
	s := newTestScraper(t)

	_, err := s.Scrape(context.Background(), srv.URL, Options{
		Formats: []string{"links"},
		Headers: map[string]string{"User-Agent": "custom-agent", "X-Probe": "yes"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotUA != "custom-agent" {
		t.Errorf("caller headers should override defaults, got %q", gotUA)
	}
	if gotCustom != "yes" {
		t.Errorf("caller headers should be sent, got %q", gotCustom)
	}
}

func TestScrapeDefaultHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept-Language")
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()
	s := newTestScraper(t)

	if _, err := s.Scrape(context.Background(), srv.URL, Options{Formats: []string{"links"}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotUA, "Mozilla/5.0") {
		t.Errorf("default UA should look like a browser, got %q", gotUA)
	}
	if gotAccept == "" {
		t.Error("default Accept-Language should be sent")
	}
}

func TestScrapeTLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()
	s := newTestScraper(t)

	if _, err := s.Scrape(context.Background(), srv.URL, Options{Formats: []string{"links"}}); err == nil {
		t.Fatal("self-signed certificate should fail verification by default")
	}

	res, err := s.Scrape(context.Background(), srv.URL, Options{
		Formats:             []string{"links"},
		SkipTLSVerification: true,
	})
	if err != nil {
		t.Fatalf("TLS skip should accept the self-signed cert: %v", err)
	}
	if res.Metadata.StatusCode != 200 {
		t.Errorf("expected 200, got %d", res.Metadata.StatusCode)
	}
}

func TestScrapeInvalidURL(t *testing.T) {
	s := newTestScraper(t)
	if _, err := s.Scrape(context.Background(), "ftp://example.com/file", Options{}); err == nil {
		t.Fatal("non-http scheme should be rejected")
	}
	if _, err := s.Scrape(context.Background(), "://broken", Options{}); err == nil {
		t.Fatal("unparseable URL should be rejected")
	}
}

func TestScrapeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()
	s := newTestScraper(t)

	_, err := s.Scrape(context.Background(), srv.URL, Options{
		Formats: []string{"links"},
		Timeout: 50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestScrapeLongUnbrokenToken(t *testing.T) {
	token := strings.Repeat("a", 200)
	srv := serve(t, "<html><body><p>"+token+"</p></body></html>")
	s := newTestScraper(t)

	res, err := s.Scrape(context.Background(), srv.URL, Options{Formats: []string{"markdown"}})
	if err != nil {
		t.Fatalf("a single long word is content, not a shell: %v", err)
	}
	if !strings.Contains(res.Markdown, token) {
		t.Errorf("markdown should carry the token, got %q", res.Markdown)
	}
}
