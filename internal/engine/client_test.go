package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Logger:  zap.NewNop(),
	})
}

func TestScrapeInjectsOriginAndAuth(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/scrape" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"markdown": "# hi"}})
	})

	resp, err := c.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody["origin"] != "mcp-server" {
		t.Errorf("expected origin label, got %v", gotBody["origin"])
	}
	if resp["success"] != true {
		t.Errorf("response should pass through, got %v", resp)
	}
}

func TestCrawlStatusUsesGet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v1/crawl/crawl-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "scraping", "completed": 4, "total": 10})
	})

	resp, err := c.CrawlStatus(context.Background(), "crawl-123")
	if err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "scraping" {
		t.Errorf("expected scraping status, got %v", resp["status"])
	}
}

func TestAPIErrorExtraction(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"string error", `{"error": "invalid URL"}`, "invalid URL"},
		{"object error", `{"error": {"message": "payment required"}}`, "payment required"},
		{"raw body", `upstream exploded`, "upstream exploded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
				w.Write([]byte(tc.body))
			})

			_, err := c.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != http.StatusPaymentRequired {
				t.Errorf("expected 402, got %d", apiErr.StatusCode)
			}
			if apiErr.Message != tc.want {
				t.Errorf("expected message %q, got %q", tc.want, apiErr.Message)
			}
		})
	}
}

func TestWithAPIKey(t *testing.T) {
	base := NewClient(Config{BaseURL: "http://engine", APIKey: "server-key"})

	derived := base.WithAPIKey("caller-key")
	if derived == base {
		t.Fatal("expected a copy for a different key")
	}
	if derived.apiKey != "caller-key" {
		t.Errorf("expected caller-key, got %q", derived.apiKey)
	}
	if base.apiKey != "server-key" {
		t.Errorf("base client must be unchanged, got %q", base.apiKey)
	}

	if same := base.WithAPIKey(""); same != base {
		t.Error("empty key should return the client unchanged")
	}
	if same := base.WithAPIKey("server-key"); same != base {
		t.Error("identical key should return the client unchanged")
	}
}

func TestNoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Map(context.Background(), MapRequest{URL: "https://example.com"}); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "" {
		t.Errorf("no key configured, but Authorization header was %q", gotAuth)
	}
}
