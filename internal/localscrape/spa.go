package localscrape

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// minMeaningfulTextLength is the visible-text size below which a
	// page is suspected of being a client-side shell.
	minMeaningfulTextLength = 200
	// scriptHeavyRatio is the script-to-total character ratio above
	// which a thin page is considered script-rendered.
	scriptHeavyRatio = 0.65
	// nearEmptyTextLength is the visible-text size treated as no
	// content at all.
	nearEmptyTextLength = 50
	// shortPageTextLength is the upper bound for the secondary
	// loading-indicator probe.
	shortPageTextLength = 500
	// scriptHeavyMinSize keeps tiny pages out of the ratio check; a
	// short static page with one analytics tag is not a SPA.
	scriptHeavyMinSize = 1000
)

// spaRootSelectors are well-known client-side mount points.
var spaRootSelectors = []string{
	"#root", "#app", "#__next", "#__nuxt", "#svelte",
	"app-root", "#___gatsby", "#main-app",
}

// loadingPatterns are phrases a shell shows while hydrating or a bot
// interstitial shows while challenging, matched against lowercased
// visible text.
var loadingPatterns = []string{
	"loading...", "loading…", "please wait", "just a moment",
	"checking your browser", "one moment please", "redirecting",
	"enable javascript", "javascript is required",
	"javascript must be enabled", "this app requires javascript",
	"you need to enable javascript", "noscript",
}

// DetectSPAShell inspects a fetched page for signs that its real
// content only exists after client-side rendering. It returns a
// human-readable reason, or "" when the page looks server-rendered.
//
// The function never mutates doc; callers may keep using it.
func DetectSPAShell(rawHTML string, doc *goquery.Document) string {
	visible := visibleText(doc)
	n := len(visible)

	if n < minMeaningfulTextLength {
		for _, sel := range spaRootSelectors {
			el := doc.Find(sel).First()
			if el.Length() == 0 {
				continue
			}
			own := collapseWhitespace(el.Text())
			if len(own) < minMeaningfulTextLength {
				return fmt.Sprintf("SPA root container %q with minimal content (%d chars)", sel, len(own))
			}
		}

		lower := strings.ToLower(visible)
		for _, pattern := range loadingPatterns {
			if strings.Contains(lower, pattern) {
				return fmt.Sprintf("Loading indicator detected: %q", pattern)
			}
		}

		if n < nearEmptyTextLength {
			return fmt.Sprintf("Near-empty body text (%d chars)", n)
		}
	} else if n < shortPageTextLength {
		lower := strings.ToLower(visible)
		for _, pattern := range loadingPatterns {
			if strings.Contains(lower, pattern) {
				return fmt.Sprintf("Short page with loading indicator: %q", pattern)
			}
		}
	}

	if total := len(rawHTML); total > scriptHeavyMinSize && n < minMeaningfulTextLength {
		scriptChars := 0
		doc.Find("script").Each(func(_ int, s *goquery.Selection) {
			scriptChars += len(s.Text())
		})
		ratio := float64(scriptChars) / float64(total)
		if ratio > scriptHeavyRatio {
			return fmt.Sprintf("Script-heavy page (%d%% scripts, %d chars text)", int(ratio*100), n)
		}
	}

	return ""
}

// visibleText returns the page's rendered text with scripts, styles,
// and noscript fallbacks removed and whitespace collapsed. Works on a
// clone so the document is untouched.
func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		body = doc.Selection
	}
	clone := body.Clone()
	clone.Find("script, style, noscript, template").Remove()
	return collapseWhitespace(clone.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
