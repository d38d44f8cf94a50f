// Package identity resolves caller identity and credentials from MCP
// transport headers. Identities are opaque strings compared only for
// equality; admission control and quota tracking key off them.
package identity

import (
	"net/http"
	"strings"
)

// ServerIdentity is the shared identity used when a request carries no
// caller token and no process-wide token is configured. All anonymous
// callers pool into this identity's limits.
const ServerIdentity = "__server__"

// Credentials holds the per-request secrets extracted from headers.
// Zero values mean the header was absent.
type Credentials struct {
	// CopilotToken authenticates against the agent runtime.
	CopilotToken string
	// APIKey authenticates against the scraping engine.
	APIKey string
}

// FromRequest extracts credentials from an incoming HTTP request.
func FromRequest(r *http.Request) Credentials {
	if r == nil {
		return Credentials{}
	}
	return FromHeaders(r.Header)
}

// FromHeaders extracts credentials from a header set.
//
// The Copilot token is taken from x-copilot-token, then x-github-token.
// The scraping key is taken from a bearer Authorization header, then
// x-scorchcrawl-api-key, then x-api-key.
func FromHeaders(h http.Header) Credentials {
	var c Credentials

	if v := strings.TrimSpace(h.Get("x-copilot-token")); v != "" {
		c.CopilotToken = v
	} else if v := strings.TrimSpace(h.Get("x-github-token")); v != "" {
		c.CopilotToken = v
	}

	if v := parseBearer(h.Get("Authorization")); v != "" {
		c.APIKey = v
	} else if v := strings.TrimSpace(h.Get("x-scorchcrawl-api-key")); v != "" {
		c.APIKey = v
	} else if v := strings.TrimSpace(h.Get("x-api-key")); v != "" {
		c.APIKey = v
	}

	return c
}

// Identity returns the admission identity for these credentials: the
// request's own token when present, otherwise the process-wide token,
// otherwise ServerIdentity.
func (c Credentials) Identity(processToken string) string {
	return Key(c.ResolveToken(processToken))
}

// Key maps a resolved token to its admission identity. Tokenless
// callers share ServerIdentity and its limits.
func Key(token string) string {
	if token == "" {
		return ServerIdentity
	}
	return token
}

// ResolveToken returns the Copilot token to use for runtime calls:
// the request token when present, else the process-wide token.
func (c Credentials) ResolveToken(processToken string) string {
	if c.CopilotToken != "" {
		return c.CopilotToken
	}
	return processToken
}

// ResolveAPIKey returns the scraping key to use for engine calls:
// the request key when present, else the server-configured key.
func (c Credentials) ResolveAPIKey(serverKey string) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return serverKey
}

// parseBearer extracts the token from a "Bearer <token>" value.
// The scheme match is case-insensitive; anything else returns "".
func parseBearer(v string) string {
	fields := strings.Fields(v)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}
