package copilot

import (
	"strings"

	"go.uber.org/zap"
)

// Error-hook actions.
const (
	ActionAbort = "abort"
	ActionRetry = "retry"
	ActionSkip  = "skip"
)

// Error contexts reported by the session loop.
const (
	ContextModelCall     = "model_call"
	ContextToolExecution = "tool_execution"
	ContextSystem        = "system"
	ContextUserInput     = "user_input"
)

// modelCallRetries is the budget granted to a recoverable model call.
const modelCallRetries = 2

// ErrorEvent is one error occurrence inside a session.
type ErrorEvent struct {
	JobID       string
	Text        string
	Context     string
	Recoverable bool
}

// Resolution tells the session loop how to proceed.
type Resolution struct {
	Action     string
	RetryCount int
	// Note is appended to the surfaced error when non-empty.
	Note string
}

// ErrorHook resolves session errors.
type ErrorHook func(ErrorEvent) Resolution

// Classify maps an error event to a resolution. Billing and auth
// failures abort immediately; upstream rate limits abort with a
// retry-later note; recoverable model calls get a bounded retry;
// tool failures are skipped so the agent can continue.
func Classify(ev ErrorEvent) Resolution {
	lower := strings.ToLower(ev.Text)
	switch {
	case containsAny(lower, "quota", "402", "not licensed", "authentication"):
		return Resolution{Action: ActionAbort}
	case containsAny(lower, "rate limit", "429"):
		return Resolution{Action: ActionAbort, Note: "rate limit reached, retry later"}
	case ev.Context == ContextModelCall && ev.Recoverable:
		return Resolution{Action: ActionRetry, RetryCount: modelCallRetries}
	case ev.Context == ContextToolExecution:
		return Resolution{Action: ActionSkip}
	default:
		return Resolution{Action: ActionAbort}
	}
}

// DefaultHook wraps Classify with a warning log of the event.
func DefaultHook(logger *zap.Logger) ErrorHook {
	return func(ev ErrorEvent) Resolution {
		logger.Warn("agent session error",
			zap.String("job_id", ev.JobID),
			zap.String("context", ev.Context),
			zap.Bool("recoverable", ev.Recoverable),
			zap.String("error", truncate(ev.Text, 200)),
		)
		return Classify(ev)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
