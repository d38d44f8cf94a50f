package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scorchcrawl/scorchcrawl-mcp/internal/copilot"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/engine"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/identity"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/metrics"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/ratelimit"
	"github.com/scorchcrawl/scorchcrawl-mcp/internal/telemetry"
)

const defaultSystemPrompt = `You are a web research agent. Use the provided scraping tools to gather current information from the web, then answer the request concisely and cite the source URLs you used. When a structured output schema is given, the final answer must be a single JSON document matching it.`

// Config tunes the agent job engine.
type Config struct {
	AllowedModels []string
	DefaultModel  string
	// SystemPrompt overrides the stock research prompt.
	SystemPrompt string
	// Provider is the optional BYOK override forwarded to sessions.
	Provider *copilot.ProviderConfig
	// MaxTurns caps session tool loops.
	MaxTurns int
	// StaleJobTimeout is how long a job may process before the reaper
	// fails it.
	StaleJobTimeout time.Duration
	// GCInterval is the maintenance loop cadence.
	GCInterval time.Duration
	// Retention is how long finished jobs are kept for polling.
	Retention time.Duration
	// RetentionSchedule is when sweeps run: a Go duration ("10m") or a
	// standard cron expression ("0 * * * *").
	RetentionSchedule string
}

// StartRequest is one research request.
type StartRequest struct {
	Prompt string
	// URLs focuses the research on specific pages.
	URLs []string
	// Schema requests structured output.
	Schema map[string]any
	Model  string
	// IdentityToken is the caller's runtime token; empty means the
	// process-wide token and the shared server identity.
	IdentityToken string
}

// StartResponse is the immediate answer to a start call. Rejections
// carry no job record; polling a rejected id yields not-found.
type StartResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RateLimited bool   `json:"rate_limited,omitempty"`
	RetryAfterS int    `json:"retry_after_s,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Engine owns the admission guard, the job store, the runtime client
// cache, and the maintenance loop. One instance serves the process.
type Engine struct {
	cfg    Config
	guard  *ratelimit.Guard
	store  *Store
	cache  *copilot.ClientCache
	scrape *engine.Client
	logger *zap.Logger

	// admitMu serializes check-then-acquire so two concurrent starts
	// cannot both pass on the last free slot.
	admitMu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine wires the engine and starts its maintenance loop. Call
// Shutdown to stop the loop, the guard GC, and the client cache.
func NewEngine(cfg Config, guard *ratelimit.Guard, store *Store, cache *copilot.ClientCache, scrape *engine.Client, logger *zap.Logger) *Engine {
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = guard.Config().GCInterval
	}
	if cfg.StaleJobTimeout <= 0 {
		cfg.StaleJobTimeout = guard.Config().StaleJobTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	e := &Engine{
		cfg:    cfg,
		guard:  guard,
		store:  store,
		cache:  cache,
		scrape: scrape,
		logger: logger.Named("agent"),
		stop:   make(chan struct{}),
	}
	go e.maintenanceLoop()
	return e
}

// Start admits and launches a research job, returning immediately
// with its id. Rejections come back as rate_limited or failed
// responses without a stored record.
func (e *Engine) Start(ctx context.Context, req StartRequest, scrape *engine.Client) StartResponse {
	ident := identity.Key(req.IdentityToken)
	jobID := uuid.NewString()

	model := req.Model
	if model == "" {
		model = e.cfg.DefaultModel
	}

	e.admitMu.Lock()
	if d := e.guard.Check(ident); !d.Allowed {
		e.admitMu.Unlock()
		metrics.RecordAdmissionRejection(rejectionCause(d.Reason))
		e.logger.Info("agent job rejected",
			zap.String("job_id", jobID),
			zap.String("reason", d.Reason),
		)
		return StartResponse{
			ID:          jobID,
			Status:      StatusRateLimited,
			RateLimited: true,
			RetryAfterS: d.RetryAfterS,
			Error:       d.Reason,
		}
	}
	if !e.modelAllowed(model) {
		e.admitMu.Unlock()
		return StartResponse{
			ID:     jobID,
			Status: StatusFailed,
			Error:  fmt.Sprintf("Model %q is not in the allowed list: %s", model, strings.Join(e.cfg.AllowedModels, ", ")),
		}
	}
	e.guard.Acquire(ident)
	e.admitMu.Unlock()

	e.store.Insert(NewJob(jobID, req.Prompt, ident))
	metrics.RecordJobStart()
	e.logger.Info("agent job started",
		zap.String("job_id", jobID),
		zap.String("model", model),
	)

	if scrape == nil {
		scrape = e.scrape
	}
	// The session outlives the MCP request; keep its trace linkage but
	// not its cancellation.
	go e.runSession(context.WithoutCancel(ctx), jobID, ident, req, model, scrape)

	return StartResponse{ID: jobID, Status: StatusProcessing}
}

// Status returns the job record for polling.
func (e *Engine) Status(id string) (Job, error) {
	return e.store.Get(id)
}

// Models returns the allowed model list and the default.
func (e *Engine) Models() ([]string, string) {
	return append([]string(nil), e.cfg.AllowedModels...), e.cfg.DefaultModel
}

// RateLimitStatus returns the guard's view scoped to the identity.
func (e *Engine) RateLimitStatus(identityToken string) ratelimit.Stats {
	return e.guard.Stats(identity.Key(identityToken))
}

// Shutdown stops the maintenance loop, the guard GC, and the cached
// runtime clients. In-flight jobs are abandoned.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.guard.Shutdown()
	e.cache.Shutdown()
}

// runSession drives one background research session and finalizes the
// job exactly once on every exit path.
func (e *Engine) runSession(ctx context.Context, jobID, ident string, req StartRequest, model string, scrape *engine.Client) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("agent session panicked",
				zap.String("job_id", jobID),
				zap.Any("panic", r),
			)
			e.failJob(jobID, ident, fmt.Sprintf("Agent error: internal failure: %v", r))
		}
	}()

	ctx, span := telemetry.StartJobSpan(ctx, jobID, model)
	defer span.End()

	e.store.SetProgress(jobID, "Connecting to Copilot")
	runtime := e.cache.Get(req.IdentityToken)

	sess, err := runtime.NewSession(ctx, copilot.SessionConfig{
		JobID:        jobID,
		Model:        model,
		SystemPrompt: e.systemPrompt(),
		Tools:        e.buildTools(scrape),
		Provider:     e.cfg.Provider,
		MaxTurns:     e.cfg.MaxTurns,
		OnError:      copilot.DefaultHook(e.logger),
		OnUsage: func(u copilot.UsageSnapshot) {
			if !u.HasQuota() {
				return
			}
			e.guard.UpdateQuota(ident, ratelimit.Snapshot{
				RemainingPercent:    u.RemainingPercent,
				UsedRequests:        u.UsedRequests,
				EntitlementRequests: u.EntitlementRequests,
				Unlimited:           u.Unlimited,
				ResetDate:           u.ResetDate,
			})
		},
	})
	if err != nil {
		e.failJob(jobID, ident, "Agent error: "+err.Error())
		return
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sess.Destroy(dctx); err != nil {
			e.logger.Debug("session destroy failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}()

	e.store.SetProgress(jobID, "Researching")
	content, err := sess.Run(ctx, buildUserPrompt(req))
	if err != nil {
		e.failJob(jobID, ident, "Agent error: "+err.Error())
		return
	}
	if content == "" {
		content = "No response generated"
	}
	e.completeJob(jobID, ident, map[string]any{
		"success": true,
		"data":    content,
		"model":   model,
	})
}

// completeJob finalizes a successful job. The store transition gates
// the slot release so the reaper and the session cannot both free it.
func (e *Engine) completeJob(jobID, ident string, result map[string]any) {
	if !e.store.Complete(jobID, result) {
		return
	}
	e.guard.Release(ident)
	metrics.RecordJobComplete(StatusCompleted)
	e.logger.Info("agent job completed", zap.String("job_id", jobID))
}

// failJob finalizes a failed job, releasing the slot only when this
// call performed the transition.
func (e *Engine) failJob(jobID, ident, msg string) {
	if !e.store.Fail(jobID, msg) {
		return
	}
	e.guard.Release(ident)
	metrics.RecordJobComplete(StatusFailed)
	e.logger.Warn("agent job failed",
		zap.String("job_id", jobID),
		zap.String("error", msg),
	)
}

func (e *Engine) modelAllowed(model string) bool {
	for _, allowed := range e.cfg.AllowedModels {
		if model == allowed {
			return true
		}
	}
	return false
}

func (e *Engine) systemPrompt() string {
	if e.cfg.SystemPrompt != "" {
		return e.cfg.SystemPrompt
	}
	return defaultSystemPrompt
}

// buildUserPrompt assembles the session prompt: the request text, an
// optional bulleted URL focus list, and an optional output schema.
func buildUserPrompt(req StartRequest) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if len(req.URLs) > 0 {
		b.WriteString("\n\nFocus on these URLs:\n")
		for _, u := range req.URLs {
			b.WriteString("- ")
			b.WriteString(u)
			b.WriteString("\n")
		}
	}
	if len(req.Schema) > 0 {
		if data, err := json.Marshal(req.Schema); err == nil {
			b.WriteString("\n\nReturn the result as a JSON document matching this schema:\n")
			b.Write(data)
		}
	}
	return b.String()
}

// rejectionCause buckets a rejection reason for metrics.
func rejectionCause(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "quota"):
		return "quota"
	case strings.Contains(lower, "rate limit"):
		return "rate_window"
	default:
		return "concurrency"
	}
}
