package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Guard is the admission facade. It owns the concurrency tracker, the
// sliding window, and the quota monitor behind a single mutex, and
// runs a background loop that garbage-collects window and quota state.
//
// Check inspects all three components in order (concurrency, then
// rate window, then quota) without recording anything. Acquire
// records an admission; Release returns a concurrency slot. Callers
// that need check-then-acquire to be atomic against other admissions
// must serialize that pair themselves.
type Guard struct {
	mu      sync.Mutex
	cfg     Config
	tracker *ConcurrencyTracker
	window  *SlidingWindow
	quota   *QuotaMonitor
	logger  *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewGuard builds a guard from cfg (zero fields defaulted) and starts
// its GC loop. Call Shutdown to stop the loop.
func NewGuard(cfg Config, logger *zap.Logger) *Guard {
	cfg = cfg.withDefaults()
	g := &Guard{
		cfg:     cfg,
		tracker: NewConcurrencyTracker(cfg.MaxConcurrentGlobal, cfg.MaxConcurrentPerUser),
		window:  NewSlidingWindow(cfg.RateWindow, cfg.MaxRequestsPerWindow, cfg.MaxRequestsPerWindowPerUser),
		quota:   NewQuotaMonitor(cfg.QuotaRejectThreshold),
		logger:  logger.Named("ratelimit"),
		stop:    make(chan struct{}),
	}
	go g.gcLoop()
	return g
}

// Config returns the effective (defaulted) configuration.
func (g *Guard) Config() Config {
	return g.cfg
}

// Check runs all admission checks for the identity. The first failing
// check decides the outcome; nothing is recorded.
func (g *Guard) Check(id string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if d := g.tracker.CanAcquire(id); !d.Allowed {
		return d
	}
	if d := g.window.Check(id, now); !d.Allowed {
		return d
	}
	if d := g.quota.Check(id, now); !d.Allowed {
		return d
	}
	return allow()
}

// Acquire records an admission: one concurrency slot taken and one
// window event.
func (g *Guard) Acquire(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tracker.Acquire(id)
	g.window.Record(id, time.Now())
}

// Release returns the identity's concurrency slot. Safe to call for
// identities with nothing held.
func (g *Guard) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tracker.Release(id)
}

// UpdateQuota merges a quota report for the identity.
func (g *Guard) UpdateQuota(id string, snap Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quota.Update(id, snap, time.Now())
}

// Stats returns the admission state scoped to one identity, shaped
// for the rate-limit status tool. Other identities' tokens never
// appear in the output.
func (g *Guard) Stats(id string) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	s := Stats{
		ActiveJobs:     g.tracker.TotalActive(),
		YourActiveJobs: g.tracker.Active(id),
		YourRecentReqs: g.window.Count(id, now),
		Limits: LimitsInfo{
			MaxConcurrentGlobal:         g.cfg.MaxConcurrentGlobal,
			MaxConcurrentPerUser:        g.cfg.MaxConcurrentPerUser,
			RateWindowSeconds:           int(g.cfg.RateWindow / time.Second),
			MaxRequestsPerWindow:        g.cfg.MaxRequestsPerWindow,
			MaxRequestsPerWindowPerUser: g.cfg.MaxRequestsPerWindowPerUser,
			QuotaRejectThreshold:        g.cfg.QuotaRejectThreshold,
		},
	}
	if qs, ok := g.quota.Status(id); ok {
		s.Quota = &qs
	}
	return s
}

// Stats is the identity-scoped admission state.
type Stats struct {
	ActiveJobs     int          `json:"active_jobs"`
	YourActiveJobs int          `json:"your_active_jobs"`
	YourRecentReqs int          `json:"your_recent_requests"`
	Quota          *QuotaStatus `json:"quota,omitempty"`
	Limits         LimitsInfo   `json:"limits"`
}

// LimitsInfo is the effective limit configuration.
type LimitsInfo struct {
	MaxConcurrentGlobal         int     `json:"max_concurrent_global"`
	MaxConcurrentPerUser        int     `json:"max_concurrent_per_user"`
	RateWindowSeconds           int     `json:"rate_window_seconds"`
	MaxRequestsPerWindow        int     `json:"max_requests_per_window"`
	MaxRequestsPerWindowPerUser int     `json:"max_requests_per_window_per_user"`
	QuotaRejectThreshold        float64 `json:"quota_reject_threshold_percent"`
}

// Shutdown stops the GC loop. Idempotent.
func (g *Guard) Shutdown() {
	g.stopOnce.Do(func() {
		close(g.stop)
	})
}

// gcLoop prunes expired window events and dead quota records until
// Shutdown.
func (g *Guard) gcLoop() {
	ticker := time.NewTicker(g.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			now := time.Now()
			g.window.GC(now)
			g.quota.GC(now)
			g.mu.Unlock()
			g.logger.Debug("admission state GC pass complete")
		}
	}
}
