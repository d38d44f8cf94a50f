package ratelimit

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestGuard(t *testing.T, cfg Config) *Guard {
	t.Helper()
	g := NewGuard(cfg, zap.NewNop())
	t.Cleanup(g.Shutdown)
	return g
}

func TestGuardDefaultsApplied(t *testing.T) {
	g := newTestGuard(t, Config{})
	cfg := g.Config()
	if cfg.MaxConcurrentGlobal != 10 {
		t.Errorf("expected defaulted global cap 10, got %d", cfg.MaxConcurrentGlobal)
	}
	if cfg.RateWindow != 60*time.Second {
		t.Errorf("expected defaulted window 60s, got %s", cfg.RateWindow)
	}
}

func TestGuardCheckOrder(t *testing.T) {
	g := newTestGuard(t, Config{MaxConcurrentGlobal: 2, MaxConcurrentPerUser: 1})

	// Trip both the concurrency cap and the quota threshold; the
	// concurrency reason must win because it is checked first.
	g.Acquire("user-a")
	g.UpdateQuota("user-a", Snapshot{RemainingPercent: ptr(1.0)})

	d := g.Check("user-a")
	if d.Allowed {
		t.Fatal("expected block")
	}
	if !strings.Contains(d.Reason, "concurrent agent jobs") {
		t.Errorf("concurrency should be checked before quota, got %q", d.Reason)
	}
}

func TestGuardQuotaRejection(t *testing.T) {
	g := newTestGuard(t, Config{})

	g.UpdateQuota("user-a", Snapshot{RemainingPercent: ptr(5.0)})

	d := g.Check("user-a")
	if d.Allowed {
		t.Fatal("expected a quota block")
	}
	if !strings.Contains(d.Reason, "quota") {
		t.Errorf("reason should mention quota, got %q", d.Reason)
	}
}

func TestGuardCheckRecordsNothing(t *testing.T) {
	g := newTestGuard(t, Config{MaxRequestsPerWindowPerUser: 2})

	for i := 0; i < 20; i++ {
		if d := g.Check("user-a"); !d.Allowed {
			t.Fatalf("check %d consumed budget: %s", i, d.Reason)
		}
	}
}

func TestGuardAcquireReleaseRoundtrip(t *testing.T) {
	g := newTestGuard(t, Config{})

	g.Acquire("user-a")
	g.Acquire("user-a")
	s := g.Stats("user-a")
	if s.ActiveJobs != 2 || s.YourActiveJobs != 2 {
		t.Fatalf("expected 2 active, got total=%d yours=%d", s.ActiveJobs, s.YourActiveJobs)
	}
	if s.YourRecentReqs != 2 {
		t.Fatalf("expected 2 window events, got %d", s.YourRecentReqs)
	}

	g.Release("user-a")
	g.Release("user-a")
	g.Release("user-a") // extra release must not underflow
	s = g.Stats("user-a")
	if s.ActiveJobs != 0 || s.YourActiveJobs != 0 {
		t.Fatalf("expected 0 active after release, got total=%d yours=%d", s.ActiveJobs, s.YourActiveJobs)
	}
}

func TestGuardStatsScopedToIdentity(t *testing.T) {
	g := newTestGuard(t, Config{})

	g.Acquire("secret-token-b")
	s := g.Stats("user-a")
	if s.ActiveJobs != 1 {
		t.Fatalf("expected global count 1, got %d", s.ActiveJobs)
	}
	if s.YourActiveJobs != 0 {
		t.Fatalf("user-a holds nothing, got %d", s.YourActiveJobs)
	}
	if s.Quota != nil {
		t.Error("no quota report was made for user-a")
	}
	if s.Limits.MaxConcurrentGlobal != 10 {
		t.Errorf("limits should reflect effective config, got %d", s.Limits.MaxConcurrentGlobal)
	}
}

func TestGuardConcurrentUse(t *testing.T) {
	g := newTestGuard(t, Config{MaxConcurrentGlobal: 1000, MaxConcurrentPerUser: 1000,
		MaxRequestsPerWindow: 100000, MaxRequestsPerWindowPerUser: 100000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				g.Check("user-a")
				g.Acquire("user-a")
				g.UpdateQuota("user-a", Snapshot{RemainingPercent: ptr(80.0)})
				g.Release("user-a")
			}
		}()
	}
	wg.Wait()

	if s := g.Stats("user-a"); s.ActiveJobs != 0 {
		t.Fatalf("expected all slots returned, got %d", s.ActiveJobs)
	}
}

func TestGuardShutdownIdempotent(t *testing.T) {
	g := NewGuard(Config{}, zap.NewNop())
	g.Shutdown()
	g.Shutdown()
}
