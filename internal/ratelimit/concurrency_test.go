package ratelimit

import (
	"strings"
	"testing"
)

func TestConcurrencyPerUserCap(t *testing.T) {
	tr := NewConcurrencyTracker(3, 2)

	tr.Acquire("user-a")
	tr.Acquire("user-a")

	d := tr.CanAcquire("user-a")
	if d.Allowed {
		t.Fatal("expected user-a blocked at per-user cap")
	}
	if !strings.Contains(d.Reason, "concurrent agent jobs") {
		t.Errorf("reason should mention concurrent agent jobs, got %q", d.Reason)
	}
	if d.RetryAfterS == 0 {
		t.Error("expected a retry hint")
	}

	// Another identity still has room.
	if d := tr.CanAcquire("user-b"); !d.Allowed {
		t.Fatalf("user-b should be allowed: %s", d.Reason)
	}
}

func TestConcurrencyGlobalCap(t *testing.T) {
	tr := NewConcurrencyTracker(3, 2)

	tr.Acquire("user-a")
	tr.Acquire("user-a")
	tr.Acquire("user-b")

	d := tr.CanAcquire("user-c")
	if d.Allowed {
		t.Fatal("expected user-c blocked at global cap")
	}
	if !strings.Contains(d.Reason, "maximum capacity") {
		t.Errorf("reason should mention maximum capacity, got %q", d.Reason)
	}

	tr.Release("user-a")
	if d := tr.CanAcquire("user-c"); !d.Allowed {
		t.Fatalf("user-c should be allowed after a release: %s", d.Reason)
	}
}

func TestReleaseSaturates(t *testing.T) {
	tr := NewConcurrencyTracker(10, 2)

	tr.Release("ghost")
	if tr.TotalActive() != 0 {
		t.Fatalf("release of unknown identity changed total: %d", tr.TotalActive())
	}

	tr.Acquire("user-a")
	tr.Release("user-a")
	tr.Release("user-a")
	if tr.TotalActive() != 0 {
		t.Fatalf("double release drove total to %d", tr.TotalActive())
	}
	if tr.Active("user-a") != 0 {
		t.Fatalf("double release drove user-a count to %d", tr.Active("user-a"))
	}
}

func TestTotalMatchesPerIdentitySum(t *testing.T) {
	tr := NewConcurrencyTracker(100, 100)

	tr.Acquire("a")
	tr.Acquire("a")
	tr.Acquire("b")
	tr.Acquire("c")
	tr.Release("b")
	tr.Release("ghost")

	total, byID := tr.Snapshot()
	sum := 0
	for _, n := range byID {
		sum += n
	}
	if total != sum {
		t.Fatalf("total %d does not match per-identity sum %d", total, sum)
	}
	if total != 3 {
		t.Fatalf("expected 3 active, got %d", total)
	}
	if _, ok := byID["b"]; ok {
		t.Error("fully released identity should leave the map")
	}
}
