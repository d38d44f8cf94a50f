package ratelimit

import "fmt"

// ConcurrencyTracker counts in-flight agent jobs globally and per
// identity. Release is saturating: releasing an identity with no
// active jobs is a no-op, so a stray double-release can never drive
// counts negative.
type ConcurrencyTracker struct {
	maxGlobal  int
	maxPerUser int
	active     map[string]int
	total      int
}

// NewConcurrencyTracker builds a tracker with the given caps.
func NewConcurrencyTracker(maxGlobal, maxPerUser int) *ConcurrencyTracker {
	return &ConcurrencyTracker{
		maxGlobal:  maxGlobal,
		maxPerUser: maxPerUser,
		active:     make(map[string]int),
	}
}

// CanAcquire reports whether the identity may start another job.
// The global cap is checked before the per-identity cap.
func (t *ConcurrencyTracker) CanAcquire(id string) Decision {
	if t.total >= t.maxGlobal {
		return reject(fmt.Sprintf(
			"server at maximum capacity (%d concurrent agent jobs), retry in ~10s",
			t.maxGlobal), 10)
	}
	if t.active[id] >= t.maxPerUser {
		return reject(fmt.Sprintf(
			"you already have %d concurrent agent jobs running (max %d), retry in ~15s",
			t.active[id], t.maxPerUser), 15)
	}
	return allow()
}

// Acquire records a job start for the identity.
func (t *ConcurrencyTracker) Acquire(id string) {
	t.active[id]++
	t.total++
}

// Release records a job finish for the identity.
func (t *ConcurrencyTracker) Release(id string) {
	if t.active[id] <= 0 {
		return
	}
	t.active[id]--
	t.total--
	if t.active[id] == 0 {
		delete(t.active, id)
	}
}

// Active returns the identity's in-flight job count.
func (t *ConcurrencyTracker) Active(id string) int {
	return t.active[id]
}

// TotalActive returns the global in-flight job count.
func (t *ConcurrencyTracker) TotalActive() int {
	return t.total
}

// Snapshot returns the total and a copy of the per-identity counts.
func (t *ConcurrencyTracker) Snapshot() (int, map[string]int) {
	byID := make(map[string]int, len(t.active))
	for id, n := range t.active {
		byID[id] = n
	}
	return t.total, byID
}
