package ratelimit

import (
	"fmt"
	"time"
)

// windowEvent is one recorded admission.
type windowEvent struct {
	at time.Time
	id string
}

// SlidingWindow limits how many jobs may be admitted within a rolling
// time window, globally and per identity. Events are kept in arrival
// order; expired events are pruned on every check so a burst long ago
// never counts against the present.
type SlidingWindow struct {
	window     time.Duration
	maxGlobal  int
	maxPerUser int
	events     []windowEvent
}

// NewSlidingWindow builds a limiter over the given window.
func NewSlidingWindow(window time.Duration, maxGlobal, maxPerUser int) *SlidingWindow {
	return &SlidingWindow{
		window:     window,
		maxGlobal:  maxGlobal,
		maxPerUser: maxPerUser,
	}
}

// Check reports whether the identity may be admitted at time now.
// It does not record anything; call Record after a successful
// admission.
func (w *SlidingWindow) Check(id string, now time.Time) Decision {
	w.prune(now)

	if len(w.events) >= w.maxGlobal {
		retry := w.retryAfter(w.events[0].at, now)
		return reject(fmt.Sprintf(
			"server rate limit reached (%d requests in the last %ds), retry in ~%ds",
			len(w.events), int(w.window/time.Second), retry), retry)
	}

	count := 0
	var oldest time.Time
	for _, ev := range w.events {
		if ev.id != id {
			continue
		}
		if count == 0 {
			oldest = ev.at
		}
		count++
	}
	if count >= w.maxPerUser {
		retry := w.retryAfter(oldest, now)
		return reject(fmt.Sprintf(
			"rate limit reached: %d requests in the last %ds (max %d), retry in ~%ds",
			count, int(w.window/time.Second), w.maxPerUser, retry), retry)
	}

	return allow()
}

// Record notes an admission for the identity at time now.
func (w *SlidingWindow) Record(id string, now time.Time) {
	w.events = append(w.events, windowEvent{at: now, id: id})
}

// Count returns how many of the identity's admissions fall inside the
// window ending at now.
func (w *SlidingWindow) Count(id string, now time.Time) int {
	w.prune(now)
	n := 0
	for _, ev := range w.events {
		if ev.id == id {
			n++
		}
	}
	return n
}

// GC drops expired events. Checks prune too, so this only matters for
// reclaiming memory during quiet periods.
func (w *SlidingWindow) GC(now time.Time) {
	w.prune(now)
}

// prune removes events older than the window. Events are appended in
// time order, so only the head of the slice can be expired.
func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.events) && !w.events[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// retryAfter computes whole seconds until the oldest blocking event
// leaves the window, rounded up and never less than one.
func (w *SlidingWindow) retryAfter(oldest, now time.Time) int {
	wait := oldest.Add(w.window).Sub(now)
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
