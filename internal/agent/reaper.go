package agent

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// sweepSchedule decides when retention sweeps run. The spec is either
// a Go duration ("10m") or a standard five-field cron expression.
type sweepSchedule struct {
	interval time.Duration
	cron     cron.Schedule
	next     time.Time
}

func newSweepSchedule(spec string, now time.Time, logger *zap.Logger) *sweepSchedule {
	if spec == "" {
		spec = "10m"
	}
	if d, err := time.ParseDuration(spec); err == nil && d > 0 {
		return &sweepSchedule{interval: d, next: now.Add(d)}
	}
	if sched, err := cron.ParseStandard(spec); err == nil {
		return &sweepSchedule{cron: sched, next: sched.Next(now)}
	}
	logger.Warn("invalid retention schedule, sweeping every 10m",
		zap.String("schedule", spec))
	return &sweepSchedule{interval: 10 * time.Minute, next: now.Add(10 * time.Minute)}
}

// due reports whether a sweep should run, advancing the schedule when
// it fires.
func (ss *sweepSchedule) due(now time.Time) bool {
	if now.Before(ss.next) {
		return false
	}
	if ss.cron != nil {
		ss.next = ss.cron.Next(now)
	} else {
		ss.next = now.Add(ss.interval)
	}
	return true
}

// maintenanceLoop reaps stale jobs every GC interval and sweeps
// finished ones on the retention schedule, until Shutdown.
func (e *Engine) maintenanceLoop() {
	sched := newSweepSchedule(e.cfg.RetentionSchedule, time.Now(), e.logger)
	ticker := time.NewTicker(e.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			now := time.Now()
			e.reapStale(now)
			if sched.due(now) {
				e.sweepFinished(now)
			}
		}
	}
}

// reapStale force-fails jobs stuck in processing past the timeout.
// failJob only releases the slot when its transition won, so a
// session finishing concurrently cannot cause a double free.
func (e *Engine) reapStale(now time.Time) {
	stale := e.store.FindStale(e.cfg.StaleJobTimeout, now)
	for _, job := range stale {
		e.failJob(job.ID, job.identity,
			fmt.Sprintf("Job timed out after %ds without completing.", int(e.cfg.StaleJobTimeout/time.Second)))
	}
}

func (e *Engine) sweepFinished(now time.Time) {
	if removed := e.store.Sweep(e.cfg.Retention, now); removed > 0 {
		e.logger.Debug("swept finished agent jobs", zap.Int("removed", removed))
	}
}
