package agent

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSweepScheduleDuration(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	ss := newSweepSchedule("10m", base, zap.NewNop())

	if ss.due(base.Add(5 * time.Minute)) {
		t.Error("must not fire before the interval")
	}
	if !ss.due(base.Add(10 * time.Minute)) {
		t.Error("must fire at the interval")
	}
	if ss.due(base.Add(15 * time.Minute)) {
		t.Error("must not fire again before the next interval")
	}
	if !ss.due(base.Add(21 * time.Minute)) {
		t.Error("must fire on the following interval")
	}
}

func TestSweepScheduleCron(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	ss := newSweepSchedule("30 * * * *", base, zap.NewNop())

	if ss.due(base.Add(29 * time.Minute)) {
		t.Error("must not fire before the cron slot")
	}
	if !ss.due(base.Add(31 * time.Minute)) {
		t.Error("must fire after the cron slot")
	}
	// Next slot is 11:30.
	if ss.due(base.Add(60 * time.Minute)) {
		t.Error("must wait for the next cron slot")
	}
	if !ss.due(base.Add(91 * time.Minute)) {
		t.Error("must fire on the next cron slot")
	}
}

func TestSweepScheduleInvalidSpecFallsBack(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	ss := newSweepSchedule("whenever", base, zap.NewNop())

	if ss.due(base.Add(9 * time.Minute)) {
		t.Error("fallback cadence is 10m")
	}
	if !ss.due(base.Add(10 * time.Minute)) {
		t.Error("fallback cadence should fire at 10m")
	}
}

func TestSweepScheduleEmptySpec(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	ss := newSweepSchedule("", base, zap.NewNop())
	if !ss.due(base.Add(10 * time.Minute)) {
		t.Error("empty spec defaults to 10m")
	}
}
