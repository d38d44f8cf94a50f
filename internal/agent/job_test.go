package agent

import (
	"testing"
	"time"
)

func TestStoreInsertAndGet(t *testing.T) {
	s := NewStore()
	s.Insert(NewJob("j1", "research prompt", "user-a"))

	job, err := s.Get("j1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != StatusProcessing {
		t.Errorf("status: got %q", job.Status)
	}
	if job.Prompt != "research prompt" {
		t.Errorf("prompt: got %q", job.Prompt)
	}
	if job.Identity() != "user-a" {
		t.Errorf("identity: got %q", job.Identity())
	}
	if job.CreatedAt.IsZero() {
		t.Error("created at should be set")
	}

	_, err = s.Get("missing")
	if !IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Insert(NewJob("j1", "p", "u"))

	job, _ := s.Get("j1")
	job.Status = StatusFailed
	job.Error = "mutated copy"

	stored, _ := s.Get("j1")
	if stored.Status != StatusProcessing || stored.Error != "" {
		t.Error("mutating a returned job must not touch the store")
	}
}

func TestStoreCompleteFirstTransitionWins(t *testing.T) {
	s := NewStore()
	s.Insert(NewJob("j1", "p", "u"))

	if !s.Complete("j1", map[string]any{"success": true}) {
		t.Fatal("first complete should transition")
	}
	if s.Complete("j1", nil) {
		t.Error("second complete must not transition")
	}
	if s.Fail("j1", "late failure") {
		t.Error("fail after complete must not transition")
	}

	job, _ := s.Get("j1")
	if job.Status != StatusCompleted {
		t.Errorf("status: got %q", job.Status)
	}
	if job.CompletedAt.IsZero() {
		t.Error("completed at should be set")
	}
}

func TestStoreFailFirstTransitionWins(t *testing.T) {
	s := NewStore()
	s.Insert(NewJob("j1", "p", "u"))

	if !s.Fail("j1", "boom") {
		t.Fatal("first fail should transition")
	}
	if s.Complete("j1", nil) {
		t.Error("complete after fail must not transition")
	}

	job, _ := s.Get("j1")
	if job.Status != StatusFailed || job.Error != "boom" {
		t.Errorf("job: got %+v", job)
	}
}

func TestStoreTransitionOnMissingJob(t *testing.T) {
	s := NewStore()
	if s.Complete("ghost", nil) || s.Fail("ghost", "x") {
		t.Error("transitions on missing jobs must report false")
	}
}

func TestStoreSetProgress(t *testing.T) {
	s := NewStore()
	s.Insert(NewJob("j1", "p", "u"))

	s.SetProgress("j1", "Researching")
	job, _ := s.Get("j1")
	if job.Progress != "Researching" {
		t.Errorf("progress: got %q", job.Progress)
	}

	s.Complete("j1", nil)
	s.SetProgress("j1", "too late")
	job, _ = s.Get("j1")
	if job.Progress == "too late" {
		t.Error("finished jobs must not take progress updates")
	}
}

func TestStoreFindStale(t *testing.T) {
	now := time.Now()
	s := NewStore()
	s.Insert(Job{ID: "old", Status: StatusProcessing, CreatedAt: now.Add(-10 * time.Second), identity: "u"})
	s.Insert(Job{ID: "new", Status: StatusProcessing, CreatedAt: now, identity: "u"})
	s.Insert(Job{ID: "done", Status: StatusCompleted, CreatedAt: now.Add(-10 * time.Second), CompletedAt: now, identity: "u"})

	stale := s.FindStale(5*time.Second, now)
	if len(stale) != 1 || stale[0].ID != "old" {
		t.Fatalf("stale jobs: got %v", stale)
	}
	if stale[0].Identity() != "u" {
		t.Errorf("stale job should carry its identity, got %q", stale[0].Identity())
	}
}

func TestStoreSweep(t *testing.T) {
	now := time.Now()
	s := NewStore()
	s.Insert(Job{ID: "old-done", Status: StatusCompleted, CompletedAt: now.Add(-2 * time.Hour)})
	s.Insert(Job{ID: "old-failed", Status: StatusFailed, CompletedAt: now.Add(-2 * time.Hour)})
	s.Insert(Job{ID: "fresh-done", Status: StatusCompleted, CompletedAt: now.Add(-10 * time.Minute)})
	s.Insert(Job{ID: "running", Status: StatusProcessing, CreatedAt: now.Add(-3 * time.Hour)})

	removed := s.Sweep(time.Hour, now)
	if removed != 2 {
		t.Fatalf("removed: got %d", removed)
	}
	if _, err := s.Get("running"); err != nil {
		t.Error("processing jobs must never be swept")
	}
	if _, err := s.Get("fresh-done"); err != nil {
		t.Error("recently finished jobs must survive the sweep")
	}
	if _, err := s.Get("old-done"); !IsNotFound(err) {
		t.Error("old finished jobs should be gone")
	}
}
