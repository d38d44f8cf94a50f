// Package agent runs asynchronous research jobs: admission through
// the rate-limit guard, a background LLM session with scraping tools,
// status polling, and maintenance loops that reap stuck jobs and
// sweep finished ones.
package agent

import (
	"errors"
	"sync"
	"time"
)

// Job statuses.
const (
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusRateLimited = "rate_limited"
)

// MaxPromptLength bounds agent prompts.
const MaxPromptLength = 10000

// ErrJobNotFound is returned when a polled job id has no record.
var ErrJobNotFound = errors.New("agent job not found")

// IsNotFound reports whether err means the job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// Job is one agent research request. The identity that admitted it is
// kept internal so status responses never leak caller tokens.
type Job struct {
	ID        string
	Status    string
	Prompt    string
	CreatedAt time.Time
	// CompletedAt is zero while the job is processing.
	CompletedAt time.Time
	Result      map[string]any
	Error       string
	Progress    string

	identity string
}

// Identity returns the identity key the job was admitted under.
func (j Job) Identity() string {
	return j.identity
}

// Finished reports whether the job reached a terminal status.
func (j Job) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Store is the in-process source of truth for job records. Complete
// and Fail report whether the call performed the transition out of
// processing; the engine and the reaper use that to guarantee exactly
// one slot release per job.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewStore builds an empty job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// NewJob builds a processing job record for the identity.
func NewJob(id, prompt, identity string) Job {
	return Job{
		ID:        id,
		Status:    StatusProcessing,
		Prompt:    prompt,
		CreatedAt: time.Now(),
		identity:  identity,
	}
}

// Insert stores the job, replacing any record with the same id.
func (s *Store) Insert(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &job
}

// Get returns a copy of the job record.
func (s *Store) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// SetProgress updates the job's human-readable phase. Finished jobs
// are left alone.
func (s *Store) SetProgress(id, progress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && job.Status == StatusProcessing {
		job.Progress = progress
	}
}

// Complete transitions the job to completed with the given result.
// Returns true only when this call moved the job out of processing.
func (s *Store) Complete(id string, result map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return false
	}
	job.Status = StatusCompleted
	job.Result = result
	job.Progress = ""
	job.CompletedAt = time.Now()
	return true
}

// Fail transitions the job to failed with the given message. Returns
// true only when this call moved the job out of processing.
func (s *Store) Fail(id, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return false
	}
	job.Status = StatusFailed
	job.Error = msg
	job.Progress = ""
	job.CompletedAt = time.Now()
	return true
}

// FindStale returns copies of jobs that have been processing for
// longer than the timeout.
func (s *Store) FindStale(timeout time.Duration, now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []Job
	for _, job := range s.jobs {
		if job.Status == StatusProcessing && now.Sub(job.CreatedAt) > timeout {
			stale = append(stale, *job)
		}
	}
	return stale
}

// Sweep drops finished jobs whose completion is older than the
// retention and returns how many were removed.
func (s *Store) Sweep(retention time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Finished() && now.Sub(job.CompletedAt) > retention {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
