// Package ratelimit implements admission control for agent jobs: a
// concurrency tracker, a sliding-window rate limiter, and a Copilot
// quota monitor, fronted by a Guard that serializes access to all
// three under one lock.
//
// Identities are opaque strings (caller tokens or the shared server
// sentinel). The individual components are not safe for concurrent
// use on their own; the Guard owns the lock.
package ratelimit

import "time"

// Config holds the shared admission-control settings. Zero values are
// replaced with defaults when a Guard is built.
type Config struct {
	// MaxConcurrentGlobal caps active agent jobs across all identities.
	MaxConcurrentGlobal int
	// MaxConcurrentPerUser caps active agent jobs per identity.
	MaxConcurrentPerUser int
	// RateWindow is the sliding window for request-rate checks.
	RateWindow time.Duration
	// MaxRequestsPerWindow caps admissions per window across all identities.
	MaxRequestsPerWindow int
	// MaxRequestsPerWindowPerUser caps admissions per window per identity.
	MaxRequestsPerWindowPerUser int
	// QuotaRejectThreshold rejects new jobs when the identity's
	// remaining Copilot quota percentage is at or below this value.
	QuotaRejectThreshold float64
	// StaleJobTimeout is how long a job may stay in-flight before the
	// reaper force-fails it.
	StaleJobTimeout time.Duration
	// GCInterval is the cadence of background state cleanup.
	GCInterval time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentGlobal:         10,
		MaxConcurrentPerUser:        2,
		RateWindow:                  60 * time.Second,
		MaxRequestsPerWindow:        100,
		MaxRequestsPerWindowPerUser: 10,
		QuotaRejectThreshold:        10,
		StaleJobTimeout:             10 * time.Minute,
		GCInterval:                  5 * time.Minute,
	}
}

// withDefaults replaces unset or nonsensical values. A zero window or
// zero cap would reject everything, which is never what a deployment
// wants from a missing setting.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentGlobal <= 0 {
		c.MaxConcurrentGlobal = def.MaxConcurrentGlobal
	}
	if c.MaxConcurrentPerUser <= 0 {
		c.MaxConcurrentPerUser = def.MaxConcurrentPerUser
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.MaxRequestsPerWindow <= 0 {
		c.MaxRequestsPerWindow = def.MaxRequestsPerWindow
	}
	if c.MaxRequestsPerWindowPerUser <= 0 {
		c.MaxRequestsPerWindowPerUser = def.MaxRequestsPerWindowPerUser
	}
	if c.QuotaRejectThreshold <= 0 {
		c.QuotaRejectThreshold = def.QuotaRejectThreshold
	}
	if c.StaleJobTimeout <= 0 {
		c.StaleJobTimeout = def.StaleJobTimeout
	}
	if c.GCInterval <= 0 {
		c.GCInterval = def.GCInterval
	}
	return c
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool `json:"allowed"`
	// Reason is a caller-facing explanation when not allowed.
	Reason string `json:"reason,omitempty"`
	// RetryAfterS hints how many seconds to wait before retrying.
	// Zero means no useful hint.
	RetryAfterS int `json:"retry_after_s,omitempty"`
}

// allow is the shared success decision.
func allow() Decision {
	return Decision{Allowed: true}
}

func reject(reason string, retryAfterS int) Decision {
	return Decision{Reason: reason, RetryAfterS: retryAfterS}
}
