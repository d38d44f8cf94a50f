package ratelimit

import (
	"fmt"
	"time"
)

const (
	// quotaStaleAfter is how old a quota report may be before it stops
	// blocking admissions. Stale data must never lock a caller out.
	quotaStaleAfter = 5 * time.Minute
	// quotaRecordTTL is how long an untouched quota record survives GC.
	quotaRecordTTL = 30 * time.Minute
)

// quotaRecord is the last known quota state for one identity.
type quotaRecord struct {
	remainingPercent float64
	usedRequests     int
	// entitlementRequests is -1 until a report includes it.
	entitlementRequests int
	unlimited           bool
	resetDate           string
	updatedAt           time.Time
}

// Snapshot is a partial quota report from the agent runtime. Nil
// fields were absent from the report and leave the stored value
// untouched.
type Snapshot struct {
	RemainingPercent    *float64 `json:"remaining_percent,omitempty"`
	UsedRequests        *int     `json:"used_requests,omitempty"`
	EntitlementRequests *int     `json:"entitlement_requests,omitempty"`
	Unlimited           *bool    `json:"unlimited,omitempty"`
	ResetDate           *string  `json:"reset_date,omitempty"`
}

// QuotaMonitor tracks per-identity Copilot quota as reported by usage
// events and rejects new jobs when the remaining allowance is at or
// below the configured threshold.
type QuotaMonitor struct {
	threshold float64
	records   map[string]*quotaRecord
}

// NewQuotaMonitor builds a monitor with the given reject threshold,
// expressed as a percentage of remaining quota.
func NewQuotaMonitor(threshold float64) *QuotaMonitor {
	return &QuotaMonitor{
		threshold: threshold,
		records:   make(map[string]*quotaRecord),
	}
}

// Update merges a quota report for the identity. Fields absent from
// the report keep their previous values; the record's freshness is
// bumped either way.
func (m *QuotaMonitor) Update(id string, snap Snapshot, now time.Time) {
	rec, ok := m.records[id]
	if !ok {
		rec = &quotaRecord{
			remainingPercent:    100,
			entitlementRequests: -1,
		}
		m.records[id] = rec
	}
	if snap.RemainingPercent != nil {
		rec.remainingPercent = *snap.RemainingPercent
	}
	if snap.UsedRequests != nil {
		rec.usedRequests = *snap.UsedRequests
	}
	if snap.EntitlementRequests != nil {
		rec.entitlementRequests = *snap.EntitlementRequests
	}
	if snap.Unlimited != nil {
		rec.unlimited = *snap.Unlimited
	}
	if snap.ResetDate != nil {
		rec.resetDate = *snap.ResetDate
	}
	rec.updatedAt = now
}

// Check reports whether the identity's quota permits another job.
// Unknown identities, unlimited plans, and reports older than the
// staleness grace always pass.
func (m *QuotaMonitor) Check(id string, now time.Time) Decision {
	rec, ok := m.records[id]
	if !ok || rec.unlimited {
		return allow()
	}
	if now.Sub(rec.updatedAt) > quotaStaleAfter {
		return allow()
	}
	if rec.remainingPercent > m.threshold {
		return allow()
	}

	reason := fmt.Sprintf("Copilot quota nearly exhausted: %.1f%% remaining", rec.remainingPercent)
	if rec.entitlementRequests >= 0 {
		reason += fmt.Sprintf(" (used %d of %d premium requests)", rec.usedRequests, rec.entitlementRequests)
	}
	if rec.resetDate != "" {
		reason += fmt.Sprintf(", resets %s", rec.resetDate)
	}
	return reject(reason, 0)
}

// Status returns the stored quota state for the identity, if any.
func (m *QuotaMonitor) Status(id string) (QuotaStatus, bool) {
	rec, ok := m.records[id]
	if !ok {
		return QuotaStatus{}, false
	}
	return QuotaStatus{
		RemainingPercent:    rec.remainingPercent,
		UsedRequests:        rec.usedRequests,
		EntitlementRequests: rec.entitlementRequests,
		Unlimited:           rec.unlimited,
		ResetDate:           rec.resetDate,
	}, true
}

// QuotaStatus is the caller-facing view of stored quota state.
type QuotaStatus struct {
	RemainingPercent    float64 `json:"remaining_percent"`
	UsedRequests        int     `json:"used_requests"`
	EntitlementRequests int     `json:"entitlement_requests,omitempty"`
	Unlimited           bool    `json:"unlimited"`
	ResetDate           string  `json:"reset_date,omitempty"`
}

// GC drops records that have not been updated within the TTL.
func (m *QuotaMonitor) GC(now time.Time) {
	for id, rec := range m.records {
		if now.Sub(rec.updatedAt) > quotaRecordTTL {
			delete(m.records, id)
		}
	}
}
