package remote

import (
	"sync"
	"time"
)

// HealthMonitor tracks consecutive upstream fetch failures. When the count
// crosses the threshold the circuit is considered open and large sync
// operations refuse to start until a success resets it.
type HealthMonitor struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	lastSuccess time.Time
	lastFailure time.Time
}

// HealthSnapshot is a point-in-time copy of the monitor state.
type HealthSnapshot struct {
	Healthy             bool       `json:"healthy"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Threshold           int        `json:"threshold"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

// CallRecorder receives one event per upstream HTTP call, with outcome
// "success" or "error". A nil recorder is a no-op.
type CallRecorder func(system, outcome string)

func (r CallRecorder) observe(system string, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r(system, outcome)
}

// NewHealthMonitor builds a monitor tripping after threshold consecutive
// failures.
func NewHealthMonitor(threshold int) *HealthMonitor {
	if threshold <= 0 {
		threshold = 5
	}
	return &HealthMonitor{threshold: threshold}
}

// RecordSuccess resets the consecutive-failure counter.
func (h *HealthMonitor) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutive = 0
	h.lastSuccess = time.Now().UTC()
}

// RecordFailure increments the consecutive-failure counter.
func (h *HealthMonitor) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutive++
	h.lastFailure = time.Now().UTC()
}

// Healthy reports whether the circuit is closed.
func (h *HealthMonitor) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive < h.threshold
}

// Snapshot returns a copy of the current state.
func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HealthSnapshot{
		Healthy:             h.consecutive < h.threshold,
		ConsecutiveFailures: h.consecutive,
		Threshold:           h.threshold,
	}
	if !h.lastSuccess.IsZero() {
		t := h.lastSuccess
		snap.LastSuccessAt = &t
	}
	if !h.lastFailure.IsZero() {
		t := h.lastFailure
		snap.LastFailureAt = &t
	}
	return snap
}
