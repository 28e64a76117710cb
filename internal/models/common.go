package models

import "time"

// Pagination describes list response metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// SyncType identifies the entity family a sync run covers.
type SyncType string

// Sync types, one per reconciliation surface.
const (
	SyncTypePartners    SyncType = "partners"
	SyncTypeContacts    SyncType = "contacts"
	SyncTypeLmsUsers    SyncType = "lms_users"
	SyncTypeLmsGroups   SyncType = "lms_groups"
	SyncTypeMemberships SyncType = "memberships"
	SyncTypeEnrollments SyncType = "enrollments"
)

// AllSyncTypes lists sync types in chain execution order.
var AllSyncTypes = []SyncType{
	SyncTypePartners,
	SyncTypeContacts,
	SyncTypeLmsUsers,
	SyncTypeLmsGroups,
	SyncTypeMemberships,
	SyncTypeEnrollments,
}

// Valid reports whether the sync type is known.
func (t SyncType) Valid() bool {
	for _, known := range AllSyncTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SyncMode selects full or cursor-scoped reconciliation.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// DeleteReason records why a row was soft-deleted.
type DeleteReason string

// Soft-delete reasons. "filtered" rows still exist upstream but became
// ineligible; "removed_upstream" rows vanished from the remote feed entirely.
const (
	DeleteReasonFiltered       DeleteReason = "filtered"
	DeleteReasonRemoved        DeleteReason = "removed_upstream"
	DeleteReasonNotFoundInLMS  DeleteReason = "not_found_in_lms"
	DeleteReasonManualOffboard DeleteReason = "manual_offboard"
)

// SystemMetrics aggregates process counters for the status endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	SyncRunsTotal            uint64    `json:"sync_runs_total"`
	AverageRunDurationMs     float64   `json:"average_run_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
