package models

import "time"

// SyncRunStatus is the lifecycle of an audit row. Runs are never edited
// retroactively except to reach a terminal status.
type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
)

// SyncRun is one audit row per sync invocation. Completed rows are the only
// source of the "last successful sync" cursor used by incremental mode.
type SyncRun struct {
	ID          string        `db:"id" json:"id"`
	GroupID     string        `db:"group_id" json:"group_id"`
	Type        SyncType      `db:"type" json:"type"`
	Mode        SyncMode      `db:"mode" json:"mode"`
	Status      SyncRunStatus `db:"status" json:"status"`
	Processed   int           `db:"processed" json:"processed"`
	Created     int           `db:"created" json:"created"`
	Updated     int           `db:"updated" json:"updated"`
	Deactivated int           `db:"deactivated" json:"deactivated"`
	Reactivated int           `db:"reactivated" json:"reactivated"`
	Failed      int           `db:"failed" json:"failed"`
	Detail      []byte        `db:"detail" json:"detail,omitempty"`
	Error       *string       `db:"error" json:"error,omitempty"`
	StartedAt   time.Time     `db:"started_at" json:"started_at"`
	CompletedAt *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
}

// SyncStats aggregates the outcome of one reconciliation pass. It is stored
// on the audit row and returned to trigger-endpoint callers even when
// individual rows failed.
type SyncStats struct {
	Type          SyncType `json:"type"`
	Mode          SyncMode `json:"mode"`
	Fetched       int      `json:"fetched"`
	Filtered      int      `json:"filtered"`
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Deactivated   int      `json:"deactivated"`
	Reactivated   int      `json:"reactivated"`
	Failed        int      `json:"failed"`
	UsersNotFound int      `json:"users_not_found,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// Processed counts rows that survived filtering.
func (s *SyncStats) Processed() int {
	return s.Fetched - s.Filtered
}

// RecordError appends a row-level error without aborting the pass.
func (s *SyncStats) RecordError(msg string) {
	s.Failed++
	s.Errors = append(s.Errors, msg)
}
