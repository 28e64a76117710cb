package service

import (
	"context"
	"time"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/pkg/config"
)

// runRecorderStub captures audit-row calls for assertions across the sync
// service tests.
type runRecorderStub struct {
	created       []*models.SyncRun
	completed     []models.SyncStats
	failures      []string
	lastCompleted *time.Time
	cursorErr     error
}

func (s *runRecorderStub) Create(ctx context.Context, run *models.SyncRun) error {
	run.ID = "run-1"
	run.Status = models.SyncRunStatusRunning
	run.StartedAt = time.Now()
	s.created = append(s.created, run)
	return nil
}

func (s *runRecorderStub) Complete(ctx context.Context, id string, stats models.SyncStats, detail []byte) error {
	s.completed = append(s.completed, stats)
	return nil
}

func (s *runRecorderStub) Fail(ctx context.Context, id string, errMsg string) error {
	s.failures = append(s.failures, errMsg)
	return nil
}

func (s *runRecorderStub) LastCompletedAt(ctx context.Context, syncType models.SyncType) (*time.Time, error) {
	if s.cursorErr != nil {
		return nil, s.cursorErr
	}
	return s.lastCompleted, nil
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		SessionTTL:           time.Hour,
		WorkerConcurrency:    2,
		ErrorAbortThreshold:  10,
		BreakerThreshold:     5,
		EnrollmentStaleness:  168 * time.Hour,
		LockTTL:              2 * time.Hour,
		AllPartnersGroupName: "All Partners",
		PartnerGroupPrefix:   "Partner: ",
		AllowedTiers:         []string{"Premier", "Certified", "Registered", "Aggregator"},
		ExcludedStatuses:     []string{"Inactive", "Churned"},
		ExcludedNameParts:    []string{"test", "demo"},
		ExcludedEmailDomains: []string{"example.com"},
		ExcludedEmailKeywords: []string{
			"noreply",
		},
	}
}

func strPtr(v string) *string { return &v }

func timePtr(v time.Time) *time.Time { return &v }
