package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/remote"
	"github.com/channelworks/partner-sync-api/pkg/config"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
)

type partnerSyncer interface {
	Sync(ctx context.Context, groupID string, mode models.SyncMode) (models.SyncStats, error)
}

type contactSyncer interface {
	Sync(ctx context.Context, groupID string, mode models.SyncMode) (models.SyncStats, error)
}

type lmsSyncer interface {
	SyncUsers(ctx context.Context, groupID string, mode models.SyncMode, session *SessionCache) (models.SyncStats, error)
	SyncGroups(ctx context.Context, groupID string, session *SessionCache) (models.SyncStats, error)
	SyncMemberships(ctx context.Context, groupID string, session *SessionCache) (models.SyncStats, error)
}

type enrollmentSyncer interface {
	Sync(ctx context.Context, groupID string, mode models.SyncMode, session *SessionCache) (models.SyncStats, error)
}

type runLocker interface {
	Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, holder string) error
}

type syncRunReader interface {
	FindByID(ctx context.Context, id string) (*models.SyncRun, error)
	ListRecent(ctx context.Context, limit int) ([]models.SyncRun, error)
	LatestPerType(ctx context.Context) ([]models.SyncRun, error)
}

type partnerCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// ChainResult aggregates the outcome of one sync chain invocation.
type ChainResult struct {
	GroupID string             `json:"group_id"`
	Mode    models.SyncMode    `json:"mode"`
	Stats   []models.SyncStats `json:"stats"`
	Errors  []string           `json:"errors,omitempty"`
	Cache   CacheStats         `json:"cache"`
}

// StatusReport is the operational snapshot served by the status endpoint.
type StatusReport struct {
	Running        bool                  `json:"running"`
	PRMHealth      remote.HealthSnapshot `json:"prm_health"`
	LMSHealth      remote.HealthSnapshot `json:"lms_health"`
	ActivePartners int                   `json:"active_partners"`
	LatestRuns     []models.SyncRun      `json:"latest_runs"`
	Metrics        models.SystemMetrics  `json:"metrics"`
}

// SyncService orchestrates the sync chain: one session cache, one
// distributed lock, and the per-entity passes in dependency order.
type SyncService struct {
	partners    partnerSyncer
	contacts    contactSyncer
	lms         lmsSyncer
	enrollments enrollmentSyncer
	runs        syncRunReader
	counter     partnerCounter
	lock        runLocker
	prmHealth   *remote.HealthMonitor
	lmsHealth   *remote.HealthMonitor
	metrics     *MetricsService
	logger      *zap.Logger

	sessionTTL time.Duration
	lockTTL    time.Duration

	mu      sync.Mutex
	session *SessionCache
	running atomic.Bool
}

func NewSyncService(partners partnerSyncer, contacts contactSyncer, lms lmsSyncer, enrollments enrollmentSyncer, runs syncRunReader, counter partnerCounter, lock runLocker, prmHealth, lmsHealth *remote.HealthMonitor, cfg config.SyncConfig, metrics *MetricsService, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		partners:    partners,
		contacts:    contacts,
		lms:         lms,
		enrollments: enrollments,
		runs:        runs,
		counter:     counter,
		lock:        lock,
		prmHealth:   prmHealth,
		lmsHealth:   lmsHealth,
		metrics:     metrics,
		logger:      logger,
		sessionTTL:  cfg.SessionTTL,
		lockTTL:     cfg.LockTTL,
	}
}

// Run executes the requested sync types in chain order under the
// distributed lock. An empty type list means the full chain. A single
// pass failing is recorded and the chain moves on; the chain stops early
// only when an upstream circuit opens mid-flight.
func (s *SyncService) Run(ctx context.Context, types []models.SyncType, mode models.SyncMode) (ChainResult, error) {
	if err := s.Preflight(); err != nil {
		return ChainResult{}, err
	}

	groupID := uuid.NewString()
	acquired, err := s.lock.Acquire(ctx, groupID, s.lockTTL)
	if err != nil {
		return ChainResult{}, appErrors.From(appErrors.ErrInternal, err)
	}
	if !acquired {
		return ChainResult{}, appErrors.ErrSyncRunning
	}
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		if err := s.lock.Release(context.WithoutCancel(ctx), groupID); err != nil {
			s.logger.Error("failed to release sync lock", zap.Error(err))
		}
	}()

	session := s.newSession(groupID)
	result := ChainResult{GroupID: groupID, Mode: mode}

	requested := make(map[models.SyncType]struct{}, len(types))
	for _, t := range types {
		requested[t] = struct{}{}
	}

	s.logger.Info("sync chain started",
		zap.String("group_id", groupID),
		zap.String("mode", string(mode)),
		zap.Int("requested_types", len(types)))

	for _, syncType := range models.AllSyncTypes {
		if len(requested) > 0 {
			if _, ok := requested[syncType]; !ok {
				continue
			}
		}

		stats, err := s.runOne(ctx, syncType, groupID, mode, session)
		result.Stats = append(result.Stats, stats)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", syncType, err))
			s.logger.Error("sync pass failed",
				zap.String("type", string(syncType)), zap.Error(err))
		}

		if !s.prmHealth.Healthy() || !s.lmsHealth.Healthy() {
			result.Errors = append(result.Errors, "chain stopped: upstream circuit open")
			s.logger.Error("sync chain stopped, upstream circuit open",
				zap.String("group_id", groupID))
			break
		}
	}

	result.Cache = session.Stats()
	s.metrics.RecordSessionCache(result.Cache)
	s.logger.Info("sync chain finished",
		zap.String("group_id", groupID),
		zap.Int64("cache_hits", result.Cache.Hits),
		zap.Int64("cache_misses", result.Cache.Misses),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *SyncService) runOne(ctx context.Context, syncType models.SyncType, groupID string, mode models.SyncMode, session *SessionCache) (models.SyncStats, error) {
	switch syncType {
	case models.SyncTypePartners:
		return s.partners.Sync(ctx, groupID, mode)
	case models.SyncTypeContacts:
		return s.contacts.Sync(ctx, groupID, mode)
	case models.SyncTypeLmsUsers:
		return s.lms.SyncUsers(ctx, groupID, mode, session)
	case models.SyncTypeLmsGroups:
		return s.lms.SyncGroups(ctx, groupID, session)
	case models.SyncTypeMemberships:
		return s.lms.SyncMemberships(ctx, groupID, session)
	case models.SyncTypeEnrollments:
		return s.enrollments.Sync(ctx, groupID, mode, session)
	default:
		return models.SyncStats{Type: syncType}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown sync type %q", syncType))
	}
}

// Preflight reports whether a chain could start right now. It backs the
// trigger endpoint's fast 409/503 answers.
func (s *SyncService) Preflight() error {
	if !s.prmHealth.Healthy() || !s.lmsHealth.Healthy() {
		return appErrors.ErrCircuitOpen
	}
	if s.running.Load() {
		return appErrors.ErrSyncRunning
	}
	return nil
}

// Running reports whether a chain is executing in this process.
func (s *SyncService) Running() bool {
	return s.running.Load()
}

// newSession replaces the current session cache. An unexpired prior session
// being replaced is worth a warning because it usually means overlapping
// chains, so its efficiency stats are logged before it is dropped.
func (s *SyncService) newSession(groupID string) *SessionCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && !s.session.Expired() {
		stats := s.session.Stats()
		s.logger.Warn("replacing unexpired sync session",
			zap.String("previous_session", stats.SessionID),
			zap.Int64("hits", stats.Hits),
			zap.Int64("misses", stats.Misses))
	}
	s.session = NewSessionCache(groupID, s.sessionTTL)
	return s.session
}

// Status assembles the operational snapshot.
func (s *SyncService) Status(ctx context.Context) (StatusReport, error) {
	latest, err := s.runs.LatestPerType(ctx)
	if err != nil {
		return StatusReport{}, appErrors.From(appErrors.ErrInternal, err)
	}
	active, err := s.counter.CountActive(ctx)
	if err != nil {
		return StatusReport{}, appErrors.From(appErrors.ErrInternal, err)
	}
	return StatusReport{
		Running:        s.running.Load(),
		PRMHealth:      s.prmHealth.Snapshot(),
		LMSHealth:      s.lmsHealth.Snapshot(),
		ActivePartners: active,
		LatestRuns:     latest,
		Metrics:        s.metrics.Snapshot(),
	}, nil
}

// RecentRuns lists audit rows, newest first.
func (s *SyncService) RecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	runs, err := s.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, appErrors.From(appErrors.ErrInternal, err)
	}
	return runs, nil
}

// RunByID fetches one audit row.
func (s *SyncService) RunByID(ctx context.Context, id string) (*models.SyncRun, error) {
	run, err := s.runs.FindByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "sync run not found")
	}
	if err != nil {
		return nil, appErrors.From(appErrors.ErrInternal, err)
	}
	return run, nil
}
