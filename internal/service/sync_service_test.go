package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/remote"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
)

type chainSyncerStub struct {
	mu    sync.Mutex
	order []models.SyncType
	errs  map[models.SyncType]error
	onRun func(models.SyncType)
}

func (s *chainSyncerStub) record(syncType models.SyncType) (models.SyncStats, error) {
	s.mu.Lock()
	s.order = append(s.order, syncType)
	s.mu.Unlock()
	if s.onRun != nil {
		s.onRun(syncType)
	}
	return models.SyncStats{Type: syncType}, s.errs[syncType]
}

func (s *chainSyncerStub) Sync(ctx context.Context, groupID string, mode models.SyncMode) (models.SyncStats, error) {
	return s.record(models.SyncTypePartners)
}

type contactChainStub struct{ chain *chainSyncerStub }

func (s contactChainStub) Sync(ctx context.Context, groupID string, mode models.SyncMode) (models.SyncStats, error) {
	return s.chain.record(models.SyncTypeContacts)
}

type lmsChainStub struct{ chain *chainSyncerStub }

func (s lmsChainStub) SyncUsers(ctx context.Context, groupID string, mode models.SyncMode, session *SessionCache) (models.SyncStats, error) {
	return s.chain.record(models.SyncTypeLmsUsers)
}

func (s lmsChainStub) SyncGroups(ctx context.Context, groupID string, session *SessionCache) (models.SyncStats, error) {
	return s.chain.record(models.SyncTypeLmsGroups)
}

func (s lmsChainStub) SyncMemberships(ctx context.Context, groupID string, session *SessionCache) (models.SyncStats, error) {
	return s.chain.record(models.SyncTypeMemberships)
}

type enrollmentChainStub struct{ chain *chainSyncerStub }

func (s enrollmentChainStub) Sync(ctx context.Context, groupID string, mode models.SyncMode, session *SessionCache) (models.SyncStats, error) {
	return s.chain.record(models.SyncTypeEnrollments)
}

type lockerStub struct {
	held     bool
	acquired []string
	released []string
}

func (s *lockerStub) Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	if s.held {
		return false, nil
	}
	s.held = true
	s.acquired = append(s.acquired, holder)
	return true, nil
}

func (s *lockerStub) Release(ctx context.Context, holder string) error {
	s.held = false
	s.released = append(s.released, holder)
	return nil
}

type runReaderStub struct {
	runs []models.SyncRun
}

func (s *runReaderStub) FindByID(ctx context.Context, id string) (*models.SyncRun, error) {
	for i := range s.runs {
		if s.runs[i].ID == id {
			return &s.runs[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *runReaderStub) ListRecent(ctx context.Context, limit int) ([]models.SyncRun, error) {
	return s.runs, nil
}

func (s *runReaderStub) LatestPerType(ctx context.Context) ([]models.SyncRun, error) {
	return s.runs, nil
}

type counterStub struct{ count int }

func (s counterStub) CountActive(ctx context.Context) (int, error) {
	return s.count, nil
}

func newSyncServiceFixture(chain *chainSyncerStub, lock *lockerStub, prmHealth, lmsHealth *remote.HealthMonitor) *SyncService {
	if lock == nil {
		lock = &lockerStub{}
	}
	if prmHealth == nil {
		prmHealth = remote.NewHealthMonitor(5)
	}
	if lmsHealth == nil {
		lmsHealth = remote.NewHealthMonitor(5)
	}
	return NewSyncService(
		chain,
		contactChainStub{chain},
		lmsChainStub{chain},
		enrollmentChainStub{chain},
		&runReaderStub{},
		counterStub{count: 7},
		lock,
		prmHealth,
		lmsHealth,
		testSyncConfig(),
		NewMetricsService(),
		nil,
	)
}

func TestSyncServiceRunsFullChainInOrder(t *testing.T) {
	chain := &chainSyncerStub{}
	lock := &lockerStub{}
	svc := newSyncServiceFixture(chain, lock, nil, nil)

	result, err := svc.Run(context.Background(), nil, models.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, models.AllSyncTypes, chain.order)
	assert.Len(t, result.Stats, len(models.AllSyncTypes))
	assert.Empty(t, result.Errors)
	require.Len(t, lock.acquired, 1)
	assert.Equal(t, lock.acquired, lock.released)
	assert.False(t, svc.Running())
}

func TestSyncServiceRunsRequestedSubsetInChainOrder(t *testing.T) {
	chain := &chainSyncerStub{}
	svc := newSyncServiceFixture(chain, nil, nil, nil)

	// Requested out of order; execution follows the chain order.
	_, err := svc.Run(context.Background(), []models.SyncType{models.SyncTypeContacts, models.SyncTypePartners}, models.SyncModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []models.SyncType{models.SyncTypePartners, models.SyncTypeContacts}, chain.order)
}

func TestSyncServiceRejectsWhenLockHeld(t *testing.T) {
	svc := newSyncServiceFixture(&chainSyncerStub{}, &lockerStub{held: true}, nil, nil)

	_, err := svc.Run(context.Background(), nil, models.SyncModeFull)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSyncRunning.Code, appErrors.FromError(err).Code)
}

func TestSyncServiceRejectsWhenCircuitOpen(t *testing.T) {
	prmHealth := remote.NewHealthMonitor(2)
	prmHealth.RecordFailure()
	prmHealth.RecordFailure()
	chain := &chainSyncerStub{}
	svc := newSyncServiceFixture(chain, nil, prmHealth, nil)

	_, err := svc.Run(context.Background(), nil, models.SyncModeFull)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCircuitOpen.Code, appErrors.FromError(err).Code)
	assert.Empty(t, chain.order)
}

func TestSyncServiceStopsChainWhenCircuitOpensMidway(t *testing.T) {
	lmsHealth := remote.NewHealthMonitor(1)
	chain := &chainSyncerStub{}
	chain.onRun = func(syncType models.SyncType) {
		if syncType == models.SyncTypeLmsUsers {
			lmsHealth.RecordFailure()
		}
	}
	svc := newSyncServiceFixture(chain, nil, nil, lmsHealth)

	result, err := svc.Run(context.Background(), nil, models.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, []models.SyncType{models.SyncTypePartners, models.SyncTypeContacts, models.SyncTypeLmsUsers}, chain.order)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[len(result.Errors)-1], "circuit open")
}

func TestSyncServicePassFailureContinuesChain(t *testing.T) {
	chain := &chainSyncerStub{errs: map[models.SyncType]error{
		models.SyncTypeContacts: appErrors.ErrUpstream,
	}}
	svc := newSyncServiceFixture(chain, nil, nil, nil)

	result, err := svc.Run(context.Background(), nil, models.SyncModeFull)
	require.NoError(t, err)
	assert.Len(t, chain.order, len(models.AllSyncTypes))
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "contacts")
}

func TestSyncServiceStatus(t *testing.T) {
	svc := newSyncServiceFixture(&chainSyncerStub{}, nil, nil, nil)

	report, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Running)
	assert.True(t, report.PRMHealth.Healthy)
	assert.True(t, report.LMSHealth.Healthy)
	assert.Equal(t, 7, report.ActivePartners)
}
