package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/remote"
)

type partnerStoreStub struct {
	partners []models.Partner
	nextID   int
}

func (s *partnerStoreStub) find(predicate func(models.Partner) bool) (*models.Partner, error) {
	for i := range s.partners {
		if predicate(s.partners[i]) {
			copy := s.partners[i]
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *partnerStoreStub) FindByExternalID(ctx context.Context, externalID string) (*models.Partner, error) {
	return s.find(func(p models.Partner) bool {
		return p.ExternalID != nil && *p.ExternalID == externalID
	})
}

func (s *partnerStoreStub) FindByCrossRef(ctx context.Context, crossRef string) (*models.Partner, error) {
	return s.find(func(p models.Partner) bool {
		return p.CrossRefID != nil && *p.CrossRefID == crossRef
	})
}

func (s *partnerStoreStub) ListByCrossRefPrefix(ctx context.Context, prefix string) ([]models.Partner, error) {
	var matches []models.Partner
	for _, p := range s.partners {
		if p.CrossRefID != nil && strings.HasPrefix(*p.CrossRefID, prefix) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func (s *partnerStoreStub) FindByNameFold(ctx context.Context, name string) (*models.Partner, error) {
	return s.find(func(p models.Partner) bool {
		return strings.EqualFold(p.Name, name)
	})
}

func (s *partnerStoreStub) Create(ctx context.Context, partner *models.Partner) error {
	s.nextID++
	partner.ID = fmt.Sprintf("p-%d", s.nextID)
	s.partners = append(s.partners, *partner)
	return nil
}

func (s *partnerStoreStub) Update(ctx context.Context, partner *models.Partner) error {
	for i := range s.partners {
		if s.partners[i].ID == partner.ID {
			s.partners[i] = *partner
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *partnerStoreStub) ListActiveWithExternalID(ctx context.Context) ([]models.Partner, error) {
	var active []models.Partner
	for _, p := range s.partners {
		if p.Active && p.ExternalID != nil {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *partnerStoreStub) SetExternalID(ctx context.Context, id, externalID string) error {
	for i := range s.partners {
		if s.partners[i].ID == id {
			s.partners[i].ExternalID = &externalID
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *partnerStoreStub) SoftDelete(ctx context.Context, id string, reason models.DeleteReason) error {
	for i := range s.partners {
		if s.partners[i].ID == id {
			now := time.Now()
			s.partners[i].Active = false
			s.partners[i].DeletedReason = reason
			s.partners[i].DeletedAt = &now
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *partnerStoreStub) get(id string) models.Partner {
	for _, p := range s.partners {
		if p.ID == id {
			return p
		}
	}
	return models.Partner{}
}

type accountFetcherStub struct {
	accounts []remote.PRMAccount
	err      error
	since    *time.Time
}

func (s *accountFetcherStub) FetchAccounts(ctx context.Context, since *time.Time) ([]remote.PRMAccount, error) {
	s.since = since
	return s.accounts, s.err
}

type partnerOffboarderStub struct {
	offboarded []string
	err        error
}

func (s *partnerOffboarderStub) OffboardPartner(ctx context.Context, partnerID string) error {
	s.offboarded = append(s.offboarded, partnerID)
	return s.err
}

func newPartnerSyncFixture(fetcher *accountFetcherStub, store *partnerStoreStub, runs *runRecorderStub, offboarder *partnerOffboarderStub) *PartnerSyncService {
	filter := NewEligibilityFilter(testSyncConfig())
	var off partnerOffboarder
	if offboarder != nil {
		off = offboarder
	}
	return NewPartnerSyncService(fetcher, store, runs, NewPartnerMatcher(store), filter, off, NewMetricsService(), nil, nil)
}

func TestPartnerSyncCreatesAndIsIdempotent(t *testing.T) {
	fetcher := &accountFetcherStub{accounts: []remote.PRMAccount{
		{ID: "ext-1", Name: "Acme", Tier: "Premier", Status: "Active", CrossRefID: "001A000001abcDE"},
		{ID: "ext-2", Name: "Globex", Tier: "Certified", Status: "Active"},
	}}
	store := &partnerStoreStub{}
	runs := &runRecorderStub{}
	svc := newPartnerSyncFixture(fetcher, store, runs, nil)

	stats, err := svc.Sync(context.Background(), "chain-1", models.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 0, stats.Updated)
	require.Len(t, store.partners, 2)

	// A second identical run updates in place and deactivates nothing.
	stats, err = svc.Sync(context.Background(), "chain-2", models.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 0, stats.Deactivated)
	assert.Len(t, store.partners, 2)
	assert.Len(t, runs.completed, 2)
}

func TestPartnerSyncReactivates(t *testing.T) {
	deletedAt := time.Now().Add(-time.Hour)
	store := &partnerStoreStub{partners: []models.Partner{{
		ID:            "p-1",
		Name:          "Acme",
		ExternalID:    strPtr("ext-1"),
		Active:        false,
		DeletedReason: models.DeleteReasonFiltered,
		DeletedAt:     &deletedAt,
	}}}
	fetcher := &accountFetcherStub{accounts: []remote.PRMAccount{
		{ID: "ext-1", Name: "Acme", Tier: "Premier", Status: "Active"},
	}}
	svc := newPartnerSyncFixture(fetcher, store, &runRecorderStub{}, nil)

	stats, err := svc.Sync(context.Background(), "chain-1", models.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reactivated)
	assert.Equal(t, 1, stats.Updated)

	revived := store.get("p-1")
	assert.True(t, revived.Active)
	assert.Empty(t, revived.DeletedReason)
	assert.Nil(t, revived.DeletedAt)
}

func TestPartnerSyncDeletionReasons(t *testing.T) {
	store := &partnerStoreStub{partners: []models.Partner{
		{ID: "p-keep", Name: "Acme", ExternalID: strPtr("ext-1"), Active: true},
		{ID: "p-filtered", Name: "Demo Co", ExternalID: strPtr("ext-2"), Active: true},
		{ID: "p-vanished", Name: "Ghost", ExternalID: strPtr("ext-3"), Active: true},
	}}
	fetcher := &accountFetcherStub{accounts: []remote.PRMAccount{
		{ID: "ext-1", Name: "Acme", Tier: "Premier", Status: "Active"},
		// Still upstream but now failing the name filter.
		{ID: "ext-2", Name: "Demo Co test", Tier: "Premier", Status: "Active"},
	}}
	offboarder := &partnerOffboarderStub{}
	svc := newPartnerSyncFixture(fetcher, store, &runRecorderStub{}, offboarder)

	stats, err := svc.Sync(context.Background(), "chain-1", models.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Deactivated)
	assert.Equal(t, models.DeleteReasonFiltered, store.get("p-filtered").DeletedReason)
	assert.Equal(t, models.DeleteReasonRemoved, store.get("p-vanished").DeletedReason)
	assert.True(t, store.get("p-keep").Active)
	assert.ElementsMatch(t, []string{"p-filtered", "p-vanished"}, offboarder.offboarded)
}

func TestPartnerSyncLinksBeforeDeleting(t *testing.T) {
	// Local row imported by hand: no external id yet, matched by name.
	store := &partnerStoreStub{partners: []models.Partner{
		{ID: "p-manual", Name: "Demo Partner", Active: true},
	}}
	fetcher := &accountFetcherStub{accounts: []remote.PRMAccount{
		{ID: "ext-9", Name: "Demo Partner", Tier: "Premier", Status: "Inactive"},
	}}
	svc := newPartnerSyncFixture(fetcher, store, &runRecorderStub{}, nil)

	stats, err := svc.Sync(context.Background(), "chain-1", models.SyncModeFull)
	require.NoError(t, err)

	linked := store.get("p-manual")
	require.NotNil(t, linked.ExternalID)
	assert.Equal(t, "ext-9", *linked.ExternalID)
	assert.False(t, linked.Active)
	assert.Equal(t, models.DeleteReasonFiltered, linked.DeletedReason)
	assert.Equal(t, 1, stats.Deactivated)
}

func TestPartnerSyncIncrementalDowngradesWithoutCursor(t *testing.T) {
	fetcher := &accountFetcherStub{}
	runs := &runRecorderStub{}
	svc := newPartnerSyncFixture(fetcher, &partnerStoreStub{}, runs, nil)

	stats, err := svc.Sync(context.Background(), "chain-1", models.SyncModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, models.SyncModeFull, stats.Mode)
	assert.Nil(t, fetcher.since)
	require.Len(t, runs.created, 1)
	assert.Equal(t, models.SyncModeFull, runs.created[0].Mode)
}

func TestPartnerSyncIncrementalUsesCursorAndSkipsDeletion(t *testing.T) {
	cursor := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	runs := &runRecorderStub{lastCompleted: &cursor}
	store := &partnerStoreStub{partners: []models.Partner{
		{ID: "p-old", Name: "Old Partner", ExternalID: strPtr("ext-old"), Active: true},
	}}
	fetcher := &accountFetcherStub{accounts: []remote.PRMAccount{
		{ID: "ext-1", Name: "Acme", Tier: "Premier", Status: "Active"},
	}}
	svc := newPartnerSyncFixture(fetcher, store, runs, nil)

	stats, err := svc.Sync(context.Background(), "chain-1", models.SyncModeIncremental)
	require.NoError(t, err)
	require.NotNil(t, fetcher.since)
	assert.Equal(t, cursor, *fetcher.since)
	// Rows absent from a scoped fetch are not deletions.
	assert.Equal(t, 0, stats.Deactivated)
	assert.True(t, store.get("p-old").Active)
}

func TestPartnerSyncPartialFetchSkipsDeletion(t *testing.T) {
	store := &partnerStoreStub{partners: []models.Partner{
		{ID: "p-unseen", Name: "Unseen", ExternalID: strPtr("ext-unseen"), Active: true},
	}}
	fetcher := &accountFetcherStub{
		accounts: []remote.PRMAccount{{ID: "ext-1", Name: "Acme", Tier: "Premier", Status: "Active"}},
		err:      errors.New("page 3: gateway timeout"),
	}
	svc := newPartnerSyncFixture(fetcher, store, &runRecorderStub{}, nil)

	stats, err := svc.Sync(context.Background(), "chain-1", models.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 0, stats.Deactivated)
	assert.True(t, store.get("p-unseen").Active)
}

func TestPartnerSyncTotalFetchFailureFailsRun(t *testing.T) {
	runs := &runRecorderStub{}
	fetcher := &accountFetcherStub{err: errors.New("authentication failed")}
	svc := newPartnerSyncFixture(fetcher, &partnerStoreStub{}, runs, nil)

	_, err := svc.Sync(context.Background(), "chain-1", models.SyncModeFull)
	require.Error(t, err)
	require.Len(t, runs.failures, 1)
	assert.Contains(t, runs.failures[0], "authentication failed")
	assert.Empty(t, runs.completed)
}

func TestPartnerSyncOffboardFailureDoesNotFailRun(t *testing.T) {
	store := &partnerStoreStub{partners: []models.Partner{
		{ID: "p-gone", Name: "Ghost", ExternalID: strPtr("ext-gone"), Active: true},
	}}
	fetcher := &accountFetcherStub{accounts: []remote.PRMAccount{}}
	offboarder := &partnerOffboarderStub{err: errors.New("lms unavailable")}
	runs := &runRecorderStub{}
	svc := newPartnerSyncFixture(fetcher, store, runs, offboarder)

	stats, err := svc.Sync(context.Background(), "chain-1", models.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deactivated)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, runs.completed, 1)
	assert.False(t, store.get("p-gone").Active)
}
