package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/remote"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
)

type contactFetcher interface {
	FetchContacts(ctx context.Context, since *time.Time) ([]remote.PRMContact, error)
}

type contactStore interface {
	contactMatchStore
	Create(ctx context.Context, contact *models.Contact) error
	Update(ctx context.Context, contact *models.Contact) error
	ListActiveWithExternalID(ctx context.Context) ([]models.Contact, error)
	SetExternalID(ctx context.Context, id, externalID string) error
	SoftDelete(ctx context.Context, id string, reason models.DeleteReason) error
}

type contactPartnerLookup interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.Partner, error)
}

type contactLmsUserLookup interface {
	FindByEmailFold(ctx context.Context, email string) (*models.LmsUser, error)
}

type contactOffboarder interface {
	OffboardContact(ctx context.Context, contactID string) error
}

// ContactSyncService reconciles PRM contacts into the local store.
type ContactSyncService struct {
	prm        contactFetcher
	contacts   contactStore
	partners   contactPartnerLookup
	lmsUsers   contactLmsUserLookup
	runs       syncRunRecorder
	matcher    *ContactMatcher
	filter     *EligibilityFilter
	offboarder contactOffboarder
	metrics    *MetricsService
	progress   *ProgressBroadcaster
	logger     *zap.Logger
}

func NewContactSyncService(prm contactFetcher, contacts contactStore, partners contactPartnerLookup, lmsUsers contactLmsUserLookup, runs syncRunRecorder, matcher *ContactMatcher, filter *EligibilityFilter, offboarder contactOffboarder, metrics *MetricsService, progress *ProgressBroadcaster, logger *zap.Logger) *ContactSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactSyncService{
		prm:        prm,
		contacts:   contacts,
		partners:   partners,
		lmsUsers:   lmsUsers,
		runs:       runs,
		matcher:    matcher,
		filter:     filter,
		offboarder: offboarder,
		metrics:    metrics,
		progress:   progress,
		logger:     logger,
	}
}

// Sync reconciles contacts. The contact's LMS user link is preserved across
// updates and is backfilled by email when absent, so offboarding always
// knows which learner account to revoke.
func (s *ContactSyncService) Sync(ctx context.Context, groupID string, mode models.SyncMode) (models.SyncStats, error) {
	mode, since, err := resolveCursor(ctx, s.runs, models.SyncTypeContacts, mode, s.logger)
	if err != nil {
		return models.SyncStats{Type: models.SyncTypeContacts, Mode: mode}, err
	}

	stats := models.SyncStats{Type: models.SyncTypeContacts, Mode: mode}
	run := &models.SyncRun{GroupID: groupID, Type: models.SyncTypeContacts, Mode: mode}
	if err := s.runs.Create(ctx, run); err != nil {
		return stats, appErrors.From(appErrors.ErrInternal, err)
	}
	started := time.Now()

	remoteContacts, fetchErr := s.prm.FetchContacts(ctx, since)
	if fetchErr != nil && len(remoteContacts) == 0 {
		_ = s.runs.Fail(ctx, run.ID, fetchErr.Error())
		s.metrics.ObserveSyncRun(models.SyncTypeContacts, mode, models.SyncRunStatusFailed, time.Since(started))
		return stats, appErrors.From(appErrors.ErrUpstream, fetchErr)
	}
	if fetchErr != nil {
		s.logger.Warn("contact fetch returned partial results",
			zap.Int("fetched", len(remoteContacts)), zap.Error(fetchErr))
	}
	stats.Fetched = len(remoteContacts)

	seen := make(map[string]struct{}, len(remoteContacts))
	excluded := make(map[string]remote.PRMContact)
	for i, contact := range remoteContacts {
		ok, _ := s.filter.ClassifyContact(contact)
		if !ok {
			stats.Filtered++
			excluded[contact.ID] = contact
			continue
		}
		seen[contact.ID] = struct{}{}
		if err := s.upsertContact(ctx, contact, &stats); err != nil {
			stats.RecordError(fmt.Sprintf("contact %s: %v", contact.ID, err))
		}
		if s.progress != nil {
			s.progress.Publish(ProgressEvent{
				GroupID: groupID,
				Type:    models.SyncTypeContacts,
				Stage:   "upsert",
				Current: i + 1,
				Total:   len(remoteContacts),
			})
		}
	}

	if mode == models.SyncModeFull && fetchErr == nil {
		s.deletionPass(ctx, seen, excluded, &stats)
	}

	detail, _ := json.Marshal(stats)
	if err := s.runs.Complete(ctx, run.ID, stats, detail); err != nil {
		s.logger.Error("failed to record contact run completion", zap.Error(err))
	}
	s.metrics.ObserveSyncRun(models.SyncTypeContacts, mode, models.SyncRunStatusCompleted, time.Since(started))
	s.metrics.AddSyncRows(models.SyncTypeContacts, "created", stats.Created)
	s.metrics.AddSyncRows(models.SyncTypeContacts, "updated", stats.Updated)
	s.metrics.AddSyncRows(models.SyncTypeContacts, "deactivated", stats.Deactivated)
	s.logger.Info("contact sync finished",
		zap.String("mode", string(mode)),
		zap.Int("fetched", stats.Fetched),
		zap.Int("filtered", stats.Filtered),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("deactivated", stats.Deactivated),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

func (s *ContactSyncService) upsertContact(ctx context.Context, remoteContact remote.PRMContact, stats *models.SyncStats) error {
	existing, err := s.matcher.Match(ctx, remoteContact.ID, remoteContact.Email)
	if err != nil {
		return err
	}

	partnerID, err := s.resolvePartner(ctx, remoteContact.AccountID)
	if err != nil {
		return err
	}

	if existing == nil {
		contact := &models.Contact{
			PartnerID:  partnerID,
			Email:      remoteContact.Email,
			FirstName:  remoteContact.FirstName,
			LastName:   remoteContact.LastName,
			Title:      remoteContact.Title,
			ExternalID: optString(remoteContact.ID),
			Active:     true,
		}
		contact.LmsUserID = s.lookupLmsUser(ctx, remoteContact.Email)
		if err := s.contacts.Create(ctx, contact); err != nil {
			return err
		}
		stats.Created++
		return nil
	}

	if !existing.Active {
		stats.Reactivated++
	}
	existing.PartnerID = partnerID
	existing.Email = remoteContact.Email
	existing.FirstName = remoteContact.FirstName
	existing.LastName = remoteContact.LastName
	existing.Title = remoteContact.Title
	existing.ExternalID = optString(remoteContact.ID)
	if existing.LmsUserID == nil {
		existing.LmsUserID = s.lookupLmsUser(ctx, remoteContact.Email)
	}
	existing.Active = true
	existing.DeletedReason = ""
	existing.DeletedAt = nil
	if err := s.contacts.Update(ctx, existing); err != nil {
		return err
	}
	stats.Updated++
	return nil
}

func (s *ContactSyncService) resolvePartner(ctx context.Context, accountID string) (*string, error) {
	if accountID == "" {
		return nil, nil
	}
	partner, err := s.partners.FindByExternalID(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &partner.ID, nil
}

func (s *ContactSyncService) lookupLmsUser(ctx context.Context, email string) *string {
	if s.lmsUsers == nil || email == "" {
		return nil
	}
	user, err := s.lmsUsers.FindByEmailFold(ctx, email)
	if err != nil {
		return nil
	}
	return &user.ID
}

// deletionPass soft-deletes active rows whose upstream record is gone or
// filtered. Filtered records are first linked to unlinked local rows so the
// soft delete lands on the right row instead of leaving an orphan behind.
func (s *ContactSyncService) deletionPass(ctx context.Context, seen map[string]struct{}, excluded map[string]remote.PRMContact, stats *models.SyncStats) {
	for _, remoteContact := range excluded {
		local, err := s.matcher.Match(ctx, "", remoteContact.Email)
		if err != nil {
			stats.RecordError(fmt.Sprintf("link pass %s: %v", remoteContact.ID, err))
			continue
		}
		if local != nil && local.ExternalID == nil {
			if err := s.contacts.SetExternalID(ctx, local.ID, remoteContact.ID); err != nil {
				stats.RecordError(fmt.Sprintf("link pass %s: %v", remoteContact.ID, err))
			}
		}
	}

	active, err := s.contacts.ListActiveWithExternalID(ctx)
	if err != nil {
		stats.RecordError(fmt.Sprintf("deletion pass: %v", err))
		return
	}
	for _, contact := range active {
		externalID := *contact.ExternalID
		if _, ok := seen[externalID]; ok {
			continue
		}
		reason := models.DeleteReasonRemoved
		if _, wasFiltered := excluded[externalID]; wasFiltered {
			reason = models.DeleteReasonFiltered
		}
		if err := s.contacts.SoftDelete(ctx, contact.ID, reason); err != nil {
			stats.RecordError(fmt.Sprintf("deactivate %s: %v", contact.ID, err))
			continue
		}
		stats.Deactivated++

		if s.offboarder != nil {
			if err := s.offboarder.OffboardContact(ctx, contact.ID); err != nil {
				stats.RecordError(fmt.Sprintf("offboard %s: %v", contact.ID, err))
			}
		}
	}
}
