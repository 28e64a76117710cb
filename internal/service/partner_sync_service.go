package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/remote"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
)

type partnerAccountFetcher interface {
	FetchAccounts(ctx context.Context, since *time.Time) ([]remote.PRMAccount, error)
}

type partnerStore interface {
	partnerMatchStore
	Create(ctx context.Context, partner *models.Partner) error
	Update(ctx context.Context, partner *models.Partner) error
	ListActiveWithExternalID(ctx context.Context) ([]models.Partner, error)
	SetExternalID(ctx context.Context, id, externalID string) error
	SoftDelete(ctx context.Context, id string, reason models.DeleteReason) error
}

type syncRunRecorder interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Complete(ctx context.Context, id string, stats models.SyncStats, detail []byte) error
	Fail(ctx context.Context, id string, errMsg string) error
	LastCompletedAt(ctx context.Context, syncType models.SyncType) (*time.Time, error)
}

type partnerOffboarder interface {
	OffboardPartner(ctx context.Context, partnerID string) error
}

// PartnerSyncService reconciles PRM partner accounts into the local store.
type PartnerSyncService struct {
	prm        partnerAccountFetcher
	partners   partnerStore
	runs       syncRunRecorder
	matcher    *PartnerMatcher
	filter     *EligibilityFilter
	offboarder partnerOffboarder
	metrics    *MetricsService
	progress   *ProgressBroadcaster
	logger     *zap.Logger
}

func NewPartnerSyncService(prm partnerAccountFetcher, partners partnerStore, runs syncRunRecorder, matcher *PartnerMatcher, filter *EligibilityFilter, offboarder partnerOffboarder, metrics *MetricsService, progress *ProgressBroadcaster, logger *zap.Logger) *PartnerSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PartnerSyncService{
		prm:        prm,
		partners:   partners,
		runs:       runs,
		matcher:    matcher,
		filter:     filter,
		offboarder: offboarder,
		metrics:    metrics,
		progress:   progress,
		logger:     logger,
	}
}

// Sync reconciles partner accounts. In incremental mode only records updated
// since the last completed partner run are fetched and the deletion pass is
// skipped; with no prior completed run the mode silently downgrades to full.
func (s *PartnerSyncService) Sync(ctx context.Context, groupID string, mode models.SyncMode) (models.SyncStats, error) {
	mode, since, err := resolveCursor(ctx, s.runs, models.SyncTypePartners, mode, s.logger)
	if err != nil {
		return models.SyncStats{Type: models.SyncTypePartners, Mode: mode}, err
	}

	stats := models.SyncStats{Type: models.SyncTypePartners, Mode: mode}
	run := &models.SyncRun{GroupID: groupID, Type: models.SyncTypePartners, Mode: mode}
	if err := s.runs.Create(ctx, run); err != nil {
		return stats, appErrors.From(appErrors.ErrInternal, err)
	}
	started := time.Now()

	accounts, fetchErr := s.prm.FetchAccounts(ctx, since)
	if fetchErr != nil && len(accounts) == 0 {
		_ = s.runs.Fail(ctx, run.ID, fetchErr.Error())
		s.observeRun(stats, models.SyncRunStatusFailed, started)
		return stats, appErrors.From(appErrors.ErrUpstream, fetchErr)
	}
	if fetchErr != nil {
		// Partial page failure: the fetched prefix is still safe to upsert,
		// but the deletion pass must not run against an incomplete snapshot.
		s.logger.Warn("partner fetch returned partial results",
			zap.Int("fetched", len(accounts)), zap.Error(fetchErr))
	}
	stats.Fetched = len(accounts)

	eligible := make([]remote.PRMAccount, 0, len(accounts))
	excluded := make(map[string]remote.PRMAccount)
	reasons := make(map[ExclusionReason]int)
	for _, account := range accounts {
		ok, reason := s.filter.ClassifyAccount(account)
		if !ok {
			stats.Filtered++
			reasons[reason]++
			excluded[account.ID] = account
			continue
		}
		eligible = append(eligible, account)
	}

	seen := make(map[string]struct{}, len(eligible))
	for i, account := range eligible {
		seen[account.ID] = struct{}{}
		if err := s.upsertAccount(ctx, account, &stats); err != nil {
			stats.RecordError(fmt.Sprintf("account %s: %v", account.ID, err))
		}
		s.publishProgress(groupID, "upsert", i+1, len(eligible))
	}

	if mode == models.SyncModeFull && fetchErr == nil {
		s.deletionPass(ctx, seen, excluded, &stats)
	}

	detail, _ := json.Marshal(struct {
		models.SyncStats
		ExclusionReasons map[ExclusionReason]int `json:"exclusion_reasons,omitempty"`
	}{stats, reasons})
	if err := s.runs.Complete(ctx, run.ID, stats, detail); err != nil {
		s.logger.Error("failed to record partner run completion", zap.Error(err))
	}
	s.observeRun(stats, models.SyncRunStatusCompleted, started)
	s.logger.Info("partner sync finished",
		zap.String("mode", string(mode)),
		zap.Int("fetched", stats.Fetched),
		zap.Int("filtered", stats.Filtered),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("deactivated", stats.Deactivated),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

func (s *PartnerSyncService) upsertAccount(ctx context.Context, account remote.PRMAccount, stats *models.SyncStats) error {
	existing, err := s.matcher.Match(ctx, account.ID, account.CrossRefID, account.Name)
	if err != nil {
		return err
	}

	tier, _ := models.KnownTier(account.Tier)
	if existing == nil {
		partner := &models.Partner{
			Name:       account.Name,
			Tier:       tier,
			Status:     account.Status,
			Region:     account.Region,
			OwnerName:  account.OwnerName,
			OwnerEmail: account.OwnerEmail,
			ExternalID: optString(account.ID),
			CrossRefID: optString(account.CrossRefID),
			Active:     true,
		}
		partner.ExternalParentID = optString(account.ParentID)
		if err := s.partners.Create(ctx, partner); err != nil {
			return err
		}
		stats.Created++
		return nil
	}

	if !existing.Active {
		stats.Reactivated++
	}
	existing.Name = account.Name
	existing.Tier = tier
	existing.Status = account.Status
	existing.Region = account.Region
	existing.OwnerName = account.OwnerName
	existing.OwnerEmail = account.OwnerEmail
	existing.ExternalID = optString(account.ID)
	existing.ExternalParentID = optString(account.ParentID)
	if account.CrossRefID != "" {
		existing.CrossRefID = optString(account.CrossRefID)
	}
	existing.Active = true
	existing.DeletedReason = ""
	existing.DeletedAt = nil
	if err := s.partners.Update(ctx, existing); err != nil {
		return err
	}
	stats.Updated++
	return nil
}

// deletionPass soft-deletes active rows whose upstream record is gone or
// filtered. Filtered records are first linked to unlinked local rows so the
// soft delete lands on the right row instead of leaving an orphan behind.
func (s *PartnerSyncService) deletionPass(ctx context.Context, seen map[string]struct{}, excluded map[string]remote.PRMAccount, stats *models.SyncStats) {
	for _, account := range excluded {
		local, err := s.matcher.Match(ctx, "", account.CrossRefID, account.Name)
		if err != nil {
			stats.RecordError(fmt.Sprintf("link pass %s: %v", account.ID, err))
			continue
		}
		if local != nil && local.ExternalID == nil {
			if err := s.partners.SetExternalID(ctx, local.ID, account.ID); err != nil {
				stats.RecordError(fmt.Sprintf("link pass %s: %v", account.ID, err))
			}
		}
	}

	active, err := s.partners.ListActiveWithExternalID(ctx)
	if err != nil {
		stats.RecordError(fmt.Sprintf("deletion pass: %v", err))
		return
	}
	for _, partner := range active {
		externalID := *partner.ExternalID
		if _, ok := seen[externalID]; ok {
			continue
		}
		reason := models.DeleteReasonRemoved
		if _, wasFiltered := excluded[externalID]; wasFiltered {
			reason = models.DeleteReasonFiltered
		}
		if err := s.partners.SoftDelete(ctx, partner.ID, reason); err != nil {
			stats.RecordError(fmt.Sprintf("deactivate %s: %v", partner.ID, err))
			continue
		}
		stats.Deactivated++
		s.logger.Info("partner deactivated",
			zap.String("partner_id", partner.ID),
			zap.String("reason", string(reason)))

		// Offboarding runs inline so LMS group access is revoked in the same
		// pass, but a failure there never fails the sync run.
		if s.offboarder != nil {
			if err := s.offboarder.OffboardPartner(ctx, partner.ID); err != nil {
				stats.RecordError(fmt.Sprintf("offboard %s: %v", partner.ID, err))
			}
		}
	}
}

func (s *PartnerSyncService) observeRun(stats models.SyncStats, status models.SyncRunStatus, started time.Time) {
	s.metrics.ObserveSyncRun(models.SyncTypePartners, stats.Mode, status, time.Since(started))
	s.metrics.AddSyncRows(models.SyncTypePartners, "created", stats.Created)
	s.metrics.AddSyncRows(models.SyncTypePartners, "updated", stats.Updated)
	s.metrics.AddSyncRows(models.SyncTypePartners, "deactivated", stats.Deactivated)
}

func (s *PartnerSyncService) publishProgress(groupID, stage string, current, total int) {
	if s.progress == nil {
		return
	}
	s.progress.Publish(ProgressEvent{
		GroupID: groupID,
		Type:    models.SyncTypePartners,
		Stage:   stage,
		Current: current,
		Total:   total,
	})
}

// resolveCursor turns the requested mode into the effective mode plus fetch
// cursor. Incremental mode needs a prior completed run of the same type;
// without one the pass downgrades to full.
func resolveCursor(ctx context.Context, runs syncRunRecorder, syncType models.SyncType, mode models.SyncMode, logger *zap.Logger) (models.SyncMode, *time.Time, error) {
	if mode != models.SyncModeIncremental {
		return models.SyncModeFull, nil, nil
	}
	cursor, err := runs.LastCompletedAt(ctx, syncType)
	if err != nil {
		return mode, nil, appErrors.From(appErrors.ErrInternal, err)
	}
	if cursor == nil {
		logger.Info("no completed run on record, downgrading to full sync",
			zap.String("type", string(syncType)))
		return models.SyncModeFull, nil, nil
	}
	return models.SyncModeIncremental, cursor, nil
}

func optString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
