package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/remote"
	"github.com/channelworks/partner-sync-api/pkg/config"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
)

type lmsFetcher interface {
	FetchUsers(ctx context.Context, since *time.Time) ([]remote.LMSUser, error)
	FetchGroups(ctx context.Context) ([]remote.LMSGroup, error)
	GetGroup(ctx context.Context, groupID string) (*remote.LMSGroup, error)
	FetchGroupUsers(ctx context.Context, groupID string) ([]remote.LMSUser, error)
}

type lmsUserStore interface {
	Upsert(ctx context.Context, user *models.LmsUser) error
	ListKnownIDs(ctx context.Context) ([]string, error)
	MarkDeleted(ctx context.Context, ids []string) error
}

type lmsGroupStore interface {
	Upsert(ctx context.Context, group *models.LmsGroup) error
	ListActive(ctx context.Context) ([]models.LmsGroup, error)
	SetMemberCount(ctx context.Context, id string, count int, checkedAt time.Time) error
	SoftDelete(ctx context.Context, id string, reason models.DeleteReason) error
}

type lmsPartnerLookup interface {
	FindByNameFold(ctx context.Context, name string) (*models.Partner, error)
}

type membershipStore interface {
	ReplaceGroupMembers(ctx context.Context, groupID string, userIDs []string) (added int, removed int, err error)
}

// LmsSyncService mirrors LMS users, groups, and group memberships.
type LmsSyncService struct {
	lms         lmsFetcher
	users       lmsUserStore
	groups      lmsGroupStore
	memberships membershipStore
	partners    lmsPartnerLookup
	runs        syncRunRecorder
	metrics     *MetricsService
	progress    *ProgressBroadcaster
	logger      *zap.Logger

	allPartnersName string
	partnerPrefix   string
}

func NewLmsSyncService(lms lmsFetcher, users lmsUserStore, groups lmsGroupStore, memberships membershipStore, partners lmsPartnerLookup, runs syncRunRecorder, cfg config.SyncConfig, metrics *MetricsService, progress *ProgressBroadcaster, logger *zap.Logger) *LmsSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LmsSyncService{
		lms:             lms,
		users:           users,
		groups:          groups,
		memberships:     memberships,
		partners:        partners,
		runs:            runs,
		metrics:         metrics,
		progress:        progress,
		logger:          logger,
		allPartnersName: cfg.AllPartnersGroupName,
		partnerPrefix:   cfg.PartnerGroupPrefix,
	}
}

// SyncUsers mirrors learner accounts. The LMS never reports deletions, so a
// full pass infers them: any locally-known id missing from the feed is
// marked deleted. A clean full fetch lands in the session cache so a rerun
// within the same session reuses the list.
func (s *LmsSyncService) SyncUsers(ctx context.Context, groupID string, mode models.SyncMode, session *SessionCache) (models.SyncStats, error) {
	mode, since, err := resolveCursor(ctx, s.runs, models.SyncTypeLmsUsers, mode, s.logger)
	if err != nil {
		return models.SyncStats{Type: models.SyncTypeLmsUsers, Mode: mode}, err
	}

	stats := models.SyncStats{Type: models.SyncTypeLmsUsers, Mode: mode}
	run := &models.SyncRun{GroupID: groupID, Type: models.SyncTypeLmsUsers, Mode: mode}
	if err := s.runs.Create(ctx, run); err != nil {
		return stats, appErrors.From(appErrors.ErrInternal, err)
	}
	started := time.Now()

	var remoteUsers []remote.LMSUser
	var fetchErr error
	cached := false
	if mode == models.SyncModeFull && session != nil {
		remoteUsers, cached = session.Users()
	}
	if !cached {
		remoteUsers, fetchErr = s.lms.FetchUsers(ctx, since)
		if fetchErr != nil && len(remoteUsers) == 0 {
			_ = s.runs.Fail(ctx, run.ID, fetchErr.Error())
			s.metrics.ObserveSyncRun(models.SyncTypeLmsUsers, mode, models.SyncRunStatusFailed, time.Since(started))
			return stats, appErrors.From(appErrors.ErrUpstream, fetchErr)
		}
		if fetchErr != nil {
			s.logger.Warn("lms user fetch returned partial results",
				zap.Int("fetched", len(remoteUsers)), zap.Error(fetchErr))
		}
		// Only a clean full list is safe to reuse as the complete roster.
		if mode == models.SyncModeFull && fetchErr == nil && session != nil {
			session.SetUsers(remoteUsers)
		}
	}
	stats.Fetched = len(remoteUsers)

	seen := make(map[string]struct{}, len(remoteUsers))
	for i, remoteUser := range remoteUsers {
		seen[remoteUser.ID] = struct{}{}
		if err := s.users.Upsert(ctx, userFromRemote(remoteUser)); err != nil {
			stats.RecordError(fmt.Sprintf("user %s: %v", remoteUser.ID, err))
			continue
		}
		stats.Updated++
		if s.progress != nil {
			s.progress.Publish(ProgressEvent{
				GroupID: groupID,
				Type:    models.SyncTypeLmsUsers,
				Stage:   "upsert",
				Current: i + 1,
				Total:   len(remoteUsers),
			})
		}
	}

	if mode == models.SyncModeFull && fetchErr == nil {
		known, err := s.users.ListKnownIDs(ctx)
		if err != nil {
			stats.RecordError(fmt.Sprintf("deletion pass: %v", err))
		} else {
			var vanished []string
			for _, id := range known {
				if _, ok := seen[id]; !ok {
					vanished = append(vanished, id)
				}
			}
			if len(vanished) > 0 {
				if err := s.users.MarkDeleted(ctx, vanished); err != nil {
					stats.RecordError(fmt.Sprintf("deletion pass: %v", err))
				} else {
					stats.Deactivated = len(vanished)
				}
			}
		}
	}

	detail, _ := json.Marshal(stats)
	if err := s.runs.Complete(ctx, run.ID, stats, detail); err != nil {
		s.logger.Error("failed to record lms user run completion", zap.Error(err))
	}
	s.metrics.ObserveSyncRun(models.SyncTypeLmsUsers, mode, models.SyncRunStatusCompleted, time.Since(started))
	s.metrics.AddSyncRows(models.SyncTypeLmsUsers, "upserted", stats.Updated)
	s.metrics.AddSyncRows(models.SyncTypeLmsUsers, "deleted", stats.Deactivated)
	s.logger.Info("lms user sync finished",
		zap.String("mode", string(mode)),
		zap.Int("fetched", stats.Fetched),
		zap.Int("upserted", stats.Updated),
		zap.Int("deleted", stats.Deactivated),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

// SyncGroups mirrors LMS groups and binds each to its partner by the group
// naming convention. The fetched group list lands in the session cache so
// the membership pass can reuse it.
func (s *LmsSyncService) SyncGroups(ctx context.Context, groupID string, session *SessionCache) (models.SyncStats, error) {
	stats := models.SyncStats{Type: models.SyncTypeLmsGroups, Mode: models.SyncModeFull}
	run := &models.SyncRun{GroupID: groupID, Type: models.SyncTypeLmsGroups, Mode: models.SyncModeFull}
	if err := s.runs.Create(ctx, run); err != nil {
		return stats, appErrors.From(appErrors.ErrInternal, err)
	}
	started := time.Now()

	remoteGroups, ok := session.Groups()
	if !ok {
		var err error
		remoteGroups, err = s.lms.FetchGroups(ctx)
		if err != nil {
			_ = s.runs.Fail(ctx, run.ID, err.Error())
			s.metrics.ObserveSyncRun(models.SyncTypeLmsGroups, models.SyncModeFull, models.SyncRunStatusFailed, time.Since(started))
			return stats, appErrors.From(appErrors.ErrUpstream, err)
		}
		session.SetGroups(remoteGroups)
	}
	stats.Fetched = len(remoteGroups)

	for _, remoteGroup := range remoteGroups {
		group := &models.LmsGroup{
			ID:          remoteGroup.ID,
			Name:        remoteGroup.Name,
			MemberCount: remoteGroup.MemberCount,
			Active:      true,
		}

		switch {
		case strings.EqualFold(remoteGroup.Name, s.allPartnersName):
			group.AllPartners = true
		case strings.HasPrefix(remoteGroup.Name, s.partnerPrefix):
			partnerName := strings.TrimPrefix(remoteGroup.Name, s.partnerPrefix)
			partner, err := s.partners.FindByNameFold(ctx, partnerName)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				stats.RecordError(fmt.Sprintf("group %s: %v", remoteGroup.ID, err))
				continue
			}
			if partner != nil {
				group.PartnerID = &partner.ID
				session.SetPartnerGroupID(partner.ID, remoteGroup.ID)
			}
		default:
			// Groups outside the naming convention are not ours to manage.
			stats.Filtered++
			continue
		}

		if err := s.groups.Upsert(ctx, group); err != nil {
			stats.RecordError(fmt.Sprintf("group %s: %v", remoteGroup.ID, err))
			continue
		}
		stats.Updated++
	}

	detail, _ := json.Marshal(stats)
	if err := s.runs.Complete(ctx, run.ID, stats, detail); err != nil {
		s.logger.Error("failed to record lms group run completion", zap.Error(err))
	}
	s.metrics.ObserveSyncRun(models.SyncTypeLmsGroups, models.SyncModeFull, models.SyncRunStatusCompleted, time.Since(started))
	s.logger.Info("lms group sync finished",
		zap.Int("fetched", stats.Fetched),
		zap.Int("unmanaged", stats.Filtered),
		zap.Int("upserted", stats.Updated),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

// SyncMemberships refreshes the member list of every managed group. A group
// whose remote member count matches the stored count is skipped; a group
// the LMS no longer knows is soft-deleted locally.
func (s *LmsSyncService) SyncMemberships(ctx context.Context, groupID string, session *SessionCache) (models.SyncStats, error) {
	stats := models.SyncStats{Type: models.SyncTypeMemberships, Mode: models.SyncModeFull}
	run := &models.SyncRun{GroupID: groupID, Type: models.SyncTypeMemberships, Mode: models.SyncModeFull}
	if err := s.runs.Create(ctx, run); err != nil {
		return stats, appErrors.From(appErrors.ErrInternal, err)
	}
	started := time.Now()

	local, err := s.groups.ListActive(ctx)
	if err != nil {
		_ = s.runs.Fail(ctx, run.ID, err.Error())
		s.metrics.ObserveSyncRun(models.SyncTypeMemberships, models.SyncModeFull, models.SyncRunStatusFailed, time.Since(started))
		return stats, appErrors.From(appErrors.ErrInternal, err)
	}
	stats.Fetched = len(local)

	now := time.Now()
	for i, group := range local {
		remoteCount, found, err := s.remoteMemberCount(ctx, session, group.ID)
		if err != nil {
			stats.RecordError(fmt.Sprintf("group %s: %v", group.ID, err))
			continue
		}
		if !found {
			if err := s.groups.SoftDelete(ctx, group.ID, models.DeleteReasonNotFoundInLMS); err != nil {
				stats.RecordError(fmt.Sprintf("group %s: %v", group.ID, err))
				continue
			}
			stats.Deactivated++
			s.logger.Warn("group vanished from lms", zap.String("group_id", group.ID))
			continue
		}

		if remoteCount == group.MemberCount {
			// Count unchanged, refresh the checked timestamp only.
			if err := s.groups.SetMemberCount(ctx, group.ID, group.MemberCount, now); err != nil {
				stats.RecordError(fmt.Sprintf("group %s: %v", group.ID, err))
			}
			stats.Filtered++
			continue
		}

		members, err := s.lms.FetchGroupUsers(ctx, group.ID)
		if err != nil {
			stats.RecordError(fmt.Sprintf("group %s members: %v", group.ID, err))
			continue
		}
		userIDs := make([]string, 0, len(members))
		for _, member := range members {
			// Membership rows reference lms_users, so any member fetched here
			// that the user pass has not seen yet is mirrored on the spot.
			if err := s.users.Upsert(ctx, userFromRemote(member)); err != nil {
				stats.RecordError(fmt.Sprintf("group %s user %s: %v", group.ID, member.ID, err))
				continue
			}
			userIDs = append(userIDs, member.ID)
		}

		added, removed, err := s.memberships.ReplaceGroupMembers(ctx, group.ID, userIDs)
		if err != nil {
			stats.RecordError(fmt.Sprintf("group %s replace: %v", group.ID, err))
			continue
		}
		if err := s.groups.SetMemberCount(ctx, group.ID, len(userIDs), now); err != nil {
			stats.RecordError(fmt.Sprintf("group %s: %v", group.ID, err))
		}
		stats.Created += added
		stats.Deactivated += removed
		stats.Updated++

		if s.progress != nil {
			s.progress.Publish(ProgressEvent{
				GroupID: groupID,
				Type:    models.SyncTypeMemberships,
				Stage:   "refresh",
				Current: i + 1,
				Total:   len(local),
			})
		}
	}

	detail, _ := json.Marshal(stats)
	if err := s.runs.Complete(ctx, run.ID, stats, detail); err != nil {
		s.logger.Error("failed to record membership run completion", zap.Error(err))
	}
	s.metrics.ObserveSyncRun(models.SyncTypeMemberships, models.SyncModeFull, models.SyncRunStatusCompleted, time.Since(started))
	s.metrics.AddSyncRows(models.SyncTypeMemberships, "added", stats.Created)
	s.metrics.AddSyncRows(models.SyncTypeMemberships, "removed", stats.Deactivated)
	s.logger.Info("membership sync finished",
		zap.Int("groups", stats.Fetched),
		zap.Int("unchanged", stats.Filtered),
		zap.Int("refreshed", stats.Updated),
		zap.Int("added", stats.Created),
		zap.Int("removed", stats.Deactivated),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

// remoteMemberCount prefers the session-cached group list and falls back to
// a direct lookup. found=false means the LMS answered 404 for the group.
func (s *LmsSyncService) remoteMemberCount(ctx context.Context, session *SessionCache, groupID string) (int, bool, error) {
	if cached, ok := session.Group(groupID); ok {
		return cached.MemberCount, true, nil
	}
	group, err := s.lms.GetGroup(ctx, groupID)
	if remote.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return group.MemberCount, true, nil
}

func userFromRemote(remoteUser remote.LMSUser) *models.LmsUser {
	status := models.LmsUserStatusActive
	if remoteUser.DeactivatedAt != nil || strings.EqualFold(remoteUser.Status, "deactivated") {
		status = models.LmsUserStatusDeactivated
	}
	return &models.LmsUser{
		ID:            remoteUser.ID,
		Email:         remoteUser.Email,
		FirstName:     remoteUser.FirstName,
		LastName:      remoteUser.LastName,
		Status:        status,
		LastActiveAt:  remoteUser.LastActiveAt,
		DeactivatedAt: remoteUser.DeactivatedAt,
	}
}
