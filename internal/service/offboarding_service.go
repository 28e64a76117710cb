package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/remote"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
)

type offboardContactStore interface {
	FindByID(ctx context.Context, id string) (*models.Contact, error)
	ListActiveByPartner(ctx context.Context, partnerID string) ([]models.Contact, error)
}

type offboardGroupStore interface {
	FindByPartnerID(ctx context.Context, partnerID string) (*models.LmsGroup, error)
	FindAllPartnersGroup(ctx context.Context) (*models.LmsGroup, error)
	SoftDelete(ctx context.Context, id string, reason models.DeleteReason) error
}

type offboardMembershipStore interface {
	ListUserIDsByGroup(ctx context.Context, groupID string) ([]string, error)
	RemoveMembers(ctx context.Context, groupID string, userIDs []string) error
}

type groupMemberRemover interface {
	RemoveGroupMembers(ctx context.Context, groupID string, personIDs []string) error
	DeleteGroup(ctx context.Context, groupID string) error
}

// OffboardingService revokes LMS access when contacts or partners leave the
// program. Removal is idempotent: a member or group already gone upstream
// counts as removed.
type OffboardingService struct {
	contacts    offboardContactStore
	groups      offboardGroupStore
	memberships offboardMembershipStore
	lms         groupMemberRemover
	metrics     *MetricsService
	logger      *zap.Logger
}

func NewOffboardingService(contacts offboardContactStore, groups offboardGroupStore, memberships offboardMembershipStore, lms groupMemberRemover, metrics *MetricsService, logger *zap.Logger) *OffboardingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OffboardingService{
		contacts:    contacts,
		groups:      groups,
		memberships: memberships,
		lms:         lms,
		metrics:     metrics,
		logger:      logger,
	}
}

// OffboardContact pulls one contact's learner account out of its partner
// group and the all-partners group. Contacts without a linked learner
// account are a no-op.
func (s *OffboardingService) OffboardContact(ctx context.Context, contactID string) error {
	contact, err := s.contacts.FindByID(ctx, contactID)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "contact not found")
	}
	if err != nil {
		return appErrors.From(appErrors.ErrInternal, err)
	}
	if contact.LmsUserID == nil {
		s.logger.Debug("contact has no learner account, nothing to offboard",
			zap.String("contact_id", contactID))
		return nil
	}
	userID := *contact.LmsUserID

	if contact.PartnerID != nil {
		group, err := s.groups.FindByPartnerID(ctx, *contact.PartnerID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.From(appErrors.ErrInternal, err)
		}
		if group != nil {
			if err := s.removeFromGroup(ctx, group.ID, []string{userID}); err != nil {
				return err
			}
		}
	}

	allPartners, err := s.groups.FindAllPartnersGroup(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.From(appErrors.ErrInternal, err)
	}
	if allPartners != nil {
		if err := s.removeFromGroup(ctx, allPartners.ID, []string{userID}); err != nil {
			return err
		}
	}

	s.metrics.AddSyncRows(models.SyncTypeMemberships, "offboarded", 1)
	s.logger.Info("contact offboarded",
		zap.String("contact_id", contactID),
		zap.String("lms_user_id", userID))
	return nil
}

// OffboardPartner tears down a partner's LMS footprint: its learners leave
// the all-partners group, the partner group is deleted upstream, and the
// local group row is soft-deleted. Learners come from two places, the
// group's membership rows and the partner's contacts' direct learner links;
// a contact linked to a learner outside the group still loses access.
func (s *OffboardingService) OffboardPartner(ctx context.Context, partnerID string) error {
	group, err := s.groups.FindByPartnerID(ctx, partnerID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("partner has no group, nothing to offboard",
			zap.String("partner_id", partnerID))
		return nil
	}
	if err != nil {
		return appErrors.From(appErrors.ErrInternal, err)
	}

	memberIDs, err := s.partnerLearnerIDs(ctx, partnerID, group.ID)
	if err != nil {
		return err
	}

	if len(memberIDs) > 0 {
		allPartners, err := s.groups.FindAllPartnersGroup(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.From(appErrors.ErrInternal, err)
		}
		if allPartners != nil {
			if err := s.removeFromGroup(ctx, allPartners.ID, memberIDs); err != nil {
				return err
			}
		}
	}

	if err := s.lms.DeleteGroup(ctx, group.ID); err != nil && !remote.IsNotFound(err) {
		return appErrors.From(appErrors.ErrUpstream, err)
	}
	if err := s.groups.SoftDelete(ctx, group.ID, models.DeleteReasonManualOffboard); err != nil {
		return appErrors.From(appErrors.ErrInternal, err)
	}

	s.logger.Info("partner offboarded",
		zap.String("partner_id", partnerID),
		zap.String("group_id", group.ID),
		zap.Int("members", len(memberIDs)))
	return nil
}

// partnerLearnerIDs unions the partner group's membership rows with the
// learner accounts linked directly from the partner's active contacts.
func (s *OffboardingService) partnerLearnerIDs(ctx context.Context, partnerID, groupID string) ([]string, error) {
	memberIDs, err := s.memberships.ListUserIDsByGroup(ctx, groupID)
	if err != nil {
		return nil, appErrors.From(appErrors.ErrInternal, err)
	}
	contacts, err := s.contacts.ListActiveByPartner(ctx, partnerID)
	if err != nil {
		return nil, appErrors.From(appErrors.ErrInternal, err)
	}

	set := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		set[id] = struct{}{}
	}
	for _, contact := range contacts {
		if contact.LmsUserID != nil {
			set[*contact.LmsUserID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// BatchResult tallies a batch offboarding call. Items fail independently.
type BatchResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// OffboardContacts offboards each contact in turn. One contact's failure
// never blocks the rest.
func (s *OffboardingService) OffboardContacts(ctx context.Context, contactIDs []string) BatchResult {
	var result BatchResult
	for _, id := range contactIDs {
		if err := s.OffboardContact(ctx, id); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("contact %s: %v", id, err))
			continue
		}
		result.Succeeded++
	}
	return result
}

// OffboardPartners tears down each partner in turn with per-item isolation.
func (s *OffboardingService) OffboardPartners(ctx context.Context, partnerIDs []string) BatchResult {
	var result BatchResult
	for _, id := range partnerIDs {
		if err := s.OffboardPartner(ctx, id); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("partner %s: %v", id, err))
			continue
		}
		result.Succeeded++
	}
	return result
}

// OffboardPartnerContacts offboards every active contact of one partner.
func (s *OffboardingService) OffboardPartnerContacts(ctx context.Context, partnerID string) (BatchResult, error) {
	contacts, err := s.contacts.ListActiveByPartner(ctx, partnerID)
	if err != nil {
		return BatchResult{}, appErrors.From(appErrors.ErrInternal, err)
	}
	ids := make([]string, 0, len(contacts))
	for _, contact := range contacts {
		ids = append(ids, contact.ID)
	}
	return s.OffboardContacts(ctx, ids), nil
}

// removeFromGroup removes members upstream first, then mirrors the removal
// locally. An upstream 404 is treated as already removed.
func (s *OffboardingService) removeFromGroup(ctx context.Context, groupID string, userIDs []string) error {
	if err := s.lms.RemoveGroupMembers(ctx, groupID, userIDs); err != nil && !remote.IsNotFound(err) {
		return appErrors.From(appErrors.ErrUpstream, err)
	}
	if err := s.memberships.RemoveMembers(ctx, groupID, userIDs); err != nil {
		return appErrors.From(appErrors.ErrInternal, err)
	}
	return nil
}
