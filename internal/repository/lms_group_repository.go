package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/channelworks/partner-sync-api/internal/models"
)

const lmsGroupColumns = `id, name, partner_id, member_count, all_partners,
	active, deleted_reason, deleted_at, checked_at, created_at, updated_at`

// LmsGroupRepository handles persistence of mirrored LMS cohorts.
type LmsGroupRepository struct {
	db *sqlx.DB
}

// NewLmsGroupRepository constructs the repository.
func NewLmsGroupRepository(db *sqlx.DB) *LmsGroupRepository {
	return &LmsGroupRepository{db: db}
}

// Upsert writes a group row keyed by the remote LMS id. A reappearing group
// is reactivated with its deletion stamp cleared.
func (r *LmsGroupRepository) Upsert(ctx context.Context, group *models.LmsGroup) error {
	now := time.Now().UTC()
	group.UpdatedAt = now
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}

	const query = `INSERT INTO lms_groups (id, name, partner_id, member_count, all_partners,
		active, deleted_reason, deleted_at, checked_at, created_at, updated_at)
		VALUES (:id, :name, :partner_id, :member_count, :all_partners, true, '', NULL, :checked_at, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, partner_id = EXCLUDED.partner_id,
		member_count = EXCLUDED.member_count, all_partners = EXCLUDED.all_partners,
		active = true, deleted_reason = '', deleted_at = NULL, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("upsert lms group: %w", err)
	}
	return nil
}

// FindByID returns a group by the remote LMS id.
func (r *LmsGroupRepository) FindByID(ctx context.Context, id string) (*models.LmsGroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM lms_groups WHERE id = $1`, lmsGroupColumns)
	var group models.LmsGroup
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// FindByPartnerID returns a partner's dedicated group.
func (r *LmsGroupRepository) FindByPartnerID(ctx context.Context, partnerID string) (*models.LmsGroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM lms_groups WHERE partner_id = $1 AND active = true ORDER BY created_at LIMIT 1`, lmsGroupColumns)
	var group models.LmsGroup
	if err := r.db.GetContext(ctx, &group, query, partnerID); err != nil {
		return nil, err
	}
	return &group, nil
}

// FindAllPartnersGroup returns the distinguished group holding every partner
// learner, or sql.ErrNoRows when it has not been mirrored yet.
func (r *LmsGroupRepository) FindAllPartnersGroup(ctx context.Context) (*models.LmsGroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM lms_groups WHERE all_partners = true AND active = true LIMIT 1`, lmsGroupColumns)
	var group models.LmsGroup
	if err := r.db.GetContext(ctx, &group, query); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListActive returns all active groups.
func (r *LmsGroupRepository) ListActive(ctx context.Context) ([]models.LmsGroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM lms_groups WHERE active = true ORDER BY name`, lmsGroupColumns)
	var groups []models.LmsGroup
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list active lms groups: %w", err)
	}
	return groups, nil
}

// SetMemberCount stores the cached remote member count and the check time.
func (r *LmsGroupRepository) SetMemberCount(ctx context.Context, id string, count int, checkedAt time.Time) error {
	const query = `UPDATE lms_groups SET member_count = $2, checked_at = $3, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, count, checkedAt.UTC()); err != nil {
		return fmt.Errorf("set group member count: %w", err)
	}
	return nil
}

// SoftDelete clears the active flag, stamps the deletion and records why.
func (r *LmsGroupRepository) SoftDelete(ctx context.Context, id string, reason models.DeleteReason) error {
	const query = `UPDATE lms_groups SET active = false, deleted_reason = $2, deleted_at = $3, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("soft-delete lms group: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
