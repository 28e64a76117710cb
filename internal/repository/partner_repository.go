package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/channelworks/partner-sync-api/internal/models"
)

const partnerColumns = `id, name, tier, status, region, owner_name, owner_email,
	external_id, external_parent_id, cross_ref_id, active, deleted_reason, deleted_at, created_at, updated_at`

// PartnerRepository handles persistence of mirrored partner accounts.
type PartnerRepository struct {
	db *sqlx.DB
}

// NewPartnerRepository constructs the repository.
func NewPartnerRepository(db *sqlx.DB) *PartnerRepository {
	return &PartnerRepository{db: db}
}

// Create inserts a new partner row.
func (r *PartnerRepository) Create(ctx context.Context, partner *models.Partner) error {
	if partner.ID == "" {
		partner.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	partner.CreatedAt = now
	partner.UpdatedAt = now

	const query = `INSERT INTO partners (id, name, tier, status, region, owner_name, owner_email,
		external_id, external_parent_id, cross_ref_id, active, deleted_reason, deleted_at, created_at, updated_at)
		VALUES (:id, :name, :tier, :status, :region, :owner_name, :owner_email,
		:external_id, :external_parent_id, :cross_ref_id, :active, :deleted_reason, :deleted_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, partner); err != nil {
		return fmt.Errorf("create partner: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of a partner row.
func (r *PartnerRepository) Update(ctx context.Context, partner *models.Partner) error {
	partner.UpdatedAt = time.Now().UTC()

	const query = `UPDATE partners SET name = :name, tier = :tier, status = :status, region = :region,
		owner_name = :owner_name, owner_email = :owner_email, external_id = :external_id,
		external_parent_id = :external_parent_id, cross_ref_id = :cross_ref_id, active = :active,
		deleted_reason = :deleted_reason, deleted_at = :deleted_at, updated_at = :updated_at
		WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, partner); err != nil {
		return fmt.Errorf("update partner: %w", err)
	}
	return nil
}

// FindByID returns a partner by its local id.
func (r *PartnerRepository) FindByID(ctx context.Context, id string) (*models.Partner, error) {
	query := fmt.Sprintf(`SELECT %s FROM partners WHERE id = $1`, partnerColumns)
	var partner models.Partner
	if err := r.db.GetContext(ctx, &partner, query, id); err != nil {
		return nil, err
	}
	return &partner, nil
}

// FindByExternalID returns the partner carrying the given PRM id.
func (r *PartnerRepository) FindByExternalID(ctx context.Context, externalID string) (*models.Partner, error) {
	query := fmt.Sprintf(`SELECT %s FROM partners WHERE external_id = $1 ORDER BY created_at LIMIT 1`, partnerColumns)
	var partner models.Partner
	if err := r.db.GetContext(ctx, &partner, query, externalID); err != nil {
		return nil, err
	}
	return &partner, nil
}

// FindByCrossRef returns the partner with an exact cross-reference id match.
func (r *PartnerRepository) FindByCrossRef(ctx context.Context, crossRef string) (*models.Partner, error) {
	query := fmt.Sprintf(`SELECT %s FROM partners WHERE cross_ref_id = $1 ORDER BY created_at LIMIT 1`, partnerColumns)
	var partner models.Partner
	if err := r.db.GetContext(ctx, &partner, query, crossRef); err != nil {
		return nil, err
	}
	return &partner, nil
}

// ListByCrossRefPrefix returns partners whose cross-reference id shares the
// given 15-character prefix. Callers apply the 15/18 length rule.
func (r *PartnerRepository) ListByCrossRefPrefix(ctx context.Context, prefix string) ([]models.Partner, error) {
	query := fmt.Sprintf(`SELECT %s FROM partners WHERE cross_ref_id IS NOT NULL AND left(cross_ref_id, 15) = $1 ORDER BY created_at`, partnerColumns)
	var partners []models.Partner
	if err := r.db.SelectContext(ctx, &partners, query, prefix); err != nil {
		return nil, fmt.Errorf("list partners by cross-ref prefix: %w", err)
	}
	return partners, nil
}

// FindByNameFold returns the partner matching the name case-insensitively.
func (r *PartnerRepository) FindByNameFold(ctx context.Context, name string) (*models.Partner, error) {
	query := fmt.Sprintf(`SELECT %s FROM partners WHERE lower(name) = lower($1) ORDER BY created_at LIMIT 1`, partnerColumns)
	var partner models.Partner
	if err := r.db.GetContext(ctx, &partner, query, name); err != nil {
		return nil, err
	}
	return &partner, nil
}

// ListActiveWithExternalID returns every active partner that carries a PRM
// id, the candidate set for the full-sync deactivation pass.
func (r *PartnerRepository) ListActiveWithExternalID(ctx context.Context) ([]models.Partner, error) {
	query := fmt.Sprintf(`SELECT %s FROM partners WHERE active = true AND external_id IS NOT NULL ORDER BY created_at`, partnerColumns)
	var partners []models.Partner
	if err := r.db.SelectContext(ctx, &partners, query); err != nil {
		return nil, fmt.Errorf("list active partners: %w", err)
	}
	return partners, nil
}

// SetExternalID links a locally-existing row to its PRM id so later passes
// can see it.
func (r *PartnerRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	const query = `UPDATE partners SET external_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, externalID, time.Now().UTC()); err != nil {
		return fmt.Errorf("link partner external id: %w", err)
	}
	return nil
}

// SoftDelete clears the active flag, stamps the deletion and records why.
func (r *PartnerRepository) SoftDelete(ctx context.Context, id string, reason models.DeleteReason) error {
	const query = `UPDATE partners SET active = false, deleted_reason = $2, deleted_at = $3, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("soft-delete partner: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountActive returns the number of active partners, used by the status
// preview endpoint.
func (r *PartnerRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM partners WHERE active = true`); err != nil {
		return 0, fmt.Errorf("count active partners: %w", err)
	}
	return count, nil
}
