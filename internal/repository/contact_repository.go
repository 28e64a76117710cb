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

const contactColumns = `id, partner_id, email, first_name, last_name, title,
	external_id, lms_user_id, active, deleted_reason, deleted_at, created_at, updated_at`

// ContactRepository handles persistence of mirrored contacts.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs the repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create inserts a new contact row.
func (r *ContactRepository) Create(ctx context.Context, contact *models.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	const query = `INSERT INTO contacts (id, partner_id, email, first_name, last_name, title,
		external_id, lms_user_id, active, deleted_reason, deleted_at, created_at, updated_at)
		VALUES (:id, :partner_id, :email, :first_name, :last_name, :title,
		:external_id, :lms_user_id, :active, :deleted_reason, :deleted_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, contact); err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of a contact row. The LMS user link
// is written as-is, so callers must carry it over from the matched row.
func (r *ContactRepository) Update(ctx context.Context, contact *models.Contact) error {
	contact.UpdatedAt = time.Now().UTC()

	const query = `UPDATE contacts SET partner_id = :partner_id, email = :email, first_name = :first_name,
		last_name = :last_name, title = :title, external_id = :external_id, lms_user_id = :lms_user_id,
		active = :active, deleted_reason = :deleted_reason, deleted_at = :deleted_at, updated_at = :updated_at
		WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, contact); err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

// FindByID returns a contact by its local id.
func (r *ContactRepository) FindByID(ctx context.Context, id string) (*models.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE id = $1`, contactColumns)
	var contact models.Contact
	if err := r.db.GetContext(ctx, &contact, query, id); err != nil {
		return nil, err
	}
	return &contact, nil
}

// FindByExternalID returns the contact carrying the given PRM id.
func (r *ContactRepository) FindByExternalID(ctx context.Context, externalID string) (*models.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE external_id = $1 ORDER BY created_at LIMIT 1`, contactColumns)
	var contact models.Contact
	if err := r.db.GetContext(ctx, &contact, query, externalID); err != nil {
		return nil, err
	}
	return &contact, nil
}

// FindByEmailFold returns the contact matching the email case-insensitively.
func (r *ContactRepository) FindByEmailFold(ctx context.Context, email string) (*models.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE lower(email) = lower($1) ORDER BY created_at LIMIT 1`, contactColumns)
	var contact models.Contact
	if err := r.db.GetContext(ctx, &contact, query, email); err != nil {
		return nil, err
	}
	return &contact, nil
}

// ListActiveWithExternalID returns every active contact carrying a PRM id.
func (r *ContactRepository) ListActiveWithExternalID(ctx context.Context) ([]models.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE active = true AND external_id IS NOT NULL ORDER BY created_at`, contactColumns)
	var contacts []models.Contact
	if err := r.db.SelectContext(ctx, &contacts, query); err != nil {
		return nil, fmt.Errorf("list active contacts: %w", err)
	}
	return contacts, nil
}

// ListActiveByPartner returns a partner's active contacts.
func (r *ContactRepository) ListActiveByPartner(ctx context.Context, partnerID string) ([]models.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE partner_id = $1 AND active = true ORDER BY created_at`, contactColumns)
	var contacts []models.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, partnerID); err != nil {
		return nil, fmt.Errorf("list partner contacts: %w", err)
	}
	return contacts, nil
}

// SetExternalID links a locally-existing row to its PRM id.
func (r *ContactRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	const query = `UPDATE contacts SET external_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, externalID, time.Now().UTC()); err != nil {
		return fmt.Errorf("link contact external id: %w", err)
	}
	return nil
}

// SetLmsUserID records the learner account linked to a contact.
func (r *ContactRepository) SetLmsUserID(ctx context.Context, id, lmsUserID string) error {
	const query = `UPDATE contacts SET lms_user_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, lmsUserID, time.Now().UTC()); err != nil {
		return fmt.Errorf("link contact lms user: %w", err)
	}
	return nil
}

// SoftDelete clears the active flag, stamps the deletion and records why.
func (r *ContactRepository) SoftDelete(ctx context.Context, id string, reason models.DeleteReason) error {
	const query = `UPDATE contacts SET active = false, deleted_reason = $2, deleted_at = $3, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("soft-delete contact: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
