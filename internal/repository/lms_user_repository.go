package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/channelworks/partner-sync-api/internal/models"
)

const lmsUserColumns = `id, email, first_name, last_name, status,
	last_active_at, deactivated_at, enrollment_synced_at, created_at, updated_at`

// LmsUserRepository handles persistence of mirrored LMS learner accounts.
type LmsUserRepository struct {
	db *sqlx.DB
}

// NewLmsUserRepository constructs the repository.
func NewLmsUserRepository(db *sqlx.DB) *LmsUserRepository {
	return &LmsUserRepository{db: db}
}

// Upsert writes a learner row keyed by the remote LMS id. The per-user
// enrollment cursor is never touched here; only the enrollment sync advances
// it.
func (r *LmsUserRepository) Upsert(ctx context.Context, user *models.LmsUser) error {
	now := time.Now().UTC()
	user.UpdatedAt = now
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	const query = `INSERT INTO lms_users (id, email, first_name, last_name, status,
		last_active_at, deactivated_at, created_at, updated_at)
		VALUES (:id, :email, :first_name, :last_name, :status, :last_active_at, :deactivated_at, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name, status = EXCLUDED.status, last_active_at = EXCLUDED.last_active_at,
		deactivated_at = EXCLUDED.deactivated_at, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("upsert lms user: %w", err)
	}
	return nil
}

// FindByID returns a learner by the remote LMS id.
func (r *LmsUserRepository) FindByID(ctx context.Context, id string) (*models.LmsUser, error) {
	query := fmt.Sprintf(`SELECT %s FROM lms_users WHERE id = $1`, lmsUserColumns)
	var user models.LmsUser
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmailFold returns the learner matching the email case-insensitively.
func (r *LmsUserRepository) FindByEmailFold(ctx context.Context, email string) (*models.LmsUser, error) {
	query := fmt.Sprintf(`SELECT %s FROM lms_users WHERE lower(email) = lower($1) ORDER BY created_at LIMIT 1`, lmsUserColumns)
	var user models.LmsUser
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListKnownIDs returns every locally-known learner id not already marked
// deleted, the baseline for full-fetch deletion inference.
func (r *LmsUserRepository) ListKnownIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM lms_users WHERE status <> $1 ORDER BY id`, models.LmsUserStatusDeleted); err != nil {
		return nil, fmt.Errorf("list lms user ids: %w", err)
	}
	return ids, nil
}

// MarkDeleted marks the given learners as deleted. The remote feed never
// reports deletions explicitly.
func (r *LmsUserRepository) MarkDeleted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE lms_users SET status = $1, updated_at = $2 WHERE id = ANY($3)`
	if _, err := r.db.ExecContext(ctx, query, models.LmsUserStatusDeleted, time.Now().UTC(), pq.Array(ids)); err != nil {
		return fmt.Errorf("mark lms users deleted: %w", err)
	}
	return nil
}

// SetEnrollmentSynced advances a learner's per-entity enrollment cursor.
func (r *LmsUserRepository) SetEnrollmentSynced(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE lms_users SET enrollment_synced_at = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at.UTC()); err != nil {
		return fmt.Errorf("set enrollment synced: %w", err)
	}
	return nil
}

// ListForEnrollmentSync returns active learners qualifying for an enrollment
// resync: never synced, active since their last sync, added to a
// partner-linked group since their last sync, or stale beyond the cutoff.
func (r *LmsUserRepository) ListForEnrollmentSync(ctx context.Context, staleBefore time.Time) ([]models.LmsUser, error) {
	const query = `SELECT u.id, u.email, u.first_name, u.last_name, u.status,
		u.last_active_at, u.deactivated_at, u.enrollment_synced_at, u.created_at, u.updated_at
		FROM lms_users u
		WHERE u.status = $1 AND (
			u.enrollment_synced_at IS NULL
			OR u.last_active_at > u.enrollment_synced_at
			OR u.enrollment_synced_at < $2
			OR EXISTS (
				SELECT 1 FROM group_memberships m
				JOIN lms_groups g ON g.id = m.group_id
				WHERE m.user_id = u.id AND g.partner_id IS NOT NULL AND m.added_at > u.enrollment_synced_at
			)
		)
		ORDER BY u.id`
	var users []models.LmsUser
	if err := r.db.SelectContext(ctx, &users, query, models.LmsUserStatusActive, staleBefore.UTC()); err != nil {
		return nil, fmt.Errorf("list users for enrollment sync: %w", err)
	}
	return users, nil
}

// ListActive returns all active learners, used for full-mode enrollment sync.
func (r *LmsUserRepository) ListActive(ctx context.Context) ([]models.LmsUser, error) {
	query := fmt.Sprintf(`SELECT %s FROM lms_users WHERE status = $1 ORDER BY id`, lmsUserColumns)
	var users []models.LmsUser
	if err := r.db.SelectContext(ctx, &users, query, models.LmsUserStatusActive); err != nil {
		return nil, fmt.Errorf("list active lms users: %w", err)
	}
	return users, nil
}
