package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/channelworks/partner-sync-api/internal/models"
)

// EnrollmentRepository handles persistence of mirrored course enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// UpsertByTranscript writes an enrollment keyed by the remote transcript id,
// recomputing status and progress on every sync.
func (r *EnrollmentRepository) UpsertByTranscript(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.UpdatedAt = now
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}

	const query = `INSERT INTO enrollments (id, transcript_id, user_id, course_id, status, percent,
		score, enrolled_at, completed_at, expires_at, created_at, updated_at)
		VALUES (:id, :transcript_id, :user_id, :course_id, :status, :percent,
		:score, :enrolled_at, :completed_at, :expires_at, :created_at, :updated_at)
		ON CONFLICT (transcript_id) DO UPDATE SET status = EXCLUDED.status, percent = EXCLUDED.percent,
		score = EXCLUDED.score, enrolled_at = EXCLUDED.enrolled_at, completed_at = EXCLUDED.completed_at,
		expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("upsert enrollment: %w", err)
	}
	return nil
}

// ListByUser returns a learner's enrollments.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	const query = `SELECT id, transcript_id, user_id, course_id, status, percent, score,
		enrolled_at, completed_at, expires_at, created_at, updated_at
		FROM enrollments WHERE user_id = $1 ORDER BY enrolled_at`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, userID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}
