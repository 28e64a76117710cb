package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/channelworks/partner-sync-api/internal/models"
)

// CourseRepository handles persistence of mirrored LMS catalog entries.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Upsert writes a course keyed by the remote LMS id.
func (r *CourseRepository) Upsert(ctx context.Context, course *models.Course) error {
	now := time.Now().UTC()
	course.UpdatedAt = now
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}

	const query = `INSERT INTO courses (id, name, code, npcu_value, active, created_at, updated_at)
		VALUES (:id, :name, :code, :npcu_value, :active, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code,
		npcu_value = EXCLUDED.npcu_value, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}
	return nil
}

// ListIDs returns the ids of every mirrored course.
func (r *CourseRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM courses ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list course ids: %w", err)
	}
	return ids, nil
}
