package models

import "time"

// EnrollmentStatus represents progress through a course.
type EnrollmentStatus string

// Possible enrollment statuses, recomputed from the remote progress
// indicator on every sync.
const (
	EnrollmentStatusEnrolled   EnrollmentStatus = "enrolled"
	EnrollmentStatusInProgress EnrollmentStatus = "in_progress"
	EnrollmentStatusCompleted  EnrollmentStatus = "completed"
)

// StatusForProgress derives the enrollment status from a completion
// percentage as reported by the LMS transcript.
func StatusForProgress(percent float64, completedAt *time.Time) EnrollmentStatus {
	switch {
	case completedAt != nil || percent >= 100:
		return EnrollmentStatusCompleted
	case percent > 0:
		return EnrollmentStatusInProgress
	default:
		return EnrollmentStatusEnrolled
	}
}

// Enrollment joins an LMS user and a course, upserted by the remote
// transcript id.
type Enrollment struct {
	ID           string           `db:"id" json:"id"`
	TranscriptID string           `db:"transcript_id" json:"transcript_id"`
	UserID       string           `db:"user_id" json:"user_id"`
	CourseID     string           `db:"course_id" json:"course_id"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	Percent      float64          `db:"percent" json:"percent"`
	Score        *float64         `db:"score" json:"score,omitempty"`
	EnrolledAt   *time.Time       `db:"enrolled_at" json:"enrolled_at,omitempty"`
	CompletedAt  *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	ExpiresAt    *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}
