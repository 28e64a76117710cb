package models

import "time"

// Contact mirrors a PRM contact locally. Email is the unique match key and
// is compared case-insensitively. LmsUserID links the contact to its LMS
// learner account and is preserved across re-syncs.
type Contact struct {
	ID            string       `db:"id" json:"id"`
	PartnerID     *string      `db:"partner_id" json:"partner_id,omitempty"`
	Email         string       `db:"email" json:"email"`
	FirstName     string       `db:"first_name" json:"first_name"`
	LastName      string       `db:"last_name" json:"last_name"`
	Title         string       `db:"title" json:"title"`
	ExternalID    *string      `db:"external_id" json:"external_id,omitempty"`
	LmsUserID     *string      `db:"lms_user_id" json:"lms_user_id,omitempty"`
	Active        bool         `db:"active" json:"active"`
	DeletedReason DeleteReason `db:"deleted_reason" json:"deleted_reason,omitempty"`
	DeletedAt     *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}
