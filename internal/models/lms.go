package models

import "time"

// LmsUserStatus tracks a mirrored learner's remote lifecycle.
type LmsUserStatus string

// The deleted status is inferred: the LMS never reports deletions, so any
// locally-known id absent from a full fetch is marked deleted.
const (
	LmsUserStatusActive      LmsUserStatus = "active"
	LmsUserStatusDeactivated LmsUserStatus = "deactivated"
	LmsUserStatusDeleted     LmsUserStatus = "deleted"
)

// LmsUser mirrors a remote learner account. The LMS id is the primary key.
type LmsUser struct {
	ID                 string        `db:"id" json:"id"`
	Email              string        `db:"email" json:"email"`
	FirstName          string        `db:"first_name" json:"first_name"`
	LastName           string        `db:"last_name" json:"last_name"`
	Status             LmsUserStatus `db:"status" json:"status"`
	LastActiveAt       *time.Time    `db:"last_active_at" json:"last_active_at,omitempty"`
	DeactivatedAt      *time.Time    `db:"deactivated_at" json:"deactivated_at,omitempty"`
	EnrollmentSyncedAt *time.Time    `db:"enrollment_synced_at" json:"enrollment_synced_at,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// LmsGroup mirrors a remote cohort, optionally bound 1:1 to a partner.
type LmsGroup struct {
	ID            string       `db:"id" json:"id"`
	Name          string       `db:"name" json:"name"`
	PartnerID     *string      `db:"partner_id" json:"partner_id,omitempty"`
	MemberCount   int          `db:"member_count" json:"member_count"`
	AllPartners   bool         `db:"all_partners" json:"all_partners"`
	Active        bool         `db:"active" json:"active"`
	DeletedReason DeleteReason `db:"deleted_reason" json:"deleted_reason,omitempty"`
	DeletedAt     *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
	CheckedAt     *time.Time   `db:"checked_at" json:"checked_at,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// GroupMembership joins an LMS group and user. AddedAt reflects when the
// user first appeared in the group and survives membership refreshes.
type GroupMembership struct {
	GroupID string    `db:"group_id" json:"group_id"`
	UserID  string    `db:"user_id" json:"user_id"`
	AddedAt time.Time `db:"added_at" json:"added_at"`
}

// Course mirrors an LMS catalog entry referenced by enrollments.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Code      string    `db:"code" json:"code"`
	NPCUValue int       `db:"npcu_value" json:"npcu_value"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
