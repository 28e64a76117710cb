package dto

// TriggerSyncRequest starts a sync chain. An empty Types list runs the full
// chain; Mode defaults to incremental.
type TriggerSyncRequest struct {
	Types []string `json:"types" validate:"omitempty,dive,oneof=partners contacts lms_users lms_groups memberships enrollments"`
	Mode  string   `json:"mode" validate:"omitempty,oneof=full incremental"`
}

// TriggerSyncResponse acknowledges an accepted sync chain.
type TriggerSyncResponse struct {
	JobID string   `json:"job_id"`
	Types []string `json:"types,omitempty"`
	Mode  string   `json:"mode"`
}

// OffboardBatchRequest offboards a set of contacts or partners in one call.
type OffboardBatchRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}
