package models

import "time"

// PartnerTier is the program level assigned to a partner company.
type PartnerTier string

// Known partner tiers.
const (
	TierPremier    PartnerTier = "Premier"
	TierCertified  PartnerTier = "Certified"
	TierRegistered PartnerTier = "Registered"
	TierAggregator PartnerTier = "Aggregator"
)

// TierNPCURequirement maps each tier to the certification units a partner
// must accumulate to stay compliant. Unknown tiers are absent so lookups
// fail validation instead of silently defaulting.
var TierNPCURequirement = map[PartnerTier]int{
	TierPremier:    40,
	TierCertified:  20,
	TierRegistered: 5,
	TierAggregator: 0,
}

// KnownTier reports whether the raw tier string maps to a closed enum value.
func KnownTier(raw string) (PartnerTier, bool) {
	tier := PartnerTier(raw)
	_, ok := TierNPCURequirement[tier]
	return tier, ok
}

// Partner mirrors a PRM account locally. ExternalID is the PRM identifier
// and is unique among active rows; CrossRefID is the CRM identifier shared
// with the upstream, sometimes truncated to 15 characters.
type Partner struct {
	ID               string       `db:"id" json:"id"`
	Name             string       `db:"name" json:"name"`
	Tier             PartnerTier  `db:"tier" json:"tier"`
	Status           string       `db:"status" json:"status"`
	Region           string       `db:"region" json:"region"`
	OwnerName        string       `db:"owner_name" json:"owner_name"`
	OwnerEmail       string       `db:"owner_email" json:"owner_email"`
	ExternalID       *string      `db:"external_id" json:"external_id,omitempty"`
	ExternalParentID *string      `db:"external_parent_id" json:"external_parent_id,omitempty"`
	CrossRefID       *string      `db:"cross_ref_id" json:"cross_ref_id,omitempty"`
	Active           bool         `db:"active" json:"active"`
	DeletedReason    DeleteReason `db:"deleted_reason" json:"deleted_reason,omitempty"`
	DeletedAt        *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// PartnerFilter encapsulates allowed search parameters for listing partners.
type PartnerFilter struct {
	Search   string
	Tier     PartnerTier
	Active   *bool
	Page     int
	PageSize int
}
