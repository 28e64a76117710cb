package service

import (
	"net/mail"
	"strings"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/remote"
	"github.com/channelworks/partner-sync-api/pkg/config"
)

// ExclusionReason tags why a fetched record was filtered out. Exactly one
// reason applies per rejected record: rules are evaluated in a fixed order
// and the first failing rule wins.
type ExclusionReason string

const (
	ReasonNoName       ExclusionReason = "noName"
	ReasonInactive     ExclusionReason = "inactive"
	ReasonInvalidTier  ExclusionReason = "invalidTier"
	ReasonExcludedName ExclusionReason = "excludedName"

	ReasonInvalidEmail    ExclusionReason = "invalidEmail"
	ReasonInactiveState   ExclusionReason = "inactiveState"
	ReasonExcludedDomain  ExclusionReason = "excludedDomain"
	ReasonExcludedKeyword ExclusionReason = "excludedKeyword"
)

// EligibilityFilter classifies fetched remote records against the business
// rules. It is pure: no I/O, no mutation.
type EligibilityFilter struct {
	allowedTiers     map[string]struct{}
	excludedStatuses map[string]struct{}
	excludedNames    []string

	allowedStates    map[string]struct{}
	excludedDomains  map[string]struct{}
	excludedKeywords []string
}

// NewEligibilityFilter builds a filter from the sync configuration.
func NewEligibilityFilter(cfg config.SyncConfig) *EligibilityFilter {
	f := &EligibilityFilter{
		allowedTiers:     foldSet(cfg.AllowedTiers),
		excludedStatuses: foldSet(cfg.ExcludedStatuses),
		excludedNames:    foldSlice(cfg.ExcludedNameParts),
		allowedStates:    foldSet(cfg.AllowedContactStates),
		excludedDomains:  foldSet(cfg.ExcludedEmailDomains),
		excludedKeywords: foldSlice(cfg.ExcludedEmailKeywords),
	}
	if len(f.allowedTiers) == 0 {
		for tier := range models.TierNPCURequirement {
			f.allowedTiers[strings.ToLower(string(tier))] = struct{}{}
		}
	}
	return f
}

// ClassifyAccount reports whether a PRM account is eligible and, when it is
// not, the single reason it was rejected.
func (f *EligibilityFilter) ClassifyAccount(account remote.PRMAccount) (bool, ExclusionReason) {
	if strings.TrimSpace(account.Name) == "" {
		return false, ReasonNoName
	}
	if _, excluded := f.excludedStatuses[strings.ToLower(account.Status)]; excluded {
		return false, ReasonInactive
	}
	if _, allowed := f.allowedTiers[strings.ToLower(account.Tier)]; !allowed {
		return false, ReasonInvalidTier
	}
	lowered := strings.ToLower(account.Name)
	for _, part := range f.excludedNames {
		if strings.Contains(lowered, part) {
			return false, ReasonExcludedName
		}
	}
	return true, ""
}

// ClassifyContact reports whether a PRM contact is eligible.
func (f *EligibilityFilter) ClassifyContact(contact remote.PRMContact) (bool, ExclusionReason) {
	if !validEmail(contact.Email) {
		return false, ReasonInvalidEmail
	}
	if len(f.allowedStates) > 0 {
		if _, allowed := f.allowedStates[strings.ToLower(contact.Status)]; !allowed {
			return false, ReasonInactiveState
		}
	}
	return f.classifyAddress(contact.Email)
}

// ClassifyLmsUser reports whether a learner account should be mirrored.
func (f *EligibilityFilter) ClassifyLmsUser(user remote.LMSUser) (bool, ExclusionReason) {
	if !validEmail(user.Email) {
		return false, ReasonInvalidEmail
	}
	return f.classifyAddress(user.Email)
}

func (f *EligibilityFilter) classifyAddress(email string) (bool, ExclusionReason) {
	lowered := strings.ToLower(email)
	at := strings.LastIndex(lowered, "@")
	local, domain := lowered[:at], lowered[at+1:]

	if _, excluded := f.excludedDomains[domain]; excluded {
		return false, ReasonExcludedDomain
	}
	for _, keyword := range f.excludedKeywords {
		if strings.Contains(local, keyword) {
			return false, ReasonExcludedKeyword
		}
	}
	return true, ""
}

func validEmail(email string) bool {
	if email == "" || !strings.Contains(email, "@") {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

func foldSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[strings.ToLower(value)] = struct{}{}
	}
	return set
}

func foldSlice(values []string) []string {
	folded := make([]string, 0, len(values))
	for _, value := range values {
		folded = append(folded, strings.ToLower(value))
	}
	return folded
}
