package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/channelworks/partner-sync-api/internal/remote"
)

func TestClassifyAccountReasonOrder(t *testing.T) {
	filter := NewEligibilityFilter(testSyncConfig())

	cases := []struct {
		name    string
		account remote.PRMAccount
		ok      bool
		reason  ExclusionReason
	}{
		{
			name:    "eligible",
			account: remote.PRMAccount{Name: "Acme Networks", Tier: "Premier", Status: "Active"},
			ok:      true,
		},
		{
			name:    "missing name wins over everything",
			account: remote.PRMAccount{Name: "   ", Tier: "Unknown", Status: "Inactive"},
			reason:  ReasonNoName,
		},
		{
			name:    "inactive status checked before tier",
			account: remote.PRMAccount{Name: "Acme", Tier: "Unknown", Status: "Churned"},
			reason:  ReasonInactive,
		},
		{
			name:    "unknown tier",
			account: remote.PRMAccount{Name: "Acme", Tier: "Platinum", Status: "Active"},
			reason:  ReasonInvalidTier,
		},
		{
			name:    "excluded name substring is case insensitive",
			account: remote.PRMAccount{Name: "Acme TEST Account", Tier: "Premier", Status: "Active"},
			reason:  ReasonExcludedName,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := filter.ClassifyAccount(tc.account)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestClassifyContact(t *testing.T) {
	filter := NewEligibilityFilter(testSyncConfig())

	ok, reason := filter.ClassifyContact(remote.PRMContact{Email: "jordan@partnerco.io"})
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = filter.ClassifyContact(remote.PRMContact{Email: "not-an-email"})
	assert.False(t, ok)
	assert.Equal(t, ReasonInvalidEmail, reason)

	ok, reason = filter.ClassifyContact(remote.PRMContact{Email: "jordan@EXAMPLE.com"})
	assert.False(t, ok)
	assert.Equal(t, ReasonExcludedDomain, reason)

	ok, reason = filter.ClassifyContact(remote.PRMContact{Email: "noreply-bot@partnerco.io"})
	assert.False(t, ok)
	assert.Equal(t, ReasonExcludedKeyword, reason)
}

func TestClassifyContactStateAllowList(t *testing.T) {
	cfg := testSyncConfig()
	cfg.AllowedContactStates = []string{"Active"}
	filter := NewEligibilityFilter(cfg)

	ok, _ := filter.ClassifyContact(remote.PRMContact{Email: "a@partnerco.io", Status: "active"})
	assert.True(t, ok)

	ok, reason := filter.ClassifyContact(remote.PRMContact{Email: "a@partnerco.io", Status: "Left Company"})
	assert.False(t, ok)
	assert.Equal(t, ReasonInactiveState, reason)
}
