package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelworks/partner-sync-api/internal/models"
)

type partnerMatchStoreStub struct {
	byExternal map[string]models.Partner
	byCrossRef map[string]models.Partner
	byName     map[string]models.Partner
	calls      []string
}

func (s *partnerMatchStoreStub) FindByExternalID(ctx context.Context, externalID string) (*models.Partner, error) {
	s.calls = append(s.calls, "external")
	if p, ok := s.byExternal[externalID]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (s *partnerMatchStoreStub) FindByCrossRef(ctx context.Context, crossRef string) (*models.Partner, error) {
	s.calls = append(s.calls, "crossref")
	if p, ok := s.byCrossRef[crossRef]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (s *partnerMatchStoreStub) ListByCrossRefPrefix(ctx context.Context, prefix string) ([]models.Partner, error) {
	s.calls = append(s.calls, "prefix")
	var matches []models.Partner
	for _, p := range s.byCrossRef {
		if p.CrossRefID != nil && strings.HasPrefix(*p.CrossRefID, prefix) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func (s *partnerMatchStoreStub) FindByNameFold(ctx context.Context, name string) (*models.Partner, error) {
	s.calls = append(s.calls, "name")
	if p, ok := s.byName[strings.ToLower(name)]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func TestPartnerMatcherPriority(t *testing.T) {
	store := &partnerMatchStoreStub{
		byExternal: map[string]models.Partner{"ext-1": {ID: "p-external"}},
		byCrossRef: map[string]models.Partner{"001A000001abcDE": {ID: "p-crossref"}},
		byName:     map[string]models.Partner{"acme": {ID: "p-name"}},
	}
	matcher := NewPartnerMatcher(store)

	// External id wins even when later rules would also match.
	match, err := matcher.Match(context.Background(), "ext-1", "001A000001abcDE", "Acme")
	require.NoError(t, err)
	assert.Equal(t, "p-external", match.ID)
	assert.Equal(t, []string{"external"}, store.calls)

	store.calls = nil
	match, err = matcher.Match(context.Background(), "ext-missing", "001A000001abcDE", "Acme")
	require.NoError(t, err)
	assert.Equal(t, "p-crossref", match.ID)

	store.calls = nil
	match, err = matcher.Match(context.Background(), "", "", "ACME")
	require.NoError(t, err)
	assert.Equal(t, "p-name", match.ID)
	assert.Equal(t, []string{"name"}, store.calls)
}

func TestPartnerMatcherPrefixEquivalence(t *testing.T) {
	long := "001A000001abcDEFGH"
	store := &partnerMatchStoreStub{
		byCrossRef: map[string]models.Partner{long: {ID: "p-long", CrossRefID: &long}},
	}
	matcher := NewPartnerMatcher(store)

	// The stored 18-char id matches a remote 15-char prefix.
	match, err := matcher.Match(context.Background(), "", long[:15], "")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "p-long", match.ID)
}

func TestPartnerMatcherNoMatch(t *testing.T) {
	matcher := NewPartnerMatcher(&partnerMatchStoreStub{})
	match, err := matcher.Match(context.Background(), "ext", "001A000001abcDE", "Nobody")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCrossRefEquivalent(t *testing.T) {
	long := "001A000001abcDEFGH"
	short := long[:15]

	assert.True(t, crossRefEquivalent(short, long))
	assert.True(t, crossRefEquivalent(long, short))
	// Exact-equality comparisons belong to the previous rule.
	assert.False(t, crossRefEquivalent(long, long))
	assert.False(t, crossRefEquivalent(short, short))
	// Only the 15/18 pairing counts.
	assert.False(t, crossRefEquivalent(short[:14], long))
	assert.False(t, crossRefEquivalent(short, long+"X"))
	// Differing prefixes never match.
	assert.False(t, crossRefEquivalent("001A000001abcDX", long))
}
