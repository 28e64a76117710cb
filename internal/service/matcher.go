package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/channelworks/partner-sync-api/internal/models"
)

// partnerMatchStore is the slice of the partner repository the matcher needs.
type partnerMatchStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.Partner, error)
	FindByCrossRef(ctx context.Context, crossRef string) (*models.Partner, error)
	ListByCrossRefPrefix(ctx context.Context, prefix string) ([]models.Partner, error)
	FindByNameFold(ctx context.Context, name string) (*models.Partner, error)
}

type contactMatchStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.Contact, error)
	FindByEmailFold(ctx context.Context, email string) (*models.Contact, error)
}

// PartnerMatcher resolves a remote account to an existing local partner row.
// Rules run in priority order and the first hit wins:
//
//  1. external id equality
//  2. cross-reference id exact equality
//  3. cross-reference id prefix equivalence between the 15 and 18 character
//     id forms
//  4. case-insensitive name equality
type PartnerMatcher struct {
	store partnerMatchStore
}

func NewPartnerMatcher(store partnerMatchStore) *PartnerMatcher {
	return &PartnerMatcher{store: store}
}

// Match returns the local partner the remote record corresponds to, or nil
// when no rule produced a hit.
func (m *PartnerMatcher) Match(ctx context.Context, externalID, crossRef, name string) (*models.Partner, error) {
	if externalID != "" {
		partner, err := m.store.FindByExternalID(ctx, externalID)
		if err == nil {
			return partner, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	if crossRef != "" {
		partner, err := m.store.FindByCrossRef(ctx, crossRef)
		if err == nil {
			return partner, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		if len(crossRef) == crossRefShortLen || len(crossRef) == crossRefLongLen {
			candidates, err := m.store.ListByCrossRefPrefix(ctx, crossRef[:crossRefShortLen])
			if err != nil {
				return nil, err
			}
			for i := range candidates {
				stored := candidates[i].CrossRefID
				if stored != nil && crossRefEquivalent(*stored, crossRef) {
					return &candidates[i], nil
				}
			}
		}
	}

	if name != "" {
		partner, err := m.store.FindByNameFold(ctx, name)
		if err == nil {
			return partner, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	return nil, nil
}

const (
	crossRefShortLen = 15
	crossRefLongLen  = 18
)

// crossRefEquivalent reports whether two cross-reference ids denote the same
// record in the short and long id forms. Only the exact 15/18 length pairing
// counts; any other length combination is never equivalent here (exact
// equality is handled by the previous rule).
func crossRefEquivalent(a, b string) bool {
	if len(a) == len(b) {
		return false
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) != crossRefShortLen || len(long) != crossRefLongLen {
		return false
	}
	return long[:crossRefShortLen] == short
}

// ContactMatcher resolves a remote contact to a local row: external id first,
// then the case-insensitive email key.
type ContactMatcher struct {
	store contactMatchStore
}

func NewContactMatcher(store contactMatchStore) *ContactMatcher {
	return &ContactMatcher{store: store}
}

func (m *ContactMatcher) Match(ctx context.Context, externalID, email string) (*models.Contact, error) {
	if externalID != "" {
		contact, err := m.store.FindByExternalID(ctx, externalID)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	if email != "" {
		contact, err := m.store.FindByEmailFold(ctx, email)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	return nil, nil
}
