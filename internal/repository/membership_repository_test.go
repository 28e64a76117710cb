package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceGroupMembersKeepsExistingAddedAt(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	next := []string{"u-old", "u-new"}
	mock.ExpectExec("DELETE FROM group_memberships WHERE group_id").
		WithArgs("g-1", pq.Array(next)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The conflict clause leaves pre-existing rows untouched, so the kept
	// member reports zero affected rows and only u-new counts as added.
	insertPattern := regexp.QuoteMeta("ON CONFLICT (group_id, user_id) DO NOTHING")
	mock.ExpectExec(insertPattern).
		WithArgs("g-1", "u-old", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertPattern).
		WithArgs("g-1", "u-new", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	added, removed, err := repo.ReplaceGroupMembers(context.Background(), "g-1", next)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveMembersEmptyListIsNoop(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	require.NoError(t, repo.RemoveMembers(context.Background(), "g-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
