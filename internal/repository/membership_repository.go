package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/channelworks/partner-sync-api/internal/models"
)

// MembershipRepository handles the LMS group/user join table.
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository constructs the repository.
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// ListByGroup returns a group's memberships.
func (r *MembershipRepository) ListByGroup(ctx context.Context, groupID string) ([]models.GroupMembership, error) {
	const query = `SELECT group_id, user_id, added_at FROM group_memberships WHERE group_id = $1 ORDER BY user_id`
	var memberships []models.GroupMembership
	if err := r.db.SelectContext(ctx, &memberships, query, groupID); err != nil {
		return nil, fmt.Errorf("list group memberships: %w", err)
	}
	return memberships, nil
}

// ListUserIDsByGroup returns the learner ids belonging to a group.
func (r *MembershipRepository) ListUserIDsByGroup(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM group_memberships WHERE group_id = $1 ORDER BY user_id`, groupID); err != nil {
		return nil, fmt.Errorf("list group member ids: %w", err)
	}
	return ids, nil
}

// ReplaceGroupMembers reconciles a group's membership against the remote
// list. Rows for departed users are removed and rows for new users inserted
// with the refresh time; existing rows keep their original added_at.
func (r *MembershipRepository) ReplaceGroupMembers(ctx context.Context, groupID string, userIDs []string) (added int, removed int, err error) {
	now := time.Now().UTC()

	const deleteQuery = `DELETE FROM group_memberships WHERE group_id = $1 AND user_id <> ALL($2)`
	result, err := r.db.ExecContext(ctx, deleteQuery, groupID, pq.Array(userIDs))
	if err != nil {
		return 0, 0, fmt.Errorf("remove departed members: %w", err)
	}
	if affected, raErr := result.RowsAffected(); raErr == nil {
		removed = int(affected)
	}

	for _, userID := range userIDs {
		const insertQuery = `INSERT INTO group_memberships (group_id, user_id, added_at)
			VALUES ($1, $2, $3) ON CONFLICT (group_id, user_id) DO NOTHING`
		result, err := r.db.ExecContext(ctx, insertQuery, groupID, userID, now)
		if err != nil {
			return added, removed, fmt.Errorf("add member %s: %w", userID, err)
		}
		if affected, raErr := result.RowsAffected(); raErr == nil && affected > 0 {
			added++
		}
	}

	return added, removed, nil
}

// RemoveMembers deletes membership rows for the given users in one group.
func (r *MembershipRepository) RemoveMembers(ctx context.Context, groupID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	const query = `DELETE FROM group_memberships WHERE group_id = $1 AND user_id = ANY($2)`
	if _, err := r.db.ExecContext(ctx, query, groupID, pq.Array(userIDs)); err != nil {
		return fmt.Errorf("remove members: %w", err)
	}
	return nil
}

// ListGroupIDsForUser returns the groups a learner belongs to.
func (r *MembershipRepository) ListGroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT group_id FROM group_memberships WHERE user_id = $1 ORDER BY group_id`, userID); err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	return ids, nil
}
