package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const syncLockKey = "partner-sync:lock"

// LockRepository guards the "one active sync chain" invariant with a
// redis-backed lease so overlapping deployments cannot interleave syncs.
type LockRepository struct {
	client *redis.Client
}

// NewLockRepository constructs the repository.
func NewLockRepository(client *redis.Client) *LockRepository {
	return &LockRepository{client: client}
}

// Acquire takes the sync lock for the given holder. It returns false when
// another holder owns an unexpired lease.
func (r *LockRepository) Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, syncLockKey, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sync lock: %w", err)
	}
	return ok, nil
}

// Release frees the lock if the holder still owns it.
func (r *LockRepository) Release(ctx context.Context, holder string) error {
	current, err := r.client.Get(ctx, syncLockKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("read sync lock: %w", err)
	}
	if current != holder {
		return nil
	}
	if err := r.client.Del(ctx, syncLockKey).Err(); err != nil {
		return fmt.Errorf("release sync lock: %w", err)
	}
	return nil
}
