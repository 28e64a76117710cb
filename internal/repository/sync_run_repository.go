package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/channelworks/partner-sync-api/internal/models"
)

const syncRunColumns = `id, group_id, type, mode, status, processed, created, updated,
	deactivated, reactivated, failed, detail, error, started_at, completed_at`

// SyncRunRepository handles the audit table. One row per invocation; rows
// are only ever updated to reach a terminal status.
type SyncRunRepository struct {
	db *sqlx.DB
}

// NewSyncRunRepository constructs the repository.
func NewSyncRunRepository(db *sqlx.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Create inserts a running audit row and stamps the start time.
func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.SyncRunStatusRunning
	}
	run.StartedAt = time.Now().UTC()

	const query = `INSERT INTO sync_runs (id, group_id, type, mode, status, processed, created, updated,
		deactivated, reactivated, failed, detail, error, started_at, completed_at)
		VALUES (:id, :group_id, :type, :mode, :status, :processed, :created, :updated,
		:deactivated, :reactivated, :failed, :detail, :error, :started_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	return nil
}

// Complete marks the run completed with its final counts and detail blob.
func (r *SyncRunRepository) Complete(ctx context.Context, id string, stats models.SyncStats, detail []byte) error {
	const query = `UPDATE sync_runs SET status = $2, processed = $3, created = $4, updated = $5,
		deactivated = $6, reactivated = $7, failed = $8, detail = $9, completed_at = $10
		WHERE id = $1 AND status = $11`
	_, err := r.db.ExecContext(ctx, query, id, models.SyncRunStatusCompleted,
		stats.Processed(), stats.Created, stats.Updated, stats.Deactivated, stats.Reactivated,
		stats.Failed, detail, time.Now().UTC(), models.SyncRunStatusRunning)
	if err != nil {
		return fmt.Errorf("complete sync run: %w", err)
	}
	return nil
}

// Fail marks the run failed with an error message.
func (r *SyncRunRepository) Fail(ctx context.Context, id string, errMsg string) error {
	const query = `UPDATE sync_runs SET status = $2, error = $3, completed_at = $4
		WHERE id = $1 AND status = $5`
	_, err := r.db.ExecContext(ctx, query, id, models.SyncRunStatusFailed, errMsg,
		time.Now().UTC(), models.SyncRunStatusRunning)
	if err != nil {
		return fmt.Errorf("fail sync run: %w", err)
	}
	return nil
}

// LastCompletedAt returns the incremental cursor for a sync type: the
// completion time of the most recent completed run. A nil time means no
// completed run exists and the caller must fall back to full mode.
func (r *SyncRunRepository) LastCompletedAt(ctx context.Context, syncType models.SyncType) (*time.Time, error) {
	const query = `SELECT MAX(completed_at) FROM sync_runs WHERE type = $1 AND status = $2`
	var last sql.NullTime
	if err := r.db.GetContext(ctx, &last, query, syncType, models.SyncRunStatusCompleted); err != nil {
		return nil, fmt.Errorf("last completed sync: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// FindByID returns a single audit row.
func (r *SyncRunRepository) FindByID(ctx context.Context, id string) (*models.SyncRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_runs WHERE id = $1`, syncRunColumns)
	var run models.SyncRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRecent returns the newest audit rows.
func (r *SyncRunRepository) ListRecent(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM sync_runs ORDER BY started_at DESC LIMIT %d`, syncRunColumns, limit)
	var runs []models.SyncRun
	if err := r.db.SelectContext(ctx, &runs, query); err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return runs, nil
}

// LatestPerType returns the most recent run for each sync type.
func (r *SyncRunRepository) LatestPerType(ctx context.Context) ([]models.SyncRun, error) {
	query := fmt.Sprintf(`SELECT DISTINCT ON (type) %s FROM sync_runs ORDER BY type, started_at DESC`, syncRunColumns)
	var runs []models.SyncRun
	if err := r.db.SelectContext(ctx, &runs, query); err != nil {
		return nil, fmt.Errorf("latest sync runs: %w", err)
	}
	return runs, nil
}
