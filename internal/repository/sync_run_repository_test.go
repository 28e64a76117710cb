package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelworks/partner-sync-api/internal/models"
)

func TestSyncRunRepositoryCreateDefaultsToRunning(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSyncRunRepository(db)

	mock.ExpectExec("INSERT INTO sync_runs").WillReturnResult(sqlmock.NewResult(0, 1))

	run := &models.SyncRun{GroupID: "chain-1", Type: models.SyncTypePartners, Mode: models.SyncModeFull}
	require.NoError(t, repo.Create(context.Background(), run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.SyncRunStatusRunning, run.Status)
	assert.False(t, run.StartedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncRunRepositoryLastCompletedAt(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSyncRunRepository(db)

	completed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT MAX\\(completed_at\\) FROM sync_runs").
		WithArgs(models.SyncTypeContacts, models.SyncRunStatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(completed))

	cursor, err := repo.LastCompletedAt(context.Background(), models.SyncTypeContacts)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, cursor.Equal(completed))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncRunRepositoryLastCompletedAtEmptyTable(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSyncRunRepository(db)

	mock.ExpectQuery("SELECT MAX\\(completed_at\\) FROM sync_runs").
		WithArgs(models.SyncTypeContacts, models.SyncRunStatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	cursor, err := repo.LastCompletedAt(context.Background(), models.SyncTypeContacts)
	require.NoError(t, err)
	assert.Nil(t, cursor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncRunRepositoryCompleteOnlyTouchesRunningRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSyncRunRepository(db)

	stats := models.SyncStats{Fetched: 10, Filtered: 2, Created: 3, Updated: 5, Reactivated: 1}
	mock.ExpectExec("UPDATE sync_runs SET status").
		WithArgs("run-1", models.SyncRunStatusCompleted, 8, 3, 5, 0, 1, 0, []byte(`{}`), sqlmock.AnyArg(), models.SyncRunStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Complete(context.Background(), "run-1", stats, []byte(`{}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncRunRepositoryFail(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSyncRunRepository(db)

	mock.ExpectExec("UPDATE sync_runs SET status").
		WithArgs("run-1", models.SyncRunStatusFailed, "first page fetch failed", sqlmock.AnyArg(), models.SyncRunStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Fail(context.Background(), "run-1", "first page fetch failed"))
	require.NoError(t, mock.ExpectationsWereMet())
}
