package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelworks/partner-sync-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func partnerRows(partners ...models.Partner) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "tier", "status", "region", "owner_name", "owner_email",
		"external_id", "external_parent_id", "cross_ref_id", "active", "deleted_reason", "deleted_at", "created_at", "updated_at"})
	for _, p := range partners {
		rows.AddRow(p.ID, p.Name, p.Tier, p.Status, p.Region, p.OwnerName, p.OwnerEmail,
			p.ExternalID, p.ExternalParentID, p.CrossRefID, p.Active, p.DeletedReason, p.DeletedAt, p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

func TestPartnerRepositoryCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPartnerRepository(db)

	mock.ExpectExec("INSERT INTO partners").WillReturnResult(sqlmock.NewResult(0, 1))

	partner := &models.Partner{Name: "Acme Networks", Tier: models.TierPremier, Active: true}
	require.NoError(t, repo.Create(context.Background(), partner))
	assert.NotEmpty(t, partner.ID)
	assert.False(t, partner.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartnerRepositoryFindByExternalID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPartnerRepository(db)

	externalID := "prm-100"
	mock.ExpectQuery("SELECT (.+) FROM partners WHERE external_id").
		WithArgs(externalID).
		WillReturnRows(partnerRows(models.Partner{ID: "p1", Name: "Acme Networks", ExternalID: &externalID, Active: true}))

	partner, err := repo.FindByExternalID(context.Background(), externalID)
	require.NoError(t, err)
	assert.Equal(t, "p1", partner.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartnerRepositoryListByCrossRefPrefix(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPartnerRepository(db)

	crossRef := "001A0000012345X"
	mock.ExpectQuery(regexp.QuoteMeta("left(cross_ref_id, 15) = $1")).
		WithArgs(crossRef).
		WillReturnRows(partnerRows(models.Partner{ID: "p1", CrossRefID: &crossRef}))

	partners, err := repo.ListByCrossRefPrefix(context.Background(), crossRef)
	require.NoError(t, err)
	require.Len(t, partners, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartnerRepositorySoftDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPartnerRepository(db)

	mock.ExpectExec("UPDATE partners SET active = false").
		WithArgs("p1", models.DeleteReasonFiltered, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SoftDelete(context.Background(), "p1", models.DeleteReasonFiltered))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartnerRepositorySoftDeleteMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPartnerRepository(db)

	mock.ExpectExec("UPDATE partners SET active = false").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SoftDelete(context.Background(), "missing", models.DeleteReasonRemoved)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartnerRepositorySetExternalID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPartnerRepository(db)

	mock.ExpectExec("UPDATE partners SET external_id").
		WithArgs("p1", "prm-200", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetExternalID(context.Background(), "p1", "prm-200"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPartnerRepositoryListActiveWithExternalID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPartnerRepository(db)

	ext := "prm-1"
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM partners WHERE active = true AND external_id IS NOT NULL").
		WillReturnRows(partnerRows(models.Partner{ID: "p1", ExternalID: &ext, Active: true, CreatedAt: now}))

	partners, err := repo.ListActiveWithExternalID(context.Background())
	require.NoError(t, err)
	require.Len(t, partners, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
