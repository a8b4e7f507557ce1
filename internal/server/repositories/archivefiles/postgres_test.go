package archivefiles

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fileCols = []string{"id", "sha256", "storage_credentials_key", "status", "base_sha256", "chain_length",
	"compressed_size", "uncompressed_size", "created_by", "created_date", "last_modified_by", "last_modified_date"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func strp(s string) *string { return &s }

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Unix(10, 0).UTC()
	f := &models.ArchiveFile{
		ID: "id1", Sha256: "s1", Status: models.ArchiveCreated, BaseSha256: strp("b1"), ChainLength: 2,
		CompressedSize: -1, UncompressedSize: 42, CreatedBy: "op", CreatedDate: now, LastModifiedBy: "op", LastModifiedDate: now,
	}

	mock.ExpectExec(`(?s)^INSERT INTO archive_file`).
		WithArgs("id1", "s1", nil, "CREATED", "b1", 2, int64(-1), int64(42), "op", now, "op", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), f))

	mock.ExpectExec(`INSERT INTO archive_file`).WillReturnError(&pgconn.PgError{Code: "23505"})
	assert.ErrorIs(t, repo.Create(context.Background(), f), common.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Unix(10, 0).UTC()
	mock.ExpectQuery(`(?s)FROM archive_file\s+WHERE sha256 = \$1 AND coalesce\(storage_credentials_key, ''\) = \$2`).
		WithArgs("s1", "cold").
		WillReturnRows(sqlmock.NewRows(fileCols).
			AddRow("id1", "s1", "cold", "COMPLETED", nil, 0, 10, 42, "op", now, "op", now))

	f, err := repo.Get(context.Background(), "s1", strp("cold"))
	require.NoError(t, err)
	assert.Equal(t, models.ArchiveCompleted, f.Status)
	assert.Equal(t, "cold", *f.StorageCredentialsKey)
	assert.Nil(t, f.BaseSha256)
	assert.Equal(t, int64(10), f.CompressedSize)
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM archive_file`).WithArgs("s1", "").WillReturnRows(sqlmock.NewRows(fileCols))

	_, err := repo.Get(context.Background(), "s1", nil)
	assert.ErrorIs(t, err, common.ErrArchiveFileNotFound)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCompareAndSetStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Unix(20, 0).UTC()
	size := int64(7)
	q := `(?s)UPDATE archive_file SET\s+status = \$1.*WHERE id = \$7 AND status = \$8`

	mock.ExpectExec(q).
		WithArgs("COMPRESSED", at, "worker", size, nil, nil, "id1", "COMPRESSING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs("COMPRESSED", at, "worker", size, nil, nil, "id1", "COMPRESSING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	patch := models.ArchivePatch{CompressedSize: &size, ModifiedBy: "worker"}
	require.NoError(t, repo.CompareAndSetStatus(context.Background(), "id1", models.ArchiveCompressing, models.ArchiveCompressed, patch, at))

	err := repo.CompareAndSetStatus(context.Background(), "id1", models.ArchiveCompressing, models.ArchiveCompressed, patch, at)
	assert.ErrorIs(t, err, common.ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimAndDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	seen := time.Unix(1, 0).UTC()
	at := time.Unix(99, 0).UTC()

	mock.ExpectExec(`UPDATE archive_file SET last_modified_date = \$1`).
		WithArgs(at, "w2", "id1", "COMPRESSING", seen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM archive_file WHERE id = \$1 AND status = \$2`).
		WithArgs("id1", "COMPLETED").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Claim(context.Background(), "id1", models.ArchiveCompressing, seen, "w2", at))
	assert.ErrorIs(t, repo.Delete(context.Background(), "id1", models.ArchiveCompleted), common.ErrStatusConflict)
}

func TestCounts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	restoring := []models.ArchiveStatus{models.ArchiveWaitToUncompress, models.ArchiveUncompressing}

	mock.ExpectQuery(`SELECT count\(\*\) FROM archive_file WHERE status IN \(\$1, \$2\)`).
		WithArgs("WAIT_TO_UNCOMPRESS", "UNCOMPRESSING").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`(?s)coalesce\(storage_credentials_key, ''\) = \$1 AND status IN \(\$2, \$3\)`).
		WithArgs("cold", "WAIT_TO_UNCOMPRESS", "UNCOMPRESSING").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)WHERE base_sha256 = \$1`).
		WithArgs("s1", "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountByStatus(context.Background(), restoring)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = repo.CountByStatusAndKey(context.Background(), restoring, strp("cold"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.CountDependents(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestListByStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	before := time.Unix(50, 0).UTC()
	now := time.Unix(10, 0).UTC()
	mock.ExpectQuery(`(?s)WHERE status = \$1 AND last_modified_date < \$2.*LIMIT \$3`).
		WithArgs("CREATED", before, 10).
		WillReturnRows(sqlmock.NewRows(fileCols).
			AddRow("id1", "s1", nil, "CREATED", "b", 1, -1, 42, "op", now, "op", now).
			AddRow("id2", "s2", nil, "CREATED", nil, 0, -1, 42, "op", now, "op", now))

	got, err := repo.ListByStatus(context.Background(), models.ArchiveCreated, before, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", *got[0].BaseSha256)

	mock.ExpectQuery(`FROM archive_file`).WillReturnError(errors.New("down"))
	_, err = repo.ListByStatus(context.Background(), models.ArchiveCreated, before, 10)
	require.Error(t, err)
}
