package archivefiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/dbx"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

const columns = `id, sha256, storage_credentials_key, status, base_sha256, chain_length, compressed_size,
	uncompressed_size, created_by, created_date, last_modified_by, last_modified_date`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, f *models.ArchiveFile) error {
	query := `INSERT INTO archive_file (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.Sha256, f.StorageCredentialsKey, string(f.Status), f.BaseSha256, f.ChainLength, f.CompressedSize,
		f.UncompressedSize, f.CreatedBy, f.CreatedDate, f.LastModifiedBy, f.LastModifiedDate)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, sha256 string, key *string) (*models.ArchiveFile, error) {
	query := `SELECT ` + columns + ` FROM archive_file
		WHERE sha256 = $1 AND coalesce(storage_credentials_key, '') = $2`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, sha256, models.CredentialsKeyOrDefault(key)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrArchiveFileNotFound
		}
		return nil, fmt.Errorf("failed to select archive file: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) CompareAndSetStatus(ctx context.Context, id string, from, to models.ArchiveStatus, patch models.ArchivePatch, at time.Time) error {
	query := `UPDATE archive_file SET
			status = $1,
			last_modified_date = $2,
			last_modified_by = $3,
			compressed_size = coalesce($4::bigint, compressed_size),
			base_sha256 = coalesce($5::text, base_sha256),
			chain_length = coalesce($6::integer, chain_length)
		WHERE id = $7 AND status = $8`

	return r.expectOne(ctx, "failed to update status", query,
		string(to), at, patch.ModifiedBy, patch.CompressedSize, patch.BaseSha256, patch.ChainLength, id, string(from))
}

func (r *PostgresRepository) Claim(ctx context.Context, id string, status models.ArchiveStatus, seen time.Time, by string, at time.Time) error {
	query := `UPDATE archive_file SET last_modified_date = $1, last_modified_by = $2
		WHERE id = $3 AND status = $4 AND last_modified_date = $5`

	return r.expectOne(ctx, "failed to claim archive file", query, at, by, id, string(status), seen)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string, status models.ArchiveStatus) error {
	query := `DELETE FROM archive_file WHERE id = $1 AND status = $2`
	return r.expectOne(ctx, "failed to delete archive file", query, id, string(status))
}

func (r *PostgresRepository) CountDependents(ctx context.Context, sha256 string, key *string) (int64, error) {
	query := `SELECT count(*) FROM archive_file
		WHERE base_sha256 = $1 AND coalesce(storage_credentials_key, '') = $2`

	var n int64
	if err := r.db.QueryRowContext(ctx, query, sha256, models.CredentialsKeyOrDefault(key)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dependents: %w", err)
	}
	return n, nil
}

func statusList(statuses []models.ArchiveStatus, first int) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		marks[i] = "$" + strconv.Itoa(first+i)
		args[i] = string(s)
	}
	return strings.Join(marks, ", "), args
}

func (r *PostgresRepository) CountByStatus(ctx context.Context, statuses []models.ArchiveStatus) (int64, error) {
	in, args := statusList(statuses, 1)
	query := `SELECT count(*) FROM archive_file WHERE status IN (` + in + `)`

	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archive files: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountByStatusAndKey(ctx context.Context, statuses []models.ArchiveStatus, key *string) (int64, error) {
	in, args := statusList(statuses, 2)
	query := `SELECT count(*) FROM archive_file
		WHERE coalesce(storage_credentials_key, '') = $1 AND status IN (` + in + `)`

	var n int64
	args = append([]any{models.CredentialsKeyOrDefault(key)}, args...)
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archive files: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status models.ArchiveStatus, modifiedBefore time.Time, limit int) ([]models.ArchiveFile, error) {
	query := `SELECT ` + columns + ` FROM archive_file
		WHERE status = $1 AND last_modified_date < $2
		ORDER BY last_modified_date
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, string(status), modifiedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select archive files: %w", err)
	}
	defer rows.Close()

	var result []models.ArchiveFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) expectOne(ctx context.Context, what, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrStatusConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.ArchiveFile, error) {
	var (
		f            models.ArchiveFile
		status       string
		key, baseSha sql.NullString
	)
	err := s.Scan(&f.ID, &f.Sha256, &key, &status, &baseSha, &f.ChainLength, &f.CompressedSize,
		&f.UncompressedSize, &f.CreatedBy, &f.CreatedDate, &f.LastModifiedBy, &f.LastModifiedDate)
	if err != nil {
		return nil, err
	}
	f.Status = models.ArchiveStatus(status)
	if key.Valid {
		f.StorageCredentialsKey = &key.String
	}
	if baseSha.Valid {
		f.BaseSha256 = &baseSha.String
	}
	return &f, nil
}
