package blocknodes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/dbx"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/dmitrijs2005/repostore/internal/shard"
	"github.com/jackc/pgx/v5"
)

const columns = `id, project_id, repo_name, node_full_path, start_pos, end_pos, size, sha256, crc64ecma,
	upload_id, storage_credentials_key, created_by, created_date, deleted, expire_date`

// PostgresRepository stores blocks in tables created by EnsureCollections.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// EnsureCollections creates the shard tables together with an exclusion
// constraint that forbids overlapping live ranges within one upload. Each
// table and its indexes are created in one transaction.
func (r *PostgresRepository) EnsureCollections(ctx context.Context, cfg shard.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, table := range cfg.CollectionNames() {
		ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id                      UUID PRIMARY KEY,
			project_id              TEXT NOT NULL,
			repo_name               TEXT NOT NULL,
			node_full_path          TEXT NOT NULL,
			start_pos               BIGINT NOT NULL,
			end_pos                 BIGINT NOT NULL,
			size                    BIGINT NOT NULL,
			sha256                  TEXT NOT NULL,
			crc64ecma               TEXT,
			upload_id               TEXT,
			storage_credentials_key TEXT,
			created_by              TEXT NOT NULL,
			created_date            TIMESTAMPTZ NOT NULL,
			deleted                 TIMESTAMPTZ,
			expire_date             TIMESTAMPTZ,
			CHECK (end_pos > start_pos),
			CONSTRAINT %[2]s EXCLUDE USING gist (
				project_id WITH =,
				repo_name WITH =,
				node_full_path WITH =,
				(coalesce(upload_id, '')) WITH =,
				int8range(start_pos, end_pos) WITH &&
			) WHERE (deleted IS NULL)
		);
		CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (project_id, repo_name, node_full_path, start_pos);
		CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s (expire_date) WHERE deleted IS NULL AND expire_date IS NOT NULL;
		`, quote(table), quote(table+"_no_overlap"), quote(table+"_file_idx"), quote(table+"_expire_idx"))

		err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			_, err := tx.ExecContext(ctx, ddl)
			return err
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	return nil
}

// Create is a single conditional INSERT; the exclusion constraint catches the
// case where two uploaders pass the NOT EXISTS check at the same time.
func (r *PostgresRepository) Create(ctx context.Context, table string, node *models.BlockNode) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, project_id, repo_name, node_full_path, start_pos, end_pos, size, sha256, crc64ecma,
			upload_id, storage_credentials_key, created_by, created_date, expire_date)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10::text, $11, $12, $13, $14
		WHERE NOT EXISTS (
			SELECT 1 FROM %[1]s
			WHERE project_id = $2 AND repo_name = $3 AND node_full_path = $4
				AND coalesce(upload_id, '') = coalesce($10::text, '')
				AND deleted IS NULL
				AND start_pos < $6 AND $5 < end_pos
		)`, quote(table))

	res, err := r.db.ExecContext(ctx, query,
		node.ID, node.ProjectID, node.RepoName, node.NodeFullPath, node.StartPos, node.EndPos, node.Size,
		node.Sha256, node.Crc64ecma, node.UploadID, node.StorageCredentialsKey, node.CreatedBy,
		node.CreatedDate, node.ExpireDate)
	if err != nil {
		if dbx.IsExclusionViolation(err) {
			return common.ErrOverlappingRange
		}
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}

	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrOverlappingRange
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Copy(ctx context.Context, table string, node *models.BlockNode) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`, quote(table))

	res, err := r.db.ExecContext(ctx, query,
		node.ID, node.ProjectID, node.RepoName, node.NodeFullPath, node.StartPos, node.EndPos, node.Size,
		node.Sha256, node.Crc64ecma, node.UploadID, node.StorageCredentialsKey, node.CreatedBy,
		node.CreatedDate, node.Deleted, node.ExpireDate)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) List(ctx context.Context, table string, ref models.FileRef, uploadID *string) ([]models.BlockNode, error) {
	var query string
	args := []any{ref.ProjectID, ref.RepoName, ref.NodeFullPath}

	if uploadID != nil {
		query = fmt.Sprintf(`SELECT `+columns+` FROM %s
			WHERE project_id = $1 AND repo_name = $2 AND node_full_path = $3
				AND upload_id = $4 AND deleted IS NULL
			ORDER BY start_pos`, quote(table))
		args = append(args, *uploadID)
	} else {
		query = fmt.Sprintf(`SELECT `+columns+` FROM %s
			WHERE project_id = $1 AND repo_name = $2 AND node_full_path = $3
				AND expire_date IS NULL AND deleted IS NULL
			ORDER BY start_pos`, quote(table))
	}

	return r.query(ctx, query, args...)
}

func (r *PostgresRepository) ListRange(ctx context.Context, table string, ref models.FileRef, start, end int64) ([]models.BlockNode, error) {
	query := fmt.Sprintf(`SELECT `+columns+` FROM %s
		WHERE project_id = $1 AND repo_name = $2 AND node_full_path = $3
			AND expire_date IS NULL AND deleted IS NULL
			AND start_pos < $5 AND $4 < end_pos
		ORDER BY start_pos`, quote(table))

	return r.query(ctx, query, ref.ProjectID, ref.RepoName, ref.NodeFullPath, start, end)
}

func (r *PostgresRepository) Finalize(ctx context.Context, table string, ref models.FileRef, uploadID string, size int64,
	at time.Time, verify func([]models.BlockNode) error) (*FinalizeOutcome, error) {
	var out *FinalizeOutcome
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txr := &PostgresRepository{db: tx}

		lockKey := fmt.Sprintf("%s:%s:%s:%s", table, ref.ProjectID, ref.RepoName, ref.NodeFullPath)
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
			return fmt.Errorf("failed to lock file: %w", err)
		}

		blocks, err := txr.query(ctx, fmt.Sprintf(`SELECT `+columns+` FROM %s
			WHERE project_id = $1 AND repo_name = $2 AND node_full_path = $3
				AND upload_id = $4 AND deleted IS NULL
			ORDER BY start_pos
			FOR UPDATE`, quote(table)), ref.ProjectID, ref.RepoName, ref.NodeFullPath, uploadID)
		if err != nil {
			return err
		}
		if err := verify(blocks); err != nil {
			return err
		}

		var pending int64
		for _, b := range blocks {
			if b.ExpireDate != nil {
				pending++
			}
		}

		promoted, err := txr.exec(ctx, "failed to finalize blocks", fmt.Sprintf(`UPDATE %s SET expire_date = NULL
			WHERE project_id = $1 AND repo_name = $2 AND node_full_path = $3
				AND upload_id = $4 AND deleted IS NULL AND expire_date IS NOT NULL
				AND end_pos <= $5`, quote(table)), ref.ProjectID, ref.RepoName, ref.NodeFullPath, uploadID, size)
		if err != nil {
			return err
		}
		if promoted != pending {
			return fmt.Errorf("finalized %d of %d verified blocks: %w", promoted, pending, common.ErrStatusConflict)
		}

		out = &FinalizeOutcome{Blocks: blocks, Promoted: promoted}
		if promoted == 0 {
			return nil
		}
		out.Superseded, err = txr.exec(ctx, "failed to supersede blocks", fmt.Sprintf(`UPDATE %s SET deleted = $5
			WHERE project_id = $1 AND repo_name = $2 AND node_full_path = $3
				AND upload_id IS DISTINCT FROM $4 AND deleted IS NULL AND expire_date IS NULL`, quote(table)),
			ref.ProjectID, ref.RepoName, ref.NodeFullPath, uploadID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, table string, ref models.FileRef, uploadID *string, at time.Time) (int64, error) {
	if uploadID != nil {
		query := fmt.Sprintf(`UPDATE %s SET deleted = $4
			WHERE project_id = $1 AND repo_name = $2 AND node_full_path = $3
				AND upload_id = $5 AND deleted IS NULL`, quote(table))
		return r.exec(ctx, "failed to delete blocks", query, ref.ProjectID, ref.RepoName, ref.NodeFullPath, at, *uploadID)
	}

	query := fmt.Sprintf(`UPDATE %s SET deleted = $4
		WHERE project_id = $1 AND repo_name = $2 AND node_full_path = $3
			AND deleted IS NULL`, quote(table))
	return r.exec(ctx, "failed to delete blocks", query, ref.ProjectID, ref.RepoName, ref.NodeFullPath, at)
}

func (r *PostgresRepository) ListExpired(ctx context.Context, table string, before time.Time, limit int) ([]models.BlockNode, error) {
	query := fmt.Sprintf(`SELECT `+columns+` FROM %s
		WHERE deleted IS NULL AND expire_date IS NOT NULL AND expire_date < $1
		ORDER BY expire_date
		LIMIT $2`, quote(table))

	return r.query(ctx, query, before, limit)
}

func (r *PostgresRepository) Scan(ctx context.Context, table string, afterID string, limit int) ([]models.BlockNode, error) {
	if afterID == "" {
		query := fmt.Sprintf(`SELECT `+columns+` FROM %s ORDER BY id LIMIT $1`, quote(table))
		return r.query(ctx, query, limit)
	}
	query := fmt.Sprintf(`SELECT `+columns+` FROM %s WHERE id > $1::uuid ORDER BY id LIMIT $2`, quote(table))
	return r.query(ctx, query, afterID, limit)
}

func (r *PostgresRepository) exec(ctx context.Context, what, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]models.BlockNode, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select blocks: %w", err)
	}
	defer rows.Close()

	var result []models.BlockNode
	for rows.Next() {
		item, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanBlock(rows *sql.Rows) (models.BlockNode, error) {
	var (
		b                      models.BlockNode
		crc, uploadID, credKey sql.NullString
		deleted, expireDate    sql.NullTime
	)
	err := rows.Scan(&b.ID, &b.ProjectID, &b.RepoName, &b.NodeFullPath, &b.StartPos, &b.EndPos, &b.Size,
		&b.Sha256, &crc, &uploadID, &credKey, &b.CreatedBy, &b.CreatedDate, &deleted, &expireDate)
	if err != nil {
		return b, err
	}
	b.Crc64ecma = nullString(crc)
	b.UploadID = nullString(uploadID)
	b.StorageCredentialsKey = nullString(credKey)
	b.Deleted = nullTime(deleted)
	b.ExpireDate = nullTime(expireDate)
	return b, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
