package jobsnapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/dbx"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.JobSnapshot) error {
	query := `INSERT INTO job_snapshot (name, created_by, created_date, success, failed, total, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		s.Name, s.CreatedBy, s.CreatedDate, s.Success, s.Failed, s.Total, s.Data).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindLatest(ctx context.Context, name string) (*models.JobSnapshot, error) {
	query := `SELECT id, name, created_by, created_date, success, failed, total, data
		FROM job_snapshot
		WHERE name = $1
		ORDER BY id DESC
		LIMIT 1`

	s := &models.JobSnapshot{}
	err := r.db.QueryRowContext(ctx, query, name).
		Scan(&s.ID, &s.Name, &s.CreatedBy, &s.CreatedDate, &s.Success, &s.Failed, &s.Total, &s.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to select job snapshot: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) DeleteByName(ctx context.Context, name string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM job_snapshot WHERE name = $1`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to delete job snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
