// Package jobsnapshots stores the append-only checkpoints of batch jobs.
package jobsnapshots

import (
	"context"

	"github.com/dmitrijs2005/repostore/internal/server/models"
)

type Repository interface {
	// Create appends s and fills in its id.
	Create(ctx context.Context, s *models.JobSnapshot) error
	// FindLatest returns the newest snapshot of name, or common.ErrSnapshotNotFound.
	FindLatest(ctx context.Context, name string) (*models.JobSnapshot, error)
	// DeleteByName removes every snapshot of a retired job.
	DeleteByName(ctx context.Context, name string) (int64, error)
}
