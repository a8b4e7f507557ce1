// Package archivefiles persists ArchiveFile records. Status changes are
// compare-and-set on the current status so that concurrent workers cannot
// both move the same record.
package archivefiles

import (
	"context"
	"time"

	"github.com/dmitrijs2005/repostore/internal/server/models"
)

type Repository interface {
	// Create inserts f; common.ErrAlreadyExists if (sha256, key) is taken.
	Create(ctx context.Context, f *models.ArchiveFile) error

	// Get returns common.ErrArchiveFileNotFound when absent.
	Get(ctx context.Context, sha256 string, key *string) (*models.ArchiveFile, error)

	// CompareAndSetStatus moves record id from status from to status to and
	// applies patch. common.ErrStatusConflict if the record is no longer in from.
	CompareAndSetStatus(ctx context.Context, id string, from, to models.ArchiveStatus, patch models.ArchivePatch, at time.Time) error

	// Claim refreshes last_modified_date of a record that is still in status
	// and was last modified at seen. It lets a worker take over a stale claim.
	Claim(ctx context.Context, id string, status models.ArchiveStatus, seen time.Time, by string, at time.Time) error

	// Delete removes record id if it is still in status.
	Delete(ctx context.Context, id string, status models.ArchiveStatus) error

	// CountDependents counts records that use (sha256, key) as their base.
	CountDependents(ctx context.Context, sha256 string, key *string) (int64, error)

	// CountByStatus counts records in any of statuses across all credentials.
	CountByStatus(ctx context.Context, statuses []models.ArchiveStatus) (int64, error)

	// CountByStatusAndKey counts records in any of statuses for one credential.
	CountByStatusAndKey(ctx context.Context, statuses []models.ArchiveStatus, key *string) (int64, error)

	// ListByStatus returns records in status last modified before t, oldest first.
	ListByStatus(ctx context.Context, status models.ArchiveStatus, modifiedBefore time.Time, limit int) ([]models.ArchiveFile, error)
}
