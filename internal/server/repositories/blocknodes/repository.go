// Package blocknodes persists BlockNode records in sharded tables. Every
// method takes the physical table name; routing is the caller's concern.
package blocknodes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/dmitrijs2005/repostore/internal/shard"
)

// FinalizeOutcome reports what an atomic finalize changed.
type FinalizeOutcome struct {
	// Blocks are the upload's live blocks as they were verified.
	Blocks []models.BlockNode
	// Promoted counts blocks whose expire_date was cleared by this call.
	Promoted int64
	// Superseded counts finalized blocks of other uploads that were deleted.
	Superseded int64
}

type Repository interface {
	// EnsureCollections creates every table of cfg if missing.
	EnsureCollections(ctx context.Context, cfg shard.Config) error

	// Create inserts node unless a live block of the same file and upload
	// overlaps its range, in which case it returns common.ErrOverlappingRange.
	Create(ctx context.Context, table string, node *models.BlockNode) error

	// Copy inserts node as-is, ignoring rows whose id already exists.
	// It reports whether a row was written.
	Copy(ctx context.Context, table string, node *models.BlockNode) (bool, error)

	// List returns live blocks ordered by start position. With uploadID the
	// blocks of that upload are returned, otherwise only finalized ones.
	List(ctx context.Context, table string, ref models.FileRef, uploadID *string) ([]models.BlockNode, error)

	// ListRange returns finalized live blocks intersecting [start, end).
	ListRange(ctx context.Context, table string, ref models.FileRef, start, end int64) ([]models.BlockNode, error)

	// Finalize locks the upload's live blocks, hands them to verify and, once
	// verify accepts them, clears expire_date of those ending within size.
	// If anything was promoted, the finalized blocks of every other upload of
	// the file are soft-deleted at the given time. Concurrent finalizes of one
	// file are serialized and a verify error leaves nothing changed.
	Finalize(ctx context.Context, table string, ref models.FileRef, uploadID string, size int64, at time.Time,
		verify func([]models.BlockNode) error) (*FinalizeOutcome, error)

	// SoftDelete stamps deleted on matching live blocks.
	SoftDelete(ctx context.Context, table string, ref models.FileRef, uploadID *string, at time.Time) (int64, error)

	// ListExpired returns unfinalized live blocks that expired before t.
	ListExpired(ctx context.Context, table string, before time.Time, limit int) ([]models.BlockNode, error)

	// Scan pages through all rows of a table by id.
	Scan(ctx context.Context, table string, afterID string, limit int) ([]models.BlockNode, error)
}
