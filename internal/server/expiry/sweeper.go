// Package expiry reclaims uploads that were never finalized. It runs next to
// the block store and only uses its public listing and soft-delete calls.
package expiry

import (
	"context"
	"time"

	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

// BlockStore is the part of blocks.Service the sweeper needs.
type BlockStore interface {
	ListExpired(ctx context.Context, before time.Time, limit int) ([]models.BlockNode, error)
	SoftDelete(ctx context.Context, ref models.FileRef, uploadID *string) (int64, error)
}

type uploadKey struct {
	ref      models.FileRef
	uploadID string
}

type Sweeper struct {
	store    BlockStore
	interval time.Duration
	batch    int
	log      logging.Logger
	now      func() time.Time
}

func NewSweeper(store BlockStore, interval time.Duration, batch int, log logging.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		batch:    batch,
		log:      log.With("component", "expiry"),
		now:      time.Now,
	}
}

// Purge soft-deletes the blocks of uploads whose expire date passed before
// the given time. It returns the number of blocks removed.
func (s *Sweeper) Purge(ctx context.Context, before time.Time) (int64, error) {
	expired, err := s.store.ListExpired(ctx, before, s.batch)
	if err != nil {
		return 0, err
	}

	done := make(map[uploadKey]bool)
	var total int64
	for _, b := range expired {
		if b.UploadID == nil {
			continue
		}
		k := uploadKey{ref: b.Ref(), uploadID: *b.UploadID}
		if done[k] {
			continue
		}
		done[k] = true

		n, err := s.store.SoftDelete(ctx, k.ref, b.UploadID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Run purges expired uploads every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Purge(ctx, s.now().UTC())
			if err != nil {
				s.log.Warn(ctx, "expired upload sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info(ctx, "expired uploads purged", "blocks", n)
			}
		}
	}
}
