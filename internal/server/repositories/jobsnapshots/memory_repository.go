package jobsnapshots

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

type MemoryRepository struct {
	mu        sync.Mutex
	nextID    int64
	snapshots []models.JobSnapshot
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, s *models.JobSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s.ID = r.nextID
	c := *s
	c.Data = append([]byte(nil), s.Data...)
	r.snapshots = append(r.snapshots, c)
	return nil
}

func (r *MemoryRepository) FindLatest(ctx context.Context, name string) (*models.JobSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.snapshots) - 1; i >= 0; i-- {
		if r.snapshots[i].Name == name {
			c := r.snapshots[i]
			return &c, nil
		}
	}
	return nil, common.ErrSnapshotNotFound
}

func (r *MemoryRepository) DeleteByName(ctx context.Context, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.snapshots[:0]
	var n int64
	for _, s := range r.snapshots {
		if s.Name == name {
			n++
			continue
		}
		kept = append(kept, s)
	}
	r.snapshots = kept
	return n, nil
}

// All returns every stored snapshot of name in insertion order.
func (r *MemoryRepository) All(name string) []models.JobSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.JobSnapshot
	for _, s := range r.snapshots {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}
