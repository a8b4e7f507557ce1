package blocknodes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/dmitrijs2005/repostore/internal/shard"
)

// MemoryRepository keeps blocks in process memory. It backs the "memory"
// database mode and service tests.
type MemoryRepository struct {
	mu     sync.Mutex
	tables map[string]map[string]models.BlockNode
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tables: make(map[string]map[string]models.BlockNode)}
}

func (r *MemoryRepository) table(name string) map[string]models.BlockNode {
	t, ok := r.tables[name]
	if !ok {
		t = make(map[string]models.BlockNode)
		r.tables[name] = t
	}
	return t
}

func (r *MemoryRepository) EnsureCollections(ctx context.Context, cfg shard.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range cfg.CollectionNames() {
		r.table(name)
	}
	return nil
}

// Tables returns the names of all tables created so far.
func (r *MemoryRepository) Tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameUpload(a, b *string) bool {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return deref(a) == deref(b)
}

func matches(b models.BlockNode, ref models.FileRef) bool {
	return b.ProjectID == ref.ProjectID && b.RepoName == ref.RepoName && b.NodeFullPath == ref.NodeFullPath
}

func (r *MemoryRepository) Create(ctx context.Context, table string, node *models.BlockNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.table(table)
	if _, ok := t[node.ID]; ok {
		return common.ErrAlreadyExists
	}
	for _, b := range t {
		if b.IsLive() && matches(b, node.Ref()) && sameUpload(b.UploadID, node.UploadID) && b.Overlaps(node.StartPos, node.EndPos) {
			return common.ErrOverlappingRange
		}
	}
	t[node.ID] = *node
	return nil
}

func (r *MemoryRepository) Copy(ctx context.Context, table string, node *models.BlockNode) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.table(table)
	if _, ok := t[node.ID]; ok {
		return false, nil
	}
	t[node.ID] = *node
	return true, nil
}

func (r *MemoryRepository) collect(table string, keep func(models.BlockNode) bool) []models.BlockNode {
	var out []models.BlockNode
	for _, b := range r.tables[table] {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func (r *MemoryRepository) List(ctx context.Context, table string, ref models.FileRef, uploadID *string) ([]models.BlockNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.collect(table, func(b models.BlockNode) bool {
		if !b.IsLive() || !matches(b, ref) {
			return false
		}
		if uploadID != nil {
			return b.UploadID != nil && *b.UploadID == *uploadID
		}
		return b.ExpireDate == nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartPos < out[j].StartPos })
	return out, nil
}

func (r *MemoryRepository) ListRange(ctx context.Context, table string, ref models.FileRef, start, end int64) ([]models.BlockNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.collect(table, func(b models.BlockNode) bool {
		return b.IsLive() && matches(b, ref) && b.ExpireDate == nil && b.Overlaps(start, end)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartPos < out[j].StartPos })
	return out, nil
}

func (r *MemoryRepository) Finalize(ctx context.Context, table string, ref models.FileRef, uploadID string, size int64,
	at time.Time, verify func([]models.BlockNode) error) (*FinalizeOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ofUpload := func(b models.BlockNode) bool {
		return b.IsLive() && matches(b, ref) && b.UploadID != nil && *b.UploadID == uploadID
	}
	blocks := r.collect(table, ofUpload)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].StartPos < blocks[j].StartPos })
	if err := verify(blocks); err != nil {
		return nil, err
	}

	out := &FinalizeOutcome{Blocks: blocks}
	t := r.tables[table]
	for id, b := range t {
		if ofUpload(b) && b.ExpireDate != nil && b.EndPos <= size {
			b.ExpireDate = nil
			t[id] = b
			out.Promoted++
		}
	}
	if out.Promoted == 0 {
		return out, nil
	}
	for id, b := range t {
		if b.IsLive() && matches(b, ref) && b.ExpireDate == nil && !ofUpload(b) {
			deleted := at
			b.Deleted = &deleted
			t[id] = b
			out.Superseded++
		}
	}
	return out, nil
}

func (r *MemoryRepository) SoftDelete(ctx context.Context, table string, ref models.FileRef, uploadID *string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	t := r.tables[table]
	for id, b := range t {
		if !b.IsLive() || !matches(b, ref) {
			continue
		}
		if uploadID != nil && (b.UploadID == nil || *b.UploadID != *uploadID) {
			continue
		}
		deleted := at
		b.Deleted = &deleted
		t[id] = b
		n++
	}
	return n, nil
}

func (r *MemoryRepository) ListExpired(ctx context.Context, table string, before time.Time, limit int) ([]models.BlockNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.collect(table, func(b models.BlockNode) bool {
		return b.IsLive() && b.ExpireDate != nil && b.ExpireDate.Before(before)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpireDate.Before(*out[j].ExpireDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Scan(ctx context.Context, table string, afterID string, limit int) ([]models.BlockNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.collect(table, func(b models.BlockNode) bool { return b.ID > afterID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
