package archivefiles

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

type MemoryRepository struct {
	mu    sync.Mutex
	files map[string]*models.ArchiveFile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{files: make(map[string]*models.ArchiveFile)}
}

func (r *MemoryRepository) find(sha256 string, key *string) *models.ArchiveFile {
	k := models.CredentialsKeyOrDefault(key)
	for _, f := range r.files {
		if f.Sha256 == sha256 && models.CredentialsKeyOrDefault(f.StorageCredentialsKey) == k {
			return f
		}
	}
	return nil
}

func clone(f *models.ArchiveFile) *models.ArchiveFile {
	c := *f
	return &c
}

func (r *MemoryRepository) Create(ctx context.Context, f *models.ArchiveFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[f.ID]; ok || r.find(f.Sha256, f.StorageCredentialsKey) != nil {
		return common.ErrAlreadyExists
	}
	r.files[f.ID] = clone(f)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, sha256 string, key *string) (*models.ArchiveFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.find(sha256, key)
	if f == nil {
		return nil, common.ErrArchiveFileNotFound
	}
	return clone(f), nil
}

func (r *MemoryRepository) CompareAndSetStatus(ctx context.Context, id string, from, to models.ArchiveStatus, patch models.ArchivePatch, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok || f.Status != from {
		return common.ErrStatusConflict
	}
	f.Status = to
	f.LastModifiedDate = at
	f.LastModifiedBy = patch.ModifiedBy
	if patch.CompressedSize != nil {
		f.CompressedSize = *patch.CompressedSize
	}
	if patch.BaseSha256 != nil {
		base := *patch.BaseSha256
		f.BaseSha256 = &base
	}
	if patch.ChainLength != nil {
		f.ChainLength = *patch.ChainLength
	}
	return nil
}

func (r *MemoryRepository) Claim(ctx context.Context, id string, status models.ArchiveStatus, seen time.Time, by string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok || f.Status != status || !f.LastModifiedDate.Equal(seen) {
		return common.ErrStatusConflict
	}
	f.LastModifiedDate = at
	f.LastModifiedBy = by
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string, status models.ArchiveStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok || f.Status != status {
		return common.ErrStatusConflict
	}
	delete(r.files, id)
	return nil
}

func (r *MemoryRepository) CountDependents(ctx context.Context, sha256 string, key *string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := models.CredentialsKeyOrDefault(key)
	var n int64
	for _, f := range r.files {
		if f.BaseSha256 != nil && *f.BaseSha256 == sha256 && models.CredentialsKeyOrDefault(f.StorageCredentialsKey) == k {
			n++
		}
	}
	return n, nil
}

func in(s models.ArchiveStatus, statuses []models.ArchiveStatus) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CountByStatus(ctx context.Context, statuses []models.ArchiveStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, f := range r.files {
		if in(f.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountByStatusAndKey(ctx context.Context, statuses []models.ArchiveStatus, key *string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := models.CredentialsKeyOrDefault(key)
	var n int64
	for _, f := range r.files {
		if in(f.Status, statuses) && models.CredentialsKeyOrDefault(f.StorageCredentialsKey) == k {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListByStatus(ctx context.Context, status models.ArchiveStatus, modifiedBefore time.Time, limit int) ([]models.ArchiveFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.ArchiveFile
	for _, f := range r.files {
		if f.Status == status && f.LastModifiedDate.Before(modifiedBefore) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModifiedDate.Before(out[j].LastModifiedDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
