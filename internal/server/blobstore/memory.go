package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/repostore/internal/common"
)

// MemoryDriver keeps objects in a map. It serves the "memory" credential
// type used in development and tests.
type MemoryDriver struct {
	mu      sync.RWMutex
	objects map[string][]byte
	down    bool
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{objects: make(map[string][]byte)}
}

// SetDown makes every call fail with common.ErrUnavailable until reset.
func (d *MemoryDriver) SetDown(down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down = down
}

func (d *MemoryDriver) unavailable(op string) error {
	if d.down {
		return fmt.Errorf("memory %s: %w", op, common.ErrUnavailable)
	}
	return nil
}

func (d *MemoryDriver) Put(ctx context.Context, path string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.unavailable("put"); err != nil {
		return err
	}
	d.objects[path] = append([]byte(nil), data...)
	return nil
}

func (d *MemoryDriver) Get(ctx context.Context, path string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.unavailable("get"); err != nil {
		return nil, err
	}
	b, ok := d.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, common.ErrBlobNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (d *MemoryDriver) Delete(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.unavailable("delete"); err != nil {
		return err
	}
	delete(d.objects, path)
	return nil
}

func (d *MemoryDriver) Exists(ctx context.Context, path string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.unavailable("exists"); err != nil {
		return false, err
	}
	_, ok := d.objects[path]
	return ok, nil
}

func (d *MemoryDriver) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.unavailable("ping")
}

// Len returns the number of stored objects.
func (d *MemoryDriver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}
