package blobstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/repostore/internal/common"
)

// Registry maps storage credential keys to blob stores. A nil key selects
// the default credential.
type Registry struct {
	mu         sync.RWMutex
	defaultKey string
	stores     map[string]BlobStore
}

func NewRegistry(defaultKey string) *Registry {
	return &Registry{defaultKey: defaultKey, stores: make(map[string]BlobStore)}
}

func (r *Registry) Register(key string, s BlobStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[key] = s
}

// Resolve returns the concrete key that key refers to.
func (r *Registry) Resolve(key *string) string {
	if key == nil || *key == "" {
		return r.defaultKey
	}
	return *key
}

func (r *Registry) Get(key *string) (BlobStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k := r.Resolve(key)
	s, ok := r.stores[k]
	if !ok {
		return nil, fmt.Errorf("%q: %w", k, common.ErrCredentialNotFound)
	}
	return s, nil
}

// Keys lists registered credential keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.stores))
	for k := range r.stores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
