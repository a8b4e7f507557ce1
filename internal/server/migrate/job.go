package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/repostore/internal/common"
)

// ErrSkipItem tells the runner that an item does not concern the job. It is
// neither counted nor remembered.
var ErrSkipItem = errors.New("skip item")

// Item is one unit of work returned by Job.Scan.
type Item struct {
	// ID orders items inside a collection and is the resume cursor.
	ID string
	// Key, when set, deduplicates items across the whole run.
	Key     string
	Payload any
}

type Job interface {
	Name() string
	// Prepare runs once per Execute before scanning starts.
	Prepare(ctx context.Context) error
	Collections(ctx context.Context) ([]string, error)
	// Scan returns up to limit items of collection with ID > afterID in ID order.
	Scan(ctx context.Context, collection, afterID string, limit int) ([]Item, error)
	// Process handles one item. Errors wrapping common.ErrUnavailable abort
	// the run; any other error only fails the item.
	Process(ctx context.Context, jc *JobActionContext, item Item) error
}

// Factory builds a job from the executor parameter of a trigger request.
type Factory func(param json.RawMessage) (Job, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(jobID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[jobID] = f
}

// Create returns common.ErrJobNotFound for unknown ids.
func (r *Registry) Create(jobID string, param json.RawMessage) (Job, error) {
	r.mu.RLock()
	f, ok := r.factories[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, common.WithJob("create job", jobID, common.ErrJobNotFound)
	}
	job, err := f(param)
	if err != nil {
		return nil, common.WithJob("create job", jobID, err)
	}
	return job, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func decodeParam(param json.RawMessage, v any) error {
	if len(param) == 0 {
		return nil
	}
	if err := json.Unmarshal(param, v); err != nil {
		return fmt.Errorf("executor param: %v: %w", err, common.ErrInvalidInput)
	}
	return nil
}
