package shard

import (
	"fmt"

	"github.com/dmitrijs2005/repostore/internal/common"
)

// Router holds the shard configuration of every sharded entity type.
type Router struct {
	entities map[string]Config
}

// NewRouter validates every configuration up front so routing never fails on
// a bad count at request time.
func NewRouter(entities map[string]Config) (*Router, error) {
	r := &Router{entities: make(map[string]Config, len(entities))}
	for name, cfg := range entities {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("entity %s: %w", name, err)
		}
		cols := make([]string, len(cfg.Columns))
		copy(cols, cfg.Columns)
		cfg.Columns = cols
		r.entities[name] = cfg
	}
	return r, nil
}

// Config returns the configuration for entity.
func (r *Router) Config(entity string) (Config, error) {
	cfg, ok := r.entities[entity]
	if !ok {
		return Config{}, fmt.Errorf("entity %q is not sharded: %w", entity, common.ErrInvalidShardConfig)
	}
	return cfg, nil
}

// Route returns the shard suffix for the given key values.
func (r *Router) Route(entity string, keyValues []string) (int, error) {
	cfg, err := r.Config(entity)
	if err != nil {
		return 0, err
	}
	if len(keyValues) != len(cfg.Columns) {
		return 0, fmt.Errorf("entity %s expects %d key values, got %d: %w",
			entity, len(cfg.Columns), len(keyValues), common.ErrInvalidShardConfig)
	}
	return cfg.Suffix(keyValues), nil
}

// CollectionFor returns the physical table holding rec.
func (r *Router) CollectionFor(entity string, rec Keyed) (string, error) {
	cfg, err := r.Config(entity)
	if err != nil {
		return "", err
	}
	return cfg.CollectionFor(rec)
}
