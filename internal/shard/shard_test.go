package shard

import (
	"fmt"
	"testing"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row map[string]string

func (r row) ShardValue(column string) (string, bool) {
	v, ok := r[column]
	return v, ok
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"ok", Config{Prefix: "block_node", Columns: []string{"projectId"}, Count: 256}, true},
		{"one shard", Config{Prefix: "block_node", Columns: []string{"projectId"}, Count: 1}, true},
		{"not power of two", Config{Prefix: "block_node", Columns: []string{"projectId"}, Count: 12}, false},
		{"zero", Config{Prefix: "block_node", Columns: []string{"projectId"}, Count: 0}, false},
		{"negative", Config{Prefix: "block_node", Columns: []string{"projectId"}, Count: -8}, false},
		{"no columns", Config{Prefix: "block_node", Count: 8}, false},
		{"unsafe prefix", Config{Prefix: "block;drop", Columns: []string{"projectId"}, Count: 8}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, common.ErrInvalidShardConfig)
			}
		})
	}
}

func TestRoute_Deterministic(t *testing.T) {
	cfg := Config{Prefix: "block_node", Columns: []string{"projectId", "repoName"}, Count: 8}
	r, err := NewRouter(map[string]Config{"block_node": cfg})
	require.NoError(t, err)

	a, err := r.Route("block_node", []string{"ops", "generic"})
	require.NoError(t, err)
	b, err := r.Route("block_node", []string{"ops", "generic"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := NewRouter(map[string]Config{"block_node": cfg})
	require.NoError(t, err)
	c, err := other.Route("block_node", []string{"ops", "generic"})
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestRoute_AllSuffixesReachable(t *testing.T) {
	cfg := Config{Prefix: "block_node", Columns: []string{"projectId"}, Count: 8}

	hits := make([]int, cfg.Count)
	const n = 8000
	for i := 0; i < n; i++ {
		hits[cfg.Suffix([]string{fmt.Sprintf("project-%d", i)})]++
	}
	for suffix, count := range hits {
		assert.Greater(t, count, n/cfg.Count/2, "suffix %d starved", suffix)
	}
}

func TestRoute_Errors(t *testing.T) {
	r, err := NewRouter(map[string]Config{
		"block_node": {Prefix: "block_node", Columns: []string{"projectId"}, Count: 4},
	})
	require.NoError(t, err)

	_, err = r.Route("node", []string{"x"})
	assert.ErrorIs(t, err, common.ErrInvalidShardConfig)

	_, err = r.Route("block_node", []string{"x", "y"})
	assert.ErrorIs(t, err, common.ErrInvalidShardConfig)

	_, err = NewRouter(map[string]Config{"bad": {Prefix: "bad", Columns: []string{"a"}, Count: 3}})
	assert.ErrorIs(t, err, common.ErrInvalidShardConfig)
}

func TestCollectionFor(t *testing.T) {
	cfg := Config{Prefix: "block_node", Columns: []string{"projectId"}, Count: 4}
	r, err := NewRouter(map[string]Config{"block_node": cfg})
	require.NoError(t, err)

	name, err := r.CollectionFor("block_node", row{"projectId": "ops"})
	require.NoError(t, err)
	assert.Equal(t, CollectionName("block_node", cfg.Suffix([]string{"ops"})), name)

	_, err = r.CollectionFor("block_node", row{"repoName": "x"})
	assert.ErrorIs(t, err, common.ErrInvalidShardConfig)
}

func TestCollectionNames(t *testing.T) {
	cfg := Config{Prefix: "block_node_v2", Columns: []string{"projectId"}, Count: 4}
	assert.Equal(t, []string{"block_node_v2_0", "block_node_v2_1", "block_node_v2_2", "block_node_v2_3"}, cfg.CollectionNames())
}
