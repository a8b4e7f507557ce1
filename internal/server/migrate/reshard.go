package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/blocks"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/dmitrijs2005/repostore/internal/shard"
)

// MigrateBlockNodeRequest moves block nodes from the current layout into a
// new prefix, column set or table count. Old tables are left untouched.
type MigrateBlockNodeRequest struct {
	OldCollectionNamePrefix string   `json:"oldCollectionNamePrefix"`
	NewCollectionNamePrefix string   `json:"newCollectionNamePrefix"`
	NewShardingColumns      []string `json:"newShardingColumns"`
	NewShardingCount        int      `json:"newShardingCount"`
}

type ReshardBlockNodesJob struct {
	deps Deps
	old  shard.Config
	new  shard.Config
}

// NewReshardBlockNodesJob takes the old columns and count from the current
// block node layout.
func NewReshardBlockNodesJob(d Deps, req MigrateBlockNodeRequest) (*ReshardBlockNodesJob, error) {
	current, err := d.Router.Config(blocks.Entity)
	if err != nil {
		return nil, err
	}

	old := current
	if req.OldCollectionNamePrefix != "" {
		old.Prefix = req.OldCollectionNamePrefix
	}

	next := shard.Config{
		Prefix:  req.NewCollectionNamePrefix,
		Columns: req.NewShardingColumns,
		Count:   req.NewShardingCount,
	}
	if len(next.Columns) == 0 {
		next.Columns = old.Columns
	}
	if next.Count == 0 {
		next.Count = old.Count
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if next.Prefix == old.Prefix {
		return nil, fmt.Errorf("new prefix must differ from %q: %w", old.Prefix, common.ErrInvalidInput)
	}

	for _, col := range next.Columns {
		if _, ok := (&models.BlockNode{}).ShardValue(col); !ok {
			return nil, fmt.Errorf("block nodes have no column %q: %w", col, common.ErrInvalidShardConfig)
		}
	}

	return &ReshardBlockNodesJob{deps: d, old: old, new: next}, nil
}

// Name carries the whole target layout so a run towards a different column
// set or count never resumes another layout's checkpoint.
func (j *ReshardBlockNodesJob) Name() string {
	return fmt.Sprintf("%s:%s->%s(%s)x%d", JobMigrateBlockNode, j.old.Prefix, j.new.Prefix,
		strings.Join(j.new.Columns, ","), j.new.Count)
}

func (j *ReshardBlockNodesJob) Prepare(ctx context.Context) error {
	return j.deps.blockNodes().EnsureCollections(ctx, j.new)
}

func (j *ReshardBlockNodesJob) Collections(ctx context.Context) ([]string, error) {
	return j.old.CollectionNames(), nil
}

func (j *ReshardBlockNodesJob) Scan(ctx context.Context, collection, afterID string, limit int) ([]Item, error) {
	return scanBlockNodes(ctx, j.deps, collection, afterID, limit, nil)
}

func (j *ReshardBlockNodesJob) Process(ctx context.Context, jc *JobActionContext, item Item) error {
	node := item.Payload.(models.BlockNode)
	table, err := j.new.CollectionFor(&node)
	if err != nil {
		return err
	}
	_, err = j.deps.blockNodes().Copy(ctx, table, &node)
	return err
}

// scanBlockNodes pages a block node table; key, when set, derives the dedup
// key of each item.
func scanBlockNodes(ctx context.Context, d Deps, table, afterID string, limit int, key func(models.BlockNode) string) ([]Item, error) {
	nodes, err := d.blockNodes().Scan(ctx, table, afterID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(nodes))
	for i, n := range nodes {
		items[i] = Item{ID: n.ID, Payload: n}
		if key != nil {
			items[i].Key = key(n)
		}
	}
	return items, nil
}
