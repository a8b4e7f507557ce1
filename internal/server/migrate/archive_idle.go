package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/archive"
	"github.com/dmitrijs2005/repostore/internal/server/blocks"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

// ArchiveIdleRequest selects finalized blocks created more than IdleDays ago
// and at least MinSize bytes long.
type ArchiveIdleRequest struct {
	IdleDays int    `json:"idleDays"`
	MinSize  int64  `json:"minSize"`
	Project  string `json:"projectId"`
}

type ArchiveIdleBlocksJob struct {
	deps   Deps
	req    ArchiveIdleRequest
	cutoff time.Time
}

func NewArchiveIdleBlocksJob(d Deps, req ArchiveIdleRequest) (*ArchiveIdleBlocksJob, error) {
	if d.Archive == nil {
		return nil, fmt.Errorf("archive engine is not configured: %w", common.ErrInvalidInput)
	}
	if req.IdleDays <= 0 {
		return nil, fmt.Errorf("idle days must be positive: %w", common.ErrInvalidInput)
	}
	return &ArchiveIdleBlocksJob{deps: d, req: req}, nil
}

func (j *ArchiveIdleBlocksJob) Name() string {
	return fmt.Sprintf("%s:%dd", JobArchiveIdleBlocks, j.req.IdleDays)
}

func (j *ArchiveIdleBlocksJob) Prepare(ctx context.Context) error {
	j.cutoff = j.deps.now().UTC().Add(-time.Duration(j.req.IdleDays) * 24 * time.Hour)
	return nil
}

func (j *ArchiveIdleBlocksJob) Collections(ctx context.Context) ([]string, error) {
	cfg, err := j.deps.Router.Config(blocks.Entity)
	if err != nil {
		return nil, err
	}
	return cfg.CollectionNames(), nil
}

func (j *ArchiveIdleBlocksJob) Scan(ctx context.Context, collection, afterID string, limit int) ([]Item, error) {
	return scanBlockNodes(ctx, j.deps, collection, afterID, limit, func(n models.BlockNode) string {
		return n.Sha256 + "@" + j.deps.Stores.Resolve(n.StorageCredentialsKey)
	})
}

func (j *ArchiveIdleBlocksJob) idle(n models.BlockNode) bool {
	return n.IsLive() && n.ExpireDate == nil && n.CreatedDate.Before(j.cutoff) && n.Size >= j.req.MinSize &&
		(j.req.Project == "" || n.ProjectID == j.req.Project)
}

func (j *ArchiveIdleBlocksJob) Process(ctx context.Context, jc *JobActionContext, item Item) error {
	node := item.Payload.(models.BlockNode)
	if !j.idle(node) {
		return ErrSkipItem
	}
	_, err := j.deps.Archive.RequestCompress(ctx, archive.CompressRequest{
		Sha256:           node.Sha256,
		CredentialsKey:   node.StorageCredentialsKey,
		UncompressedSize: node.Size,
		Operator:         j.deps.Operator,
	})
	return err
}
