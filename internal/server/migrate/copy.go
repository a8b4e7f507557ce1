package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore"
	"github.com/dmitrijs2005/repostore/internal/server/blocks"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

// MigrateStorageRequest copies the blobs of live blocks from one storage
// credential to another, optionally limited to one project.
type MigrateStorageRequest struct {
	SrcCredentialsKey *string `json:"srcCredentialsKey"`
	DstCredentialsKey *string `json:"dstCredentialsKey"`
	ProjectID         string  `json:"projectId"`
}

type CopyBlocksJob struct {
	deps   Deps
	req    MigrateStorageRequest
	srcKey string
	dst    blobstore.BlobStore
	src    blobstore.BlobStore
}

func NewCopyBlocksJob(d Deps, req MigrateStorageRequest) (*CopyBlocksJob, error) {
	src, err := d.Stores.Get(req.SrcCredentialsKey)
	if err != nil {
		return nil, err
	}
	dst, err := d.Stores.Get(req.DstCredentialsKey)
	if err != nil {
		return nil, err
	}

	srcKey := d.Stores.Resolve(req.SrcCredentialsKey)
	if srcKey == d.Stores.Resolve(req.DstCredentialsKey) {
		return nil, fmt.Errorf("source and destination are both %q: %w", srcKey, common.ErrInvalidInput)
	}
	return &CopyBlocksJob{deps: d, req: req, srcKey: srcKey, src: src, dst: dst}, nil
}

func (j *CopyBlocksJob) Name() string {
	name := fmt.Sprintf("%s:%s->%s", JobMigrateStorage, j.srcKey, j.deps.Stores.Resolve(j.req.DstCredentialsKey))
	if j.req.ProjectID != "" {
		name += ":" + j.req.ProjectID
	}
	return name
}

func (j *CopyBlocksJob) Prepare(ctx context.Context) error {
	return j.dst.Ping(ctx)
}

func (j *CopyBlocksJob) Collections(ctx context.Context) ([]string, error) {
	cfg, err := j.deps.Router.Config(blocks.Entity)
	if err != nil {
		return nil, err
	}
	return cfg.CollectionNames(), nil
}

func (j *CopyBlocksJob) Scan(ctx context.Context, collection, afterID string, limit int) ([]Item, error) {
	return scanBlockNodes(ctx, j.deps, collection, afterID, limit, func(n models.BlockNode) string { return n.Sha256 })
}

func (j *CopyBlocksJob) concerns(n models.BlockNode) bool {
	if !n.IsLive() {
		return false
	}
	if j.req.ProjectID != "" && n.ProjectID != j.req.ProjectID {
		return false
	}
	return j.deps.Stores.Resolve(n.StorageCredentialsKey) == j.srcKey
}

// Process copies one blob. A destination that already holds the digest is
// left alone; destination errors abort the run.
func (j *CopyBlocksJob) Process(ctx context.Context, jc *JobActionContext, item Item) error {
	node := item.Payload.(models.BlockNode)
	if !j.concerns(node) {
		return ErrSkipItem
	}

	path, err := j.deps.Locator.Locate(node.Sha256)
	if err != nil {
		return err
	}

	exists, err := j.dst.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		data, err := j.dst.Get(ctx, path)
		if err != nil {
			return err
		}
		if got := j.deps.Locator.FromBytes(data); got != node.Sha256 {
			return common.WithSha256("copy block", node.Sha256,
				fmt.Errorf("destination holds %s: %w", got, common.ErrInvalidDigest))
		}
		return nil
	}

	data, err := j.src.Get(ctx, path)
	if err != nil {
		if errors.Is(err, common.ErrUnavailable) {
			return err
		}
		return common.WithSha256("copy block", node.Sha256, err)
	}
	if got := j.deps.Locator.FromBytes(data); got != node.Sha256 {
		return common.WithSha256("copy block", node.Sha256,
			fmt.Errorf("source holds %s: %w", got, common.ErrInvalidDigest))
	}

	if _, err := j.dst.Put(ctx, path, data); err != nil {
		return err
	}
	return nil
}
