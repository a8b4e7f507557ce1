package migrate

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/repostore/internal/digest"
	"github.com/dmitrijs2005/repostore/internal/server/archive"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/blocknodes"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/repostore/internal/shard"
)

// Job ids accepted by the trigger API.
const (
	JobMigrateBlockNode  = "migrate-block-node"
	JobMigrateStorage    = "migrate-storage"
	JobArchiveIdleBlocks = "archive-idle-blocks"
)

// Deps are the services jobs are built from.
type Deps struct {
	DB          *sql.DB
	Repos       repomanager.RepositoryManager
	Router      *shard.Router
	Locator     *digest.Locator
	Stores      *blobstore.Registry
	Archive     *archive.Engine
	Operator    string
	IdleDays    int
	MinIdleSize int64
	Now         func() time.Time
}

func (d Deps) blockNodes() blocknodes.Repository {
	return d.Repos.BlockNodes(d.DB)
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// RegisterDefaults registers every built-in job.
func RegisterDefaults(r *Registry, d Deps) {
	r.Register(JobMigrateBlockNode, func(param json.RawMessage) (Job, error) {
		var req MigrateBlockNodeRequest
		if err := decodeParam(param, &req); err != nil {
			return nil, err
		}
		return NewReshardBlockNodesJob(d, req)
	})
	r.Register(JobMigrateStorage, func(param json.RawMessage) (Job, error) {
		var req MigrateStorageRequest
		if err := decodeParam(param, &req); err != nil {
			return nil, err
		}
		return NewCopyBlocksJob(d, req)
	})
	r.Register(JobArchiveIdleBlocks, func(param json.RawMessage) (Job, error) {
		req := ArchiveIdleRequest{IdleDays: d.IdleDays, MinSize: d.MinIdleSize}
		if err := decodeParam(param, &req); err != nil {
			return nil, err
		}
		return NewArchiveIdleBlocksJob(d, req)
	})
}
