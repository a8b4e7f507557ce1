package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/repostore/internal/dbx"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/archivefiles"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/blocknodes"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/jobsnapshots"
)

// InMemoryRepositoryManager returns the same process-local repositories for
// every handle. It has no schema and ignores the DBTX argument.
type InMemoryRepositoryManager struct {
	blockNodes   *blocknodes.MemoryRepository
	archiveFiles *archivefiles.MemoryRepository
	jobSnapshots *jobsnapshots.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		blockNodes:   blocknodes.NewMemoryRepository(),
		archiveFiles: archivefiles.NewMemoryRepository(),
		jobSnapshots: jobsnapshots.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) BlockNodes(dbx.DBTX) blocknodes.Repository {
	return m.blockNodes
}

func (m *InMemoryRepositoryManager) ArchiveFiles(dbx.DBTX) archivefiles.Repository {
	return m.archiveFiles
}

func (m *InMemoryRepositoryManager) JobSnapshots(dbx.DBTX) jobsnapshots.Repository {
	return m.jobSnapshots
}
