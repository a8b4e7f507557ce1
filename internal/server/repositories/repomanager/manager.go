package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/repostore/internal/dbx"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/archivefiles"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/blocknodes"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/jobsnapshots"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// path works against a pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	BlockNodes(db dbx.DBTX) blocknodes.Repository
	ArchiveFiles(db dbx.DBTX) archivefiles.Repository
	JobSnapshots(db dbx.DBTX) jobsnapshots.Repository
}
