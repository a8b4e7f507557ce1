// Package repomanager provides RepositoryManager implementations for
// PostgreSQL (with goose migrations) and for process memory.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/repostore/internal/dbx"
	"github.com/dmitrijs2005/repostore/internal/server/migrations"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/archivefiles"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/blocknodes"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/jobsnapshots"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// BlockNodes returns a blocknodes.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) BlockNodes(db dbx.DBTX) blocknodes.Repository {
	return blocknodes.NewPostgresRepository(db)
}

// ArchiveFiles returns an archivefiles.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) ArchiveFiles(db dbx.DBTX) archivefiles.Repository {
	return archivefiles.NewPostgresRepository(db)
}

// JobSnapshots returns a jobsnapshots.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) JobSnapshots(db dbx.DBTX) jobsnapshots.Repository {
	return jobsnapshots.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
