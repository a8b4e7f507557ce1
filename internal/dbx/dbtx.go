// Package dbx holds the database plumbing shared by the postgres repositories:
// the DBTX handle they are built on, transaction scoping and SQLSTATE checks.
package dbx

import (
	"context"
	"database/sql"
	"time"

	"github.com/sethvargo/go-retry"
)

// DBTX is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Beginner is implemented by handles that can open a transaction, i.e. *sql.DB.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var (
	txAttempts = uint64(3)
	txBackoff  = 20 * time.Millisecond
)

// WithTx runs fn inside a transaction.
//
// When db can begin transactions a new one is opened, committed when fn
// succeeds and rolled back otherwise; panics roll back and are rethrown.
// A serialization failure or deadlock reported by fn or by COMMIT reruns the
// whole attempt a few times with exponential backoff, so fn must be safe to
// repeat. Any other DBTX (an enclosing *sql.Tx) is passed to fn as is, which
// lets a repository method join its caller's transaction.
func WithTx(ctx context.Context, db DBTX, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) error {
	b, ok := db.(Beginner)
	if !ok {
		return fn(ctx, db)
	}

	backoff := retry.WithMaxRetries(txAttempts-1, retry.NewExponential(txBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := runTx(ctx, b, opts, fn)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func runTx(ctx context.Context, b Beginner, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := b.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}
