package archive

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

// RestorePolicy decides whether another restore may start. Allow is asked
// before f is queued; Admitted is asked once f is already counted as in
// flight, and an error there makes the engine take the request back.
type RestorePolicy interface {
	Allow(ctx context.Context, f *models.ArchiveFile) error
	Admitted(ctx context.Context, f *models.ArchiveFile) error
}

type Scope string

const (
	ScopeGlobal     Scope = "global"
	ScopeCredential Scope = "credential"
)

// ParseScope accepts "global" (the default) and "credential".
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeCredential:
		return ScopeCredential, nil
	}
	return "", fmt.Errorf("unknown restore scope %q: %w", s, common.ErrInvalidInput)
}

type restoreCounter interface {
	CountByStatus(ctx context.Context, statuses []models.ArchiveStatus) (int64, error)
	CountByStatusAndKey(ctx context.Context, statuses []models.ArchiveStatus, key *string) (int64, error)
}

var inFlightRestore = []models.ArchiveStatus{models.ArchiveWaitToUncompress, models.ArchiveUncompressing}

// CountingRestorePolicy caps the number of restores waiting or running,
// either across all credentials or per credential. Limit <= 0 disables it.
type CountingRestorePolicy struct {
	Counter restoreCounter
	Limit   int64
	Scope   Scope
}

func (p *CountingRestorePolicy) count(ctx context.Context, f *models.ArchiveFile) (int64, error) {
	if p.Scope == ScopeCredential {
		return p.Counter.CountByStatusAndKey(ctx, inFlightRestore, f.StorageCredentialsKey)
	}
	return p.Counter.CountByStatus(ctx, inFlightRestore)
}

func (p *CountingRestorePolicy) Allow(ctx context.Context, f *models.ArchiveFile) error {
	if p.Limit <= 0 {
		return nil
	}
	n, err := p.count(ctx, f)
	if err != nil {
		return err
	}
	if n >= p.Limit {
		return fmt.Errorf("%d restores in flight, limit %d: %w", n, p.Limit, common.ErrRestoreCountLimit)
	}
	return nil
}

// Admitted catches requests that passed Allow concurrently and together
// pushed the count over the limit. f itself is part of the count.
func (p *CountingRestorePolicy) Admitted(ctx context.Context, f *models.ArchiveFile) error {
	if p.Limit <= 0 {
		return nil
	}
	n, err := p.count(ctx, f)
	if err != nil {
		return err
	}
	if n > p.Limit {
		return fmt.Errorf("%d restores in flight, limit %d: %w", n, p.Limit, common.ErrRestoreCountLimit)
	}
	return nil
}
