// Package archive owns the archive-file state machine. Every status change
// is a compare-and-set on the stored status, so concurrent workers racing
// for the same record cannot both win.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/digest"
	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore"
	"github.com/dmitrijs2005/repostore/internal/server/metrics"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/archivefiles"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const DefaultMaxChainLength = 3

type CompressRequest struct {
	Sha256           string
	CredentialsKey   *string
	BaseSha256       *string
	UncompressedSize int64
	Operator         string
}

type Engine struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	stores      *blobstore.Registry
	locator     *digest.Locator
	policy      RestorePolicy
	maxChain    int
	operator    string
	metrics     metrics.Recorder
	log         logging.Logger
	now         func() time.Time
}

// NewEngine builds an engine. operator is recorded as last_modified_by on
// transitions that have no caller-supplied operator.
func NewEngine(db *sql.DB, m repomanager.RepositoryManager, stores *blobstore.Registry, locator *digest.Locator,
	policy RestorePolicy, maxChain int, operator string, rec metrics.Recorder, log logging.Logger) *Engine {
	if maxChain <= 0 {
		maxChain = DefaultMaxChainLength
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Engine{
		db:          db,
		repomanager: m,
		stores:      stores,
		locator:     locator,
		policy:      policy,
		maxChain:    maxChain,
		operator:    operator,
		metrics:     rec,
		log:         log.With("component", "archive"),
		now:         time.Now,
	}
}

func (e *Engine) repo() archivefiles.Repository {
	return e.repomanager.ArchiveFiles(e.db)
}

// MaxChainLength is the longest allowed base chain.
func (e *Engine) MaxChainLength() int {
	return e.maxChain
}

func (e *Engine) transition(ctx context.Context, f *models.ArchiveFile, to models.ArchiveStatus, patch models.ArchivePatch) (*models.ArchiveFile, error) {
	if !models.CanTransition(f.Status, to) {
		return nil, common.WithSha256("transition", f.Sha256,
			fmt.Errorf("%s -> %s: %w", f.Status, to, common.ErrIllegalTransition))
	}
	if patch.ModifiedBy == "" {
		patch.ModifiedBy = e.operator
	}

	at := e.now().UTC()
	if err := e.repo().CompareAndSetStatus(ctx, f.ID, f.Status, to, patch, at); err != nil {
		return nil, common.WithSha256("transition", f.Sha256, fmt.Errorf("%s -> %s: %w", f.Status, to, err))
	}

	out := *f
	out.Status = to
	out.LastModifiedBy = patch.ModifiedBy
	out.LastModifiedDate = at
	if patch.CompressedSize != nil {
		out.CompressedSize = *patch.CompressedSize
	}
	if patch.BaseSha256 != nil {
		out.BaseSha256 = patch.BaseSha256
	}
	if patch.ChainLength != nil {
		out.ChainLength = *patch.ChainLength
	}

	e.metrics.ArchiveTransition(ctx, string(f.Status), string(to))
	e.log.Debug(ctx, "archive transition", "sha256", f.Sha256, "from", f.Status, "to", to)
	return &out, nil
}

func (e *Engine) Get(ctx context.Context, sha256 string, key *string) (*models.ArchiveFile, error) {
	f, err := e.repo().Get(ctx, sha256, key)
	if err != nil {
		return nil, common.WithSha256("get archive file", sha256, err)
	}
	return f, nil
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// List returns up to limit records in status, least recently modified first.
func (e *Engine) List(ctx context.Context, status models.ArchiveStatus, limit int) ([]models.ArchiveFile, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("status %q: %w", status, common.ErrInvalidInput)
	}
	return e.repo().ListByStatus(ctx, status, farFuture, limit)
}

// RegisterRoot records sha256 as a chain root that is not archived itself.
// It returns the existing record if there is one.
func (e *Engine) RegisterRoot(ctx context.Context, sha256 string, key *string, size int64, operator string) (*models.ArchiveFile, error) {
	if err := e.locator.Validate(sha256); err != nil {
		return nil, err
	}

	repo := e.repo()
	if f, err := repo.Get(ctx, sha256, key); err == nil {
		return f, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	now := e.now().UTC()
	f := &models.ArchiveFile{
		ID:                    uuid.NewString(),
		Sha256:                sha256,
		StorageCredentialsKey: key,
		Status:                models.ArchiveNone,
		CompressedSize:        -1,
		UncompressedSize:      size,
		CreatedBy:             operator,
		CreatedDate:           now,
		LastModifiedBy:        operator,
		LastModifiedDate:      now,
	}
	if err := repo.Create(ctx, f); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return repo.Get(ctx, sha256, key)
		}
		return nil, common.WithSha256("register root", sha256, err)
	}
	return f, nil
}

// chainFor returns the chain length a new entry compressed against base
// would get, enforcing the configured maximum.
func (e *Engine) chainFor(ctx context.Context, base string, key *string) (int, error) {
	b, err := e.repo().Get(ctx, base, key)
	if err != nil {
		return 0, common.WithSha256("resolve base", base, err)
	}

	chain := b.ChainLength + 1
	if chain > e.maxChain {
		if b.Status == models.ArchiveCompressed || b.Status == models.ArchiveCompleted {
			return 0, common.WithSha256("resolve base", base,
				fmt.Errorf("base status %s, chain %d: %w", b.Status, chain, common.ErrBaseCompressed))
		}
		return 0, common.WithSha256("resolve base", base,
			fmt.Errorf("chain %d > %d: %w", chain, e.maxChain, common.ErrExceedMaxChainLength))
	}
	return chain, nil
}

// RequestCompress queues sha256 for compression. A record that is already
// past NONE is returned unchanged.
func (e *Engine) RequestCompress(ctx context.Context, req CompressRequest) (*models.ArchiveFile, error) {
	if err := e.locator.Validate(req.Sha256); err != nil {
		return nil, err
	}
	if req.BaseSha256 != nil {
		if err := e.locator.Validate(*req.BaseSha256); err != nil {
			return nil, err
		}
		if *req.BaseSha256 == req.Sha256 {
			return nil, common.WithSha256("request compress", req.Sha256,
				fmt.Errorf("entry cannot be its own base: %w", common.ErrInvalidInput))
		}
	}

	repo := e.repo()
	existing, err := repo.Get(ctx, req.Sha256, req.CredentialsKey)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status != models.ArchiveNone {
		return existing, nil
	}

	chain := 0
	if req.BaseSha256 != nil {
		if chain, err = e.chainFor(ctx, *req.BaseSha256, req.CredentialsKey); err != nil {
			return nil, err
		}
	}

	if existing != nil {
		n, err := repo.CountDependents(ctx, req.Sha256, req.CredentialsKey)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, common.WithSha256("request compress", req.Sha256,
				fmt.Errorf("%d dependents: %w", n, common.ErrBaseInUse))
		}
		return e.transition(ctx, existing, models.ArchiveCreated, models.ArchivePatch{
			BaseSha256:  req.BaseSha256,
			ChainLength: &chain,
			ModifiedBy:  req.Operator,
		})
	}

	now := e.now().UTC()
	f := &models.ArchiveFile{
		ID:                    uuid.NewString(),
		Sha256:                req.Sha256,
		StorageCredentialsKey: req.CredentialsKey,
		Status:                models.ArchiveCreated,
		BaseSha256:            req.BaseSha256,
		ChainLength:           chain,
		CompressedSize:        -1,
		UncompressedSize:      req.UncompressedSize,
		CreatedBy:             req.Operator,
		CreatedDate:           now,
		LastModifiedBy:        req.Operator,
		LastModifiedDate:      now,
	}
	if err := repo.Create(ctx, f); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return repo.Get(ctx, req.Sha256, req.CredentialsKey)
		}
		return nil, common.WithSha256("request compress", req.Sha256, err)
	}

	e.metrics.ArchiveTransition(ctx, string(models.ArchiveNone), string(models.ArchiveCreated))
	e.log.Info(ctx, "compression requested", "sha256", req.Sha256, "chain", chain)
	return f, nil
}

// begin moves f into the in-flight status `to` unless it is there already.
// Losing the compare-and-set to another worker is not an error.
func (e *Engine) begin(ctx context.Context, sha256 string, key *string, to models.ArchiveStatus) (*models.ArchiveFile, bool, error) {
	f, err := e.Get(ctx, sha256, key)
	if err != nil {
		return nil, false, err
	}
	if f.Status == to {
		return f, false, nil
	}

	out, err := e.transition(ctx, f, to, models.ArchivePatch{})
	if err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			return f, false, nil
		}
		return nil, false, err
	}
	return out, true, nil
}

// BeginCompression claims a CREATED or COMPRESS_FAILED record. acquired is
// false when another worker got there first.
func (e *Engine) BeginCompression(ctx context.Context, sha256 string, key *string) (*models.ArchiveFile, bool, error) {
	return e.begin(ctx, sha256, key, models.ArchiveCompressing)
}

func (e *Engine) CompleteCompression(ctx context.Context, sha256 string, key *string, compressedSize int64) (*models.ArchiveFile, error) {
	f, err := e.Get(ctx, sha256, key)
	if err != nil {
		return nil, err
	}
	return e.transition(ctx, f, models.ArchiveCompressed, models.ArchivePatch{CompressedSize: &compressedSize})
}

// ConfirmCompression marks the swap to the compressed copy as done.
func (e *Engine) ConfirmCompression(ctx context.Context, sha256 string, key *string) (*models.ArchiveFile, error) {
	f, err := e.Get(ctx, sha256, key)
	if err != nil {
		return nil, err
	}
	if f.Status == models.ArchiveCompleted {
		return f, nil
	}
	return e.transition(ctx, f, models.ArchiveCompleted, models.ArchivePatch{})
}

func (e *Engine) FailCompression(ctx context.Context, sha256 string, key *string, cause error) (*models.ArchiveFile, error) {
	f, err := e.Get(ctx, sha256, key)
	if err != nil {
		return nil, err
	}
	e.log.Warn(ctx, "compression failed", "sha256", sha256, "error", cause)
	return e.transition(ctx, f, models.ArchiveCompressFailed, models.ArchivePatch{})
}

func onRestorePath(s models.ArchiveStatus) bool {
	switch s {
	case models.ArchiveWaitToUncompress, models.ArchiveUncompressing, models.ArchiveUncompressFailed, models.ArchiveUncompressed:
		return true
	}
	return false
}

// RequestRestore queues an archived record for decompression, subject to
// the restore policy. The policy is consulted again once the record is
// queued; if racing requests overshot the ceiling, the record is put back
// and the caller gets ErrRestoreCountLimit. Racing requests may all be put
// back, never all admitted.
func (e *Engine) RequestRestore(ctx context.Context, sha256 string, key *string, operator string) (*models.ArchiveFile, error) {
	f, err := e.Get(ctx, sha256, key)
	if err != nil {
		return nil, err
	}
	if onRestorePath(f.Status) {
		return f, nil
	}
	if f.Status != models.ArchiveCompleted && f.Status != models.ArchiveCompressed {
		return nil, common.WithSha256("request restore", sha256,
			fmt.Errorf("status %s: %w", f.Status, common.ErrIllegalTransition))
	}

	if e.policy != nil {
		if err := e.policy.Allow(ctx, f); err != nil {
			return nil, common.WithSha256("request restore", sha256, err)
		}
	}

	out, err := e.transition(ctx, f, models.ArchiveWaitToUncompress, models.ArchivePatch{ModifiedBy: operator})
	if err != nil {
		return nil, err
	}

	if e.policy != nil {
		if perr := e.policy.Admitted(ctx, out); perr != nil {
			err := e.withdrawRestore(ctx, out, f.Status)
			if !errors.Is(err, common.ErrStatusConflict) {
				return nil, common.WithSha256("request restore", sha256, errors.Join(perr, err))
			}
			// a worker picked it up already; the restore goes ahead
			e.log.Warn(ctx, "restore over the limit already started", "sha256", sha256)
		}
	}
	e.log.Info(ctx, "restore requested", "sha256", sha256)
	return out, nil
}

// withdrawRestore returns a queued record to the status it had before the
// restore request. This is the one move outside the transition table.
func (e *Engine) withdrawRestore(ctx context.Context, f *models.ArchiveFile, back models.ArchiveStatus) error {
	err := e.repo().CompareAndSetStatus(ctx, f.ID, models.ArchiveWaitToUncompress, back,
		models.ArchivePatch{ModifiedBy: e.operator}, e.now().UTC())
	if err != nil {
		return err
	}
	e.metrics.ArchiveTransition(ctx, string(models.ArchiveWaitToUncompress), string(back))
	return nil
}

func (e *Engine) BeginUncompression(ctx context.Context, sha256 string, key *string) (*models.ArchiveFile, bool, error) {
	return e.begin(ctx, sha256, key, models.ArchiveUncompressing)
}

func (e *Engine) CompleteUncompression(ctx context.Context, sha256 string, key *string) (*models.ArchiveFile, error) {
	f, err := e.Get(ctx, sha256, key)
	if err != nil {
		return nil, err
	}
	return e.transition(ctx, f, models.ArchiveUncompressed, models.ArchivePatch{})
}

func (e *Engine) FailUncompression(ctx context.Context, sha256 string, key *string, cause error) (*models.ArchiveFile, error) {
	f, err := e.Get(ctx, sha256, key)
	if err != nil {
		return nil, err
	}
	e.log.Warn(ctx, "uncompression failed", "sha256", sha256, "error", cause)
	return e.transition(ctx, f, models.ArchiveUncompressFailed, models.ArchivePatch{})
}

// Delete removes a settled record and reclaims its compressed copy.
func (e *Engine) Delete(ctx context.Context, sha256 string, key *string) error {
	f, err := e.Get(ctx, sha256, key)
	if err != nil {
		return err
	}
	if !f.Status.Deletable() {
		return common.WithSha256("delete archive file", sha256,
			fmt.Errorf("status %s: %w", f.Status, common.ErrIllegalTransition))
	}

	repo := e.repo()
	n, err := repo.CountDependents(ctx, sha256, key)
	if err != nil {
		return err
	}
	if n > 0 {
		return common.WithSha256("delete archive file", sha256, fmt.Errorf("%d dependents: %w", n, common.ErrBaseInUse))
	}

	// The blob goes first so a failure leaves a record the caller can retry
	// the delete on. Missing blobs are not an error.
	if f.Status.HoldsCompressedBytes() {
		store, err := e.stores.Get(key)
		if err != nil {
			return err
		}
		path, err := e.locator.Locate(sha256)
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, store.CompressedPath(path)); err != nil && !errors.Is(err, common.ErrBlobNotFound) {
			return common.WithSha256("delete compressed copy", sha256, err)
		}
	}

	if err := repo.Delete(ctx, f.ID, f.Status); err != nil {
		return common.WithSha256("delete archive file", sha256, err)
	}

	e.log.Info(ctx, "archive file deleted", "sha256", sha256, "status", f.Status)
	return nil
}

// BaseContent returns the original bytes of f's base, or nil for a chain
// root. Archived bases are inflated recursively.
func (e *Engine) BaseContent(ctx context.Context, f *models.ArchiveFile) ([]byte, error) {
	if f.BaseSha256 == nil {
		return nil, nil
	}
	return e.originalContent(ctx, *f.BaseSha256, f.StorageCredentialsKey, e.maxChain+1)
}

func (e *Engine) originalContent(ctx context.Context, sha256 string, key *string, depth int) ([]byte, error) {
	if depth < 0 {
		return nil, common.WithSha256("resolve base", sha256, common.ErrExceedMaxChainLength)
	}

	store, err := e.stores.Get(key)
	if err != nil {
		return nil, err
	}
	path, err := e.locator.Locate(sha256)
	if err != nil {
		return nil, err
	}

	data, err := store.Get(ctx, path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, common.ErrBlobNotFound) {
		return nil, err
	}

	f, ferr := e.repo().Get(ctx, sha256, key)
	if ferr != nil || !f.Status.HoldsCompressedBytes() {
		return nil, common.WithSha256("resolve base", sha256, err)
	}

	var dict []byte
	if f.BaseSha256 != nil {
		if dict, err = e.originalContent(ctx, *f.BaseSha256, key, depth-1); err != nil {
			return nil, err
		}
	}
	return store.Inflate(ctx, store.CompressedPath(path), dict)
}
