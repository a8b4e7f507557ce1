package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/sethvargo/go-retry"
)

type WorkerConfig struct {
	Workers       int
	SweepInterval time.Duration
	// StaleAfter is how long an in-flight record may sit unmodified before
	// another worker takes it over.
	StaleAfter time.Duration
	// RetryTimes bounds blob calls per task and sweeps of failed records.
	RetryTimes int
	BatchSize  int
	// Backoff is the first retry delay of a blob call.
	Backoff time.Duration
}

type taskKind int

const (
	taskCompress taskKind = iota
	taskResumeCompress
	taskConfirm
	taskUncompress
	taskResumeUncompress
)

type task struct {
	kind taskKind
	file models.ArchiveFile
}

// Worker drives records through compression and restore. A periodic sweep
// picks up new requests, failed attempts and records abandoned by crashed
// workers.
type Worker struct {
	engine *Engine
	cfg    WorkerConfig
	log    logging.Logger

	mu       sync.Mutex
	failures map[string]int
}

func NewWorker(engine *Engine, cfg WorkerConfig, log logging.Logger) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.RetryTimes <= 0 {
		cfg.RetryTimes = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Worker{
		engine:   engine,
		cfg:      cfg,
		log:      log.With("component", "archive-worker"),
		failures: make(map[string]int),
	}
}

// Run sweeps every SweepInterval until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	tasks := make(chan task)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				w.handle(ctx, t)
			}
		}()
	}

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer func() {
		ticker.Stop()
		close(tasks)
		wg.Wait()
	}()

	for {
		pending, err := w.sweep(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error(ctx, "archive sweep failed", "error", err)
		}
	feed:
		for _, t := range pending {
			select {
			case tasks <- t:
			case <-ctx.Done():
				break feed
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps and processes every pending record inline.
func (w *Worker) RunOnce(ctx context.Context) error {
	pending, err := w.sweep(ctx)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.handle(ctx, t)
	}
	return nil
}

func (w *Worker) retriesLeft(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures[id] < w.cfg.RetryTimes
}

func (w *Worker) recordFailure(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[id]++
}

func (w *Worker) clearFailures(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.failures, id)
}

func (w *Worker) sweep(ctx context.Context) ([]task, error) {
	now := w.engine.now().UTC()
	stale := now.Add(-w.cfg.StaleAfter)
	repo := w.engine.repo()

	queries := []struct {
		status models.ArchiveStatus
		before time.Time
		kind   taskKind
		retry  bool
	}{
		{models.ArchiveCreated, farFuture, taskCompress, false},
		{models.ArchiveCompressFailed, farFuture, taskCompress, true},
		{models.ArchiveCompressing, stale, taskResumeCompress, false},
		{models.ArchiveCompressed, stale, taskConfirm, false},
		{models.ArchiveWaitToUncompress, farFuture, taskUncompress, false},
		{models.ArchiveUncompressFailed, farFuture, taskUncompress, true},
		{models.ArchiveUncompressing, stale, taskResumeUncompress, false},
	}

	var out []task
	for _, q := range queries {
		files, err := repo.ListByStatus(ctx, q.status, q.before, w.cfg.BatchSize)
		if err != nil {
			return out, err
		}
		for _, f := range files {
			if q.retry && !w.retriesLeft(f.ID) {
				continue
			}
			out = append(out, task{kind: q.kind, file: f})
		}
	}
	return out, nil
}

func (w *Worker) handle(ctx context.Context, t task) {
	f := t.file
	var err error

	switch t.kind {
	case taskCompress:
		err = w.Compress(ctx, f.Sha256, f.StorageCredentialsKey)
	case taskResumeCompress:
		err = w.takeOver(ctx, f, w.compress)
	case taskConfirm:
		err = w.confirm(ctx, &f)
	case taskUncompress:
		err = w.Uncompress(ctx, f.Sha256, f.StorageCredentialsKey)
	case taskResumeUncompress:
		err = w.takeOver(ctx, f, w.uncompress)
	}

	if err != nil {
		if !errors.Is(err, common.ErrStatusConflict) {
			w.recordFailure(f.ID)
		}
		w.log.Warn(ctx, "archive task failed", "sha256", f.Sha256, "status", f.Status, "error", err)
		return
	}
	w.clearFailures(f.ID)
}

// takeOver claims a record whose worker went silent and resumes its work.
func (w *Worker) takeOver(ctx context.Context, f models.ArchiveFile, resume func(context.Context, *models.ArchiveFile) error) error {
	at := w.engine.now().UTC()
	if err := w.engine.repo().Claim(ctx, f.ID, f.Status, f.LastModifiedDate, w.engine.operator, at); err != nil {
		return err
	}
	w.log.Info(ctx, "took over stale archive task", "sha256", f.Sha256, "status", f.Status)
	f.LastModifiedDate = at
	return resume(ctx, &f)
}

func (w *Worker) withRetry(ctx context.Context, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(uint64(w.cfg.RetryTimes-1), retry.NewExponential(w.cfg.Backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, common.ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// Compress runs the whole compression of one record.
func (w *Worker) Compress(ctx context.Context, sha256 string, key *string) error {
	f, acquired, err := w.engine.BeginCompression(ctx, sha256, key)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	return w.compress(ctx, f)
}

func (w *Worker) compress(ctx context.Context, f *models.ArchiveFile) error {
	e := w.engine
	store, err := e.stores.Get(f.StorageCredentialsKey)
	if err != nil {
		return w.failCompression(ctx, f, err)
	}
	path, err := e.locator.Locate(f.Sha256)
	if err != nil {
		return w.failCompression(ctx, f, err)
	}

	var dict []byte
	err = w.withRetry(ctx, func(ctx context.Context) error {
		var err error
		dict, err = e.BaseContent(ctx, f)
		return err
	})
	if err != nil {
		return w.failCompression(ctx, f, fmt.Errorf("base content: %w", err))
	}

	var size int64
	err = w.withRetry(ctx, func(ctx context.Context) error {
		var err error
		_, size, err = store.Compress(ctx, path, dict)
		return err
	})
	if err != nil {
		return w.failCompression(ctx, f, err)
	}

	done, err := e.CompleteCompression(ctx, f.Sha256, f.StorageCredentialsKey, size)
	if err != nil {
		return err
	}
	e.metrics.CompressedBytes(ctx, store.CodecName(), f.UncompressedSize, size)
	return w.confirm(ctx, done)
}

func (w *Worker) failCompression(ctx context.Context, f *models.ArchiveFile, cause error) error {
	if _, err := w.engine.FailCompression(ctx, f.Sha256, f.StorageCredentialsKey, cause); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// confirm drops the original once the compressed copy is recorded.
func (w *Worker) confirm(ctx context.Context, f *models.ArchiveFile) error {
	e := w.engine
	store, err := e.stores.Get(f.StorageCredentialsKey)
	if err != nil {
		return err
	}
	path, err := e.locator.Locate(f.Sha256)
	if err != nil {
		return err
	}

	ok, err := store.Exists(ctx, store.CompressedPath(path))
	if err != nil {
		return err
	}
	if !ok {
		return common.WithSha256("confirm compression", f.Sha256,
			fmt.Errorf("compressed copy missing: %w", common.ErrBlobNotFound))
	}

	if err := w.withRetry(ctx, func(ctx context.Context) error { return store.Delete(ctx, path) }); err != nil {
		return err
	}
	if _, err := e.ConfirmCompression(ctx, f.Sha256, f.StorageCredentialsKey); err != nil {
		return err
	}
	w.log.Info(ctx, "archive file compressed", "sha256", f.Sha256, "compressed_size", f.CompressedSize)
	return nil
}

// Uncompress restores the original bytes of one record.
func (w *Worker) Uncompress(ctx context.Context, sha256 string, key *string) error {
	f, acquired, err := w.engine.BeginUncompression(ctx, sha256, key)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	return w.uncompress(ctx, f)
}

func (w *Worker) uncompress(ctx context.Context, f *models.ArchiveFile) error {
	e := w.engine
	store, err := e.stores.Get(f.StorageCredentialsKey)
	if err != nil {
		return w.failUncompression(ctx, f, err)
	}
	path, err := e.locator.Locate(f.Sha256)
	if err != nil {
		return w.failUncompression(ctx, f, err)
	}

	var dict []byte
	err = w.withRetry(ctx, func(ctx context.Context) error {
		var err error
		dict, err = e.BaseContent(ctx, f)
		return err
	})
	if err != nil {
		return w.failUncompression(ctx, f, fmt.Errorf("base content: %w", err))
	}

	err = w.withRetry(ctx, func(ctx context.Context) error {
		_, err := store.Decompress(ctx, store.CompressedPath(path), dict)
		return err
	})
	if err != nil {
		return w.failUncompression(ctx, f, err)
	}

	if _, err := e.CompleteUncompression(ctx, f.Sha256, f.StorageCredentialsKey); err != nil {
		return err
	}
	w.log.Info(ctx, "archive file restored", "sha256", f.Sha256)
	return nil
}

func (w *Worker) failUncompression(ctx context.Context, f *models.ArchiveFile, cause error) error {
	if _, err := w.engine.FailUncompression(ctx, f.Sha256, f.StorageCredentialsKey, cause); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
