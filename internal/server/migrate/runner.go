package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/lease"
	"github.com/dmitrijs2005/repostore/internal/server/metrics"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/jobsnapshots"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/repomanager"
	"golang.org/x/time/rate"
)

type Config struct {
	LeaseTTL        time.Duration
	BatchSize       int
	CheckpointEvery int
	// PermitsPerSecond caps processed items per second; <= 0 is unlimited.
	PermitsPerSecond float64
	// Host is recorded as created_by of every snapshot.
	Host string
	// SeenWindow caps how many recent dedup keys a snapshot carries.
	SeenWindow int
}

type Runner struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	locker      lease.Locker
	cfg         Config
	limiter     *rate.Limiter
	metrics     metrics.Recorder
	log         logging.Logger
	now         func() time.Time
}

func NewRunner(db *sql.DB, m repomanager.RepositoryManager, locker lease.Locker, cfg Config,
	rec metrics.Recorder, log logging.Logger) *Runner {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 1000
	}
	if cfg.SeenWindow <= 0 {
		cfg.SeenWindow = 4096
	}
	if rec == nil {
		rec = metrics.Nop{}
	}

	limit := rate.Inf
	if cfg.PermitsPerSecond > 0 {
		limit = rate.Limit(cfg.PermitsPerSecond)
	}

	return &Runner{
		db:          db,
		repomanager: m,
		locker:      locker,
		cfg:         cfg,
		limiter:     rate.NewLimiter(limit, 1),
		metrics:     rec,
		log:         log.With("component", "migrate"),
		now:         time.Now,
	}
}

func (r *Runner) snapshots() jobsnapshots.Repository {
	return r.repomanager.JobSnapshots(r.db)
}

// Start loads the run state of jobName. An unfinished snapshot is resumed;
// a finished or missing one starts a fresh run.
func (r *Runner) Start(ctx context.Context, jobName string) (*JobActionContext, error) {
	jc := newJobActionContext(jobName, r.cfg.SeenWindow)

	snap, err := r.snapshots().FindLatest(ctx, jobName)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return jc, nil
		}
		return nil, common.WithJob("start", jobName, err)
	}

	resumed := newJobActionContext(jobName, r.cfg.SeenWindow)
	if err := resumed.decode(snap.Data); err != nil {
		return nil, common.WithJob("start", jobName, err)
	}
	if resumed.Cursor.Finished {
		return jc, nil
	}

	resumed.Success = snap.Success
	resumed.Failed = snap.Failed
	resumed.Total = snap.Total
	resumed.Resumed = true
	r.log.Info(ctx, "resuming job", "job", jobName, "snapshot", snap.ID, "total", snap.Total,
		"collection", resumed.Cursor.CollectionName, "last_id", resumed.Cursor.LastID)
	return resumed, nil
}

// Run processes one item. Per-item failures are counted and logged; only
// unavailability of a backend is returned to abort the run.
func (r *Runner) Run(ctx context.Context, jc *JobActionContext, job Job, item Item) error {
	if item.Key != "" && jc.Seen(item.Key) {
		r.metrics.JobItems(ctx, jc.Name, metrics.OutcomeSkipped, 1)
		return nil
	}

	err := job.Process(ctx, jc, item)
	switch {
	case err == nil:
		jc.Total++
		jc.Success++
		if item.Key != "" {
			jc.markSeen(item.Key)
		}
		r.metrics.JobItems(ctx, jc.Name, metrics.OutcomeSuccess, 1)
		return nil
	case errors.Is(err, ErrSkipItem):
		r.metrics.JobItems(ctx, jc.Name, metrics.OutcomeSkipped, 1)
		return nil
	case errors.Is(err, common.ErrUnavailable), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.WithJob("run", jc.Name, err)
	default:
		jc.Total++
		jc.Failed++
		r.metrics.JobItems(ctx, jc.Name, metrics.OutcomeFailed, 1)
		r.log.Warn(ctx, "job item failed", "job", jc.Name, "item", item.ID,
			"error", fmt.Errorf("%w: %w", common.ErrItemFailed, err))
		return nil
	}
}

func (r *Runner) appendSnapshot(ctx context.Context, jc *JobActionContext) error {
	data, err := jc.encode()
	if err != nil {
		return err
	}
	snap := &models.JobSnapshot{
		Name:        jc.Name,
		CreatedBy:   r.cfg.Host,
		CreatedDate: r.now().UTC(),
		Success:     jc.Success,
		Failed:      jc.Failed,
		Total:       jc.Total,
		Data:        data,
	}
	if err := r.snapshots().Create(ctx, snap); err != nil {
		return common.WithJob("snapshot", jc.Name, err)
	}
	jc.sinceCheckpoint = 0
	return nil
}

// Checkpoint appends a snapshot of the current progress.
func (r *Runner) Checkpoint(ctx context.Context, jc *JobActionContext) error {
	return r.appendSnapshot(ctx, jc)
}

// Finished appends the closing snapshot of a run.
func (r *Runner) Finished(ctx context.Context, jc *JobActionContext) error {
	jc.Cursor.Finished = true
	if err := r.appendSnapshot(ctx, jc); err != nil {
		return err
	}
	r.log.Info(ctx, "job finished", "job", jc.Name, "total", jc.Total, "success", jc.Success, "failed", jc.Failed)
	return nil
}

func (r *Runner) leaseKey(name string) string {
	return "job:" + name
}

// Execute runs job to completion under its lease. When another worker holds
// the lease the call returns (nil, nil).
func (r *Runner) Execute(ctx context.Context, job Job) (*JobActionContext, error) {
	name := job.Name()

	l, err := r.locker.Acquire(ctx, r.leaseKey(name), r.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrBusy) {
			r.log.Info(ctx, "job is running elsewhere, skipping", "job", name)
			return nil, nil
		}
		return nil, common.WithJob("acquire lease", name, err)
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn(ctx, "lease release failed", "job", name, "error", err)
		}
	}()

	kctx, stop := l.Keep(ctx)
	defer stop()

	jc, err := r.Start(kctx, name)
	if err != nil {
		return nil, err
	}
	if err := job.Prepare(kctx); err != nil {
		return jc, common.WithJob("prepare", name, err)
	}

	collections, err := job.Collections(kctx)
	if err != nil {
		return jc, common.WithJob("collections", name, err)
	}

	r.log.Info(ctx, "job started", "job", name, "collections", len(collections), "resumed", jc.Resumed)

	if err := r.walk(kctx, jc, job, collections); err != nil {
		if cerr := r.Checkpoint(context.WithoutCancel(ctx), jc); cerr != nil {
			r.log.Error(ctx, "checkpoint on abort failed", "job", name, "error", cerr)
		}
		r.log.Warn(ctx, "job aborted", "job", name, "total", jc.Total, "error", err)
		return jc, err
	}

	if err := r.Finished(kctx, jc); err != nil {
		return jc, err
	}
	return jc, nil
}

func (r *Runner) walk(ctx context.Context, jc *JobActionContext, job Job, collections []string) error {
	for ci := jc.Cursor.Collection; ci < len(collections); ci++ {
		col := collections[ci]
		if jc.Cursor.Collection != ci || jc.Cursor.CollectionName != col {
			jc.Cursor.Collection = ci
			jc.Cursor.CollectionName = col
			jc.Cursor.LastID = ""
		}

		for {
			items, err := job.Scan(ctx, col, jc.Cursor.LastID, r.cfg.BatchSize)
			if err != nil {
				return common.WithJob("scan "+col, jc.Name, err)
			}

			for _, item := range items {
				if err := ctx.Err(); err != nil {
					return common.WithJob("walk", jc.Name, err)
				}
				if err := r.limiter.Wait(ctx); err != nil {
					return common.WithJob("walk", jc.Name, err)
				}
				if err := r.Run(ctx, jc, job, item); err != nil {
					return err
				}

				jc.Cursor.LastID = item.ID
				jc.sinceCheckpoint++
				if jc.sinceCheckpoint >= r.cfg.CheckpointEvery {
					if err := r.Checkpoint(ctx, jc); err != nil {
						return err
					}
				}
			}

			if len(items) < r.cfg.BatchSize {
				break
			}
		}
	}
	return nil
}
