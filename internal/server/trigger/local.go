package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/logging"
)

// Local runs every accepted job in its own goroutine bound to the context
// passed to Run.
type Local struct {
	exec *Executor
	log  logging.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs sync.WaitGroup
}

func NewLocal(exec *Executor, log logging.Logger) *Local {
	return &Local{exec: exec, log: log.With("component", "trigger", "dispatch", "local")}
}

func (l *Local) Dispatch(ctx context.Context, jobID string, param json.RawMessage) (string, error) {
	if err := l.exec.Validate(jobID, param); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil || l.ctx.Err() != nil {
		return "", fmt.Errorf("local dispatcher is not running: %w", common.ErrUnavailable)
	}

	req := newRequest(jobID, param)
	runCtx := l.ctx
	l.jobs.Add(1)
	go func() {
		defer l.jobs.Done()
		_ = l.exec.Execute(runCtx, req)
	}()

	l.log.Info(ctx, "job dispatched", "request_id", req.ID, "job_id", jobID)
	return req.ID, nil
}

// Run accepts dispatches until ctx is done and then waits for running jobs
// to observe the cancellation.
func (l *Local) Run(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	l.ctx = nil
	l.mu.Unlock()

	l.jobs.Wait()
	return nil
}
