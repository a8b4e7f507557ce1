// Package trigger accepts job trigger requests and hands them to the
// migration runner, either in-process or through a RabbitMQ queue.
package trigger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/migrate"
	"github.com/google/uuid"
)

// Request is a queued trigger. ID identifies the request in logs only.
type Request struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	ExecutorParam json.RawMessage `json:"executor_param,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
}

// Dispatcher validates a trigger synchronously and runs the job later.
// Dispatch returns as soon as the request is accepted.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string, param json.RawMessage) (string, error)
	Run(ctx context.Context) error
}

type jobRunner interface {
	Execute(ctx context.Context, job migrate.Job) (*migrate.JobActionContext, error)
}

// Executor turns a request into a job and runs it.
type Executor struct {
	jobs   *migrate.Registry
	runner jobRunner
	log    logging.Logger
}

func NewExecutor(jobs *migrate.Registry, runner *migrate.Runner, log logging.Logger) *Executor {
	return &Executor{jobs: jobs, runner: runner, log: log.With("component", "trigger")}
}

// Validate builds the job without running it so that unknown job ids and
// malformed parameters are reported to the caller.
func (e *Executor) Validate(jobID string, param json.RawMessage) error {
	_, err := e.jobs.Create(jobID, param)
	return err
}

func (e *Executor) Execute(ctx context.Context, req Request) error {
	job, err := e.jobs.Create(req.JobID, req.ExecutorParam)
	if err != nil {
		return err
	}

	ctx = logging.ContextWith(ctx, "request_id", req.ID, "job", job.Name())
	jc, err := e.runner.Execute(ctx, job)
	if err != nil {
		e.log.Error(ctx, "job failed", "error", err)
		return err
	}
	if jc == nil {
		return nil
	}
	e.log.Info(ctx, "job finished",
		"total", jc.Total, "success", jc.Success, "failed", jc.Failed)
	return nil
}

func newRequest(jobID string, param json.RawMessage) Request {
	return Request{
		ID:            uuid.NewString(),
		JobID:         jobID,
		ExecutorParam: param,
		RequestedAt:   time.Now().UTC(),
	}
}
