package grpc

import (
	"context"

	"github.com/dmitrijs2005/repostore/internal/api/jobsv1"
)

func (s *GRPCServer) TriggerJob(ctx context.Context, req *jobsv1.TriggerJobRequest) (*jobsv1.TriggerJobResponse, error) {

	id, err := s.dispatcher.Dispatch(ctx, req.JobID, req.ExecutorParam)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Job triggered", "job_id", req.JobID, "request_id", id)
	return &jobsv1.TriggerJobResponse{RequestID: id}, nil

}

func (s *GRPCServer) CheckHealth(ctx context.Context, req *jobsv1.CheckHealthRequest) (*jobsv1.CheckHealthResponse, error) {

	st := s.health.CheckHealth(ctx, req.CredentialsKey)
	return &jobsv1.CheckHealthResponse{Status: string(st)}, nil

}
