// Package jobsv1 holds the gRPC descriptors of the repostore.v1 job and health
// services. Messages travel as google.protobuf.Struct so that no generated
// code is needed on either side.
package jobsv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type TriggerJobRequest struct {
	JobID string
	// ExecutorParam is the JSON object handed to the job factory.
	ExecutorParam json.RawMessage
}

type TriggerJobResponse struct {
	RequestID string
}

type CheckHealthRequest struct {
	CredentialsKey string
}

type CheckHealthResponse struct {
	Status string
}

func (r *TriggerJobRequest) toStruct() (*structpb.Struct, error) {
	fields := map[string]any{"job_id": r.JobID}
	if len(r.ExecutorParam) > 0 {
		var param any
		if err := json.Unmarshal(r.ExecutorParam, &param); err != nil {
			return nil, fmt.Errorf("executor_param: %w", err)
		}
		fields["executor_param"] = param
	}
	return structpb.NewStruct(fields)
}

func triggerJobRequestFrom(s *structpb.Struct) (*TriggerJobRequest, error) {
	req := &TriggerJobRequest{JobID: stringField(s, "job_id")}
	if req.JobID == "" {
		return nil, status.Error(codes.InvalidArgument, "job_id is required")
	}
	if v, ok := s.GetFields()["executor_param"]; ok {
		raw, err := json.Marshal(v.AsInterface())
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "executor_param: %v", err)
		}
		req.ExecutorParam = raw
	}
	return req, nil
}

func (r *TriggerJobResponse) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"request_id": r.RequestID})
}

func triggerJobResponseFrom(s *structpb.Struct) *TriggerJobResponse {
	return &TriggerJobResponse{RequestID: stringField(s, "request_id")}
}

func (r *CheckHealthRequest) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"credentials_key": r.CredentialsKey})
}

func checkHealthRequestFrom(s *structpb.Struct) *CheckHealthRequest {
	return &CheckHealthRequest{CredentialsKey: stringField(s, "credentials_key")}
}

func (r *CheckHealthResponse) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": r.Status})
}

func checkHealthResponseFrom(s *structpb.Struct) *CheckHealthResponse {
	return &CheckHealthResponse{Status: stringField(s, "status")}
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}
