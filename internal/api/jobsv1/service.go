package jobsv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	JobServiceName    = "repostore.v1.JobService"
	HealthServiceName = "repostore.v1.HealthService"

	JobService_TriggerJob_FullMethodName     = "/repostore.v1.JobService/TriggerJob"
	HealthService_CheckHealth_FullMethodName = "/repostore.v1.HealthService/CheckHealth"
)

// JobServiceServer accepts a job trigger and returns before the job runs.
type JobServiceServer interface {
	TriggerJob(ctx context.Context, req *TriggerJobRequest) (*TriggerJobResponse, error)
}

type HealthServiceServer interface {
	CheckHealth(ctx context.Context, req *CheckHealthRequest) (*CheckHealthResponse, error)
}

func RegisterJobServiceServer(s grpc.ServiceRegistrar, srv JobServiceServer) {
	s.RegisterService(&JobService_ServiceDesc, srv)
}

func RegisterHealthServiceServer(s grpc.ServiceRegistrar, srv HealthServiceServer) {
	s.RegisterService(&HealthService_ServiceDesc, srv)
}

func _JobService_TriggerJob_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req interface{}) (interface{}, error) {
		r, err := triggerJobRequestFrom(req.(*structpb.Struct))
		if err != nil {
			return nil, err
		}
		resp, err := srv.(JobServiceServer).TriggerJob(ctx, r)
		if err != nil {
			return nil, err
		}
		return resp.toStruct()
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: JobService_TriggerJob_FullMethodName,
	}
	return interceptor(ctx, in, info, call)
}

func _HealthService_CheckHealth_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req interface{}) (interface{}, error) {
		resp, err := srv.(HealthServiceServer).CheckHealth(ctx, checkHealthRequestFrom(req.(*structpb.Struct)))
		if err != nil {
			return nil, err
		}
		return resp.toStruct()
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: HealthService_CheckHealth_FullMethodName,
	}
	return interceptor(ctx, in, info, call)
}

var JobService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: JobServiceName,
	HandlerType: (*JobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "TriggerJob",
			Handler:    _JobService_TriggerJob_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "repostore/v1/jobs.proto",
}

var HealthService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: HealthServiceName,
	HandlerType: (*HealthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckHealth",
			Handler:    _HealthService_CheckHealth_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "repostore/v1/jobs.proto",
}

// Client calls both services over one connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) TriggerJob(ctx context.Context, req *TriggerJobRequest, opts ...grpc.CallOption) (*TriggerJobResponse, error) {
	in, err := req.toStruct()
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, JobService_TriggerJob_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return triggerJobResponseFrom(out), nil
}

func (c *Client) CheckHealth(ctx context.Context, req *CheckHealthRequest, opts ...grpc.CallOption) (*CheckHealthResponse, error) {
	in, err := req.toStruct()
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HealthService_CheckHealth_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return checkHealthResponseFrom(out), nil
}
