package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	start := time.Now()
	resp, err := handler(ctx, req)

	if err != nil {
		s.logger.Warn(ctx, "request failed", "method", info.FullMethod, "code", status.Code(err).String(), "error", err)
	} else {
		s.logger.Debug(ctx, "request served", "method", info.FullMethod, "duration", time.Since(start))
	}

	return resp, err
}

// errorInterceptor converts domain errors into gRPC statuses.
func (s *GRPCServer) errorInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	resp, err := handler(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, common.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, common.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, common.ErrConflict):
		code = codes.FailedPrecondition
	case errors.Is(err, common.ErrLimitExceeded):
		code = codes.ResourceExhausted
	case errors.Is(err, common.ErrUnavailable):
		code = codes.Unavailable
	case errors.Is(err, common.ErrInvalidInput):
		code = codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
