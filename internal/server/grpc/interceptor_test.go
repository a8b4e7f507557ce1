package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", common.ErrArchiveFileNotFound, codes.NotFound},
		{"already exists", common.ErrAlreadyExists, codes.AlreadyExists},
		{"conflict", common.ErrBaseInUse, codes.FailedPrecondition},
		{"limit", common.ErrRestoreCountLimit, codes.ResourceExhausted},
		{"chain length", common.ErrExceedMaxChainLength, codes.ResourceExhausted},
		{"unavailable", fmt.Errorf("ping: %w: %w", common.ErrUnavailable, errors.New("refused")), codes.Unavailable},
		{"invalid", common.ErrInvalidDigest, codes.InvalidArgument},
		{"entity error", common.WithSha256("compress", "abc", common.ErrIllegalTransition), codes.FailedPrecondition},
		{"canceled", context.Canceled, codes.Canceled},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"unknown", errors.New("boom"), codes.Internal},
		{"status passthrough", status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}
}

func TestToStatus_HidesInternalDetails(t *testing.T) {
	st, _ := status.FromError(toStatus(errors.New("dsn=postgres://secret")))
	assert.Equal(t, "internal error", st.Message())
}

func TestErrorInterceptor(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})
	info := &grpc.UnaryServerInfo{FullMethod: "/repostore.v1.JobService/TriggerJob"}

	resp, err := s.errorInterceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)

	resp, err = s.errorInterceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return "partial", common.ErrJobNotFound
	})
	assert.Nil(t, resp)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestLoggingInterceptor_PassesThrough(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})
	info := &grpc.UnaryServerInfo{FullMethod: "/repostore.v1.HealthService/CheckHealth"}
	want := errors.New("x")

	_, err := s.loggingInterceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, want
	})
	assert.ErrorIs(t, err, want)
}
