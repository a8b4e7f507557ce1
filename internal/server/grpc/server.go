package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/repostore/internal/api/jobsv1"
	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/health"
	"github.com/dmitrijs2005/repostore/internal/server/trigger"
	"google.golang.org/grpc"
)

type healthChecker interface {
	CheckHealth(ctx context.Context, credentialsKey string) health.Status
}

type GRPCServer struct {
	address    string
	dispatcher trigger.Dispatcher
	health     healthChecker
	logger     logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, d trigger.Dispatcher, h *health.Monitor) *GRPCServer {
	return &GRPCServer{
		address:    a,
		logger:     l.With("module", "grpc_server"),
		dispatcher: d,
		health:     h,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.errorInterceptor))

	jobsv1.RegisterJobServiceServer(srv, s)
	jobsv1.RegisterHealthServiceServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
