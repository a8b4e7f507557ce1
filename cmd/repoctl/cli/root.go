package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/repostore/internal/api/jobsv1"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type VersionInfo struct {
	Version string
	Commit  string
}

type options struct {
	addr    string
	timeout time.Duration
}

type ctxKey struct{}

// dial opens the client connection; tests replace it with an in-memory one.
var dial = func(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func NewRootCommand(info VersionInfo) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "repoctl",
		Short:         "repostore control client",
		Long:          "Triggers background jobs and checks storage health on a running repostore server.",
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, opts))
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.addr, "addr", "a", "127.0.0.1:50051", "server gRPC address")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	cmd.Version = fmt.Sprintf("%s.%s", info.Version, info.Commit)

	return cmd
}

// withClient runs f with a client connected to the configured server.
func withClient(cmd *cobra.Command, f func(ctx context.Context, c *jobsv1.Client) error) error {
	opts, _ := cmd.Context().Value(ctxKey{}).(*options)
	if opts == nil {
		return fmt.Errorf("command is not attached to the root command")
	}

	conn, err := dial(opts.addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", opts.addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	return f(ctx, jobsv1.NewClient(conn))
}
