package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/repostore/internal/api/jobsv1"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeServer struct {
	triggered *jobsv1.TriggerJobRequest
}

func (f *fakeServer) TriggerJob(_ context.Context, req *jobsv1.TriggerJobRequest) (*jobsv1.TriggerJobResponse, error) {
	if req.JobID == "unknown" {
		return nil, status.Error(codes.NotFound, "job not found")
	}
	f.triggered = req
	return &jobsv1.TriggerJobResponse{RequestID: "r-1"}, nil
}

func (f *fakeServer) CheckHealth(_ context.Context, req *jobsv1.CheckHealthRequest) (*jobsv1.CheckHealthResponse, error) {
	if req.CredentialsKey == "default" {
		return &jobsv1.CheckHealthResponse{Status: "OK"}, nil
	}
	return &jobsv1.CheckHealthResponse{Status: "UNREACHABLE"}, nil
}

func withFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	jobsv1.RegisterJobServiceServer(srv, f)
	jobsv1.RegisterHealthServiceServer(srv, f)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	orig := dial
	dial = func(string) (*grpc.ClientConn, error) {
		return grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	t.Cleanup(func() { dial = orig })
	return f
}

func run(args ...string) (string, error) {
	root := NewRootCommand(VersionInfo{Version: "test", Commit: "x"})
	root.AddCommand(NewTriggerCommand(), NewHealthCommand(), NewJobsCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrigger(t *testing.T) {
	f := withFakeServer(t)

	out, err := run("trigger", "migrate-storage", "-p", `{"srcCredentialsKey":"hot","dstCredentialsKey":"cold"}`)
	require.NoError(t, err)
	assert.Equal(t, "accepted migrate-storage request_id=r-1\n", out)
	require.NotNil(t, f.triggered)
	assert.JSONEq(t, `{"srcCredentialsKey":"hot","dstCredentialsKey":"cold"}`, string(f.triggered.ExecutorParam))
}

func TestTrigger_ParamFile(t *testing.T) {
	f := withFakeServer(t)
	path := filepath.Join(t.TempDir(), "param.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"idleDays":14}`), 0o600))

	_, err := run("trigger", "archive-idle-blocks", "--param-file", path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"idleDays":14}`, string(f.triggered.ExecutorParam))
}

func TestTrigger_Errors(t *testing.T) {
	withFakeServer(t)

	_, err := run("trigger", "unknown")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = run("trigger", "x", "-p", "{")
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = run("trigger")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	withFakeServer(t)

	out, err := run("health", "default")
	require.NoError(t, err)
	assert.Equal(t, "default OK\n", out)

	out, err = run("health", "cold")
	require.NoError(t, err)
	assert.Equal(t, "cold UNREACHABLE\n", out)

	_, err = run("health", "cold", "--strict")
	assert.Error(t, err)
}

func TestJobs(t *testing.T) {
	out, err := run("jobs")
	require.NoError(t, err)
	assert.Equal(t, "migrate-block-node\nmigrate-storage\narchive-idle-blocks\n", out)
}

func TestWithClient_RequiresRoot(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	err := withClient(cmd, func(context.Context, *jobsv1.Client) error { return nil })
	assert.Error(t, err)
}
