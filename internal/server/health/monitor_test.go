package health

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/repostore/internal/digest"
	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

func newMonitor(t *testing.T, timeout time.Duration) (*Monitor, *blobstore.MemoryDriver) {
	t.Helper()
	loc := digest.MustLocator(digest.SHA256)
	up := blobstore.NewMemoryDriver()
	down := blobstore.NewMemoryDriver()
	down.SetDown(true)

	stores := blobstore.NewRegistry("default")
	stores.Register("default", blobstore.New(up, blobstore.ZstdCodec{}, loc))
	stores.Register("broken", blobstore.New(down, blobstore.ZstdCodec{}, loc))
	return NewMonitor(stores, timeout, 10*time.Millisecond, nil, nopLogger{}), up
}

func TestCheckHealth(t *testing.T) {
	m, _ := newMonitor(t, time.Second)
	ctx := context.Background()

	assert.Equal(t, StatusOK, m.CheckHealth(ctx, "default"))
	assert.Equal(t, StatusUnreachable, m.CheckHealth(ctx, "broken"))
	assert.Equal(t, StatusUnreachable, m.CheckHealth(ctx, "unknown"))
}

func TestCheckHealth_HangingCheckTimesOut(t *testing.T) {
	m, _ := newMonitor(t, 50*time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	m.probe = func(ctx context.Context, _ blobstore.BlobStore) error {
		<-release
		return nil
	}

	start := time.Now()
	status := m.CheckHealth(context.Background(), "default")
	assert.Equal(t, StatusUnreachable, status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCheckHealth_PanickingCheck(t *testing.T) {
	m, _ := newMonitor(t, time.Second)
	m.probe = func(context.Context, blobstore.BlobStore) error { panic("boom") }

	assert.Equal(t, StatusUnreachable, m.CheckHealth(context.Background(), "default"))
}

func TestCheckAllAndSnapshot(t *testing.T) {
	m, _ := newMonitor(t, time.Second)

	assert.Empty(t, m.Snapshot())
	got := m.CheckAll(context.Background())
	assert.Equal(t, map[string]Status{"default": StatusOK, "broken": StatusUnreachable}, got)
	assert.Equal(t, got, m.Snapshot())
}

func TestRun(t *testing.T) {
	m, up := newMonitor(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Snapshot()["default"] == StatusOK }, time.Second, 5*time.Millisecond)

	up.SetDown(true)
	require.Eventually(t, func() bool { return m.Snapshot()["default"] == StatusUnreachable }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
