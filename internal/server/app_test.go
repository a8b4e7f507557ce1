package server

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/digest"
	"github.com/dmitrijs2005/repostore/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.EndpointAddrGRPC = "127.0.0.1:0"
	c.LogLevel = "error"
	c.BlockShardCount = 4
	c.Storages = []config.StorageCredential{
		{Key: "hot", Type: config.StorageMemory},
		{Key: "cold", Type: config.StorageMemory, Codec: "lz4"},
	}
	c.DefaultCredentialsKey = "hot"
	return c
}

func TestNewApp_InMemory(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	c := testConfig()
	c.DefaultCredentialsKey = "missing"

	_, err := NewApp(context.Background(), c)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestNewApp_BadShardCount(t *testing.T) {
	c := testConfig()
	c.BlockShardCount = 3

	_, err := NewApp(context.Background(), c)
	assert.ErrorIs(t, err, common.ErrInvalidShardConfig)
}

func TestBuildStores(t *testing.T) {
	c := testConfig()
	stores, err := buildStores(context.Background(), c, digest.MustLocator(digest.SHA256))
	require.NoError(t, err)
	assert.Equal(t, []string{"cold", "hot"}, stores.Keys())

	s, err := stores.Get(nil)
	require.NoError(t, err)
	assert.Equal(t, "zstd", s.CodecName())

	cold := "cold"
	s, err = stores.Get(&cold)
	require.NoError(t, err)
	assert.Equal(t, "lz4", s.CodecName())

	c.Storages[1].Codec = "gzip"
	_, err = buildStores(context.Background(), c, digest.MustLocator(digest.SHA256))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestNewDriver_UnknownType(t *testing.T) {
	_, err := newDriver(context.Background(), config.StorageCredential{Key: "x", Type: "ftp"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
