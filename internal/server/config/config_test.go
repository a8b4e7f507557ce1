package config

import (
	"os"
	"testing"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":50051", c.EndpointAddrGRPC)
	assert.Equal(t, DSNMemory, c.DatabaseDSN)
	assert.Equal(t, []StorageCredential{{Key: "default", Type: StorageMemory}}, c.Storages)
	assert.Equal(t, "default", c.DefaultCredentialsKey)
	assert.Equal(t, "block_node", c.BlockTablePrefix)
	assert.Equal(t, 256, c.BlockShardCount)
	assert.Equal(t, 3, c.MaxChainLength)
	assert.Equal(t, time.Minute, c.LeaseTTL)
	assert.Equal(t, 4096, c.SeenWindow)
	assert.Equal(t, 5*time.Second, c.HealthTimeout)
	assert.Empty(t, c.RedisAddr)
	assert.Empty(t, c.RabbitURL)
	assert.Empty(t, c.MetricsEndpoint)
	require.NoError(t, c.Validate())
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}
	t.Setenv("REPOSTORE_CONFIG", "")

	c := LoadConfig()

	require.NotNil(t, c, "LoadConfig must not return nil")
	assert.Equal(t, ":50051", c.EndpointAddrGRPC)
	assert.Equal(t, DSNMemory, c.DatabaseDSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no storages", func(c *Config) { c.Storages = nil }},
		{"missing key", func(c *Config) { c.Storages = []StorageCredential{{Type: StorageMemory}} }},
		{"duplicate key", func(c *Config) {
			c.Storages = append(c.Storages, StorageCredential{Key: "default", Type: StorageMemory})
		}},
		{"unknown type", func(c *Config) { c.Storages[0].Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storages[0].Type = StorageS3 }},
		{"unknown default", func(c *Config) { c.DefaultCredentialsKey = "cold" }},
		{"zero chain length", func(c *Config) { c.MaxChainLength = 0 }},
		{"empty dsn", func(c *Config) { c.DatabaseDSN = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), common.ErrInvalidInput)
		})
	}
}
