// Package config handles configuration for the server component: defaults,
// a JSON overlay, a .env/environment overlay and command-line flags, applied
// in that order.
package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

// DSNMemory selects the in-memory repositories instead of PostgreSQL.
const DSNMemory = "memory"

// Storage types.
const (
	StorageS3     = "s3"
	StorageMinio  = "minio"
	StorageMemory = "memory"
)

// StorageCredential describes one blob backend addressable by Key.
type StorageCredential struct {
	Key          string `json:"key"`
	Type         string `json:"type"`
	Endpoint     string `json:"endpoint"`
	Region       string `json:"region"`
	Bucket       string `json:"bucket"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	Prefix       string `json:"prefix"`
	UseSSL       bool   `json:"use_ssl"`
	UsePathStyle bool   `json:"use_path_style"`
	// Codec is "zstd" (default) or "lz4".
	Codec string `json:"codec"`
}

// Config holds runtime settings for the repostore server.
type Config struct {
	EndpointAddrGRPC string
	DatabaseDSN      string
	Operator         string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	Storages              []StorageCredential
	DefaultCredentialsKey string

	BlockTablePrefix string
	BlockShardBy     []string
	BlockShardCount  int
	UploadTTL        time.Duration

	MaxChainLength int
	RestoreLimit   int64
	RestoreScope   string
	ArchiveWorkers int
	SweepInterval  time.Duration
	StaleAfter     time.Duration
	RetryTimes     int

	LeaseTTL         time.Duration
	BatchSize        int
	CheckpointEvery  int
	SeenWindow       int
	PermitsPerSecond float64
	IdleDays         int
	MinIdleSize      int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitURL   string
	RabbitQueue string

	HealthInterval time.Duration
	HealthTimeout  time.Duration

	MetricsEndpoint    string
	MetricsServiceName string
	MetricsInterval    time.Duration
}

// LoadDefaults populates Config with development defaults: in-memory
// metadata, one in-memory storage and in-process leases and dispatch.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.DatabaseDSN = DSNMemory
	c.Operator = "system"

	c.LogLevel = "info"
	c.LogMaxSizeMB = 100
	c.LogMaxBackups = 5
	c.LogMaxAgeDays = 28

	c.Storages = []StorageCredential{{Key: "default", Type: StorageMemory}}
	c.DefaultCredentialsKey = "default"

	c.BlockTablePrefix = "block_node"
	c.BlockShardBy = []string{models.BlockNodeColumnProjectID, models.BlockNodeColumnRepoName}
	c.BlockShardCount = 256
	c.UploadTTL = 24 * time.Hour

	c.MaxChainLength = 3
	c.RestoreLimit = 100
	c.RestoreScope = "global"
	c.ArchiveWorkers = 4
	c.SweepInterval = time.Minute
	c.StaleAfter = 30 * time.Minute
	c.RetryTimes = 3

	c.LeaseTTL = time.Minute
	c.BatchSize = 500
	c.CheckpointEvery = 1000
	c.SeenWindow = 4096
	c.IdleDays = 90
	c.MinIdleSize = 1 << 20

	c.HealthInterval = 30 * time.Second
	c.HealthTimeout = 5 * time.Second

	c.MetricsServiceName = "repostore"
	c.MetricsInterval = 30 * time.Second
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if len(c.Storages) == 0 {
		return fmt.Errorf("no storage credentials configured: %w", common.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(c.Storages))
	for _, s := range c.Storages {
		if s.Key == "" {
			return fmt.Errorf("storage credential without key: %w", common.ErrInvalidInput)
		}
		if seen[s.Key] {
			return fmt.Errorf("duplicate storage credential %q: %w", s.Key, common.ErrInvalidInput)
		}
		seen[s.Key] = true

		switch s.Type {
		case StorageMemory:
		case StorageS3, StorageMinio:
			if s.Bucket == "" {
				return fmt.Errorf("storage %q: bucket is required: %w", s.Key, common.ErrInvalidInput)
			}
		default:
			return fmt.Errorf("storage %q: unknown type %q: %w", s.Key, s.Type, common.ErrInvalidInput)
		}
	}
	if !seen[c.DefaultCredentialsKey] {
		return fmt.Errorf("default credential %q is not configured: %w", c.DefaultCredentialsKey, common.ErrInvalidInput)
	}
	if c.MaxChainLength < 1 {
		return fmt.Errorf("max chain length must be positive: %w", common.ErrInvalidInput)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database dsn is empty: %w", common.ErrInvalidInput)
	}
	return nil
}

// LoadConfig builds a Config from defaults, then the JSON file, then the
// environment (optionally seeded from a .env file) and finally flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
