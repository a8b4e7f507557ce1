package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/repostore/internal/flagx"
	"github.com/dmitrijs2005/repostore/internal/timex"
)

// JsonConfig is the on-disk layout of the configuration file. Durations
// accept both "30s" strings and integer nanoseconds. Zero values leave the
// current setting untouched.
type JsonConfig struct {
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	DatabaseDSN      string `json:"database_dsn"`
	Operator         string `json:"operator"`

	Log struct {
		Level      string `json:"level"`
		File       string `json:"file"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"log"`

	Storages              []StorageCredential `json:"storages"`
	DefaultCredentialsKey string              `json:"default_credentials_key"`

	Sharding struct {
		Prefix  string   `json:"prefix"`
		Columns []string `json:"columns"`
		Count   int      `json:"count"`
	} `json:"block_sharding"`
	UploadTTL timex.Duration `json:"upload_ttl"`

	Archive struct {
		MaxChainLength int            `json:"max_chain_length"`
		RestoreLimit   int64          `json:"restore_limit"`
		RestoreScope   string         `json:"restore_scope"`
		Workers        int            `json:"workers"`
		SweepInterval  timex.Duration `json:"sweep_interval"`
		StaleAfter     timex.Duration `json:"stale_after"`
		RetryTimes     int            `json:"retry_times"`
	} `json:"archive"`

	Jobs struct {
		LeaseTTL         timex.Duration `json:"lease_ttl"`
		BatchSize        int            `json:"batch_size"`
		CheckpointEvery  int            `json:"checkpoint_every"`
		SeenWindow       int            `json:"seen_window"`
		PermitsPerSecond float64        `json:"permits_per_second"`
		IdleDays         int            `json:"idle_days"`
		MinIdleSize      int64          `json:"min_idle_size"`
	} `json:"jobs"`

	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`

	RabbitMQ struct {
		URL   string `json:"url"`
		Queue string `json:"queue"`
	} `json:"rabbitmq"`

	Health struct {
		Interval timex.Duration `json:"interval"`
		Timeout  timex.Duration `json:"timeout"`
	} `json:"health"`

	Metrics struct {
		Endpoint    string         `json:"endpoint"`
		ServiceName string         `json:"service_name"`
		Interval    timex.Duration `json:"interval"`
	} `json:"metrics"`
}

// parseJson overlays the file named by -c/-config (or $REPOSTORE_CONFIG)
// onto config. Without a file nothing changes. An unreadable or invalid
// file panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigFile(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.Operator, c.Operator)

	setString(&config.LogLevel, c.Log.Level)
	setString(&config.LogFile, c.Log.File)
	setInt(&config.LogMaxSizeMB, c.Log.MaxSizeMB)
	setInt(&config.LogMaxBackups, c.Log.MaxBackups)
	setInt(&config.LogMaxAgeDays, c.Log.MaxAgeDays)

	if len(c.Storages) > 0 {
		config.Storages = c.Storages
	}
	setString(&config.DefaultCredentialsKey, c.DefaultCredentialsKey)

	setString(&config.BlockTablePrefix, c.Sharding.Prefix)
	if len(c.Sharding.Columns) > 0 {
		config.BlockShardBy = c.Sharding.Columns
	}
	setInt(&config.BlockShardCount, c.Sharding.Count)
	setDuration(&config.UploadTTL, c.UploadTTL)

	setInt(&config.MaxChainLength, c.Archive.MaxChainLength)
	if c.Archive.RestoreLimit != 0 {
		config.RestoreLimit = c.Archive.RestoreLimit
	}
	setString(&config.RestoreScope, c.Archive.RestoreScope)
	setInt(&config.ArchiveWorkers, c.Archive.Workers)
	setDuration(&config.SweepInterval, c.Archive.SweepInterval)
	setDuration(&config.StaleAfter, c.Archive.StaleAfter)
	setInt(&config.RetryTimes, c.Archive.RetryTimes)

	setDuration(&config.LeaseTTL, c.Jobs.LeaseTTL)
	setInt(&config.BatchSize, c.Jobs.BatchSize)
	setInt(&config.CheckpointEvery, c.Jobs.CheckpointEvery)
	setInt(&config.SeenWindow, c.Jobs.SeenWindow)
	if c.Jobs.PermitsPerSecond != 0 {
		config.PermitsPerSecond = c.Jobs.PermitsPerSecond
	}
	setInt(&config.IdleDays, c.Jobs.IdleDays)
	if c.Jobs.MinIdleSize != 0 {
		config.MinIdleSize = c.Jobs.MinIdleSize
	}

	setString(&config.RedisAddr, c.Redis.Addr)
	setString(&config.RedisPassword, c.Redis.Password)
	setInt(&config.RedisDB, c.Redis.DB)

	setString(&config.RabbitURL, c.RabbitMQ.URL)
	setString(&config.RabbitQueue, c.RabbitMQ.Queue)

	setDuration(&config.HealthInterval, c.Health.Interval)
	setDuration(&config.HealthTimeout, c.Health.Timeout)

	setString(&config.MetricsEndpoint, c.Metrics.Endpoint)
	setString(&config.MetricsServiceName, c.Metrics.ServiceName)
	setDuration(&config.MetricsInterval, c.Metrics.Interval)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.IsSet() {
		*dst = v.Duration
	}
}
