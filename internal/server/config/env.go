package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/repostore/internal/flagx"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by parseEnv.
const EnvPrefix = "REPOSTORE_"

// parseEnv loads the .env file named by -env (or ./.env when present) into
// the process environment without overriding variables already set, then
// overlays every REPOSTORE_* variable onto config. Malformed values panic.
func parseEnv(config *Config) {
	if envFile := flagx.EnvFile(os.Args[1:]); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			panic(err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	envString("GRPC_ADDR", &config.EndpointAddrGRPC)
	envString("DATABASE_DSN", &config.DatabaseDSN)
	envString("OPERATOR", &config.Operator)

	envString("LOG_LEVEL", &config.LogLevel)
	envString("LOG_FILE", &config.LogFile)

	if v, ok := lookup("STORAGES"); ok {
		var storages []StorageCredential
		if err := json.Unmarshal([]byte(v), &storages); err != nil {
			panic(err)
		}
		config.Storages = storages
	}
	envString("DEFAULT_CREDENTIALS_KEY", &config.DefaultCredentialsKey)

	envString("BLOCK_TABLE_PREFIX", &config.BlockTablePrefix)
	if v, ok := lookup("BLOCK_SHARD_BY"); ok {
		config.BlockShardBy = strings.Split(v, ",")
	}
	envInt("BLOCK_SHARD_COUNT", &config.BlockShardCount)
	envDuration("UPLOAD_TTL", &config.UploadTTL)

	envInt("ARCHIVE_MAX_CHAIN_LENGTH", &config.MaxChainLength)
	envInt64("ARCHIVE_RESTORE_LIMIT", &config.RestoreLimit)
	envString("ARCHIVE_RESTORE_SCOPE", &config.RestoreScope)
	envInt("ARCHIVE_WORKERS", &config.ArchiveWorkers)
	envDuration("ARCHIVE_SWEEP_INTERVAL", &config.SweepInterval)
	envDuration("ARCHIVE_STALE_AFTER", &config.StaleAfter)
	envInt("ARCHIVE_RETRY_TIMES", &config.RetryTimes)

	envDuration("JOBS_LEASE_TTL", &config.LeaseTTL)
	envInt("JOBS_BATCH_SIZE", &config.BatchSize)
	envInt("JOBS_CHECKPOINT_EVERY", &config.CheckpointEvery)
	envInt("JOBS_SEEN_WINDOW", &config.SeenWindow)
	if v, ok := lookup("JOBS_PERMITS_PER_SECOND"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			panic(err)
		}
		config.PermitsPerSecond = f
	}
	envInt("JOBS_IDLE_DAYS", &config.IdleDays)
	envInt64("JOBS_MIN_IDLE_SIZE", &config.MinIdleSize)

	envString("REDIS_ADDR", &config.RedisAddr)
	envString("REDIS_PASSWORD", &config.RedisPassword)
	envInt("REDIS_DB", &config.RedisDB)

	envString("RABBITMQ_URL", &config.RabbitURL)
	envString("RABBITMQ_QUEUE", &config.RabbitQueue)

	envDuration("HEALTH_INTERVAL", &config.HealthInterval)
	envDuration("HEALTH_TIMEOUT", &config.HealthTimeout)

	envString("METRICS_ENDPOINT", &config.MetricsEndpoint)
	envString("METRICS_SERVICE_NAME", &config.MetricsServiceName)
	envDuration("METRICS_INTERVAL", &config.MetricsInterval)
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func envString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(err)
		}
		*dst = n
	}
}

func envInt64(name string, dst *int64) {
	if v, ok := lookup(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			panic(err)
		}
		*dst = n
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(err)
		}
		*dst = d
	}
}
