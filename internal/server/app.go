// Package server wires the storage, archive, migration and health components
// together and runs them until the process is told to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/repostore/internal/digest"
	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/archive"
	"github.com/dmitrijs2005/repostore/internal/server/blocks"
	"github.com/dmitrijs2005/repostore/internal/server/config"
	"github.com/dmitrijs2005/repostore/internal/server/expiry"
	"github.com/dmitrijs2005/repostore/internal/server/health"
	"github.com/dmitrijs2005/repostore/internal/server/lease"
	"github.com/dmitrijs2005/repostore/internal/server/metrics"
	"github.com/dmitrijs2005/repostore/internal/server/migrate"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/repostore/internal/server/trigger"
	"github.com/dmitrijs2005/repostore/internal/shard"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/repostore/internal/server/grpc"
)

// expiredBatch bounds one sweep of expired uploads.
const expiredBatch = 1000

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	blocks     *blocks.Service
	sweeper    *expiry.Sweeper
	worker     *archive.Worker
	monitor    *health.Monitor
	dispatcher trigger.Dispatcher
	grpc       *gs.GRPCServer
	closers    []func(context.Context) error
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger, logCloser := logging.New(logging.Options{
		Level:      c.LogLevel,
		File:       c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
	})

	app := &App{config: c, logger: logger}
	app.onClose(func(context.Context) error { return logCloser.Close() })

	if err := app.init(ctx); err != nil {
		_ = app.close(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

func (app *App) onClose(f func(context.Context) error) {
	app.closers = append(app.closers, f)
}

func (app *App) openRepositories(ctx context.Context) (repomanager.RepositoryManager, error) {
	if app.config.DatabaseDSN == config.DSNMemory {
		app.logger.Warn(ctx, "using in-memory repositories, metadata is lost on restart")
		return repomanager.NewInMemoryRepositoryManager(), nil
	}

	db, err := sql.Open("pgx", app.config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	app.onClose(func(context.Context) error { return db.Close() })

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}
	app.db = db
	return m, nil
}

func (app *App) newLocker(ctx context.Context) (lease.Locker, error) {
	if app.config.RedisAddr == "" {
		return lease.NewMemoryLocker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     app.config.RedisAddr,
		Password: app.config.RedisPassword,
		DB:       app.config.RedisDB,
	})
	app.onClose(func(context.Context) error { return client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	return lease.NewRedisLocker(client, "repostore:lease:"), nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config

	m, err := app.openRepositories(ctx)
	if err != nil {
		return err
	}

	locator, err := digest.NewLocator(digest.SHA256)
	if err != nil {
		return err
	}

	stores, err := buildStores(ctx, c, locator)
	if err != nil {
		return err
	}

	router, err := shard.NewRouter(map[string]shard.Config{
		blocks.Entity: {Prefix: c.BlockTablePrefix, Columns: c.BlockShardBy, Count: c.BlockShardCount},
	})
	if err != nil {
		return err
	}

	rec, shutdown, err := metrics.Setup(ctx, metrics.Config{
		Endpoint:    c.MetricsEndpoint,
		ServiceName: c.MetricsServiceName,
		Interval:    c.MetricsInterval,
		Insecure:    true,
	})
	if err != nil {
		return fmt.Errorf("metrics init error: %w", err)
	}
	app.onClose(shutdown)

	app.blocks = blocks.NewService(app.db, m, router, locator, stores, c.UploadTTL, app.logger)
	app.sweeper = expiry.NewSweeper(app.blocks, c.SweepInterval, expiredBatch, app.logger)
	if err := app.blocks.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("block tables init error: %w", err)
	}

	scope, err := archive.ParseScope(c.RestoreScope)
	if err != nil {
		return err
	}
	policy := &archive.CountingRestorePolicy{Counter: m.ArchiveFiles(app.db), Limit: c.RestoreLimit, Scope: scope}
	engine := archive.NewEngine(app.db, m, stores, locator, policy, c.MaxChainLength, c.Operator, rec, app.logger)
	app.worker = archive.NewWorker(engine, archive.WorkerConfig{
		Workers:       c.ArchiveWorkers,
		SweepInterval: c.SweepInterval,
		StaleAfter:    c.StaleAfter,
		RetryTimes:    c.RetryTimes,
	}, app.logger)

	locker, err := app.newLocker(ctx)
	if err != nil {
		return err
	}

	host, _ := os.Hostname()
	runner := migrate.NewRunner(app.db, m, locker, migrate.Config{
		LeaseTTL:         c.LeaseTTL,
		BatchSize:        c.BatchSize,
		CheckpointEvery:  c.CheckpointEvery,
		SeenWindow:       c.SeenWindow,
		PermitsPerSecond: c.PermitsPerSecond,
		Host:             host,
	}, rec, app.logger)

	jobs := migrate.NewRegistry()
	migrate.RegisterDefaults(jobs, migrate.Deps{
		DB:          app.db,
		Repos:       m,
		Router:      router,
		Locator:     locator,
		Stores:      stores,
		Archive:     engine,
		Operator:    c.Operator,
		IdleDays:    c.IdleDays,
		MinIdleSize: c.MinIdleSize,
	})
	exec := trigger.NewExecutor(jobs, runner, app.logger)

	if c.RabbitURL != "" {
		d, err := trigger.NewAMQP(trigger.AMQPConfig{URL: c.RabbitURL, Queue: c.RabbitQueue}, exec, app.logger)
		if err != nil {
			return err
		}
		app.dispatcher = d
	} else {
		app.dispatcher = trigger.NewLocal(exec, app.logger)
	}

	app.monitor = health.NewMonitor(stores, c.HealthTimeout, c.HealthInterval, rec, app.logger)
	app.grpc = gs.NewGRPCServer(c.EndpointAddrGRPC, app.logger, app.dispatcher, app.monitor)

	app.logger.Info(ctx, "App initialized", "storages", stores.Keys(), "jobs", jobs.IDs())
	return nil
}

func (app *App) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run starts every component and blocks until ctx is cancelled, a signal
// arrives or one of the components fails.
func (app *App) Run(ctx context.Context) error {

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.grpc.Run(ctx) })
	g.Go(func() error { return app.dispatcher.Run(ctx) })
	g.Go(func() error { return app.worker.Run(ctx) })
	g.Go(func() error { return app.monitor.Run(ctx) })
	g.Go(func() error { return app.sweeper.Run(ctx) })

	err := g.Wait()
	if cerr := app.close(context.WithoutCancel(ctx)); cerr != nil {
		err = errors.Join(err, cerr)
	}

	app.logger.Info(context.Background(), "App stopped")
	return err
}
