package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	crmsync "github.com/goliatone/go-crmsync"
	"github.com/goliatone/go-crmsync/adapters/gojob"
	"github.com/goliatone/go-crmsync/core"
	sqlstore "github.com/goliatone/go-crmsync/store/sql"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/urfave/cli/v2"
)

var workerCommand = &cli.Command{
	Name:  "worker",
	Usage: "Poll the gateway, apply CRM changes locally and push local edits",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "purge-interval",
			Value: time.Hour,
			Usage: "How often expired seen-event keys are purged",
		},
		&cli.DurationFlag{
			Name:  "cache-ttl",
			Value: 5 * time.Minute,
			Usage: "TTL for cached client lookups and rate-limit state",
		},
	},
	Action: runWorker,
}

func runWorker(ctx *cli.Context) error {
	loggers := newLoggers(ctx)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openDatabase(runCtx, ctx.String("driver"), ctx.String("dsn"))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = ctx.Duration("cache-ttl")
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return err
	}
	factory := sqlstore.NewRepositoryFactory().WithCache(cacheService)
	if err := factory.BuildStores(client); err != nil {
		return err
	}

	engine, err := crmsync.Setup(runCtx, cfg,
		crmsync.WithLoggerProvider(loggers.Provider),
		crmsync.WithStoreProvider(factory),
	)
	if err != nil {
		return err
	}
	defer engine.Stop()

	runner := gojob.NewRunner(engine, gojob.NewObserverHook(loggers.Observer(nil)))
	purger := &core.Loop{
		Clock:    core.SystemClock(),
		Interval: func() time.Duration { return ctx.Duration("purge-interval") },
		Tick: func(ctx context.Context) {
			removed, err := runner.Run(ctx, &gojob.Message{JobID: gojob.JobIDPurgeSeen})
			if err != nil {
				loggers.Engine.Warn("purge seen events failed", "error", err)
				return
			}
			loggers.Engine.Debug("purged seen events", "removed", removed)
		},
	}
	purger.Start(runCtx)
	defer purger.Stop()

	status := engine.Status(runCtx)
	loggers.Engine.Info("worker started", "running", status.Running, "queue_length", status.QueueLength)
	<-runCtx.Done()
	loggers.Engine.Info("worker shutting down")
	return nil
}
