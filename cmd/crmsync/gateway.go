package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-crmsync/adapters/gologger"
	"github.com/goliatone/go-crmsync/core"
	sqlstore "github.com/goliatone/go-crmsync/store/sql"
	"github.com/goliatone/go-crmsync/webhooks"
	"github.com/urfave/cli/v2"
)

var gatewayCommand = &cli.Command{
	Name:  "gateway",
	Usage: "Receive signed CRM webhooks and serve them to pollers",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Value:   ":8080",
			EnvVars: []string{"CRMSYNC_LISTEN"},
		},
		&cli.DurationFlag{
			Name:  "prune-interval",
			Value: 10 * time.Minute,
			Usage: "How often expired events are removed",
		},
	},
	Action: runGateway,
}

func runGateway(ctx *cli.Context) error {
	loggers := newLoggers(ctx)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.ValidateGateway(); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openDatabase(runCtx, ctx.String("driver"), ctx.String("dsn"))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}
	events := factory.GatewayEventStore()
	events.SettleWindow = cfg.Gateway.SettleWindow
	processor := webhooks.NewProcessor(cfg, webhooks.NewHMACVerifier(cfg), events)

	pruner := &core.Loop{
		Clock:    core.SystemClock(),
		Interval: func() time.Duration { return ctx.Duration("prune-interval") },
		Tick: func(ctx context.Context) {
			removed, err := processor.Prune(ctx)
			if err != nil {
				loggers.Gateway.Warn("prune expired events failed", "error", err)
				return
			}
			if removed > 0 {
				loggers.Gateway.Info("pruned expired events", "removed", removed)
			}
		},
	}
	pruner.Start(runCtx)
	defer pruner.Stop()

	server := &http.Server{
		Addr:              ctx.String("listen"),
		Handler:           webhooks.NewGateway(cfg, processor),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		loggers.Gateway.Info("gateway listening", "addr", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-runCtx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	loggers.Gateway.Info("gateway shutting down")
	return server.Shutdown(shutdownCtx)
}

func newLoggers(ctx *cli.Context) gologger.Loggers {
	return gologger.NewLoggers(gologger.NewZerologProvider(os.Stderr, ctx.String("log-level")), nil)
}
