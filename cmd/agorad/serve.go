package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/agora/internal/api"
	"github.com/h1v3-io/agora/internal/config"
	"github.com/h1v3-io/agora/internal/scheduler"
	"github.com/h1v3-io/agora/internal/webctx"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the conference HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, v, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	logger, level, logs := newLogger(cfg.Logging, flags.verbose, os.Stdout)
	slog.SetDefault(logger)

	a, err := wire(cfg, logger)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("agorad starting", "port", cfg.Server.Port, "archive", cfg.Archive.Kind)

	// Only the log level is applied live; everything else needs a restart.
	if flags.configPath != "" && !flags.verbose {
		config.Watch(v, func(c *config.Config) {
			if l, err := config.ParseLevel(c.Logging.Level); err == nil && l != level.Level() {
				level.Set(l)
				logger.Info("log level changed", "level", l)
			}
		}, func(err error) {
			logger.Warn("ignoring invalid config change", "error", err)
		})
	}

	sched := scheduler.New(logger)
	if err := sched.AddSweep("operations", cfg.Janitor.Schedule, a.tracker, cfg.Janitor.OperationTTL); err != nil {
		return err
	}
	if err := sched.AddSweep("event-buffers", cfg.Janitor.Schedule, a.hub, cfg.Janitor.BufferTTL); err != nil {
		return err
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	var fetcher api.ContextFetcher
	if cfg.Context.Enabled {
		fetcher = webctx.New(webctx.WithMaxSize(cfg.Context.MaxBytes))
	}
	srv := api.NewServer(a.service, api.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Key:           cfg.Server.APIKey,
		AllowedModels: cfg.Server.AllowedModels,
		MaxAttendees:  cfg.Server.MaxAttendees,
	}, logger, logs, fetcher)

	errCh := make(chan error, 1)
	go safeGo(logger, "api-server", func() { errCh <- srv.Start(ctx) })

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("api server stopped", "error", serveErr)
		stop()
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.service.Shutdown(shutCtx); err != nil {
		logger.Warn("conferences still running at shutdown", "error", err)
	}
	logger.Info("agorad stopped", "pool", a.pool.Stats())
	return serveErr
}
