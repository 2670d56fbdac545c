package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/bridgeq/internal/api"
	"github.com/mattjoyce/bridgeq/internal/config"
	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/events"
	"github.com/mattjoyce/bridgeq/internal/lock"
	"github.com/mattjoyce/bridgeq/internal/log"
	"github.com/mattjoyce/bridgeq/internal/metrics"
	"github.com/mattjoyce/bridgeq/internal/remote"
	"github.com/mattjoyce/bridgeq/internal/state"
	"github.com/mattjoyce/bridgeq/internal/storage"
	"github.com/mattjoyce/bridgeq/internal/vault"
	"github.com/mattjoyce/bridgeq/internal/webhook"
)

const eventBufferSize = 256

func newServeCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher, active task sync and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dbPath != "" {
				cfg.State.Path = dbPath
			}

			log.Configure(log.Options{Level: cfg.Service.LogLevel, Format: cfg.Service.LogFormat})
			logger := log.WithComponent("main")
			logger.Info("bridgeq starting", "version", version, "config", path)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Override state.path")
	return cmd
}

// serve wires every component and blocks until ctx is cancelled or one of
// them fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pidLock, err := lock.Acquire(lock.PathFor(cfg.State.Path))
	if err != nil {
		return fmt.Errorf("acquire lock (another instance may be running): %w", err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	store := state.NewStore(db)
	if cfg.Remote.Token != "" {
		seeded, err := store.SeedToken(ctx, cfg.Remote.Token)
		if err != nil {
			return fmt.Errorf("seed request token: %w", err)
		}
		if seeded {
			logger.Info("request token seeded from config")
		}
	}

	registry, err := vault.LoadRegistryFile(cfg.Vault.FunctionsFile)
	if err != nil {
		return err
	}
	logger.Info("function registry loaded", "functions", len(registry.Names()))

	collector := metrics.NewCollector()
	hub := events.NewHub(eventBufferSize)

	client := remote.New(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: cfg.Remote.Timeout,
		Retry:   cfg.Remote.RetryPolicy(),
		OnRetry: collector.OnRetry(),
		OnCall:  collector.OnCall(),
	}, store)
	submit := collector.Track(store.Track(client.SubmitFunc()))

	d := dispatch.New(dispatch.Options{
		Notifier:          hub.Notifier(),
		Monitor:           hub.Monitor(collector.Monitor(), store.Monitor()),
		PollInterval:      cfg.Dispatch.PollInterval,
		StartupDelay:      cfg.Dispatch.StartupDelay,
		MaxSubmitAttempts: cfg.Dispatch.MaxSubmitAttempts,
		ActiveTaskTTL:     cfg.Dispatch.ActiveTaskTTL,
	})
	defer d.Subscribe(hub.QueueListener())()
	defer d.Subscribe(collector.QueueListener())()
	collector.WatchActive(d)

	syncer := dispatch.NewSyncer(d, client, cfg.Dispatch.SyncInterval, cfg.Dispatch.SyncMinAge)
	builder := vault.NewBuilder(vault.Config{
		APIURL:              client.APIURL,
		Registry:            registry,
		ValidateParams:      cfg.Vault.ValidateParams,
		ValidateConnections: cfg.Vault.ValidateConnections,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 4)

	run := func(name string, start func(context.Context) error) {
		go func() {
			if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	run("dispatcher", d.Start)
	run("syncer", syncer.Start)

	if cfg.API.Enabled {
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Path
		}
		srv := api.New(api.Config{
			Listen:      cfg.API.Listen,
			APIKey:      cfg.API.Auth.APIKey,
			MetricsPath: metricsPath,
		}, api.Deps{
			Queue:   d,
			Builder: builder,
			Submit:  submit,
			Events:  hub,
			History: store,
			Metrics: collector,
		}, log.WithComponent("api"))
		run("api", srv.Start)
		logger.Info("API server enabled", "listen", cfg.API.Listen, "metrics", metricsPath != "")
	} else {
		logger.Warn("API disabled; nothing can enqueue work")
	}

	if cfg.Webhook.Enabled {
		whCfg, err := webhook.FromConfig(cfg.Webhook)
		if err != nil {
			return fmt.Errorf("webhook config: %w", err)
		}
		run("webhook", webhook.New(whCfg, d, log.WithComponent("webhook")).Start)
		logger.Info("task-status callbacks enabled", "listen", whCfg.Listen, "endpoints", len(whCfg.Endpoints))
	}

	logger.Info("bridgeq running (press Ctrl+C to stop)", "pid", os.Getpid())

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		return err
	}

	logger.Info("bridgeq stopped", "dropped_events", hub.Dropped())
	return nil
}
