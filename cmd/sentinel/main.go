// Package main is the entry point for the threat-sentinel service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threat-sentinel/internal/actions"
	"threat-sentinel/internal/alertmanager"
	"threat-sentinel/internal/api"
	"threat-sentinel/internal/config"
	"threat-sentinel/internal/correlation"
	"threat-sentinel/internal/ingest"
	"threat-sentinel/internal/kafka"
	"threat-sentinel/internal/runbook"
	"threat-sentinel/internal/schema"
	"threat-sentinel/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"window_minutes", cfg.Correlation.WindowMinutes,
		"runbook_dir", cfg.Runbooks.Dir,
		"ban_backend", cfg.Bans.Backend,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Correlation engine
	engine := correlation.NewEngine(correlation.EngineConfig{
		TimeWindow: time.Duration(cfg.Correlation.WindowMinutes) * time.Minute,
	})

	// Runbooks
	loader := runbook.NewLoader(cfg.Runbooks.Dir)
	runbooks, err := loader.Load()
	if err != nil {
		slog.Error("failed to load runbooks", "dir", cfg.Runbooks.Dir, "error", err)
		os.Exit(1)
	}
	slog.Info("runbooks loaded", "count", len(runbooks))

	matcher := runbook.NewMatcher(runbooks)
	executor := runbook.NewExecutor(runbook.ExecutorConfig{
		MaxLogEntries: cfg.Runbooks.MaxLogEntries,
	})

	// Ban store
	var banStore actions.BanStore
	switch cfg.Bans.Backend {
	case "redis":
		store, err := actions.NewRedisBanStore(cfg.Bans.Redis)
		if err != nil {
			slog.Error("failed to connect to Redis", "addr", cfg.Bans.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		banStore = store
	default:
		banStore = actions.NewMemoryBanStore()
	}
	executor.RegisterHandler(actions.NewIPBanHandler(banStore))

	// Notification channels
	var channels []actions.NotifyChannel
	for _, wh := range cfg.Notify.Webhooks {
		channels = append(channels, actions.NewWebhookChannel(wh.Name, wh.URL, wh.Headers))
	}
	if cfg.Notify.Slack.Enabled {
		channels = append(channels, actions.NewSlackChannel(
			cfg.Notify.Slack.WebhookURL, cfg.Notify.Slack.Channel, cfg.Notify.Slack.Username))
	}
	if len(channels) == 0 {
		channels = append(channels, actions.ConsoleChannel{})
	}
	executor.RegisterHandler(actions.NewNotifyHandler(channels...))

	// Incident reports, optionally archived to S3
	var uploader actions.ReportUploader
	if cfg.Reports.Archive.Enabled {
		archive, err := storage.NewS3Archive(ctx, cfg.Reports.Archive.S3)
		if err != nil {
			slog.Error("failed to initialize report archive", "error", err)
			os.Exit(1)
		}
		uploader = archive
	}
	executor.RegisterHandler(actions.NewReportHandler(cfg.Reports.Dir, uploader))

	// Service commands from the configured allowlist
	executor.RegisterHandler(actions.NewServiceCommandHandler(cfg.Commands))

	// ClickHouse persistence
	var chClient *storage.ClickHouseClient
	var batchWriter *storage.BatchWriter
	if cfg.Storage.Enabled {
		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		if err := chClient.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure ClickHouse schema", "error", err)
			os.Exit(1)
		}

		batchWriter = storage.NewBatchWriter(chClient, cfg.Storage.BatchWriter)
		engine.SetSink(func(event *schema.AttackEvent) {
			if err := batchWriter.Write(event); err != nil {
				slog.Error("failed to persist event", "error", err)
			}
		})

		execWriter := storage.NewExecutionWriter(chClient)
		executor.SetOnComplete(func(exec *runbook.Execution) {
			writeCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := execWriter.Write(writeCtx, exec); err != nil {
				slog.Error("failed to persist execution", "execution", exec.ID, "error", err)
			}
		})

		slog.Info("storage initialized",
			"hosts", cfg.Storage.ClickHouse.Hosts,
			"database", cfg.Storage.ClickHouse.Database)
	}

	// HTTP surface: query API plus Alertmanager-compatible webhook
	dispatcher := alertmanager.NewDispatcher(matcher, executor, engine)

	mux := http.NewServeMux()
	api.NewHandler(engine, executor, matcher, banStore).RegisterRoutes(mux)
	alertmanager.NewWebhookHandler(dispatcher).RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	auth := api.NewAPIKeyAuth(cfg.Auth.KeyHashes)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      auth.Middleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Kafka event stream
	var consumer *kafka.EventConsumer
	if cfg.Kafka.Enabled {
		consumer, err = kafka.NewEventConsumer(cfg.Kafka.Consumer, engine)
		if err != nil {
			slog.Error("failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := consumer.Start(); err != nil {
			slog.Error("failed to start Kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	// DTLS sensor listener
	var dtlsServer *ingest.DTLSServer
	if cfg.Ingest.DTLS.Enabled {
		dtlsCfg := ingest.DefaultDTLSServerConfig()
		dtlsCfg.Address = cfg.Ingest.DTLS.Address
		dtlsCfg.CertFile = cfg.Ingest.DTLS.CertFile
		dtlsCfg.KeyFile = cfg.Ingest.DTLS.KeyFile
		if cfg.Ingest.DTLS.MaxMessageSize > 0 {
			dtlsCfg.MaxMessageSize = cfg.Ingest.DTLS.MaxMessageSize
		}
		if cfg.Ingest.DTLS.ConnectionTimeout > 0 {
			dtlsCfg.ConnectionTimeout = cfg.Ingest.DTLS.ConnectionTimeout
		}

		dtlsServer, err = ingest.NewDTLSServer(dtlsCfg, engine)
		if err != nil {
			slog.Error("failed to create DTLS listener", "error", err)
			os.Exit(1)
		}
		if err := dtlsServer.Start(ctx); err != nil {
			slog.Error("failed to start DTLS listener", "error", err)
			os.Exit(1)
		}
	}

	// Periodic runbook reload
	go reloadLoop(ctx, loader, matcher, cfg.Runbooks.ReloadInterval)

	go func() {
		slog.Info("starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			slog.Error("kafka consumer stop error", "error", err)
		}
	}
	if dtlsServer != nil {
		dtlsServer.Stop()
	}
	if batchWriter != nil {
		if err := batchWriter.Close(); err != nil {
			slog.Error("batch writer close error", "error", err)
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	stats := executor.Stats()
	slog.Info("shutdown complete",
		"executions_total", stats.Total,
		"executions_completed", stats.Completed,
		"executions_partial", stats.Partial,
		"executions_failed", stats.Failed,
	)
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// reloadLoop re-reads the runbook directory on an interval so operators can
// edit runbooks without restarting the service.
func reloadLoop(ctx context.Context, loader *runbook.Loader, matcher *runbook.Matcher, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := loader.Reload(matcher); err != nil {
				slog.Warn("runbook reload failed, keeping current set", "error", err)
			}
		}
	}
}
