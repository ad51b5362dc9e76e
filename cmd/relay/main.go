package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-region-sync/internal/broker"
	"github.com/Guizzs26/go-region-sync/internal/config"
	"github.com/Guizzs26/go-region-sync/internal/db"
	"github.com/Guizzs26/go-region-sync/internal/service"
	"github.com/Guizzs26/go-region-sync/pkg/infra"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"
)

const staleProcessingMinutes = 10

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	if cfg.LocalRegion == "" {
		logger.Error("CRITICAL: LOCAL_REGION environment variable is missing")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgres, err := db.NewPostgresStore(ctx, cfg.DatabaseURL, logger.With("region", cfg.LocalRegion))
	if err != nil {
		logger.Error("Fatal error connecting to Postgres", "error", err)
		os.Exit(1)
	}
	defer postgres.Close()

	go infra.ServeObservability(ctx, infra.NewObservabilityServer(cfg.MetricsPort, "RELAY", nil), logger)

	maintenanceDone := make(chan struct{})
	go runMaintenance(ctx, postgres, cfg, maintenanceDone)

	logger.Info("Outbox relay started", "region", cfg.LocalRegion, "pid", os.Getpid())

	runMainLoop(ctx, postgres, cfg)
	<-maintenanceDone
	logger.Info("Shutdown complete")
}

func runMainLoop(ctx context.Context, repo *db.PostgresStore, cfg *config.Config) {
	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)
	var rabbitmq *broker.RabbitMQClient
	var relay *service.OutboxRelay

	defer func() {
		if rabbitmq != nil {
			rabbitmq.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down main loop...")
			return
		default:
		}

		// Lifecycle: make sure the broker link is up before claiming rows
		if rabbitmq == nil || !rabbitmq.IsHealthy() {
			if rabbitmq != nil {
				rabbitmq.Close()
				metrics.RabbitMQReconnections.Inc()
			}

			newRabbit, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, slog.Default())
			if err != nil {
				rabbitmq = nil
				slog.Error("RabbitMQ link failure, retrying", "attempt", backoff.Attempts()+1, "error", err)
				if _, err := backoff.Wait(ctx); err != nil {
					return
				}
				continue
			}

			slog.Info("RabbitMQ link established")
			rabbitmq = newRabbit
			backoff.Reset()
			relay = service.NewOutboxRelay(repo, rabbitmq, cfg.LocalRegion, broker.SyncExchange, slog.Default())
		}

		if err := relay.ProcessNextBatch(ctx, cfg.BatchSize); err != nil {
			slog.Error("Batch processing error", "attempt", backoff.Attempts()+1, "error", err)
			if _, err := backoff.Wait(ctx); err != nil {
				return
			}
			continue
		}

		backoff.Reset()

		select {
		case <-time.After(cfg.PollInterval):
		case <-ctx.Done():
			return
		}
	}
}

func runMaintenance(ctx context.Context, repo *db.PostgresStore, cfg *config.Config, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("Janitor: starting outbox health checks")

			affected, err := repo.ResetStaleMessages(ctx, staleProcessingMinutes)
			if err != nil {
				slog.Error("Janitor: failed to reset stale messages", "error", err)
			} else if affected > 0 {
				slog.Warn("Janitor: rescued stuck messages", "count", affected)
			}

			dead, err := repo.MoveToDLQ(ctx, cfg.MaxOutboxAttempts)
			if err != nil {
				slog.Error("Janitor: DLQ maintenance failure", "error", err)
				continue
			}
			metrics.DLQSize.Set(float64(dead))

		case <-ctx.Done():
			slog.Info("Janitor: stopping maintenance goroutine")
			return
		}
	}
}
