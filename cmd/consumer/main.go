package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Guizzs26/go-region-sync/internal/broker"
	"github.com/Guizzs26/go-region-sync/internal/config"
	"github.com/Guizzs26/go-region-sync/internal/db"
	"github.com/Guizzs26/go-region-sync/internal/mapper"
	"github.com/Guizzs26/go-region-sync/internal/processor"
	"github.com/Guizzs26/go-region-sync/internal/region"
	"github.com/Guizzs26/go-region-sync/internal/rules"
	"github.com/Guizzs26/go-region-sync/internal/service"
	"github.com/Guizzs26/go-region-sync/pkg/infra"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	regions := make([]region.Region, 0, len(cfg.Regions))
	for _, r := range cfg.Regions {
		regions = append(regions, region.Region{Code: r.Code, ConnectionDescriptor: r.Descriptor})
	}

	registry, err := region.New(regions, region.Topology{
		Satellites: cfg.SatelliteRegions,
		Aggregator: cfg.AggregatorRegion,
		EURegions:  cfg.EURegions,
	})
	if err != nil {
		logger.Error("CRITICAL: invalid region registry", "error", err)
		os.Exit(1)
	}
	if len(registry.Codes()) == 0 {
		logger.Error("CRITICAL: REGIONS is empty, nothing to replicate to")
		os.Exit(1)
	}

	schemas, err := mapper.LoadSchemas(cfg.SchemaFile)
	if err != nil {
		logger.Error("CRITICAL: failed to load schema descriptors", "error", err)
		os.Exit(1)
	}

	logger.Info("Sync engine initializing",
		"regions", registry.Codes(),
		"aggregator", registry.Aggregator(),
		"satellites", cfg.SatelliteRegions,
		"schemas", schemas.Len(),
		"strict_override_consent", cfg.StrictOverrideConsent,
	)

	stores, err := db.Open(ctx, registry.Regions(), logger)
	if err != nil {
		logger.Error("CRITICAL: region store connection failed", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	engine := rules.NewEngine(registry, rules.WithStrictOverrideConsent(cfg.StrictOverrideConsent))
	loader := service.NewMetadataLoader(stores, schemas, logger)
	handler := processor.NewSyncHandler(
		schemas,
		service.NewTargetResolver(loader, engine, logger),
		service.NewDeletionPropagator(stores, schemas, logger),
		service.NewUpsertPropagator(stores, schemas, logger, service.WithLockRetries(cfg.MaxLockRetries)),
		logger,
	)

	var connected atomic.Bool
	go infra.ServeObservability(ctx, infra.NewObservabilityServer(cfg.MetricsPort, "CONSUMER", connected.Load), logger)

	consumerCfg := broker.ConsumerConfig{
		Queue:        cfg.SyncQueue,
		FKRetryDelay: cfg.FKRetryDelay,
	}
	connBackoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
			return
		default:
		}

		consumer, err := broker.NewRabbitMQConsumer(cfg.RabbitMQURL, consumerCfg, handler, logger)
		if err != nil {
			metrics.RabbitMQReconnections.Inc()
			logger.Error("RabbitMQ connection failed, retrying...",
				"attempt", connBackoff.Attempts()+1,
				"error", err,
			)
			if _, err := connBackoff.Wait(ctx); err != nil {
				return
			}
			continue
		}

		connBackoff.Reset()
		connected.Store(true)
		metrics.HealthStatus.Set(1)
		logger.Info("Connected to broker, listening for sync events")

		if err := consumer.Listen(ctx); err != nil {
			logger.Error("Consumer connection lost", "error", err)
		}

		connected.Store(false)
		metrics.HealthStatus.Set(0)
		consumer.Close()
	}
}
