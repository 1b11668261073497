package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/aggregator"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/audience"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/config"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/rcs-campaign-engine/internal/infra/redis"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/observability"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/repository"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/service"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	agg, err := aggregator.New(aggregator.Config{
		Vendor:        cfg.AggregatorVendor,
		APIKey:        cfg.GupshupAPIKey,
		AppName:       cfg.GupshupAppName,
		WebhookSecret: cfg.WebhookSecret,
		BaseURL:       cfg.GupshupBaseURL,
		Timeout:       cfg.AggregatorTimeout,
	})
	if err != nil {
		logger.Fatal("aggregator initialization failed", zap.Error(err))
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.TenantRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	resolver, err := audience.NewRedisResolver(rdb)
	if err != nil {
		logger.Fatal("audience resolver initialization failed", zap.Error(err))
	}

	uow := repository.NewGormUnitOfWork(db)
	metrics := observability.NewMetrics()

	deliveryService, err := service.NewDeliveryService(uow, publisher, agg, limiter, logger)
	if err != nil {
		logger.Fatal("delivery service initialization failed", zap.Error(err))
	}
	deliveryService.SetMetrics(metrics)

	orchestrator, err := service.NewOrchestrator(uow, publisher, resolver, cfg.OrchestratorBatch, logger)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	// Each worker gets its own consumer so one reconnect loop never
	// stalls the others.
	workers := make([]*worker.Worker, 0, 4)

	dispatcher, err := worker.NewDispatcher(
		queue.NewRabbitMQConsumer(broker, cfg.DispatchConcurrency, logger),
		deliveryService, cfg.DispatchConcurrency, logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	workers = append(workers, dispatcher)

	webhookWorker, err := worker.NewWebhookWorker(
		queue.NewRabbitMQConsumer(broker, cfg.WebhookConcurrency, logger),
		agg, deliveryService, cfg.WebhookConcurrency, logger,
	)
	if err != nil {
		logger.Fatal("webhook worker initialization failed", zap.Error(err))
	}
	workers = append(workers, webhookWorker)

	fallbackWorker, err := worker.NewFallbackWorker(
		queue.NewRabbitMQConsumer(broker, cfg.FallbackConcurrency, logger),
		deliveryService, cfg.FallbackConcurrency, logger,
	)
	if err != nil {
		logger.Fatal("fallback worker initialization failed", zap.Error(err))
	}
	workers = append(workers, fallbackWorker)

	orchestratorWorker, err := worker.NewOrchestratorWorker(
		queue.NewRabbitMQConsumer(broker, 1, logger),
		orchestrator, 1, logger,
	)
	if err != nil {
		logger.Fatal("orchestrator worker initialization failed", zap.Error(err))
	}
	workers = append(workers, orchestratorWorker)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		w.SetMetrics(metrics)
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	logger.Info("rcs-campaign-engine workers started",
		zap.String("aggregator", agg.Name()),
		zap.Int("dispatchConcurrency", cfg.DispatchConcurrency),
	)

	if err := g.Wait(); err != nil {
		logger.Fatal("worker pool failed", zap.Error(err))
	}
	logger.Info("workers stopped")
}
