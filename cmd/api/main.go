package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/aggregator"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/config"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/handler"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/rcs-campaign-engine/internal/infra/redis"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/observability"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/repository"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/service"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
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
	queueAdmin := queue.NewRabbitMQAdmin(broker)

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

	uow := repository.NewGormUnitOfWork(db)
	metrics := observability.NewMetrics()

	campaignService, err := service.NewCampaignService(uow, publisher, logger)
	if err != nil {
		logger.Fatal("campaign service initialization failed", zap.Error(err))
	}

	deliveryService, err := service.NewDeliveryService(uow, publisher, agg, limiter, logger)
	if err != nil {
		logger.Fatal("delivery service initialization failed", zap.Error(err))
	}
	deliveryService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)

	api := app.Group("/api")
	if err := handler.RegisterCampaignRoutes(api, campaignService); err != nil {
		logger.Fatal("campaign route registration failed", zap.Error(err))
	}
	if err := handler.RegisterMessageRoutes(api, deliveryService); err != nil {
		logger.Fatal("message route registration failed", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(app, publisher); err != nil {
		logger.Fatal("webhook route registration failed", zap.Error(err))
	}
	if err := handler.RegisterQueueRoutes(api, queueAdmin, metrics); err != nil {
		logger.Fatal("queue route registration failed", zap.Error(err))
	}

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	logger.Info("rcs-campaign-engine api started",
		zap.Int("port", cfg.APIPort),
		zap.String("aggregator", agg.Name()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down api")
	if err := app.Shutdown(); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
}
