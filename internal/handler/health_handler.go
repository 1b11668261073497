package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// BrokerChecker reports whether the message broker connection is open.
type BrokerChecker interface {
	Connected() bool
}

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client, broker BrokerChecker) {
	app.Get("/health", LivezHandler())
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb, broker))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler probes every dependency the delivery pipeline needs:
// Postgres for state, Redis for rate limits and audiences, RabbitMQ for
// the work queues. Any one of them down means not ready.
func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client, broker BrokerChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		pgErr := sqlDB.PingContext(ctx)
		redisErr := rdb.Ping(ctx).Err()
		brokerUp := broker != nil && broker.Connected()

		checks := fiber.Map{
			"postgres": upOrDown(pgErr == nil),
			"redis":    upOrDown(redisErr == nil),
			"rabbitmq": upOrDown(brokerUp),
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if pgErr != nil || redisErr != nil || !brokerUp {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}

func upOrDown(up bool) string {
	if up {
		return "ok"
	}
	return "down"
}
