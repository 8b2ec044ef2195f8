package http

import (
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/config"
	"github.com/alphagov/notifications-api-sub002/internal/http/handlers"
	"github.com/alphagov/notifications-api-sub002/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	apiKeys middleware.APIKeyLookup,
	userHandler *handlers.UserHandler,
	broadcastHandler *handlers.BroadcastHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Meta (public, no auth required)
	metaHandler := handlers.NewMetaHandler()
	api.Get("/meta/broadcast-statuses", metaHandler.GetStatuses)
	api.Get("/meta/broadcast-message-types", metaHandler.GetMessageTypes)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, apiKeys, log))

	protected.Get("/me", userHandler.GetMe)

	// Broadcasts
	broadcasts := protected.Group("/services/:serviceId/broadcast-messages")
	broadcasts.Post("/", broadcastHandler.CreateBroadcast)
	broadcasts.Get("/", broadcastHandler.ListBroadcasts)
	broadcasts.Post("/cancel", broadcastHandler.CancelByReference)
	broadcasts.Get("/:id", broadcastHandler.GetBroadcast)
	broadcasts.Post("/:id/status", broadcastHandler.UpdateStatus)
	broadcasts.Get("/:id/events", broadcastHandler.ListEvents)
	broadcasts.Get("/:id/audit", broadcastHandler.GetAuditTrail)

	protected.Get("/broadcast-events/:id/cap", broadcastHandler.GetEventCAP)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
