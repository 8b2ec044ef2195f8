package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alphagov/notifications-api-sub002/internal/config"
	"github.com/alphagov/notifications-api-sub002/internal/db"
	"github.com/alphagov/notifications-api-sub002/internal/events"
	apphttp "github.com/alphagov/notifications-api-sub002/internal/http"
	"github.com/alphagov/notifications-api-sub002/internal/http/handlers"
	"github.com/alphagov/notifications-api-sub002/internal/metrics"
	"github.com/alphagov/notifications-api-sub002/internal/queue"
	"github.com/alphagov/notifications-api-sub002/internal/repositories"
	"github.com/alphagov/notifications-api-sub002/internal/services"
	"github.com/alphagov/notifications-api-sub002/migrations"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	serviceRepo := repositories.NewServiceRepo(pool)
	messageRepo := repositories.NewBroadcastMessageRepo(pool)
	eventRepo := repositories.NewBroadcastEventRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	taskQueue := queue.NewRedisQueue(rdb, log)
	dispatcher := services.NewTransmissionDispatcher(taskQueue, cfg.BroadcastQueue, cfg.EnqueueTimeout, log)
	chain := services.NewEventChainBuilder(eventRepo, dispatcher, cfg.CAPSender, log)
	tickets := services.NewTicketClient(cfg.TicketAPIURL, cfg.TicketAPIKey, cfg.TicketTimeout, log)
	alerter := services.NewOperationalAlerter(tickets, log)
	broadcastService := services.NewBroadcastService(messageRepo, eventRepo, serviceRepo, auditRepo, publisher, chain, alerter, cfg.IsLive(), log)

	// Handlers
	userHandler := handlers.NewUserHandler(userRepo, log)
	broadcastHandler := handlers.NewBroadcastHandler(broadcastService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, serviceRepo, log)

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to broadcast events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, serviceRepo, userHandler, broadcastHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("environment", cfg.Environment),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
