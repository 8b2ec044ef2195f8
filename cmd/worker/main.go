package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/config"
	"github.com/alphagov/notifications-api-sub002/internal/db"
	"github.com/alphagov/notifications-api-sub002/internal/events"
	"github.com/alphagov/notifications-api-sub002/internal/metrics"
	"github.com/alphagov/notifications-api-sub002/internal/queue"
	"github.com/alphagov/notifications-api-sub002/internal/repositories"
	"github.com/alphagov/notifications-api-sub002/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Also bounds how late a delayed retry is promoted.
const reserveTimeout = time.Second

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	serviceRepo := repositories.NewServiceRepo(pool)
	messageRepo := repositories.NewBroadcastMessageRepo(pool)
	eventRepo := repositories.NewBroadcastEventRepo(pool)
	providerRepo := repositories.NewProviderMessageRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	taskQueue := queue.NewRedisQueue(rdb, log)
	dispatcher := services.NewTransmissionDispatcher(taskQueue, cfg.BroadcastQueue, cfg.EnqueueTimeout, log)
	chain := services.NewEventChainBuilder(eventRepo, dispatcher, cfg.CAPSender, log)
	tickets := services.NewTicketClient(cfg.TicketAPIURL, cfg.TicketAPIKey, cfg.TicketTimeout, log)
	alerter := services.NewOperationalAlerter(tickets, log)
	broadcastService := services.NewBroadcastService(messageRepo, eventRepo, serviceRepo, auditRepo, publisher, chain, alerter, cfg.IsLive(), log)

	rps := cfg.CBCRatePerSec
	if rps <= 0 {
		rps = 1
	}
	cbc := services.NewCBCClient(cfg.CBCProxyURL, cfg.CBCTimeout, log)
	transmitter := services.NewTransmitter(eventRepo, providerRepo, cbc, rate.NewLimiter(rate.Limit(rps), rps), taskQueue, cfg.BroadcastQueue, log)

	// Expiry sweep
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ExpirySchedule, func() {
		n, err := broadcastService.ExpireBroadcasts(ctx)
		if err != nil {
			log.Error("expiry sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("completed expired broadcasts", zap.Int("count", n))
		}
	}); err != nil {
		log.Fatal("invalid EXPIRY_SCHEDULE", zap.String("schedule", cfg.ExpirySchedule), zap.Error(err))
	}
	scheduler.Start()

	// Metrics and health
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.WorkerPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := transmitter.Consume(ctx, reserveTimeout); err != nil {
			log.Error("transmission consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	log.Info("worker started",
		zap.String("queue", cfg.BroadcastQueue),
		zap.String("expiry_schedule", cfg.ExpirySchedule),
		zap.String("provider", cbc.Provider()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutting down worker")
	case <-ctx.Done():
	}

	cancel()
	<-scheduler.Stop().Done()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
