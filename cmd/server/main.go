package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "inventory-ledger/internal/adapters/web"
	"inventory-ledger/internal/app"
	"inventory-ledger/internal/cache"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/db"
	"inventory-ledger/internal/events"
	"inventory-ledger/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	appLogger, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		appLogger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	var availability app.AvailabilityCache
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			appLogger.Fatal("redis", zap.Error(err))
		}
		defer client.Close()
		availability = cache.NewAvailabilityCache(client, cfg.Redis.TTL, appLogger.Named("cache"))
		appLogger.Info("availability cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	services := app.NewServices(pool, cfg.Ledger.MaxConsumeRetries, appLogger)
	svc := app.NewAppService(pool, services, availability, appLogger.Named("app"))

	if len(cfg.Kafka.Brokers) > 0 {
		reader := events.NewReader(cfg.Kafka)
		defer reader.Close()
		listener := events.NewOrderListener(reader, svc, appLogger.Named("events"))
		go listener.Start(ctx)
		appLogger.Info("connected to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Ledger.SweepInterval > 0 {
		go sweepReservations(ctx, svc, cfg.Ledger.SweepInterval, appLogger.Named("sweep"))
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           webAdapter.NewHandler(svc, cfg.Server.AllowedOrigins, appLogger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("shutdown", zap.Error(err))
	}
	appLogger.Info("server stopped")
}

// sweepReservations expires overdue reservations every interval until ctx ends.
func sweepReservations(ctx context.Context, svc app.ApplicationService, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := svc.ExpireReservations(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("reservation sweep failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				log.Info("expired reservations", zap.Int64("count", n))
			}
		}
	}
}
