package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/cache"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/dashboard"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/kafka"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/logger"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/marketplace"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/reconcile"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository/postgresql"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/server"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/syncer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zlog := logger.New()
	defer func() { _ = zlog.Sync() }()

	database, err := db.NewDb(ctx)
	if err != nil {
		zlog.Fatal("database init failed", zap.Error(err))
	}
	defer database.GetPool().Close()

	orderRepo := postgresql.NewOrderRepo(database)
	eventRepo := postgresql.NewEventRepo(database)
	settingsRepo := postgresql.NewSettingsRepo(database)
	userRepo := postgresql.NewUserRepo(database)
	outboxRepo := postgresql.NewOutboxTaskRepo()

	if err := ensureAdminUser(ctx, userRepo); err != nil {
		zlog.Fatal("admin bootstrap failed", zap.Error(err))
	}

	orderCache := cache.NewOrderCache(orderRepo)
	if err := orderCache.LoadInitialData(ctx); err != nil {
		zlog.Fatal("order cache warmup failed", zap.Error(err))
	}

	engine := reconcile.NewEngine(database, orderRepo, eventRepo, outboxRepo, orderCache, zlog)
	aggregator := dashboard.NewAggregator(database)

	adapters := []marketplace.Adapter{
		marketplace.NewWBAdapter(os.Getenv("WB_API_URL"), nil, zlog),
		marketplace.NewOzonAdapter(os.Getenv("OZON_API_URL"), nil, zlog),
	}
	coordinator := syncer.NewCoordinator(adapters, engine, settingsRepo, syncInterval(), zlog)
	coordinator.Start(ctx)

	producer := newProducer()
	publisher := kafka.NewPublisher(database, outboxRepo, producer, kafka.PublisherConfig{
		PollInterval: 2 * time.Second,
		BatchSize:    50,
		MaxAttempts:  5,
	}, zlog)
	go publisher.Run(ctx)

	srv := server.New(coordinator, aggregator, orderRepo, eventRepo, engine, settingsRepo, userRepo, zlog)

	go func() {
		if err := srv.Run(httpPort()); err != nil {
			zlog.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("http shutdown failed", zap.Error(err))
	}
	coordinator.Shutdown(shutdownCtx)
	publisher.Shutdown()

	zlog.Info("stopped")
}

func httpPort() string {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		return port
	}
	return "9000"
}

func syncInterval() time.Duration {
	raw := os.Getenv("SYNC_INTERVAL")
	if raw == "" {
		return syncer.DefaultInterval
	}
	interval, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Invalid SYNC_INTERVAL %q, using default", raw)
		return syncer.DefaultInterval
	}
	return interval
}

func newProducer() kafka.Producer {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		return kafka.NewConsoleProducer()
	}
	return kafka.NewKafkaProducer(strings.Split(brokers, ","))
}

func ensureAdminUser(ctx context.Context, userRepo *postgresql.UserRepo) error {
	username := os.Getenv("ADMIN_USER")
	password := os.Getenv("ADMIN_PASSWORD")
	if username == "" || password == "" {
		return nil
	}
	return userRepo.CreateUser(ctx, username, password)
}
