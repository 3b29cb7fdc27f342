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

	"github.com/fjod/electronics-store/internal/basket"
	"github.com/fjod/electronics-store/internal/cache"
	"github.com/fjod/electronics-store/internal/catalog"
	"github.com/fjod/electronics-store/internal/config"
	"github.com/fjod/electronics-store/internal/events"
	h "github.com/fjod/electronics-store/internal/http"
	"github.com/fjod/electronics-store/internal/telemetry"
	"github.com/fjod/electronics-store/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)
	zl = zl.With(zap.String("service", config.ServiceName))

	if err := run(cfg, zl); err != nil {
		zl.Fatal("basket service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx := context.Background()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.OtelEndpoint, config.ServiceName, config.ServiceVersion)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			zl.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	backend, closeStore, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer closeStore()

	catalogService := catalog.NewService(backend, backend, zl.Named("catalog"))
	if n, err := catalogService.SeedDefaults(ctx); err != nil {
		return err
	} else if n > 0 {
		zl.Info("catalog seeded", zap.Int("products", n))
	}

	opts := []basket.Option{}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		zl.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))
		opts = append(opts, basket.WithCache(cache.NewRedisCache(redisClient)))
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, zl.Named("events"))
		defer func() {
			if err := publisher.Close(); err != nil {
				zl.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		zl.Info("publishing events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		opts = append(opts, basket.WithPublisher(publisher))
	}

	engine := basket.NewEngine(backend, backend, nil, zl.Named("basket"), opts...)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if len(cfg.KafkaBrokers) > 0 {
		consumer := events.NewCheckoutConsumer(cfg.KafkaBrokers, cfg.CheckoutTopic, cfg.CheckoutGroupID, engine, zl.Named("checkout"))
		defer consumer.Close()
		go consumer.Run(consumerCtx)
		zl.Info("consuming checkout notifications", zap.String("topic", cfg.CheckoutTopic))
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(engine, catalogService, h.RouterConfig{
			ServiceName:    config.ServiceName,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         zl.Named("http"),
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zl.Info("basket service listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	zl.Info("shutting down basket service")
	stopConsumer()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	zl.Info("basket service stopped")
	return nil
}
