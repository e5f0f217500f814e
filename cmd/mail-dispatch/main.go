package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/mail-dispatch/internal/config"
	"github.com/kursadbilgin/mail-dispatch/internal/handler"
	"github.com/kursadbilgin/mail-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/mail-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/mail-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/mail-dispatch/internal/observability"
	"github.com/kursadbilgin/mail-dispatch/internal/provider"
	"github.com/kursadbilgin/mail-dispatch/internal/queue"
	"github.com/kursadbilgin/mail-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/mail-dispatch/internal/repository"
	"github.com/kursadbilgin/mail-dispatch/internal/service"
	"github.com/kursadbilgin/mail-dispatch/internal/templates"
	"github.com/kursadbilgin/mail-dispatch/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("mail-dispatch stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("mail-dispatch stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	checks := []handler.ReadinessCheck{handler.PostgresCheck(sqlDB)}

	var limiter ratelimit.RateLimiter = ratelimit.Unlimited{}
	if cfg.RedisURL != "" && cfg.RateLimitPerSec > 0 {
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		limiter, err = infraredis.NewRedisRateLimiter(rdb, infraredis.Limits{
			PerSecond:          cfg.RateLimitPerSec,
			PerDomainPerSecond: cfg.RateLimitPerDomainPerSec,
		})
		if err != nil {
			return fmt.Errorf("rate limiter initialization failed: %w", err)
		}
		checks = append(checks, handler.RedisCheck(rdb))
	} else {
		logger.Warn("send rate limiting disabled", zap.Bool("redisConfigured", cfg.RedisURL != ""))
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()
	checks = append(checks, handler.RabbitMQCheck(broker))

	publisher := queue.NewRabbitMQPublisher(broker)
	consumer := queue.NewRabbitMQConsumer(broker, cfg.BatchSize, cfg.BatchWait, logger)

	sender, err := provider.NewHTTPEmailProvider(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom)
	if err != nil {
		return fmt.Errorf("email provider initialization failed: %w", err)
	}

	var store provider.BlobStore
	if cfg.TemplateStoreURL != "" {
		blobs, err := provider.NewHTTPBlobStore(cfg.TemplateStoreURL)
		if err != nil {
			return fmt.Errorf("template store initialization failed: %w", err)
		}
		store = blobs
	}
	resolver := templates.NewResolver(store, templates.NewCache(), cfg.TemplateContainer, logger)
	resolver.SetMetrics(metrics)

	location, err := cfg.Location()
	if err != nil {
		return err
	}
	formatter, err := templates.NewFormatter(cfg.TemplateLocale, location)
	if err != nil {
		return fmt.Errorf("formatter initialization failed: %w", err)
	}

	notifications := repository.NewGormNotificationRepo(db)
	failures := repository.NewGormFailureRepo(db)

	dispatcher, err := service.NewDispatcher(service.DispatcherDeps{
		Notifications: notifications,
		Failures:      failures,
		Templates:     resolver,
		Formatter:     formatter,
		Sender:        sender,
		Limiter:       limiter,
		Publisher:     publisher,
		MaxAttempts:   cfg.MaxAttempts,
		Logger:        logger.Named("dispatch"),
	})
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}
	dispatcher.SetMetrics(metrics)

	resolution, err := service.NewResolutionEngine(service.ResolutionDeps{
		Failures:   failures,
		Publisher:  publisher,
		Sender:     sender,
		Limiter:    limiter,
		AdminEmail: cfg.AdminEmail,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger.Named("resolution"),
	})
	if err != nil {
		return fmt.Errorf("resolution engine initialization failed: %w", err)
	}
	resolution.SetMetrics(metrics)

	worker, err := service.NewWorkerService(consumer, dispatcher, resolution, cfg.WorkerConcurrency, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	worker.SetMetrics(metrics)

	notificationService, err := service.NewNotificationService(notifications, failures, publisher, resolver, logger)
	if err != nil {
		return fmt.Errorf("notification service initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "mail-dispatch",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, checks...)
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Start(groupCtx)
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("mail-dispatch api started", zap.String("addr", addr))
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		logger.Info("shutting down api")
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
