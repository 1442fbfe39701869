package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/notify-dispatch/internal/config"
	"github.com/kursadbilgin/notify-dispatch/internal/handler"
	"github.com/kursadbilgin/notify-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/notify-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notify-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/notify-dispatch/internal/jobconfig"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/queue"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"github.com/kursadbilgin/notify-dispatch/internal/search"
	"github.com/kursadbilgin/notify-dispatch/internal/service"
	"github.com/kursadbilgin/notify-dispatch/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{})
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

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()
	publisher := queue.NewRabbitMQPublisher(rabbit)

	registry, err := jobconfig.LoadDir(cfg.JobsDir, jobconfig.Defaults{Alert: cfg.AlertAddress})
	if err != nil {
		logger.Fatal("job registry initialization failed", zap.Error(err))
	}
	logger.Info("jobs loaded", zap.Strings("jobs", registry.Names()))

	resolver, err := search.NewSolrClient(cfg.SolrURL)
	if err != nil {
		logger.Fatal("search client initialization failed", zap.Error(err))
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, nil)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	runs := repository.NewGormRunRepo(db)
	outcomes := repository.NewGormOutcomeRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	dispatcher, err := service.NewDispatcher(nil, limiter, cfg.SendTimeout, logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)
	dispatcher.SetAttemptStore(attempts)

	batch, err := service.NewBatchService(resolver, dispatcher, cfg.WorkerConcurrency, cfg.BatchTimeout, logger)
	if err != nil {
		logger.Fatal("batch service initialization failed", zap.Error(err))
	}
	batch.SetMetrics(metrics)
	batch.SetRunStore(runs, outcomes)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
		AppName:      "notify-dispatch",
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, map[string]handler.HealthCheck{
		"postgres": handler.PostgresCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterRunRoutes(app, handler.RunHandlerDeps{
		Jobs:      registry,
		Service:   batch,
		Publisher: publisher,
		Runs:      runs,
		Outcomes:  outcomes,
		Attempts:  attempts,
	}); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("notify-dispatch api started", zap.Int("port", cfg.APIPort))
		serveErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	logger.Info("notify-dispatch api stopped")
}
