package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/config"
	"github.com/kursadbilgin/notify-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/notify-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notify-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/notify-dispatch/internal/jobconfig"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/queue"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"github.com/kursadbilgin/notify-dispatch/internal/search"
	"github.com/kursadbilgin/notify-dispatch/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	metricsPort      = 9090
	shutdownTimeout  = 10 * time.Second
	consumerPrefetch = 1
)

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

	registry, err := jobconfig.LoadDir(cfg.JobsDir, jobconfig.Defaults{Alert: cfg.AlertAddress})
	if err != nil {
		logger.Fatal("job registry initialization failed", zap.Error(err))
	}

	resolver, err := search.NewSolrClient(cfg.SolrURL)
	if err != nil {
		logger.Fatal("search client initialization failed", zap.Error(err))
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, nil)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	claims, err := infraredis.NewRunClaims(rdb, 0)
	if err != nil {
		logger.Fatal("run claims initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	runs := repository.NewGormRunRepo(db)
	outcomes := repository.NewGormOutcomeRepo(db)

	dispatcher, err := service.NewDispatcher(nil, limiter, cfg.SendTimeout, logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)
	dispatcher.SetAttemptStore(repository.NewGormAttemptRepo(db))

	batch, err := service.NewBatchService(resolver, dispatcher, cfg.WorkerConcurrency, cfg.BatchTimeout, logger)
	if err != nil {
		logger.Fatal("batch service initialization failed", zap.Error(err))
	}
	batch.SetMetrics(metrics)
	batch.SetRunStore(runs, outcomes)

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, consumerPrefetch, logger)

	worker, err := service.NewWorkerService(registry, batch, consumer, publisher, claims, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}

	scanner, err := service.NewRetryScanner(runs, outcomes, publisher, cfg.RetryScanInterval, cfg.MaxRunRetries, logger)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}
	scanner.SetMetrics(metrics)

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", metricsPort),
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return scanner.Start(groupCtx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("notify-dispatch worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Strings("jobs", registry.Names()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("notify-dispatch worker stopped")
}
