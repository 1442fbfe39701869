package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// JobLookup finds a registered job by name.
type JobLookup interface {
	Get(name string) (*domain.Job, error)
}

// BatchRunner executes a batch run.
type BatchRunner interface {
	Run(ctx context.Context, job *domain.Job, req RunRequest) (*RunResult, error)
}

// RunClaimer makes sure a redelivered batch message is dispatched once.
type RunClaimer interface {
	Claim(ctx context.Context, runID string) (bool, error)
	Release(ctx context.Context, runID string) error
}

// WorkerService consumes batch messages, runs them and publishes the failed set.
type WorkerService struct {
	jobs        JobLookup
	runner      BatchRunner
	consumer    queue.Consumer
	publisher   queue.Publisher
	claims      RunClaimer
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(
	jobs JobLookup,
	runner BatchRunner,
	consumer queue.Consumer,
	publisher queue.Publisher,
	claims RunClaimer,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job registry is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("batch runner is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		jobs:        jobs,
		runner:      runner,
		consumer:    consumer,
		publisher:   publisher,
		claims:      claims,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the batch queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.BatchQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.BatchQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.BatchMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	ctx = observability.WithRunID(ctx, msg.RunID)
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("job", msg.Job))

	job, err := s.jobs.Get(msg.Job)
	if err != nil {
		return fmt.Errorf("failed to look up job: %w", err)
	}

	if s.claims != nil {
		claimed, err := s.claims.Claim(ctx, msg.RunID)
		if err != nil {
			return fmt.Errorf("failed to claim run: %w", err)
		}
		if !claimed {
			logger.Warn("run already claimed, skipping redelivered message")
			return nil
		}
	}

	result, err := s.runner.Run(ctx, job, RunRequest{
		RunID:       msg.RunID,
		Identifiers: msg.Identifiers,
		OutputKey:   msg.OutputKey,
		ParentRunID: msg.ParentRunID,
		RetryCount:  msg.RetryCount,
	})
	if result == nil {
		// Nothing was sent, so the run may be attempted again.
		s.releaseClaim(ctx, msg.RunID, logger)
		if err == nil {
			err = fmt.Errorf("run returned no result")
		}
		return err
	}
	if err != nil {
		logger.Warn("run aborted", zap.Error(err))
	}

	resultMsg := queue.ResultMessage{
		RunID:         result.RunID,
		CorrelationID: msg.CorrelationID,
		Job:           result.JobName,
		OutputKey:     result.OutputKey,
		Status:        result.Status,
		Failed:        result.Failed,
		Error:         result.Error,
	}
	if err := s.publisher.PublishResult(ctx, resultMsg); err != nil {
		// The run is stored with its outcomes; the result stays readable via the API.
		logger.Error("failed to publish run result", zap.Error(err))
	}

	return nil
}

func (s *WorkerService) releaseClaim(ctx context.Context, runID string, logger *zap.Logger) {
	if s.claims == nil {
		return
	}
	if err := s.claims.Release(context.WithoutCancel(ctx), runID); err != nil {
		logger.Error("failed to release run claim", zap.Error(err))
	}
}
