package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/queue"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = time.Minute
	defaultRetryScanLimit    = 100
	defaultMaxRunRetries     = 3
)

// RetryScanner periodically re-enqueues the failed set of partially failed and
// aborted runs as child runs, until a run lineage exhausts its retry budget.
type RetryScanner struct {
	runs       repository.RunRepository
	outcomes   repository.OutcomeRepository
	publisher  queue.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	limit      int
	maxRetries int
}

func NewRetryScanner(
	runs repository.RunRepository,
	outcomes repository.OutcomeRepository,
	publisher queue.Publisher,
	interval time.Duration,
	maxRetries int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	if outcomes == nil {
		return nil, fmt.Errorf("outcome repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if maxRetries < 0 {
		maxRetries = defaultMaxRunRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		runs:       runs,
		outcomes:   outcomes,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
		limit:      defaultRetryScanLimit,
		maxRetries: maxRetries,
	}, nil
}

func (s *RetryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.maxRetries == 0 {
		s.logger.Info("run retries disabled")
		<-ctx.Done()
		return nil
	}

	// Run an initial scan so runs finished while the scanner was down do not wait for the first tick.
	if err := s.scanRetryable(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanRetryable(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanRetryable(ctx context.Context) error {
	runs, err := s.runs.GetRetryable(ctx, s.maxRetries, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch retryable runs: %w", err)
	}

	for i := range runs {
		s.retryRun(ctx, &runs[i])
	}

	return nil
}

func (s *RetryScanner) retryRun(ctx context.Context, run *domain.Run) {
	logger := s.logger.With(zap.String("runId", run.ID), zap.String("job", run.JobName))

	failed, err := s.outcomes.ListFailedIdentifiers(ctx, run.ID)
	if err != nil {
		logger.Error("failed to load failed identifiers", zap.Error(err))
		return
	}

	if len(failed) > 0 {
		msg := queue.BatchMessage{
			RunID:       childRunID(run.ID),
			Job:         run.JobName,
			Identifiers: failed,
			OutputKey:   run.OutputKey,
			ParentRunID: run.ID,
			RetryCount:  run.RetryCount + 1,
		}
		if err := s.publisher.PublishBatch(ctx, msg); err != nil {
			logger.Error("failed to enqueue retry run", zap.Error(err))
			return
		}
		s.metrics.IncRunRetry(run.JobName)
		logger.Info("retry run enqueued",
			zap.String("childRunId", msg.RunID),
			zap.Int("identifiers", len(failed)),
			zap.Int("retryCount", msg.RetryCount),
		)
	}

	if err := s.runs.MarkRetried(ctx, run.ID); err != nil {
		logger.Warn("failed to mark run as retried", zap.Error(err))
	}
}

// childRunID is derived from the parent so that a retry published twice is
// claimed and dispatched once.
func childRunID(parentRunID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(parentRunID+"/retry")).String()
}
