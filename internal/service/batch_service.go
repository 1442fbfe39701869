package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/render"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"github.com/kursadbilgin/notify-dispatch/internal/search"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minBatchConcurrency = 1
	maxBatchSize        = 10000

	reasonNoRecipients    = "no valid recipients"
	reasonDeadline        = "batch deadline exceeded"
	reasonAborted         = "run aborted"
	reasonSearchUnavail   = "search unavailable"
	reasonResolutionError = "resolution failed"
)

// RunRequest is one batch invocation. RunID is generated when empty.
type RunRequest struct {
	RunID       string
	Identifiers []string
	OutputKey   string
	ParentRunID string
	RetryCount  int
}

// RunResult reports the failed set under the caller's output key. Failed keeps
// input order and lists each identifier once.
type RunResult struct {
	RunID     string
	JobName   string
	OutputKey string
	Status    domain.RunStatus
	Failed    []string
	Outcomes  []domain.Outcome
	Error     string
}

// Preview is a rendered message for one identifier, before personalization.
type Preview struct {
	Identifier string
	Subject    string
	Body       string
	Recipients []domain.Recipient
}

// BatchService runs a job over a batch of identifiers. Identifiers are
// processed by a bounded pool; sends for one identifier stay sequential.
type BatchService struct {
	resolver     search.Resolver
	sender       Sender
	runs         repository.RunRepository
	outcomes     repository.OutcomeRepository
	logger       *zap.Logger
	metrics      *observability.Metrics
	concurrency  int
	batchTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

func NewBatchService(
	resolver search.Resolver,
	sender Sender,
	concurrency int,
	batchTimeout time.Duration,
	logger *zap.Logger,
) (*BatchService, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if concurrency < minBatchConcurrency {
		concurrency = minBatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		resolver:     resolver,
		sender:       sender,
		logger:       logger,
		concurrency:  concurrency,
		batchTimeout: batchTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
	}, nil
}

// SetRunStore persists runs and their outcomes. Without it runs are not recorded.
func (s *BatchService) SetRunStore(runs repository.RunRepository, outcomes repository.OutcomeRepository) {
	if s == nil {
		return
	}
	s.runs = runs
	s.outcomes = outcomes
}

func (s *BatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Run processes every identifier and returns the failed set. Configuration
// errors fail before anything is sent. When the search index becomes
// unavailable the run aborts: the result is still returned with status
// ABORTED, alongside an error wrapping domain.ErrSearchUnavailable.
func (s *BatchService) Run(ctx context.Context, job *domain.Job, req RunRequest) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	identifiers := uniqueIdentifiers(req.Identifiers)
	if len(identifiers) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch size must be at most %d", domain.ErrValidation, maxBatchSize)
	}

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = s.newID()
	}
	ctx = observability.WithRunID(ctx, runID)
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("job", job.Name))

	if err := s.createRun(ctx, job, req, runID, len(identifiers)); err != nil {
		return nil, err
	}

	s.metrics.IncRunInFlight(job.Name)
	defer s.metrics.DecRunInFlight(job.Name)

	logger.Info("run started",
		zap.Int("identifiers", len(identifiers)),
		zap.String("outputKey", req.OutputKey),
	)

	runCtx := ctx
	if s.batchTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.batchTimeout)
		defer cancel()
	}

	outcomes := make([]*domain.Outcome, len(identifiers))
	g, groupCtx := errgroup.WithContext(runCtx)
	g.SetLimit(s.concurrency)
	for i, identifier := range identifiers {
		outcome := domain.NewOutcome(identifier)
		outcomes[i] = outcome

		g.Go(func() error {
			return s.processIdentifier(groupCtx, job, outcome, logger)
		})
	}
	runErr := g.Wait()

	result := &RunResult{
		RunID:     runID,
		JobName:   job.Name,
		OutputKey: req.OutputKey,
		Status:    domain.RunStatusCompleted,
		Failed:    make([]string, 0),
		Outcomes:  make([]domain.Outcome, 0, len(outcomes)),
	}

	if runErr != nil {
		result.Status = domain.RunStatusAborted
		result.Error = runErr.Error()
	}

	for _, outcome := range outcomes {
		if runErr != nil && !outcome.State.IsTerminal() {
			outcome.Fail(reasonAborted)
		}
		if outcome.Failed() {
			result.Failed = append(result.Failed, outcome.Identifier)
		}
		result.Outcomes = append(result.Outcomes, *outcome)
		s.metrics.IncIdentifierOutcome(job.Name, outcome.State.String())
	}

	if runErr == nil && len(result.Failed) > 0 {
		result.Status = domain.RunStatusPartialFailure
	}

	s.finishRun(ctx, result, logger)

	logger.Info("run finished",
		zap.String("status", result.Status.String()),
		zap.Int("failed", len(result.Failed)),
		zap.Int("total", len(identifiers)),
	)

	if runErr != nil {
		return result, fmt.Errorf("run %s aborted: %w", runID, runErr)
	}
	return result, nil
}

// processIdentifier walks one identifier through the outcome state machine.
// It only returns an error to abort the whole run.
func (s *BatchService) processIdentifier(ctx context.Context, job *domain.Job, outcome *domain.Outcome, logger *zap.Logger) error {
	logger = logger.With(zap.String("identifier", outcome.Identifier))

	if err := ctx.Err(); err != nil {
		outcome.Fail(contextReason(err))
		return nil
	}

	record, err := s.resolver.Resolve(ctx, outcome.Identifier)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			outcome.Fail(contextReason(ctxErr))
			return nil
		}
		if errors.Is(err, domain.ErrSearchUnavailable) {
			outcome.Fail(reasonSearchUnavail)
			logger.Error("search index unavailable, aborting run", zap.Error(err))
			return err
		}

		outcome.Fail(fmt.Sprintf("%s: %v", reasonResolutionError, err))
		logger.Warn("identifier could not be resolved", zap.Error(err))
		return nil
	}
	if err := outcome.Transition(domain.OutcomeResolved); err != nil {
		return err
	}

	message := renderMessage(job, record)
	if err := outcome.Transition(domain.OutcomeRendered); err != nil {
		return err
	}

	outcome.Recipients = len(message.Recipients)
	if len(message.Recipients) == 0 {
		outcome.Fail(reasonNoRecipients)
		logger.Warn("identifier has no valid recipients", zap.String("to", job.To))
		return nil
	}
	if err := outcome.Transition(domain.OutcomeDispatching); err != nil {
		return err
	}

	for _, recipient := range message.Recipients {
		if err := ctx.Err(); err != nil {
			outcome.Fail(contextReason(err))
			return nil
		}

		if _, err := s.sender.Send(ctx, job, outcome.Identifier, recipient, message.Subject, message.Body); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
				outcome.Fail(contextReason(ctxErr))
				return nil
			}
			outcome.Fail(fmt.Sprintf("send to %s failed: %v", recipient.Address, err))
			return nil
		}
		outcome.Sent++
	}

	return outcome.Transition(domain.OutcomeSucceeded)
}

// Preview resolves and renders one identifier without sending anything.
func (s *BatchService) Preview(ctx context.Context, job *domain.Job, identifier string) (*Preview, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	record, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	preview := renderMessage(job, record)
	preview.Identifier = identifier
	return preview, nil
}

func renderMessage(job *domain.Job, record domain.Record) *Preview {
	bindings := render.Bind(record, job.Vars, job.Mapping)
	return &Preview{
		Identifier: record.ID,
		Subject:    render.Render(job.Subject, bindings),
		Body:       render.Render(job.Body, bindings),
		Recipients: render.ResolveRecipients(job.To, bindings),
	}
}

func (s *BatchService) createRun(ctx context.Context, job *domain.Job, req RunRequest, runID string, total int) error {
	if s.runs == nil {
		return nil
	}

	now := s.now().UTC()
	run := &domain.Run{
		ID:         runID,
		JobName:    job.Name,
		OutputKey:  req.OutputKey,
		Status:     domain.RunStatusRunning,
		TotalCount: total,
		RetryCount: req.RetryCount,
		StartedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if parent := strings.TrimSpace(req.ParentRunID); parent != "" {
		run.ParentRunID = &parent
	}

	if err := s.runs.Create(ctx, run); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// finishRun stores the outcome of a run. Storage failures are logged and do not
// change the result: the messages have already been sent.
func (s *BatchService) finishRun(ctx context.Context, result *RunResult, logger *zap.Logger) {
	if s.runs == nil {
		return
	}
	storeCtx := context.WithoutCancel(ctx)

	if s.outcomes != nil {
		if err := s.outcomes.CreateBatch(storeCtx, result.RunID, result.Outcomes); err != nil {
			logger.Error("failed to store run outcomes", zap.Error(err))
		}
	}

	finish := repository.RunFinish{
		Status:      result.Status,
		FailedCount: len(result.Failed),
		FinishedAt:  s.now().UTC(),
	}
	if result.Error != "" {
		msg := result.Error
		finish.Error = &msg
	}

	if err := s.runs.Finish(storeCtx, result.RunID, finish); err != nil {
		logger.Error("failed to finish run", zap.Error(err))
	}
}

// uniqueIdentifiers trims identifiers and drops blanks and repeats, keeping the
// first occurrence.
func uniqueIdentifiers(identifiers []string) []string {
	seen := make(map[string]struct{}, len(identifiers))
	unique := make([]string, 0, len(identifiers))
	for _, identifier := range identifiers {
		trimmed := strings.TrimSpace(identifier)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		unique = append(unique, trimmed)
	}
	return unique
}

func contextReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return reasonDeadline
	}
	return reasonAborted
}
