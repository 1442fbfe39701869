package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/queue"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"github.com/kursadbilgin/notify-dispatch/internal/service"
)

const (
	defaultOutputKey  = "failed"
	maxIdentifiers    = 10000
	maxOutputKeyBytes = 128
)

// JobRegistry exposes the jobs the API can run.
type JobRegistry interface {
	Get(name string) (*domain.Job, error)
	Names() []string
}

// RunService runs and previews jobs synchronously.
type RunService interface {
	Run(ctx context.Context, job *domain.Job, req service.RunRequest) (*service.RunResult, error)
	Preview(ctx context.Context, job *domain.Job, identifier string) (*service.Preview, error)
}

type RunHandler struct {
	jobs      JobRegistry
	service   RunService
	publisher queue.Publisher
	runs      repository.RunRepository
	outcomes  repository.OutcomeRepository
	attempts  repository.AttemptRepository
	newID     func() string
}

// RunHandlerDeps groups the collaborators of RunHandler. Publisher and the
// repositories are optional; the routes that need them answer 501 without.
// Without Attempts, stored runs are served with no per-recipient log.
type RunHandlerDeps struct {
	Jobs      JobRegistry
	Service   RunService
	Publisher queue.Publisher
	Runs      repository.RunRepository
	Outcomes  repository.OutcomeRepository
	Attempts  repository.AttemptRepository
}

func NewRunHandler(deps RunHandlerDeps) (*RunHandler, error) {
	if deps.Jobs == nil {
		return nil, fmt.Errorf("job registry is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("run service is required")
	}

	return &RunHandler{
		jobs:      deps.Jobs,
		service:   deps.Service,
		publisher: deps.Publisher,
		runs:      deps.Runs,
		outcomes:  deps.Outcomes,
		attempts:  deps.Attempts,
		newID:     uuid.NewString,
	}, nil
}

func RegisterRunRoutes(router fiber.Router, deps RunHandlerDeps) error {
	h, err := NewRunHandler(deps)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/runs", h.CreateRun)
	v1.Post("/runs/enqueue", h.EnqueueRun)
	v1.Get("/runs/:id", h.GetRun)
	v1.Get("/jobs", h.ListJobs)
	v1.Post("/jobs/:name/preview", h.PreviewJob)

	return nil
}

type createRunRequest struct {
	Job         string   `json:"job"`
	Identifiers []string `json:"identifiers"`
	OutputKey   string   `json:"outputKey"`
}

type previewRequest struct {
	Identifier string `json:"identifier"`
}

type runResponse struct {
	RunID       string              `json:"runId"`
	Job         string              `json:"job"`
	Status      string              `json:"status"`
	OutputKey   string              `json:"outputKey"`
	Outputs     map[string][]string `json:"outputs"`
	Error       string              `json:"error,omitempty"`
	ParentRunID *string             `json:"parentRunId,omitempty"`
	TotalCount  int                 `json:"totalCount"`
	FailedCount int                 `json:"failedCount"`
	RetryCount  int                 `json:"retryCount"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	FinishedAt  *time.Time          `json:"finishedAt,omitempty"`
	Outcomes    []outcomeResponse   `json:"outcomes"`
}

type outcomeResponse struct {
	Identifier string            `json:"identifier"`
	State      string            `json:"state"`
	Reason     string            `json:"reason,omitempty"`
	Recipients int               `json:"recipients"`
	Sent       int               `json:"sent"`
	Attempts   []attemptResponse `json:"attempts,omitempty"`
}

type attemptResponse struct {
	Recipient   string    `json:"recipient"`
	Destination string    `json:"destination"`
	Transport   string    `json:"transport"`
	MessageID   string    `json:"messageId,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"durationMs"`
	CreatedAt   time.Time `json:"createdAt"`
}

type enqueueResponse struct {
	RunID     string `json:"runId"`
	Job       string `json:"job"`
	OutputKey string `json:"outputKey"`
	Status    string `json:"status"`
}

type previewResponse struct {
	Identifier string              `json:"identifier"`
	Subject    string              `json:"subject"`
	Body       string              `json:"body"`
	Recipients []recipientResponse `json:"recipients"`
}

type recipientResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (h *RunHandler) CreateRun(c *fiber.Ctx) error {
	job, req, err := h.parseRunRequest(c)
	if err != nil {
		return toHTTPError(err)
	}

	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	result, err := h.service.Run(ctx, job, service.RunRequest{
		Identifiers: req.Identifiers,
		OutputKey:   req.OutputKey,
	})
	if err != nil {
		if result != nil && errors.Is(err, domain.ErrSearchUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(toRunResultResponse(result))
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toRunResultResponse(result))
}

func (h *RunHandler) EnqueueRun(c *fiber.Ctx) error {
	if h.publisher == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "async runs are not configured")
	}

	job, req, err := h.parseRunRequest(c)
	if err != nil {
		return toHTTPError(err)
	}

	msg := queue.BatchMessage{
		RunID:         h.newID(),
		CorrelationID: requestCorrelationID(c),
		Job:           job.Name,
		Identifiers:   req.Identifiers,
		OutputKey:     req.OutputKey,
	}
	if err := h.publisher.PublishBatch(c.UserContext(), msg); err != nil {
		return toHTTPError(fmt.Errorf("failed to enqueue run: %w", err))
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueueResponse{
		RunID:     msg.RunID,
		Job:       msg.Job,
		OutputKey: msg.OutputKey,
		Status:    "QUEUED",
	})
}

func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	if h.runs == nil || h.outcomes == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "run storage is not configured")
	}

	id := strings.TrimSpace(c.Params("id"))
	if _, err := uuid.Parse(id); err != nil {
		return toHTTPError(fmt.Errorf("%w: run id must be a UUID", domain.ErrValidation))
	}

	run, err := h.runs.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	outcomes, err := h.outcomes.ListByRun(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	var attempts []domain.Attempt
	if h.attempts != nil {
		attempts, err = h.attempts.ListByRun(c.UserContext(), id)
		if err != nil {
			return toHTTPError(err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(toStoredRunResponse(run, outcomes, attempts))
}

func (h *RunHandler) ListJobs(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"jobs": h.jobs.Names(),
	})
}

func (h *RunHandler) PreviewJob(c *fiber.Ctx) error {
	job, err := h.jobs.Get(strings.TrimSpace(c.Params("name")))
	if err != nil {
		return toHTTPError(err)
	}

	var req previewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		return toHTTPError(fmt.Errorf("%w: identifier is required", domain.ErrValidation))
	}

	preview, err := h.service.Preview(c.UserContext(), job, identifier)
	if err != nil {
		return toHTTPError(err)
	}

	recipients := make([]recipientResponse, 0, len(preview.Recipients))
	for _, r := range preview.Recipients {
		recipients = append(recipients, recipientResponse{Name: r.Name, Address: r.Address})
	}

	return c.Status(fiber.StatusOK).JSON(previewResponse{
		Identifier: preview.Identifier,
		Subject:    preview.Subject,
		Body:       preview.Body,
		Recipients: recipients,
	})
}

func (h *RunHandler) parseRunRequest(c *fiber.Ctx) (*domain.Job, createRunRequest, error) {
	var req createRunRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, req, fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}

	req.Job = strings.TrimSpace(req.Job)
	if req.Job == "" {
		return nil, req, fmt.Errorf("%w: job is required", domain.ErrValidation)
	}
	req.Identifiers = normalizeIdentifiers(req.Identifiers)
	if len(req.Identifiers) == 0 {
		return nil, req, fmt.Errorf("%w: identifiers is required", domain.ErrValidation)
	}
	if len(req.Identifiers) > maxIdentifiers {
		return nil, req, fmt.Errorf("%w: at most %d identifiers per run", domain.ErrValidation, maxIdentifiers)
	}

	req.OutputKey = strings.TrimSpace(req.OutputKey)
	if req.OutputKey == "" {
		req.OutputKey = defaultOutputKey
	}
	if len(req.OutputKey) > maxOutputKeyBytes {
		return nil, req, fmt.Errorf("%w: outputKey must be at most %d bytes", domain.ErrValidation, maxOutputKeyBytes)
	}

	job, err := h.jobs.Get(req.Job)
	if err != nil {
		return nil, req, err
	}
	return job, req, nil
}

// normalizeIdentifiers trims identifiers, drops blanks and keeps the first
// occurrence of each.
func normalizeIdentifiers(identifiers []string) []string {
	seen := make(map[string]struct{}, len(identifiers))
	out := make([]string, 0, len(identifiers))
	for _, identifier := range identifiers {
		identifier = strings.TrimSpace(identifier)
		if identifier == "" {
			continue
		}
		if _, ok := seen[identifier]; ok {
			continue
		}
		seen[identifier] = struct{}{}
		out = append(out, identifier)
	}
	return out
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toRunResultResponse(result *service.RunResult) runResponse {
	failed := result.Failed
	if failed == nil {
		failed = []string{}
	}

	return runResponse{
		RunID:       result.RunID,
		Job:         result.JobName,
		Status:      result.Status.String(),
		OutputKey:   result.OutputKey,
		Outputs:     map[string][]string{result.OutputKey: failed},
		Error:       result.Error,
		TotalCount:  len(result.Outcomes),
		FailedCount: len(failed),
		Outcomes:    toOutcomeResponses(result.Outcomes),
	}
}

func toStoredRunResponse(run *domain.Run, outcomes []domain.Outcome, attempts []domain.Attempt) runResponse {
	failed := make([]string, 0, run.FailedCount)
	for _, o := range outcomes {
		if o.Failed() {
			failed = append(failed, o.Identifier)
		}
	}

	resp := runResponse{
		RunID:       run.ID,
		Job:         run.JobName,
		Status:      run.Status.String(),
		OutputKey:   run.OutputKey,
		Outputs:     map[string][]string{run.OutputKey: failed},
		ParentRunID: run.ParentRunID,
		TotalCount:  run.TotalCount,
		FailedCount: run.FailedCount,
		RetryCount:  run.RetryCount,
		FinishedAt:  run.FinishedAt,
		Outcomes:    toOutcomeResponses(outcomes),
	}
	attachAttempts(resp.Outcomes, attempts)
	if run.Error != nil {
		resp.Error = *run.Error
	}
	if !run.StartedAt.IsZero() {
		started := run.StartedAt
		resp.StartedAt = &started
	}
	return resp
}

func toOutcomeResponses(outcomes []domain.Outcome) []outcomeResponse {
	responses := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		responses = append(responses, outcomeResponse{
			Identifier: o.Identifier,
			State:      o.State.String(),
			Reason:     o.Reason,
			Recipients: o.Recipients,
			Sent:       o.Sent,
		})
	}
	return responses
}

// attachAttempts groups send attempts under the outcome of their identifier,
// keeping the order they were recorded in.
func attachAttempts(outcomes []outcomeResponse, attempts []domain.Attempt) {
	if len(attempts) == 0 {
		return
	}

	index := make(map[string]int, len(outcomes))
	for i, o := range outcomes {
		index[o.Identifier] = i
	}

	for _, a := range attempts {
		i, ok := index[a.Identifier]
		if !ok {
			continue
		}
		entry := attemptResponse{
			Recipient:   a.Recipient,
			Destination: a.Destination,
			Transport:   a.Transport.String(),
			DurationMs:  a.Duration.Milliseconds(),
			CreatedAt:   a.CreatedAt,
		}
		if a.MessageID != nil {
			entry.MessageID = *a.MessageID
		}
		if a.Error != nil {
			entry.Error = *a.Error
		}
		outcomes[i].Attempts = append(outcomes[i].Attempts, entry)
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConfiguration):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrResolution):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrSearchUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
