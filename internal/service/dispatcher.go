package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/provider"
	"github.com/kursadbilgin/notify-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/notify-dispatch/internal/render"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"
)

const (
	defaultSendTimeout = 30 * time.Second
	testModeNote       = "<p>TESTMODE: was sent to "
)

// ProviderFactory builds the transport for a job.
type ProviderFactory func(job *domain.Job) (provider.Provider, error)

// Sender delivers one rendered message to one recipient.
type Sender interface {
	Send(ctx context.Context, job *domain.Job, identifier string, recipient domain.Recipient, subject string, body string) (*Delivery, error)
}

// Delivery describes an accepted send.
type Delivery struct {
	Destination []string
	MessageID   string
	Duration    time.Duration
}

// Dispatcher personalizes, formats and sends one message per call. It never
// retries: a failed send is reported to the caller as a *provider.ProviderError.
type Dispatcher struct {
	providers   ProviderFactory
	rateLimiter ratelimit.RateLimiter
	attempts    repository.AttemptRepository
	logger      *zap.Logger
	metrics     *observability.Metrics
	sendTimeout time.Duration
	markdown    goldmark.Markdown
	now         func() time.Time

	// Transports are cached by job name; a registry never holds two jobs
	// with the same name.
	mu    sync.Mutex
	cache map[string]provider.Provider
}

var _ Sender = (*Dispatcher)(nil)

func NewDispatcher(
	providers ProviderFactory,
	rateLimiter ratelimit.RateLimiter,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if providers == nil {
		providers = provider.New
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		providers:   providers,
		rateLimiter: rateLimiter,
		logger:      logger,
		sendTimeout: sendTimeout,
		markdown: goldmark.New(
			goldmark.WithRendererOptions(
				goldmarkHTML.WithHardWraps(),
				goldmarkHTML.WithUnsafe(),
			),
		),
		now:   time.Now,
		cache: make(map[string]provider.Provider),
	}, nil
}

// SetAttemptStore enables the per-recipient audit log.
func (d *Dispatcher) SetAttemptStore(attempts repository.AttemptRepository) {
	if d == nil {
		return
	}
	d.attempts = attempts
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *Dispatcher) Send(
	ctx context.Context,
	job *domain.Job,
	identifier string,
	recipient domain.Recipient,
	subject string,
	body string,
) (*Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job is required", domain.ErrConfiguration)
	}

	transport, err := d.providerFor(job)
	if err != nil {
		return nil, &provider.ProviderError{Transport: job.Transport, Message: "failed to build transport", Cause: err}
	}

	html, destination, err := d.compose(job, recipient, body)
	if err != nil {
		return nil, &provider.ProviderError{Transport: job.Transport, Message: "failed to format body", Cause: err}
	}

	to := []string{destination}
	if alert := strings.TrimSpace(job.Alert); alert != "" && alert != destination {
		to = append(to, alert)
	}

	msg := domain.Message{
		From:    job.From,
		To:      to,
		Subject: subject,
		HTML:    html,
	}

	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("job", job.Name),
		zap.String("identifier", identifier),
		zap.String("recipient", recipient.Address),
		zap.Strings("destination", to),
	)

	transportLabel := strings.ToLower(job.Transport.String())
	if err := d.rateLimiter.Wait(ctx, transportLabel); err != nil {
		sendErr := &provider.ProviderError{
			Transport: job.Transport,
			Message:   "rate limiter wait failed",
			Transient: true,
			Cause:     err,
		}
		d.observeFailure(ctx, job, identifier, recipient, destination, sendErr, 0, logger)
		return nil, sendErr
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := d.now()
	resp, err := transport.Send(sendCtx, msg)
	duration := d.now().Sub(start)
	d.metrics.ObserveSendDuration(transportLabel, duration)

	if err != nil {
		sendErr := asProviderError(job.Transport, sendCtx, err)
		d.observeFailure(ctx, job, identifier, recipient, destination, sendErr, duration, logger)
		return nil, sendErr
	}

	delivery := &Delivery{Destination: to, Duration: duration}
	if resp != nil {
		delivery.MessageID = resp.MessageID
	}

	d.metrics.IncSend(transportLabel)
	logger.Info("notification sent",
		zap.String("messageId", delivery.MessageID),
		zap.Duration("duration", duration),
	)
	d.recordAttempt(ctx, job, identifier, recipient, destination, delivery.MessageID, nil, duration)

	return delivery, nil
}

// compose returns the final HTML body and the address the message goes to.
func (d *Dispatcher) compose(job *domain.Job, recipient domain.Recipient, body string) (string, string, error) {
	html := render.Personalize(body, recipient)

	if job.BodyFormat == domain.BodyFormatMarkdown {
		var buf bytes.Buffer
		if err := d.markdown.Convert([]byte(html), &buf); err != nil {
			return "", "", err
		}
		html = buf.String()
	}

	destination := recipient.Address
	if job.TestMode {
		html += testModeNote + recipient.Address
		destination = job.Redirect
	}

	return html, destination, nil
}

func (d *Dispatcher) providerFor(job *domain.Job) (provider.Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.cache[job.Name]; ok {
		return p, nil
	}

	p, err := d.providers(job)
	if err != nil {
		return nil, err
	}
	d.cache[job.Name] = p
	return p, nil
}

func (d *Dispatcher) observeFailure(
	ctx context.Context,
	job *domain.Job,
	identifier string,
	recipient domain.Recipient,
	destination string,
	sendErr *provider.ProviderError,
	duration time.Duration,
	logger *zap.Logger,
) {
	reason := provider.Reason(sendErr)
	d.metrics.IncSendFailure(strings.ToLower(job.Transport.String()), reason)
	logger.Warn("notification send failed",
		zap.String("reason", reason),
		zap.Bool("transient", sendErr.Transient),
		zap.Error(sendErr),
	)

	errText := sendErr.Error()
	d.recordAttempt(ctx, job, identifier, recipient, destination, "", &errText, duration)
}

func (d *Dispatcher) recordAttempt(
	ctx context.Context,
	job *domain.Job,
	identifier string,
	recipient domain.Recipient,
	destination string,
	messageID string,
	errText *string,
	duration time.Duration,
) {
	if d.attempts == nil {
		return
	}
	runID, ok := observability.RunIDFromContext(ctx)
	if !ok {
		return
	}

	var msgID *string
	if messageID != "" {
		msgID = &messageID
	}

	attempt := &domain.Attempt{
		ID:          uuid.NewString(),
		RunID:       runID,
		Identifier:  identifier,
		Recipient:   recipient.Address,
		Destination: destination,
		Transport:   job.Transport,
		MessageID:   msgID,
		Error:       errText,
		Duration:    duration,
		CreatedAt:   d.now().UTC(),
	}

	// The audit log never changes a send's outcome.
	if err := d.attempts.Create(context.WithoutCancel(ctx), attempt); err != nil {
		d.logger.Error("failed to record send attempt",
			zap.String("runId", runID),
			zap.String("identifier", identifier),
			zap.Error(err),
		)
	}
}

// asProviderError normalizes any transport failure into a ProviderError.
// A per-send deadline is reported as a transient timeout.
func asProviderError(transport domain.Transport, sendCtx context.Context, err error) *provider.ProviderError {
	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr
	}

	if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		return &provider.ProviderError{
			Transport: transport,
			Message:   "send timed out",
			Transient: true,
			Cause:     context.DeadlineExceeded,
		}
	}

	return &provider.ProviderError{
		Transport: transport,
		Message:   "send failed",
		Transient: provider.IsTransient(err),
		Cause:     err,
	}
}
