package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/provider"
	"github.com/kursadbilgin/notify-dispatch/internal/queue"
	"github.com/kursadbilgin/notify-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"github.com/kursadbilgin/notify-dispatch/internal/search"
)

type fakeResolver struct {
	resolveFn func(ctx context.Context, identifier string) (domain.Record, error)
}

var _ search.Resolver = (*fakeResolver)(nil)

func (f *fakeResolver) Resolve(ctx context.Context, identifier string) (domain.Record, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, identifier)
	}
	return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, identifier)
}

// recordResolver serves records from a map and reports the rest as not found.
func recordResolver(records map[string]domain.Record) *fakeResolver {
	return &fakeResolver{
		resolveFn: func(ctx context.Context, identifier string) (domain.Record, error) {
			record, ok := records[identifier]
			if !ok {
				return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, identifier)
			}
			return record, nil
		},
	}
}

type sentMessage struct {
	Identifier string
	Recipient  domain.Recipient
	Subject    string
	Body       string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	sendFn func(ctx context.Context, job *domain.Job, identifier string, recipient domain.Recipient, subject string, body string) (*Delivery, error)
}

var _ Sender = (*fakeSender)(nil)

func (f *fakeSender) Send(ctx context.Context, job *domain.Job, identifier string, recipient domain.Recipient, subject string, body string) (*Delivery, error) {
	if f.sendFn != nil {
		if _, err := f.sendFn(ctx, job, identifier, recipient, subject, body); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Identifier: identifier, Recipient: recipient, Subject: subject, Body: body})
	return &Delivery{Destination: []string{recipient.Address}}, nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeProvider struct {
	transport domain.Transport
	sendFn    func(ctx context.Context, msg domain.Message) (*provider.ProviderResponse, error)
}

var _ provider.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Transport() domain.Transport {
	if f.transport == "" {
		return domain.TransportSMTP
	}
	return f.transport
}

func (f *fakeProvider) Send(ctx context.Context, msg domain.Message) (*provider.ProviderResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.ProviderResponse{}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, transport string) (bool, error)
	waitFn  func(ctx context.Context, transport string) error
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

func (f *fakeRateLimiter) Allow(ctx context.Context, transport string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, transport)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, transport string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, transport)
	}
	return nil
}

type fakeRunRepo struct {
	createFn       func(ctx context.Context, r *domain.Run) error
	getByIDFn      func(ctx context.Context, id string) (*domain.Run, error)
	finishFn       func(ctx context.Context, id string, finish repository.RunFinish) error
	getRetryableFn func(ctx context.Context, maxRetries int, limit int) ([]domain.Run, error)
	markRetriedFn  func(ctx context.Context, id string) error
}

var _ repository.RunRepository = (*fakeRunRepo)(nil)

func (f *fakeRunRepo) Create(ctx context.Context, r *domain.Run) error {
	if f.createFn != nil {
		return f.createFn(ctx, r)
	}
	return nil
}

func (f *fakeRunRepo) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRunRepo) Finish(ctx context.Context, id string, finish repository.RunFinish) error {
	if f.finishFn != nil {
		return f.finishFn(ctx, id, finish)
	}
	return nil
}

func (f *fakeRunRepo) GetRetryable(ctx context.Context, maxRetries int, limit int) ([]domain.Run, error) {
	if f.getRetryableFn != nil {
		return f.getRetryableFn(ctx, maxRetries, limit)
	}
	return nil, nil
}

func (f *fakeRunRepo) MarkRetried(ctx context.Context, id string) error {
	if f.markRetriedFn != nil {
		return f.markRetriedFn(ctx, id)
	}
	return nil
}

type fakeOutcomeRepo struct {
	createBatchFn           func(ctx context.Context, runID string, outcomes []domain.Outcome) error
	listByRunFn             func(ctx context.Context, runID string) ([]domain.Outcome, error)
	listFailedIdentifiersFn func(ctx context.Context, runID string) ([]string, error)
}

var _ repository.OutcomeRepository = (*fakeOutcomeRepo)(nil)

func (f *fakeOutcomeRepo) CreateBatch(ctx context.Context, runID string, outcomes []domain.Outcome) error {
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, runID, outcomes)
	}
	return nil
}

func (f *fakeOutcomeRepo) ListByRun(ctx context.Context, runID string) ([]domain.Outcome, error) {
	if f.listByRunFn != nil {
		return f.listByRunFn(ctx, runID)
	}
	return nil, nil
}

func (f *fakeOutcomeRepo) ListFailedIdentifiers(ctx context.Context, runID string) ([]string, error) {
	if f.listFailedIdentifiersFn != nil {
		return f.listFailedIdentifiersFn(ctx, runID)
	}
	return nil, nil
}

type fakeAttemptRepo struct {
	mu          sync.Mutex
	attempts    []domain.Attempt
	createFn    func(ctx context.Context, a *domain.Attempt) error
	listByRunFn func(ctx context.Context, runID string) ([]domain.Attempt, error)
}

var _ repository.AttemptRepository = (*fakeAttemptRepo)(nil)

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.Attempt) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) ListByRun(ctx context.Context, runID string) ([]domain.Attempt, error) {
	if f.listByRunFn != nil {
		return f.listByRunFn(ctx, runID)
	}
	return nil, nil
}

type fakePublisher struct {
	publishBatchFn  func(ctx context.Context, msg queue.BatchMessage) error
	publishResultFn func(ctx context.Context, msg queue.ResultMessage) error
}

var _ queue.Publisher = (*fakePublisher)(nil)

func (f *fakePublisher) PublishBatch(ctx context.Context, msg queue.BatchMessage) error {
	if f.publishBatchFn != nil {
		return f.publishBatchFn(ctx, msg)
	}
	return nil
}

func (f *fakePublisher) PublishResult(ctx context.Context, msg queue.ResultMessage) error {
	if f.publishResultFn != nil {
		return f.publishResultFn(ctx, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
}

var _ queue.Consumer = (*fakeConsumer)(nil)

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeJobs map[string]*domain.Job

func (f fakeJobs) Get(name string) (*domain.Job, error) {
	job, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("%w: job %q", domain.ErrNotFound, name)
	}
	return job, nil
}

type fakeRunner struct {
	runFn func(ctx context.Context, job *domain.Job, req RunRequest) (*RunResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, job *domain.Job, req RunRequest) (*RunResult, error) {
	if f.runFn != nil {
		return f.runFn(ctx, job, req)
	}
	return &RunResult{RunID: req.RunID, JobName: job.Name, OutputKey: req.OutputKey, Status: domain.RunStatusCompleted}, nil
}

type fakeClaims struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	claimFn  func(ctx context.Context, runID string) (bool, error)
}

func (f *fakeClaims) Claim(ctx context.Context, runID string) (bool, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, runID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed == nil {
		f.claimed = make(map[string]bool)
	}
	if f.claimed[runID] {
		return false, nil
	}
	f.claimed[runID] = true
	return true, nil
}

func (f *fakeClaims) Release(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, runID)
	f.released = append(f.released, runID)
	return nil
}

// testJob returns a valid SMTP job rendering $title and the owner tokens.
func testJob() *domain.Job {
	return &domain.Job{
		Name:       "curation",
		Transport:  domain.TransportSMTP,
		SMTP:       domain.SMTPSettings{Host: "smtp.example.org", Port: 25},
		From:       "Portal <noreply@example.org>",
		To:         "$_owner_email",
		Subject:    "Record $title",
		Body:       "Dear #REC_NAME, $title is published.",
		BodyFormat: domain.BodyFormatHTML,
		Vars:       []string{"$title", domain.TokenOwnerName, domain.TokenOwnerEmail},
		Mapping:    map[string]string{"$title": "dc_title"},
	}
}

func ownedRecord(id string, title string, owner string) domain.Record {
	return domain.Record{
		ID: id,
		Fields: map[string]domain.Field{
			"dc_title": {Value: title},
			"owner":    {Value: owner},
		},
	}
}
