package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/provider"
	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T, p *fakeProvider, limiter *fakeRateLimiter, timeout time.Duration) *Dispatcher {
	t.Helper()

	factory := func(job *domain.Job) (provider.Provider, error) { return p, nil }
	if limiter == nil {
		limiter = &fakeRateLimiter{}
	}

	d, err := NewDispatcher(factory, limiter, timeout, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d
}

func TestDispatcherSendPersonalizesBody(t *testing.T) {
	t.Parallel()

	var got domain.Message
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg domain.Message) (*provider.ProviderResponse, error) {
			got = msg
			return &provider.ProviderResponse{MessageID: "m-1"}, nil
		},
	}
	d := newTestDispatcher(t, p, nil, time.Second)

	job := testJob()
	recipient := domain.Recipient{Name: "Jane Doe", Address: "jane@x.org"}
	delivery, err := d.Send(context.Background(), job, "oid:1", recipient, "Subject", "Dear #REC_NAME (#REC_EMAIL)")
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if got.HTML != "Dear Jane Doe (jane@x.org)" {
		t.Fatalf("HTML = %q", got.HTML)
	}
	if got.From != job.From || got.Subject != "Subject" {
		t.Fatalf("message = %+v", got)
	}
	if len(got.To) != 1 || got.To[0] != "jane@x.org" {
		t.Fatalf("To = %v, want [jane@x.org]", got.To)
	}
	if delivery.MessageID != "m-1" {
		t.Fatalf("MessageID = %q, want m-1", delivery.MessageID)
	}
}

func TestDispatcherSendTestModeRedirects(t *testing.T) {
	t.Parallel()

	var got domain.Message
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg domain.Message) (*provider.ProviderResponse, error) {
			got = msg
			return &provider.ProviderResponse{}, nil
		},
	}
	d := newTestDispatcher(t, p, nil, time.Second)

	job := testJob()
	job.TestMode = true
	job.Redirect = "ops@x.org"

	_, err := d.Send(context.Background(), job, "oid:1", domain.Recipient{Name: "Jane", Address: "jane@x.org"}, "s", "<p>body</p>")
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if len(got.To) != 1 || got.To[0] != "ops@x.org" {
		t.Fatalf("To = %v, want [ops@x.org]", got.To)
	}
	if !strings.HasSuffix(got.HTML, "<p>TESTMODE: was sent to jane@x.org") {
		t.Fatalf("HTML = %q, want test mode annotation naming jane@x.org", got.HTML)
	}
}

func TestDispatcherSendAddsAlertCopy(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		alert     string
		recipient string
		wantTo    []string
	}{
		{name: "alert appended", alert: "audit@x.org", recipient: "jane@x.org", wantTo: []string{"jane@x.org", "audit@x.org"}},
		{name: "alert equal to destination", alert: "jane@x.org", recipient: "jane@x.org", wantTo: []string{"jane@x.org"}},
		{name: "alert disabled", alert: "", recipient: "jane@x.org", wantTo: []string{"jane@x.org"}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var got []string
			p := &fakeProvider{
				sendFn: func(ctx context.Context, msg domain.Message) (*provider.ProviderResponse, error) {
					got = msg.To
					return &provider.ProviderResponse{}, nil
				},
			}
			d := newTestDispatcher(t, p, nil, time.Second)

			job := testJob()
			job.Alert = tc.alert
			if _, err := d.Send(context.Background(), job, "oid:1", domain.Recipient{Address: tc.recipient}, "s", "b"); err != nil {
				t.Fatalf("Send() unexpected error: %v", err)
			}

			if strings.Join(got, ",") != strings.Join(tc.wantTo, ",") {
				t.Fatalf("To = %v, want %v", got, tc.wantTo)
			}
		})
	}
}

func TestDispatcherSendMarkdownBody(t *testing.T) {
	t.Parallel()

	var got string
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg domain.Message) (*provider.ProviderResponse, error) {
			got = msg.HTML
			return &provider.ProviderResponse{}, nil
		},
	}
	d := newTestDispatcher(t, p, nil, time.Second)

	job := testJob()
	job.BodyFormat = domain.BodyFormatMarkdown

	if _, err := d.Send(context.Background(), job, "oid:1", domain.Recipient{Name: "Jane", Address: "jane@x.org"}, "s", "**Hello** #REC_NAME"); err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if !strings.Contains(got, "<strong>Hello</strong> Jane") {
		t.Fatalf("HTML = %q, want rendered markdown", got)
	}
}

func TestDispatcherSendFailureRecordsAttempt(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg domain.Message) (*provider.ProviderResponse, error) {
			return nil, &provider.ProviderError{Transport: domain.TransportSMTP, StatusCode: 550, Message: "mailbox unavailable"}
		},
	}
	d := newTestDispatcher(t, p, nil, time.Second)
	attempts := &fakeAttemptRepo{}
	d.SetAttemptStore(attempts)
	d.SetMetrics(observability.NewMetrics())

	ctx := observability.WithRunID(context.Background(), "run-1")
	_, err := d.Send(ctx, testJob(), "oid:1", domain.Recipient{Address: "jane@x.org"}, "s", "b")

	var providerErr *provider.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *provider.ProviderError", err)
	}
	if providerErr.StatusCode != 550 {
		t.Fatalf("StatusCode = %d, want 550", providerErr.StatusCode)
	}

	if len(attempts.attempts) != 1 {
		t.Fatalf("recorded %d attempts, want 1", len(attempts.attempts))
	}
	attempt := attempts.attempts[0]
	if attempt.RunID != "run-1" || attempt.Identifier != "oid:1" || attempt.Error == nil {
		t.Fatalf("attempt = %+v", attempt)
	}
}

func TestDispatcherSendTimeoutIsTransportFailure(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg domain.Message) (*provider.ProviderResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d := newTestDispatcher(t, p, nil, 20*time.Millisecond)

	_, err := d.Send(context.Background(), testJob(), "oid:1", domain.Recipient{Address: "jane@x.org"}, "s", "b")

	var providerErr *provider.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *provider.ProviderError", err)
	}
	if !providerErr.Transient {
		t.Fatal("timeout should be transient")
	}
	if got := provider.Reason(err); got != "timeout" {
		t.Fatalf("Reason() = %q, want timeout", got)
	}
}

func TestDispatcherSendRateLimiterFailure(t *testing.T) {
	t.Parallel()

	called := false
	p := &fakeProvider{
		sendFn: func(ctx context.Context, msg domain.Message) (*provider.ProviderResponse, error) {
			called = true
			return &provider.ProviderResponse{}, nil
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, transport string) error {
			if transport != "smtp" {
				t.Fatalf("transport = %q, want smtp", transport)
			}
			return errors.New("redis down")
		},
	}
	d := newTestDispatcher(t, p, limiter, time.Second)

	_, err := d.Send(context.Background(), testJob(), "oid:1", domain.Recipient{Address: "jane@x.org"}, "s", "b")

	var providerErr *provider.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *provider.ProviderError", err)
	}
	if called {
		t.Fatal("provider should not be called when the rate limiter fails")
	}
}

func TestDispatcherProviderBuiltOncePerJob(t *testing.T) {
	t.Parallel()

	builds := 0
	factory := func(job *domain.Job) (provider.Provider, error) {
		builds++
		return &fakeProvider{}, nil
	}
	d, err := NewDispatcher(factory, nil, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	job := testJob()
	for i := 0; i < 3; i++ {
		if _, err := d.Send(context.Background(), job, "oid:1", domain.Recipient{Address: "jane@x.org"}, "s", "b"); err != nil {
			t.Fatalf("Send() unexpected error: %v", err)
		}
	}
	if builds != 1 {
		t.Fatalf("provider built %d times, want 1", builds)
	}
}

func TestDispatcherProviderCachedByJobName(t *testing.T) {
	t.Parallel()

	builds := map[string]int{}
	factory := func(job *domain.Job) (provider.Provider, error) {
		builds[job.Name]++
		return &fakeProvider{}, nil
	}
	d, err := NewDispatcher(factory, nil, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	other := testJob()
	other.Name = "digest"
	// Distinct *Job values with the same name share one transport.
	jobs := []*domain.Job{testJob(), testJob(), other, testJob()}
	for _, job := range jobs {
		if _, err := d.Send(context.Background(), job, "oid:1", domain.Recipient{Address: "jane@x.org"}, "s", "b"); err != nil {
			t.Fatalf("Send() unexpected error: %v", err)
		}
	}

	if len(d.cache) != 2 {
		t.Fatalf("cache size = %d, want 2", len(d.cache))
	}
	for name, n := range builds {
		if n != 1 {
			t.Fatalf("provider for %q built %d times, want 1", name, n)
		}
	}
}

func TestDispatcherProviderFactoryError(t *testing.T) {
	t.Parallel()

	factory := func(job *domain.Job) (provider.Provider, error) {
		return nil, domain.ErrConfiguration
	}
	d, err := NewDispatcher(factory, nil, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	if _, err := d.Send(context.Background(), testJob(), "oid:1", domain.Recipient{Address: "jane@x.org"}, "s", "b"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Send() error = %v, want ErrConfiguration", err)
	}

	_, err = d.Send(context.Background(), testJob(), "oid:1", domain.Recipient{Address: "jane@x.org"}, "s", "b")
	var providerErr *provider.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %T, want *provider.ProviderError", err)
	}
	if providerErr.Transport != testJob().Transport || providerErr.Transient {
		t.Fatalf("ProviderError = %+v, want non-transient %s error", providerErr, testJob().Transport)
	}
}
