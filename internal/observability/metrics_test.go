package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsSendCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncSend("SMTP")
	metrics.IncSendFailure("smtp", "Timeout")
	metrics.ObserveSendDuration("smtp", 120*time.Millisecond)
	metrics.IncRunInFlight("curation")
	metrics.DecRunInFlight("curation")
	metrics.IncRunRetry("curation")
	metrics.IncIdentifierOutcome("curation", "FAILED")
	metrics.IncIdentifierOutcome("curation", "succeeded")

	if got := testutil.ToFloat64(metrics.sendsTotal.WithLabelValues("smtp")); got != 1 {
		t.Fatalf("sends_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.sendFailuresTotal.WithLabelValues("smtp", "timeout")); got != 1 {
		t.Fatalf("send_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.runRetriesTotal.WithLabelValues("curation")); got != 1 {
		t.Fatalf("run_retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.runsInflight.WithLabelValues("curation")); got != 0 {
		t.Fatalf("runs_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.identifiersTotal.WithLabelValues("curation", "failed")); got != 1 {
		t.Fatalf("identifiers_total{failed} = %v, want 1", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncSend("smtp")
	metrics.IncSendFailure("smtp", "timeout")
	metrics.IncIdentifierOutcome("job", "failed")
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
