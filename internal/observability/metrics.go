package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "notify_dispatch"

// Metrics stores Prometheus collectors used by the API, worker and CLI flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	sendsTotal          *prometheus.CounterVec
	sendFailuresTotal   *prometheus.CounterVec
	sendDuration        *prometheus.HistogramVec
	identifiersTotal    *prometheus.CounterVec
	runsInflight        *prometheus.GaugeVec
	runRetriesTotal     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sends_total",
				Help:      "Total number of messages accepted by a mail transport.",
			},
			[]string{"transport"},
		),
		sendFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "send_failures_total",
				Help:      "Total number of failed sends grouped by transport and reason.",
			},
			[]string{"transport", "reason"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "send_duration_seconds",
				Help:      "Mail transport send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"transport"},
		),
		identifiersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "identifiers_total",
				Help:      "Identifiers processed grouped by job and final outcome.",
			},
			[]string{"job", "outcome"},
		),
		runsInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "runs_inflight",
				Help:      "Batch runs currently being processed grouped by job.",
			},
			[]string{"job"},
		),
		runRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "run_retries_total",
				Help:      "Retry runs enqueued for failed identifiers.",
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.sendsTotal,
		m.sendFailuresTotal,
		m.sendDuration,
		m.identifiersTotal,
		m.runsInflight,
		m.runRetriesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncSend(transport string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(normalizeLabel(transport)).Inc()
}

func (m *Metrics) IncSendFailure(transport string, reason string) {
	if m == nil {
		return
	}
	m.sendFailuresTotal.WithLabelValues(normalizeLabel(transport), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveSendDuration(transport string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(normalizeLabel(transport)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncIdentifierOutcome(job string, outcome string) {
	if m == nil {
		return
	}
	m.identifiersTotal.WithLabelValues(normalizeLabel(job), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRunInFlight(job string) {
	if m == nil {
		return
	}
	m.runsInflight.WithLabelValues(normalizeLabel(job)).Inc()
}

func (m *Metrics) DecRunInFlight(job string) {
	if m == nil {
		return
	}
	m.runsInflight.WithLabelValues(normalizeLabel(job)).Dec()
}

func (m *Metrics) IncRunRetry(job string) {
	if m == nil {
		return
	}
	m.runRetriesTotal.WithLabelValues(normalizeLabel(job)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
