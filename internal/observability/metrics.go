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

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	messagesSentTotal      *prometheus.CounterVec
	messagesFailedTotal    *prometheus.CounterVec
	messageSendDuration    *prometheus.HistogramVec
	fallbackTriggeredTotal *prometheus.CounterVec
	webhookEventsTotal     *prometheus.CounterVec
	retryScheduledTotal    *prometheus.CounterVec
	workerInflight         *prometheus.GaugeVec
	queueDepth             *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rcs_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rcs_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rcs_engine",
				Name:      "messages_sent_total",
				Help:      "Total number of messages accepted by the aggregator.",
			},
			[]string{"channel"},
		),
		messagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rcs_engine",
				Name:      "messages_failed_total",
				Help:      "Total number of messages that entered failed state by channel and reason.",
			},
			[]string{"channel", "reason"},
		),
		messageSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rcs_engine",
				Name:      "message_send_duration_seconds",
				Help:      "Aggregator send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		fallbackTriggeredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rcs_engine",
				Name:      "fallback_triggered_total",
				Help:      "Total number of RCS messages rerouted to SMS by failure reason.",
			},
			[]string{"reason"},
		),
		webhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rcs_engine",
				Name:      "webhook_events_total",
				Help:      "Total number of aggregator webhook events processed by resulting status.",
			},
			[]string{"status"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rcs_engine",
				Name:      "retry_scheduled_total",
				Help:      "Total number of messages scheduled for a delayed retry.",
			},
			[]string{"channel"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "rcs_engine",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker operations grouped by worker.",
			},
			[]string{"worker"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "rcs_engine",
				Name:      "queue_depth",
				Help:      "Last observed broker queue depth grouped by queue.",
			},
			[]string{"queue"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.messagesSentTotal,
		m.messagesFailedTotal,
		m.messageSendDuration,
		m.fallbackTriggeredTotal,
		m.webhookEventsTotal,
		m.retryScheduledTotal,
		m.workerInflight,
		m.queueDepth,
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

func (m *Metrics) IncMessageSent(channel string) {
	if m == nil {
		return
	}
	m.messagesSentTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncMessageFailed(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := normalizeLabel(reason)
	m.messagesFailedTotal.WithLabelValues(normalizeLabel(channel), reasonLabel).Inc()
}

func (m *Metrics) ObserveSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.messageSendDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncFallbackTriggered(reason string) {
	if m == nil {
		return
	}
	m.fallbackTriggeredTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncWebhookEvent(status string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncWorkerInFlight(worker string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(worker)).Inc()
}

func (m *Metrics) DecWorkerInFlight(worker string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(worker)).Dec()
}

func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(queue)).Set(float64(depth))
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
