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

const namespace = "mail_dispatch"

// Pipeline labels.
const (
	PipelineDispatch   = "dispatch"
	PipelineResolution = "resolution"
)

// Metrics stores Prometheus collectors used by the API and both pipelines.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	batchMessagesTotal       *prometheus.CounterVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	notificationSendDuration prometheus.Histogram
	workerInflight           *prometheus.GaugeVec
	templateCacheTotal       *prometheus.CounterVec
	templateFallbackTotal    *prometheus.CounterVec
	resolutionsTotal         *prometheus.CounterVec
	criticalFailuresTotal    *prometheus.CounterVec
	adminAlertsTotal         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_messages_total",
				Help:      "Queue messages handled per pipeline and outcome.",
			},
			[]string{"pipeline", "outcome"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications sent successfully.",
			},
			[]string{"kind"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_failed_total",
				Help:      "Total number of notification failures grouped by error category.",
			},
			[]string{"category"},
		),
		notificationSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_send_duration_seconds",
				Help:      "Email service send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight batches grouped by pipeline.",
			},
			[]string{"pipeline"},
		),
		templateCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "template_cache_lookups_total",
				Help:      "Template cache lookups grouped by result.",
			},
			[]string{"result"},
		),
		templateFallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "template_fallbacks_total",
				Help:      "Templates served from built-in content grouped by source.",
			},
			[]string{"source"},
		),
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Failure resolution attempts grouped by action.",
			},
			[]string{"action"},
		),
		criticalFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "critical_failures_total",
				Help:      "Failures classified as critical grouped by category.",
			},
			[]string{"category"},
		),
		adminAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_alerts_total",
				Help:      "Administrator alert emails grouped by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchMessagesTotal,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.notificationSendDuration,
		m.workerInflight,
		m.templateCacheTotal,
		m.templateFallbackTotal,
		m.resolutionsTotal,
		m.criticalFailuresTotal,
		m.adminAlertsTotal,
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

func (m *Metrics) IncBatchMessages(pipeline string, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchMessagesTotal.WithLabelValues(normalizeLabel(pipeline), normalizeLabel(outcome)).Add(float64(count))
}

func (m *Metrics) IncNotificationSent(kind string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncNotificationFailed(category string) {
	if m == nil {
		return
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.notificationSendDuration.Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(pipeline string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(pipeline)).Inc()
}

func (m *Metrics) DecWorkerInFlight(pipeline string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(pipeline)).Dec()
}

func (m *Metrics) IncTemplateCacheHit() {
	if m == nil {
		return
	}
	m.templateCacheTotal.WithLabelValues("hit").Inc()
}

func (m *Metrics) IncTemplateCacheMiss() {
	if m == nil {
		return
	}
	m.templateCacheTotal.WithLabelValues("miss").Inc()
}

// IncTemplateFallback counts a built-in template served instead of blob content.
// source is "default" or "generic" for a fallback, "forced" when the generic
// template was requested explicitly.
func (m *Metrics) IncTemplateFallback(source string) {
	if m == nil {
		return
	}
	m.templateFallbackTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncResolution(action string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(normalizeLabel(action)).Inc()
}

func (m *Metrics) IncCriticalFailure(category string) {
	if m == nil {
		return
	}
	m.criticalFailuresTotal.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) IncAdminAlert(sent bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !sent {
		result = "failed"
	}
	m.adminAlertsTotal.WithLabelValues(result).Inc()
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
