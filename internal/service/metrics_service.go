package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry and every instrument the
// file service emits.
type MetricsService struct {
	registry *prometheus.Registry

	httpDuration     *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	storageOps       *prometheus.HistogramVec
	uploadsTotal     *prometheus.CounterVec
	serveFallbacks   prometheus.Counter
	analyticsDropped prometheus.Counter
}

// NewMetricsService builds the registry and registers all collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		storageOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage adapter operation latency by backend and operation.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		}, []string{"backend", "operation", "outcome"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "file_uploads_total",
			Help: "Uploads by backend and outcome.",
		}, []string{"backend", "outcome"}),
		serveFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "file_serve_fallback_total",
			Help: "Serves satisfied by the secondary backend after a primary miss.",
		}),
		analyticsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_events_dropped_total",
			Help: "Access events dropped because the analytics buffer was full.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpDuration,
		m.httpRequests,
		m.storageOps,
		m.uploadsTotal,
		m.serveFallbacks,
		m.analyticsDropped,
	)

	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one completed request.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.httpDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
	m.httpRequests.WithLabelValues(method, route, code).Inc()
}

// ObserveStorageOp records one adapter call.
func (m *MetricsService) ObserveStorageOp(backend, operation string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storageOps.WithLabelValues(backend, operation, outcome).Observe(duration.Seconds())
}

// IncUpload counts one upload attempt outcome.
func (m *MetricsService) IncUpload(backend, outcome string) {
	m.uploadsTotal.WithLabelValues(backend, outcome).Inc()
}

// IncServeFallback counts one secondary-backend serve.
func (m *MetricsService) IncServeFallback() {
	m.serveFallbacks.Inc()
}

// IncAnalyticsDropped counts one dropped access event.
func (m *MetricsService) IncAnalyticsDropped() {
	m.analyticsDropped.Inc()
}
