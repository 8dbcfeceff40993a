package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface and the attendance engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	admissions      *prometheus.CounterVec
	sessionsStarted prometheus.Counter
	sessionsEnded   prometheus.Counter
	liveSubscribers prometheus.Gauge
	broadcastDrops  prometheus.Counter
	rateLimited     *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_admissions_total",
		Help: "Attendance submissions by admission outcome",
	}, []string{"outcome"})

	sessionsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "class_sessions_started_total",
		Help: "Total class sessions started",
	})

	sessionsEnded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "class_sessions_ended_total",
		Help: "Total class sessions ended explicitly",
	})

	liveSubscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_subscribers",
		Help: "Number of connected live session viewers",
	})

	broadcastDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_broadcast_dropped_total",
		Help: "Subscribers removed after a failed delivery",
	})

	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"scope"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, admissions, sessionsStarted, sessionsEnded, liveSubscribers, broadcastDrops, rateLimited, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		admissions:      admissions,
		sessionsStarted: sessionsStarted,
		sessionsEnded:   sessionsEnded,
		liveSubscribers: liveSubscribers,
		broadcastDrops:  broadcastDrops,
		rateLimited:     rateLimited,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// CountHTTPRequest increments the request counter without observing latency.
// Live streams use it since their duration is the viewer's session length.
func (m *MetricsService) CountHTTPRequest(method, path string, status int) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
}

// RecordAdmission counts an attendance submission by outcome.
func (m *MetricsService) RecordAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

// RecordSessionStarted counts a started session.
func (m *MetricsService) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

// RecordSessionEnded counts an explicitly ended session.
func (m *MetricsService) RecordSessionEnded() {
	if m == nil {
		return
	}
	m.sessionsEnded.Inc()
}

// SetLiveSubscribers reports the number of registered live viewers.
func (m *MetricsService) SetLiveSubscribers(n int) {
	if m == nil {
		return
	}
	m.liveSubscribers.Set(float64(n))
}

// RecordBroadcastDrop counts subscribers pruned after a failed delivery.
func (m *MetricsService) RecordBroadcastDrop(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.broadcastDrops.Add(float64(n))
}

// RecordRateLimited counts a request rejected by the named limiter.
func (m *MetricsService) RecordRateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}
