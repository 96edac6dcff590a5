package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer, the token
// rotator and the verification pipeline. A nil *MetricsService is a valid no-op.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheLatency    prometheus.Observer
	dbQueryDuration *prometheus.HistogramVec

	tokensEmitted  prometheus.Counter
	tickFailures   *prometheus.CounterVec
	activeSessions prometheus.Gauge
	verifications  *prometheus.CounterVec
	scores         prometheus.Histogram
	factorFailures *prometheus.CounterVec
	renderDuration prometheus.Histogram
	geofenceEvents *prometheus.CounterVec
}

// NewMetricsService registers the Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status", "outcome"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status", "outcome"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	tokensEmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_tokens_emitted_total",
		Help: "Rotated tokens published across all sessions",
	})

	tickFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_tick_failures_total",
		Help: "Rotation tick steps that failed and were skipped",
	}, []string{"stage"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "presence_active_sessions",
		Help: "Sessions with a running token rotation",
	})

	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_verifications_total",
		Help: "Verification attempts by disposition",
	}, []string{"disposition"})

	scores := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "presence_score",
		Help:    "Distribution of computed trust scores",
		Buckets: []float64{0, 15, 25, 40, 50, 60, 67.5, 75, 85, 100},
	})

	factorFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_factor_errors_total",
		Help: "Signals that could not be evaluated and scored as zero",
	}, []string{"factor"})

	renderDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "presence_artifact_render_seconds",
		Help:    "Time to render and store a token artifact",
		Buckets: prometheus.DefBuckets,
	})

	geofenceEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_geofence_events_total",
		Help: "Geofence enter/exit events consumed",
	}, []string{"type"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, cacheLatency, dbQueryDuration,
		tokensEmitted, tickFailures, activeSessions, verifications, scores, factorFailures, renderDuration, geofenceEvents, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		cacheLatency:    cacheLatency,
		dbQueryDuration: dbQueryDuration,
		tokensEmitted:   tokensEmitted,
		tickFailures:    tickFailures,
		activeSessions:  activeSessions,
		verifications:   verifications,
		scores:          scores,
		factorFailures:  factorFailures,
		renderDuration:  renderDuration,
		geofenceEvents:  geofenceEvents,
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

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics for a route template.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, route, labelStatus, outcome).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, route, labelStatus, outcome).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// TokenEmitted counts a published rotation token.
func (m *MetricsService) TokenEmitted() {
	if m == nil {
		return
	}
	m.tokensEmitted.Inc()
}

// TickFailed counts a skipped rotation step.
func (m *MetricsService) TickFailed(stage string) {
	if m == nil {
		return
	}
	m.tickFailures.WithLabelValues(stage).Inc()
}

// SetActiveSessions updates the running rotation gauge.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ObserveVerification records the disposition and, when scored, the score.
func (m *MetricsService) ObserveVerification(disposition string, score float64, scored bool) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(disposition).Inc()
	if scored {
		m.scores.Observe(score)
	}
}

// FactorError counts a signal that failed to evaluate.
func (m *MetricsService) FactorError(factor string) {
	if m == nil {
		return
	}
	m.factorFailures.WithLabelValues(factor).Inc()
}

// ObserveRender records artifact rendering time.
func (m *MetricsService) ObserveRender(duration time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(duration.Seconds())
}

// GeofenceEvent counts a consumed geofence event.
func (m *MetricsService) GeofenceEvent(kind string) {
	if m == nil {
		return
	}
	m.geofenceEvents.WithLabelValues(kind).Inc()
}
