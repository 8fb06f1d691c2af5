package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics collects Prometheus metrics for session compilation and the HTTP API.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	sessionsCompiled  *prometheus.CounterVec
	compileDuration   *prometheus.HistogramVec
	groupResolutions  *prometheus.CounterVec
	permissionsSkip   prometheus.Counter
	duplicateAttrs    prometheus.Counter
	cacheInvalidation prometheus.Counter
}

// NewMetrics initialises the registry and collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "secengine_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "secengine_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	compiled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "secengine_sessions_compiled_total",
		Help: "User sessions compiled by kind and outcome.",
	}, []string{"kind", "outcome"})
	compileDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "secengine_session_compile_duration_seconds",
		Help:    "Duration of session compilation by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "secengine_group_resolutions_total",
		Help: "Access group definition resolutions by source and outcome.",
	}, []string{"source", "outcome"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "secengine_permissions_skipped_total",
		Help: "Permissions skipped during compilation because their target could not be interpreted.",
	})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "secengine_duplicate_session_attributes_total",
		Help: "Session attribute names defined more than once in a group hierarchy.",
	})
	invalidations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "secengine_role_cache_invalidations_total",
		Help: "Cached role-permission associations dropped.",
	})
	registry.MustRegister(requests, duration, compiled, compileDuration, resolutions, skipped, duplicates, invalidations)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		sessionsCompiled:  compiled,
		compileDuration:   compileDuration,
		groupResolutions:  resolutions,
		permissionsSkip:   skipped,
		duplicateAttrs:    duplicates,
		cacheInvalidation: invalidations,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveSessionCompile records one session compilation started at start.
func (m *Metrics) ObserveSessionCompile(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.sessionsCompiled.WithLabelValues(kind, outcome(err)).Inc()
	m.compileDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// ObserveGroupResolution records one access group resolution.
func (m *Metrics) ObserveGroupResolution(source string, err error) {
	if m == nil {
		return
	}
	m.groupResolutions.WithLabelValues(source, outcome(err)).Inc()
}

// PermissionSkipped counts a permission left out of a session.
func (m *Metrics) PermissionSkipped() {
	if m == nil {
		return
	}
	m.permissionsSkip.Inc()
}

// DuplicateAttribute counts a session attribute defined twice in a hierarchy.
func (m *Metrics) DuplicateAttribute() {
	if m == nil {
		return
	}
	m.duplicateAttrs.Inc()
}

// RoleCacheInvalidated counts dropped role-permission associations.
func (m *Metrics) RoleCacheInvalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheInvalidation.Add(float64(n))
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
