package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	loginAttempts *prometheus.CounterVec
	authDecisions *prometheus.CounterVec
	unitsOfWork   *prometheus.CounterVec
	tokenFailures *prometheus.CounterVec
	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on a fresh registry together with the Go
// and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewMetricsWith(reg, reg)
}

// NewMetricsWith registers the collectors on r and serves them from g.
func NewMetricsWith(r prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		reg: g,
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ogf_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ogf_authorization_decisions_total",
			Help: "Ownership gate decisions by reason.",
		}, []string{"reason"}),
		unitsOfWork: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ogf_units_of_work_total",
			Help: "Finished units of work by outcome.",
		}, []string{"outcome"}),
		tokenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ogf_authentication_failures_total",
			Help: "Rejected bearer credentials by internal reason.",
		}, []string{"reason"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	r.MustRegister(m.loginAttempts, m.authDecisions, m.unitsOfWork, m.tokenFailures,
		m.httpInFlight, m.httpRequests, m.httpDurations)
	return m
}

// Login records a login attempt outcome ("success", "invalid_credentials", "rate_limited", "error").
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

// Decision records an ownership gate decision.
func (m *Metrics) Decision(reason string) {
	if m == nil {
		return
	}
	m.authDecisions.WithLabelValues(reason).Inc()
}

// UnitOfWork records how a unit of work finished.
func (m *Metrics) UnitOfWork(outcome string) {
	if m == nil {
		return
	}
	m.unitsOfWork.WithLabelValues(outcome).Inc()
}

// AuthFailure records why a presented credential was rejected.
func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.tokenFailures.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Instrument measures request count, latency and in-flight requests. Routes are labelled by their
// chi pattern so ids do not explode label cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		m.httpDurations.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, route, status).Inc()
	})
}

// statusWriter records the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
