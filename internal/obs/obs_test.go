package obs

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "console")
	require.NoError(t, err)
	require.NotNil(t, l)

	l, err = NewLogger("info", "")
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(-1), "debug must be disabled at info level")

	_, err = NewLogger("loud", "json")
	require.Error(t, err)
	_, err = NewLogger("info", "xml")
	require.Error(t, err)
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, reg)

	m.Login("success")
	m.Login("rate_limited")
	m.Login("rate_limited")
	m.Decision("not-owner")
	m.UnitOfWork("committed")
	m.AuthFailure("expired")

	require.Equal(t, 1.0, testutil.ToFloat64(m.loginAttempts.WithLabelValues("success")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.loginAttempts.WithLabelValues("rate_limited")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authDecisions.WithLabelValues("not-owner")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.unitsOfWork.WithLabelValues("committed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.tokenFailures.WithLabelValues("expired")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Login("x")
	m.Decision("x")
	m.UnitOfWork("x")
	m.AuthFailure("x")

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	m.Instrument(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMetrics_InstrumentUsesRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	require.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/items/{id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.True(t, strings.Contains(string(body), "http_requests_total"))
}
