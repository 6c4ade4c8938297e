package obs_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/noah-isme/backend-punchout/internal/obs"
)

const sessionPath = "/api/v1/punchout/sessions/c2VjcmV0LXNlc3Npb24tdG9rZW4/cart"

func sessionRouter(mw func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/api/v1/punchout/sessions/{token}/cart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func TestHTTPMetricsLabelByRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("punchout", []float64{1, 10}, registry)
	handler := sessionRouter(obs.HTTPObs{Metrics: metrics}.Middleware)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, sessionPath, nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	route := "/api/v1/punchout/sessions/{token}/cart"
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, route, "204")))
	require.Positive(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("punchout", nil, registry)
	second := obs.NewHTTPMetrics("punchout", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestTracingMiddlewareNamesSpanWithoutToken(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	rr := httptest.NewRecorder()
	sessionRouter(obs.TracingMiddleware).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, sessionPath, nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "GET /api/v1/punchout/sessions/{token}/cart", spans[0].Name())
	for _, attr := range spans[0].Attributes() {
		require.False(t, strings.Contains(attr.Value.Emit(), "c2VjcmV0"), "attribute %s leaks the token", attr.Key)
	}
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10, 2.5}, obs.ParseBucketsCSV(" 5, 10,,x,-1,0,2.5"))
	require.Empty(t, obs.ParseBucketsCSV(""))
}
