package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gateway-orkestapay/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("orkesta_gateway", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/health/ready"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/health/ready", "204")))
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.InFlight))
}

func TestHTTPMetricsUnknownRouteLabel(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("orkesta_gateway", nil, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodPost, "/no/such/route/a1b2c3", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "unknown", "404")))
}

func TestParseBucketsCSV(t *testing.T) {
	require.Nil(t, obs.ParseBucketsCSV("  "))
	require.Equal(t, []float64{5, 50, 500}, obs.ParseBucketsCSV("5, 50,500"))
	require.Equal(t, []float64{10}, obs.ParseBucketsCSV("abc,-3,10"))
}

func TestRoutePatternContextRoundtrip(t *testing.T) {
	ctx := obs.WithRoutePattern(nil, "/api/v1/orders/{orderID}/pay")
	require.Equal(t, "/api/v1/orders/{orderID}/pay", obs.RoutePatternFromContext(ctx))
	require.Empty(t, obs.RoutePatternFromContext(nil))
}
