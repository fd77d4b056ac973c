package obs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultLatencyBuckets covers the gateway's expected spread: local reads in
// single-digit milliseconds, provider round-trips up to a few seconds.
var defaultLatencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}

// HTTPMetrics holds the request-level Prometheus collectors.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics builds and registers the HTTP collectors. Buckets are
// latency boundaries in milliseconds; nil falls back to the defaults.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = defaultLatencyBuckets
	} else {
		sort.Float64s(buckets)
	}
	m := &HTTPMetrics{
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   buckets,
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
	m.ReqTotal = registerOrReuse(reg, m.ReqTotal)
	m.ReqDur = registerOrReuse(reg, m.ReqDur)
	m.InFlight = registerOrReuse(reg, m.InFlight)
	return m
}

// registerOrReuse registers the collector, adopting an already-registered
// twin instead of failing when the process wires metrics twice.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	err := reg.Register(collector)
	if err == nil {
		return collector
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Errorf("register collector: %w", err))
}

// ParseBucketsCSV parses a comma-separated list of positive millisecond
// boundaries, skipping anything unparseable.
func ParseBucketsCSV(csv string) []float64 {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// DurationMillis converts a duration to milliseconds for histogram observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
