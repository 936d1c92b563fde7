package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry. Every method is safe on a nil *Metrics,
// which is how metrics are switched off.
type Metrics struct {
	registry *prometheus.Registry

	ledgerCalls   *prometheus.CounterVec
	ledgerLatency *prometheus.HistogramVec

	rangeQueries *prometheus.CounterVec
	rangeOwners  prometheus.Histogram
	rangeSpan    prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ledgerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "holders",
			Name:      "ledger_calls_total",
			Help:      "Ledger read calls by method and outcome.",
		}, []string{"method", "outcome"}),
		ledgerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "holders",
			Name:      "ledger_call_duration_seconds",
			Help:      "Latency of individual ledger read calls.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"method"}),
		rangeQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "holders",
			Name:      "range_queries_total",
			Help:      "Range aggregations by outcome.",
		}, []string{"outcome"}),
		rangeOwners: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "holders",
			Name:      "range_distinct_owners",
			Help:      "Distinct owners found per successful range aggregation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		rangeSpan: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "holders",
			Name:      "range_span_tokens",
			Help:      "Token ids enumerated per range aggregation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "holders",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "holders",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "holders",
			Name:      "http_inflight_requests",
			Help:      "HTTP requests currently being served.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveLedgerCall(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ledgerCalls.WithLabelValues(method, outcome(err)).Inc()
	m.ledgerLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRangeQuery(span uint64, owners int, err error) {
	if m == nil {
		return
	}
	m.rangeQueries.WithLabelValues(outcome(err)).Inc()
	m.rangeSpan.Observe(float64(span))
	if err == nil {
		m.rangeOwners.Observe(float64(owners))
	}
}

func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) HTTPInflightInc() {
	if m != nil {
		m.httpInflight.Inc()
	}
}

func (m *Metrics) HTTPInflightDec() {
	if m != nil {
		m.httpInflight.Dec()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
