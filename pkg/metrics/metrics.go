// Package metrics holds the Prometheus collectors of the gateway.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matchgate"

type Metrics struct {
	registry *prometheus.Registry

	orders        *prometheus.CounterVec
	rejects       *prometheus.CounterVec
	trades        *prometheus.CounterVec
	tradedQty     *prometheus.CounterVec
	matchLatency  *prometheus.HistogramVec
	published     *prometheus.CounterVec
	subscribers   prometheus.Gauge
	slowConsumers prometheus.Counter
	droppedTrades prometheus.Counter
	recordErrors  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_total",
			Help: "Orders processed by the matching engine, by final status.",
		}, []string{"symbol", "status"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Rejected requests by reason.",
		}, []string{"reason"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_total",
			Help: "Trades executed.",
		}, []string{"symbol"}),
		tradedQty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "traded_lots_total",
			Help: "Executed quantity in lots.",
		}, []string{"symbol"}),
		matchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "match_duration_seconds",
			Help:    "Time spent inside a symbol's matching domain per order.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"symbol"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "marketdata_events_total",
			Help: "Market data events sequenced by the hub.",
		}, []string{"symbol"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "marketdata_subscriptions",
			Help: "Open market data subscriptions.",
		}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "marketdata_slow_consumers_total",
			Help: "Subscriptions disconnected for falling behind the ring buffer.",
		}),
		droppedTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "recorder_dropped_trades_total",
			Help: "Trades dropped because the recorder queue was full.",
		}),
		recordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "recorder_errors_total",
			Help: "Failed trade recorder writes.",
		}, []string{"sink"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.orders, m.rejects, m.trades, m.tradedQty, m.matchLatency,
		m.published, m.subscribers, m.slowConsumers,
		m.droppedTrades, m.recordErrors,
		m.httpRequests, m.httpLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OrderProcessed(symbol, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(symbol, status).Inc()
	m.matchLatency.WithLabelValues(symbol).Observe(elapsed.Seconds())
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) Traded(symbol string, qty int64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(symbol).Inc()
	m.tradedQty.WithLabelValues(symbol).Add(float64(qty))
}

func (m *Metrics) Published(symbol string, n int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(symbol).Add(float64(n))
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriptionClosed(slow bool) {
	if m == nil {
		return
	}
	m.subscribers.Dec()
	if slow {
		m.slowConsumers.Inc()
	}
}

func (m *Metrics) TradesDropped(n int) {
	if m == nil {
		return
	}
	m.droppedTrades.Add(float64(n))
}

func (m *Metrics) RecordFailed(sink string) {
	if m == nil {
		return
	}
	m.recordErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) HTTPRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusLabel(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
