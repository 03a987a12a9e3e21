package service

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/brianly1003/adid/internal/rpc/message"
)

// Metrics holds the provider's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	transactions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	connections  prometheus.Gauge
}

// NewMetrics creates collectors registered on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adid",
			Subsystem: "service",
			Name:      "transactions_total",
			Help:      "Binder transactions handled, by code and result.",
		}, []string{"code", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adid",
			Subsystem: "service",
			Name:      "transaction_duration_seconds",
			Help:      "Time spent handling binder transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"code"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "adid",
			Subsystem: "service",
			Name:      "connections",
			Help:      "Currently connected binder clients.",
		}),
	}

	m.registry.MustRegister(
		m.transactions,
		m.latency,
		m.connections,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTransaction records one handled transaction. It matches
// rpc.Observer.
func (m *Metrics) ObserveTransaction(code uint32, status message.Status, elapsed time.Duration) {
	c := strconv.FormatUint(uint64(code), 10)
	m.transactions.WithLabelValues(c, status.String()).Inc()
	m.latency.WithLabelValues(c).Observe(elapsed.Seconds())
}

// ConnectionOpened increments the connection gauge.
func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
}

// ConnectionClosed decrements the connection gauge.
func (m *Metrics) ConnectionClosed() {
	m.connections.Dec()
}
