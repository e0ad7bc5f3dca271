package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry           *prometheus.Registry
	operationsTotal    *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
	dlqDepth           prometheus.Gauge
	oraclePrice        prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fundme_operations_total",
		Help: "Ledger calls received through the API, by outcome",
	}, []string{"operation", "status"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fundme_retry_attempts_total",
		Help: "Retry attempts for settlement calls",
	}, []string{"result"})

	dlq := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fundme_dlq_depth",
		Help: "Number of items in the DLQ",
	})

	price := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fundme_oracle_price_usd",
		Help: "Last native/USD price read from the oracle",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(operations, retries, dlq, price)

	return &metricsRegistry{
		registry:           r,
		operationsTotal:    operations,
		retryAttemptsTotal: retries,
		dlqDepth:           dlq,
		oraclePrice:        price,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *metricsRegistry) incRetry(result string) {
	m.retryAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) setDLQDepth(depth int) {
	m.dlqDepth.Set(float64(depth))
}

func (m *metricsRegistry) setOraclePrice(usd float64) {
	m.oraclePrice.Set(usd)
}
