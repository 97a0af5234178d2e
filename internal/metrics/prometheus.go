// Package metrics exposes txstress run metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/txstress/internal/tracker"
	"github.com/gateway-fm/txstress/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for a txstress process.
type PrometheusMetrics struct {
	// Transaction counters
	TxTotal *prometheus.CounterVec

	// Gauges
	PendingTxs prometheus.Gauge
	RunState   *prometheus.GaugeVec

	// Histograms
	ConfirmLatency prometheus.Histogram
	RPCLatency     *prometheus.HistogramVec

	// Blocks and errors
	BlocksObserved prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec
}

var _ tracker.Observer = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txstress_transactions_total",
				Help: "Transactions by status (sent, confirmed, failed, skipped)",
			},
			[]string{"status"},
		),

		PendingTxs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "txstress_pending_transactions",
				Help: "Submitted transactions not yet seen in a block",
			},
		),

		RunState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txstress_run_state",
				Help: "Current driver state (1 for the active state, 0 otherwise)",
			},
			[]string{"state"},
		),

		ConfirmLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "txstress_confirmation_latency_seconds",
				Help:    "Time from submission to first block containing the transaction",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txstress_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "status"},
		),

		BlocksObserved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "txstress_blocks_observed_total",
				Help: "New block heights delivered by the block feed",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txstress_errors_total",
				Help: "Dispatch failures by stage",
			},
			[]string{"stage"},
		),
	}
}

// TxSubmitted implements tracker.Observer.
func (m *PrometheusMetrics) TxSubmitted(tracker.Tx) {
	m.TxTotal.WithLabelValues("sent").Inc()
	m.PendingTxs.Inc()
}

// TxConfirmed implements tracker.Observer.
func (m *PrometheusMetrics) TxConfirmed(tx tracker.Tx) {
	m.TxTotal.WithLabelValues("confirmed").Inc()
	m.PendingTxs.Dec()
	if tx.HasLatency {
		m.ConfirmLatency.Observe(tx.Latency.Seconds())
	}
}

// RecordDispatchFailure records a failed dispatch.
func (m *PrometheusMetrics) RecordDispatchFailure(stage string) {
	m.TxTotal.WithLabelValues("failed").Inc()
	m.ErrorsTotal.WithLabelValues(stage).Inc()
}

// RecordSkipped records a wallet pick skipped for low balance.
func (m *PrometheusMetrics) RecordSkipped() {
	m.TxTotal.WithLabelValues("skipped").Inc()
}

// RecordBlock records a block height delivered by the feed.
func (m *PrometheusMetrics) RecordBlock(uint64) {
	m.BlocksObserved.Inc()
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_chainId":               true,
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_blockNumber":           true,
	"eth_getBlockByNumber":      true,
	"eth_gasPrice":              true,
	"eth_getBalance":            true,
	"eth_getTransactionReceipt": true,
}

// RecordRPCCall implements rpc.CallObserver.
func (m *PrometheusMetrics) RecordRPCCall(method string, err error, elapsed time.Duration) {
	if !knownRPCMethods[method] {
		method = "other"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(method, status).Observe(elapsed.Seconds())
}

// SetRunState marks state as the active driver state.
func (m *PrometheusMetrics) SetRunState(state types.RunState) {
	for _, s := range types.AllStates {
		if s == state {
			m.RunState.WithLabelValues(string(s)).Set(1)
		} else {
			m.RunState.WithLabelValues(string(s)).Set(0)
		}
	}
}
