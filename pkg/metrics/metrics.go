// Package metrics exposes the oracle's Prometheus counters, registered
// against a private registry so /metrics output is limited to this
// process's own series rather than whatever the default registry picks
// up from imported packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/gauge the oracle's components increment.
// It satisfies oracle.Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	FulfillTimeTotal        *prometheus.CounterVec
	FailedConfirmationTotal *prometheus.CounterVec
	ExecutionTimeoutTotal   *prometheus.CounterVec
	DoubleSpendTotal        prometheus.Counter

	SubmitAttemptsTotal *prometheus.CounterVec
	NonceResyncTotal    *prometheus.CounterVec

	ActiveTrades  *prometheus.GaugeVec
	PendingEvents *prometheus.GaugeVec
}

// New constructs and registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		FulfillTimeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Name:      "fulfill_time_total",
			Help:      "Successful fulfillTime submissions, by chain.",
		}, []string{"chain"}),
		FailedConfirmationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Name:      "failed_confirmation_total",
			Help:      "handleFailedConfirmation submissions, by chain.",
		}, []string{"chain"}),
		ExecutionTimeoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Name:      "execution_timeout_total",
			Help:      "handleExecutionTimeout submissions, by chain.",
		}, []string{"chain"}),
		DoubleSpendTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oracle",
			Name:      "double_spend_detected_total",
			Help:      "Timeout-inversion (double-spend) detections at trade creation.",
		}),
		SubmitAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Name:      "submit_attempts_total",
			Help:      "Transaction submission attempts, by chain and outcome class.",
		}, []string{"chain", "class"}),
		NonceResyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Name:      "nonce_resync_total",
			Help:      "Nonce Manager resyncs triggered by a nonce-too-low response.",
		}, []string{"chain"}),
		ActiveTrades: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "oracle",
			Name:      "active_trades",
			Help:      "Trade records currently tracked in memory, by chain.",
		}, []string{"chain"}),
		PendingEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "oracle",
			Name:      "pending_events",
			Help:      "Deferred events currently queued behind an in-flight trade_id, by chain.",
		}, []string{"chain"}),
	}

	reg.MustRegister(
		m.FulfillTimeTotal,
		m.FailedConfirmationTotal,
		m.ExecutionTimeoutTotal,
		m.DoubleSpendTotal,
		m.SubmitAttemptsTotal,
		m.NonceResyncTotal,
		m.ActiveTrades,
		m.PendingEvents,
	)
	return m
}

// IncFulfillTime satisfies oracle.Metrics.
func (m *Metrics) IncFulfillTime(chain string) { m.FulfillTimeTotal.WithLabelValues(chain).Inc() }

// IncFailedConfirmation satisfies oracle.Metrics.
func (m *Metrics) IncFailedConfirmation(chain string) {
	m.FailedConfirmationTotal.WithLabelValues(chain).Inc()
}

// IncExecutionTimeout satisfies oracle.Metrics.
func (m *Metrics) IncExecutionTimeout(chain string) {
	m.ExecutionTimeoutTotal.WithLabelValues(chain).Inc()
}

// IncDoubleSpend satisfies oracle.Metrics.
func (m *Metrics) IncDoubleSpend() { m.DoubleSpendTotal.Inc() }

// ObserveSubmitAttempt records one submission attempt's outcome class
// ("success", "rpc_unavailable", "nonce_too_low", "reverted", ...).
func (m *Metrics) ObserveSubmitAttempt(chain, class string) {
	m.SubmitAttemptsTotal.WithLabelValues(chain, class).Inc()
}

// ObserveNonceResync records one Nonce Manager resync.
func (m *Metrics) ObserveNonceResync(chain string) {
	m.NonceResyncTotal.WithLabelValues(chain).Inc()
}

// SetActiveTrades updates the active-trades gauge for chain.
func (m *Metrics) SetActiveTrades(chain string, n int) {
	m.ActiveTrades.WithLabelValues(chain).Set(float64(n))
}

// SetPendingEvents updates the pending-events gauge for chain.
func (m *Metrics) SetPendingEvents(chain string, n int) {
	m.PendingEvents.WithLabelValues(chain).Set(float64(n))
}
