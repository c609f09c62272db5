package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RedemptionMetrics tracks the outcome of ledger operations served over RPC.
type RedemptionMetrics struct {
	claims      *prometheus.CounterVec
	tokensAdded prometheus.Counter
	withdrawals prometheus.Counter
	events      prometheus.Counter
}

var (
	redemptionOnce     sync.Once
	redemptionRegistry *RedemptionMetrics
)

// Redemption returns the process-wide redemption metrics, registering the
// collectors on first use.
func Redemption() *RedemptionMetrics {
	redemptionOnce.Do(func() {
		redemptionRegistry = &RedemptionMetrics{
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "redemption_claims_total",
				Help: "Count of claim attempts by outcome.",
			}, []string{"outcome"}),
			tokensAdded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "redemption_tokens_added_total",
				Help: "Count of escrowed token registrations.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "redemption_withdrawals_total",
				Help: "Count of successful sweep operations.",
			}),
			events: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "redemption_events_created_total",
				Help: "Count of redemption events created.",
			}),
		}
		prometheus.MustRegister(
			redemptionRegistry.claims,
			redemptionRegistry.tokensAdded,
			redemptionRegistry.withdrawals,
			redemptionRegistry.events,
		)
	})
	return redemptionRegistry
}

// ObserveClaim records one claim attempt with its outcome label.
func (m *RedemptionMetrics) ObserveClaim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(outcome).Inc()
}

// ObserveTokenAdded records a successful token registration.
func (m *RedemptionMetrics) ObserveTokenAdded() {
	if m == nil {
		return
	}
	m.tokensAdded.Inc()
}

// ObserveWithdrawal records a successful sweep.
func (m *RedemptionMetrics) ObserveWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
}

// ObserveEventCreated records a successful event registration.
func (m *RedemptionMetrics) ObserveEventCreated() {
	if m == nil {
		return
	}
	m.events.Inc()
}
