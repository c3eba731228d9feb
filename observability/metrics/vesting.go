package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VestingMetrics tracks the allocation ledger and the delayed-execution
// gateway.
type VestingMetrics struct {
	reservations   prometheus.Counter
	claims         *prometheus.CounterVec
	claimAmount    prometheus.Histogram
	poolPurchased  prometheus.Gauge
	poolAvailable  prometheus.Gauge
	gatewayActions *prometheus.CounterVec
}

var (
	vestingOnce     sync.Once
	vestingRegistry *VestingMetrics
)

// Vesting returns the lazily registered vesting metrics.
func Vesting() *VestingMetrics {
	vestingOnce.Do(func() {
		vestingRegistry = newVestingMetrics()
		prometheus.MustRegister(vestingRegistry.collectors()...)
	})
	return vestingRegistry
}

func newVestingMetrics() *VestingMetrics {
	return &VestingMetrics{
		reservations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vestchain_reservations_total",
			Help: "Count of successful reservations against the pool cap.",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vestchain_claims_total",
			Help: "Count of claim attempts by result.",
		}, []string{"result"}),
		claimAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vestchain_claim_amount",
			Help:    "Distribution of claimed amounts in base units.",
			Buckets: prometheus.ExponentialBuckets(1, 10, 16),
		}),
		poolPurchased: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vestchain_pool_purchased",
			Help: "Total amount reserved from the pool.",
		}),
		poolAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vestchain_pool_available",
			Help: "Amount still available for purchase.",
		}),
		gatewayActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vestchain_gateway_actions_total",
			Help: "Delayed-execution gateway activity by phase, kind and result.",
		}, []string{"phase", "kind", "result"}),
	}
}

func (m *VestingMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.reservations,
		m.claims,
		m.claimAmount,
		m.poolPurchased,
		m.poolAvailable,
		m.gatewayActions,
	}
}

// RecordReservation increments the reservation counter.
func (m *VestingMetrics) RecordReservation() {
	if m == nil {
		return
	}
	m.reservations.Inc()
}

// RecordClaim records a claim attempt. amount is only observed on success.
func (m *VestingMetrics) RecordClaim(result string, amount *big.Int) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.claims.WithLabelValues(result).Inc()
	if result == ResultOK && amount != nil {
		m.claimAmount.Observe(toFloat(amount))
	}
}

// SetPool updates the pool gauges.
func (m *VestingMetrics) SetPool(purchased, available *big.Int) {
	if m == nil {
		return
	}
	m.poolPurchased.Set(toFloat(purchased))
	m.poolAvailable.Set(toFloat(available))
}

// RecordGatewayAction counts a schedule or execute attempt.
func (m *VestingMetrics) RecordGatewayAction(phase, kind, result string) {
	if m == nil {
		return
	}
	m.gatewayActions.WithLabelValues(phase, kind, result).Inc()
}

// Result labels shared by the counters.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
