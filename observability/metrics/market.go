package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

type MarketMetrics struct {
	operations       *prometheus.CounterVec
	volume           prometheus.Counter
	feesCollected    prometheus.Counter
	withdrawn        prometheus.Counter
	transferFailures *prometheus.CounterVec
	custody          prometheus.Gauge
	escrowed         prometheus.Gauge
}

// NewMarketMetrics builds a metrics set registered against reg. A nil reg
// leaves the collectors unregistered.
func NewMarketMetrics(reg prometheus.Registerer) *MarketMetrics {
	m := &MarketMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_operations_total",
			Help: "Count of market operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		volume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_purchase_volume",
			Help: "Total settled purchase volume in the smallest currency unit.",
		}),
		feesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_fees_collected",
			Help: "Total platform fees pushed to the owner.",
		}),
		withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_earnings_withdrawn",
			Help: "Total seller earnings withdrawn.",
		}),
		transferFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_transfer_failures_total",
			Help: "Number of rejected outbound transfers by operation.",
		}, []string{"operation"}),
		custody: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "market_custody_balance",
			Help: "Funds currently held in custody by the engine.",
		}),
		escrowed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "market_escrowed_balance",
			Help: "Custody funds owed to sellers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.operations,
			m.volume,
			m.feesCollected,
			m.withdrawn,
			m.transferFailures,
			m.custody,
			m.escrowed,
		)
	}
	return m
}

func (m *MarketMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *MarketMetrics) ObservePurchase(price, fee *big.Int) {
	if m == nil {
		return
	}
	m.volume.Add(toFloat(price))
	m.feesCollected.Add(toFloat(fee))
}

func (m *MarketMetrics) ObserveWithdrawal(amount *big.Int) {
	if m == nil {
		return
	}
	m.withdrawn.Add(toFloat(amount))
}

func (m *MarketMetrics) IncTransferFailure(operation string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.transferFailures.WithLabelValues(operation).Inc()
}

func (m *MarketMetrics) SetBalances(custody, escrowed *big.Int) {
	if m == nil {
		return
	}
	m.custody.Set(toFloat(custody))
	m.escrowed.Set(toFloat(escrowed))
}

func toFloat(v *big.Int) float64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
