// Package metrics registers the in-process Prometheus collectors the
// hot path updates. No HTTP exporter lives here — serving /metrics is
// the out-of-scope metrics server (SPEC_FULL §1); this package only
// owns the registry and the update calls components make inline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var Registry = prometheus.NewRegistry()

var (
	PriceMismatchBps = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquidator_price_mismatch_bps",
		Help:    "Absolute basis-point delta between primary and fallback oracle reads.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
	})

	ReversionBudgetRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_reversion_budget_remaining",
		Help: "Optimistic dispatches remaining before the daily revert cap trips.",
	})

	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_decisions_total",
		Help: "Count of scheduler decisions by action and skip reason.",
	}, []string{"action", "skip_reason"})

	VerifyLatencyMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquidator_verify_latency_ms",
		Help:    "Wall-clock latency of a batch micro-verify call.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	})

	RacerWinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_racer_wins_total",
		Help: "Count of broadcasts won by each RPC endpoint.",
	}, []string{"endpoint"})

	SignerInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "liquidator_signer_in_flight",
		Help: "In-flight lease count per signer address.",
	}, []string{"signer"})
)

func init() {
	Registry.MustRegister(
		PriceMismatchBps,
		ReversionBudgetRemaining,
		DecisionsTotal,
		VerifyLatencyMs,
		RacerWinsTotal,
		SignerInFlight,
	)
}
