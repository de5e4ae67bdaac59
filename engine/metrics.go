package engine

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the engine's instrumentation, registered once at
// construction against the injected Registerer.
type metrics struct {
	sessionsOpened    prometheus.Counter
	sessionsCommitted prometheus.Counter
	sessionsAborted   prometheus.Counter
	poolsInitialized  prometheus.Counter
	swaps             prometheus.Counter
	positionUpdates   prometheus.Counter
	feeCollections    prometheus.Counter
	swapSteps         prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "sessions_opened_total",
			Help:      "Settlement sessions opened.",
		}),
		sessionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "sessions_committed_total",
			Help:      "Settlement sessions committed cleanly.",
		}),
		sessionsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "sessions_aborted_total",
			Help:      "Settlement sessions discarded due to an error or unsettled ledger.",
		}),
		poolsInitialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "pools_initialized_total",
			Help:      "Pools initialized.",
		}),
		swaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "swaps_total",
			Help:      "Swaps executed.",
		}),
		positionUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "position_updates_total",
			Help:      "Position liquidity updates applied.",
		}),
		feeCollections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "fee_collections_total",
			Help:      "Standalone fee collections.",
		}),
		swapSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amm_engine",
			Name:      "swap_steps",
			Help:      "Curve steps taken per swap.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(
		m.sessionsOpened,
		m.sessionsCommitted,
		m.sessionsAborted,
		m.poolsInitialized,
		m.swaps,
		m.positionUpdates,
		m.feeCollections,
		m.swapSteps,
	)
	return m
}
