package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DepositsTotal counts Eth-side TokenLocked events ingested.
	DepositsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_deposits_total",
			Help: "Total number of deposit events ingested from Ethereum",
		},
	)

	// CompletedDepositsTotal counts Ccd deposit events that correlated
	// with a previously ingested Eth deposit and were finalized.
	CompletedDepositsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_completed_deposits_total",
			Help: "Total number of deposits finalized on Concordium",
		},
	)

	// WithdrawalsTotal counts Ccd withdraw events ingested.
	WithdrawalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_withdrawals_total",
			Help: "Total number of withdraw events ingested from Concordium",
		},
	)

	// TokenMapEventsTotal counts TokenMapped events ingested.
	TokenMapEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_token_map_events_total",
			Help: "Total number of token map events ingested",
		},
	)

	// TokenUnmapEventsTotal counts TokenUnmapped events ingested.
	TokenUnmapEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_token_unmap_events_total",
			Help: "Total number of token unmap events ingested",
		},
	)

	// PendingMerkleRoots is the gauge for distinct pending Merkle roots.
	// The actor resets it to 0 when a root publication is marked
	// successful; nothing in this module raises it when a root becomes
	// pending, so it does not count outstanding roots.
	PendingMerkleRoots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_pending_merkle_roots",
			Help: "Number of distinct pending Merkle roots",
		},
	)

	// ReconnectsTotal counts storage reconnect attempts by the
	// supervisor.
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_storage_reconnects_total",
			Help: "Total number of storage reconnect attempts",
		},
		[]string{"outcome"},
	)

	// WarningsTotal counts soft correlation misses that do not abort
	// processing.
	WarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_warnings_total",
			Help: "Total number of soft correlation-miss warnings",
		},
		[]string{"reason"},
	)

	// ErrorsTotal counts errors by component and error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// LastProcessedBlock tracks the last processed block height by
	// network.
	LastProcessedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_last_processed_block",
			Help: "Last processed block height by network",
		},
		[]string{"network"},
	)
)
