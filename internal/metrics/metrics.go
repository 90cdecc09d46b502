package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Bridge state machine metrics
	// ============================================
	BridgeStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_status_transitions_total",
			Help: "Total number of bridge request status transitions",
		},
		[]string{"from", "to"},
	)

	BridgesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_requests_by_status",
			Help: "Number of bridge requests per status",
		},
		[]string{"status"},
	)

	PaymentsValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_agent_payments_total",
			Help: "Agent payment validation outcomes",
		},
		[]string{"result"},
	)

	// ============================================
	// Ledger watcher metrics
	// ============================================
	WatcherConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xrpl_watcher_connection_status",
		Help: "XRPL stream connection status (1=connected, 0=disconnected)",
	})

	WatchedAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xrpl_watched_addresses",
		Help: "Number of XRPL addresses currently subscribed",
	})

	WatcherEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrpl_watcher_events_total",
			Help: "Normalized XRPL payment events dispatched per destination class",
		},
		[]string{"class"},
	)

	WatcherHandlerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrpl_watcher_handler_errors_total",
		Help: "Payment handler errors caught at the watcher boundary",
	})

	// ============================================
	// Route / job metrics
	// ============================================
	QuotesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_quotes_issued_total",
		Help: "Total number of route quotes issued",
	})

	QuotesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_quotes_rejected_total",
			Help: "Quote requests that produced no route",
		},
		[]string{"reason"},
	)

	JobStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosschain_job_status_transitions_total",
			Help: "Derived cross-chain job status changes",
		},
		[]string{"to"},
	)

	// ============================================
	// Reconciliation / retry metrics
	// ============================================
	ReconciliationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_runs_total",
			Help: "Reconciliation sweep outcomes",
		},
		[]string{"result"},
	)

	BridgesRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_bridges_recovered_total",
		Help: "Bridges resumed from an intermediate state by reconciliation",
	})

	WithdrawalRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawal_retries_total",
			Help: "Withdrawal confirmation retry outcomes",
		},
		[]string{"result"},
	)

	GasFundingBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gas_funding_balance_wei",
		Help: "Shared gas funding balance observed by the retry engine",
	})

	// ============================================
	// NATS metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_events_published_total",
			Help: "Status events published to NATS",
		},
		[]string{"subject"},
	)
)
