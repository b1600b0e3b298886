// Package metrics holds the Prometheus collectors exported on /api/v1/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Order submission outcomes.
const (
	OutcomeAccepted          = "accepted"
	OutcomeInvalid           = "invalid"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeConflict          = "conflict"
	OutcomeStorageFailure    = "storage_failure"
)

// OrdersSubmitted counts SubmitOrder calls by outcome.
var OrdersSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "barterex_orders_submitted_total",
		Help: "Total number of orders submitted to the matching engine",
	},
	[]string{"outcome"},
)

// FillsExecuted counts maker/taker fills.
var FillsExecuted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "barterex_fills_total",
		Help: "Total number of fills executed",
	},
)

// FillUnits counts item units moved by fills, by item received.
var FillUnits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "barterex_fill_units_total",
		Help: "Item units transferred by fills",
	},
	[]string{"item"},
)

// OrderMatchLatency records latency distribution for one SubmitOrder unit of work
var OrderMatchLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "barterex_order_match_latency_seconds",
		Help:    "Latency in seconds to validate, match and commit one order",
		Buckets: prometheus.DefBuckets,
	},
)

// LedgerOperations counts bank operations by kind and outcome.
var LedgerOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "barterex_ledger_operations_total",
		Help: "Deposits, withdrawals and balance reads by outcome",
	},
	[]string{"op", "outcome"},
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barterex_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barterex_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barterex_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, FillsExecuted, FillUnits, OrderMatchLatency, LedgerOperations)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
