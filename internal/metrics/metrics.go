package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Event listeners
	// ============================================
	EventListenerStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coordinator_event_listener_status",
			Help: "Event listener status (1=running, 0=stopped or failed)",
		},
		[]string{"event"},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_events_received_total",
			Help: "Total number of decoded events received",
		},
		[]string{"event"},
	)

	EventHandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_event_handler_errors_total",
			Help: "Total number of event handling errors",
		},
		[]string{"event", "error_type"},
	)

	EventProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coordinator_event_processing_duration_seconds",
			Help:    "Event processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	// ============================================
	// Reconciliation
	// ============================================
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_reconcile_outcomes_total",
			Help: "Total number of reconciliations by outcome",
		},
		[]string{"outcome"},
	)

	StoreLookupAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coordinator_store_lookup_attempts",
		Help:    "Store lookups needed before a reconciliation resolved",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
	})

	// ============================================
	// Transactions
	// ============================================
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_transactions_total",
			Help: "Total number of contract calls submitted",
		},
		[]string{"method", "status"},
	)

	// ============================================
	// Tasks
	// ============================================
	TasksInState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coordinator_tasks_in_state",
			Help: "Number of tracked tasks per state",
		},
		[]string{"state"},
	)
)
