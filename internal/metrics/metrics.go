// Package metrics holds the prometheus collectors shared across the indexer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "daoscope_events_total", Help: "Routed events by family, event and outcome"},
		[]string{"family", "event", "outcome"},
	)
	EventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "daoscope_event_duration_seconds", Help: "Per-event processing latency", Buckets: prometheus.DefBuckets},
		[]string{"family"},
	)
	PersistTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "daoscope_persist_total", Help: "Insert-or-ignore writes by table and outcome"},
		[]string{"table", "outcome"},
	)
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "daoscope_ledger_ops_total", Help: "Ledger operations by op and outcome"},
		[]string{"op", "outcome"},
	)
	LedgerConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "daoscope_ledger_conflicts_total", Help: "Compare-and-swap retries in the ledger"},
	)
	Watches = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "daoscope_watches", Help: "Watch subscriptions by state"},
		[]string{"state"},
	)
	NotifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "daoscope_notify_failures_total", Help: "Failed event publications"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		EventDuration,
		PersistTotal,
		LedgerOpsTotal,
		LedgerConflicts,
		Watches,
		NotifyFailures,
	)
}
