// Package metrics holds Prometheus instruments used across fieldsync.  All
// collectors are registered with the global registry, so importing this
// package is enough to expose them on the worker's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for SyncRunsTotal.
const (
	RunSynced    = "synced"
	RunUnchanged = "unchanged"
	RunLocked    = "locked"
	RunFailed    = "failed"
)

var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_runs_total",
			Help: "Sync runner invocations by outcome.",
		}, []string{"outcome"})

	SyncRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldsync_run_duration_seconds",
			Help:    "Wall time of sync runs that passed the checksum gate.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		})

	SyncRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_rounds_total",
			Help: "Cumulative number of worker rounds launched.",
		})

	FieldValuesInsertedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_field_values_inserted_total",
			Help: "Cumulative number of default field values inserted.",
		})

	FieldValuesPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_field_values_pruned_total",
			Help: "Cumulative number of stale empty field values deleted.",
		})

	PersistErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_persist_errors_total",
			Help: "Cumulative number of failed field value deletes or insert chunks.",
		})

	QueueMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_queue_messages_total",
			Help: "Queue messages handled, by disposition.",
		}, []string{"disposition"})
)

func init() {
	prometheus.MustRegister(
		SyncRunsTotal,
		SyncRunDuration,
		SyncRoundsTotal,
		FieldValuesInsertedTotal,
		FieldValuesPrunedTotal,
		PersistErrorsTotal,
		QueueMessagesTotal,
	)
}
