// Package metrics exposes the connector's Prometheus instrumentation,
// grounded on cockroachdb/cdc-sink's internal/staging/stage/metrics.go
// — the other pack example that ships a metrics file shaped around a
// change-data stream rather than a generic HTTP handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChunksAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mysqlcdc_chunks_assigned_total",
		Help: "Snapshot chunks handed out to a worker.",
	}, []string{"table"})

	ChunksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mysqlcdc_chunks_finished_total",
		Help: "Snapshot chunks a worker reported complete.",
	}, []string{"table"})

	ChunksAcked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mysqlcdc_chunks_acked_total",
		Help: "Finished chunks durably checkpointed by the host runtime.",
	}, []string{"table"})

	BinlogLagSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mysqlcdc_binlog_lag_seconds",
		Help: "Seconds between wall-clock time and the timestamp of the binlog event the reader most recently synced.",
	}, []string{"table"})

	SnapshotQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mysqlcdc_snapshot_queue_depth",
		Help: "Buffered events awaiting the record normalizer for an in-progress chunk.",
	}, []string{"table", "split_id"})

	NormalizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mysqlcdc_normalize_duration_seconds",
		Help:    "Time spent merging a chunk's snapshot rows with its buffered log events.",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})
)
