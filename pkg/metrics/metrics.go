// Package metrics exposes the Prometheus collectors the lock manager,
// log manager, and recovery manager publish to. It replaces the teacher's
// hand-rolled monitoring/exporter/metrics_exporter.go text formatter with
// real github.com/prometheus/client_golang collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockWaitSeconds observes how long a transaction spent blocked in
	// LockManager.Acquire/Promote/AcquireAndRelease before being granted.
	LockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coredb",
		Subsystem: "lock",
		Name:      "wait_seconds",
		Help:      "Time spent blocked waiting for a lock grant.",
		Buckets:   prometheus.DefBuckets,
	})

	// QueueDepth reports the number of requests currently queued on a
	// resource, sampled at grant/enqueue time.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredb",
		Subsystem: "lock",
		Name:      "queue_depth",
		Help:      "Number of lock requests waiting on the most recently processed resource.",
	})

	// LogFlushSeconds observes log-manager Flush latency.
	LogFlushSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coredb",
		Subsystem: "log",
		Name:      "flush_seconds",
		Help:      "Time spent flushing the write-ahead log to disk.",
		Buckets:   prometheus.DefBuckets,
	})

	// RecoveryPhaseSeconds observes the duration of each restart phase,
	// labeled "analysis", "redo", "undo", or "checkpoint".
	RecoveryPhaseSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coredb",
		Subsystem: "recovery",
		Name:      "phase_seconds",
		Help:      "Duration of each ARIES restart phase.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})

	// DirtyPageTableSize reports the current number of DPT entries.
	DirtyPageTableSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredb",
		Subsystem: "recovery",
		Name:      "dirty_page_table_size",
		Help:      "Number of entries currently in the dirty page table.",
	})

	// TransactionTableSize reports the current number of XT entries.
	TransactionTableSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredb",
		Subsystem: "recovery",
		Name:      "transaction_table_size",
		Help:      "Number of entries currently in the transaction table.",
	})
)

// Register adds every collector in this package to reg. Call once at
// process startup, e.g. from cmd/coredb.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		LockWaitSeconds,
		QueueDepth,
		LogFlushSeconds,
		RecoveryPhaseSeconds,
		DirtyPageTableSize,
		TransactionTableSize,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
