// Package metrics exposes Prometheus collectors for the progress pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceivedTotal   *prometheus.CounterVec
	eventsInvalidTotal    prometheus.Counter
	eventsDroppedTotal    prometheus.Counter
	batchesSealedTotal    *prometheus.CounterVec
	batchSizeEvents       prometheus.Histogram
	recordWritesTotal     *prometheus.CounterVec
	writesSuppressedTotal *prometheus.CounterVec
	writesFailedTotal     *prometheus.CounterVec
	rollupsTotal          *prometheus.CounterVec
	sweepDeletedTotal     prometheus.Counter
	busyWorkers           prometheus.Gauge
	taskDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times; helpers below call it lazily.
func Init() {
	once.Do(func() {
		eventsReceivedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_events_received_total",
				Help: "Total events accepted by the dispatcher, labeled by type.",
			},
			[]string{"type"},
		)

		eventsInvalidTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "progress_events_invalid_total",
				Help: "Total events rejected by validation.",
			},
		)

		eventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "progress_events_dropped_total",
				Help: "Total events dropped because the dispatcher buffer was full.",
			},
		)

		batchesSealedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_batches_sealed_total",
				Help: "Total batches sealed, labeled by trigger (size, window, flush).",
			},
			[]string{"trigger"},
		)

		batchSizeEvents = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "progress_batch_size_events",
				Help:    "Histogram of sealed batch sizes.",
				Buckets: []float64{1, 4, 16, 64, 128, 256, 512, 1024},
			},
		)

		recordWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_record_writes_total",
				Help: "Total record upserts, labeled by record kind.",
			},
			[]string{"kind"},
		)

		writesSuppressedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_writes_suppressed_total",
				Help: "Total writes skipped by the suppression policy, labeled by record kind.",
			},
			[]string{"kind"},
		)

		writesFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_writes_failed_total",
				Help: "Total failed record writes, labeled by record kind.",
			},
			[]string{"kind"},
		)

		rollupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_rollups_total",
				Help: "Total course rollup recomputes, labeled by result.",
			},
			[]string{"result"},
		)

		sweepDeletedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "progress_sweep_deleted_total",
				Help: "Total chapter records removed by cleanup sweeps.",
			},
		)

		busyWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "progress_busy_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "progress_task_duration_seconds",
				Help:    "Histogram of task execution time, labeled by task type.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"type"},
		)
	})
}

// EventReceived counts one accepted event.
func EventReceived(eventType string) {
	Init()
	eventsReceivedTotal.WithLabelValues(eventType).Inc()
}

// EventInvalid counts one event rejected by validation.
func EventInvalid() {
	Init()
	eventsInvalidTotal.Inc()
}

// EventsDropped counts events lost to a full dispatcher buffer.
func EventsDropped(n int64) {
	Init()
	eventsDroppedTotal.Add(float64(n))
}

// BatchSealed records one sealed batch and its size.
func BatchSealed(trigger string, size int) {
	Init()
	batchesSealedTotal.WithLabelValues(trigger).Inc()
	batchSizeEvents.Observe(float64(size))
}

// RecordWrite counts one successful upsert for a record kind.
func RecordWrite(kind string) {
	Init()
	recordWritesTotal.WithLabelValues(kind).Inc()
}

// WriteSuppressed counts one suppressed write for a record kind.
func WriteSuppressed(kind string) {
	Init()
	writesSuppressedTotal.WithLabelValues(kind).Inc()
}

// WriteFailed counts one failed upsert for a record kind.
func WriteFailed(kind string) {
	Init()
	writesFailedTotal.WithLabelValues(kind).Inc()
}

// RollupRecomputed counts one rollup recompute by result ("ok" or "error").
func RollupRecomputed(result string) {
	Init()
	rollupsTotal.WithLabelValues(result).Inc()
}

// SweepDeleted adds to the cleanup deletion counter.
func SweepDeleted(n int64) {
	Init()
	sweepDeletedTotal.Add(float64(n))
}

// WorkerBusy marks a worker entering task execution.
func WorkerBusy() {
	Init()
	busyWorkers.Inc()
}

// WorkerIdle marks a worker finishing task execution.
func WorkerIdle() {
	Init()
	busyWorkers.Dec()
}

// TaskDuration observes one task's wall time.
func TaskDuration(taskType string, d time.Duration) {
	Init()
	taskDurationSeconds.WithLabelValues(taskType).Observe(d.Seconds())
}
