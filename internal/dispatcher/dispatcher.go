// Package dispatcher coalesces incoming events into batches and fans the
// resulting tasks out to the worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencourse/progress-engine/internal/metrics"
	"github.com/opencourse/progress-engine/internal/progress"
	"github.com/opencourse/progress-engine/internal/worker"
)

// Config controls buffering and batching.
//   - MaxBatchEvents: seal a batch once this many events queue (default 256).
//   - MaxBatchWait: seal after this coalescing window even if the batch is
//     small (default 2s).
//   - BufferSize: size of the internal event channel (default 4096).
//   - QueueDepth: capacity of the task channel feeding workers (default 16).
//   - BaseContext: parent context passed to task execution (defaults to
//     context.Background()).
//   - Logger: optional structured logger.
type Config struct {
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	BufferSize     int
	QueueDepth     int
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 2 * time.Second
	defaultBufferSize     = 4096
	defaultQueueDepth     = 16
	dropLogInterval       = 5 * time.Second
)

// Dispatcher accepts individual events from the ingestion boundary, seals
// batches by size or time window, and hands them to idle workers over a
// bounded task channel. Enqueue never blocks the caller; a full buffer drops
// events (the edge is at-most-once, progress pings are self-correcting).
// Events are never merged here: merging happens explicitly in the batch
// processor against persisted state, so batch boundaries do not affect the
// final stored values.
type Dispatcher struct {
	cfg      Config
	events   chan progress.Event
	tasks    chan progress.Task
	results  chan progress.TaskResult
	submitCh chan progress.Task
	flushCh  chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}

	workerWG    sync.WaitGroup
	resultsDone chan struct{}

	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
}

// New starts the workers and the background batching goroutine. The returned
// Dispatcher is immediately ready to accept events.
func New(cfg Config, workers []*worker.Worker) *Dispatcher {
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:         cfg,
		events:      make(chan progress.Event, cfg.BufferSize),
		tasks:       make(chan progress.Task, cfg.QueueDepth),
		results:     make(chan progress.TaskResult, cfg.QueueDepth),
		submitCh:    make(chan progress.Task),
		flushCh:     make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		resultsDone: make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	d.workerWG.Add(len(workers))
	for _, w := range workers {
		go func(w *worker.Worker) {
			defer d.workerWG.Done()
			w.Run(cfg.BaseContext, d.tasks, d.results)
		}(w)
	}
	go d.consumeResults()
	go d.run()
	return d
}

// Enqueue accepts one event for batching and acknowledges by returning. A
// validation failure is reported to the caller; a full buffer drops the
// event with a rate-limited warning rather than applying backpressure.
func (d *Dispatcher) Enqueue(evt progress.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is shutting down")
	}
	if err := evt.Validate(); err != nil {
		metrics.EventInvalid()
		return fmt.Errorf("invalid event: %w", err)
	}
	select {
	case d.events <- evt:
		metrics.EventReceived(string(evt.Type))
		return nil
	default:
		d.dropped.Add(1)
		metrics.EventsDropped(1)
		if d.dropLimiter.Allow(time.Now()) {
			count := d.dropped.Swap(0)
			d.logger.Warn("events dropped due to full buffer", zap.Int64("dropped", count))
		}
		return nil
	}
}

// Flush seals the current partial batch immediately as a flush_queue task.
func (d *Dispatcher) Flush() {
	select {
	case d.flushCh <- struct{}{}:
	default:
	}
}

// Submit routes an externally built task (e.g. a cleanup sweep) to the
// worker pool.
func (d *Dispatcher) Submit(task progress.Task) error {
	select {
	case d.submitCh <- task:
		return nil
	case <-d.stopCh:
		return fmt.Errorf("dispatcher is shutting down")
	}
}

// Close drains buffered events into a final batch, waits for in-flight tasks
// to finish, and blocks until the background goroutines exit.
func (d *Dispatcher) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stopCh)
	})
	select {
	case <-d.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher close wait: %w", ctx.Err())
	}
}

// run is the sealing loop: the only goroutine that assembles batches and the
// only sender on the task channel.
func (d *Dispatcher) run() {
	defer close(d.doneCh)
	batch := make([]progress.Event, 0, d.cfg.MaxBatchEvents)
	timer := time.NewTimer(d.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case evt := <-d.events:
			batch = append(batch, evt)
			if len(batch) >= d.cfg.MaxBatchEvents {
				batch = d.seal(batch, progress.TaskProcessBatch, "size")
				d.stopTimer(timer, &timerActive)
			} else if len(batch) == 1 {
				// The coalescing window opens with the first event of a batch.
				d.resetTimer(timer, &timerActive)
			}
		case <-timer.C:
			timerActive = false
			batch = d.seal(batch, progress.TaskProcessBatch, "window")
		case <-d.flushCh:
			batch = d.seal(batch, progress.TaskFlushQueue, "flush")
			d.stopTimer(timer, &timerActive)
		case task := <-d.submitCh:
			d.tasks <- task
		case <-d.stopCh:
			d.shutdown(batch, timer, &timerActive)
			return
		}
	}
}

// shutdown drains whatever is buffered, closes the task channel so workers
// exit after their current task, and waits for the result stream to finish.
func (d *Dispatcher) shutdown(batch []progress.Event, timer *time.Timer, timerActive *bool) {
	d.stopTimer(timer, timerActive)
	for {
		drained := false
		select {
		case evt := <-d.events:
			batch = append(batch, evt)
			if len(batch) >= d.cfg.MaxBatchEvents {
				batch = d.seal(batch, progress.TaskProcessBatch, "size")
			}
		case task := <-d.submitCh:
			d.tasks <- task
		default:
			drained = true
		}
		if drained {
			break
		}
	}
	d.seal(batch, progress.TaskFlushQueue, "flush")
	close(d.tasks)
	d.workerWG.Wait()
	close(d.results)
	<-d.resultsDone
}

// seal packages the buffered events into a batch task and hands it to the
// worker pool. Returns the reset buffer.
func (d *Dispatcher) seal(batch []progress.Event, taskType progress.TaskType, trigger string) []progress.Event {
	if len(batch) == 0 {
		return batch
	}
	events := append([]progress.Event(nil), batch...)
	task := progress.Task{
		ID:   uuid.New(),
		Type: taskType,
		Batch: progress.Batch{
			ID:     uuid.New(),
			Events: events,
		},
	}
	d.tasks <- task
	metrics.BatchSealed(trigger, len(events))
	d.logger.Debug("batch sealed",
		zap.String("batch_id", task.Batch.ID.String()),
		zap.String("trigger", trigger),
		zap.Int("events", len(events)),
	)
	return batch[:0]
}

func (d *Dispatcher) consumeResults() {
	defer close(d.resultsDone)
	for res := range d.results {
		if res.Success {
			d.logger.Debug("task succeeded",
				zap.String("task_id", res.TaskID.String()),
				zap.Int("processed", res.Summary.Processed),
				zap.Int("suppressed", res.Summary.Suppressed),
				zap.Int64("deleted", res.Summary.Deleted),
			)
			continue
		}
		d.logger.Warn("task failed",
			zap.String("task_id", res.TaskID.String()),
			zap.Int("failed", res.Summary.Failed),
			zap.String("error", res.Err),
		)
	}
}

func (d *Dispatcher) resetTimer(timer *time.Timer, timerActive *bool) {
	if d.cfg.MaxBatchWait <= 0 {
		return
	}
	if *timerActive {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	timer.Reset(d.cfg.MaxBatchWait)
	*timerActive = true
}

func (d *Dispatcher) stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
