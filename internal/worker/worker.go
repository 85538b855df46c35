// Package worker implements the task execution loop of the pipeline.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencourse/progress-engine/internal/metrics"
	"github.com/opencourse/progress-engine/internal/progress"
)

// BatchProcessor executes the merge/suppress/write sequence for one batch.
type BatchProcessor interface {
	Process(ctx context.Context, batch progress.Batch) progress.Summary
}

// Cleaner executes one retention sweep.
type Cleaner interface {
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

// Worker consumes task envelopes one at a time and reports results. Workers
// share the record store through their processors; per-row atomic upserts
// make concurrent workers safe without further coordination. Counters are
// per-worker and surface only through TaskResults and logs.
type Worker struct {
	processor BatchProcessor
	cleaner   Cleaner
	logger    *zap.Logger

	tasksDone   int64
	tasksFailed int64
}

// New constructs a Worker.
func New(processor BatchProcessor, cleaner Cleaner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		processor: processor,
		cleaner:   cleaner,
		logger:    logger,
	}
}

// Run consumes tasks until the channel closes. The context bounds store I/O
// inside a task but never cancels a task mid-flight: once a batch begins
// processing it runs to completion, tolerating partial per-key failure.
func (w *Worker) Run(ctx context.Context, tasks <-chan progress.Task, results chan<- progress.TaskResult) {
	for task := range tasks {
		res := w.handle(ctx, task)
		if res.Success {
			w.tasksDone++
		} else {
			w.tasksFailed++
		}
		results <- res
	}
	w.logger.Debug("worker stopped",
		zap.Int64("tasks_done", w.tasksDone),
		zap.Int64("tasks_failed", w.tasksFailed),
	)
}

// handle executes one task. A top-level recover converts any escaping panic
// into a failed-task result, preserving worker liveness for subsequent tasks.
func (w *Worker) handle(ctx context.Context, task progress.Task) (res progress.TaskResult) {
	metrics.WorkerBusy()
	start := time.Now()
	defer func() {
		metrics.WorkerIdle()
		metrics.TaskDuration(string(task.Type), time.Since(start))
		if r := recover(); r != nil {
			w.logger.Error("task handler panicked",
				zap.String("task_id", task.ID.String()),
				zap.String("task_type", string(task.Type)),
				zap.Any("panic", r),
			)
			res = progress.TaskResult{
				TaskID: task.ID,
				Err:    fmt.Sprintf("task handler panicked: %v", r),
			}
		}
	}()

	switch task.Type {
	case progress.TaskProcessBatch, progress.TaskFlushQueue:
		return w.processBatch(ctx, task)
	case progress.TaskCleanup:
		return w.cleanup(ctx, task)
	default:
		w.logger.Error("unknown task type",
			zap.String("task_id", task.ID.String()),
			zap.String("task_type", string(task.Type)),
		)
		return progress.TaskResult{
			TaskID: task.ID,
			Err:    fmt.Sprintf("unknown task type %q", task.Type),
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, task progress.Task) progress.TaskResult {
	summary := w.processor.Process(ctx, task.Batch)
	w.logger.Debug("batch processed",
		zap.String("task_id", task.ID.String()),
		zap.String("batch_id", task.Batch.ID.String()),
		zap.Int("events", len(task.Batch.Events)),
		zap.Int("processed", summary.Processed),
		zap.Int("suppressed", summary.Suppressed),
		zap.Int("dropped", summary.Dropped),
		zap.Int("failed", summary.Failed),
	)
	res := progress.TaskResult{
		TaskID:  task.ID,
		Success: summary.Failed == 0,
		Summary: summary,
	}
	if summary.Failed > 0 {
		res.Err = strings.Join(summary.Errors, "; ")
	}
	return res
}

func (w *Worker) cleanup(ctx context.Context, task progress.Task) progress.TaskResult {
	deleted, err := w.cleaner.Sweep(ctx, task.Retention)
	if err != nil {
		w.logger.Error("cleanup sweep failed",
			zap.String("task_id", task.ID.String()),
			zap.Error(err),
		)
		return progress.TaskResult{TaskID: task.ID, Err: err.Error()}
	}
	return progress.TaskResult{
		TaskID:  task.ID,
		Success: true,
		Summary: progress.Summary{Deleted: deleted},
	}
}
