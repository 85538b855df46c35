package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Batch is a bounded group of events assigned together to one worker. It
// exists only for the duration of one processing call and is never persisted.
type Batch struct {
	// ID identifies the batch in logs and task results.
	ID uuid.UUID
	// Events holds the batch contents in arrival order.
	Events []Event
}

// TaskType discriminates the work carried by a Task envelope.
type TaskType string

// Supported task types.
const (
	// TaskProcessBatch runs the batch processor over Task.Batch.
	TaskProcessBatch TaskType = "process_batch"
	// TaskFlushQueue processes a batch sealed early by an explicit flush.
	TaskFlushQueue TaskType = "flush_queue"
	// TaskCleanup runs a retention sweep; Task.Retention sets the window.
	TaskCleanup TaskType = "cleanup"
)

// Task is the dispatcher-to-worker envelope. Exactly one payload field is
// meaningful per type: Batch for process_batch/flush_queue, Retention for
// cleanup.
type Task struct {
	ID        uuid.UUID
	Type      TaskType
	Batch     Batch
	Retention time.Duration
}

// TaskResult reports the outcome of one task back to the dispatcher.
type TaskResult struct {
	TaskID  uuid.UUID
	Success bool
	Summary Summary
	Err     string
}

// Summary accumulates per-task outcome counters. Counters are owned by the
// worker that produced them; nothing here is shared across workers.
type Summary struct {
	// Processed counts keys whose merged update was written.
	Processed int
	// Suppressed counts keys skipped by the write-suppression policy.
	Suppressed int
	// Dropped counts events discarded by validation.
	Dropped int
	// Failed counts keys whose store write failed.
	Failed int
	// Deleted counts records removed by a cleanup sweep.
	Deleted int64
	// Errors collects per-key and rollup error text for diagnostics.
	Errors []string
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Publisher sends course-completion notifications to an external topic.
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
