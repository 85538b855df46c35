package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/progress-engine/internal/progress"
)

type stubProcessor struct {
	summary progress.Summary
	panics  bool
	batches []progress.Batch
}

func (p *stubProcessor) Process(_ context.Context, batch progress.Batch) progress.Summary {
	if p.panics {
		panic("store handle poisoned")
	}
	p.batches = append(p.batches, batch)
	return p.summary
}

type stubCleaner struct {
	deleted    int64
	err        error
	retentions []time.Duration
}

func (c *stubCleaner) Sweep(_ context.Context, retention time.Duration) (int64, error) {
	c.retentions = append(c.retentions, retention)
	return c.deleted, c.err
}

// runOne pushes a single task through a worker and returns its result.
func runOne(t *testing.T, w *Worker, task progress.Task) progress.TaskResult {
	t.Helper()
	tasks := make(chan progress.Task, 1)
	results := make(chan progress.TaskResult, 1)
	tasks <- task
	close(tasks)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background(), tasks, results)
	}()

	select {
	case res := <-results:
		<-done
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not produce a result")
		return progress.TaskResult{}
	}
}

func TestWorkerProcessBatch(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{summary: progress.Summary{Processed: 3, Suppressed: 1}}
	w := New(proc, &stubCleaner{}, nil)

	task := progress.Task{
		ID:    uuid.New(),
		Type:  progress.TaskProcessBatch,
		Batch: progress.Batch{ID: uuid.New(), Events: []progress.Event{{UserID: "u"}}},
	}
	res := runOne(t, w, task)

	require.Equal(t, task.ID, res.TaskID)
	require.True(t, res.Success)
	require.Equal(t, 3, res.Summary.Processed)
	require.Equal(t, 1, res.Summary.Suppressed)
	require.Len(t, proc.batches, 1)
	require.Equal(t, task.Batch.ID, proc.batches[0].ID)
}

func TestWorkerFlushQueueUsesProcessor(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{summary: progress.Summary{Processed: 1}}
	w := New(proc, &stubCleaner{}, nil)

	res := runOne(t, w, progress.Task{
		ID:    uuid.New(),
		Type:  progress.TaskFlushQueue,
		Batch: progress.Batch{ID: uuid.New()},
	})
	require.True(t, res.Success)
	require.Len(t, proc.batches, 1)
}

func TestWorkerReportsPartialBatchFailure(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{summary: progress.Summary{
		Processed: 2,
		Failed:    1,
		Errors:    []string{"u1:c1:ch1: connection reset"},
	}}
	w := New(proc, &stubCleaner{}, nil)

	res := runOne(t, w, progress.Task{ID: uuid.New(), Type: progress.TaskProcessBatch})
	require.False(t, res.Success)
	require.Contains(t, res.Err, "connection reset")
	require.Equal(t, 2, res.Summary.Processed)
}

func TestWorkerCleanup(t *testing.T) {
	t.Parallel()

	cleaner := &stubCleaner{deleted: 7}
	w := New(&stubProcessor{}, cleaner, nil)

	res := runOne(t, w, progress.Task{
		ID:        uuid.New(),
		Type:      progress.TaskCleanup,
		Retention: 30 * 24 * time.Hour,
	})
	require.True(t, res.Success)
	require.EqualValues(t, 7, res.Summary.Deleted)
	require.Equal(t, []time.Duration{30 * 24 * time.Hour}, cleaner.retentions)
}

func TestWorkerCleanupFailure(t *testing.T) {
	t.Parallel()

	cleaner := &stubCleaner{err: errors.New("relation does not exist")}
	w := New(&stubProcessor{}, cleaner, nil)

	res := runOne(t, w, progress.Task{ID: uuid.New(), Type: progress.TaskCleanup})
	require.False(t, res.Success)
	require.Contains(t, res.Err, "relation does not exist")
}

func TestWorkerUnknownTaskType(t *testing.T) {
	t.Parallel()

	w := New(&stubProcessor{}, &stubCleaner{}, nil)
	res := runOne(t, w, progress.Task{ID: uuid.New(), Type: "reindex"})
	require.False(t, res.Success)
	require.Contains(t, res.Err, "unknown task type")
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{panics: true}
	w := New(proc, &stubCleaner{}, nil)

	tasks := make(chan progress.Task, 2)
	results := make(chan progress.TaskResult, 2)
	first := progress.Task{ID: uuid.New(), Type: progress.TaskProcessBatch}
	second := progress.Task{ID: uuid.New(), Type: progress.TaskCleanup}
	tasks <- first
	tasks <- second
	close(tasks)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background(), tasks, results)
	}()

	res := <-results
	require.Equal(t, first.ID, res.TaskID)
	require.False(t, res.Success)
	require.Contains(t, res.Err, "panicked")

	// The worker stays alive and handles the next task.
	res = <-results
	require.Equal(t, second.ID, res.TaskID)
	require.True(t, res.Success)
	<-done
}
