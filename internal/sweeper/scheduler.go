package sweeper

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencourse/progress-engine/internal/progress"
)

// Submitter routes a task into the worker pool.
type Submitter interface {
	Submit(task progress.Task) error
}

// Scheduler triggers periodic cleanup sweeps through the dispatcher so a
// worker executes them like any other task.
type Scheduler struct {
	scheduler *gocron.Scheduler
	submitter Submitter
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(
	submitter Submitter,
	interval, retention time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		submitter: submitter,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Start begins the sweep schedule in the background.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.interval).Do(s.trigger); err != nil {
		return fmt.Errorf("schedule cleanup sweep: %w", err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("cleanup schedule started",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention),
	)
	return nil
}

// Stop terminates the schedule.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) trigger() {
	task := progress.Task{
		ID:        uuid.New(),
		Type:      progress.TaskCleanup,
		Retention: s.retention,
	}
	if err := s.submitter.Submit(task); err != nil {
		s.logger.Warn("cleanup task submit failed", zap.Error(err))
	}
}
