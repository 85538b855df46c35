// Package sweeper removes abandoned, zero-progress chapter records past a
// retention window.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opencourse/progress-engine/internal/metrics"
	"github.com/opencourse/progress-engine/internal/progress"
	"github.com/opencourse/progress-engine/internal/store"
)

// Sweeper deletes chapter records that were never progressed and have not
// been touched within the retention window. It runs in its own transaction
// and never coordinates with in-flight batch traffic: an actively updated
// record has a recent last_accessed_at and is not a sweep candidate.
type Sweeper struct {
	store  store.RecordStore
	clock  progress.Clock
	logger *zap.Logger
}

// New constructs a Sweeper.
func New(st store.RecordStore, clock progress.Clock, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: st, clock: clock, logger: logger}
}

// Sweep deletes eligible records and returns the count deleted.
func (s *Sweeper) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-retention)
	deleted, err := s.store.DeleteAbandonedChapters(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete abandoned chapters: %w", err)
	}
	metrics.SweepDeleted(deleted)
	s.logger.Info("cleanup sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}
