// Package aggregator recomputes course-level rollups from chapter records.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opencourse/progress-engine/internal/progress"
	"github.com/opencourse/progress-engine/internal/store"
)

// Aggregator rebuilds one CourseProgress rollup from every chapter record of
// a (user, course) pair. Recomputing fully rather than patching keeps the
// rollup correct regardless of write ordering, partial batch failures, or
// concurrent workers touching different chapters of the same course.
type Aggregator struct {
	store     store.RecordStore
	catalog   store.Catalog
	publisher progress.Publisher
	topic     string
	clock     progress.Clock
	logger    *zap.Logger
}

// New constructs an Aggregator. publisher may be nil to disable completion
// notifications.
func New(
	st store.RecordStore,
	catalog store.Catalog,
	publisher progress.Publisher,
	topic string,
	clock progress.Clock,
	logger *zap.Logger,
) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		store:     st,
		catalog:   catalog,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		logger:    logger,
	}
}

// Recompute loads all chapter records for the pair, derives the rollup
// against the catalog chapter count, and replaces the stored rollup. When
// the rollup first transitions to completed, a notification is published.
func (a *Aggregator) Recompute(ctx context.Context, userID, courseID string) error {
	chapters, err := a.store.ListChapterProgress(ctx, userID, courseID)
	if err != nil {
		return fmt.Errorf("list chapter progress: %w", err)
	}
	total, err := a.catalog.ChapterCount(ctx, courseID)
	if err != nil {
		return fmt.Errorf("catalog chapter count: %w", err)
	}

	var progressSum float64
	var timeSpent int64
	var completedCount int
	lastAccessed := time.Time{}
	for _, ch := range chapters {
		progressSum += ch.Progress
		timeSpent += ch.TimeSpent
		if ch.Completed {
			completedCount++
		}
		if ch.LastAccessedAt.After(lastAccessed) {
			lastAccessed = ch.LastAccessedAt
		}
	}
	if lastAccessed.IsZero() {
		lastAccessed = a.clock.Now()
	}

	rollup := store.CourseProgress{
		UserID:         userID,
		CourseID:       courseID,
		TimeSpent:      timeSpent,
		LastAccessedAt: lastAccessed,
	}
	// Untouched chapters count as zero progress, not absent. A course with
	// no published chapters can never be completed.
	if total > 0 {
		rollup.Progress = progressSum / float64(total)
		rollup.IsCompleted = completedCount == total
	}

	wasCompleted := a.previouslyCompleted(ctx, userID, courseID)

	if err := a.store.ReplaceCourseProgress(ctx, rollup); err != nil {
		return fmt.Errorf("replace course progress: %w", err)
	}

	if rollup.IsCompleted && !wasCompleted {
		a.publishCompletion(ctx, rollup)
	}
	return nil
}

func (a *Aggregator) previouslyCompleted(ctx context.Context, userID, courseID string) bool {
	prev, err := a.store.GetCourseProgress(ctx, userID, courseID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("previous rollup read failed",
				zap.String("user_id", userID),
				zap.String("course_id", courseID),
				zap.Error(err),
			)
		}
		return false
	}
	return prev.IsCompleted
}

func (a *Aggregator) publishCompletion(ctx context.Context, rollup store.CourseProgress) {
	if a.publisher == nil {
		return
	}
	payload := map[string]any{
		"user_id":      rollup.UserID,
		"course_id":    rollup.CourseID,
		"time_spent":   rollup.TimeSpent,
		"completed_at": a.clock.Now().Format(time.RFC3339),
	}
	if _, err := a.publisher.Publish(ctx, a.topic, payload); err != nil {
		a.logger.Warn("course completion publish failed",
			zap.String("user_id", rollup.UserID),
			zap.String("course_id", rollup.CourseID),
			zap.Error(err),
		)
		return
	}
	a.logger.Info("course completed",
		zap.String("user_id", rollup.UserID),
		zap.String("course_id", rollup.CourseID),
	)
}
