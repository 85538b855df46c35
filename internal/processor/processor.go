// Package processor implements the batch merge, suppression, and write core
// of the progress pipeline.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencourse/progress-engine/internal/metrics"
	"github.com/opencourse/progress-engine/internal/progress"
	"github.com/opencourse/progress-engine/internal/store"
)

// Rollup recomputes the course-level aggregate for one (user, course) pair.
type Rollup interface {
	Recompute(ctx context.Context, userID, courseID string) error
}

// Config controls the write-suppression thresholds.
//   - MinProgressDelta: fractional progress change below which a write is
//     considered low-value (default 0.02).
//   - MinTimeSpentDelta: time-spent increment in seconds below which a write
//     is considered low-value (default 10).
//
// A write is suppressed only when both deltas are below threshold and the
// completion flag is unchanged.
type Config struct {
	MinProgressDelta  float64
	MinTimeSpentDelta int64
}

const (
	defaultMinProgressDelta  = 0.02
	defaultMinTimeSpentDelta = 10
)

// Processor turns one batch of events into a minimal set of store writes.
// It is single-threaded with respect to one batch; the grouping, merge, and
// write sequence is linear.
type Processor struct {
	store  store.RecordStore
	rollup Rollup
	cfg    Config
	logger *zap.Logger
}

// New constructs a Processor.
func New(st store.RecordStore, rollup Rollup, cfg Config, logger *zap.Logger) *Processor {
	if cfg.MinProgressDelta <= 0 {
		cfg.MinProgressDelta = defaultMinProgressDelta
	}
	if cfg.MinTimeSpentDelta <= 0 {
		cfg.MinTimeSpentDelta = defaultMinTimeSpentDelta
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:  st,
		rollup: rollup,
		cfg:    cfg,
		logger: logger,
	}
}

// mergeGroup is the single merge descriptor computed per composite key.
type mergeGroup struct {
	family    progress.Family
	userID    string
	courseID  string
	chapterID string
	// progress is the group max on the 0-100 boundary scale.
	progress float64
	// timeSpent is the group sum; applied as an increment downstream.
	timeSpent int64
	// completed is true for any explicit *_complete event or progress >= 100.
	completed bool
	// lastTS is the group max timestamp.
	lastTS time.Time
}

type coursePair struct {
	userID   string
	courseID string
}

// Process merges, suppresses, and writes one batch, then triggers one rollup
// recompute per touched (user, course) pair. A failed key never aborts the
// rest of the batch.
func (p *Processor) Process(ctx context.Context, batch progress.Batch) progress.Summary {
	var summary progress.Summary

	groups, order := p.groupEvents(batch, &summary)

	var pairs []coursePair
	seen := make(map[coursePair]bool)
	for _, key := range order {
		group := groups[key]
		wrote, err := p.applyGroup(ctx, group)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", key, err))
			p.logger.Error("record write failed",
				zap.String("key", key),
				zap.String("family", string(group.family)),
				zap.Error(err),
			)
			continue
		}
		if !wrote {
			summary.Suppressed++
			metrics.WriteSuppressed(string(group.family))
			continue
		}
		summary.Processed++
		metrics.RecordWrite(string(group.family))
		if group.family == progress.FamilyChapter {
			pair := coursePair{userID: group.userID, courseID: group.courseID}
			if !seen[pair] {
				seen[pair] = true
				pairs = append(pairs, pair)
			}
		}
	}

	p.recomputeRollups(ctx, batch.ID, pairs, &summary)
	return summary
}

// groupEvents partitions the batch by family and composite key and folds each
// group into one merge descriptor. Returns groups plus first-seen key order
// so processing stays deterministic.
func (p *Processor) groupEvents(
	batch progress.Batch,
	summary *progress.Summary,
) (map[string]*mergeGroup, []string) {
	groups := make(map[string]*mergeGroup)
	var order []string
	for _, evt := range batch.Events {
		if err := evt.Validate(); err != nil {
			summary.Dropped++
			metrics.EventInvalid()
			p.logger.Debug("dropping invalid event",
				zap.String("batch_id", batch.ID.String()),
				zap.Error(err),
			)
			continue
		}
		family, _ := evt.Type.Family()
		key := evt.Key()
		group := groups[key]
		if group == nil {
			group = &mergeGroup{
				family:    family,
				userID:    evt.UserID,
				courseID:  evt.CourseID,
				chapterID: evt.ChapterID,
			}
			groups[key] = group
			order = append(order, key)
		}
		if evt.Progress > group.progress {
			group.progress = evt.Progress
		}
		group.timeSpent += evt.TimeSpent
		if evt.Type.Completes() {
			group.completed = true
		}
		if evt.Timestamp.After(group.lastTS) {
			group.lastTS = evt.Timestamp
		}
	}
	for _, group := range groups {
		if group.progress >= 100 {
			group.completed = true
		}
	}
	return groups, order
}

func (p *Processor) applyGroup(ctx context.Context, group *mergeGroup) (bool, error) {
	switch group.family {
	case progress.FamilyChapter:
		return p.applyChapterGroup(ctx, group)
	case progress.FamilyQuiz:
		return p.applyQuizGroup(ctx, group)
	default:
		return false, fmt.Errorf("unknown event family %q", group.family)
	}
}

// applyChapterGroup performs the read-modify-write for one chapter key. The
// bool result reports whether a write was issued.
func (p *Processor) applyChapterGroup(ctx context.Context, group *mergeGroup) (bool, error) {
	key := store.Key{UserID: group.userID, CourseID: group.courseID, ChapterID: group.chapterID}
	stored, err := p.store.GetChapterProgress(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		metrics.WriteFailed(string(progress.FamilyChapter))
		return false, fmt.Errorf("read chapter progress: %w", err)
	}

	// Stored progress is fractional; the boundary reports 0-100.
	newProgress := clampFraction(group.progress / 100)
	effective := stored.Progress
	if newProgress > effective {
		effective = newProgress
	}
	progressDelta := effective - stored.Progress
	completionChanged := group.completed && !stored.Completed

	if progressDelta < p.cfg.MinProgressDelta &&
		group.timeSpent < p.cfg.MinTimeSpentDelta &&
		!completionChanged {
		return false, nil
	}

	upd := store.ChapterUpdate{
		UserID:         group.userID,
		CourseID:       group.courseID,
		ChapterID:      group.chapterID,
		Progress:       effective,
		TimeSpentDelta: group.timeSpent,
		Completed:      stored.Completed || group.completed,
		AccessedAt:     group.lastTS,
	}
	if err := p.store.UpsertChapterProgress(ctx, upd); err != nil {
		metrics.WriteFailed(string(progress.FamilyChapter))
		return false, fmt.Errorf("upsert chapter progress: %w", err)
	}
	return true, nil
}

// applyQuizGroup mirrors the chapter path; the 0-100 progress value acts as
// the monotone question-position marker.
func (p *Processor) applyQuizGroup(ctx context.Context, group *mergeGroup) (bool, error) {
	key := store.Key{UserID: group.userID, CourseID: group.courseID, ChapterID: group.chapterID}
	stored, err := p.store.GetQuizProgress(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		metrics.WriteFailed(string(progress.FamilyQuiz))
		return false, fmt.Errorf("read quiz progress: %w", err)
	}

	newQuestion := int(group.progress)
	effective := stored.CurrentQuestion
	if newQuestion > effective {
		effective = newQuestion
	}
	completionChanged := group.completed && !stored.Completed

	// A question-marker advance is always significant; suppress only pure
	// time-spent noise below the threshold.
	if effective == stored.CurrentQuestion &&
		group.timeSpent < p.cfg.MinTimeSpentDelta &&
		!completionChanged {
		return false, nil
	}

	upd := store.QuizUpdate{
		UserID:          group.userID,
		CourseID:        group.courseID,
		ChapterID:       group.chapterID,
		CurrentQuestion: effective,
		TimeSpentDelta:  group.timeSpent,
		Completed:       stored.Completed || group.completed,
		UpdatedAt:       group.lastTS,
	}
	if err := p.store.UpsertQuizProgress(ctx, upd); err != nil {
		metrics.WriteFailed(string(progress.FamilyQuiz))
		return false, fmt.Errorf("upsert quiz progress: %w", err)
	}
	return true, nil
}

// recomputeRollups triggers one aggregation per touched course. Rollup
// failures leave the previous rollup stale; it self-heals on the next batch
// for the course.
func (p *Processor) recomputeRollups(
	ctx context.Context,
	batchID uuid.UUID,
	pairs []coursePair,
	summary *progress.Summary,
) {
	if p.rollup == nil {
		return
	}
	for _, pair := range pairs {
		if err := p.rollup.Recompute(ctx, pair.userID, pair.courseID); err != nil {
			summary.Errors = append(summary.Errors,
				fmt.Sprintf("rollup %s/%s: %v", pair.userID, pair.courseID, err))
			metrics.RollupRecomputed("error")
			p.logger.Warn("course rollup recompute failed",
				zap.String("batch_id", batchID.String()),
				zap.String("user_id", pair.userID),
				zap.String("course_id", pair.courseID),
				zap.Error(err),
			)
			continue
		}
		metrics.RollupRecomputed("ok")
	}
}

func clampFraction(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
