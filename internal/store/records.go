// Package store declares the durable record types and persistence interfaces
// for the progress pipeline.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// Key identifies a chapter-scoped record. Quiz records share the same key
// space: one quiz record per (user, course, chapter).
type Key struct {
	UserID    string
	CourseID  string
	ChapterID string
}

// ChapterProgress models one persisted chapter record. Progress and
// TimeSpent are monotonically non-decreasing across writes for the same key;
// Completed once true is never reset by ordinary merges.
type ChapterProgress struct {
	UserID    string
	CourseID  string
	ChapterID string
	// Progress is fractional, in [0,1].
	Progress float64
	// TimeSpent is the cumulative engagement in seconds.
	TimeSpent int64
	Completed bool
	// LastAccessedAt is the newest event timestamp applied to the record.
	LastAccessedAt time.Time
}

// QuizProgress models one persisted quiz record.
type QuizProgress struct {
	UserID    string
	CourseID  string
	ChapterID string
	// CurrentQuestion is a monotone 0-100 position marker.
	CurrentQuestion int
	TimeSpent       int64
	Completed       bool
	LastUpdated     time.Time
}

// CourseProgress is the derived course-level rollup. It is always replaced
// wholesale by the aggregator, never patched incrementally.
type CourseProgress struct {
	UserID   string
	CourseID string
	// Progress is the mean chapter progress over the catalog chapter count.
	Progress float64
	// TimeSpent sums over the user's chapter records for the course.
	TimeSpent int64
	// IsCompleted is true iff every catalog chapter is completed.
	IsCompleted    bool
	LastAccessedAt time.Time
}

// ChapterUpdate carries one merged chapter write. TimeSpentDelta is an
// increment against the stored cumulative total; Progress, Completed, and
// AccessedAt merge with max/OR/max semantics inside the store so racing
// writers converge regardless of order.
type ChapterUpdate struct {
	UserID         string
	CourseID       string
	ChapterID      string
	Progress       float64
	TimeSpentDelta int64
	Completed      bool
	AccessedAt     time.Time
}

// QuizUpdate carries one merged quiz write with the same delta semantics as
// ChapterUpdate.
type QuizUpdate struct {
	UserID          string
	CourseID        string
	ChapterID       string
	CurrentQuestion int
	TimeSpentDelta  int64
	Completed       bool
	UpdatedAt       time.Time
}

// RecordStore persists the three progress record kinds. Upserts must be
// atomic per row; that atomicity is the only cross-worker consistency
// mechanism in the pipeline.
type RecordStore interface {
	// GetChapterProgress loads one chapter record or returns ErrNotFound.
	GetChapterProgress(ctx context.Context, key Key) (ChapterProgress, error)
	// UpsertChapterProgress creates or merges a chapter record atomically.
	UpsertChapterProgress(ctx context.Context, upd ChapterUpdate) error
	// GetQuizProgress loads one quiz record or returns ErrNotFound.
	GetQuizProgress(ctx context.Context, key Key) (QuizProgress, error)
	// UpsertQuizProgress creates or merges a quiz record atomically.
	UpsertQuizProgress(ctx context.Context, upd QuizUpdate) error
	// ListChapterProgress returns all chapter records for a (user, course).
	ListChapterProgress(ctx context.Context, userID, courseID string) ([]ChapterProgress, error)
	// GetCourseProgress loads the rollup or returns ErrNotFound.
	GetCourseProgress(ctx context.Context, userID, courseID string) (CourseProgress, error)
	// ReplaceCourseProgress overwrites every rollup field in one statement.
	ReplaceCourseProgress(ctx context.Context, cp CourseProgress) error
	// DeleteAbandonedChapters removes zero-progress, incomplete chapter
	// records last touched before the cutoff and returns the count deleted.
	DeleteAbandonedChapters(ctx context.Context, cutoff time.Time) (int64, error)
}

// Catalog exposes the read-only course catalog collaborator.
type Catalog interface {
	// ChapterCount reports how many chapters the course has, or ErrNotFound.
	ChapterCount(ctx context.Context, courseID string) (int, error)
}
