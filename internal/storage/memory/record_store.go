// Package memory contains in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/opencourse/progress-engine/internal/store"
)

// RecordStore provides an in-memory store.RecordStore. It applies the same
// max/sum/OR merge algebra as the Postgres upserts so tests exercise
// identical semantics.
type RecordStore struct {
	mu       sync.RWMutex
	chapters map[store.Key]store.ChapterProgress
	quizzes  map[store.Key]store.QuizProgress
	courses  map[courseKey]store.CourseProgress
}

type courseKey struct {
	userID   string
	courseID string
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		chapters: make(map[store.Key]store.ChapterProgress),
		quizzes:  make(map[store.Key]store.QuizProgress),
		courses:  make(map[courseKey]store.CourseProgress),
	}
}

// GetChapterProgress loads one chapter record.
func (s *RecordStore) GetChapterProgress(_ context.Context, key store.Key) (store.ChapterProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.chapters[key]
	if !ok {
		return store.ChapterProgress{}, store.ErrNotFound
	}
	return rec, nil
}

// UpsertChapterProgress creates or merges a chapter record.
func (s *RecordStore) UpsertChapterProgress(_ context.Context, upd store.ChapterUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := store.Key{UserID: upd.UserID, CourseID: upd.CourseID, ChapterID: upd.ChapterID}
	rec, ok := s.chapters[key]
	if !ok {
		rec = store.ChapterProgress{UserID: upd.UserID, CourseID: upd.CourseID, ChapterID: upd.ChapterID}
	}
	rec.Progress = maxFloat(rec.Progress, upd.Progress)
	rec.TimeSpent += upd.TimeSpentDelta
	rec.Completed = rec.Completed || upd.Completed
	rec.LastAccessedAt = maxTime(rec.LastAccessedAt, upd.AccessedAt)
	s.chapters[key] = rec
	return nil
}

// GetQuizProgress loads one quiz record.
func (s *RecordStore) GetQuizProgress(_ context.Context, key store.Key) (store.QuizProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.quizzes[key]
	if !ok {
		return store.QuizProgress{}, store.ErrNotFound
	}
	return rec, nil
}

// UpsertQuizProgress creates or merges a quiz record.
func (s *RecordStore) UpsertQuizProgress(_ context.Context, upd store.QuizUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := store.Key{UserID: upd.UserID, CourseID: upd.CourseID, ChapterID: upd.ChapterID}
	rec, ok := s.quizzes[key]
	if !ok {
		rec = store.QuizProgress{UserID: upd.UserID, CourseID: upd.CourseID, ChapterID: upd.ChapterID}
	}
	if upd.CurrentQuestion > rec.CurrentQuestion {
		rec.CurrentQuestion = upd.CurrentQuestion
	}
	rec.TimeSpent += upd.TimeSpentDelta
	rec.Completed = rec.Completed || upd.Completed
	rec.LastUpdated = maxTime(rec.LastUpdated, upd.UpdatedAt)
	s.quizzes[key] = rec
	return nil
}

// ListChapterProgress returns all chapter records for a (user, course) pair.
func (s *RecordStore) ListChapterProgress(
	_ context.Context,
	userID, courseID string,
) ([]store.ChapterProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ChapterProgress
	for key, rec := range s.chapters {
		if key.UserID == userID && key.CourseID == courseID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetCourseProgress loads the course rollup.
func (s *RecordStore) GetCourseProgress(
	_ context.Context,
	userID, courseID string,
) (store.CourseProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.courses[courseKey{userID: userID, courseID: courseID}]
	if !ok {
		return store.CourseProgress{}, store.ErrNotFound
	}
	return rec, nil
}

// ReplaceCourseProgress overwrites the rollup.
func (s *RecordStore) ReplaceCourseProgress(_ context.Context, cp store.CourseProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[courseKey{userID: cp.UserID, courseID: cp.CourseID}] = cp
	return nil
}

// DeleteAbandonedChapters removes zero-progress, incomplete records last
// touched before the cutoff.
func (s *RecordStore) DeleteAbandonedChapters(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for key, rec := range s.chapters {
		if rec.Progress == 0 && !rec.Completed && rec.LastAccessedAt.Before(cutoff) {
			delete(s.chapters, key)
			deleted++
		}
	}
	return deleted, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
