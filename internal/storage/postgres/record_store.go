// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencourse/progress-engine/internal/store"
)

// DB matches the pgxpool methods used by the stores so tests can substitute
// pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordStore implements store.RecordStore using Postgres. Merge semantics
// (GREATEST / sum / OR) live in the upsert statements so every write is
// atomic per row.
type RecordStore struct {
	db   DB
	pool *pgxpool.Pool
}

// NewRecordStore connects a pool and returns a RecordStore.
func NewRecordStore(ctx context.Context, dsn string) (*RecordStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &RecordStore{db: pool, pool: pool}, nil
}

// NewRecordStoreWithDB wraps an existing connection for tests.
func NewRecordStoreWithDB(db DB) *RecordStore {
	return &RecordStore{db: db}
}

// Close closes the underlying connection pool, if this store owns one.
func (s *RecordStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetChapterProgress loads one chapter record.
func (s *RecordStore) GetChapterProgress(ctx context.Context, key store.Key) (store.ChapterProgress, error) {
	query := `
		SELECT user_id, course_id, chapter_id, progress, time_spent_seconds, completed, last_accessed_at
		FROM chapter_progress
		WHERE user_id = $1 AND course_id = $2 AND chapter_id = $3;
	`
	var rec store.ChapterProgress
	err := s.db.QueryRow(ctx, query, key.UserID, key.CourseID, key.ChapterID).Scan(
		&rec.UserID,
		&rec.CourseID,
		&rec.ChapterID,
		&rec.Progress,
		&rec.TimeSpent,
		&rec.Completed,
		&rec.LastAccessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ChapterProgress{}, store.ErrNotFound
		}
		return store.ChapterProgress{}, fmt.Errorf("failed to get chapter progress: %w", err)
	}
	return rec, nil
}

// UpsertChapterProgress creates or merges a chapter record. Progress and
// last_accessed_at take the greater value, time spent accumulates, and
// completed latches once true.
func (s *RecordStore) UpsertChapterProgress(ctx context.Context, upd store.ChapterUpdate) error {
	query := `
		INSERT INTO chapter_progress
			(user_id, course_id, chapter_id, progress, time_spent_seconds, completed, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, course_id, chapter_id) DO UPDATE
		SET progress = GREATEST(chapter_progress.progress, EXCLUDED.progress),
			time_spent_seconds = chapter_progress.time_spent_seconds + EXCLUDED.time_spent_seconds,
			completed = chapter_progress.completed OR EXCLUDED.completed,
			last_accessed_at = GREATEST(chapter_progress.last_accessed_at, EXCLUDED.last_accessed_at);
	`
	_, err := s.db.Exec(
		ctx,
		query,
		upd.UserID,
		upd.CourseID,
		upd.ChapterID,
		upd.Progress,
		upd.TimeSpentDelta,
		upd.Completed,
		upd.AccessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chapter progress: %w", err)
	}
	return nil
}

// GetQuizProgress loads one quiz record.
func (s *RecordStore) GetQuizProgress(ctx context.Context, key store.Key) (store.QuizProgress, error) {
	query := `
		SELECT user_id, course_id, chapter_id, current_question, time_spent_seconds, completed, last_updated
		FROM quiz_progress
		WHERE user_id = $1 AND course_id = $2 AND chapter_id = $3;
	`
	var rec store.QuizProgress
	err := s.db.QueryRow(ctx, query, key.UserID, key.CourseID, key.ChapterID).Scan(
		&rec.UserID,
		&rec.CourseID,
		&rec.ChapterID,
		&rec.CurrentQuestion,
		&rec.TimeSpent,
		&rec.Completed,
		&rec.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.QuizProgress{}, store.ErrNotFound
		}
		return store.QuizProgress{}, fmt.Errorf("failed to get quiz progress: %w", err)
	}
	return rec, nil
}

// UpsertQuizProgress creates or merges a quiz record with the same algebra
// as chapter records.
func (s *RecordStore) UpsertQuizProgress(ctx context.Context, upd store.QuizUpdate) error {
	query := `
		INSERT INTO quiz_progress
			(user_id, course_id, chapter_id, current_question, time_spent_seconds, completed, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, course_id, chapter_id) DO UPDATE
		SET current_question = GREATEST(quiz_progress.current_question, EXCLUDED.current_question),
			time_spent_seconds = quiz_progress.time_spent_seconds + EXCLUDED.time_spent_seconds,
			completed = quiz_progress.completed OR EXCLUDED.completed,
			last_updated = GREATEST(quiz_progress.last_updated, EXCLUDED.last_updated);
	`
	_, err := s.db.Exec(
		ctx,
		query,
		upd.UserID,
		upd.CourseID,
		upd.ChapterID,
		upd.CurrentQuestion,
		upd.TimeSpentDelta,
		upd.Completed,
		upd.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert quiz progress: %w", err)
	}
	return nil
}

// ListChapterProgress returns all chapter records for a (user, course) pair.
func (s *RecordStore) ListChapterProgress(
	ctx context.Context,
	userID, courseID string,
) ([]store.ChapterProgress, error) {
	query := `
		SELECT user_id, course_id, chapter_id, progress, time_spent_seconds, completed, last_accessed_at
		FROM chapter_progress
		WHERE user_id = $1 AND course_id = $2
		ORDER BY chapter_id;
	`
	rows, err := s.db.Query(ctx, query, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapter progress: %w", err)
	}
	defer rows.Close()

	var records []store.ChapterProgress
	for rows.Next() {
		var rec store.ChapterProgress
		err := rows.Scan(
			&rec.UserID,
			&rec.CourseID,
			&rec.ChapterID,
			&rec.Progress,
			&rec.TimeSpent,
			&rec.Completed,
			&rec.LastAccessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chapter progress row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chapter progress rows: %w", err)
	}
	return records, nil
}

// GetCourseProgress loads the course rollup.
func (s *RecordStore) GetCourseProgress(
	ctx context.Context,
	userID, courseID string,
) (store.CourseProgress, error) {
	query := `
		SELECT user_id, course_id, progress, time_spent_seconds, is_completed, last_accessed_at
		FROM course_progress
		WHERE user_id = $1 AND course_id = $2;
	`
	var rec store.CourseProgress
	err := s.db.QueryRow(ctx, query, userID, courseID).Scan(
		&rec.UserID,
		&rec.CourseID,
		&rec.Progress,
		&rec.TimeSpent,
		&rec.IsCompleted,
		&rec.LastAccessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CourseProgress{}, store.ErrNotFound
		}
		return store.CourseProgress{}, fmt.Errorf("failed to get course progress: %w", err)
	}
	return rec, nil
}

// ReplaceCourseProgress overwrites the rollup in a single statement so the
// replacement is atomic with respect to concurrent recomputes.
func (s *RecordStore) ReplaceCourseProgress(ctx context.Context, cp store.CourseProgress) error {
	query := `
		INSERT INTO course_progress
			(user_id, course_id, progress, time_spent_seconds, is_completed, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, course_id) DO UPDATE
		SET progress = EXCLUDED.progress,
			time_spent_seconds = EXCLUDED.time_spent_seconds,
			is_completed = EXCLUDED.is_completed,
			last_accessed_at = EXCLUDED.last_accessed_at;
	`
	_, err := s.db.Exec(
		ctx,
		query,
		cp.UserID,
		cp.CourseID,
		cp.Progress,
		cp.TimeSpent,
		cp.IsCompleted,
		cp.LastAccessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to replace course progress: %w", err)
	}
	return nil
}

// DeleteAbandonedChapters removes zero-progress, incomplete records last
// touched before the cutoff.
func (s *RecordStore) DeleteAbandonedChapters(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM chapter_progress
		WHERE progress = 0 AND completed = FALSE AND last_accessed_at < $1;
	`
	tag, err := s.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete abandoned chapters: %w", err)
	}
	return tag.RowsAffected(), nil
}
