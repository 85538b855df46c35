package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/progress-engine/internal/store"
)

var recordTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *RecordStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewRecordStoreWithDB(mock)
}

func TestGetChapterProgress(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"user_id", "course_id", "chapter_id", "progress", "time_spent_seconds", "completed", "last_accessed_at",
	}).AddRow("user-1", "course-1", "ch-1", 0.55, int64(120), false, recordTime)
	mock.ExpectQuery("SELECT (.+) FROM chapter_progress").
		WithArgs("user-1", "course-1", "ch-1").
		WillReturnRows(rows)

	rec, err := st.GetChapterProgress(context.Background(), store.Key{
		UserID: "user-1", CourseID: "course-1", ChapterID: "ch-1",
	})
	require.NoError(t, err)
	require.InDelta(t, 0.55, rec.Progress, 1e-9)
	require.EqualValues(t, 120, rec.TimeSpent)
	require.False(t, rec.Completed)
	require.Equal(t, recordTime, rec.LastAccessedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChapterProgressNotFound(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM chapter_progress").
		WithArgs("user-1", "course-1", "ch-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetChapterProgress(context.Background(), store.Key{
		UserID: "user-1", CourseID: "course-1", ChapterID: "ch-missing",
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChapterProgress(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	mock.ExpectExec("INSERT INTO chapter_progress").
		WithArgs("user-1", "course-1", "ch-1", 0.55, int64(22), false, recordTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.UpsertChapterProgress(context.Background(), store.ChapterUpdate{
		UserID:         "user-1",
		CourseID:       "course-1",
		ChapterID:      "ch-1",
		Progress:       0.55,
		TimeSpentDelta: 22,
		Completed:      false,
		AccessedAt:     recordTime,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChapterProgressError(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	mock.ExpectExec("INSERT INTO chapter_progress").
		WithArgs("user-1", "course-1", "ch-1", 0.55, int64(22), false, recordTime).
		WillReturnError(errors.New("connection reset"))

	err := st.UpsertChapterProgress(context.Background(), store.ChapterUpdate{
		UserID:         "user-1",
		CourseID:       "course-1",
		ChapterID:      "ch-1",
		Progress:       0.55,
		TimeSpentDelta: 22,
		AccessedAt:     recordTime,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to upsert chapter progress")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQuizProgress(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"user_id", "course_id", "chapter_id", "current_question", "time_spent_seconds", "completed", "last_updated",
	}).AddRow("user-1", "course-1", "ch-1", 5, int64(45), false, recordTime)
	mock.ExpectQuery("SELECT (.+) FROM quiz_progress").
		WithArgs("user-1", "course-1", "ch-1").
		WillReturnRows(rows)

	rec, err := st.GetQuizProgress(context.Background(), store.Key{
		UserID: "user-1", CourseID: "course-1", ChapterID: "ch-1",
	})
	require.NoError(t, err)
	require.Equal(t, 5, rec.CurrentQuestion)
	require.EqualValues(t, 45, rec.TimeSpent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertQuizProgress(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	mock.ExpectExec("INSERT INTO quiz_progress").
		WithArgs("user-1", "course-1", "ch-1", 6, int64(12), true, recordTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.UpsertQuizProgress(context.Background(), store.QuizUpdate{
		UserID:          "user-1",
		CourseID:        "course-1",
		ChapterID:       "ch-1",
		CurrentQuestion: 6,
		TimeSpentDelta:  12,
		Completed:       true,
		UpdatedAt:       recordTime,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListChapterProgress(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"user_id", "course_id", "chapter_id", "progress", "time_spent_seconds", "completed", "last_accessed_at",
	}).
		AddRow("user-1", "course-1", "ch-1", 1.0, int64(600), true, recordTime).
		AddRow("user-1", "course-1", "ch-2", 0.5, int64(300), false, recordTime)
	mock.ExpectQuery("SELECT (.+) FROM chapter_progress").
		WithArgs("user-1", "course-1").
		WillReturnRows(rows)

	records, err := st.ListChapterProgress(context.Background(), "user-1", "course-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "ch-1", records[0].ChapterID)
	require.True(t, records[0].Completed)
	require.Equal(t, "ch-2", records[1].ChapterID)
	require.InDelta(t, 0.5, records[1].Progress, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCourseProgressNotFound(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM course_progress").
		WithArgs("user-1", "course-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetCourseProgress(context.Background(), "user-1", "course-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceCourseProgress(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	mock.ExpectExec("INSERT INTO course_progress").
		WithArgs("user-1", "course-1", 0.5, int64(900), false, recordTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.ReplaceCourseProgress(context.Background(), store.CourseProgress{
		UserID:         "user-1",
		CourseID:       "course-1",
		Progress:       0.5,
		TimeSpent:      900,
		IsCompleted:    false,
		LastAccessedAt: recordTime,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAbandonedChapters(t *testing.T) {
	t.Parallel()
	mock, st := newMockStore(t)

	cutoff := recordTime.Add(-30 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM chapter_progress").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	deleted, err := st.DeleteAbandonedChapters(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 4, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
