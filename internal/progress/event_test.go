package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validChapterEvent() Event {
	return Event{
		UserID:    "user-1",
		CourseID:  "course-1",
		ChapterID: "chapter-1",
		Type:      TypeChapterProgress,
		Progress:  42,
		TimeSpent: 30,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{name: "valid chapter event", mutate: func(*Event) {}},
		{
			name: "valid quiz event",
			mutate: func(e *Event) {
				e.Type = TypeQuizProgress
				e.QuizID = "quiz-1"
			},
		},
		{
			name:    "missing user",
			mutate:  func(e *Event) { e.UserID = "" },
			wantErr: "user id is required",
		},
		{
			name:    "missing course",
			mutate:  func(e *Event) { e.CourseID = "" },
			wantErr: "course id is required",
		},
		{
			name:    "missing timestamp",
			mutate:  func(e *Event) { e.Timestamp = time.Time{} },
			wantErr: "timestamp is required",
		},
		{
			name:    "unknown type",
			mutate:  func(e *Event) { e.Type = "lesson_progress" },
			wantErr: "unknown event type",
		},
		{
			name:    "missing chapter",
			mutate:  func(e *Event) { e.ChapterID = "" },
			wantErr: "chapter id is required",
		},
		{
			name:    "quiz without quiz id",
			mutate:  func(e *Event) { e.Type = TypeQuizStart },
			wantErr: "quiz events require quiz id",
		},
		{
			name:    "progress above range",
			mutate:  func(e *Event) { e.Progress = 101 },
			wantErr: "outside [0,100]",
		},
		{
			name:    "negative progress",
			mutate:  func(e *Event) { e.Progress = -1 },
			wantErr: "outside [0,100]",
		},
		{
			name:    "negative time spent",
			mutate:  func(e *Event) { e.TimeSpent = -5 },
			wantErr: "time spent must be >= 0",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt := validChapterEvent()
			tc.mutate(&evt)
			err := evt.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEventTypeFamily(t *testing.T) {
	t.Parallel()

	for _, typ := range []EventType{TypeChapterStart, TypeChapterProgress, TypeChapterComplete} {
		family, ok := typ.Family()
		require.True(t, ok)
		require.Equal(t, FamilyChapter, family)
	}
	for _, typ := range []EventType{TypeQuizStart, TypeQuizProgress, TypeQuizComplete} {
		family, ok := typ.Family()
		require.True(t, ok)
		require.Equal(t, FamilyQuiz, family)
	}

	_, ok := EventType("video_progress").Family()
	require.False(t, ok)
}

func TestEventTypeCompletes(t *testing.T) {
	t.Parallel()

	require.True(t, TypeChapterComplete.Completes())
	require.True(t, TypeQuizComplete.Completes())
	require.False(t, TypeChapterProgress.Completes())
	require.False(t, TypeQuizStart.Completes())
}

func TestEventKey(t *testing.T) {
	t.Parallel()

	evt := validChapterEvent()
	require.Equal(t, "user-1:course-1:chapter-1", evt.Key())

	evt.Type = TypeQuizProgress
	evt.QuizID = "quiz-9"
	require.Equal(t, "user-1:course-1:chapter-1:quiz-9", evt.Key())
}
