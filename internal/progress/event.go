package progress

import (
	"errors"
	"fmt"
	"time"
)

// EventType denotes the kind of learning signal carried by an Event.
type EventType string

// Supported event types. The set is closed; grouping switches over it
// exhaustively so a new kind is a compile-time-checked addition.
const (
	TypeChapterStart    EventType = "chapter_start"
	TypeChapterProgress EventType = "chapter_progress"
	TypeChapterComplete EventType = "chapter_complete"
	TypeQuizStart       EventType = "quiz_start"
	TypeQuizProgress    EventType = "quiz_progress"
	TypeQuizComplete    EventType = "quiz_complete"
)

// Family groups event types by the record kind they update.
type Family string

// Record families addressed by events.
const (
	FamilyChapter Family = "chapter"
	FamilyQuiz    Family = "quiz"
)

// Family reports which record family the type addresses. The second return
// is false for unknown types.
func (t EventType) Family() (Family, bool) {
	switch t {
	case TypeChapterStart, TypeChapterProgress, TypeChapterComplete:
		return FamilyChapter, true
	case TypeQuizStart, TypeQuizProgress, TypeQuizComplete:
		return FamilyQuiz, true
	default:
		return "", false
	}
}

// Completes reports whether the type is an explicit completion signal.
// Explicit completion wins even when the numeric progress is below 100.
func (t EventType) Completes() bool {
	return t == TypeChapterComplete || t == TypeQuizComplete
}

// Event captures a single learning-progress signal from a client. The same
// logical update may arrive more than once (retries, periodic pings); the
// batch processor merges duplicates idempotently.
type Event struct {
	// UserID identifies the learner.
	UserID string `json:"user_id"`
	// CourseID identifies the course the signal belongs to.
	CourseID string `json:"course_id"`
	// ChapterID scopes the signal to a chapter; required for all types.
	ChapterID string `json:"chapter_id,omitempty"`
	// QuizID further scopes quiz-family events.
	QuizID string `json:"quiz_id,omitempty"`
	// Type is the event kind.
	Type EventType `json:"event_type"`
	// Progress is reported on a 0-100 scale at the boundary.
	Progress float64 `json:"progress"`
	// TimeSpent is the seconds of engagement since the previous signal.
	TimeSpent int64 `json:"time_spent"`
	// Timestamp is the client-reported emission time.
	Timestamp time.Time `json:"timestamp"`
	// Metadata carries free-form client context; never interpreted here.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate performs coarse validation on Event payloads. Invalid events are
// dropped by the processor, never fatal to a batch.
func (e Event) Validate() error {
	if e.UserID == "" {
		return errors.New("user id is required")
	}
	if e.CourseID == "" {
		return errors.New("course id is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	family, ok := e.Type.Family()
	if !ok {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.ChapterID == "" {
		return errors.New("chapter id is required")
	}
	if family == FamilyQuiz && e.QuizID == "" {
		return errors.New("quiz events require quiz id")
	}
	if e.Progress < 0 || e.Progress > 100 {
		return fmt.Errorf("progress %v outside [0,100]", e.Progress)
	}
	if e.TimeSpent < 0 {
		return errors.New("time spent must be >= 0")
	}
	return nil
}

// Key returns the composite grouping key for the event, in the form
// userId:courseId:chapterId for chapter events and
// userId:courseId:chapterId:quizId for quiz events.
func (e Event) Key() string {
	if family, ok := e.Type.Family(); ok && family == FamilyQuiz {
		return fmt.Sprintf("%s:%s:%s:%s", e.UserID, e.CourseID, e.ChapterID, e.QuizID)
	}
	return fmt.Sprintf("%s:%s:%s", e.UserID, e.CourseID, e.ChapterID)
}
