package metrics

import (
	"testing"
	"time"
)

// The helpers must be callable before and after Init without panicking;
// double registration would panic via promauto.
func TestHelpersAreSafe(t *testing.T) {
	Init()
	Init()

	EventReceived("chapter_progress")
	EventInvalid()
	EventsDropped(3)
	BatchSealed("size", 256)
	RecordWrite("chapter")
	WriteSuppressed("quiz")
	WriteFailed("chapter")
	RollupRecomputed("ok")
	SweepDeleted(5)
	WorkerBusy()
	WorkerIdle()
	TaskDuration("process_batch", 15*time.Millisecond)
}
