package memory

import (
	"context"
	"sync"

	"github.com/opencourse/progress-engine/internal/store"
)

// Catalog is an in-memory store.Catalog for development and tests.
type Catalog struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewCatalog constructs a Catalog.
func NewCatalog() *Catalog {
	return &Catalog{counts: make(map[string]int)}
}

// SetChapterCount registers a course's chapter count.
func (c *Catalog) SetChapterCount(courseID string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[courseID] = count
}

// ChapterCount reports the chapter count or store.ErrNotFound.
func (c *Catalog) ChapterCount(_ context.Context, courseID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count, ok := c.counts[courseID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return count, nil
}
