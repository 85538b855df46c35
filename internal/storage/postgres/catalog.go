package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencourse/progress-engine/internal/store"
)

// Catalog implements store.Catalog against the course catalog tables.
type Catalog struct {
	db   DB
	pool *pgxpool.Pool
}

// NewCatalog connects a pool and returns a Catalog.
func NewCatalog(ctx context.Context, dsn string) (*Catalog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog pool: %w", err)
	}
	return &Catalog{db: pool, pool: pool}, nil
}

// NewCatalogWithDB wraps an existing connection for tests.
func NewCatalogWithDB(db DB) *Catalog {
	return &Catalog{db: db}
}

// Close closes the underlying connection pool, if this catalog owns one.
func (c *Catalog) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// ChapterCount reports the total chapter count for a course.
func (c *Catalog) ChapterCount(ctx context.Context, courseID string) (int, error) {
	query := `SELECT chapter_count FROM courses WHERE id = $1;`
	var count int
	if err := c.db.QueryRow(ctx, query, courseID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("failed to get chapter count: %w", err)
	}
	return count, nil
}
