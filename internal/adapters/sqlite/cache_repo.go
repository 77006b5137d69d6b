// Package sqlite contains SQLite implementations of the LocalCache port.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/fibo/internal/ports/secondary"
)

// CacheRepository implements secondary.LocalCache with SQLite.
// Each status label is one row in status_counts.
type CacheRepository struct {
	db *sql.DB
}

// NewCacheRepository creates a new SQLite cache repository.
func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get returns the cached count for key, or 0 if none has been stored.
func (r *CacheRepository) Get(ctx context.Context, key string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT count FROM status_counts WHERE status = ?",
		key,
	).Scan(&count)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get count for %s: %w", key, err)
	}

	return count, nil
}

// Set stores value for key.
func (r *CacheRepository) Set(ctx context.Context, key string, value int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO status_counts (status, count, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(status) DO UPDATE SET count = excluded.count, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set count for %s: %w", key, err)
	}

	return nil
}

// List returns every cached count keyed by status label.
func (r *CacheRepository) List(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, count FROM status_counts ORDER BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to list counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// Ensure CacheRepository implements the interface
var _ secondary.LocalCache = (*CacheRepository)(nil)
