package persistence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/felixgeelhaar/agora/internal/settings/domain"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database"
)

// Repository stores site settings in the site_settings table.
type Repository struct {
	conn database.Connection
}

// NewRepository creates a settings repository.
func NewRepository(conn database.Connection) *Repository {
	return &Repository{conn: conn}
}

// Load returns all stored rows. The reported editor and time are those of
// the most recently written row.
func (r *Repository) Load(ctx context.Context) (map[string]string, string, time.Time, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	rows, err := exec.Query(ctx, `SELECT key, value, updated_by, updated_at FROM site_settings`)
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	var (
		updatedBy string
		updatedAt time.Time
	)
	for rows.Next() {
		var (
			key, value, by string
			at             database.Timestamp
		)
		if err := rows.Scan(&key, &value, &by, &at); err != nil {
			return nil, "", time.Time{}, fmt.Errorf("failed to scan setting: %w", err)
		}
		values[key] = value
		if at.Time.After(updatedAt) {
			updatedBy, updatedAt = by, at.Time
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", time.Time{}, err
	}
	return values, updatedBy, updatedAt, nil
}

// Save upserts each value.
func (r *Repository) Save(ctx context.Context, values map[string]string, updatedBy string, at time.Time) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	stamp := database.TimeArg(r.conn.Driver(), at)

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		_, err := exec.Exec(ctx, `
			INSERT INTO site_settings (key, value, updated_by, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE
			SET value = excluded.value, updated_by = excluded.updated_by, updated_at = excluded.updated_at`,
			key, values[key], updatedBy, stamp)
		if err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}
	return nil
}

var _ domain.Repository = (*Repository)(nil)
