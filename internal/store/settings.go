// ABOUTME: Global settings persistence as a flat key/value table
// ABOUTME: Values are stored as strings; callers interpret them

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSetting retrieves a setting by key. Returns ErrNotFound if it was never written.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var setting Setting
	var updatedAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = ?`, key,
	).Scan(&setting.Key, &setting.Value, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying setting: %w", err)
	}

	if setting.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &setting, nil
}

// UpsertSetting creates or replaces a setting value.
func (s *SQLiteStore) UpsertSetting(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, key, value, formatTime(time.Now())); err != nil {
		return fmt.Errorf("upserting setting: %w", err)
	}

	s.logger.Info("updated setting", "key", key, "value", value)
	return nil
}
