// ABOUTME: Attachment metadata persistence
// ABOUTME: The file bytes live in blob storage; this table maps attachment IDs to storage keys

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateAttachment records an uploaded file.
func (s *SQLiteStore) CreateAttachment(ctx context.Context, a *Attachment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO attachments (id, filename, content_type, size, uploader_id, storage_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.Filename,
		a.ContentType,
		a.Size,
		a.UploaderID,
		a.StorageKey,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting attachment: %w", err)
	}

	s.logger.Debug("created attachment", "id", a.ID, "filename", a.Filename, "size", a.Size)
	return nil
}

// GetAttachment retrieves attachment metadata by ID.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	query := `
		SELECT id, filename, content_type, size, uploader_id, storage_key, created_at
		FROM attachments
		WHERE id = ?
	`

	var a Attachment
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Filename, &a.ContentType, &a.Size, &a.UploaderID, &a.StorageKey, &createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying attachment: %w", err)
	}

	if a.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}
