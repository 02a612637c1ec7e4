// ABOUTME: Ticket and message persistence for support requests and their reply threads
// ABOUTME: Tickets list newest first; messages list oldest first within a ticket

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateTicket stores a new ticket. Status is always set to open and an
// empty priority defaults to medium.
func (s *SQLiteStore) CreateTicket(ctx context.Context, t *Ticket) error {
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("priority %q: %w", t.Priority, ErrInvalidValue)
	}
	t.Status = StatusOpen

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt

	attachments, err := encodeIDs(t.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tickets (id, owner_id, title, description, priority, status, attachments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		t.ID,
		t.OwnerID,
		t.Title,
		t.Description,
		string(t.Priority),
		string(t.Status),
		attachments,
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting ticket: %w", err)
	}

	s.logger.Info("created ticket", "id", t.ID, "owner_id", t.OwnerID, "priority", t.Priority)
	return nil
}

const ticketColumns = `id, owner_id, title, description, priority, status, attachments, created_at, updated_at`

func scanTicket(row rowScanner) (*Ticket, error) {
	var t Ticket
	var priority, status, attachments, createdAtStr, updatedAtStr string

	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &priority, &status, &attachments, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ticket: %w", err)
	}

	t.Priority = Priority(priority)
	t.Status = TicketStatus(status)
	if t.Attachments, err = decodeIDs(attachments); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}

// GetTicket retrieves a ticket by ID.
func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`
	return scanTicket(s.db.QueryRowContext(ctx, query, id))
}

// ListTickets returns tickets matching the filter, newest first.
func (s *SQLiteStore) ListTickets(ctx context.Context, f TicketFilter) ([]*Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE (? = '' OR owner_id = ?)
		  AND (? = '' OR status = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		f.OwnerID, f.OwnerID,
		string(f.Status), string(f.Status),
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tickets: %w", err)
	}

	return tickets, nil
}

// UpdateTicketStatus writes a new status. Any status may replace any other.
func (s *SQLiteStore) UpdateTicketStatus(ctx context.Context, id string, status TicketStatus) error {
	if !status.Valid() {
		return fmt.Errorf("status %q: %w", status, ErrInvalidValue)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		if isCheckConstraintError(err) {
			return fmt.Errorf("status %q: %w", status, ErrInvalidValue)
		}
		return fmt.Errorf("updating ticket status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("updated ticket status", "id", id, "status", status)
	return nil
}

// CreateMessage appends a message to a ticket thread.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	attachments, err := encodeIDs(m.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (id, ticket_id, sender_id, content, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		m.ID,
		m.TicketID,
		m.SenderID,
		m.Content,
		attachments,
		formatTime(m.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", m.ID, "ticket_id", m.TicketID, "attachments", len(m.Attachments))
	return nil
}

// ListMessages returns every message on a ticket in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, ticketID string) ([]*Message, error) {
	query := `
		SELECT id, ticket_id, sender_id, content, attachments, created_at
		FROM messages
		WHERE ticket_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var attachments, createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.TicketID, &msg.SenderID, &msg.Content, &attachments, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if msg.Attachments, err = decodeIDs(attachments); err != nil {
			return nil, err
		}
		if msg.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}
