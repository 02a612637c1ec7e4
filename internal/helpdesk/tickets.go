// ABOUTME: Ticket and message operations with owner/admin access rules
// ABOUTME: New tickets and messages notify admins; messages and status changes go live to viewers

package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/helpdesk/internal/events"
	"github.com/2389/helpdesk/internal/notify"
	"github.com/2389/helpdesk/internal/store"
)

// MaxTitleLength is the longest ticket title accepted, in runes.
const MaxTitleLength = 200

// TicketInput holds the fields a user supplies when filing a ticket.
type TicketInput struct {
	Title         string
	Description   string
	Priority      store.Priority
	AttachmentIDs []string
}

// ListTickets returns the viewer's tickets, or every ticket for admins,
// newest first. An empty status matches all.
func (s *Service) ListTickets(ctx context.Context, v *Viewer, status store.TicketStatus) ([]*store.Ticket, error) {
	if v == nil {
		return nil, ErrUnauthenticated
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	f := store.TicketFilter{Status: status, Limit: 1000}
	if !v.IsAdmin {
		f.OwnerID = v.ID()
	}
	return s.store.ListTickets(ctx, f)
}

// ValidateTicket reports whether v may file a ticket with in, without
// checking attachments. Forms call it before storing uploads.
func (s *Service) ValidateTicket(v *Viewer, in TicketInput) error {
	_, err := normalizeTicket(v, in)
	return err
}

func normalizeTicket(v *Viewer, in TicketInput) (TicketInput, error) {
	if v == nil {
		return in, ErrUnauthenticated
	}
	if !v.Verified {
		return in, ErrNotVerified
	}

	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return in, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len([]rune(in.Title)) > MaxTitleLength {
		return in, fmt.Errorf("%w: title is longer than %d characters", ErrInvalidInput, MaxTitleLength)
	}
	if in.Priority == "" {
		in.Priority = store.PriorityMedium
	}
	if !in.Priority.Valid() {
		return in, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	in.Description = strings.TrimSpace(in.Description)
	return in, nil
}

// CreateTicket files a new open ticket for a verified viewer.
func (s *Service) CreateTicket(ctx context.Context, v *Viewer, in TicketInput) (*store.Ticket, error) {
	in, err := normalizeTicket(v, in)
	if err != nil {
		return nil, err
	}
	if err := s.checkAttachments(ctx, v, in.AttachmentIDs); err != nil {
		return nil, err
	}

	t := &store.Ticket{
		ID:          uuid.New().String(),
		OwnerID:     v.ID(),
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Attachments: in.AttachmentIDs,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateTicket(ctx, t); err != nil {
		return nil, storeErr(err)
	}

	s.metrics.TicketCreated(string(t.Priority))
	s.notify(ctx, notify.Event{
		Kind:     notify.KindTicketCreated,
		TicketID: t.ID,
		Title:    t.Title,
		UserName: v.DisplayName(),
		Preview:  t.Description,
	})
	return t, nil
}

// GetTicket returns a ticket the viewer owns, or any ticket for admins.
func (s *Service) GetTicket(ctx context.Context, v *Viewer, id string) (*store.Ticket, error) {
	if v == nil {
		return nil, ErrUnauthenticated
	}
	t, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !v.IsAdmin && t.OwnerID != v.ID() {
		return nil, ErrForbidden
	}
	return t, nil
}

// UpdateTicketStatus sets a ticket's status. Admin only; any status may
// replace any other. Closing is how admins remove a ticket from play.
func (s *Service) UpdateTicketStatus(ctx context.Context, v *Viewer, id string, status store.TicketStatus) (*store.Ticket, error) {
	if err := requireAdmin(v); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	t, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	previous := t.Status

	if err := s.store.UpdateTicketStatus(ctx, id, status); err != nil {
		return nil, storeErr(err)
	}
	t.Status = status
	t.UpdatedAt = s.now()

	s.audit(ctx, v, store.AuditTicketStatus, "ticket", id, map[string]any{
		"from": string(previous),
		"to":   string(status),
	})
	s.publish(events.Event{Kind: events.KindStatus, TicketID: id, Status: status})
	return t, nil
}

// ListMessages returns a ticket's thread, oldest first.
func (s *Service) ListMessages(ctx context.Context, v *Viewer, ticketID string) ([]*store.Message, error) {
	if _, err := s.GetTicket(ctx, v, ticketID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, ticketID)
}

// SendMessage appends a message to a ticket the viewer can see. A message
// needs non-blank content or at least one attachment.
func (s *Service) SendMessage(ctx context.Context, v *Viewer, ticketID, content string, attachmentIDs []string) (*store.Message, error) {
	t, err := s.GetTicket(ctx, v, ticketID)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" && len(attachmentIDs) == 0 {
		return nil, ErrEmptyMessage
	}
	if err := s.checkAttachments(ctx, v, attachmentIDs); err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:          uuid.New().String(),
		TicketID:    t.ID,
		SenderID:    v.ID(),
		Content:     content,
		Attachments: attachmentIDs,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, storeErr(err)
	}

	s.metrics.MessageSent()
	s.publish(events.Event{Kind: events.KindMessage, TicketID: t.ID, Message: msg})
	s.notify(ctx, notify.Event{
		Kind:     notify.KindMessageSent,
		TicketID: t.ID,
		Title:    t.Title,
		UserName: v.DisplayName(),
		Preview:  content,
	})
	return msg, nil
}

// checkAttachments confirms every ID exists and was uploaded by the viewer
// (admins may reference any attachment).
func (s *Service) checkAttachments(ctx context.Context, v *Viewer, ids []string) error {
	for _, id := range ids {
		att, err := s.store.GetAttachment(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown attachment %q", ErrInvalidInput, id)
		}
		if err != nil {
			return err
		}
		if !v.IsAdmin && att.UploaderID != v.ID() {
			return ErrForbidden
		}
	}
	return nil
}
