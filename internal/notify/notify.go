// ABOUTME: Admin notifications for new tickets, new messages, and new signups
// ABOUTME: Defines the Notifier interface, event subjects, and log/fan-out implementations

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Kind identifies the event that triggered a notification.
type Kind string

const (
	KindTicketCreated Kind = "ticket_created"
	KindMessageSent   Kind = "message_sent"
	KindUserSignup    Kind = "user_signup"
)

// Event carries the fields needed to describe a notification.
type Event struct {
	Kind     Kind
	TicketID string
	Title    string // ticket title for KindTicketCreated
	UserName string // display name of the user who acted
	Preview  string // message content or ticket description, may be empty
}

// Subject returns the one-line headline shown to admins.
func (e Event) Subject() string {
	switch e.Kind {
	case KindTicketCreated:
		return "New Ticket: " + e.Title
	case KindMessageSent:
		return "New Message on Ticket " + e.TicketID
	case KindUserSignup:
		return "New User Registration: " + e.UserName + ". Approval needed."
	default:
		return string(e.Kind)
	}
}

// Notifier delivers events to admins.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. Pass nil logger for default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify logs the event at info level.
func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Info(ev.Subject(),
		"kind", ev.Kind,
		"ticket_id", ev.TicketID,
		"user", ev.UserName,
	)
	return nil
}

// Multi sends every event to each notifier in turn.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti fans out to notifiers. Nil entries are skipped.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger.With("component", "notify")}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers ev to every notifier, even if earlier ones fail. The
// returned error joins all failures.
func (m *Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for i, n := range m.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			m.logger.Warn("notification failed", "kind", ev.Kind, "notifier", i, "error", err)
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }
