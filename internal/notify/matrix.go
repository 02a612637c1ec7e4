// ABOUTME: Matrix notifier that posts admin notifications into a room
// ABOUTME: Uses mautrix with an access token; no end-to-end encryption

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// sendTimeout bounds a single Matrix send.
const sendTimeout = 30 * time.Second

// maxPreview is the longest message preview included in a notification, in runes.
const maxPreview = 200

// roomSender is the part of *mautrix.Client the notifier uses.
type roomSender interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// MatrixConfig holds the Matrix connection settings.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
	BaseURL     string // public URL of the helpdesk, used for ticket links
}

// MatrixNotifier posts each event's subject to a Matrix room.
type MatrixNotifier struct {
	client  roomSender
	room    id.RoomID
	baseURL string
	logger  *slog.Logger
}

// NewMatrixNotifier creates a Matrix client from cfg.
func NewMatrixNotifier(cfg MatrixConfig, logger *slog.Logger) (*MatrixNotifier, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return newMatrixNotifier(client, cfg, logger), nil
}

func newMatrixNotifier(client roomSender, cfg MatrixConfig, logger *slog.Logger) *MatrixNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixNotifier{
		client:  client,
		room:    id.RoomID(cfg.RoomID),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger.With("component", "notify.matrix"),
	}
}

// Notify sends the event to the configured room.
func (n *MatrixNotifier) Notify(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := n.client.SendText(ctx, n.room, n.format(ev)); err != nil {
		return fmt.Errorf("sending to %s: %w", n.room, err)
	}
	n.logger.Debug("sent notification", "room", n.room.String(), "kind", ev.Kind)
	return nil
}

func (n *MatrixNotifier) format(ev Event) string {
	var b strings.Builder
	b.WriteString(ev.Subject())
	if ev.Preview != "" {
		b.WriteString("\n\n")
		b.WriteString(truncate(ev.Preview, maxPreview))
	}
	if n.baseURL != "" && ev.TicketID != "" {
		b.WriteString("\n")
		b.WriteString(n.baseURL + "/tickets/" + ev.TicketID)
	}
	return b.String()
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
