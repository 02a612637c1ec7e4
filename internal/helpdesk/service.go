// ABOUTME: Helpdesk service: the business rules behind the web UI and JSON API
// ABOUTME: Owns authorization, validation, notifications, audit, and live events

package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/helpdesk/internal/attachments"
	"github.com/2389/helpdesk/internal/auth"
	"github.com/2389/helpdesk/internal/events"
	"github.com/2389/helpdesk/internal/notify"
	"github.com/2389/helpdesk/internal/store"
)

// Service errors. Callers map these onto HTTP status codes.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNameTaken          = errors.New("name already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("not signed in")
	ErrForbidden          = errors.New("forbidden")
	ErrNotVerified        = errors.New("account awaiting admin verification")
	ErrNotFound           = errors.New("not found")
	ErrEmptyMessage       = errors.New("message needs content or an attachment")
	ErrTooLarge           = errors.New("upload exceeds size limit")
)

// notifyTimeout bounds each background notification delivery.
const notifyTimeout = 10 * time.Second

// Recorder receives domain counters. The metrics package implements it.
type Recorder interface {
	TicketCreated(priority string)
	MessageSent()
	Login(kind, result string)
	Signup()
}

type nopRecorder struct{}

func (nopRecorder) TicketCreated(string) {}
func (nopRecorder) MessageSent()         {}
func (nopRecorder) Login(string, string) {}
func (nopRecorder) Signup()              {}

// Options configures a Service. Store is required; everything else has a default.
type Options struct {
	Store          store.Store
	Blobs          attachments.Blobs
	Notifier       notify.Notifier
	Events         *events.Broadcaster
	Identity       auth.Identity
	SessionTTL     time.Duration
	MaxUploadBytes int64
	Metrics        Recorder
	Logger         *slog.Logger
}

// Service implements every helpdesk operation.
type Service struct {
	store          store.Store
	blobs          attachments.Blobs
	notifier       notify.Notifier
	events         *events.Broadcaster
	identity       auth.Identity
	sessionTTL     time.Duration
	maxUploadBytes int64
	metrics        Recorder
	logger         *slog.Logger
	now            func() time.Time

	notifying sync.WaitGroup
}

// New creates a Service from opts.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Identity.Suffix == "" {
		opts.Identity.Suffix = "@tickets.internal"
	}
	if opts.Identity.Padding == "" {
		opts.Identity.Padding = "_TKT"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Service{
		store:          opts.Store,
		blobs:          opts.Blobs,
		notifier:       opts.Notifier,
		events:         opts.Events,
		identity:       opts.Identity,
		sessionTTL:     opts.SessionTTL,
		maxUploadBytes: opts.MaxUploadBytes,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With("component", "helpdesk"),
		now:            time.Now,
	}
}

// Identity returns the naming convention used for user accounts.
func (s *Service) Identity() auth.Identity {
	return s.identity
}

// MaxUploadBytes returns the attachment size limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// Viewer is the signed-in party an operation acts for.
type Viewer struct {
	Account  *store.Account
	Profile  *store.Profile // nil for admins and for users whose profile is missing
	IsAdmin  bool
	Verified bool
}

// ID returns the viewer's account ID.
func (v *Viewer) ID() string {
	return v.Account.ID
}

// DisplayName returns the profile name, falling back to the account name.
func (v *Viewer) DisplayName() string {
	if v.Profile != nil && v.Profile.DisplayName != "" {
		return v.Profile.DisplayName
	}
	if v.Account.Name != "" {
		return v.Account.Name
	}
	return v.Account.Email
}

// Theme returns the viewer's theme preference.
func (v *Viewer) Theme() string {
	if v.Profile != nil && v.Profile.ThemePref != "" {
		return v.Profile.ThemePref
	}
	return store.ThemeSystem
}

func requireAdmin(v *Viewer) error {
	if v == nil {
		return ErrUnauthenticated
	}
	if !v.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// storeErr translates store sentinels into service errors.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrInvalidValue):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	default:
		return err
	}
}

// notify delivers ev in the background. Failures are logged and never
// reach the caller.
func (s *Service) notify(ctx context.Context, ev notify.Event) {
	ctx = context.WithoutCancel(ctx)
	s.notifying.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.logger.Warn("notification failed", "kind", ev.Kind, "ticket_id", ev.TicketID, "error", err)
		}
	})
}

// WaitNotifications blocks until every notification started so far has
// been delivered or has timed out.
func (s *Service) WaitNotifications() {
	s.notifying.Wait()
}

func (s *Service) publish(ev events.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// audit records an admin action. Failures are logged, not returned, so a
// completed mutation is never reported as failed.
func (s *Service) audit(ctx context.Context, v *Viewer, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	actor := "system"
	if v != nil {
		actor = v.ID()
	}
	entry := &store.AuditEntry{
		ActorID:    actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Timestamp:  s.now(),
		Detail:     detail,
	}
	if err := s.store.AppendAuditLog(ctx, entry); err != nil {
		s.logger.Error("failed to append audit log", "action", action, "target_id", targetID, "error", err)
	}
}

// ListAudit returns recent admin actions, newest first.
func (s *Service) ListAudit(ctx context.Context, v *Viewer, f store.AuditFilter) ([]store.AuditEntry, error) {
	if err := requireAdmin(v); err != nil {
		return nil, err
	}
	return s.store.ListAuditLog(ctx, f)
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
