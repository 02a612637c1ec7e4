// ABOUTME: Store interface and data types for helpdesk persistence
// ABOUTME: Defines accounts, profiles, tickets, messages, settings, articles, and attachments

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint would be violated
var ErrDuplicate = errors.New("already exists")

// ErrInvalidValue is returned when an enum column receives an unknown value
var ErrInvalidValue = errors.New("invalid value")

// Theme preferences stored on a profile.
const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// ValidTheme reports whether theme is a known preference.
func ValidTheme(theme string) bool {
	switch theme {
	case ThemeSystem, ThemeLight, ThemeDark:
		return true
	}
	return false
}

// TicketStatus is the lifecycle state of a ticket. Any status may be written
// over any other; no transition rules are enforced.
type TicketStatus string

const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusWaiting    TicketStatus = "waiting"
	StatusResolved   TicketStatus = "resolved"
	StatusClosed     TicketStatus = "closed"
)

// TicketStatuses lists every status in display order.
var TicketStatuses = []TicketStatus{StatusOpen, StatusInProgress, StatusWaiting, StatusResolved, StatusClosed}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, v := range TicketStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Label returns the human form of the status ("in progress").
func (s TicketStatus) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// Priority is the urgency of a ticket.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists every priority from least to most urgent.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Account holds login credentials. User accounts carry a synthetic internal
// email; admin accounts carry a real one.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	CreatedAt    time.Time
}

// Session is a browser login session.
type Session struct {
	ID        string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Profile is the public face of a user account.
type Profile struct {
	ID          string
	UserID      string // empty when the profile is not linked to an account
	DisplayName string
	ThemePref   string
	Verified    bool
	CreatedAt   time.Time
}

// Ticket is a support request filed by a user.
type Ticket struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Priority    Priority
	Status      TicketStatus
	Attachments []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is a single reply in a ticket thread.
type Message struct {
	ID          string
	TicketID    string
	SenderID    string
	Content     string
	Attachments []string
	CreatedAt   time.Time
}

// Setting is a global key/value flag.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Article is a knowledge-base entry. Content is markdown.
type Article struct {
	ID        string
	Title     string
	Content   string
	Category  string
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attachment describes an uploaded file; the bytes live in blob storage
// under StorageKey.
type Attachment struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	UploaderID  string
	StorageKey  string
	CreatedAt   time.Time
}

// TicketFilter narrows ListTickets. Zero values match everything.
type TicketFilter struct {
	OwnerID string
	Status  TicketStatus
	Limit   int // default 100, max 1000
}

// ArticleUpdate holds the editable fields of an article.
type ArticleUpdate struct {
	Title     string
	Content   string
	Category  string
	Published bool
}

// Store defines the persistence operations used by the helpdesk service.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, acct *Account) error
	CreateUser(ctx context.Context, acct *Account, p *Profile) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	UpdateAccountPassword(ctx context.Context, id, passwordHash string) error
	CountAdminAccounts(ctx context.Context, internalSuffix string) (int, error)

	// Sessions
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// Profiles
	CreateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetProfileByUserID(ctx context.Context, userID string) (*Profile, error)
	GetProfileByDisplayName(ctx context.Context, name string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]*Profile, error)
	VerifyProfile(ctx context.Context, id string) error
	UpdateProfileTheme(ctx context.Context, id, theme string) error

	// Tickets
	CreateTicket(ctx context.Context, t *Ticket) error
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	ListTickets(ctx context.Context, f TicketFilter) ([]*Ticket, error)
	UpdateTicketStatus(ctx context.Context, id string, status TicketStatus) error

	// Messages
	CreateMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, ticketID string) ([]*Message, error)

	// Settings
	GetSetting(ctx context.Context, key string) (*Setting, error)
	UpsertSetting(ctx context.Context, key, value string) error

	// Articles
	CreateArticle(ctx context.Context, a *Article) error
	GetArticle(ctx context.Context, id string) (*Article, error)
	ListArticles(ctx context.Context, publishedOnly bool) ([]*Article, error)
	UpdateArticle(ctx context.Context, id string, u ArticleUpdate) error
	DeleteArticle(ctx context.Context, id string) error

	// Attachments
	CreateAttachment(ctx context.Context, a *Attachment) error
	GetAttachment(ctx context.Context, id string) (*Attachment, error)

	// Audit
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	Ping(ctx context.Context) error
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
