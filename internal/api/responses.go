// ABOUTME: JSON request and response bodies for the API
// ABOUTME: Converts store records into wire shapes with RFC 3339 timestamps

package api

import (
	"time"

	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

// LoginRequest is the body of POST /api/v1/login. Admins send email and
// password; users send a profile ID or name plus a PIN.
type LoginRequest struct {
	Email     string `json:"email,omitempty"`
	Password  string `json:"password,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
	Name      string `json:"name,omitempty"`
	PIN       string `json:"pin,omitempty"`
}

// LoginResponse carries a bearer token.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	AccountID string `json:"account_id"`
	IsAdmin   bool   `json:"is_admin"`
}

// ProfileResponse is a user profile.
type ProfileResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name"`
	ThemePref   string `json:"theme_pref"`
	Verified    bool   `json:"verified"`
	CreatedAt   string `json:"created_at"`
}

// MeResponse describes the caller.
type MeResponse struct {
	AccountID   string           `json:"account_id"`
	Email       string           `json:"email"`
	DisplayName string           `json:"display_name"`
	IsAdmin     bool             `json:"is_admin"`
	Verified    bool             `json:"verified"`
	Profile     *ProfileResponse `json:"profile,omitempty"`
}

// CreateTicketRequest is the body of POST /api/v1/tickets.
type CreateTicketRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// TicketResponse is a ticket.
type TicketResponse struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Status      string   `json:"status"`
	Attachments []string `json:"attachments"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// StatusRequest is the body of PUT /api/v1/tickets/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// SendMessageRequest is the body of POST /api/v1/tickets/{id}/messages.
type SendMessageRequest struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// MessageResponse is one message in a ticket thread.
type MessageResponse struct {
	ID          string   `json:"id"`
	TicketID    string   `json:"ticket_id"`
	SenderID    string   `json:"sender_id"`
	SenderName  string   `json:"sender_name,omitempty"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
	CreatedAt   string   `json:"created_at"`
}

// AttachmentResponse is attachment metadata.
type AttachmentResponse struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"created_at"`
}

// ArticleRequest is the body for creating or updating an article.
// Published defaults to true when omitted.
type ArticleRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Category  string `json:"category"`
	Published *bool  `json:"published,omitempty"`
}

// ArticleResponse is a knowledge-base article.
type ArticleResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Category  string `json:"category"`
	Published bool   `json:"published"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SettingRequest is the body of PUT /api/v1/settings/{key}.
type SettingRequest struct {
	Value string `json:"value"`
}

// SettingResponse reports a setting. Set is false when the key was never written.
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Set   bool   `json:"set"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func toProfileResponse(p *store.Profile) ProfileResponse {
	return ProfileResponse{
		ID:          p.ID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		ThemePref:   p.ThemePref,
		Verified:    p.Verified,
		CreatedAt:   formatTime(p.CreatedAt),
	}
}

func toMeResponse(v *helpdesk.Viewer) MeResponse {
	resp := MeResponse{
		AccountID:   v.ID(),
		Email:       v.Account.Email,
		DisplayName: v.DisplayName(),
		IsAdmin:     v.IsAdmin,
		Verified:    v.Verified,
	}
	if v.Profile != nil {
		p := toProfileResponse(v.Profile)
		resp.Profile = &p
	}
	return resp
}

func toTicketResponse(t *store.Ticket) TicketResponse {
	return TicketResponse{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Status:      string(t.Status),
		Attachments: nonNil(t.Attachments),
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
}

func toMessageResponse(m *store.Message, names map[string]string) MessageResponse {
	return MessageResponse{
		ID:          m.ID,
		TicketID:    m.TicketID,
		SenderID:    m.SenderID,
		SenderName:  names[m.SenderID],
		Content:     m.Content,
		Attachments: nonNil(m.Attachments),
		CreatedAt:   formatTime(m.CreatedAt),
	}
}

func toAttachmentResponse(a *store.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:          a.ID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        a.Size,
		CreatedAt:   formatTime(a.CreatedAt),
	}
}

func toArticleResponse(a *store.Article) ArticleResponse {
	return ArticleResponse{
		ID:        a.ID,
		Title:     a.Title,
		Content:   a.Content,
		Category:  a.Category,
		Published: a.Published,
		CreatedAt: formatTime(a.CreatedAt),
		UpdatedAt: formatTime(a.UpdatedAt),
	}
}
