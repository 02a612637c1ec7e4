// ABOUTME: JSON API under /api/v1 authenticated with bearer JWTs
// ABOUTME: Routes map onto helpdesk.Service and translate its errors into HTTP status codes

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/helpdesk/internal/auth"
	"github.com/2389/helpdesk/internal/dedupe"
	"github.com/2389/helpdesk/internal/helpdesk"
)

// maxJSONBody caps decoded request bodies.
const maxJSONBody = 1 << 20

// TokenIssuer verifies and mints API tokens.
type TokenIssuer interface {
	auth.TokenVerifier
	Generate(accountID string, expiresIn time.Duration) (string, error)
}

// Config holds the API's collaborators. Service, Accounts, and Tokens are required.
type Config struct {
	Service     *helpdesk.Service
	Accounts    auth.AccountStore
	Tokens      TokenIssuer
	TokenTTL    time.Duration
	Limiter     *auth.LoginLimiter // nil disables login rate limiting
	Idempotency *dedupe.Cache      // nil disables Idempotency-Key replay
	Logger      *slog.Logger
}

// Handler serves the JSON API.
type Handler struct {
	svc         *helpdesk.Service
	accounts    auth.AccountStore
	tokens      TokenIssuer
	tokenTTL    time.Duration
	limiter     *auth.LoginLimiter
	idempotency *dedupe.Cache
	logger      *slog.Logger
}

// New creates an API handler.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Handler{
		svc:         cfg.Service,
		accounts:    cfg.Accounts,
		tokens:      cfg.Tokens,
		tokenTTL:    cfg.TokenTTL,
		limiter:     cfg.Limiter,
		idempotency: cfg.Idempotency,
		logger:      cfg.Logger.With("component", "api"),
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	authed := auth.Middleware(h.accounts, h.tokens, h.svc.Identity())
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(fn))
	}
	admin := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(auth.RequireAdmin(fn)))
	}

	mux.HandleFunc("POST /api/v1/login", h.handleLogin)

	route("GET /api/v1/me", h.handleMe)

	route("GET /api/v1/profiles", h.handleListProfiles)
	admin("POST /api/v1/profiles/{id}/verify", h.handleVerifyProfile)
	route("PUT /api/v1/profiles/{id}/theme", h.handleUpdateTheme)

	route("GET /api/v1/tickets", h.handleListTickets)
	route("POST /api/v1/tickets", h.idempotent(h.handleCreateTicket))
	route("GET /api/v1/tickets/{id}", h.handleGetTicket)
	route("PUT /api/v1/tickets/{id}/status", h.handleUpdateStatus)
	route("GET /api/v1/tickets/{id}/messages", h.handleListMessages)
	route("POST /api/v1/tickets/{id}/messages", h.idempotent(h.handleSendMessage))

	route("POST /api/v1/attachments", h.handleUpload)
	route("GET /api/v1/attachments/{id}", h.handleDownload)

	route("GET /api/v1/articles", h.handleListArticles)
	route("GET /api/v1/articles/{id}", h.handleGetArticle)
	route("POST /api/v1/articles", h.handleCreateArticle)
	route("PUT /api/v1/articles/{id}", h.handleUpdateArticle)
	route("DELETE /api/v1/articles/{id}", h.handleDeleteArticle)

	route("GET /api/v1/settings/{key}", h.handleGetSetting)
	admin("PUT /api/v1/settings/{key}", h.handleSetSetting)
}

// viewer loads the service viewer for the authenticated request.
func (h *Handler) viewer(ctx context.Context) (*helpdesk.Viewer, error) {
	authCtx := auth.FromContext(ctx)
	if authCtx == nil {
		return nil, helpdesk.ErrUnauthenticated
	}
	v, err := h.svc.ViewerForAccount(ctx, authCtx.AccountID)
	if errors.Is(err, helpdesk.ErrNotFound) {
		return nil, helpdesk.ErrUnauthenticated
	}
	return v, err
}

// withViewer adapts a handler that needs the signed-in viewer.
func (h *Handler) withViewer(w http.ResponseWriter, r *http.Request) (*helpdesk.Viewer, bool) {
	v, err := h.viewer(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return v, true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, helpdesk.ErrInvalidInput), errors.Is(err, helpdesk.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, helpdesk.ErrUnauthenticated), errors.Is(err, helpdesk.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, helpdesk.ErrForbidden), errors.Is(err, helpdesk.ErrNotVerified):
		return http.StatusForbidden
	case errors.Is(err, helpdesk.ErrNotFound), errors.Is(err, helpdesk.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, helpdesk.ErrNameTaken):
		return http.StatusConflict
	case errors.Is(err, helpdesk.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends err as a JSON error. Internal errors are logged and
// replaced with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	sendJSONError(w, status, msg)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// clientIP returns the remote host without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
