// ABOUTME: Server-rendered help-desk UI: routes, sessions, and CSRF protection
// ABOUTME: Pages are html/template views over the helpdesk service

package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/helpdesk/internal/assets"
	"github.com/2389/helpdesk/internal/auth"
	"github.com/2389/helpdesk/internal/events"
	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

const (
	// SessionCookieName is the name of the session cookie
	SessionCookieName = "helpdesk_session"

	// CSRFCookieName is the name of the CSRF token cookie
	CSRFCookieName = "helpdesk_csrf"

	// ThemeCookieName remembers the theme for visitors without a profile
	ThemeCookieName = "helpdesk_theme"

	// maxFormFiles caps how many attachments one form may carry.
	maxFormFiles = 5

	// multipartMemory is held in memory before multipart files spill to disk.
	multipartMemory = 8 << 20
)

type contextKey string

const (
	viewerContextKey contextKey = "viewer"
	csrfContextKey   contextKey = "csrf_token"
)

// Observer receives UI counters. The metrics package implements it.
type Observer interface {
	Login(kind, result string)
	StreamOpened()
	StreamClosed()
}

type nopObserver struct{}

func (nopObserver) Login(string, string) {}
func (nopObserver) StreamOpened()        {}
func (nopObserver) StreamClosed()        {}

// Config holds web UI configuration
type Config struct {
	Service *helpdesk.Service
	Events  *events.Broadcaster
	// Passkeys enables admin passkey login when set.
	Passkeys store.PasskeyStore
	Limiter  *auth.LoginLimiter
	Observer Observer
	// BaseURL is the external URL, used to derive the passkey relying party.
	BaseURL string
	Logger  *slog.Logger
}

// Web handles the browser UI
type Web struct {
	svc              *helpdesk.Service
	events           *events.Broadcaster
	passkeys         store.PasskeyStore
	limiter          *auth.LoginLimiter
	observer         Observer
	config           Config
	logger           *slog.Logger
	pages            map[string]*template.Template
	markdown         goldmark.Markdown
	heartbeat        time.Duration
	webauthn         *webauthn.WebAuthn
	webauthnSessions *webAuthnSessionStore
}

// New creates the web UI handler. It panics if the embedded templates do
// not parse.
func New(cfg Config) *Web {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	wb := &Web{
		svc:       cfg.Service,
		events:    cfg.Events,
		passkeys:  cfg.Passkeys,
		limiter:   cfg.Limiter,
		observer:  cfg.Observer,
		config:    cfg,
		logger:    cfg.Logger.With("component", "web"),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		heartbeat: 30 * time.Second,
	}
	wb.pages = mustParsePages(wb.funcs())

	if cfg.Passkeys != nil {
		if err := wb.initWebAuthn(); err != nil {
			wb.logger.Warn("failed to initialize WebAuthn, passkey login disabled", "error", err)
		}
	}
	return wb
}

// Close stops background cleanup.
func (wb *Web) Close() {
	if wb.webauthnSessions != nil {
		wb.webauthnSessions.Close()
	}
}

// RegisterRoutes registers all UI routes on the given mux
func (wb *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /static/", http.StripPrefix("/static/", assets.FileServer()))

	// Public routes
	mux.HandleFunc("GET /{$}", wb.handleHome)
	mux.HandleFunc("GET /login", wb.handleLoginPage)
	mux.HandleFunc("POST /login", wb.csrf(wb.handleLogin))
	mux.HandleFunc("GET /signup", wb.handleSignupPage)
	mux.HandleFunc("POST /signup", wb.csrf(wb.handleSignup))
	mux.HandleFunc("POST /logout", wb.csrf(wb.handleLogout))
	mux.HandleFunc("POST /theme", wb.csrf(wb.handleTheme))
	mux.HandleFunc("GET /kb", wb.optionalUser(wb.handleKnowledgeBase))
	mux.HandleFunc("GET /kb/{id}", wb.optionalUser(wb.handleArticle))

	// Passkey login
	mux.HandleFunc("POST /login/passkey/begin", wb.csrf(wb.handleWebAuthnLoginBegin))
	mux.HandleFunc("POST /login/passkey/finish", wb.csrf(wb.handleWebAuthnLoginFinish))

	// Signed-in routes
	mux.HandleFunc("GET /tickets", wb.requireUser(wb.handleDashboard))
	mux.HandleFunc("POST /tickets", wb.csrf(wb.requireUser(wb.handleCreateTicket)))
	mux.HandleFunc("GET /tickets/{id}", wb.requireUser(wb.handleTicket))
	mux.HandleFunc("GET /tickets/{id}/messages", wb.requireUser(wb.handleMessages))
	mux.HandleFunc("POST /tickets/{id}/messages", wb.csrf(wb.requireUser(wb.handleSendMessage)))
	mux.HandleFunc("GET /tickets/{id}/stream", wb.requireUser(wb.handleTicketStream))
	mux.HandleFunc("GET /attachments/{id}", wb.requireUser(wb.handleDownload))

	// Admin routes
	mux.HandleFunc("POST /tickets/{id}/status", wb.csrf(wb.requireAdmin(wb.handleTicketStatus)))
	mux.HandleFunc("GET /admin", wb.requireAdmin(wb.handleAdminHome))
	mux.HandleFunc("GET /admin/tickets", wb.requireAdmin(wb.handleAdminTickets))
	mux.HandleFunc("GET /admin/users", wb.requireAdmin(wb.handleAdminUsers))
	mux.HandleFunc("POST /admin/users", wb.csrf(wb.requireAdmin(wb.handleAdminCreateUser)))
	mux.HandleFunc("POST /admin/users/{id}/verify", wb.csrf(wb.requireAdmin(wb.handleAdminVerifyUser)))
	mux.HandleFunc("GET /admin/settings", wb.requireAdmin(wb.handleAdminSettings))
	mux.HandleFunc("POST /admin/settings/require-pin", wb.csrf(wb.requireAdmin(wb.handleAdminRequirePIN)))
	mux.HandleFunc("GET /admin/audit", wb.requireAdmin(wb.handleAdminAudit))
	mux.HandleFunc("POST /admin/passkeys/begin", wb.csrf(wb.requireAdmin(wb.handleWebAuthnRegisterBegin)))
	mux.HandleFunc("POST /admin/passkeys/finish", wb.csrf(wb.requireAdmin(wb.handleWebAuthnRegisterFinish)))
	mux.HandleFunc("GET /kb/new", wb.requireAdmin(wb.handleArticleNew))
	mux.HandleFunc("POST /kb", wb.csrf(wb.requireAdmin(wb.handleArticleCreate)))
	mux.HandleFunc("GET /kb/{id}/edit", wb.requireAdmin(wb.handleArticleEdit))
	mux.HandleFunc("POST /kb/{id}", wb.csrf(wb.requireAdmin(wb.handleArticleUpdate)))
	mux.HandleFunc("POST /kb/{id}/delete", wb.csrf(wb.requireAdmin(wb.handleArticleDelete)))

	wb.logger.Info("web routes registered")
}

// viewerFromSession resolves the session cookie to a viewer.
func (wb *Web) viewerFromSession(r *http.Request) (*helpdesk.Viewer, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, helpdesk.ErrUnauthenticated
	}
	return wb.svc.CurrentUser(r.Context(), cookie.Value)
}

// requireUser wraps a handler to require a signed-in viewer
func (wb *Web) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := wb.viewerFromSession(r)
		if err != nil {
			if !errors.Is(err, helpdesk.ErrUnauthenticated) {
				wb.logger.Error("failed to load session", "error", err)
			}
			wb.redirect(w, r, "/login")
			return
		}

		r, _ = wb.ensureCSRFToken(w, r)
		ctx := context.WithValue(r.Context(), viewerContextKey, v)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin is requireUser plus an admin check
func (wb *Web) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return wb.requireUser(func(w http.ResponseWriter, r *http.Request) {
		if v := getViewer(r); v == nil || !v.IsAdmin {
			wb.renderError(w, r, helpdesk.ErrForbidden)
			return
		}
		next(w, r)
	})
}

// optionalUser attaches the viewer when signed in but never redirects.
func (wb *Web) optionalUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r, _ = wb.ensureCSRFToken(w, r)
		if v, err := wb.viewerFromSession(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), viewerContextKey, v))
		}
		next(w, r)
	}
}

// getViewer retrieves the signed-in viewer from the request context
func getViewer(r *http.Request) *helpdesk.Viewer {
	v, _ := r.Context().Value(viewerContextKey).(*helpdesk.Viewer)
	return v
}

// getCSRFToken retrieves the CSRF token from the request context
func getCSRFToken(r *http.Request) string {
	token, _ := r.Context().Value(csrfContextKey).(string)
	return token
}

// ensureCSRFToken generates a CSRF token if not present and adds it to context
func (wb *Web) ensureCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" {
		ctx := context.WithValue(r.Context(), csrfContextKey, cookie.Value)
		return r.WithContext(ctx), cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		wb.logger.Error("failed to generate CSRF token", "error", err)
		token = ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	ctx := context.WithValue(r.Context(), csrfContextKey, token)
	return r.WithContext(ctx), token
}

// validateCSRF checks the submitted token against the cookie. The token may
// come from the X-CSRF-Token header (app.js) or the csrf_token field.
func (wb *Web) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	token := r.Header.Get("X-CSRF-Token")
	if token == "" {
		token = r.PostFormValue("csrf_token")
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) == 1
}

// csrf rejects unsafe requests without a matching CSRF token. It also
// bounds the request body, so oversized uploads fail before parsing.
func (wb *Web) csrf(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, wb.maxBodyBytes())
		if err := parseForm(r); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				wb.renderError(w, r, helpdesk.ErrTooLarge)
				return
			}
			wb.renderError(w, r, helpdesk.ErrInvalidInput)
			return
		}
		if !wb.validateCSRF(r) {
			wb.logger.Warn("rejected request with invalid CSRF token", "path", r.URL.Path)
			http.Error(w, "Invalid request, please reload the page and try again", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (wb *Web) maxBodyBytes() int64 {
	return maxFormFiles*wb.svc.MaxUploadBytes() + multipartMemory
}

// parseForm parses url-encoded and multipart bodies. Other bodies (JSON
// passkey payloads) are left for the handler.
func parseForm(r *http.Request) error {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

// startSession sets the session cookie for a fresh login.
func (wb *Web) startSession(w http.ResponseWriter, r *http.Request, login *helpdesk.Login) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    login.Token,
		Path:     "/",
		Expires:  login.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie expires a cookie on the client.
func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// isHTMX reports whether the request is a partial request that wants a fragment.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// redirect sends the browser to target. Partial requests get HX-Redirect so
// the whole page navigates instead of swapping a fragment.
func (wb *Web) redirect(w http.ResponseWriter, r *http.Request, target string) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// loginAllowed applies the per-client login rate limit.
func (wb *Web) loginAllowed(r *http.Request) bool {
	return wb.limiter == nil || wb.limiter.Allow("web:"+clientIP(r))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, helpdesk.ErrInvalidInput), errors.Is(err, helpdesk.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, helpdesk.ErrUnauthenticated), errors.Is(err, helpdesk.ErrInvalidCredentials),
		errors.Is(err, helpdesk.ErrUserNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, helpdesk.ErrForbidden), errors.Is(err, helpdesk.ErrNotVerified):
		return http.StatusForbidden
	case errors.Is(err, helpdesk.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, helpdesk.ErrNameTaken):
		return http.StatusConflict
	case errors.Is(err, helpdesk.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage is the text shown to the user for err. Internal errors are
// logged by the caller and never shown.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, helpdesk.ErrInvalidInput):
		return strings.TrimPrefix(err.Error(), helpdesk.ErrInvalidInput.Error()+": ")
	case errors.Is(err, helpdesk.ErrInvalidCredentials), errors.Is(err, helpdesk.ErrUserNotFound):
		return "Incorrect name or PIN"
	case errors.Is(err, helpdesk.ErrNameTaken):
		return "That name is already registered"
	case errors.Is(err, helpdesk.ErrNotVerified):
		return "Your account is awaiting admin verification"
	case errors.Is(err, helpdesk.ErrEmptyMessage):
		return "Write a message or attach a file"
	case errors.Is(err, helpdesk.ErrTooLarge):
		return "That file is too large"
	case errors.Is(err, helpdesk.ErrForbidden):
		return "You don't have access to that"
	case errors.Is(err, helpdesk.ErrNotFound):
		return "Not found"
	case errors.Is(err, helpdesk.ErrUnauthenticated):
		return "Please sign in"
	default:
		return "Something went wrong"
	}
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
