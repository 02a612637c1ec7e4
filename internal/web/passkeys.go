// ABOUTME: WebAuthn passkey support for admin accounts
// ABOUTME: Registration while signed in, and discoverable (username-less) login

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

// passkeyChallengeTTL is how long a begun ceremony may take to finish.
const passkeyChallengeTTL = 5 * time.Minute

// webAuthnUser adapts an admin account to webauthn.User.
type webAuthnUser struct {
	account *store.Account
	creds   []*store.PasskeyCredential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.account.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.account.Email
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.account.Name != "" {
		return u.account.Name
	}
	return u.account.Email
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		}
		if c.Transports != "" {
			var transports []protocol.AuthenticatorTransport
			_ = json.Unmarshal([]byte(c.Transports), &transports)
			creds[i].Transport = transports
		}
	}
	return creds
}

// challenge is an in-progress registration or login ceremony.
type challenge struct {
	session   *webauthn.SessionData
	accountID string
	expiresAt time.Time
}

// webAuthnSessionStore holds ceremony state between begin and finish.
// Entries live in memory only; a restart just means starting again.
type webAuthnSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*challenge
	now      func() time.Time
	cancel   context.CancelFunc
}

func newWebAuthnSessionStore() *webAuthnSessionStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &webAuthnSessionStore{
		sessions: make(map[string]*challenge),
		now:      time.Now,
		cancel:   cancel,
	}
	go s.cleanupLoop(ctx)
	return s
}

// Close stops the cleanup goroutine.
func (s *webAuthnSessionStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *webAuthnSessionStore) Set(token string, session *webauthn.SessionData, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = &challenge{
		session:   session,
		accountID: accountID,
		expiresAt: s.now().Add(passkeyChallengeTTL),
	}
}

// Take returns and removes a ceremony, so each challenge is single-use.
func (s *webAuthnSessionStore) Take(token string) (*webauthn.SessionData, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[token]
	if !ok {
		return nil, "", false
	}
	delete(s.sessions, token)
	if s.now().After(c.expiresAt) {
		return nil, "", false
	}
	return c.session, c.accountID, true
}

func (s *webAuthnSessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *webAuthnSessionStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, c := range s.sessions {
		if now.After(c.expiresAt) {
			delete(s.sessions, k)
		}
	}
}

func (s *webAuthnSessionStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// deriveWebAuthnConfig extracts rpID and rpOrigins from a base URL.
// Returns localhost defaults if the URL is empty or invalid.
func deriveWebAuthnConfig(baseURL string) (rpID string, rpOrigins []string) {
	rpID = "localhost"
	rpOrigins = []string{"http://localhost", "https://localhost"}

	if baseURL == "" {
		return rpID, rpOrigins
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return rpID, rpOrigins
	}

	host := parsed.Hostname()
	if host == "" {
		return rpID, rpOrigins
	}

	origin := parsed.Scheme + "://" + parsed.Host
	rpID = host
	rpOrigins = []string{origin}
	if parsed.Scheme == "https" {
		rpOrigins = append(rpOrigins, "http://"+parsed.Host)
	} else {
		rpOrigins = append(rpOrigins, "https://"+parsed.Host)
	}
	return rpID, rpOrigins
}

// initWebAuthn initializes the relying party.
func (wb *Web) initWebAuthn() error {
	rpID, rpOrigins := deriveWebAuthnConfig(wb.config.BaseURL)

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Help Desk",
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	})
	if err != nil {
		return err
	}

	wb.webauthn = w
	wb.webauthnSessions = newWebAuthnSessionStore()
	return nil
}

// ceremonyRequest is the body of a finish call.
type ceremonyRequest struct {
	SessionToken string          `json:"sessionToken"`
	Response     json.RawMessage `json:"response"`
}

func parseCeremonyRequest(r *http.Request) (*ceremonyRequest, error) {
	var req ceremonyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.SessionToken == "" || len(req.Response) == 0 {
		return nil, errors.New("sessionToken and response are required")
	}
	return &req, nil
}

func (wb *Web) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		wb.logger.Debug("failed to encode response", "error", err)
	}
}

func (wb *Web) jsonError(w http.ResponseWriter, status int, msg string) {
	wb.writeJSON(w, status, map[string]string{"error": msg})
}

// beginCeremony stores session state and returns options with its token.
func (wb *Web) beginCeremony(w http.ResponseWriter, options any, session *webauthn.SessionData, accountID string) {
	token, err := generateSecureToken(32)
	if err != nil {
		wb.jsonError(w, http.StatusInternalServerError, "Failed to generate session")
		return
	}
	wb.webauthnSessions.Set(token, session, accountID)
	wb.writeJSON(w, http.StatusOK, map[string]any{
		"options":      options,
		"sessionToken": token,
	})
}

// handleWebAuthnRegisterBegin starts enrolling a passkey for the signed-in admin.
func (wb *Web) handleWebAuthnRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if wb.webauthn == nil {
		wb.jsonError(w, http.StatusServiceUnavailable, "Passkeys not configured")
		return
	}
	v := getViewer(r)

	existing, err := wb.passkeys.ListPasskeys(r.Context(), v.ID())
	if err != nil {
		wb.logger.Error("failed to list passkeys", "error", err)
		existing = nil
	}
	user := &webAuthnUser{account: v.Account, creds: existing}

	exclude := make([]protocol.CredentialDescriptor, 0, len(existing))
	for _, c := range user.WebAuthnCredentials() {
		exclude = append(exclude, c.Descriptor())
	}

	options, session, err := wb.webauthn.BeginRegistration(user,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithExclusions(exclude),
	)
	if err != nil {
		wb.logger.Error("failed to begin registration", "error", err)
		wb.jsonError(w, http.StatusInternalServerError, "Failed to start registration")
		return
	}
	wb.beginCeremony(w, options, session, v.ID())
}

// storePasskey persists a verified credential.
func (wb *Web) storePasskey(ctx context.Context, accountID string, cred *webauthn.Credential) (string, error) {
	id, err := generateSecureToken(16)
	if err != nil {
		return "", err
	}
	transports, err := json.Marshal(cred.Transport)
	if err != nil {
		return "", err
	}

	err = wb.passkeys.CreatePasskey(ctx, &store.PasskeyCredential{
		ID:              id,
		AccountID:       accountID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      string(transports),
		SignCount:       cred.Authenticator.SignCount,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// handleWebAuthnRegisterFinish verifies and stores the new passkey.
func (wb *Web) handleWebAuthnRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if wb.webauthn == nil {
		wb.jsonError(w, http.StatusServiceUnavailable, "Passkeys not configured")
		return
	}
	v := getViewer(r)

	req, err := parseCeremonyRequest(r)
	if err != nil {
		wb.jsonError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	session, accountID, ok := wb.webauthnSessions.Take(req.SessionToken)
	if !ok || accountID != v.ID() {
		wb.jsonError(w, http.StatusBadRequest, "Invalid or expired session")
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		wb.logger.Warn("failed to parse registration response", "error", err)
		wb.jsonError(w, http.StatusBadRequest, "Invalid response")
		return
	}

	existing, _ := wb.passkeys.ListPasskeys(r.Context(), v.ID())
	user := &webAuthnUser{account: v.Account, creds: existing}

	cred, err := wb.webauthn.CreateCredential(user, *session, parsed)
	if err != nil {
		wb.logger.Warn("failed to verify passkey", "error", err)
		wb.jsonError(w, http.StatusBadRequest, "Failed to verify credential")
		return
	}

	id, err := wb.storePasskey(r.Context(), v.ID(), cred)
	if err != nil {
		wb.logger.Error("failed to store passkey", "error", err)
		wb.jsonError(w, http.StatusInternalServerError, "Failed to save credential")
		return
	}

	wb.svc.PasskeyRegistered(r.Context(), v, id)
	wb.logger.Info("passkey registered", "account_id", v.ID(), "passkey_id", id)
	wb.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebAuthnLoginBegin starts a discoverable login.
func (wb *Web) handleWebAuthnLoginBegin(w http.ResponseWriter, r *http.Request) {
	if wb.webauthn == nil {
		wb.jsonError(w, http.StatusServiceUnavailable, "Passkeys not configured")
		return
	}
	if !wb.loginAllowed(r) {
		wb.observer.Login("passkey", "rate_limited")
		w.Header().Set("Retry-After", "60")
		wb.jsonError(w, http.StatusTooManyRequests, "Too many sign-in attempts")
		return
	}

	options, session, err := wb.webauthn.BeginDiscoverableLogin()
	if err != nil {
		wb.logger.Error("failed to begin login", "error", err)
		wb.jsonError(w, http.StatusInternalServerError, "Failed to start login")
		return
	}
	wb.beginCeremony(w, options, session, "")
}

// credentialFinder resolves the user for a discoverable assertion, checking
// that the authenticator's user handle matches the stored credential owner.
func credentialFinder(user *webAuthnUser) webauthn.DiscoverableUserHandler {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) > 0 && string(userHandle) != user.account.ID {
			return nil, errors.New("user handle mismatch")
		}
		return user, nil
	}
}

// lookupPasskeyAdmin finds the credential and the admin it belongs to.
func (wb *Web) lookupPasskeyAdmin(ctx context.Context, credentialID []byte) (*store.PasskeyCredential, *helpdesk.Viewer, error) {
	cred, err := wb.passkeys.GetPasskeyByCredentialID(ctx, credentialID)
	if err != nil {
		return nil, nil, err
	}
	v, err := wb.svc.ViewerForAccount(ctx, cred.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if !v.IsAdmin {
		return nil, nil, helpdesk.ErrForbidden
	}
	return cred, v, nil
}

// handleWebAuthnLoginFinish verifies the assertion and signs the admin in.
func (wb *Web) handleWebAuthnLoginFinish(w http.ResponseWriter, r *http.Request) {
	if wb.webauthn == nil {
		wb.jsonError(w, http.StatusServiceUnavailable, "Passkeys not configured")
		return
	}

	req, err := parseCeremonyRequest(r)
	if err != nil {
		wb.jsonError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	session, _, ok := wb.webauthnSessions.Take(req.SessionToken)
	if !ok {
		wb.jsonError(w, http.StatusBadRequest, "Invalid or expired session")
		return
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		wb.logger.Warn("failed to parse login response", "error", err)
		wb.jsonError(w, http.StatusBadRequest, "Invalid response")
		return
	}

	stored, v, err := wb.lookupPasskeyAdmin(r.Context(), parsed.RawID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, helpdesk.ErrNotFound) || errors.Is(err, helpdesk.ErrForbidden) {
			wb.observer.Login("passkey", "unknown_credential")
			wb.jsonError(w, http.StatusUnauthorized, "Unknown credential")
			return
		}
		wb.logger.Error("failed to look up passkey", "error", err)
		wb.jsonError(w, http.StatusInternalServerError, "Failed to verify credential")
		return
	}

	all, _ := wb.passkeys.ListPasskeys(r.Context(), v.ID())
	user := &webAuthnUser{account: v.Account, creds: all}

	cred, err := wb.webauthn.ValidateDiscoverableLogin(credentialFinder(user), *session, parsed)
	if err != nil {
		wb.observer.Login("passkey", "bad_credentials")
		wb.logger.Warn("passkey assertion failed", "account_id", v.ID(), "error", err)
		wb.jsonError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}

	if err := wb.passkeys.UpdatePasskeySignCount(r.Context(), stored.ID, cred.Authenticator.SignCount); err != nil {
		wb.logger.Warn("failed to update sign count", "error", err)
	}

	login, err := wb.svc.StartSession(r.Context(), v.ID())
	if err != nil {
		wb.logger.Error("failed to create session", "error", err)
		wb.jsonError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	wb.startSession(w, r, login)

	wb.observer.Login("passkey", "success")
	wb.logger.Info("passkey login successful", "account_id", v.ID())
	wb.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "redirect": "/tickets"})
}
