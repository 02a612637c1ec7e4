// ABOUTME: Sign-up, login, sessions, and profile management
// ABOUTME: Users authenticate by display name and PIN; admins by email and password

package helpdesk

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/helpdesk/internal/auth"
	"github.com/2389/helpdesk/internal/notify"
	"github.com/2389/helpdesk/internal/store"
)

// MinAdminPasswordLength is the shortest password accepted for admin accounts.
const MinAdminPasswordLength = 8

// Login is the result of a successful sign-in.
type Login struct {
	Token     string // opaque session token for the browser cookie
	ExpiresAt time.Time
	Viewer    *Viewer
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// sessionID is the stored form of a session token, so a leaked database
// does not hand out live cookies.
func sessionID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Register creates a user account and unverified profile, then signs the
// new user in.
func (s *Service) Register(ctx context.Context, name, pin string) (*Login, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := auth.ValidatePIN(pin); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	email := s.identity.InternalEmail(name)
	if email == s.identity.InternalEmail("") {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return nil, ErrNameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking existing account: %w", err)
	}

	acct, profile, err := s.createUser(ctx, email, s.identity.PadPIN(pin), name, false)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "account_id", acct.ID, "name", name)
	s.metrics.Signup()
	s.notify(ctx, notify.Event{Kind: notify.KindUserSignup, UserName: name})

	return s.startSession(ctx, &Viewer{Account: acct, Profile: profile})
}

func newAccount(email, password, name string) (*store.Account, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &store.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
	}, nil
}

func (s *Service) createAccount(ctx context.Context, email, password, name string) (*store.Account, error) {
	acct, err := newAccount(email, password, name)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	return acct, nil
}

// createUser stores a user account and its profile together. A taken name
// yields ErrNameTaken.
func (s *Service) createUser(ctx context.Context, email, password, name string, verified bool) (*store.Account, *store.Profile, error) {
	acct, err := newAccount(email, password, name)
	if err != nil {
		return nil, nil, err
	}
	profile := &store.Profile{
		ID:          uuid.New().String(),
		DisplayName: name,
		ThemePref:   store.ThemeSystem,
		Verified:    verified,
	}
	if err := s.store.CreateUser(ctx, acct, profile); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, nil, ErrNameTaken
		}
		return nil, nil, fmt.Errorf("creating user: %w", err)
	}
	return acct, profile, nil
}

// AuthenticateUser checks a user's credentials without starting a session.
// ref is a profile ID or a display name. When requirePIN is off only the
// user selection is checked.
func (s *Service) AuthenticateUser(ctx context.Context, ref, pin string) (*Viewer, error) {
	acct, err := s.resolveUser(ctx, strings.TrimSpace(ref))
	if err != nil {
		s.metrics.Login("user", "unknown_user")
		return nil, err
	}

	requirePIN, err := s.RequirePIN(ctx)
	if err != nil {
		return nil, err
	}
	if requirePIN {
		if err := auth.ValidatePIN(pin); err != nil {
			s.metrics.Login("user", "invalid_pin")
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if err := auth.CheckPassword(acct.PasswordHash, s.identity.PadPIN(pin)); err != nil {
			s.metrics.Login("user", "bad_credentials")
			return nil, ErrInvalidCredentials
		}
	}

	s.metrics.Login("user", "success")
	return s.viewerFor(ctx, acct)
}

// resolveUser finds the user account behind a profile ID or display name.
// Admin accounts never sign in through the user picker.
func (s *Service) resolveUser(ctx context.Context, ref string) (*store.Account, error) {
	acct, err := s.lookupUser(ctx, ref)
	if err != nil {
		return nil, err
	}
	if s.identity.IsAdminEmail(acct.Email) {
		return nil, ErrUserNotFound
	}
	return acct, nil
}

func (s *Service) lookupUser(ctx context.Context, ref string) (*store.Account, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: select a user", ErrInvalidInput)
	}

	profile, err := s.store.GetProfile(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		profile, err = s.store.GetProfileByDisplayName(ctx, ref)
	}
	switch {
	case err == nil && profile.UserID != "":
		acct, err := s.store.GetAccount(ctx, profile.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return acct, err
	case err == nil:
		ref = profile.DisplayName
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up profile: %w", err)
	}

	acct, err := s.store.GetAccountByEmail(ctx, s.identity.InternalEmail(ref))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	return acct, nil
}

// LoginUser authenticates a user and starts a browser session.
func (s *Service) LoginUser(ctx context.Context, ref, pin string) (*Login, error) {
	v, err := s.AuthenticateUser(ctx, ref, pin)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, v)
}

// AuthenticateAdmin checks admin credentials without starting a session.
// Unknown emails, user accounts, and wrong passwords fail identically.
func (s *Service) AuthenticateAdmin(ctx context.Context, email, password string) (*Viewer, error) {
	email = strings.TrimSpace(email)
	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	if acct == nil || !s.identity.IsAdminEmail(acct.Email) {
		_ = auth.CheckDummyPassword(password)
		s.metrics.Login("admin", "bad_credentials")
		return nil, ErrInvalidCredentials
	}
	if err := auth.CheckPassword(acct.PasswordHash, password); err != nil {
		s.metrics.Login("admin", "bad_credentials")
		return nil, ErrInvalidCredentials
	}

	s.metrics.Login("admin", "success")
	return s.viewerFor(ctx, acct)
}

// LoginAdmin authenticates an admin and starts a browser session.
func (s *Service) LoginAdmin(ctx context.Context, email, password string) (*Login, error) {
	v, err := s.AuthenticateAdmin(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, v)
}

// StartSession signs in an already-authenticated account, as after a
// passkey assertion.
func (s *Service) StartSession(ctx context.Context, accountID string) (*Login, error) {
	v, err := s.ViewerForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, v)
}

func (s *Service) startSession(ctx context.Context, v *Viewer) (*Login, error) {
	token, err := generateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}

	now := s.now()
	sess := &store.Session{
		ID:        sessionID(token),
		AccountID: v.ID(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &Login{Token: token, ExpiresAt: sess.ExpiresAt, Viewer: v}, nil
}

// Logout ends a session. Unknown or expired sessions are already logged out.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, sessionID(token)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CurrentUser resolves a session token to its viewer.
func (s *Service) CurrentUser(ctx context.Context, token string) (*Viewer, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := s.store.GetSession(ctx, sessionID(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	v, err := s.ViewerForAccount(ctx, sess.AccountID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	return v, err
}

// ViewerForAccount builds the viewer for an account ID, as for API tokens.
func (s *Service) ViewerForAccount(ctx context.Context, accountID string) (*Viewer, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	return s.viewerFor(ctx, acct)
}

func (s *Service) viewerFor(ctx context.Context, acct *store.Account) (*Viewer, error) {
	v := &Viewer{Account: acct, IsAdmin: s.identity.IsAdminEmail(acct.Email)}
	if v.IsAdmin {
		v.Verified = true
		// Admins may still carry a profile for their theme preference.
		if p, err := s.store.GetProfileByUserID(ctx, acct.ID); err == nil {
			v.Profile = p
		}
		return v, nil
	}

	p, err := s.store.GetProfileByUserID(ctx, acct.ID)
	switch {
	case err == nil:
		v.Profile = p
		v.Verified = p.Verified
	case errors.Is(err, store.ErrNotFound):
		// A user without a profile can sign in but stays unverified.
	default:
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	return v, nil
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx)
}

// ListProfiles returns every profile ordered by display name. It backs the
// login picker, so it needs no viewer.
func (s *Service) ListProfiles(ctx context.Context) ([]*store.Profile, error) {
	return s.store.ListProfiles(ctx)
}

// VerifyUser marks a profile as verified so its owner can file tickets.
func (s *Service) VerifyUser(ctx context.Context, v *Viewer, profileID string) error {
	if err := requireAdmin(v); err != nil {
		return err
	}
	if err := s.store.VerifyProfile(ctx, profileID); err != nil {
		return storeErr(err)
	}
	s.audit(ctx, v, store.AuditVerifyUser, "profile", profileID, nil)
	return nil
}

// UpdateTheme saves a theme preference on the viewer's own profile, or on
// any profile for admins.
func (s *Service) UpdateTheme(ctx context.Context, v *Viewer, profileID, theme string) error {
	if v == nil {
		return ErrUnauthenticated
	}
	if !store.ValidTheme(theme) {
		return fmt.Errorf("%w: theme must be system, light, or dark", ErrInvalidInput)
	}
	if !v.IsAdmin && (v.Profile == nil || v.Profile.ID != profileID) {
		return ErrForbidden
	}
	if err := s.store.UpdateProfileTheme(ctx, profileID, theme); err != nil {
		return storeErr(err)
	}
	if v.Profile != nil && v.Profile.ID == profileID {
		v.Profile.ThemePref = theme
	}
	return nil
}

// AdminCreateUser creates a user account with an already-verified profile.
func (s *Service) AdminCreateUser(ctx context.Context, v *Viewer, name, pin string) (*store.Profile, error) {
	if err := requireAdmin(v); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := auth.ValidatePIN(pin); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	_, profile, err := s.createUser(ctx, s.identity.InternalEmail(name), s.identity.PadPIN(pin), name, true)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, v, store.AuditCreateUser, "profile", profile.ID, map[string]any{"name": name})
	return profile, nil
}

// CreateAdmin creates an admin account. v may be nil when called from the
// bootstrap command.
func (s *Service) CreateAdmin(ctx context.Context, v *Viewer, email, password, name string) (*store.Account, error) {
	if v != nil {
		if err := requireAdmin(v); err != nil {
			return nil, err
		}
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if !s.identity.IsAdminEmail(email) {
		return nil, fmt.Errorf("%w: admin email cannot use the %s domain", ErrInvalidInput, s.identity.Suffix)
	}
	if len(password) < MinAdminPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinAdminPasswordLength)
	}
	if name == "" {
		name = email
	}

	acct, err := s.createAccount(ctx, email, password, name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrNameTaken
		}
		return nil, err
	}

	s.audit(ctx, v, store.AuditCreateAdmin, "account", acct.ID, map[string]any{"email": email})
	return acct, nil
}

// ResetAdminPassword replaces an admin's password. It is run from the CLI
// by an operator, so there is no viewer.
func (s *Service) ResetAdminPassword(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !s.identity.IsAdminEmail(email) {
		return fmt.Errorf("%w: %s is not an admin email", ErrInvalidInput, email)
	}
	if len(password) < MinAdminPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinAdminPasswordLength)
	}

	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return storeErr(err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAccountPassword(ctx, acct.ID, hash); err != nil {
		return storeErr(err)
	}

	s.logger.Info("admin password reset", "account_id", acct.ID)
	s.audit(ctx, nil, store.AuditResetPassword, "account", acct.ID, map[string]any{"email": email})
	return nil
}

// HasAdmin reports whether any admin account exists.
func (s *Service) HasAdmin(ctx context.Context) (bool, error) {
	n, err := s.store.CountAdminAccounts(ctx, s.identity.Suffix)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DisplayNames maps account IDs to the names shown beside messages.
func (s *Service) DisplayNames(ctx context.Context, accountIDs []string) map[string]string {
	names := make(map[string]string, len(accountIDs))
	for _, id := range accountIDs {
		if _, ok := names[id]; ok {
			continue
		}
		if p, err := s.store.GetProfileByUserID(ctx, id); err == nil {
			names[id] = p.DisplayName
			continue
		}
		if acct, err := s.store.GetAccount(ctx, id); err == nil {
			names[id] = acct.Name
			continue
		}
		names[id] = "Unknown"
	}
	return names
}

// PasskeyRegistered records that an admin enrolled a passkey.
func (s *Service) PasskeyRegistered(ctx context.Context, v *Viewer, passkeyID string) {
	s.audit(ctx, v, store.AuditRegisterPasskey, "account", v.ID(), map[string]any{"passkey_id": passkeyID})
}
