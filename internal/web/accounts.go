// ABOUTME: Login, sign-up, logout, and theme handlers
// ABOUTME: Users pick their profile and enter a PIN; admins sign in with email and password

package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

// handleHome sends visitors to their tickets or the login page.
func (wb *Web) handleHome(w http.ResponseWriter, r *http.Request) {
	if _, err := wb.viewerFromSession(r); err == nil {
		http.Redirect(w, r, "/tickets", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// loginPage builds the login view for either mode.
func (wb *Web) loginPage(r *http.Request, mode string) loginData {
	data := loginData{pageData: wb.page(r, "Sign in"), Mode: mode, RequirePIN: true}
	if mode != "admin" {
		data.Mode = "user"
		profiles, err := wb.svc.ListProfiles(r.Context())
		if err != nil {
			wb.logger.Error("failed to list profiles", "error", err)
		}
		for _, p := range profiles {
			if p.UserID != "" {
				data.Profiles = append(data.Profiles, p)
			}
		}
		requirePIN, err := wb.svc.RequirePIN(r.Context())
		if err != nil {
			wb.logger.Error("failed to read require_pin", "error", err)
		}
		data.RequirePIN = requirePIN
	}
	return data
}

// handleLoginPage renders the login page
func (wb *Web) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := wb.viewerFromSession(r); err == nil {
		http.Redirect(w, r, "/tickets", http.StatusSeeOther)
		return
	}

	r, _ = wb.ensureCSRFToken(w, r)
	wb.render(w, r, http.StatusOK, "login", wb.loginPage(r, r.URL.Query().Get("mode")))
}

// handleLogin processes either login form
func (wb *Web) handleLogin(w http.ResponseWriter, r *http.Request) {
	r, _ = wb.ensureCSRFToken(w, r)
	mode := r.PostFormValue("mode")

	fail := func(status int, msg string) {
		data := wb.loginPage(r, mode)
		data.Error = msg
		data.Name = r.PostFormValue("name")
		data.Email = r.PostFormValue("email")
		wb.render(w, r, status, "login", data)
	}

	if !wb.loginAllowed(r) {
		kind := "user"
		if mode == "admin" {
			kind = "admin"
		}
		wb.observer.Login(kind, "rate_limited")
		w.Header().Set("Retry-After", "60")
		fail(http.StatusTooManyRequests, "Too many sign-in attempts. Wait a minute and try again.")
		return
	}

	var (
		login *helpdesk.Login
		err   error
	)
	if mode == "admin" {
		email := r.PostFormValue("email")
		password := r.PostFormValue("password")
		if strings.TrimSpace(email) == "" || password == "" {
			fail(http.StatusBadRequest, "Email and password required")
			return
		}
		login, err = wb.svc.LoginAdmin(r.Context(), email, password)
	} else {
		ref := r.PostFormValue("profile")
		if ref == "" {
			ref = r.PostFormValue("name")
		}
		login, err = wb.svc.LoginUser(r.Context(), ref, r.PostFormValue("pin"))
	}

	if err != nil {
		status := statusFor(err)
		msg := errorMessage(err)
		if mode == "admin" && errors.Is(err, helpdesk.ErrInvalidCredentials) {
			msg = "Invalid email or password"
		}
		if status == http.StatusInternalServerError {
			wb.logger.Error("login failed", "error", err)
		}
		fail(status, msg)
		return
	}

	wb.startSession(w, r, login)
	wb.logger.Info("login successful", "account_id", login.Viewer.ID(), "admin", login.Viewer.IsAdmin)
	wb.redirect(w, r, "/tickets")
}

// handleSignupPage renders the sign-up form
func (wb *Web) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	r, _ = wb.ensureCSRFToken(w, r)
	wb.render(w, r, http.StatusOK, "signup", signupData{pageData: wb.page(r, "Create account")})
}

// handleSignup registers a new user and signs them in. The account stays
// unverified until an admin approves it.
func (wb *Web) handleSignup(w http.ResponseWriter, r *http.Request) {
	r, _ = wb.ensureCSRFToken(w, r)
	name := r.PostFormValue("name")
	pin := r.PostFormValue("pin")

	fail := func(status int, msg string) {
		data := signupData{pageData: wb.page(r, "Create account"), Name: name}
		data.Error = msg
		wb.render(w, r, status, "signup", data)
	}

	if pin != r.PostFormValue("pin_confirm") {
		fail(http.StatusBadRequest, "PINs do not match")
		return
	}

	login, err := wb.svc.Register(r.Context(), name, pin)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			wb.logger.Error("sign-up failed", "error", err)
		}
		fail(status, errorMessage(err))
		return
	}

	wb.startSession(w, r, login)
	wb.redirect(w, r, "/tickets")
}

// handleLogout ends the session
func (wb *Web) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := wb.svc.Logout(r.Context(), cookie.Value); err != nil {
			wb.logger.Warn("failed to delete session", "error", err)
		}
	}

	clearCookie(w, SessionCookieName)
	clearCookie(w, CSRFCookieName)
	wb.redirect(w, r, "/login")
}

// handleTheme saves a theme preference. Signed-in users with a profile
// keep it on the profile; everyone also gets a cookie.
func (wb *Web) handleTheme(w http.ResponseWriter, r *http.Request) {
	theme := r.PostFormValue("theme")
	if !store.ValidTheme(theme) {
		wb.renderError(w, r, helpdesk.ErrInvalidInput)
		return
	}

	if v, err := wb.viewerFromSession(r); err == nil && v.Profile != nil {
		if err := wb.svc.UpdateTheme(r.Context(), v, v.Profile.ID, theme); err != nil {
			wb.renderError(w, r, err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ThemeCookieName,
		Value:    theme,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	back := r.PostFormValue("return_to")
	if !strings.HasPrefix(back, "/") || strings.HasPrefix(back, "//") {
		back = "/"
	}
	wb.redirect(w, r, back)
}
