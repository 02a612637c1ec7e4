// ABOUTME: Login, caller identity, and profile endpoints
// ABOUTME: Login is rate limited per client address and returns a bearer JWT

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/2389/helpdesk/internal/helpdesk"
)

// handleLogin handles POST /api/v1/login.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow("api:"+clientIP(r)) {
		w.Header().Set("Retry-After", "60")
		sendJSONError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		v   *helpdesk.Viewer
		err error
	)
	if strings.TrimSpace(req.Email) != "" {
		v, err = h.svc.AuthenticateAdmin(r.Context(), req.Email, req.Password)
	} else {
		ref := req.ProfileID
		if ref == "" {
			ref = req.Name
		}
		v, err = h.svc.AuthenticateUser(r.Context(), ref, req.PIN)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.tokens.Generate(v.ID(), h.tokenTTL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("api login", "account_id", v.ID(), "admin", v.IsAdmin)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: formatTime(time.Now().Add(h.tokenTTL)),
		AccountID: v.ID(),
		IsAdmin:   v.IsAdmin,
	})
}

// handleMe handles GET /api/v1/me.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toMeResponse(v))
}

// handleListProfiles handles GET /api/v1/profiles.
func (h *Handler) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.svc.ListProfiles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVerifyProfile handles POST /api/v1/profiles/{id}/verify.
func (h *Handler) handleVerifyProfile(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	if err := h.svc.VerifyUser(r.Context(), v, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateTheme handles PUT /api/v1/profiles/{id}/theme.
func (h *Handler) handleUpdateTheme(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	var req struct {
		Theme string `json:"theme"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.UpdateTheme(r.Context(), v, r.PathValue("id"), req.Theme); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
