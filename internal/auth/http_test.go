// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, account lookup, and the admin gate

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk/internal/store"
)

var httpTestSecret = []byte("http-middleware-test-secret-32b!")

func setupMiddleware(t *testing.T) (*store.MockStore, *JWTVerifier, http.Handler, **AuthContext) {
	t.Helper()
	verifier, err := NewJWTVerifier(httpTestSecret)
	require.NoError(t, err)

	accounts := store.NewMockStore()
	var got *AuthContext
	handler := Middleware(accounts, verifier, testIdentity)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return accounts, verifier, handler, &got
}

func TestMiddleware_ValidToken(t *testing.T) {
	accounts, verifier, handler, got := setupMiddleware(t)
	require.NoError(t, accounts.CreateAccount(t.Context(), &store.Account{ID: "u-1", Email: "bob@tickets.internal", PasswordHash: "x", Name: "Bob"}))
	require.NoError(t, accounts.CreateAccount(t.Context(), &store.Account{ID: "a-1", Email: "admin@example.com", PasswordHash: "x", Name: "Admin"}))

	for _, tc := range []struct {
		id      string
		isAdmin bool
	}{{"u-1", false}, {"a-1", true}} {
		token, err := verifier.Generate(tc.id, time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, *got)
		assert.Equal(t, tc.id, (*got).AccountID)
		assert.Equal(t, tc.isAdmin, (*got).IsAdmin)
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	_, verifier, handler, _ := setupMiddleware(t)
	orphan, err := verifier.Generate("deleted-account", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer nope"},
		{"unknown account", "Bearer " + orphan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	gated := RequireAdmin(ok)

	tests := []struct {
		name string
		auth *AuthContext
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"user", &AuthContext{AccountID: "u", IsAdmin: false}, http.StatusForbidden},
		{"admin", &AuthContext{AccountID: "a", IsAdmin: true}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/settings/require_pin", nil)
			if tt.auth != nil {
				req = req.WithContext(WithAuth(req.Context(), tt.auth))
			}
			rec := httptest.NewRecorder()
			gated.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
