// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the account to context

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/2389/helpdesk/internal/store"
)

// AccountStore is the subset of store.Store the middleware needs.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// Middleware validates the bearer token, loads the account, and attaches
// an AuthContext to the request.
func Middleware(accounts AccountStore, verifier TokenVerifier, id Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeJSONError(w, http.StatusUnauthorized, errMsg)
				return
			}

			accountID, err := verifier.Verify(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			acct, err := accounts.GetAccount(r.Context(), accountID)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "account not found")
				return
			}

			authCtx := &AuthContext{
				AccountID: acct.ID,
				Email:     acct.Email,
				IsAdmin:   id.IsAdminEmail(acct.Email),
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireAdmin rejects requests whose AuthContext is not an admin.
// Must be used after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := FromContext(r.Context())
		if authCtx == nil {
			writeJSONError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !authCtx.IsAdmin {
			writeJSONError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
