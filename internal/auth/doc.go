// Package auth provides authentication helpers for the helpdesk.
//
// # Identity Convention
//
// Regular users never see an email or password. A user signs up with a
// display name and a 4-digit PIN, and Identity maps those onto an account:
//
//	email    = lowercase(name without whitespace) + Suffix
//	password = PIN + Padding
//
// Any account whose email does not end in Suffix is an admin.
//
// # Passwords
//
// Account passwords are stored as bcrypt hashes. CheckDummyPassword lets
// callers reject unknown accounts in the same time as a wrong password.
//
// # API Tokens
//
// The JSON API uses HS256 JWTs whose "sub" claim is the account ID.
// Middleware verifies the bearer token, loads the account, and attaches an
// AuthContext; RequireAdmin gates admin-only routes.
//
// # Rate Limiting
//
// LoginLimiter applies a token bucket per key to login attempts.
package auth
