// Package api serves the helpdesk JSON API under /api/v1.
//
// # Authentication
//
// POST /api/v1/login exchanges credentials for an HS256 JWT. Admins send
// {"email","password"}; users send {"profile_id" or "name","pin"}. Every
// other route requires "Authorization: Bearer <token>". Login attempts are
// rate limited per client address.
//
// # Errors
//
// Errors are {"error": "..."} with the status mapped from the service error:
// 400 invalid input, 401 unauthenticated or bad credentials, 403 forbidden or
// unverified, 404 not found, 409 name taken, 413 upload too large, 429 rate
// limited. Anything else is a 500 with a generic message.
//
// # Idempotency
//
// POST /api/v1/tickets and POST /api/v1/tickets/{id}/messages honour an
// Idempotency-Key header. A retry with the same key from the same account
// replays the first successful response with "Idempotent-Replayed: true".
package api
