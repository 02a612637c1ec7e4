// ABOUTME: Package documentation for the helpdesk store
// ABOUTME: Describes the Store interface, data model, and SQLite conventions

// Package store provides persistent storage for the helpdesk using SQLite.
//
// # Architecture
//
// Two interfaces cover everything the service persists:
//
//   - Store: accounts, sessions, profiles, tickets, messages, settings,
//     articles, attachments, and the audit log
//   - PasskeyStore: WebAuthn credentials for admin accounts
//
// SQLiteStore implements both. MockStore is an in-memory implementation
// with the same ordering and error semantics, used by handler tests.
//
// # Data Model
//
//   - Account: login credentials; users carry a synthetic internal email
//   - Profile: display name, theme, and verification flag for an account
//   - Ticket: support request with priority and status
//   - Message: reply on a ticket thread
//   - Setting: global key/value flag such as require_pin
//   - Article: markdown knowledge-base entry
//   - Attachment: metadata for a blob held by the attachments package
//   - AuditEntry: record of an admin action
//
// # Drivers
//
// Open accepts "sqlite" (modernc.org/sqlite, pure Go) or "sqlite3"
// (mattn/go-sqlite3, only when built with cgo). Foreign keys and the busy
// timeout are set per connection through the DSN.
//
// # Timestamps
//
// Times are stored as fixed-width UTC text so lexical order matches
// chronological order. Rows that share a timestamp are ordered by rowid.
//
// # Errors
//
// Lookups return ErrNotFound, unique violations return ErrDuplicate, and
// unknown enum values return ErrInvalidValue. All other errors are wrapped
// with context.
package store
