// ABOUTME: Account and session persistence for user and admin logins
// ABOUTME: Accounts hold bcrypt hashes; sessions are looked up by token hash and expire

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateAccount creates a new account. Emails are stored lowercased.
// Returns ErrDuplicate if the email is already registered.
func (s *SQLiteStore) CreateAccount(ctx context.Context, acct *Account) error {
	if err := insertAccount(ctx, s.db, acct); err != nil {
		return err
	}
	s.logger.Info("created account", "id", acct.ID, "email", acct.Email)
	return nil
}

// CreateUser creates an account and its profile in one transaction, linking
// the profile to the account. If either insert fails neither row is kept.
func (s *SQLiteStore) CreateUser(ctx context.Context, acct *Account, p *Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertAccount(ctx, tx, acct); err != nil {
		return err
	}
	p.UserID = acct.ID
	if err := insertProfile(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user: %w", err)
	}

	s.logger.Info("created user", "account_id", acct.ID, "profile_id", p.ID, "email", acct.Email)
	return nil
}

func insertAccount(ctx context.Context, db execer, acct *Account) error {
	acct.Email = strings.ToLower(acct.Email)
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO accounts (id, email, password_hash, name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		acct.ID,
		acct.Email,
		acct.PasswordHash,
		acct.Name,
		formatTime(acct.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

const accountColumns = `id, email, password_hash, name, created_at`

func scanAccount(row rowScanner) (*Account, error) {
	var acct Account
	var createdAtStr string

	err := row.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.Name, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	acct.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &acct, nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

// GetAccountByEmail retrieves an account by email, case-insensitively.
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, strings.ToLower(email)))
}

// UpdateAccountPassword replaces an account's password hash.
func (s *SQLiteStore) UpdateAccountPassword(ctx context.Context, id, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE accounts SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("updating account password: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("updated account password", "id", id)
	return nil
}

// CountAdminAccounts returns the number of accounts whose email does not end
// with the internal suffix.
func (s *SQLiteStore) CountAdminAccounts(ctx context.Context, internalSuffix string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE substr(email, -length(?)) != ?`,
		strings.ToLower(internalSuffix), strings.ToLower(internalSuffix),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting admin accounts: %w", err)
	}
	return count, nil
}

// CreateSession stores a new login session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sessions (id, account_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.AccountID,
		formatTime(sess.CreatedAt),
		formatTime(sess.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "account_id", sess.AccountID)
	return nil
}

// GetSession retrieves a valid (non-expired) session.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, account_id, created_at, expires_at
		FROM sessions
		WHERE id = ? AND expires_at > ?
	`

	var sess Session
	var createdAtStr, expiresAtStr string

	err := s.db.QueryRowContext(ctx, query, id, formatTime(time.Now())).Scan(
		&sess.ID,
		&sess.AccountID,
		&createdAtStr,
		&expiresAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if sess.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.ExpiresAt, err = parseTime(expiresAtStr); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	return &sess, nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes all expired sessions and reports how many were removed.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("deleted expired sessions", "count", n)
	}
	return n, nil
}
