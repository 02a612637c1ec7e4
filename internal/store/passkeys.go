// ABOUTME: WebAuthn passkey credential persistence for admin accounts
// ABOUTME: Credentials are looked up by account for registration and by credential ID for login

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PasskeyCredential represents a registered passkey.
type PasskeyCredential struct {
	ID              string
	AccountID       string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	Transports      string // JSON array
	SignCount       uint32
	CreatedAt       time.Time
}

// PasskeyStore defines persistence for admin passkeys.
type PasskeyStore interface {
	CreatePasskey(ctx context.Context, cred *PasskeyCredential) error
	ListPasskeys(ctx context.Context, accountID string) ([]*PasskeyCredential, error)
	GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (*PasskeyCredential, error)
	UpdatePasskeySignCount(ctx context.Context, id string, signCount uint32) error
}

// Ensure SQLiteStore implements PasskeyStore.
var _ PasskeyStore = (*SQLiteStore)(nil)

// CreatePasskey stores a new passkey credential.
func (s *SQLiteStore) CreatePasskey(ctx context.Context, cred *PasskeyCredential) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO webauthn_credentials (id, account_id, credential_id, public_key, attestation_type, transports, sign_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cred.ID,
		cred.AccountID,
		cred.CredentialID,
		cred.PublicKey,
		cred.AttestationType,
		nullString(cred.Transports),
		cred.SignCount,
		formatTime(cred.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting passkey: %w", err)
	}

	s.logger.Info("created passkey", "id", cred.ID, "account_id", cred.AccountID)
	return nil
}

const passkeyColumns = `id, account_id, credential_id, public_key, attestation_type, transports, sign_count, created_at`

func scanPasskey(row rowScanner) (*PasskeyCredential, error) {
	var cred PasskeyCredential
	var transports sql.NullString
	var createdAtStr string

	err := row.Scan(
		&cred.ID,
		&cred.AccountID,
		&cred.CredentialID,
		&cred.PublicKey,
		&cred.AttestationType,
		&transports,
		&cred.SignCount,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning passkey: %w", err)
	}

	cred.Transports = transports.String
	if cred.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &cred, nil
}

// ListPasskeys returns all passkeys registered to an account, oldest first.
func (s *SQLiteStore) ListPasskeys(ctx context.Context, accountID string) ([]*PasskeyCredential, error) {
	query := `SELECT ` + passkeyColumns + ` FROM webauthn_credentials WHERE account_id = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying passkeys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*PasskeyCredential
	for rows.Next() {
		cred, err := scanPasskey(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passkeys: %w", err)
	}

	return creds, nil
}

// GetPasskeyByCredentialID retrieves a passkey by its authenticator credential ID.
func (s *SQLiteStore) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (*PasskeyCredential, error) {
	query := `SELECT ` + passkeyColumns + ` FROM webauthn_credentials WHERE credential_id = ?`
	return scanPasskey(s.db.QueryRowContext(ctx, query, credentialID))
}

// UpdatePasskeySignCount records the authenticator's latest signature counter.
func (s *SQLiteStore) UpdatePasskeySignCount(ctx context.Context, id string, signCount uint32) error {
	result, err := s.db.ExecContext(ctx, `UPDATE webauthn_credentials SET sign_count = ? WHERE id = ?`, signCount, id)
	if err != nil {
		return fmt.Errorf("updating passkey sign count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
