// ABOUTME: Profile persistence: display names, theme preferences, and approval state
// ABOUTME: Profiles link to accounts by user_id; unlinked profiles have a NULL user_id

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateProfile creates a profile. An empty ThemePref defaults to system.
// Returns ErrDuplicate if the account already has a profile.
func (s *SQLiteStore) CreateProfile(ctx context.Context, p *Profile) error {
	if err := insertProfile(ctx, s.db, p); err != nil {
		return err
	}
	s.logger.Info("created profile", "id", p.ID, "display_name", p.DisplayName, "linked", p.UserID != "")
	return nil
}

func insertProfile(ctx context.Context, db execer, p *Profile) error {
	if p.ThemePref == "" {
		p.ThemePref = ThemeSystem
	}
	if !ValidTheme(p.ThemePref) {
		return fmt.Errorf("theme %q: %w", p.ThemePref, ErrInvalidValue)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO profiles (id, user_id, display_name, theme_pref, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		p.ID,
		nullString(p.UserID),
		p.DisplayName,
		p.ThemePref,
		boolToInt(p.Verified),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting profile: %w", err)
	}
	return nil
}

const profileColumns = `id, user_id, display_name, theme_pref, verified, created_at`

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var userID sql.NullString
	var verified int
	var createdAtStr string

	err := row.Scan(&p.ID, &userID, &p.DisplayName, &p.ThemePref, &verified, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}

	p.UserID = userID.String
	p.Verified = verified != 0
	p.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

// GetProfile retrieves a profile by ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	return scanProfile(s.db.QueryRowContext(ctx, query, id))
}

// GetProfileByUserID retrieves the profile linked to an account.
func (s *SQLiteStore) GetProfileByUserID(ctx context.Context, userID string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = ?`
	return scanProfile(s.db.QueryRowContext(ctx, query, userID))
}

// GetProfileByDisplayName retrieves the oldest profile with the given display name.
func (s *SQLiteStore) GetProfileByDisplayName(ctx context.Context, name string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE display_name = ? ORDER BY created_at ASC LIMIT 1`
	return scanProfile(s.db.QueryRowContext(ctx, query, name))
}

// ListProfiles returns up to 100 profiles ordered by display name.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles ORDER BY display_name ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(0))
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}

	return profiles, nil
}

// VerifyProfile marks a profile as approved.
func (s *SQLiteStore) VerifyProfile(ctx context.Context, id string) error {
	if err := s.updateProfile(ctx, `UPDATE profiles SET verified = 1 WHERE id = ?`, id); err != nil {
		return err
	}
	s.logger.Info("verified profile", "id", id)
	return nil
}

// UpdateProfileTheme sets a profile's theme preference.
func (s *SQLiteStore) UpdateProfileTheme(ctx context.Context, id, theme string) error {
	if !ValidTheme(theme) {
		return fmt.Errorf("theme %q: %w", theme, ErrInvalidValue)
	}
	return s.updateProfile(ctx, `UPDATE profiles SET theme_pref = ? WHERE id = ?`, theme, id)
}

func (s *SQLiteStore) updateProfile(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return err
		}
		return fmt.Errorf("updating profile: %w", err)
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
