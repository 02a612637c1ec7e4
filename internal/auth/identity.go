// ABOUTME: Naming convention mapping helpdesk users onto email/password accounts
// ABOUTME: Users log in with a display name and 4-digit PIN; admins use a real email

package auth

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidPIN is returned when a PIN is not exactly four digits.
var ErrInvalidPIN = errors.New("PIN must be exactly 4 digits")

// PINLength is the number of digits in a user PIN.
const PINLength = 4

// Identity derives account credentials from a user's name and PIN.
// Accounts whose email ends in Suffix are users; every other account is an admin.
type Identity struct {
	Suffix  string // e.g. "@tickets.internal"
	Padding string // appended to the PIN to form the password, e.g. "_TKT"
}

// InternalEmail returns the synthetic email for a display name: whitespace
// removed, lowercased, plus the internal suffix.
func (id Identity) InternalEmail(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	b.WriteString(strings.ToLower(id.Suffix))
	return b.String()
}

// PadPIN turns a PIN into the account password.
func (id Identity) PadPIN(pin string) string {
	return pin + id.Padding
}

// IsAdminEmail reports whether email belongs to an admin account.
func (id Identity) IsAdminEmail(email string) bool {
	return !strings.HasSuffix(strings.ToLower(email), strings.ToLower(id.Suffix))
}

// ValidatePIN checks that pin is exactly four ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) != PINLength {
		return ErrInvalidPIN
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}
