// ABOUTME: Tests for identity derivation, passwords, JWT tokens, and the login limiter
// ABOUTME: Table-driven where the inputs vary

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentity = Identity{Suffix: "@tickets.internal", Padding: "_TKT"}

func TestIdentity_InternalEmail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "alice", "alice@tickets.internal"},
		{"mixed case", "Alice", "alice@tickets.internal"},
		{"spaces removed", "Mary Jane Watson", "maryjanewatson@tickets.internal"},
		{"tabs and newlines", "  Bob\tSmith\n", "bobsmith@tickets.internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testIdentity.InternalEmail(tt.in))
		})
	}
}

func TestIdentity_PadPIN(t *testing.T) {
	assert.Equal(t, "1234_TKT", testIdentity.PadPIN("1234"))
}

func TestIdentity_IsAdminEmail(t *testing.T) {
	assert.False(t, testIdentity.IsAdminEmail("alice@tickets.internal"))
	assert.False(t, testIdentity.IsAdminEmail("ALICE@TICKETS.INTERNAL"))
	assert.True(t, testIdentity.IsAdminEmail("admin@example.com"))
	assert.True(t, testIdentity.IsAdminEmail("tickets.internal@example.com"))
}

func TestValidatePIN(t *testing.T) {
	valid := []string{"0000", "1234", "9876"}
	invalid := []string{"", "123", "12345", "12a4", "١٢٣٤", "12 4"}

	for _, pin := range valid {
		assert.NoError(t, ValidatePIN(pin), "pin %q", pin)
	}
	for _, pin := range invalid {
		assert.ErrorIs(t, ValidatePIN(pin), ErrInvalidPIN, "pin %q", pin)
	}
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("1234_TKT")
	require.NoError(t, err)
	assert.NotEqual(t, "1234_TKT", hash)

	assert.NoError(t, CheckPassword(hash, "1234_TKT"))
	assert.ErrorIs(t, CheckPassword(hash, "4321_TKT"), ErrPasswordMismatch)
	assert.ErrorIs(t, CheckPassword("not-a-hash", "x"), ErrPasswordMismatch)
	assert.ErrorIs(t, CheckDummyPassword("anything"), ErrPasswordMismatch)
}

func TestJWTVerifier(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing!")

	_, err := NewJWTVerifier([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)

	verifier, err := NewJWTVerifier(secret)
	require.NoError(t, err)

	token, err := verifier.Generate("acct-123", time.Hour)
	require.NoError(t, err)

	got, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-123", got)

	expired, err := verifier.Generate("acct-123", -time.Hour)
	require.NoError(t, err)
	_, err = verifier.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other, err := NewJWTVerifier([]byte("a-completely-different-secret!!!"))
	require.NoError(t, err)
	foreign, err := other.Generate("acct-123", time.Hour)
	require.NoError(t, err)
	_, err = verifier.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = verifier.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub, err := verifier.Generate("", time.Hour)
	require.NoError(t, err)
	_, err = verifier.Verify(noSub)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestLoginLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLoginLimiter(3)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "attempt %d", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "keys are independent")

	now = now.Add(20 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refilled after 20s")

	now = now.Add(11 * time.Minute)
	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 0, l.size())
}

func TestLoginLimiter_Disabled(t *testing.T) {
	l := NewLoginLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("k"))
	}
}
