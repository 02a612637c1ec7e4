// ABOUTME: Shared test helpers and enum tests for the store package
// ABOUTME: setupTestStore opens a throwaway SQLite database per test

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// createTestAccount inserts an account so foreign keys from profiles,
// sessions, and passkeys resolve.
func createTestAccount(t *testing.T, s Store, id, email string) *Account {
	t.Helper()
	acct := &Account{ID: id, Email: email, PasswordHash: "hash", Name: id}
	require.NoError(t, s.CreateAccount(t.Context(), acct))
	return acct
}

func TestTicketStatus(t *testing.T) {
	assert.Len(t, TicketStatuses, 5)
	for _, s := range TicketStatuses {
		assert.True(t, s.Valid(), "status %q should be valid", s)
	}
	assert.False(t, TicketStatus("deleted").Valid())
	assert.Equal(t, "in progress", StatusInProgress.Label())
	assert.Equal(t, "open", StatusOpen.Label())
}

func TestPriority(t *testing.T) {
	for _, p := range Priorities {
		assert.True(t, p.Valid())
	}
	assert.False(t, Priority("urgent").Valid())
	assert.False(t, Priority("").Valid())
}

func TestValidTheme(t *testing.T) {
	assert.True(t, ValidTheme("system"))
	assert.True(t, ValidTheme("light"))
	assert.True(t, ValidTheme("dark"))
	assert.False(t, ValidTheme("solarized"))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 100, normalizeLimit(-5))
	assert.Equal(t, 25, normalizeLimit(25))
	assert.Equal(t, 1000, normalizeLimit(5000))
}
