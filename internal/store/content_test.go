// ABOUTME: Tests for settings, articles, attachments, passkeys, and audit persistence
// ABOUTME: Uses a fresh SQLite database per test

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()

	_, err := s.GetSetting(ctx, "require_pin")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertSetting(ctx, "require_pin", "false"))
	got, err := s.GetSetting(ctx, "require_pin")
	require.NoError(t, err)
	assert.Equal(t, "false", got.Value)

	require.NoError(t, s.UpsertSetting(ctx, "require_pin", "true"))
	got, err = s.GetSetting(ctx, "require_pin")
	require.NoError(t, err)
	assert.Equal(t, "true", got.Value)
}

func TestArticles(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.CreateArticle(ctx, &Article{ID: "a-1", Title: "Reset VPN", Content: "Steps", Category: "Network", Published: true, CreatedAt: base}))
	require.NoError(t, s.CreateArticle(ctx, &Article{ID: "a-2", Title: "Draft", Content: "WIP", Category: "Misc", Published: false, CreatedAt: base.Add(time.Minute)}))

	published, err := s.ListArticles(ctx, true)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "a-1", published[0].ID)

	all, err := s.ListArticles(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a-2", all[0].ID, "newest first")

	require.NoError(t, s.UpdateArticle(ctx, "a-2", ArticleUpdate{Title: "Final", Content: "Done", Category: "Misc", Published: true}))
	got, err := s.GetArticle(ctx, "a-2")
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Title)
	assert.True(t, got.Published)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	require.NoError(t, s.DeleteArticle(ctx, "a-1"))
	_, err = s.GetArticle(ctx, "a-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteArticle(ctx, "a-1"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateArticle(ctx, "a-1", ArticleUpdate{Title: "x"}), ErrNotFound)
}

func TestAttachments(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()

	att := &Attachment{ID: "att-1", Filename: "log.txt", ContentType: "text/plain", Size: 42, UploaderID: "acct-1", StorageKey: "2026/att-1"}
	require.NoError(t, s.CreateAttachment(ctx, att))

	got, err := s.GetAttachment(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, "log.txt", got.Filename)
	assert.Equal(t, int64(42), got.Size)
	assert.Equal(t, "2026/att-1", got.StorageKey)

	_, err = s.GetAttachment(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPasskeys(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()
	createTestAccount(t, s, "admin-1", "admin@example.com")

	cred := &PasskeyCredential{
		ID:           "pk-1",
		AccountID:    "admin-1",
		CredentialID: []byte{0x01, 0x02, 0x03},
		PublicKey:    []byte{0xaa},
		Transports:   `["internal"]`,
	}
	require.NoError(t, s.CreatePasskey(ctx, cred))
	assert.ErrorIs(t, s.CreatePasskey(ctx, &PasskeyCredential{ID: "pk-2", AccountID: "admin-1", CredentialID: []byte{0x01, 0x02, 0x03}, PublicKey: []byte{0xbb}}), ErrDuplicate)

	list, err := s.ListPasskeys(ctx, "admin-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, `["internal"]`, list[0].Transports)

	got, err := s.GetPasskeyByCredentialID(ctx, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, "pk-1", got.ID)

	require.NoError(t, s.UpdatePasskeySignCount(ctx, "pk-1", 7))
	got, err = s.GetPasskeyByCredentialID(ctx, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.SignCount)

	_, err = s.GetPasskeyByCredentialID(ctx, []byte{0xff})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditLog(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()

	for i, action := range []AuditAction{AuditVerifyUser, AuditTicketStatus, AuditUpdateSetting} {
		entry := &AuditEntry{
			ActorID:    "admin-1",
			Action:     action,
			TargetType: "ticket",
			TargetID:   generateTestID("target", i),
			Timestamp:  time.Now().UTC().Add(time.Duration(i) * time.Second),
			Detail:     map[string]any{"n": i},
		}
		require.NoError(t, s.AppendAuditLog(ctx, entry))
		assert.NotEmpty(t, entry.ID)
	}

	entries, err := s.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, AuditUpdateSetting, entries[0].Action, "newest first")
	assert.Equal(t, float64(2), entries[0].Detail["n"])

	filtered, err := s.ListAuditLog(ctx, AuditFilter{Action: AuditVerifyUser})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "target-a", filtered[0].TargetID)

	none, err := s.ListAuditLog(ctx, AuditFilter{ActorID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}
