// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows handler and service tests to run without SQLite

package store

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	seq         int64 // insertion order, used as a tiebreaker when timestamps collide
	accounts    map[string]*Account
	sessions    map[string]*Session
	profiles    map[string]*Profile
	tickets     map[string]*Ticket
	messages    map[string][]*Message // keyed by ticket ID
	settings    map[string]*Setting
	articles    map[string]*Article
	attachments map[string]*Attachment
	passkeys    map[string]*PasskeyCredential
	audit       []AuditEntry
	order       map[string]int64
}

// Ensure MockStore implements Store and PasskeyStore.
var (
	_ Store        = (*MockStore)(nil)
	_ PasskeyStore = (*MockStore)(nil)
)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts:    make(map[string]*Account),
		sessions:    make(map[string]*Session),
		profiles:    make(map[string]*Profile),
		tickets:     make(map[string]*Ticket),
		messages:    make(map[string][]*Message),
		settings:    make(map[string]*Setting),
		articles:    make(map[string]*Article),
		attachments: make(map[string]*Attachment),
		passkeys:    make(map[string]*PasskeyCredential),
		order:       make(map[string]int64),
	}
}

func (m *MockStore) stamp(id string) {
	m.seq++
	m.order[id] = m.seq
}

// CreateAccount stores a new account.
func (m *MockStore) CreateAccount(ctx context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAccount(acct); err != nil {
		return err
	}
	m.putAccount(acct)
	return nil
}

// CreateUser stores an account and its linked profile, or neither.
func (m *MockStore) CreateUser(ctx context.Context, acct *Account, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAccount(acct); err != nil {
		return err
	}
	p.UserID = acct.ID
	if err := m.checkProfile(p); err != nil {
		return err
	}
	m.putAccount(acct)
	m.putProfile(p)
	return nil
}

func (m *MockStore) checkAccount(acct *Account) error {
	acct.Email = strings.ToLower(acct.Email)
	for _, a := range m.accounts {
		if a.Email == acct.Email {
			return ErrDuplicate
		}
	}
	return nil
}

func (m *MockStore) putAccount(acct *Account) {
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	a := *acct
	m.accounts[a.ID] = &a
}

// GetAccount retrieves an account by ID.
func (m *MockStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// GetAccountByEmail retrieves an account by email.
func (m *MockStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, a := range m.accounts {
		if a.Email == email {
			result := *a
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateAccountPassword replaces an account's password hash.
func (m *MockStore) UpdateAccountPassword(ctx context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	return nil
}

// CountAdminAccounts counts accounts whose email lacks the internal suffix.
func (m *MockStore) CountAdminAccounts(ctx context.Context, internalSuffix string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	suffix := strings.ToLower(internalSuffix)
	count := 0
	for _, a := range m.accounts {
		if !strings.HasSuffix(a.Email, suffix) {
			count++
		}
	}
	return count, nil
}

// CreateSession stores a session.
func (m *MockStore) CreateSession(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	s := *sess
	m.sessions[s.ID] = &s
	return nil
}

// GetSession retrieves a non-expired session.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	result := *s
	return &result, nil
}

// DeleteSession removes a session.
func (m *MockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// DeleteExpiredSessions removes expired sessions.
func (m *MockStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	now := time.Now()
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// CreateProfile stores a profile.
func (m *MockStore) CreateProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkProfile(p); err != nil {
		return err
	}
	m.putProfile(p)
	return nil
}

func (m *MockStore) checkProfile(p *Profile) error {
	if p.ThemePref == "" {
		p.ThemePref = ThemeSystem
	}
	if !ValidTheme(p.ThemePref) {
		return ErrInvalidValue
	}
	if p.UserID != "" {
		for _, existing := range m.profiles {
			if existing.UserID == p.UserID {
				return ErrDuplicate
			}
		}
	}
	return nil
}

func (m *MockStore) putProfile(p *Profile) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	m.profiles[cp.ID] = &cp
	m.stamp(cp.ID)
}

// GetProfile retrieves a profile by ID.
func (m *MockStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// GetProfileByUserID retrieves the profile linked to an account.
func (m *MockStore) GetProfileByUserID(ctx context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.profiles {
		if userID != "" && p.UserID == userID {
			result := *p
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// GetProfileByDisplayName retrieves the oldest profile with the given name.
func (m *MockStore) GetProfileByDisplayName(ctx context.Context, name string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *Profile
	for _, p := range m.profiles {
		if p.DisplayName != name {
			continue
		}
		if found == nil || m.order[p.ID] < m.order[found.ID] {
			found = p
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	result := *found
	return &result, nil
}

// ListProfiles returns up to 100 profiles ordered by display name.
func (m *MockStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].DisplayName != result[j].DisplayName {
			return result[i].DisplayName < result[j].DisplayName
		}
		return m.order[result[i].ID] < m.order[result[j].ID]
	})
	if len(result) > 100 {
		result = result[:100]
	}
	return result, nil
}

// VerifyProfile marks a profile as approved.
func (m *MockStore) VerifyProfile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.Verified = true
	return nil
}

// UpdateProfileTheme sets a profile's theme preference.
func (m *MockStore) UpdateProfileTheme(ctx context.Context, id, theme string) error {
	if !ValidTheme(theme) {
		return ErrInvalidValue
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.ThemePref = theme
	return nil
}

// CreateTicket stores a ticket with status open.
func (m *MockStore) CreateTicket(ctx context.Context, t *Ticket) error {
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if !t.Priority.Valid() {
		return ErrInvalidValue
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tickets[t.ID]; exists {
		return ErrDuplicate
	}
	t.Status = StatusOpen
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	cp := *t
	cp.Attachments = append([]string(nil), t.Attachments...)
	m.tickets[cp.ID] = &cp
	m.stamp(cp.ID)
	return nil
}

// GetTicket retrieves a ticket by ID.
func (m *MockStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	result.Attachments = append([]string(nil), t.Attachments...)
	return &result, nil
}

// ListTickets returns tickets matching the filter, newest first.
func (m *MockStore) ListTickets(ctx context.Context, f TicketFilter) ([]*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Ticket
	for _, t := range m.tickets {
		if f.OwnerID != "" && t.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return m.order[result[i].ID] > m.order[result[j].ID]
	})
	if limit := normalizeLimit(f.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateTicketStatus writes a new status.
func (m *MockStore) UpdateTicketStatus(ctx context.Context, id string, status TicketStatus) error {
	if !status.Valid() {
		return ErrInvalidValue
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateMessage appends a message to a ticket.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tickets[msg.TicketID]; !ok {
		return ErrNotFound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	cp.Attachments = append([]string(nil), msg.Attachments...)
	m.messages[cp.TicketID] = append(m.messages[cp.TicketID], &cp)
	return nil
}

// ListMessages returns messages on a ticket, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, ticketID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[ticketID]
	result := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		cp := *msg
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// GetSetting retrieves a setting.
func (m *MockStore) GetSetting(ctx context.Context, key string) (*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[key]
	if !ok {
		return nil, ErrNotFound
	}
	result := *s
	return &result, nil
}

// UpsertSetting creates or replaces a setting.
func (m *MockStore) UpsertSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = &Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// CreateArticle stores an article.
func (m *MockStore) CreateArticle(ctx context.Context, a *Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.articles[a.ID]; exists {
		return ErrDuplicate
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.articles[cp.ID] = &cp
	m.stamp(cp.ID)
	return nil
}

// GetArticle retrieves an article.
func (m *MockStore) GetArticle(ctx context.Context, id string) (*Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.articles[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// ListArticles returns articles newest first.
func (m *MockStore) ListArticles(ctx context.Context, publishedOnly bool) ([]*Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Article
	for _, a := range m.articles {
		if publishedOnly && !a.Published {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return m.order[result[i].ID] > m.order[result[j].ID]
	})
	return result, nil
}

// UpdateArticle replaces an article's editable fields.
func (m *MockStore) UpdateArticle(ctx context.Context, id string, u ArticleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.articles[id]
	if !ok {
		return ErrNotFound
	}
	a.Title = u.Title
	a.Content = u.Content
	a.Category = u.Category
	a.Published = u.Published
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteArticle removes an article.
func (m *MockStore) DeleteArticle(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.articles[id]; !ok {
		return ErrNotFound
	}
	delete(m.articles, id)
	return nil
}

// CreateAttachment records an attachment.
func (m *MockStore) CreateAttachment(ctx context.Context, a *Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	m.attachments[cp.ID] = &cp
	return nil
}

// GetAttachment retrieves attachment metadata.
func (m *MockStore) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attachments[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// CreatePasskey stores a passkey.
func (m *MockStore) CreatePasskey(ctx context.Context, cred *PasskeyCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.passkeys {
		if bytes.Equal(c.CredentialID, cred.CredentialID) {
			return ErrDuplicate
		}
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	cp := *cred
	m.passkeys[cp.ID] = &cp
	m.stamp(cp.ID)
	return nil
}

// ListPasskeys returns an account's passkeys.
func (m *MockStore) ListPasskeys(ctx context.Context, accountID string) ([]*PasskeyCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*PasskeyCredential
	for _, c := range m.passkeys {
		if c.AccountID == accountID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.order[result[i].ID] < m.order[result[j].ID]
	})
	return result, nil
}

// GetPasskeyByCredentialID retrieves a passkey by credential ID.
func (m *MockStore) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (*PasskeyCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.passkeys {
		if bytes.Equal(c.CredentialID, credentialID) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdatePasskeySignCount records a new signature counter.
func (m *MockStore) UpdatePasskeySignCount(ctx context.Context, id string, signCount uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.passkeys[id]
	if !ok {
		return ErrNotFound
	}
	c.SignCount = signCount
	return nil
}

// AppendAuditLog records an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching audit entries, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.TargetType != "" && e.TargetType != f.TargetType {
			continue
		}
		if f.TargetID != "" && e.TargetID != f.TargetID {
			continue
		}
		entries = append(entries, e)
		if len(entries) >= normalizeLimit(f.Limit) {
			break
		}
	}
	return entries, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
