// ABOUTME: Tests for the JSON API routed through a real ServeMux, service, and SQLite store
// ABOUTME: Covers login, token auth, tickets, idempotent creates, uploads, articles, and settings

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk/internal/attachments"
	"github.com/2389/helpdesk/internal/auth"
	"github.com/2389/helpdesk/internal/dedupe"
	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testAPI struct {
	t   *testing.T
	mux *http.ServeMux
	svc *helpdesk.Service
}

func newTestAPI(t *testing.T, loginRate int) *testAPI {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	blobs, err := attachments.NewLocalBlobs(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	svc := helpdesk.New(helpdesk.Options{Store: st, Blobs: blobs, MaxUploadBytes: 32})

	tokens, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)

	cache := dedupe.New(time.Hour, 100)
	t.Cleanup(cache.Close)

	h := New(Config{
		Service:     svc,
		Accounts:    st,
		Tokens:      tokens,
		Limiter:     auth.NewLoginLimiter(loginRate),
		Idempotency: cache,
	})
	mux := http.NewServeMux()
	h.Register(mux)

	return &testAPI{t: t, mux: mux, svc: svc}
}

func (a *testAPI) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, rec)["error"]
}

func (a *testAPI) login(body LoginRequest) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/login", "", body)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[LoginResponse](a.t, rec).Token
}

func (a *testAPI) seedAdmin() string {
	a.t.Helper()
	_, err := a.svc.CreateAdmin(a.t.Context(), nil, "admin@example.com", "correct-horse", "Admin")
	require.NoError(a.t, err)
	return a.login(LoginRequest{Email: "admin@example.com", Password: "correct-horse"})
}

// seedUser registers name and returns its profile ID and API token.
func (a *testAPI) seedUser(name string) (string, string) {
	a.t.Helper()
	login, err := a.svc.Register(a.t.Context(), name, "1234")
	require.NoError(a.t, err)
	return login.Viewer.Profile.ID, a.login(LoginRequest{Name: name, PIN: "1234"})
}

func TestLogin(t *testing.T) {
	a := newTestAPI(t, 0)
	a.seedAdmin()
	profileID, _ := a.seedUser("Dana")

	rec := a.do(http.MethodPost, "/api/v1/login", "", LoginRequest{ProfileID: profileID, PIN: "1234"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LoginResponse](t, rec)
	assert.NotEmpty(t, resp.Token)
	assert.False(t, resp.IsAdmin)

	rec = a.do(http.MethodPost, "/api/v1/login", "", LoginRequest{Email: "admin@example.com", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[LoginResponse](t, rec).IsAdmin)

	tests := []struct {
		name   string
		body   LoginRequest
		status int
	}{
		{"wrong pin", LoginRequest{Name: "Dana", PIN: "9999"}, http.StatusUnauthorized},
		{"short pin", LoginRequest{Name: "Dana", PIN: "12"}, http.StatusBadRequest},
		{"unknown user", LoginRequest{Name: "Nobody", PIN: "1234"}, http.StatusNotFound},
		{"wrong admin password", LoginRequest{Email: "admin@example.com", Password: "nope"}, http.StatusUnauthorized},
		{"user via admin login", LoginRequest{Email: "dana@tickets.internal", Password: "1234_TKT"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/api/v1/login", "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, errorOf(t, rec))
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	a := newTestAPI(t, 2)

	for i := 0; i < 2; i++ {
		rec := a.do(http.MethodPost, "/api/v1/login", "", LoginRequest{Name: "Ghost", PIN: "1234"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := a.do(http.MethodPost, "/api/v1/login", "", LoginRequest{Name: "Ghost", PIN: "1234"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t, 0)

	rec := a.do(http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/tickets", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	a := newTestAPI(t, 0)
	_, token := a.seedUser("Mary Jane")

	rec := a.do(http.MethodGet, "/api/v1/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[MeResponse](t, rec)
	assert.Equal(t, "maryjane@tickets.internal", me.Email)
	assert.Equal(t, "Mary Jane", me.DisplayName)
	assert.False(t, me.IsAdmin)
	assert.False(t, me.Verified)
	require.NotNil(t, me.Profile)
	assert.Equal(t, "system", me.Profile.ThemePref)
}

func TestTicketFlow(t *testing.T) {
	a := newTestAPI(t, 0)
	adminToken := a.seedAdmin()
	profileID, userToken := a.seedUser("Alice")
	_, otherToken := a.seedUser("Bob")

	create := CreateTicketRequest{Title: "Printer on fire", Description: "Smoke", Priority: "high"}

	rec := a.do(http.MethodPost, "/api/v1/tickets", userToken, create)
	assert.Equal(t, http.StatusForbidden, rec.Code, "unverified users cannot file tickets")

	rec = a.do(http.MethodPost, "/api/v1/profiles/"+profileID+"/verify", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(http.MethodPost, "/api/v1/profiles/"+profileID+"/verify", adminToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/tickets", userToken, create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ticket := decode[TicketResponse](t, rec)
	assert.Equal(t, "open", ticket.Status)
	assert.Equal(t, "high", ticket.Priority)
	assert.Equal(t, []string{}, ticket.Attachments)

	rec = a.do(http.MethodGet, "/api/v1/tickets", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TicketResponse](t, rec), 1)

	rec = a.do(http.MethodGet, "/api/v1/tickets", otherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]TicketResponse](t, rec))

	rec = a.do(http.MethodGet, "/api/v1/tickets/"+ticket.ID, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(http.MethodGet, "/api/v1/tickets/missing", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = a.do(http.MethodGet, "/api/v1/tickets?status=bogus", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPut, "/api/v1/tickets/"+ticket.ID+"/status", userToken, StatusRequest{Status: "closed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(http.MethodPut, "/api/v1/tickets/"+ticket.ID+"/status", adminToken, StatusRequest{Status: "waiting"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "waiting", decode[TicketResponse](t, rec).Status)

	rec = a.do(http.MethodPost, "/api/v1/tickets/"+ticket.ID+"/messages", userToken, SendMessageRequest{Content: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/tickets/"+ticket.ID+"/messages", userToken, SendMessageRequest{Content: "Still smoking"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = a.do(http.MethodPost, "/api/v1/tickets/"+ticket.ID+"/messages", adminToken, SendMessageRequest{Content: "On my way"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/tickets/"+ticket.ID+"/messages", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]MessageResponse](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Alice", msgs[0].SenderName)
	assert.Equal(t, "Admin", msgs[1].SenderName)
}

func TestIdempotentCreate(t *testing.T) {
	a := newTestAPI(t, 0)
	adminToken := a.seedAdmin()

	body := CreateTicketRequest{Title: "Once"}
	first := a.do(http.MethodPost, "/api/v1/tickets", adminToken, body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	second := a.do(http.MethodPost, "/api/v1/tickets", adminToken, body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decode[TicketResponse](t, first).ID, decode[TicketResponse](t, second).ID)

	rec := a.do(http.MethodGet, "/api/v1/tickets", adminToken, nil)
	assert.Len(t, decode[[]TicketResponse](t, rec), 1)

	// A failed request does not pin the key.
	bad := a.do(http.MethodPost, "/api/v1/tickets", adminToken, CreateTicketRequest{}, "Idempotency-Key", "retry-me")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	good := a.do(http.MethodPost, "/api/v1/tickets", adminToken, CreateTicketRequest{Title: "Fixed"}, "Idempotency-Key", "retry-me")
	assert.Equal(t, http.StatusCreated, good.Code)
	assert.Empty(t, good.Header().Get("Idempotent-Replayed"))

	rec = a.do(http.MethodPost, "/api/v1/tickets", adminToken, body, "Idempotency-Key", strings.Repeat("k", 300))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (a *testAPI) upload(token, field, filename, content string) *httptest.ResponseRecorder {
	body, contentType := multipartBody(a.t, field, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func TestAttachments(t *testing.T) {
	a := newTestAPI(t, 0)
	adminToken := a.seedAdmin()
	_, userToken := a.seedUser("Uploader")

	rec := a.upload(userToken, "file", "notes.txt", "hello attachments")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	att := decode[AttachmentResponse](t, rec)
	assert.Equal(t, "notes.txt", att.Filename)
	assert.Equal(t, int64(len("hello attachments")), att.Size)

	rec = a.do(http.MethodGet, "/api/v1/attachments/"+att.ID, userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello attachments", rec.Body.String())
	assert.Equal(t, `attachment; filename=notes.txt`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = a.do(http.MethodGet, "/api/v1/attachments/"+att.ID, adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, otherToken := a.seedUser("Snoop")
	rec = a.do(http.MethodGet, "/api/v1/attachments/"+att.ID, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.upload(userToken, "file", "big.bin", strings.Repeat("x", 33))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = a.upload(userToken, "other", "x.txt", "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/attachments", userToken, map[string]string{"not": "multipart"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArticles(t *testing.T) {
	a := newTestAPI(t, 0)
	adminToken := a.seedAdmin()
	_, userToken := a.seedUser("Reader")

	rec := a.do(http.MethodPost, "/api/v1/articles", userToken, ArticleRequest{Title: "Nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/articles", adminToken, ArticleRequest{Title: "Reset VPN", Content: "Use the **client**", Category: "Network"})
	require.Equal(t, http.StatusCreated, rec.Code)
	vpn := decode[ArticleResponse](t, rec)
	assert.True(t, vpn.Published, "published defaults to true")

	draft := false
	rec = a.do(http.MethodPost, "/api/v1/articles", adminToken, ArticleRequest{Title: "Printer", Content: "Toner", Category: "Hardware", Published: &draft})
	require.Equal(t, http.StatusCreated, rec.Code)
	printer := decode[ArticleResponse](t, rec)

	rec = a.do(http.MethodGet, "/api/v1/articles", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ArticleResponse](t, rec), 1)

	rec = a.do(http.MethodGet, "/api/v1/articles", adminToken, nil)
	assert.Len(t, decode[[]ArticleResponse](t, rec), 2)

	rec = a.do(http.MethodGet, "/api/v1/articles?q=TONER", adminToken, nil)
	found := decode[[]ArticleResponse](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, printer.ID, found[0].ID)

	rec = a.do(http.MethodGet, "/api/v1/articles?category=network", adminToken, nil)
	assert.Len(t, decode[[]ArticleResponse](t, rec), 1)

	rec = a.do(http.MethodGet, "/api/v1/articles/"+printer.ID, userToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "drafts are hidden from users")

	published := true
	rec = a.do(http.MethodPut, "/api/v1/articles/"+printer.ID, adminToken, ArticleRequest{Title: "Printer", Content: "Toner", Published: &published})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodGet, "/api/v1/articles/"+printer.ID, userToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodDelete, "/api/v1/articles/"+vpn.ID, adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodDelete, "/api/v1/articles/"+vpn.ID, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettings(t *testing.T) {
	a := newTestAPI(t, 0)
	adminToken := a.seedAdmin()
	_, userToken := a.seedUser("Casey")

	rec := a.do(http.MethodGet, "/api/v1/settings/require_pin", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, SettingResponse{Key: "require_pin"}, decode[SettingResponse](t, rec))

	rec = a.do(http.MethodPut, "/api/v1/settings/require_pin", userToken, SettingRequest{Value: "false"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPut, "/api/v1/settings/require_pin", adminToken, SettingRequest{Value: "false"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/settings/require_pin", userToken, nil)
	assert.Equal(t, SettingResponse{Key: "require_pin", Value: "false", Set: true}, decode[SettingResponse](t, rec))

	// With the PIN requirement off, any PIN (or none) signs the user in.
	rec = a.do(http.MethodPost, "/api/v1/login", "", LoginRequest{Name: "Casey"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProfilesAndTheme(t *testing.T) {
	a := newTestAPI(t, 0)
	adminToken := a.seedAdmin()
	aliceID, aliceToken := a.seedUser("Alice")
	bobID, _ := a.seedUser("Bob")

	rec := a.do(http.MethodGet, "/api/v1/profiles", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profiles := decode[[]ProfileResponse](t, rec)
	require.Len(t, profiles, 2)
	assert.Equal(t, "Alice", profiles[0].DisplayName)

	rec = a.do(http.MethodPut, "/api/v1/profiles/"+aliceID+"/theme", aliceToken, map[string]string{"theme": "dark"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodPut, "/api/v1/profiles/"+bobID+"/theme", aliceToken, map[string]string{"theme": "dark"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(http.MethodPut, "/api/v1/profiles/"+aliceID+"/theme", aliceToken, map[string]string{"theme": "neon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(http.MethodPut, "/api/v1/profiles/"+bobID+"/theme", adminToken, map[string]string{"theme": "light"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/me", aliceToken, nil)
	assert.Equal(t, "dark", decode[MeResponse](t, rec).Profile.ThemePref)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{helpdesk.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("%w: title", helpdesk.ErrInvalidInput), http.StatusBadRequest},
		{helpdesk.ErrEmptyMessage, http.StatusBadRequest},
		{helpdesk.ErrUnauthenticated, http.StatusUnauthorized},
		{helpdesk.ErrInvalidCredentials, http.StatusUnauthorized},
		{helpdesk.ErrForbidden, http.StatusForbidden},
		{helpdesk.ErrNotVerified, http.StatusForbidden},
		{helpdesk.ErrNotFound, http.StatusNotFound},
		{helpdesk.ErrUserNotFound, http.StatusNotFound},
		{helpdesk.ErrNameTaken, http.StatusConflict},
		{helpdesk.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
