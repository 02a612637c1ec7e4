// ABOUTME: Tests for the server orchestrator
// ABOUTME: Runs the full wiring on a loopback port and checks health, readiness, metrics, and routing

package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/helpdesk/internal/config"
	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/web"
)

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := ln.Addr().String()
	ln.Close()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.HTTPAddr = httpAddr
	cfg.Database.Path = filepath.Join(dir, "helpdesk.db")
	cfg.Storage.Dir = filepath.Join(dir, "attachments")
	cfg.Auth.JWTSecret = strings.Repeat("s", 32)
	cfg.Metrics.Enabled = true
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a server until the test ends and waits for it to answer.
func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	srv, err := New(t.Context(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down in time")
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err == nil {
			resp.Body.Close()
			return srv
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server did not start listening")
	return nil
}

func get(t *testing.T, cfg *config.Config, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServerNew(t *testing.T) {
	cfg := testConfig(t)

	srv, err := New(t.Context(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer srv.Close()

	if srv.config != cfg {
		t.Error("server config mismatch")
	}
	if srv.service == nil || srv.web == nil || srv.events == nil {
		t.Error("service, web, and events should be wired")
	}
	if srv.metrics == nil {
		t.Error("metrics should be enabled")
	}
	if srv.baseURL != "http://"+cfg.Server.HTTPAddr {
		t.Errorf("baseURL = %q", srv.baseURL)
	}
}

func TestServerNew_BadStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "floppy"
	cfg.Storage.Dir = ""

	if _, err := New(t.Context(), cfg, testLogger()); err == nil {
		t.Fatal("expected error for unusable attachment storage")
	}
}

func TestHealthEndpoints(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg)

	if status, body := get(t, cfg, "/health"); status != http.StatusOK || body != "OK" {
		t.Errorf("health = %d %q, want 200 OK", status, body)
	}
	if status, body := get(t, cfg, "/health/ready"); status != http.StatusOK || body != "ready" {
		t.Errorf("ready = %d %q, want 200 ready", status, body)
	}
}

func TestReadyEndpoint_StoreClosed(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(t.Context(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	srv.Close()

	rec := &recorder{header: http.Header{}}
	req, _ := http.NewRequest(http.MethodGet, "/health/ready", nil)
	srv.handleReady(rec, req)
	if rec.status != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503 after the store is closed", rec.status)
	}
}

// recorder is a minimal ResponseWriter for calling handlers directly.
type recorder struct {
	header http.Header
	status int
	body   strings.Builder
}

func (r *recorder) Header() http.Header         { return r.header }
func (r *recorder) WriteHeader(code int)        { r.status = code }
func (r *recorder) Write(b []byte) (int, error) { return r.body.Write(b) }

func TestRoutesAreMounted(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg)

	if status, body := get(t, cfg, "/login"); status != http.StatusOK || !strings.Contains(body, "Sign in") {
		t.Errorf("GET /login = %d", status)
	}
	if status, _ := get(t, cfg, "/api/v1/me"); status != http.StatusUnauthorized {
		t.Errorf("GET /api/v1/me without a token = %d, want 401", status)
	}
	if status, _ := get(t, cfg, "/kb"); status != http.StatusOK {
		t.Errorf("GET /kb = %d, want 200", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg)

	get(t, cfg, "/login")
	status, body := get(t, cfg, "/metrics")
	if status != http.StatusOK {
		t.Fatalf("metrics status = %d", status)
	}
	if !strings.Contains(body, "helpdesk_http_requests_total") {
		t.Error("metrics output missing helpdesk_http_requests_total")
	}
	if !strings.Contains(body, `route="GET /login"`) {
		t.Error("requests should be labelled by route pattern")
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	startServer(t, cfg)

	if status, _ := get(t, cfg, "/metrics"); status != http.StatusNotFound {
		t.Errorf("metrics status = %d, want 404 when disabled", status)
	}
}

func TestDetermineBaseURL(t *testing.T) {
	logger := testLogger()

	tests := []struct {
		name string
		cfg  config.Config
		env  string
		want string
	}{
		{
			name: "explicit",
			cfg:  config.Config{Server: config.ServerConfig{BaseURL: "https://help.example.com", HTTPAddr: ":8080"}},
			want: "https://help.example.com",
		},
		{
			name: "env",
			cfg:  config.Config{Server: config.ServerConfig{HTTPAddr: ":8080"}},
			env:  "https://help.tailnet.ts.net",
			want: "https://help.tailnet.ts.net",
		},
		{
			name: "port only",
			cfg:  config.Config{Server: config.ServerConfig{HTTPAddr: ":8080"}},
			want: "http://localhost:8080",
		},
		{
			name: "tailscale https",
			cfg:  config.Config{Tailscale: config.TailscaleConfig{Enabled: true, Hostname: "helpdesk", HTTPS: true}},
			want: "https://helpdesk",
		},
		{
			name: "tailscale plain",
			cfg:  config.Config{Tailscale: config.TailscaleConfig{Enabled: true, Hostname: "helpdesk"}},
			want: "http://helpdesk",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HELPDESK_URL", tt.env)
			if got := determineBaseURL(&tt.cfg, logger); got != tt.want {
				t.Errorf("determineBaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	if _, err := resolveTailscaleAuthKey(""); err == nil {
		t.Error("expected error without a key")
	}
	if key, err := resolveTailscaleAuthKey("tskey-config"); err != nil || key != "tskey-config" {
		t.Errorf("configured key = %q, %v", key, err)
	}
	t.Setenv("TS_AUTHKEY", "tskey-env")
	if key, err := resolveTailscaleAuthKey(""); err != nil || key != "tskey-env" {
		t.Errorf("env key = %q, %v", key, err)
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	if dir, err := resolveTailscaleStateDir("/var/lib/helpdesk"); err != nil || dir != "/var/lib/helpdesk" {
		t.Errorf("configured dir = %q, %v", dir, err)
	}
	dir, err := resolveTailscaleStateDir("")
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	if !strings.HasSuffix(dir, filepath.Join("helpdesk", "tailscale")) {
		t.Errorf("default dir = %q", dir)
	}
}

func TestRunStopsWithOpenTicketStream(t *testing.T) {
	cfg := testConfig(t)

	srv, err := New(t.Context(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(20 * time.Millisecond)
	}

	svc := srv.Service()
	if _, err := svc.CreateAdmin(t.Context(), nil, "admin@example.com", "correct-horse", "Admin"); err != nil {
		t.Fatalf("CreateAdmin() failed: %v", err)
	}
	login, err := svc.LoginAdmin(t.Context(), "admin@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("LoginAdmin() failed: %v", err)
	}
	ticket, err := svc.CreateTicket(t.Context(), login.Viewer, helpdesk.TicketInput{Title: "Printer on fire"})
	if err != nil {
		t.Fatalf("CreateTicket() failed: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, "http://"+cfg.Server.HTTPAddr+"/tickets/"+ticket.ID+"/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(&http.Cookie{Name: web.SessionCookieName, Value: login.Token})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want 200", resp.StatusCode)
	}
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || line != "event: connected\n" {
		t.Fatalf("first stream line = %q, %v", line, err)
	}

	start := time.Now()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("shutdown took %v with a stream open", elapsed)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
