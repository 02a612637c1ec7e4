// ABOUTME: Server orchestrator that wires the store, service, web UI, and JSON API
// ABOUTME: Manages the HTTP listener (TCP or tailnet), background loops, and health endpoints

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/helpdesk/internal/api"
	"github.com/2389/helpdesk/internal/attachments"
	"github.com/2389/helpdesk/internal/auth"
	"github.com/2389/helpdesk/internal/config"
	"github.com/2389/helpdesk/internal/dedupe"
	"github.com/2389/helpdesk/internal/events"
	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/metrics"
	"github.com/2389/helpdesk/internal/notify"
	"github.com/2389/helpdesk/internal/store"
	"github.com/2389/helpdesk/internal/web"
)

// sessionPurgeInterval is how often expired sessions are deleted.
const sessionPurgeInterval = time.Hour

// Server runs the help desk: one HTTP listener serving the UI, the API,
// health checks, and optionally metrics.
type Server struct {
	config      *config.Config
	store       *store.SQLiteStore
	service     *helpdesk.Service
	events      *events.Broadcaster
	web         *web.Web
	limiter     *auth.LoginLimiter
	idempotency *dedupe.Cache
	metrics     *metrics.Metrics
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// baseURL is the external URL, used for passkeys and notification links.
	baseURL string
}

// determineBaseURL resolves the external base URL from config or environment.
func determineBaseURL(cfg *config.Config, logger *slog.Logger) string {
	if cfg.Server.BaseURL != "" {
		return cfg.Server.BaseURL
	}

	// HELPDESK_URL includes the full tailnet DNS name when set
	if envURL := os.Getenv("HELPDESK_URL"); envURL != "" {
		return envURL
	}

	if !cfg.Tailscale.Enabled {
		host := cfg.Server.HTTPAddr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		return "http://" + host
	}

	if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
		logger.Warn("server.base_url/HELPDESK_URL not set - passkeys may fail. Set HELPDESK_URL to the full tailnet URL (e.g., https://helpdesk.your-tailnet.ts.net)")
		return "https://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Tailscale.Hostname
}

// initStore opens the SQLite store. HELPDESK_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("HELPDESK_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.Open(cfg.Database.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initBlobs creates attachment storage for the configured backend.
func initBlobs(ctx context.Context, cfg config.StorageConfig) (attachments.Blobs, error) {
	switch cfg.Backend {
	case "s3":
		blobs, err := attachments.NewS3Blobs(ctx, attachments.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing s3 storage: %w", err)
		}
		return blobs, nil
	case "local":
		blobs, err := attachments.NewLocalBlobs(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("initializing local storage: %w", err)
		}
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// initNotifier always logs notifications and also posts them to Matrix when enabled.
func initNotifier(cfg *config.Config, baseURL string, logger *slog.Logger) (notify.Notifier, error) {
	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}

	if m := cfg.Notifications.Matrix; m.Enabled {
		mx, err := notify.NewMatrixNotifier(notify.MatrixConfig{
			Homeserver:  m.Homeserver,
			UserID:      m.UserID,
			AccessToken: m.AccessToken,
			RoomID:      m.RoomID,
			BaseURL:     baseURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, mx)
		logger.Info("matrix notifications enabled", "room_id", m.RoomID)
	}
	return notify.NewMulti(logger, notifiers...), nil
}

// New creates a Server from cfg. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	srv, err := newServer(ctx, cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return srv, nil
}

func newServer(ctx context.Context, cfg *config.Config, s *store.SQLiteStore, logger *slog.Logger) (*Server, error) {
	blobs, err := initBlobs(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	baseURL := determineBaseURL(cfg, logger)
	notifier, err := initNotifier(cfg, baseURL, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	srv := &Server{
		config:      cfg,
		store:       s,
		events:      events.NewBroadcaster(logger.With("component", "events")),
		limiter:     auth.NewLoginLimiter(cfg.Auth.LoginRate),
		idempotency: dedupe.New(10*time.Minute, 10_000),
		logger:      logger.With("component", "server"),
		baseURL:     baseURL,
	}

	opts := helpdesk.Options{
		Store:    s,
		Blobs:    blobs,
		Notifier: notifier,
		Events:   srv.events,
		Identity: auth.Identity{
			Suffix:  cfg.Auth.InternalEmailSuffix,
			Padding: cfg.Auth.PINPadding,
		},
		SessionTTL:     cfg.Auth.SessionDuration,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		Logger:         logger,
	}
	if cfg.Metrics.Enabled {
		srv.metrics = metrics.New(metrics.NewRegistry())
		opts.Metrics = srv.metrics
	}
	srv.service = helpdesk.New(opts)

	webCfg := web.Config{
		Service:  srv.service,
		Events:   srv.events,
		Passkeys: s,
		Limiter:  srv.limiter,
		BaseURL:  baseURL,
		Logger:   logger,
	}
	if srv.metrics != nil {
		webCfg.Observer = srv.metrics
	}
	srv.web = web.New(webCfg)

	apiHandler := api.New(api.Config{
		Service:     srv.service,
		Accounts:    s,
		Tokens:      tokens,
		TokenTTL:    cfg.Auth.APITokenTTL,
		Limiter:     srv.limiter,
		Idempotency: srv.idempotency,
		Logger:      logger,
	})

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("GET /health/ready", srv.handleReady)

	apiHandler.Register(mux)
	srv.web.RegisterRoutes(mux)

	var handler http.Handler = mux
	if srv.metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, srv.metrics.Handler())
		handler = srv.metrics.Middleware(mux)
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("help desk configured", "base_url", baseURL, "storage", cfg.Storage.Backend)
	return srv, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Service returns the help desk service, for CLI tasks that share the wiring.
func (s *Server) Service() *helpdesk.Service {
	return s.service
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	s.logger.Info("starting help desk", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run serves until ctx is canceled, then shuts down gracefully.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go s.limiter.Run(bgCtx)
	go s.purgeSessions(bgCtx, sessionPurgeInterval)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// purgeSessions deletes expired sessions on every tick until ctx is canceled.
func (s *Server) purgeSessions(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.service.PurgeExpiredSessions(ctx)
			if err != nil {
				s.logger.Warn("failed to purge expired sessions", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired sessions", "count", n)
			}
		}
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "helpdesk", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	return s.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
	if dnsName != "" && !strings.Contains(s.baseURL, dnsName) {
		s.logger.Warn("base URL does not use the tailnet DNS name; passkeys may fail", "base_url", s.baseURL, "dns_name", dnsName)
	}
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (s *Server) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return s.createTailscaleTLSListener()
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (s *Server) createTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down help desk")

	// http.Server.Shutdown leaves request contexts alive, so live ticket
	// streams only return once their channels close.
	s.events.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}

	s.service.WaitNotifications()
	s.Close()
	return errors.Join(errs...)
}

// Close releases everything except the listener. Safe to call on a Server
// that never ran.
func (s *Server) Close() {
	s.web.Close()
	s.events.Close()
	s.idempotency.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close store", "error", err)
	}
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ready(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
