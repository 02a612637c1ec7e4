// ABOUTME: Entry point for the help desk server
// ABOUTME: Subcommands to serve, write a config, bootstrap the first admin, and check health

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/helpdesk/internal/auth"
	"github.com/2389/helpdesk/internal/config"
	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/server"
	"github.com/2389/helpdesk/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// configFlag holds the value of --config, which wins over every other source.
var configFlag string

const banner = `
  _          _           _           _
 | |__   ___| |_ __   __| | ___  ___| | __
 | '_ \ / _ \ | '_ \ / _' |/ _ \/ __| |/ /
 | | | |  __/ | |_) | (_| |  __/\__ \   <
 |_| |_|\___|_| .__/ \__,_|\___||___/_|\_\
              |_|
`

// getConfigPath returns the path to the config file.
// Priority: --config > HELPDESK_CONFIG env var > XDG_CONFIG_HOME/helpdesk/config.yaml > ~/.config/helpdesk/config.yaml
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if envPath := os.Getenv("HELPDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "helpdesk", "config.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/helpdesk > ~/.local/share/helpdesk
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "helpdesk")
}

// extractConfigFlag removes --config PATH (or --config=PATH) from args.
func extractConfigFlag(args []string) (string, []string, error) {
	var path string
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config requires a value")
			}
			path = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		default:
			rest = append(rest, arg)
		}
	}
	return path, rest, nil
}

func usage() {
	fmt.Println("Usage: helpdesk [--config PATH] <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                 Start the server")
	fmt.Println("  init                                  Create a new config file interactively")
	fmt.Println("  bootstrap --email EMAIL [--name NAME] Create the first admin and an API token")
	fmt.Println("  reset-password --email EMAIL          Set a new password for an admin")
	fmt.Println("  health                                Check server health")
	fmt.Println("  version                               Print the version")
}

func main() {
	path, args, err := extractConfigFlag(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	configFlag = path

	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, args[1:])
	case "reset-password":
		err = runResetPassword(ctx, args[1:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s\n", cfg.Storage.Backend)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Notifications.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    %s\n", cfg.Notifications.Matrix.RoomID)
	}

	fmt.Println()

	logger.Info("starting helpdesk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{mu: &sync.Mutex{}, level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		mu:     h.mu,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		mu:     h.mu,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// healthURL returns the local health endpoint for cfg.
func healthURL(cfg *config.Config) string {
	if cfg.Server.BaseURL != "" {
		return strings.TrimSuffix(cfg.Server.BaseURL, "/") + "/health/ready"
	}
	host := cfg.Server.HTTPAddr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + "/health/ready"
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// bootstrapArgs are the parsed flags of the bootstrap command.
type bootstrapArgs struct {
	Email    string
	Name     string
	Password string
}

// parseBootstrapArgs supports both "--flag value" and "--flag=value".
func parseBootstrapArgs(args []string) (bootstrapArgs, error) {
	var out bootstrapArgs
	fields := map[string]*string{
		"--email":    &out.Email,
		"--name":     &out.Name,
		"--password": &out.Password,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
		key, value, hasValue := strings.Cut(arg, "=")
		dst, ok := fields[key]
		if !ok {
			return out, fmt.Errorf("unknown flag: %s", key)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return out, fmt.Errorf("%s requires a value", key)
			}
			value = args[i+1]
			i++
		}
		*dst = value
	}

	out.Email = strings.TrimSpace(out.Email)
	out.Name = strings.TrimSpace(out.Name)
	if out.Email == "" {
		return out, fmt.Errorf("--email flag is required")
	}
	if len(out.Name) > 100 {
		return out, fmt.Errorf("name exceeds maximum length of 100 characters")
	}
	return out, nil
}

// generateSecret returns 32 random bytes, base64 encoded.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// loadOrCreateConfig loads configPath, writing a fresh config with a random
// JWT secret first if none exists.
func loadOrCreateConfig(configPath, dataPath string) (*config.Config, bool, error) {
	if _, err := os.Stat(configPath); err == nil {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, false, fmt.Errorf("loading config: %w", err)
		}
		return cfg, false, nil
	} else if !os.IsNotExist(err) {
		return nil, false, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, false, fmt.Errorf("generating JWT secret: %w", err)
	}

	cfg := config.Default()
	cfg.Server.HTTPAddr = "localhost:8080"
	cfg.Database.Path = filepath.Join(dataPath, "helpdesk.db")
	cfg.Storage.Dir = filepath.Join(dataPath, "attachments")
	cfg.Auth.JWTSecret = secret

	if err := config.Write(configPath, cfg); err != nil {
		return nil, false, err
	}
	cfg, err = config.Load(configPath)
	if err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, true, nil
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if not exists)
// 2. Creates the database and the first admin account
// 3. Writes an API token for that admin next to the config
func runBootstrap(ctx context.Context, argv []string) error {
	args, err := parseBootstrapArgs(argv)
	if err != nil {
		return err
	}
	if args.Password == "" {
		args.Password = os.Getenv("HELPDESK_ADMIN_PASSWORD")
	}
	if args.Password == "" {
		args.Password = prompt(bufio.NewReader(os.Stdin), "Admin password", "")
	}

	configPath := getConfigPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cfg, created, err := loadOrCreateConfig(configPath, getDataPath())
	if err != nil {
		return err
	}
	if created {
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	svc, closeStore, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	exists, err := svc.HasAdmin(ctx)
	if err != nil {
		return fmt.Errorf("checking admins: %w", err)
	}
	if exists {
		return fmt.Errorf("bootstrap already complete: an admin account exists")
	}

	acct, err := svc.CreateAdmin(ctx, nil, args.Email, args.Password, args.Name)
	if err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}
	green.Printf("  ✓ Created admin: %s\n", acct.Email)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	expiresAt := time.Now().Add(cfg.Auth.APITokenTTL).UTC()
	token, err := verifier.Generate(acct.ID, cfg.Auth.APITokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved API token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin")
	cyan.Println("  -----")
	fmt.Printf("  ID:     %s\n", acct.ID)
	fmt.Printf("  Email:  %s\n", acct.Email)
	fmt.Printf("  Token:  %s (expires %s)\n", tokenPath, expiresAt.Format(time.RFC3339))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    helpdesk serve    # start the server")
	fmt.Println()

	return nil
}

// openService opens the database for one-off CLI tasks. Notifications and
// blob storage are left out.
func openService(cfg *config.Config) (*helpdesk.Service, func(), error) {
	s, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	svc := helpdesk.New(helpdesk.Options{
		Store: s,
		Identity: auth.Identity{
			Suffix:  cfg.Auth.InternalEmailSuffix,
			Padding: cfg.Auth.PINPadding,
		},
		Logger: slog.New(slog.DiscardHandler),
	})
	return svc, func() { _ = s.Close() }, nil
}

// runResetPassword sets a new password for an existing admin account.
func runResetPassword(ctx context.Context, argv []string) error {
	args, err := parseBootstrapArgs(argv)
	if err != nil {
		return err
	}
	if args.Password == "" {
		args.Password = os.Getenv("HELPDESK_ADMIN_PASSWORD")
	}
	if args.Password == "" {
		args.Password = prompt(bufio.NewReader(os.Stdin), "New password", "")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	svc, closeStore, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := svc.ResetAdminPassword(ctx, args.Email, args.Password); err != nil {
		return fmt.Errorf("resetting password: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Password updated for %s\n", strings.ToLower(strings.TrimSpace(args.Email)))
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("helpdesk configuration setup")
	fmt.Println("============================")
	fmt.Println()

	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path (.yaml or .toml)", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	cfg := config.Default()
	cfg.Auth.JWTSecret = secret

	fmt.Println("\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	cfg.Server.BaseURL = prompt(reader, "Public URL (leave empty to derive)", "")

	fmt.Println("\n--- Storage Configuration ---")
	cfg.Database.Path = prompt(reader, "SQLite database path", filepath.Join(defaultDataPath, "helpdesk.db"))
	cfg.Storage.Backend = prompt(reader, "Attachment backend (local/s3)", "local")
	if cfg.Storage.Backend == "s3" {
		cfg.Storage.Dir = ""
		cfg.Storage.Bucket = prompt(reader, "S3 bucket", config.DefaultBucket)
		cfg.Storage.Region = prompt(reader, "S3 region", "us-east-1")
		cfg.Storage.Endpoint = prompt(reader, "S3 endpoint (leave empty for AWS)", "")
	} else {
		cfg.Storage.Dir = prompt(reader, "Attachment directory", filepath.Join(filepath.Dir(cfg.Database.Path), "attachments"))
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	if yes(prompt(reader, "Enable Tailscale?", "no")) {
		cfg.Tailscale.Enabled = true
		cfg.Server.HTTPAddr = ""
		cfg.Tailscale.Hostname = prompt(reader, "Tailscale hostname", "helpdesk")
		cfg.Tailscale.AuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		cfg.Tailscale.Ephemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		cfg.Tailscale.Funnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
		if !cfg.Tailscale.Funnel {
			cfg.Tailscale.HTTPS = yes(prompt(reader, "Serve HTTPS with tailnet certificates?", "yes"))
		}
	}

	fmt.Println("\n--- Notifications ---")
	if yes(prompt(reader, "Post admin notifications to Matrix?", "no")) {
		m := &cfg.Notifications.Matrix
		m.Enabled = true
		m.Homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
		m.UserID = prompt(reader, "Bot user ID", "")
		m.AccessToken = prompt(reader, "Access token", "${HELPDESK_MATRIX_TOKEN}")
		m.RoomID = prompt(reader, "Room ID", "")
	}

	fmt.Println("\n--- Logging and Metrics ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", "info")
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", "text")
	cfg.Metrics.Enabled = yes(prompt(reader, "Expose Prometheus metrics?", "no"))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.Write(outputFile, cfg); err != nil {
		return err
	}

	dataDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  helpdesk bootstrap --email you@example.com")
	fmt.Println("  helpdesk serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
