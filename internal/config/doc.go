// Package config handles configuration loading for the helpdesk server.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. The format is picked from the file extension (.toml is TOML,
// anything else YAML). Unset values receive defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path passed with --config
//  2. Path from HELPDESK_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/helpdesk/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${HELPDESK_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server and database:
//
//	server:
//	  http_addr: ":8080"
//	  base_url: "https://help.example.com"
//	database:
//	  path: "/var/lib/helpdesk/helpdesk.db"
//	  driver: "sqlite"   # sqlite (pure Go) or sqlite3 (cgo)
//
// Attachment storage:
//
//	storage:
//	  backend: "s3"      # local or s3
//	  bucket: "attachments"
//	  region: "us-east-1"
//	  endpoint: "http://localhost:9000"
//	  max_upload_bytes: 10485760
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${HELPDESK_JWT_SECRET}"   # at least 32 bytes
//	  internal_email_suffix: "@tickets.internal"
//	  pin_padding: "_TKT"
//	  session_duration: "168h"
//	  api_token_ttl: "24h"
//	  login_rate: 10
//
// Admin notifications:
//
//	notifications:
//	  matrix:
//	    enabled: true
//	    homeserver: "https://matrix.org"
//	    user_id: "@helpdesk:matrix.org"
//	    access_token: "${MATRIX_TOKEN}"
//	    room_id: "!admins:matrix.org"
//
// Tailscale, logging and metrics:
//
//	tailscale:
//	  enabled: false
//	  hostname: "helpdesk"
//	  https: true
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
