// Package server wires the help desk together and runs it.
//
// # Wiring
//
// New opens the SQLite store and builds, in order: attachment storage
// (local directory or S3), the notifier (log plus optional Matrix), the
// events broadcaster, the helpdesk service, the web UI, and the JSON API.
// Everything is mounted on one ServeMux:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (pings the database)
//   - /api/v1/... - JSON API with bearer tokens
//   - everything else - the browser UI
//   - GET /metrics - Prometheus scrape endpoint, when metrics are enabled
//
// # Listeners
//
// Without Tailscale the server listens on server.http_addr. With Tailscale
// it joins the tailnet via tsnet and serves plain HTTP on :80, HTTPS with
// tailnet certificates on :443, or a public Funnel.
//
// # Background work
//
// While running, the server sweeps idle login rate-limit buckets and purges
// expired sessions every hour. Shutdown waits up to five seconds for
// in-flight requests; live SSE streams end when the broadcaster closes.
package server
