// ABOUTME: Prometheus instrumentation: HTTP middleware, domain counters, and the scrape handler
// ABOUTME: Metrics implements helpdesk.Recorder so the service can count tickets, messages, and logins

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helpdesk"

// Metrics holds every collector the server exports.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	ticketsCreated *prometheus.CounterVec
	messagesSent   prometheus.Counter
	logins         *prometheus.CounterVec
	signups        prometheus.Counter
	liveStreams    prometheus.Gauge
}

// NewRegistry returns a registry that already carries the Go runtime and
// process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates the collectors and registers them with reg. Registering twice
// on the same registry panics.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ticketsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_created_total",
			Help:      "Tickets filed, by priority.",
		}, []string{"priority"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages posted on tickets.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by kind (user, admin, passkey) and result.",
		}, []string{"kind", "result"}),
		signups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signups_total",
			Help:      "User self-registrations.",
		}),
		liveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_streams",
			Help:      "Open Server-Sent Events streams on ticket pages.",
		}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.ticketsCreated,
		m.messagesSent,
		m.logins,
		m.signups,
		m.liveStreams,
	)
	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TicketCreated counts a new ticket.
func (m *Metrics) TicketCreated(priority string) {
	m.ticketsCreated.WithLabelValues(priority).Inc()
}

// MessageSent counts a new message.
func (m *Metrics) MessageSent() {
	m.messagesSent.Inc()
}

// Login counts a login attempt.
func (m *Metrics) Login(kind, result string) {
	m.logins.WithLabelValues(kind, result).Inc()
}

// Signup counts a self-registration.
func (m *Metrics) Signup() {
	m.signups.Inc()
}

// StreamOpened and StreamClosed track live ticket streams.
func (m *Metrics) StreamOpened() { m.liveStreams.Inc() }
func (m *Metrics) StreamClosed() { m.liveStreams.Dec() }

// Middleware records request counts and latency. Requests are labelled with
// the ServeMux pattern that matched, never the raw path, so IDs do not blow
// up label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Flush lets Server-Sent Events streams through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
