// ABOUTME: Tests for Prometheus metrics registration, middleware labels, and domain counters
// ABOUTME: Each test uses its own registry so collectors never collide

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestMiddleware_LabelsByPattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tickets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fine"))
	})
	h := m.Middleware(mux)

	for _, path := range []string{"/tickets/a", "/tickets/b", "/ok", "/nope"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "GET /tickets/{id}", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "GET /ok", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpDuration.WithLabelValues("GET", "GET /ok").(prometheus.Histogram)))

	// Unrouted paths collapse into one label; the 404 comes from the mux.
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestRecorder(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TicketCreated("high")
	m.TicketCreated("high")
	m.TicketCreated("low")
	m.MessageSent()
	m.Login("user", "success")
	m.Login("admin", "bad_credentials")
	m.Signup()
	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticketsCreated.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticketsCreated.WithLabelValues("low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("user", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("admin", "bad_credentials")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signups))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveStreams))
}

func TestHandler(t *testing.T) {
	m := New(NewRegistry())
	m.Signup()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "helpdesk_signups_total 1"), "domain counter exported")
	assert.Contains(t, text, "go_goroutines")
}

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	var w http.ResponseWriter = rw
	f, ok := w.(http.Flusher)
	require.True(t, ok)
	f.Flush()
	assert.True(t, rec.Flushed)
}
