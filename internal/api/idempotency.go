// ABOUTME: Idempotency-Key support for create endpoints
// ABOUTME: A retried request with the same key replays the first successful response

package api

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/2389/helpdesk/internal/auth"
	"github.com/2389/helpdesk/internal/dedupe"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255
)

// captureWriter tees the response so it can be stored for replay.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// idempotent wraps a create handler. Keys are scoped to the caller and the
// route, so two accounts may reuse the same key. Only 2xx responses are
// remembered; a failed request releases its key for a corrected retry.
func (h *Handler) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" || h.idempotency == nil {
			next(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			sendJSONError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}

		accountID := ""
		if authCtx := auth.FromContext(r.Context()); authCtx != nil {
			accountID = authCtx.AccountID
		}
		scoped := accountID + " " + r.Method + " " + r.URL.Path + " " + key

		outcome, resp := h.idempotency.Begin(scoped)
		switch outcome {
		case dedupe.InFlight:
			sendJSONError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		case dedupe.Completed:
			w.Header().Set("Content-Type", resp.ContentType)
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(resp.Status)
			_, _ = w.Write(resp.Body)
			return
		}

		cw := &captureWriter{ResponseWriter: w}
		next(cw, r)

		if cw.status >= 200 && cw.status < 300 {
			h.idempotency.Complete(scoped, dedupe.Response{
				Status:      cw.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        bytes.Clone(cw.body.Bytes()),
			})
			return
		}
		h.idempotency.Abandon(scoped)
	}
}
