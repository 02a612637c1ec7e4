// ABOUTME: Server-Sent Events stream of live ticket activity
// ABOUTME: New messages arrive as rendered HTML, status changes as JSON

package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/2389/helpdesk/internal/events"
	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

// handleTicketStream handles GET /tickets/{id}/stream. The viewer must be
// able to see the ticket. Events are not replayed; the page already shows
// history.
func (wb *Web) handleTicketStream(w http.ResponseWriter, r *http.Request) {
	v := getViewer(r)
	t, err := wb.svc.GetTicket(r.Context(), v, r.PathValue("id"))
	if err != nil {
		http.Error(w, errorMessage(err), statusFor(err))
		return
	}
	if wb.events == nil {
		http.Error(w, "Live updates unavailable", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	ch, subID := wb.events.Subscribe(ctx, t.ID)
	defer wb.events.Unsubscribe(t.ID, subID)

	wb.observer.StreamOpened()
	defer wb.observer.StreamClosed()

	wb.logger.Debug("stream opened", "ticket_id", t.ID, "account_id", v.ID())

	writeSSE(w, "connected", `{"ticket_id":"`+t.ID+`"}`)
	flusher.Flush()

	heartbeat := time.NewTicker(wb.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			wb.logger.Debug("stream closed", "ticket_id", t.ID, "account_id", v.ID())
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, ok := <-ch:
			if !ok {
				return
			}
			name, data, err := wb.encodeEvent(r, v, ev)
			if err != nil {
				wb.logger.Error("failed to encode event", "ticket_id", t.ID, "kind", ev.Kind, "error", err)
				continue
			}
			writeSSE(w, name, data)
			flusher.Flush()
		}
	}
}

// encodeEvent turns a ticket event into an SSE event name and payload.
func (wb *Web) encodeEvent(r *http.Request, v *helpdesk.Viewer, ev events.Event) (string, string, error) {
	switch ev.Kind {
	case events.KindMessage:
		if ev.Message == nil {
			return "", "", fmt.Errorf("message event without a message")
		}
		views := wb.messageViews(r.Context(), v, []*store.Message{ev.Message})
		var buf bytes.Buffer
		if err := wb.executePartial(&buf, "ticket", "message", views[0]); err != nil {
			return "", "", err
		}
		return "message", buf.String(), nil

	case events.KindStatus:
		payload, err := json.Marshal(map[string]string{
			"status": string(ev.Status),
			"label":  ev.Status.Label(),
		})
		if err != nil {
			return "", "", err
		}
		return "status", string(payload), nil

	default:
		return "", "", fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// writeSSE writes one event. Multi-line data becomes several data lines,
// which the browser joins back with newlines.
func writeSSE(w http.ResponseWriter, event, data string) {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for line := range strings.SplitSeq(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	fmt.Fprint(w, b.String())
}
