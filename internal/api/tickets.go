// ABOUTME: Ticket and message endpoints
// ABOUTME: Creates accept an Idempotency-Key; list filters by ?status=

package api

import (
	"net/http"

	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

// handleListTickets handles GET /api/v1/tickets.
func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	tickets, err := h.svc.ListTickets(r.Context(), v, store.TicketStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		resp = append(resp, toTicketResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateTicket handles POST /api/v1/tickets.
func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	var req CreateTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.svc.CreateTicket(r.Context(), v, helpdesk.TicketInput{
		Title:         req.Title,
		Description:   req.Description,
		Priority:      store.Priority(req.Priority),
		AttachmentIDs: req.Attachments,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTicketResponse(t))
}

// handleGetTicket handles GET /api/v1/tickets/{id}.
func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	t, err := h.svc.GetTicket(r.Context(), v, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(t))
}

// handleUpdateStatus handles PUT /api/v1/tickets/{id}/status.
func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.svc.UpdateTicketStatus(r.Context(), v, r.PathValue("id"), store.TicketStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(t))
}

// handleListMessages handles GET /api/v1/tickets/{id}/messages.
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	msgs, err := h.svc.ListMessages(r.Context(), v, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	senders := make([]string, 0, len(msgs))
	for _, m := range msgs {
		senders = append(senders, m.SenderID)
	}
	names := h.svc.DisplayNames(r.Context(), senders)

	resp := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m, names))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSendMessage handles POST /api/v1/tickets/{id}/messages.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), v, r.PathValue("id"), req.Content, req.Attachments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg, map[string]string{v.ID(): v.DisplayName()}))
}
