// ABOUTME: Ticket dashboard, ticket detail, messaging, and attachment handlers
// ABOUTME: Forms are multipart so files can ride along with tickets and messages

package web

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

// ticketRows attaches owner names to tickets for listing.
func (wb *Web) ticketRows(ctx context.Context, tickets []*store.Ticket) []ticketRow {
	ids := make([]string, len(tickets))
	for i, t := range tickets {
		ids[i] = t.OwnerID
	}
	names := wb.svc.DisplayNames(ctx, ids)

	rows := make([]ticketRow, len(tickets))
	for i, t := range tickets {
		rows[i] = ticketRow{Ticket: t, Owner: names[t.OwnerID]}
	}
	return rows
}

// dashboardPage builds the ticket list for the viewer, filtered by ?status=.
func (wb *Web) dashboardPage(r *http.Request) (dashboardData, error) {
	v := getViewer(r)
	status := r.URL.Query().Get("status")
	tickets, err := wb.svc.ListTickets(r.Context(), v, store.TicketStatus(status))
	if err != nil {
		return dashboardData{}, err
	}
	return dashboardData{
		pageData:   wb.page(r, "Tickets"),
		Tickets:    wb.ticketRows(r.Context(), tickets),
		Status:     status,
		Statuses:   store.TicketStatuses,
		Priorities: store.Priorities,
		CanCreate:  v.Verified,
		Form:       ticketForm{Priority: string(store.PriorityMedium)},
	}, nil
}

// handleDashboard lists the viewer's tickets, or every ticket for admins.
func (wb *Web) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data, err := wb.dashboardPage(r)
	if err != nil {
		wb.renderError(w, r, err)
		return
	}
	wb.render(w, r, http.StatusOK, "dashboard", data)
}

// handleCreateTicket files a ticket with any attached files.
func (wb *Web) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	v := getViewer(r)
	form := ticketForm{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		Priority:    r.PostFormValue("priority"),
	}

	fail := func(err error) {
		data, lerr := wb.dashboardPage(r)
		if lerr != nil {
			wb.renderError(w, r, lerr)
			return
		}
		data.Form = form
		data.Error = errorMessage(err)
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			wb.logger.Error("failed to create ticket", "error", err)
		}
		wb.render(w, r, status, "dashboard", data)
	}

	in := helpdesk.TicketInput{
		Title:       form.Title,
		Description: form.Description,
		Priority:    store.Priority(form.Priority),
	}
	// Validate before storing any uploads.
	if err := wb.svc.ValidateTicket(v, in); err != nil {
		fail(err)
		return
	}

	ids, err := wb.uploadFormFiles(r, v)
	if err != nil {
		fail(err)
		return
	}

	in.AttachmentIDs = ids
	t, err := wb.svc.CreateTicket(r.Context(), v, in)
	if err != nil {
		fail(err)
		return
	}

	wb.redirect(w, r, "/tickets/"+t.ID)
}

// uploadFormFiles stores every file in the multipart "files" field and
// returns the new attachment IDs.
func (wb *Web) uploadFormFiles(r *http.Request, v *helpdesk.Viewer) ([]string, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	var headers []*multipart.FileHeader
	for _, fh := range r.MultipartForm.File["files"] {
		if fh.Filename != "" && fh.Size > 0 {
			headers = append(headers, fh)
		}
	}
	if len(headers) > maxFormFiles {
		return nil, fmt.Errorf("%w: attach at most %d files", helpdesk.ErrInvalidInput, maxFormFiles)
	}

	ids := make([]string, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > wb.svc.MaxUploadBytes() {
			return nil, helpdesk.ErrTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		att, err := wb.svc.Upload(r.Context(), v, fh.Filename, fh.Header.Get("Content-Type"), f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		ids = append(ids, att.ID)
	}
	return ids, nil
}

// attachmentsFor loads attachment metadata, skipping any the viewer cannot
// read or that no longer exist.
func (wb *Web) attachmentsFor(ctx context.Context, v *helpdesk.Viewer, ids []string) []*store.Attachment {
	out := make([]*store.Attachment, 0, len(ids))
	for _, id := range ids {
		att, err := wb.svc.GetAttachment(ctx, v, id)
		if err != nil {
			wb.logger.Debug("skipping attachment", "id", id, "error", err)
			continue
		}
		out = append(out, att)
	}
	return out
}

// messageViews decorates messages with sender names and attachments.
func (wb *Web) messageViews(ctx context.Context, v *helpdesk.Viewer, msgs []*store.Message) []messageView {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.SenderID
	}
	names := wb.svc.DisplayNames(ctx, ids)

	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{
			Message:     m,
			Sender:      names[m.SenderID],
			Mine:        m.SenderID == v.ID(),
			Attachments: wb.attachmentsFor(ctx, v, m.Attachments),
		}
	}
	return views
}

// ticketPage loads everything the ticket view shows.
func (wb *Web) ticketPage(r *http.Request, id string) (ticketData, error) {
	v := getViewer(r)
	ctx := r.Context()

	t, err := wb.svc.GetTicket(ctx, v, id)
	if err != nil {
		return ticketData{}, err
	}
	msgs, err := wb.svc.ListMessages(ctx, v, id)
	if err != nil {
		return ticketData{}, err
	}

	return ticketData{
		pageData:    wb.page(r, t.Title),
		Ticket:      t,
		Owner:       wb.svc.DisplayNames(ctx, []string{t.OwnerID})[t.OwnerID],
		Attachments: wb.attachmentsFor(ctx, v, t.Attachments),
		Messages:    wb.messageViews(ctx, v, msgs),
		CanClose:    v.IsAdmin && t.Status != store.StatusClosed,
		CanResolve:  v.IsAdmin && t.Status != store.StatusResolved && t.Status != store.StatusClosed,
	}, nil
}

// handleTicket renders the ticket detail page.
func (wb *Web) handleTicket(w http.ResponseWriter, r *http.Request) {
	data, err := wb.ticketPage(r, r.PathValue("id"))
	if err != nil {
		wb.renderError(w, r, err)
		return
	}
	wb.render(w, r, http.StatusOK, "ticket", data)
}

// handleMessages renders the message thread partial.
func (wb *Web) handleMessages(w http.ResponseWriter, r *http.Request) {
	data, err := wb.ticketPage(r, r.PathValue("id"))
	if err != nil {
		wb.renderError(w, r, err)
		return
	}
	wb.renderPartial(w, "ticket", "messages", data)
}

// handleSendMessage posts a reply with any attached files. Partial requests get
// the refreshed thread; plain forms are redirected back to the ticket.
func (wb *Web) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	v := getViewer(r)
	id := r.PathValue("id")
	content := r.PostFormValue("content")

	fail := func(err error) {
		data, lerr := wb.ticketPage(r, id)
		if lerr != nil {
			wb.renderError(w, r, lerr)
			return
		}
		data.Draft = content
		data.Error = errorMessage(err)
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			wb.logger.Error("failed to send message", "ticket_id", id, "error", err)
		}
		wb.render(w, r, status, "ticket", data)
	}

	// Confirm access before storing any uploads.
	if _, err := wb.svc.GetTicket(r.Context(), v, id); err != nil {
		wb.renderError(w, r, err)
		return
	}

	ids, err := wb.uploadFormFiles(r, v)
	if err != nil {
		fail(err)
		return
	}
	if _, err := wb.svc.SendMessage(r.Context(), v, id, content, ids); err != nil {
		fail(err)
		return
	}

	if isHTMX(r) {
		wb.handleMessages(w, r)
		return
	}
	http.Redirect(w, r, "/tickets/"+id, http.StatusSeeOther)
}

// handleTicketStatus changes a ticket's status (admin only).
func (wb *Web) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status := store.TicketStatus(r.PostFormValue("status"))
	if _, err := wb.svc.UpdateTicketStatus(r.Context(), getViewer(r), id, status); err != nil {
		wb.renderError(w, r, err)
		return
	}
	wb.redirect(w, r, "/tickets/"+id)
}

// handleDownload streams an attachment the viewer may read.
func (wb *Web) handleDownload(w http.ResponseWriter, r *http.Request) {
	att, rc, err := wb.svc.OpenAttachment(r.Context(), getViewer(r), r.PathValue("id"))
	if err != nil {
		wb.renderError(w, r, err)
		return
	}
	defer rc.Close()

	disposition := "attachment"
	if r.URL.Query().Get("inline") == "1" && isImage(att.ContentType) {
		disposition = "inline"
	}

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": att.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		wb.logger.Warn("attachment download interrupted", "id", att.ID, "error", err)
	}
}

// isImage reports whether an attachment can be previewed inline. SVG is
// excluded because it can carry script.
func isImage(contentType string) bool {
	switch contentType {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}
