// ABOUTME: Admin console tabs: tickets, users, settings, and audit log
// ABOUTME: Every handler here runs behind requireAdmin

package web

import (
	"net/http"

	"github.com/2389/helpdesk/internal/store"
)

var auditActions = []store.AuditAction{
	store.AuditVerifyUser,
	store.AuditCreateUser,
	store.AuditTicketStatus,
	store.AuditUpdateSetting,
	store.AuditCreateArticle,
	store.AuditUpdateArticle,
	store.AuditDeleteArticle,
	store.AuditCreateAdmin,
	store.AuditRegisterPasskey,
	store.AuditResetPassword,
}

func (wb *Web) adminPage(r *http.Request, tab string) adminData {
	return adminData{pageData: wb.page(r, "Admin"), Tab: tab}
}

func (wb *Web) handleAdminHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/admin/tickets", http.StatusSeeOther)
}

// handleAdminTickets lists every ticket, optionally filtered by ?status=.
func (wb *Web) handleAdminTickets(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	tickets, err := wb.svc.ListTickets(r.Context(), getViewer(r), store.TicketStatus(status))
	if err != nil {
		wb.renderError(w, r, err)
		return
	}

	data := wb.adminPage(r, "tickets")
	data.Tickets = wb.ticketRows(r.Context(), tickets)
	data.Status = status
	data.Statuses = store.TicketStatuses
	wb.render(w, r, http.StatusOK, "admin", data)
}

func (wb *Web) usersPage(r *http.Request) (adminData, error) {
	profiles, err := wb.svc.ListProfiles(r.Context())
	if err != nil {
		return adminData{}, err
	}
	data := wb.adminPage(r, "users")
	data.Profiles = profiles
	return data, nil
}

// handleAdminUsers lists profiles with verify buttons and the create form.
func (wb *Web) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	data, err := wb.usersPage(r)
	if err != nil {
		wb.renderError(w, r, err)
		return
	}
	wb.render(w, r, http.StatusOK, "admin", data)
}

// handleAdminCreateUser creates an already-verified user.
func (wb *Web) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	name := r.PostFormValue("name")
	p, err := wb.svc.AdminCreateUser(r.Context(), getViewer(r), name, r.PostFormValue("pin"))

	data, lerr := wb.usersPage(r)
	if lerr != nil {
		wb.renderError(w, r, lerr)
		return
	}
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			wb.logger.Error("failed to create user", "error", err)
		}
		data.Error = errorMessage(err)
		data.NewName = name
		wb.render(w, r, status, "admin", data)
		return
	}

	wb.logger.Info("user created by admin", "profile_id", p.ID, "admin", getViewer(r).ID())
	data.Notice = "Created " + p.DisplayName
	wb.render(w, r, http.StatusOK, "admin", data)
}

// handleAdminVerifyUser approves a pending profile.
func (wb *Web) handleAdminVerifyUser(w http.ResponseWriter, r *http.Request) {
	if err := wb.svc.VerifyUser(r.Context(), getViewer(r), r.PathValue("id")); err != nil {
		wb.renderError(w, r, err)
		return
	}
	wb.redirect(w, r, "/admin/users")
}

// handleAdminSettings shows the global security settings.
func (wb *Web) handleAdminSettings(w http.ResponseWriter, r *http.Request) {
	requirePIN, err := wb.svc.RequirePIN(r.Context())
	if err != nil {
		wb.renderError(w, r, err)
		return
	}
	data := wb.adminPage(r, "settings")
	data.RequirePIN = requirePIN
	wb.render(w, r, http.StatusOK, "admin", data)
}

// handleAdminRequirePIN sets require_pin from the "require_pin" field.
func (wb *Web) handleAdminRequirePIN(w http.ResponseWriter, r *http.Request) {
	require := r.PostFormValue("require_pin") == "true"
	if err := wb.svc.SetRequirePIN(r.Context(), getViewer(r), require); err != nil {
		wb.renderError(w, r, err)
		return
	}
	wb.logger.Info("require_pin updated", "value", require, "admin", getViewer(r).ID())
	wb.redirect(w, r, "/admin/settings")
}

// handleAdminAudit shows recent admin actions, optionally filtered by ?action=.
func (wb *Web) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	entries, err := wb.svc.ListAudit(r.Context(), getViewer(r), store.AuditFilter{
		Action: store.AuditAction(action),
		Limit:  200,
	})
	if err != nil {
		wb.renderError(w, r, err)
		return
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ActorID
	}

	data := wb.adminPage(r, "audit")
	data.Audit = entries
	data.Names = wb.svc.DisplayNames(r.Context(), ids)
	data.Action = action
	data.Actions = auditActions
	wb.render(w, r, http.StatusOK, "admin", data)
}
