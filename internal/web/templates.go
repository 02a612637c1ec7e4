// ABOUTME: Template loading and rendering for the help-desk UI
// ABOUTME: Full pages for normal requests, the "content" block alone for partial requests

package web

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/2389/helpdesk/internal/assets"
	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

// mustParsePages parses every page template together with the base layout
// and the shared partials, keyed by page name.
func mustParsePages(funcs template.FuncMap) map[string]*template.Template {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		panic(fmt.Sprintf("web: listing templates: %v", err))
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".html")
		if name == "base" {
			continue
		}
		pages[name] = template.Must(template.New("base.html").Funcs(funcs).
			ParseFS(templateFS, "templates/base.html", "templates/partials/*.html", file))
	}
	return pages
}

func (wb *Web) funcs() template.FuncMap {
	return template.FuncMap{
		"asset":    assets.Path,
		"markdown": wb.renderMarkdown,
		"timeago":  timeAgo,
		"datetime": func(t time.Time) string { return t.Local().Format("Jan 2, 2006 15:04") },
		"bytes":    formatBytes,
		"excerpt":  excerpt,
	}
}

// renderMarkdown converts article markdown to HTML. Raw HTML in the source
// is not passed through.
func (wb *Web) renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := wb.markdown.Convert([]byte(src), &buf); err != nil {
		wb.logger.Warn("failed to render markdown", "error", err)
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

// Template data types
type pageData struct {
	Title     string
	Viewer    *helpdesk.Viewer
	CSRFToken string
	Theme     string
	Error     string
	Notice    string
	Passkeys  bool
}

// page builds the common data for a view.
func (wb *Web) page(r *http.Request, title string) pageData {
	v := getViewer(r)
	theme := store.ThemeSystem
	if v != nil && v.Profile != nil {
		theme = v.Theme()
	} else if c, err := r.Cookie(ThemeCookieName); err == nil && store.ValidTheme(c.Value) {
		theme = c.Value
	}
	return pageData{
		Title:     title,
		Viewer:    v,
		CSRFToken: getCSRFToken(r),
		Theme:     theme,
		Passkeys:  wb.webauthn != nil,
	}
}

type loginData struct {
	pageData
	Mode       string // "user" or "admin"
	Profiles   []*store.Profile
	RequirePIN bool
	Name       string
	Email      string
}

type signupData struct {
	pageData
	Name string
}

type ticketRow struct {
	*store.Ticket
	Owner string
}

type dashboardData struct {
	pageData
	Tickets    []ticketRow
	Status     string
	Statuses   []store.TicketStatus
	Priorities []store.Priority
	CanCreate  bool
	Form       ticketForm
}

type ticketForm struct {
	Title       string
	Description string
	Priority    string
}

type messageView struct {
	*store.Message
	Sender      string
	Mine        bool
	Attachments []*store.Attachment
}

type ticketData struct {
	pageData
	Ticket      *store.Ticket
	Owner       string
	Attachments []*store.Attachment
	Messages    []messageView
	CanClose    bool
	CanResolve  bool
	Draft       string
}

type adminData struct {
	pageData
	Tab        string
	Tickets    []ticketRow
	Status     string
	Statuses   []store.TicketStatus
	Profiles   []*store.Profile
	RequirePIN bool
	Audit      []store.AuditEntry
	Names      map[string]string
	Action     string
	Actions    []store.AuditAction
	NewName    string
}

type kbData struct {
	pageData
	Articles   []*store.Article
	Categories []string
	Query      string
	Category   string
}

type articleData struct {
	pageData
	Article *store.Article
}

type articleFormData struct {
	pageData
	Article *store.Article // nil when creating
	Form    helpdesk.ArticleInput
}

// render executes a page. Partial requests get only the page's "content"
// block so it can be swapped into the existing layout.
func (wb *Web) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	tmpl, ok := wb.pages[page]
	if !ok {
		wb.logger.Error("unknown template", "page", page)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	name := "base.html"
	if isHTMX(r) {
		name = "content"
	}

	// Render into a buffer so a template error never leaves a half page.
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		wb.logger.Error("failed to render page", "page", page, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderPartial executes a named partial from a page's template set.
func (wb *Web) renderPartial(w http.ResponseWriter, page, name string, data any) {
	var buf bytes.Buffer
	if err := wb.executePartial(&buf, page, name, data); err != nil {
		wb.logger.Error("failed to render partial", "partial", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (wb *Web) executePartial(buf *bytes.Buffer, page, name string, data any) error {
	tmpl, ok := wb.pages[page]
	if !ok {
		return fmt.Errorf("unknown template %q", page)
	}
	return tmpl.ExecuteTemplate(buf, name, data)
}

// renderError shows the error page with the status mapped from err.
func (wb *Web) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		wb.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	data := wb.page(r, http.StatusText(status))
	data.Error = errorMessage(err)
	wb.render(w, r, status, "error", data)
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return pluralize(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return pluralize(int(d/time.Hour), "hour") + " ago"
	case d < 30*24*time.Hour:
		return pluralize(int(d/(24*time.Hour)), "day") + " ago"
	default:
		return t.Local().Format("Jan 2, 2006")
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// excerpt returns the first n runes of s on one line.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
