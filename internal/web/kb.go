// ABOUTME: Knowledge base pages: search, article view, and the admin editor
// ABOUTME: Article content is markdown rendered with goldmark

package web

import (
	"net/http"
	"strings"

	"github.com/2389/helpdesk/internal/helpdesk"
	"github.com/2389/helpdesk/internal/store"
)

// handleKnowledgeBase lists articles matching ?q= and ?category=. Signed-out
// visitors and users see published articles; admins also see drafts.
func (wb *Web) handleKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	v := getViewer(r)
	all, err := wb.svc.ListArticles(r.Context(), v, false)
	if err != nil {
		wb.renderError(w, r, err)
		return
	}

	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	category := strings.TrimSpace(q.Get("category"))

	matches := helpdesk.SearchArticles(all, query)
	data := kbData{
		pageData:   wb.page(r, "Knowledge base"),
		Categories: helpdesk.Categories(all),
		Query:      query,
		Category:   category,
	}
	for _, a := range matches {
		if category == "" || strings.EqualFold(a.Category, category) {
			data.Articles = append(data.Articles, a)
		}
	}

	if isHTMX(r) && r.Header.Get("HX-Target") == "articles" {
		wb.renderPartial(w, "kb", "articles", data)
		return
	}
	wb.render(w, r, http.StatusOK, "kb", data)
}

// handleArticle renders one article.
func (wb *Web) handleArticle(w http.ResponseWriter, r *http.Request) {
	a, err := wb.svc.GetArticle(r.Context(), getViewer(r), r.PathValue("id"))
	if err != nil {
		wb.renderError(w, r, err)
		return
	}
	wb.render(w, r, http.StatusOK, "article", articleData{pageData: wb.page(r, a.Title), Article: a})
}

func articleFormInput(r *http.Request) helpdesk.ArticleInput {
	return helpdesk.ArticleInput{
		Title:     r.PostFormValue("title"),
		Content:   r.PostFormValue("content"),
		Category:  r.PostFormValue("category"),
		Published: r.PostFormValue("published") == "true",
	}
}

// handleArticleNew shows an empty editor.
func (wb *Web) handleArticleNew(w http.ResponseWriter, r *http.Request) {
	data := articleFormData{
		pageData: wb.page(r, "New article"),
		Form:     helpdesk.ArticleInput{Published: true},
	}
	wb.render(w, r, http.StatusOK, "article_form", data)
}

// handleArticleCreate saves a new article.
func (wb *Web) handleArticleCreate(w http.ResponseWriter, r *http.Request) {
	in := articleFormInput(r)
	a, err := wb.svc.CreateArticle(r.Context(), getViewer(r), in)
	if err != nil {
		wb.renderArticleFormError(w, r, "New article", nil, in, err)
		return
	}
	wb.redirect(w, r, "/kb/"+a.ID)
}

// handleArticleEdit shows the editor for an existing article.
func (wb *Web) handleArticleEdit(w http.ResponseWriter, r *http.Request) {
	a, err := wb.svc.GetArticle(r.Context(), getViewer(r), r.PathValue("id"))
	if err != nil {
		wb.renderError(w, r, err)
		return
	}
	data := articleFormData{
		pageData: wb.page(r, "Edit article"),
		Article:  a,
		Form: helpdesk.ArticleInput{
			Title:     a.Title,
			Content:   a.Content,
			Category:  a.Category,
			Published: a.Published,
		},
	}
	wb.render(w, r, http.StatusOK, "article_form", data)
}

// handleArticleUpdate saves edits to an article.
func (wb *Web) handleArticleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	in := articleFormInput(r)
	a, err := wb.svc.UpdateArticle(r.Context(), getViewer(r), id, in)
	if err != nil {
		existing, gerr := wb.svc.GetArticle(r.Context(), getViewer(r), id)
		if gerr != nil {
			wb.renderError(w, r, gerr)
			return
		}
		wb.renderArticleFormError(w, r, "Edit article", existing, in, err)
		return
	}
	wb.redirect(w, r, "/kb/"+a.ID)
}

// handleArticleDelete removes an article.
func (wb *Web) handleArticleDelete(w http.ResponseWriter, r *http.Request) {
	if err := wb.svc.DeleteArticle(r.Context(), getViewer(r), r.PathValue("id")); err != nil {
		wb.renderError(w, r, err)
		return
	}
	wb.redirect(w, r, "/kb")
}

func (wb *Web) renderArticleFormError(w http.ResponseWriter, r *http.Request, title string, existing *store.Article, in helpdesk.ArticleInput, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		wb.logger.Error("failed to save article", "error", err)
	}
	data := articleFormData{pageData: wb.page(r, title), Article: existing, Form: in}
	data.Error = errorMessage(err)
	wb.render(w, r, status, "article_form", data)
}
