// ABOUTME: Knowledge-base and settings endpoints
// ABOUTME: Article search filters the visible list by ?q= and ?category=

package api

import (
	"net/http"
	"strings"

	"github.com/2389/helpdesk/internal/helpdesk"
)

// handleListArticles handles GET /api/v1/articles. Admins may pass
// ?published=true to hide drafts; everyone else only sees published articles.
func (h *Handler) handleListArticles(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	articles, err := h.svc.ListArticles(r.Context(), v, q.Get("published") == "true")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	articles = helpdesk.SearchArticles(articles, q.Get("q"))

	category := strings.TrimSpace(q.Get("category"))
	resp := make([]ArticleResponse, 0, len(articles))
	for _, a := range articles {
		if category != "" && !strings.EqualFold(a.Category, category) {
			continue
		}
		resp = append(resp, toArticleResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetArticle handles GET /api/v1/articles/{id}.
func (h *Handler) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	a, err := h.svc.GetArticle(r.Context(), v, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

func (req ArticleRequest) input() helpdesk.ArticleInput {
	published := true
	if req.Published != nil {
		published = *req.Published
	}
	return helpdesk.ArticleInput{
		Title:     req.Title,
		Content:   req.Content,
		Category:  req.Category,
		Published: published,
	}
}

// handleCreateArticle handles POST /api/v1/articles.
func (h *Handler) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	var req ArticleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.svc.CreateArticle(r.Context(), v, req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toArticleResponse(a))
}

// handleUpdateArticle handles PUT /api/v1/articles/{id}.
func (h *Handler) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	var req ArticleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.svc.UpdateArticle(r.Context(), v, r.PathValue("id"), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

// handleDeleteArticle handles DELETE /api/v1/articles/{id}.
func (h *Handler) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteArticle(r.Context(), v, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSetting handles GET /api/v1/settings/{key}.
func (h *Handler) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, set, err := h.svc.GetSetting(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingResponse{Key: key, Value: value, Set: set})
}

// handleSetSetting handles PUT /api/v1/settings/{key}.
func (h *Handler) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	v, ok := h.withViewer(w, r)
	if !ok {
		return
	}
	var req SettingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key := r.PathValue("key")
	if err := h.svc.SetSetting(r.Context(), v, key, req.Value); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingResponse{Key: key, Value: req.Value, Set: true})
}
