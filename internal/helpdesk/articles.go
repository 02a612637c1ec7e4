// ABOUTME: Knowledge-base articles: listing, search, and admin editing
// ABOUTME: Non-admins only ever see published articles

package helpdesk

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/helpdesk/internal/store"
)

// ArticleInput holds the editable fields of an article.
type ArticleInput struct {
	Title     string
	Content   string
	Category  string
	Published bool
}

func (in ArticleInput) validate() (ArticleInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	if in.Title == "" {
		return in, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	return in, nil
}

// ListArticles returns articles newest first. Non-admin viewers (including
// a nil viewer) always get published articles only.
func (s *Service) ListArticles(ctx context.Context, v *Viewer, publishedOnly bool) ([]*store.Article, error) {
	if v == nil || !v.IsAdmin {
		publishedOnly = true
	}
	return s.store.ListArticles(ctx, publishedOnly)
}

// GetArticle returns an article. Drafts are visible to admins only.
func (s *Service) GetArticle(ctx context.Context, v *Viewer, id string) (*store.Article, error) {
	a, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !a.Published && (v == nil || !v.IsAdmin) {
		return nil, ErrNotFound
	}
	return a, nil
}

// SearchArticles filters articles whose title, content, or category contains
// term, ignoring case. An empty term returns the list unchanged.
func SearchArticles(articles []*store.Article, term string) []*store.Article {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return articles
	}

	var matches []*store.Article
	for _, a := range articles {
		if strings.Contains(strings.ToLower(a.Title), term) ||
			strings.Contains(strings.ToLower(a.Content), term) ||
			strings.Contains(strings.ToLower(a.Category), term) {
			matches = append(matches, a)
		}
	}
	return matches
}

// Categories returns the distinct categories of articles in first-seen order.
func Categories(articles []*store.Article) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range articles {
		if a.Category == "" || seen[a.Category] {
			continue
		}
		seen[a.Category] = true
		out = append(out, a.Category)
	}
	return out
}

// CreateArticle adds an article. Admin only.
func (s *Service) CreateArticle(ctx context.Context, v *Viewer, in ArticleInput) (*store.Article, error) {
	if err := requireAdmin(v); err != nil {
		return nil, err
	}
	in, err := in.validate()
	if err != nil {
		return nil, err
	}

	a := &store.Article{
		ID:        uuid.New().String(),
		Title:     in.Title,
		Content:   in.Content,
		Category:  in.Category,
		Published: in.Published,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateArticle(ctx, a); err != nil {
		return nil, storeErr(err)
	}

	s.audit(ctx, v, store.AuditCreateArticle, "article", a.ID, map[string]any{"title": a.Title})
	return a, nil
}

// UpdateArticle replaces an article's fields. Admin only.
func (s *Service) UpdateArticle(ctx context.Context, v *Viewer, id string, in ArticleInput) (*store.Article, error) {
	if err := requireAdmin(v); err != nil {
		return nil, err
	}
	in, err := in.validate()
	if err != nil {
		return nil, err
	}

	err = s.store.UpdateArticle(ctx, id, store.ArticleUpdate{
		Title:     in.Title,
		Content:   in.Content,
		Category:  in.Category,
		Published: in.Published,
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.audit(ctx, v, store.AuditUpdateArticle, "article", id, map[string]any{"title": in.Title})
	return s.store.GetArticle(ctx, id)
}

// DeleteArticle removes an article. Admin only.
func (s *Service) DeleteArticle(ctx context.Context, v *Viewer, id string) error {
	if err := requireAdmin(v); err != nil {
		return err
	}
	if err := s.store.DeleteArticle(ctx, id); err != nil {
		return storeErr(err)
	}
	s.audit(ctx, v, store.AuditDeleteArticle, "article", id, nil)
	return nil
}
