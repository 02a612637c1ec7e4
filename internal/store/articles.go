// ABOUTME: Knowledge-base article persistence
// ABOUTME: Articles are markdown documents with a category and a published flag

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateArticle stores a new article.
func (s *SQLiteStore) CreateArticle(ctx context.Context, a *Article) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt

	query := `
		INSERT INTO articles (id, title, content, category, published, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.Title,
		a.Content,
		a.Category,
		boolToInt(a.Published),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting article: %w", err)
	}

	s.logger.Info("created article", "id", a.ID, "title", a.Title)
	return nil
}

const articleColumns = `id, title, content, category, published, created_at, updated_at`

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var published int
	var createdAtStr, updatedAtStr string

	err := row.Scan(&a.ID, &a.Title, &a.Content, &a.Category, &published, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning article: %w", err)
	}

	a.Published = published != 0
	if a.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}

// GetArticle retrieves an article by ID.
func (s *SQLiteStore) GetArticle(ctx context.Context, id string) (*Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE id = ?`
	return scanArticle(s.db.QueryRowContext(ctx, query, id))
}

// ListArticles returns articles newest first, optionally only published ones.
func (s *SQLiteStore) ListArticles(ctx context.Context, publishedOnly bool) ([]*Article, error) {
	query := `
		SELECT ` + articleColumns + `
		FROM articles
		WHERE (? = 0 OR published = 1)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, boolToInt(publishedOnly), normalizeLimit(1000))
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var articles []*Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating articles: %w", err)
	}

	return articles, nil
}

// UpdateArticle replaces the editable fields of an article.
func (s *SQLiteStore) UpdateArticle(ctx context.Context, id string, u ArticleUpdate) error {
	query := `
		UPDATE articles
		SET title = ?, content = ?, category = ?, published = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		u.Title, u.Content, u.Category, boolToInt(u.Published), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating article: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("updated article", "id", id)
	return nil
}

// DeleteArticle removes an article.
func (s *SQLiteStore) DeleteArticle(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting article: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("deleted article", "id", id)
	return nil
}
