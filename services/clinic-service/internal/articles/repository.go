package articles

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/SamuelAtedla/heartcare/libs/db"
)

type Article struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func IsNotFound(err error) bool {
	return err == pgx.ErrNoRows
}

func (r *Repository) Create(ctx context.Context, authorID, title, body string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO articles (id, author_id, title, body)
		VALUES ($1, $2, $3, $4)
	`, id, authorID, title, body)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) Update(ctx context.Context, authorID, id, title, body string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE articles
		SET title = $3, body = $4, updated_at = now()
		WHERE id = $1 AND author_id = $2
	`, id, authorID, title, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) SetPublished(ctx context.Context, authorID, id string, published bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE articles
		SET published = $3, updated_at = now()
		WHERE id = $1 AND author_id = $2
	`, id, authorID, published)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Get returns a single article. Unpublished articles are only visible to
// their author; pass authorID="" for public access.
func (r *Repository) Get(ctx context.Context, id, authorID string) (Article, error) {
	var a Article
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, author_id::text, title, body, published, created_at, updated_at
		FROM articles
		WHERE id = $1 AND (published = true OR author_id = NULLIF($2, '')::uuid)
	`, id, authorID).Scan(&a.ID, &a.AuthorID, &a.Title, &a.Body, &a.Published, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Article{}, err
	}
	return a, nil
}

func (r *Repository) ListPublished(ctx context.Context, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT id::text, author_id::text, title, body, published, created_at, updated_at
		FROM articles
		WHERE published = true
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (r *Repository) ListByAuthor(ctx context.Context, authorID string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT id::text, author_id::text, title, body, published, created_at, updated_at
		FROM articles
		WHERE author_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, authorID, limit)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Article, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.AuthorID, &a.Title, &a.Body, &a.Published, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
