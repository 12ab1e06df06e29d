package rebuild

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/postgres"
)

const postsQuery = `SELECT id, content FROM posts WHERE deleted_at IS NULL ORDER BY id`

// Post is one row to index.
type Post struct {
	ID      int64
	Content string
}

// Source streams every live post.
type Source interface {
	Each(ctx context.Context, fn func(Post) error) error
}

// PostgresSource reads the posts table.
type PostgresSource struct {
	client *postgres.Client
}

func NewPostgresSource(client *postgres.Client) *PostgresSource {
	return &PostgresSource{client: client}
}

func (s *PostgresSource) Each(ctx context.Context, fn func(Post) error) error {
	err := s.client.QueryEach(ctx, postsQuery, func(rows *sql.Rows) error {
		var (
			p       Post
			content sql.NullString
		)
		if err := rows.Scan(&p.ID, &content); err != nil {
			return fmt.Errorf("scanning post: %w", err)
		}
		p.Content = content.String
		return fn(p)
	})
	if err != nil {
		return fmt.Errorf("reading posts: %w", err)
	}
	return nil
}

// SliceSource serves posts from memory.
type SliceSource []Post

func (s SliceSource) Each(ctx context.Context, fn func(Post) error) error {
	for _, p := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}
