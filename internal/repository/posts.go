package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"campusconnect/internal/model"
)

const postColumns = `
	id, title, body, category, author_id, author_role, target_branches,
	version, created_at, updated_at
`

func scanPost(row pgx.Row) (model.Post, error) {
	var post model.Post
	err := row.Scan(
		&post.ID,
		&post.Title,
		&post.Body,
		&post.Category,
		&post.AuthorID,
		&post.AuthorRole,
		&post.TargetBranches,
		&post.Version,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	return post, err
}

func (s *Store) CreatePost(ctx context.Context, post model.Post) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (id, title, body, category, author_id, author_role, target_branches, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, post.ID, post.Title, post.Body, post.Category, post.AuthorID, post.AuthorRole, post.TargetBranches, post.Version, post.CreatedAt, post.UpdatedAt)
	return err
}

func (s *Store) GetPost(ctx context.Context, postID string) (model.Post, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, postID)
	return scanPost(row)
}

func (s *Store) ListPosts(ctx context.Context, category string, limit int) ([]model.Post, error) {
	var rows pgx.Rows
	var err error
	if category != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+postColumns+`
			FROM posts
			WHERE category = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, category, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+postColumns+`
			FROM posts
			ORDER BY created_at DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]model.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

type PostUpdate struct {
	Title          *string
	Body           *string
	Category       *string
	TargetBranches *[]string
}

func (s *Store) UpdatePost(ctx context.Context, postID string, version int64, update PostUpdate) (model.Post, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE posts
		SET title = COALESCE($3, title),
			body = COALESCE($4, body),
			category = COALESCE($5, category),
			target_branches = COALESCE($6, target_branches),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+postColumns+`
	`, postID, version, update.Title, update.Body, update.Category, update.TargetBranches)
	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if exists(ctx, s.pool, `SELECT 1 FROM posts WHERE id = $1`, postID) {
			return post, ErrVersionConflict
		}
		return post, pgx.ErrNoRows
	}
	return post, err
}

func (s *Store) DeletePost(ctx context.Context, postID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, postID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ToggleLike flips the viewer's like membership and reports the new state.
func (s *Store) ToggleLike(ctx context.Context, postID, userID string) (bool, int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		return false, 0, err
	}
	liked := false
	if tag.RowsAffected() == 0 {
		if _, err := tx.Exec(ctx, `INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2)`, postID, userID); err != nil {
			return false, 0, err
		}
		liked = true
	}

	var count int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM post_likes WHERE post_id = $1`, postID).Scan(&count); err != nil {
		return false, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return liked, count, nil
}

func (s *Store) CountLikes(ctx context.Context, postID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM post_likes WHERE post_id = $1`, postID).Scan(&count)
	return count, err
}

func (s *Store) HasLiked(ctx context.Context, postID, userID string) (bool, error) {
	var liked bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM post_likes WHERE post_id = $1 AND user_id = $2)`, postID, userID).Scan(&liked)
	return liked, err
}
