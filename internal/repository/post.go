package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
)

type postRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) PostRepository {
	return &postRepository{db: db}
}

// Create inserts a new post and bumps the author's post count in a transaction.
func (r *postRepository) Create(ctx context.Context, userID int64, content string) (*model.Post, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var post model.Post
	query := `
		INSERT INTO posts (user_id, content)
		VALUES ($1, $2)
		RETURNING id, user_id, content, created_at, updated_at
	`
	if err := tx.GetContext(ctx, &post, query, userID, content); err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE users SET post_count = post_count + 1 WHERE id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("increment post count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &post, nil
}

func (r *postRepository) GetByID(ctx context.Context, postID int64) (*model.Post, error) {
	query := `
		SELECT id, user_id, content, created_at, updated_at
		FROM posts
		WHERE id = $1 AND deleted_at IS NULL
	`
	var post model.Post
	err := r.db.GetContext(ctx, &post, query, postID)
	if err == sql.ErrNoRows {
		return nil, model.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}

	posts := []model.Post{post}
	if err := r.attachAuthors(ctx, posts); err != nil {
		return nil, err
	}
	return &posts[0], nil
}

// GetByIDs fetches posts in no particular order; callers re-order by their
// own ordering keys.
func (r *postRepository) GetByIDs(ctx context.Context, postIDs []int64) ([]model.Post, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, user_id, content, created_at, updated_at
		FROM posts
		WHERE id = ANY($1) AND deleted_at IS NULL
	`
	var posts []model.Post
	if err := r.db.SelectContext(ctx, &posts, query, pq.Array(postIDs)); err != nil {
		return nil, fmt.Errorf("get posts by ids: %w", err)
	}

	if err := r.attachAuthors(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// attachAuthors batch-fetches author summaries for a set of posts. One
// query regardless of page size.
func (r *postRepository) attachAuthors(ctx context.Context, posts []model.Post) error {
	if len(posts) == 0 {
		return nil
	}

	authorIDs := make([]int64, 0, len(posts))
	seen := make(map[int64]struct{}, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		authorIDs = append(authorIDs, p.UserID)
	}

	var authors []model.UserSummary
	err := r.db.SelectContext(ctx, &authors, `
		SELECT id, username, display_name, avatar_url
		FROM users
		WHERE id = ANY($1)
	`, pq.Array(authorIDs))
	if err != nil {
		return fmt.Errorf("fetch post authors: %w", err)
	}

	byID := make(map[int64]model.UserSummary, len(authors))
	for _, a := range authors {
		byID[a.ID] = a
	}

	for i := range posts {
		if author, ok := byID[posts[i].UserID]; ok {
			a := author
			posts[i].Author = &a
		}
	}
	return nil
}

// Delete performs a soft delete on a post after verifying ownership.
func (r *postRepository) Delete(ctx context.Context, postID, userID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE posts SET deleted_at = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, postID, userID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1 AND deleted_at IS NULL)`, postID)
		if err != nil {
			return fmt.Errorf("check post owner: %w", err)
		}
		if exists {
			return model.ErrNotPostOwner
		}
		return model.ErrPostNotFound
	}

	_, err = tx.ExecContext(ctx, `UPDATE users SET post_count = post_count - 1 WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("decrement post count: %w", err)
	}

	return tx.Commit()
}

// ListByAuthor pages an author's posts newest-first, probing one past the
// page to decide whether a next cursor exists.
func (r *postRepository) ListByAuthor(ctx context.Context, authorID int64, cur *cursor.Key, limit int) ([]model.Post, *cursor.Key, error) {
	var query string
	var args []interface{}

	if cur == nil {
		query = `
			SELECT id, user_id, content, created_at, updated_at
			FROM posts
			WHERE user_id = $1 AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`
		args = []interface{}{authorID, limit + 1}
	} else {
		query = `
			SELECT id, user_id, content, created_at, updated_at
			FROM posts
			WHERE user_id = $1 AND deleted_at IS NULL AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`
		args = []interface{}{authorID, time.UnixMicro(cur.Ord).UTC(), cur.ID, limit + 1}
	}

	var posts []model.Post
	if err := r.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, nil, fmt.Errorf("list posts by author: %w", err)
	}

	var next *cursor.Key
	if len(posts) > limit {
		posts = posts[:limit]
		last := posts[limit-1]
		next = &cursor.Key{Ord: model.TimelineOrderingKey(last.CreatedAt), ID: last.ID}
	}

	if err := r.attachAuthors(ctx, posts); err != nil {
		return nil, nil, err
	}
	return posts, next, nil
}

func (r *postRepository) RecentRefsByAuthor(ctx context.Context, authorID int64, limit int) ([]model.PostRef, error) {
	type row struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}

	var rows []row
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, created_at FROM posts
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, authorID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent refs by author: %w", err)
	}

	refs := make([]model.PostRef, len(rows))
	for i, r := range rows {
		refs[i] = model.PostRef{PostID: r.ID, OrderingKey: model.TimelineOrderingKey(r.CreatedAt)}
	}
	return refs, nil
}

func (r *postRepository) RefsByAuthorsBefore(ctx context.Context, authorIDs []int64, cur *cursor.Key, limit int) ([]model.PostRef, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}

	type row struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}

	var query string
	var args []interface{}

	if cur == nil {
		query = `
			SELECT id, created_at FROM posts
			WHERE user_id = ANY($1) AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`
		args = []interface{}{pq.Array(authorIDs), limit}
	} else {
		query = `
			SELECT id, created_at FROM posts
			WHERE user_id = ANY($1) AND deleted_at IS NULL AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`
		args = []interface{}{pq.Array(authorIDs), time.UnixMicro(cur.Ord).UTC(), cur.ID, limit}
	}

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("refs by authors: %w", err)
	}

	refs := make([]model.PostRef, len(rows))
	for i, r := range rows {
		refs[i] = model.PostRef{PostID: r.ID, OrderingKey: model.TimelineOrderingKey(r.CreatedAt)}
	}
	return refs, nil
}
