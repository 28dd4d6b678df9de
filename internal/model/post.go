package model

import (
	"errors"
	"time"
)

// Post represents a user's post. The timeline machinery only ever handles
// post IDs and ordering keys; full rows are fetched at render time.
type Post struct {
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	Content   string     `db:"content" json:"content"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`

	// Joined field (not in posts table)
	Author *UserSummary `json:"author,omitempty"`
}

// PostRef is a lightweight (post, ordering position) pair, the unit the
// fan-out engine distributes and the timeline cache stores.
type PostRef struct {
	PostID      int64 `json:"post_id"`
	OrderingKey int64 `json:"ordering_key"`
}

// CreatePostRequest is the request body for creating a post.
type CreatePostRequest struct {
	Content string `json:"content"`
}

// PostListResponse is one page of a user's posts.
type PostListResponse struct {
	Posts      []Post  `json:"posts"`
	NextCursor *string `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

const MaxPostContentLength = 280

// Post errors
var (
	ErrPostNotFound   = errors.New("post not found")
	ErrNotPostOwner   = errors.New("not the owner of this post")
	ErrContentEmpty   = errors.New("post content is required")
	ErrContentTooLong = errors.New("post content too long")
)
