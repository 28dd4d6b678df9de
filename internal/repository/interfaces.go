package repository

import (
	"context"
	"time"

	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
}

// FollowRepository is the only component that reads or writes follow edges.
type FollowRepository interface {
	// Follow creates the edge inside a transaction that also bumps the
	// denormalized counters. Idempotent: a duplicate call returns the
	// existing edge with inserted=false and leaves created_at untouched.
	Follow(ctx context.Context, followerID, followeeID int64) (edge *model.Follow, inserted bool, err error)

	// Unfollow removes the edge. A missing edge is a no-op success.
	Unfollow(ctx context.Context, followerID, followeeID int64) (removed bool, err error)

	Exists(ctx context.Context, followerID, followeeID int64) (bool, error)

	// ListFollowers / ListFollowing page edges newest-first with a keyset
	// cursor of (created_at, adjacent user id).
	ListFollowers(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error)
	ListFollowing(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error)

	// Counts run against the follows table itself so they agree with the
	// listings inside one storage snapshot.
	CountFollowers(ctx context.Context, userID int64) (int64, error)
	CountFollowing(ctx context.Context, userID int64) (int64, error)

	// CheckFollows answers "does follower follow each of these users" in a
	// single batch query.
	CheckFollows(ctx context.Context, followerID int64, followeeIDs []int64) (map[int64]bool, error)

	GetFolloweeIDs(ctx context.Context, userID int64) ([]int64, error)

	// FollowerIDPage returns a bounded adjacency page for fan-out, ordered
	// by follower ID so batches can resume after afterID.
	FollowerIDPage(ctx context.Context, userID, afterID int64, limit int) ([]int64, error)

	// CelebrityFolloweeIDs returns the followees of viewerID whose follower
	// count is at or above threshold; their posts are pulled at read time
	// instead of fanned out at write time.
	CelebrityFolloweeIDs(ctx context.Context, viewerID int64, threshold int) ([]int64, error)
}

// TimelineRepository owns the durable, per-owner materialized timeline.
// Entries are only ever written through Append by the fan-out engine.
type TimelineRepository interface {
	// Append is idempotent on (owner, post): a duplicate is ignored and
	// reported with inserted=false.
	Append(ctx context.Context, ownerID, postID, orderingKey int64) (inserted bool, err error)

	// ReadPage returns entries strictly ordered by (ordering_key, post_id)
	// descending. Reads are pure; a cancelled read leaves no writes behind.
	ReadPage(ctx context.Context, ownerID int64, cur *cursor.Key, limit int) ([]model.TimelineEntry, *cursor.Key, error)

	// Remove deletes one entry; missing entries are a no-op.
	Remove(ctx context.Context, ownerID, postID int64) error

	// RemoveByAuthor deletes every entry in owner's timeline whose post was
	// authored by authorID (unfollow cleanup).
	RemoveByAuthor(ctx context.Context, ownerID, authorID int64) (int64, error)

	// RecordFailure stores an exhausted fan-out delivery for out-of-band
	// reconciliation; it must never fail post creation.
	RecordFailure(ctx context.Context, ownerID, postID, orderingKey int64, reason string) error
}

type PostRepository interface {
	Create(ctx context.Context, userID int64, content string) (*model.Post, error)
	GetByID(ctx context.Context, postID int64) (*model.Post, error)
	GetByIDs(ctx context.Context, postIDs []int64) ([]model.Post, error)
	Delete(ctx context.Context, postID, userID int64) error

	// RecentRefsByAuthor returns the author's newest post references, used
	// for follow backfill and unfollow cache cleanup.
	RecentRefsByAuthor(ctx context.Context, authorID int64, limit int) ([]model.PostRef, error)

	// RefsByAuthorsBefore returns post references by any of the given
	// authors older than the cursor position, newest first. This is the
	// pull-model read path for high-follower authors.
	RefsByAuthorsBefore(ctx context.Context, authorIDs []int64, cur *cursor.Key, limit int) ([]model.PostRef, error)

	// ListByAuthor pages one author's posts newest-first with a keyset
	// cursor of (created_at, post id).
	ListByAuthor(ctx context.Context, authorID int64, cur *cursor.Key, limit int) ([]model.Post, *cursor.Key, error)
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	Revoke(ctx context.Context, id string, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}
