package model

import (
	"errors"
	"time"
)

// Follow is a directed edge: FollowerID receives FolloweeID's posts.
// At most one active edge exists per (follower, followee) pair; unfollow
// removes the row outright, so a later re-follow gets a fresh created_at.
type Follow struct {
	FollowerID int64     `db:"follower_id" json:"follower_id"`
	FolloweeID int64     `db:"followee_id" json:"followee_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// FollowEdgeUser is one row of a followers/following listing: the user on
// the far side of the edge plus the edge timestamp the page is ordered by.
type FollowEdgeUser struct {
	UserSummary
	FollowedAt time.Time `db:"followed_at" json:"followed_at"`
}

// FollowListResponse is the paginated followers/following response.
type FollowListResponse struct {
	Users      []FollowEdgeUser `json:"users"`
	NextCursor *string          `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

// FollowCounts holds both edge counts for a profile summary.
type FollowCounts struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
}

// ErrCannotFollowSelf is returned on a self-follow attempt. Duplicate
// follows are not an error: Follow is idempotent and returns the existing
// edge. Unfollowing a missing edge is a no-op success.
var ErrCannotFollowSelf = errors.New("cannot follow yourself")
