package model

import "time"

// TimelineEntry says "post appears in owner's timeline at this position".
// Entries are written exclusively by the fan-out engine and never mutated;
// (owner_user_id, post_id) is unique so redelivered fan-out is a no-op.
type TimelineEntry struct {
	OwnerUserID int64 `db:"owner_user_id" json:"owner_user_id"`
	PostID      int64 `db:"post_id" json:"post_id"`
	OrderingKey int64 `db:"ordering_key" json:"ordering_key"`
}

// Ref returns the entry as a distributable post reference.
func (e TimelineEntry) Ref() PostRef {
	return PostRef{PostID: e.PostID, OrderingKey: e.OrderingKey}
}

// TimelineOrderingKey derives the total-order position of a post from its
// creation time: Unix microseconds. Microsecond values stay exactly
// representable as float64 (Redis zset scores) for a few more centuries;
// ties are broken by post ID at query time.
func TimelineOrderingKey(createdAt time.Time) int64 {
	return createdAt.UnixMicro()
}

// TimelinePost is an enriched post for timeline display.
type TimelinePost struct {
	Post
	OrderingKey int64 `json:"-"`
}

// TimelineResponse is the paginated timeline read response.
type TimelineResponse struct {
	Posts      []TimelinePost `json:"posts"`
	NextCursor *string        `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}
