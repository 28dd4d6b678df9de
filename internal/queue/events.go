package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types for the timeline stream
const (
	EventPostCreated    = "post_created"
	EventPostDeleted    = "post_deleted"
	EventUserFollowed   = "user_followed"
	EventUserUnfollowed = "user_unfollowed"
)

// StreamTimeline is the single stream all fan-out events flow through.
const StreamTimeline = "stream:timeline"

// ConsumerGroupFanout is the consumer group the fan-out workers read as.
const ConsumerGroupFanout = "fanout_workers"

// TimelineEvent is the payload published for every fan-out trigger. One
// structure covers all event types; unused fields stay zero.
type TimelineEvent struct {
	Type      string `json:"type"`
	EmittedAt int64  `json:"emitted_at"` // Unix seconds when the event was published

	// Post events (PostCreated, PostDeleted)
	PostID      int64 `json:"post_id,omitempty"`
	AuthorID    int64 `json:"author_id,omitempty"`
	OrderingKey int64 `json:"ordering_key,omitempty"` // post creation time, Unix microseconds

	// Follow events (UserFollowed, UserUnfollowed)
	FollowerID int64 `json:"follower_id,omitempty"`
	FolloweeID int64 `json:"followee_id,omitempty"`
}

// NewPostCreatedEvent triggers fan-out of a fresh post into every current
// follower's timeline.
func NewPostCreatedEvent(postID, authorID, orderingKey int64) TimelineEvent {
	return TimelineEvent{
		Type:        EventPostCreated,
		EmittedAt:   time.Now().Unix(),
		PostID:      postID,
		AuthorID:    authorID,
		OrderingKey: orderingKey,
	}
}

// NewPostDeletedEvent triggers best-effort removal of a deleted post from
// every follower's timeline.
func NewPostDeletedEvent(postID, authorID int64) TimelineEvent {
	return TimelineEvent{
		Type:      EventPostDeleted,
		EmittedAt: time.Now().Unix(),
		PostID:    postID,
		AuthorID:  authorID,
	}
}

// NewUserFollowedEvent triggers backfill of the followee's recent posts
// into the new follower's timeline.
func NewUserFollowedEvent(followerID, followeeID int64) TimelineEvent {
	return TimelineEvent{
		Type:       EventUserFollowed,
		EmittedAt:  time.Now().Unix(),
		FollowerID: followerID,
		FolloweeID: followeeID,
	}
}

// NewUserUnfollowedEvent triggers removal of the followee's posts from the
// former follower's timeline.
func NewUserUnfollowedEvent(followerID, followeeID int64) TimelineEvent {
	return TimelineEvent{
		Type:       EventUserUnfollowed,
		EmittedAt:  time.Now().Unix(),
		FollowerID: followerID,
		FolloweeID: followeeID,
	}
}

// ToMap converts the event to field-value pairs for XADD. The payload is
// JSON in a single "data" field; "type" is duplicated for stream inspection.
func (e TimelineEvent) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

// ParseTimelineEvent parses a TimelineEvent from stream message values.
func ParseTimelineEvent(values map[string]interface{}) (TimelineEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return TimelineEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event TimelineEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return TimelineEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
