package service

import (
	"context"
	"log"

	"chirpfeed/internal/cache"
	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
	"chirpfeed/internal/queue"
	"chirpfeed/internal/repository"
)

const (
	// FollowListDefaultLimit is the default number of users per page
	FollowListDefaultLimit = 20

	// FollowListMaxLimit is the maximum number of users per page
	FollowListMaxLimit = 100
)

type FollowService struct {
	followRepo    repository.FollowRepository
	userRepo      repository.UserRepository
	publisher     queue.Publisher
	strictCursors bool
}

func NewFollowService(
	followRepo repository.FollowRepository,
	userRepo repository.UserRepository,
	publisher queue.Publisher,
	strictCursors bool,
) *FollowService {
	return &FollowService{
		followRepo:    followRepo,
		userRepo:      userRepo,
		publisher:     publisher,
		strictCursors: strictCursors,
	}
}

// Follow creates the edge from follower to followee. Idempotent: repeating
// an existing follow succeeds and returns the original edge without
// touching counters or emitting events.
func (s *FollowService) Follow(ctx context.Context, followerID, followeeID int64) (*model.Follow, error) {
	if followerID == followeeID {
		return nil, model.ErrCannotFollowSelf
	}

	if _, err := s.userRepo.GetByID(ctx, followeeID); err != nil {
		return nil, err
	}

	edge, inserted, err := s.followRepo.Follow(ctx, followerID, followeeID)
	if err != nil {
		return nil, err
	}

	if !inserted {
		log.Printf("[FollowService] Follow already exists: follower=%d followee=%d", followerID, followeeID)
		return edge, nil
	}

	// The viewer's membership snapshot is stale the instant the edge lands.
	if set := cache.FromContext(ctx); set != nil {
		set.Invalidate()
	}

	// Publish event for async backfill (after commit!)
	if s.publisher != nil {
		event := queue.NewUserFollowedEvent(followerID, followeeID)
		msgID, err := s.publisher.Publish(ctx, queue.StreamTimeline, event)
		if err != nil {
			log.Printf("[FollowService] Failed to publish UserFollowed event: follower=%d followee=%d err=%v",
				followerID, followeeID, err)
		} else {
			log.Printf("[FollowService] Published UserFollowed: follower=%d followee=%d msgID=%s",
				followerID, followeeID, msgID)
		}
	}

	return edge, nil
}

// Unfollow removes the edge. A missing edge is a no-op success: the caller
// wanted "not following" and that is already the state.
func (s *FollowService) Unfollow(ctx context.Context, followerID, followeeID int64) error {
	removed, err := s.followRepo.Unfollow(ctx, followerID, followeeID)
	if err != nil {
		return err
	}

	if !removed {
		log.Printf("[FollowService] Unfollow no-op: follower=%d followee=%d not following", followerID, followeeID)
		return nil
	}

	if set := cache.FromContext(ctx); set != nil {
		set.Invalidate()
	}

	// Publish event for async removal (after commit!)
	if s.publisher != nil {
		event := queue.NewUserUnfollowedEvent(followerID, followeeID)
		msgID, err := s.publisher.Publish(ctx, queue.StreamTimeline, event)
		if err != nil {
			log.Printf("[FollowService] Failed to publish UserUnfollowed event: follower=%d followee=%d err=%v",
				followerID, followeeID, err)
		} else {
			log.Printf("[FollowService] Published UserUnfollowed: follower=%d followee=%d msgID=%s",
				followerID, followeeID, msgID)
		}
	}

	return nil
}

// HasFollowed answers the single-edge membership check through the
// request-scoped following set when one is installed, falling back to the
// repository otherwise.
func (s *FollowService) HasFollowed(ctx context.Context, followerID, followeeID int64) (bool, error) {
	if set := cache.FromContext(ctx); set != nil {
		return set.HasFollowed(ctx, followeeID)
	}
	return s.followRepo.Exists(ctx, followerID, followeeID)
}

// Counts returns follower/following totals for a profile.
func (s *FollowService) Counts(ctx context.Context, userID int64) (*model.FollowCounts, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	followers, err := s.followRepo.CountFollowers(ctx, userID)
	if err != nil {
		return nil, err
	}
	following, err := s.followRepo.CountFollowing(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.FollowCounts{Followers: followers, Following: following}, nil
}

// GetFollowers retrieves users who follow the specified user, newest edge
// first, with an opaque keyset cursor.
func (s *FollowService) GetFollowers(ctx context.Context, userID int64, cursorToken *string, limit int, viewerID *int64) (*model.FollowListResponse, error) {
	cur, err := s.decodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	limit = clampFollowLimit(limit)

	users, next, err := s.followRepo.ListFollowers(ctx, userID, cur, limit)
	if err != nil {
		return nil, err
	}

	return s.buildFollowList(ctx, users, next, viewerID), nil
}

// GetFollowing retrieves users that the specified user follows. See
// GetFollowers for pagination semantics.
func (s *FollowService) GetFollowing(ctx context.Context, userID int64, cursorToken *string, limit int, viewerID *int64) (*model.FollowListResponse, error) {
	cur, err := s.decodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	limit = clampFollowLimit(limit)

	users, next, err := s.followRepo.ListFollowing(ctx, userID, cur, limit)
	if err != nil {
		return nil, err
	}

	return s.buildFollowList(ctx, users, next, viewerID), nil
}

func (s *FollowService) buildFollowList(ctx context.Context, users []model.FollowEdgeUser, next *cursor.Key, viewerID *int64) *model.FollowListResponse {
	if viewerID != nil {
		users = s.enrichWithFollowStatus(ctx, users)
	}

	var nextToken *string
	if next != nil {
		token := cursor.Encode(*next)
		nextToken = &token
	}

	if users == nil {
		users = []model.FollowEdgeUser{}
	}

	return &model.FollowListResponse{
		Users:      users,
		NextCursor: nextToken,
		HasMore:    next != nil,
	}
}

// enrichWithFollowStatus batch-checks whether the viewer follows each
// listed user through the request-scoped following set (one load per
// request, no N+1). A failed check degrades to has_followed=false rather
// than failing the listing.
func (s *FollowService) enrichWithFollowStatus(ctx context.Context, users []model.FollowEdgeUser) []model.FollowEdgeUser {
	if len(users) == 0 {
		return users
	}

	set := cache.FromContext(ctx)

	userIDs := make([]int64, len(users))
	for i, user := range users {
		userIDs[i] = user.ID
	}

	followMap, err := set.HasFollowedAny(ctx, userIDs)
	if err != nil {
		log.Printf("[FollowService] follow status enrichment failed: %v", err)
		return users
	}

	for i := range users {
		users[i].HasFollowed = followMap[users[i].ID]
	}

	return users
}

func (s *FollowService) decodeCursor(token *string) (*cursor.Key, error) {
	return decodeCursor(token, s.strictCursors)
}

func clampFollowLimit(limit int) int {
	if limit <= 0 {
		return FollowListDefaultLimit
	}
	if limit > FollowListMaxLimit {
		return FollowListMaxLimit
	}
	return limit
}
