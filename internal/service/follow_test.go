package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"chirpfeed/internal/cache"
	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
	"chirpfeed/internal/queue"
)

// =============================================================================
// MOCKS
// =============================================================================

type mockUserRepository struct {
	createFn           func(ctx context.Context, user *model.User) error
	getByIDFn          func(ctx context.Context, id int64) (*model.User, error)
	getByUsernameFn    func(ctx context.Context, username string) (*model.User, error)
	existsByUsernameFn func(ctx context.Context, username string) (bool, error)
}

func (m *mockUserRepository) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return &model.User{ID: id, Username: "someone"}, nil
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.getByUsernameFn != nil {
		return m.getByUsernameFn(ctx, username)
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	if m.existsByUsernameFn != nil {
		return m.existsByUsernameFn(ctx, username)
	}
	return false, nil
}

type mockFollowRepository struct {
	followFn               func(ctx context.Context, followerID, followeeID int64) (*model.Follow, bool, error)
	unfollowFn             func(ctx context.Context, followerID, followeeID int64) (bool, error)
	existsFn               func(ctx context.Context, followerID, followeeID int64) (bool, error)
	listFollowersFn        func(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error)
	listFollowingFn        func(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error)
	countFollowersFn       func(ctx context.Context, userID int64) (int64, error)
	countFollowingFn       func(ctx context.Context, userID int64) (int64, error)
	checkFollowsFn         func(ctx context.Context, followerID int64, followeeIDs []int64) (map[int64]bool, error)
	getFolloweeIDsFn       func(ctx context.Context, userID int64) ([]int64, error)
	followerIDPageFn       func(ctx context.Context, userID, afterID int64, limit int) ([]int64, error)
	celebrityFolloweeIDsFn func(ctx context.Context, viewerID int64, threshold int) ([]int64, error)
}

func (m *mockFollowRepository) Follow(ctx context.Context, followerID, followeeID int64) (*model.Follow, bool, error) {
	if m.followFn != nil {
		return m.followFn(ctx, followerID, followeeID)
	}
	return &model.Follow{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: time.Now()}, true, nil
}

func (m *mockFollowRepository) Unfollow(ctx context.Context, followerID, followeeID int64) (bool, error) {
	if m.unfollowFn != nil {
		return m.unfollowFn(ctx, followerID, followeeID)
	}
	return true, nil
}

func (m *mockFollowRepository) Exists(ctx context.Context, followerID, followeeID int64) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, followerID, followeeID)
	}
	return false, nil
}

func (m *mockFollowRepository) ListFollowers(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error) {
	if m.listFollowersFn != nil {
		return m.listFollowersFn(ctx, userID, cur, limit)
	}
	return nil, nil, nil
}

func (m *mockFollowRepository) ListFollowing(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error) {
	if m.listFollowingFn != nil {
		return m.listFollowingFn(ctx, userID, cur, limit)
	}
	return nil, nil, nil
}

func (m *mockFollowRepository) CountFollowers(ctx context.Context, userID int64) (int64, error) {
	if m.countFollowersFn != nil {
		return m.countFollowersFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockFollowRepository) CountFollowing(ctx context.Context, userID int64) (int64, error) {
	if m.countFollowingFn != nil {
		return m.countFollowingFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockFollowRepository) CheckFollows(ctx context.Context, followerID int64, followeeIDs []int64) (map[int64]bool, error) {
	if m.checkFollowsFn != nil {
		return m.checkFollowsFn(ctx, followerID, followeeIDs)
	}
	return map[int64]bool{}, nil
}

func (m *mockFollowRepository) GetFolloweeIDs(ctx context.Context, userID int64) ([]int64, error) {
	if m.getFolloweeIDsFn != nil {
		return m.getFolloweeIDsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockFollowRepository) FollowerIDPage(ctx context.Context, userID, afterID int64, limit int) ([]int64, error) {
	if m.followerIDPageFn != nil {
		return m.followerIDPageFn(ctx, userID, afterID, limit)
	}
	return nil, nil
}

func (m *mockFollowRepository) CelebrityFolloweeIDs(ctx context.Context, viewerID int64, threshold int) ([]int64, error) {
	if m.celebrityFolloweeIDsFn != nil {
		return m.celebrityFolloweeIDsFn(ctx, viewerID, threshold)
	}
	return nil, nil
}

type mockPublisher struct {
	published []queue.TimelineEvent
	publishFn func(ctx context.Context, stream string, event queue.TimelineEvent) (string, error)
}

func (m *mockPublisher) Publish(ctx context.Context, stream string, event queue.TimelineEvent) (string, error) {
	m.published = append(m.published, event)
	if m.publishFn != nil {
		return m.publishFn(ctx, stream, event)
	}
	return "1-0", nil
}

// =============================================================================
// FOLLOW / UNFOLLOW
// =============================================================================

func TestFollowService_Follow_Success(t *testing.T) {
	followRepo := &mockFollowRepository{}
	pub := &mockPublisher{}
	svc := NewFollowService(followRepo, &mockUserRepository{}, pub, false)

	edge, err := svc.Follow(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if edge.FollowerID != 1 || edge.FolloweeID != 2 {
		t.Errorf("unexpected edge: %+v", edge)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.published))
	}
	if pub.published[0].Type != queue.EventUserFollowed {
		t.Errorf("expected %s event, got %s", queue.EventUserFollowed, pub.published[0].Type)
	}
}

func TestFollowService_Follow_Self(t *testing.T) {
	svc := NewFollowService(&mockFollowRepository{}, &mockUserRepository{}, &mockPublisher{}, false)

	_, err := svc.Follow(context.Background(), 5, 5)
	if !errors.Is(err, model.ErrCannotFollowSelf) {
		t.Errorf("expected ErrCannotFollowSelf, got %v", err)
	}
}

func TestFollowService_Follow_FolloweeNotFound(t *testing.T) {
	userRepo := &mockUserRepository{
		getByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return nil, model.ErrUserNotFound
		},
	}
	svc := NewFollowService(&mockFollowRepository{}, userRepo, &mockPublisher{}, false)

	_, err := svc.Follow(context.Background(), 1, 99)
	if !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestFollowService_Follow_DuplicateIsIdempotent(t *testing.T) {
	original := time.Now().Add(-time.Hour)
	followRepo := &mockFollowRepository{
		followFn: func(ctx context.Context, followerID, followeeID int64) (*model.Follow, bool, error) {
			return &model.Follow{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: original}, false, nil
		},
	}
	pub := &mockPublisher{}
	svc := NewFollowService(followRepo, &mockUserRepository{}, pub, false)

	edge, err := svc.Follow(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("duplicate Follow should succeed, got %v", err)
	}
	if !edge.CreatedAt.Equal(original) {
		t.Errorf("duplicate follow must return the original edge timestamp")
	}
	if len(pub.published) != 0 {
		t.Errorf("duplicate follow must not publish events, got %d", len(pub.published))
	}
}

func TestFollowService_Unfollow_Success(t *testing.T) {
	pub := &mockPublisher{}
	svc := NewFollowService(&mockFollowRepository{}, &mockUserRepository{}, pub, false)

	if err := svc.Unfollow(context.Background(), 1, 2); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0].Type != queue.EventUserUnfollowed {
		t.Errorf("expected one UserUnfollowed event, got %+v", pub.published)
	}
}

func TestFollowService_Unfollow_MissingEdgeIsNoOp(t *testing.T) {
	followRepo := &mockFollowRepository{
		unfollowFn: func(ctx context.Context, followerID, followeeID int64) (bool, error) {
			return false, nil
		},
	}
	pub := &mockPublisher{}
	svc := NewFollowService(followRepo, &mockUserRepository{}, pub, false)

	if err := svc.Unfollow(context.Background(), 1, 2); err != nil {
		t.Fatalf("unfollow of missing edge should succeed, got %v", err)
	}
	if len(pub.published) != 0 {
		t.Errorf("no-op unfollow must not publish events")
	}
}

func TestFollowService_Follow_InvalidatesFollowingSet(t *testing.T) {
	followRepo := &mockFollowRepository{
		getFolloweeIDsFn: func(ctx context.Context, userID int64) ([]int64, error) {
			return []int64{2}, nil
		},
		countFollowingFn: func(ctx context.Context, userID int64) (int64, error) {
			return 1, nil
		},
	}
	svc := NewFollowService(followRepo, &mockUserRepository{}, &mockPublisher{}, false)

	set := cache.NewFollowingSet(1, followRepo, 100)
	ctx := cache.IntoContext(context.Background(), set)

	// Snapshot loads before the write.
	if ok, err := set.HasFollowed(ctx, 3); err != nil || ok {
		t.Fatalf("precondition: HasFollowed(3) = %v, %v", ok, err)
	}

	followRepo.getFolloweeIDsFn = func(ctx context.Context, userID int64) ([]int64, error) {
		return []int64{2, 3}, nil
	}
	if _, err := svc.Follow(ctx, 1, 3); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	// Same scope reads back its own write after invalidation.
	ok, err := set.HasFollowed(ctx, 3)
	if err != nil {
		t.Fatalf("HasFollowed: %v", err)
	}
	if !ok {
		t.Errorf("following set not invalidated after follow")
	}
}

// =============================================================================
// LISTINGS
// =============================================================================

func TestFollowService_GetFollowers_Pagination(t *testing.T) {
	edgeTime := time.Now()
	next := &cursor.Key{Ord: edgeTime.UnixMicro(), ID: 7}
	followRepo := &mockFollowRepository{
		listFollowersFn: func(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error) {
			users := []model.FollowEdgeUser{
				{UserSummary: model.UserSummary{ID: 9, Username: "ada"}, FollowedAt: edgeTime},
				{UserSummary: model.UserSummary{ID: 7, Username: "bob"}, FollowedAt: edgeTime},
			}
			return users, next, nil
		},
	}
	svc := NewFollowService(followRepo, &mockUserRepository{}, &mockPublisher{}, false)

	resp, err := svc.GetFollowers(context.Background(), 1, nil, 2, nil)
	if err != nil {
		t.Fatalf("GetFollowers: %v", err)
	}
	if len(resp.Users) != 2 || !resp.HasMore || resp.NextCursor == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// The token round-trips back to the same position.
	key, err := cursor.Decode(*resp.NextCursor)
	if err != nil {
		t.Fatalf("Decode next cursor: %v", err)
	}
	if key != *next {
		t.Errorf("cursor round-trip mismatch: got %+v want %+v", key, *next)
	}
}

func TestFollowService_GetFollowers_EnrichesFollowStatus(t *testing.T) {
	followRepo := &mockFollowRepository{
		listFollowersFn: func(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error) {
			return []model.FollowEdgeUser{
				{UserSummary: model.UserSummary{ID: 2}},
				{UserSummary: model.UserSummary{ID: 3}},
			}, nil, nil
		},
		getFolloweeIDsFn: func(ctx context.Context, userID int64) ([]int64, error) {
			return []int64{3}, nil
		},
		countFollowingFn: func(ctx context.Context, userID int64) (int64, error) {
			return 1, nil
		},
	}
	svc := NewFollowService(followRepo, &mockUserRepository{}, &mockPublisher{}, false)

	viewerID := int64(1)
	ctx := cache.IntoContext(context.Background(), cache.NewFollowingSet(viewerID, followRepo, 100))

	resp, err := svc.GetFollowers(ctx, 5, nil, 10, &viewerID)
	if err != nil {
		t.Fatalf("GetFollowers: %v", err)
	}
	if resp.Users[0].HasFollowed {
		t.Errorf("user 2 should not be marked followed")
	}
	if !resp.Users[1].HasFollowed {
		t.Errorf("user 3 should be marked followed")
	}
}

func TestFollowService_InvalidCursorRestartsByDefault(t *testing.T) {
	var gotCur *cursor.Key
	called := false
	followRepo := &mockFollowRepository{
		listFollowersFn: func(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error) {
			called = true
			gotCur = cur
			return nil, nil, nil
		},
	}
	svc := NewFollowService(followRepo, &mockUserRepository{}, &mockPublisher{}, false)

	bad := "not-a-cursor"
	if _, err := svc.GetFollowers(context.Background(), 1, &bad, 10, nil); err != nil {
		t.Fatalf("lenient mode should not error on bad cursor: %v", err)
	}
	if !called || gotCur != nil {
		t.Errorf("expected listing restarted from beginning")
	}
}

func TestFollowService_InvalidCursorRejectedWhenStrict(t *testing.T) {
	svc := NewFollowService(&mockFollowRepository{}, &mockUserRepository{}, &mockPublisher{}, true)

	bad := "not-a-cursor"
	_, err := svc.GetFollowers(context.Background(), 1, &bad, 10, nil)
	if !errors.Is(err, cursor.ErrInvalid) {
		t.Errorf("expected ErrInvalid in strict mode, got %v", err)
	}
}

func TestFollowService_Counts(t *testing.T) {
	followRepo := &mockFollowRepository{
		countFollowersFn: func(ctx context.Context, userID int64) (int64, error) { return 12, nil },
		countFollowingFn: func(ctx context.Context, userID int64) (int64, error) { return 4, nil },
	}
	svc := NewFollowService(followRepo, &mockUserRepository{}, &mockPublisher{}, false)

	counts, err := svc.Counts(context.Background(), 1)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Followers != 12 || counts.Following != 4 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}
