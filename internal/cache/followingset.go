package cache

import (
	"context"
	"fmt"
	"sync"
)

// FollowingLookup is the slice of the follow repository the snapshot needs.
type FollowingLookup interface {
	GetFolloweeIDs(ctx context.Context, userID int64) ([]int64, error)
	CountFollowing(ctx context.Context, userID int64) (int64, error)
	CheckFollows(ctx context.Context, followerID int64, followeeIDs []int64) (map[int64]bool, error)
}

// FollowingSet is a request-scoped snapshot of "accounts this viewer
// follows", so membership checks across a result page cost one storage
// round trip instead of one per row. It is created per request, carried in
// the request context, and discarded with it; it is never shared across
// viewers or requests, so a stale snapshot can only mislead the request
// that made the writes it is missing — and Invalidate closes that gap.
type FollowingSet struct {
	viewerID int64
	maxSize  int
	lookup   FollowingLookup

	mu       sync.Mutex
	loaded   bool
	oversize bool
	ids      map[int64]struct{}
}

// NewFollowingSet builds an empty, unloaded snapshot for viewerID.
// viewerID 0 means anonymous: every membership check is false and storage
// is never touched.
func NewFollowingSet(viewerID int64, lookup FollowingLookup, maxSize int) *FollowingSet {
	return &FollowingSet{viewerID: viewerID, lookup: lookup, maxSize: maxSize}
}

// HasFollowed reports whether the viewer follows userID.
func (s *FollowingSet) HasFollowed(ctx context.Context, userID int64) (bool, error) {
	if s == nil || s.viewerID == 0 {
		return false, nil
	}

	result, err := s.HasFollowedAny(ctx, []int64{userID})
	if err != nil {
		return false, err
	}
	return result[userID], nil
}

// HasFollowedAny answers membership for a whole batch of candidate users.
// The snapshot loads at most once per scope; following sets larger than
// maxSize are never materialized and degrade to one batch query per call.
func (s *FollowingSet) HasFollowedAny(ctx context.Context, userIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(userIDs))
	if s == nil || s.viewerID == 0 || len(userIDs) == 0 {
		for _, id := range userIDs {
			result[id] = false
		}
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.load(ctx); err != nil {
			return nil, err
		}
	}

	if s.oversize {
		return s.lookup.CheckFollows(ctx, s.viewerID, userIDs)
	}

	for _, id := range userIDs {
		_, ok := s.ids[id]
		result[id] = ok
	}
	return result, nil
}

// load materializes the snapshot, or flags it oversize. Caller holds s.mu.
func (s *FollowingSet) load(ctx context.Context) error {
	count, err := s.lookup.CountFollowing(ctx, s.viewerID)
	if err != nil {
		return fmt.Errorf("count following: %w", err)
	}

	if count > int64(s.maxSize) {
		s.oversize = true
		s.loaded = true
		return nil
	}

	ids, err := s.lookup.GetFolloweeIDs(ctx, s.viewerID)
	if err != nil {
		return fmt.Errorf("load following set: %w", err)
	}

	s.ids = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	s.loaded = true
	return nil
}

// Invalidate discards the snapshot so the next membership check in this
// scope reloads it. Called after the viewer follows or unfollows someone,
// which keeps write-then-read within one request consistent.
func (s *FollowingSet) Invalidate() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.loaded = false
	s.oversize = false
	s.ids = nil
	s.mu.Unlock()
}

type followingSetKey struct{}

// IntoContext attaches the request-scoped snapshot to a context.
func IntoContext(ctx context.Context, s *FollowingSet) context.Context {
	return context.WithValue(ctx, followingSetKey{}, s)
}

// FromContext returns the request's snapshot, or nil when no middleware
// installed one; a nil snapshot behaves as anonymous.
func FromContext(ctx context.Context) *FollowingSet {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(followingSetKey{}).(*FollowingSet)
	return s
}
