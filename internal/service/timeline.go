package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"chirpfeed/internal/cache"
	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
	"chirpfeed/internal/repository"
)

const (
	// TimelineDefaultLimit is the default number of posts per page
	TimelineDefaultLimit = 10

	// TimelineMaxLimit is the maximum number of posts per page
	TimelineMaxLimit = 50

	// CacheWarmLimit is max entries to load when warming the cache
	CacheWarmLimit = 500
)

type TimelineService struct {
	timelineRepo  repository.TimelineRepository
	postRepo      repository.PostRepository
	followRepo    repository.FollowRepository
	timelineCache cache.TimelineCache
	pullThreshold int
	strictCursors bool
}

func NewTimelineService(
	timelineRepo repository.TimelineRepository,
	postRepo repository.PostRepository,
	followRepo repository.FollowRepository,
	timelineCache cache.TimelineCache,
	pullThreshold int,
	strictCursors bool,
) *TimelineService {
	return &TimelineService{
		timelineRepo:  timelineRepo,
		postRepo:      postRepo,
		followRepo:    followRepo,
		timelineCache: timelineCache,
		pullThreshold: pullThreshold,
		strictCursors: strictCursors,
	}
}

// GetTimeline returns one page of the viewer's home timeline, newest first,
// with an opaque keyset cursor.
//
// Flow:
//  1. Resolve any followees above the pull threshold; their posts are not
//     fanned out and must be merged in at read time.
//  2. First page with no pull authors is served from the Redis cache
//     (warming it on miss); every other page reads the durable store.
//  3. Hydrate post references into full posts, dropping ones deleted since
//     fan-out.
//  4. Build the next cursor from the last reference of the page.
func (s *TimelineService) GetTimeline(ctx context.Context, userID int64, cursorToken *string, limit int) (*model.TimelineResponse, error) {
	startTime := time.Now()

	if limit <= 0 {
		limit = TimelineDefaultLimit
	}
	if limit > TimelineMaxLimit {
		limit = TimelineMaxLimit
	}

	cur, err := decodeCursor(cursorToken, s.strictCursors)
	if err != nil {
		return nil, err
	}

	pullAuthors, err := s.followRepo.CelebrityFolloweeIDs(ctx, userID, s.pullThreshold)
	if err != nil {
		log.Printf("[TimelineService] celebrity lookup failed for user=%d: %v", userID, err)
		pullAuthors = nil
	}

	var refs []model.PostRef
	var next *cursor.Key

	switch {
	case len(pullAuthors) > 0:
		refs, next, err = s.mergedPage(ctx, userID, pullAuthors, cur, limit)
	case cur == nil && s.timelineCache != nil:
		refs, next, err = s.firstPageCached(ctx, userID, limit)
	default:
		refs, next, err = s.storePage(ctx, userID, cur, limit)
	}
	if err != nil {
		return nil, err
	}

	posts, err := s.hydrate(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("hydrate posts: %w", err)
	}

	var nextToken *string
	if next != nil {
		token := cursor.Encode(*next)
		nextToken = &token
	}

	log.Printf("[TimelineService] GetTimeline OK: user=%d posts=%d hasMore=%v duration=%v",
		userID, len(posts), next != nil, time.Since(startTime))

	return &model.TimelineResponse{
		Posts:      posts,
		NextCursor: nextToken,
		HasMore:    next != nil,
	}, nil
}

// storePage reads one keyset page from the durable timeline store.
func (s *TimelineService) storePage(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.PostRef, *cursor.Key, error) {
	entries, next, err := s.timelineRepo.ReadPage(ctx, userID, cur, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("read timeline page: %w", err)
	}

	refs := make([]model.PostRef, len(entries))
	for i, e := range entries {
		refs[i] = e.Ref()
	}
	return refs, next, nil
}

// firstPageCached serves the first page from the Redis sorted set, warming
// it from the durable store on a miss. Any cache trouble falls back to the
// store; the cache is an accelerator, never the source of truth.
func (s *TimelineService) firstPageCached(ctx context.Context, userID int64, limit int) ([]model.PostRef, *cursor.Key, error) {
	exists, err := s.timelineCache.Exists(ctx, userID)
	if err != nil {
		log.Printf("[TimelineService] cache check failed for user=%d: %v", userID, err)
		return s.storePage(ctx, userID, nil, limit)
	}

	warmed := false
	if !exists {
		log.Printf("[TimelineService] cache miss for user=%d, warming...", userID)
		if err := s.warmCache(ctx, userID); err != nil {
			log.Printf("[TimelineService] cache warm failed for user=%d: %v", userID, err)
			return s.storePage(ctx, userID, nil, limit)
		}
		warmed = true
	}

	refs, err := s.timelineCache.FirstPage(ctx, userID, limit+1)
	if err != nil {
		log.Printf("[TimelineService] cache read failed for user=%d: %v", userID, err)
		return s.storePage(ctx, userID, nil, limit)
	}

	// An existing key is not proof of a complete cache: eviction followed
	// by a single fan-out push recreates it holding only the newest post.
	// When an unwarmed cache cannot fill limit+1, re-warm from the store;
	// after a warm, fewer than limit+1 really means the timeline ends here.
	if len(refs) <= limit && !warmed {
		if err := s.warmCache(ctx, userID); err != nil {
			log.Printf("[TimelineService] cache re-warm failed for user=%d: %v", userID, err)
			return s.storePage(ctx, userID, nil, limit)
		}
		refs, err = s.timelineCache.FirstPage(ctx, userID, limit+1)
		if err != nil {
			log.Printf("[TimelineService] cache read failed for user=%d: %v", userID, err)
			return s.storePage(ctx, userID, nil, limit)
		}
	}

	var next *cursor.Key
	if len(refs) > limit {
		refs = refs[:limit]
		last := refs[limit-1]
		next = &cursor.Key{Ord: last.OrderingKey, ID: last.PostID}
	}
	return refs, next, nil
}

// warmCache rebuilds the user's cached timeline from the durable store.
func (s *TimelineService) warmCache(ctx context.Context, userID int64) error {
	entries, _, err := s.timelineRepo.ReadPage(ctx, userID, nil, CacheWarmLimit)
	if err != nil {
		return fmt.Errorf("read entries for warm: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	refs := make([]model.PostRef, len(entries))
	for i, e := range entries {
		refs[i] = e.Ref()
	}
	return s.timelineCache.Warm(ctx, userID, refs)
}

// mergedPage combines the viewer's fanned-out entries with posts pulled
// live from high-follower followees. Both sides are read with the same
// cursor, merged newest-first, and deduplicated on post ID (a follow that
// predates an author crossing the threshold can leave a pushed copy).
// Each side probes limit+1 entries so a full merged page always carries a
// next cursor even when only one side has anything left.
func (s *TimelineService) mergedPage(ctx context.Context, userID int64, pullAuthors []int64, cur *cursor.Key, limit int) ([]model.PostRef, *cursor.Key, error) {
	pushed, _, err := s.timelineRepo.ReadPage(ctx, userID, cur, limit+1)
	if err != nil {
		return nil, nil, fmt.Errorf("read timeline page: %w", err)
	}

	pulled, err := s.postRepo.RefsByAuthorsBefore(ctx, pullAuthors, cur, limit+1)
	if err != nil {
		return nil, nil, fmt.Errorf("pull posts: %w", err)
	}

	merged := make([]model.PostRef, 0, len(pushed)+len(pulled))
	seen := make(map[int64]struct{}, len(pushed)+len(pulled))
	for _, e := range pushed {
		if _, ok := seen[e.PostID]; ok {
			continue
		}
		seen[e.PostID] = struct{}{}
		merged = append(merged, e.Ref())
	}
	for _, ref := range pulled {
		if _, ok := seen[ref.PostID]; ok {
			continue
		}
		seen[ref.PostID] = struct{}{}
		merged = append(merged, ref)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].OrderingKey != merged[j].OrderingKey {
			return merged[i].OrderingKey > merged[j].OrderingKey
		}
		return merged[i].PostID > merged[j].PostID
	})

	var next *cursor.Key
	if len(merged) > limit {
		merged = merged[:limit]
		last := merged[limit-1]
		next = &cursor.Key{Ord: last.OrderingKey, ID: last.PostID}
	}
	return merged, next, nil
}

// hydrate resolves post references into full posts with authors, keeping
// reference order. Posts deleted since fan-out simply drop out of the page.
func (s *TimelineService) hydrate(ctx context.Context, refs []model.PostRef) ([]model.TimelinePost, error) {
	if len(refs) == 0 {
		return []model.TimelinePost{}, nil
	}

	postIDs := make([]int64, len(refs))
	for i, ref := range refs {
		postIDs[i] = ref.PostID
	}

	posts, err := s.postRepo.GetByIDs(ctx, postIDs)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]model.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	result := make([]model.TimelinePost, 0, len(refs))
	for _, ref := range refs {
		post, ok := byID[ref.PostID]
		if !ok {
			continue // deleted after fan-out
		}
		result = append(result, model.TimelinePost{Post: post, OrderingKey: ref.OrderingKey})
	}

	s.enrichAuthors(ctx, result)
	return result, nil
}

// enrichAuthors marks which post authors the viewer follows, via the
// request-scoped following set. Best-effort.
func (s *TimelineService) enrichAuthors(ctx context.Context, posts []model.TimelinePost) {
	set := cache.FromContext(ctx)
	if set == nil || len(posts) == 0 {
		return
	}

	authorIDs := make([]int64, 0, len(posts))
	for _, p := range posts {
		if p.Author != nil {
			authorIDs = append(authorIDs, p.Author.ID)
		}
	}

	followMap, err := set.HasFollowedAny(ctx, authorIDs)
	if err != nil {
		log.Printf("[TimelineService] author follow enrichment failed: %v", err)
		return
	}

	for i := range posts {
		if posts[i].Author != nil {
			posts[i].Author.HasFollowed = followMap[posts[i].Author.ID]
		}
	}
}
