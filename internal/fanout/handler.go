package fanout

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"chirpfeed/internal/model"
	"chirpfeed/internal/queue"
)

// GraphReader is the slice of the follow graph the engine pages through.
type GraphReader interface {
	FollowerIDPage(ctx context.Context, userID, afterID int64, limit int) ([]int64, error)
	CountFollowers(ctx context.Context, userID int64) (int64, error)
}

// TimelineWriter is the durable sink for fan-out deliveries. Append must be
// idempotent on (owner, post) so redelivery and retries are safe.
type TimelineWriter interface {
	Append(ctx context.Context, ownerID, postID, orderingKey int64) (bool, error)
	Remove(ctx context.Context, ownerID, postID int64) error
	RemoveByAuthor(ctx context.Context, ownerID, authorID int64) (int64, error)
	RecordFailure(ctx context.Context, ownerID, postID, orderingKey int64, reason string) error
}

// PostReader fetches an author's recent post references, used for follow
// backfill and unfollow cache cleanup.
type PostReader interface {
	RecentRefsByAuthor(ctx context.Context, authorID int64, limit int) ([]model.PostRef, error)
}

// CachePusher mirrors deliveries into the read cache, best-effort. May be nil.
type CachePusher interface {
	Push(ctx context.Context, ownerID, postID, orderingKey int64) error
	Remove(ctx context.Context, ownerID, postID int64) error
}

// Config tunes the engine.
type Config struct {
	BatchSize      int           // follower IDs per adjacency page
	Concurrency    int           // concurrent deliveries within a batch
	MaxAttempts    int           // bounded retries per delivery
	RetryBaseDelay time.Duration // base for exponential backoff between retries
	PullThreshold  int           // follower count at which an author is read via pull instead
	IncludeSelf    bool          // deliver the author's post to their own timeline
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      200,
		Concurrency:    8,
		MaxAttempts:    3,
		RetryBaseDelay: 100 * time.Millisecond,
		PullThreshold:  10000,
		IncludeSelf:    true,
	}
}

const (
	// backfillLimit is how many recent posts a new follow pulls in.
	backfillLimit = 20

	// unfollowCacheScanLimit bounds the cache cleanup after an unfollow;
	// the durable store is cleaned with a single bulk delete regardless.
	unfollowCacheScanLimit = 500
)

// Handler executes fan-out events. It is the only writer of timeline
// entries in the system.
type Handler struct {
	timelines TimelineWriter
	graph     GraphReader
	posts     PostReader
	cache     CachePusher
	cfg       Config
}

func NewHandler(timelines TimelineWriter, graph GraphReader, posts PostReader, cache CachePusher, cfg Config) *Handler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}
	return &Handler{
		timelines: timelines,
		graph:     graph,
		posts:     posts,
		cache:     cache,
		cfg:       cfg,
	}
}

// HandleEvent routes an event to the matching handler.
func (h *Handler) HandleEvent(ctx context.Context, event queue.TimelineEvent) error {
	startTime := time.Now()
	var err error

	switch event.Type {
	case queue.EventPostCreated:
		err = h.handlePostCreated(ctx, event)
	case queue.EventPostDeleted:
		err = h.handlePostDeleted(ctx, event)
	case queue.EventUserFollowed:
		err = h.handleUserFollowed(ctx, event)
	case queue.EventUserUnfollowed:
		err = h.handleUserUnfollowed(ctx, event)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err != nil {
		log.Printf("[Fanout] HandleEvent FAILED: type=%s duration=%v err=%v",
			event.Type, time.Since(startTime), err)
		return err
	}

	log.Printf("[Fanout] HandleEvent OK: type=%s duration=%v", event.Type, time.Since(startTime))
	return nil
}

// handlePostCreated distributes one post reference into every current
// follower's timeline, paging the follower set in bounded batches. Authors
// above the pull threshold are skipped: their followers' reads merge those
// posts on the fly instead.
func (h *Handler) handlePostCreated(ctx context.Context, event queue.TimelineEvent) error {
	count, err := h.graph.CountFollowers(ctx, event.AuthorID)
	if err != nil {
		return fmt.Errorf("count followers: %w", err)
	}

	if h.cfg.PullThreshold > 0 && count >= int64(h.cfg.PullThreshold) {
		log.Printf("[Fanout] PostCreated: author=%d followers=%d above pull threshold, skipping fan-out",
			event.AuthorID, count)
		return h.deliverSelf(ctx, event)
	}

	var delivered, failed int
	afterID := int64(0)
	for {
		followers, err := h.graph.FollowerIDPage(ctx, event.AuthorID, afterID, h.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("follower id page: %w", err)
		}
		if len(followers) == 0 {
			break
		}

		failed += h.deliverBatch(ctx, followers, event.PostID, event.OrderingKey)
		delivered += len(followers)
		afterID = followers[len(followers)-1]

		if len(followers) < h.cfg.BatchSize {
			break
		}
	}

	if err := h.deliverSelf(ctx, event); err != nil {
		log.Printf("[Fanout] PostCreated: self delivery failed: %v", err)
	}

	log.Printf("[Fanout] PostCreated DONE: post=%d author=%d fanout=%d failed=%d",
		event.PostID, event.AuthorID, delivered, failed)
	return nil
}

// deliverBatch writes one batch concurrently under a bounded semaphore and
// returns how many deliveries exhausted their retries. Those are recorded
// for reconciliation rather than failing the batch: the post already
// exists, so fan-out must keep going.
func (h *Handler) deliverBatch(ctx context.Context, owners []int64, postID, orderingKey int64) int {
	sem := make(chan struct{}, h.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, ownerID := range owners {
		wg.Add(1)
		sem <- struct{}{}
		go func(ownerID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := h.deliver(ctx, ownerID, postID, orderingKey); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(ownerID)
	}

	wg.Wait()
	return failed
}

// deliver appends one timeline entry with bounded backoff, then mirrors it
// into the cache best-effort. On exhausted retries the delivery is recorded
// as pending for out-of-band replay.
func (h *Handler) deliver(ctx context.Context, ownerID, postID, orderingKey int64) error {
	err := retry.Do(
		func() error {
			_, err := h.timelines.Append(ctx, ownerID, postID, orderingKey)
			return err
		},
		retry.Attempts(uint(h.cfg.MaxAttempts)),
		retry.Delay(h.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		log.Printf("[Fanout] deliver FAILED: owner=%d post=%d err=%v", ownerID, postID, err)
		if recErr := h.timelines.RecordFailure(ctx, ownerID, postID, orderingKey, err.Error()); recErr != nil {
			log.Printf("[Fanout] record failure FAILED: owner=%d post=%d err=%v", ownerID, postID, recErr)
		}
		return err
	}

	if h.cache != nil {
		if err := h.cache.Push(ctx, ownerID, postID, orderingKey); err != nil {
			log.Printf("[Fanout] cache push failed: owner=%d post=%d err=%v", ownerID, postID, err)
		}
	}
	return nil
}

func (h *Handler) deliverSelf(ctx context.Context, event queue.TimelineEvent) error {
	if !h.cfg.IncludeSelf {
		return nil
	}
	return h.deliver(ctx, event.AuthorID, event.PostID, event.OrderingKey)
}

// handlePostDeleted removes a deleted post from every follower's timeline,
// best-effort and eventual.
func (h *Handler) handlePostDeleted(ctx context.Context, event queue.TimelineEvent) error {
	remove := func(ownerID int64) {
		if err := h.timelines.Remove(ctx, ownerID, event.PostID); err != nil {
			log.Printf("[Fanout] PostDeleted: remove failed owner=%d post=%d err=%v",
				ownerID, event.PostID, err)
		}
		if h.cache != nil {
			if err := h.cache.Remove(ctx, ownerID, event.PostID); err != nil {
				log.Printf("[Fanout] PostDeleted: cache remove failed owner=%d err=%v", ownerID, err)
			}
		}
	}

	afterID := int64(0)
	removed := 0
	for {
		followers, err := h.graph.FollowerIDPage(ctx, event.AuthorID, afterID, h.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("follower id page: %w", err)
		}
		if len(followers) == 0 {
			break
		}

		for _, ownerID := range followers {
			remove(ownerID)
		}
		removed += len(followers)
		afterID = followers[len(followers)-1]

		if len(followers) < h.cfg.BatchSize {
			break
		}
	}

	remove(event.AuthorID)

	log.Printf("[Fanout] PostDeleted DONE: post=%d removed-from=%d", event.PostID, removed+1)
	return nil
}

// handleUserFollowed backfills the followee's recent posts into the new
// follower's timeline so a fresh follow is not an empty feed.
func (h *Handler) handleUserFollowed(ctx context.Context, event queue.TimelineEvent) error {
	refs, err := h.posts.RecentRefsByAuthor(ctx, event.FolloweeID, backfillLimit)
	if err != nil {
		return fmt.Errorf("recent posts for backfill: %w", err)
	}
	if len(refs) == 0 {
		return nil
	}

	var failed int
	for _, ref := range refs {
		if err := h.deliver(ctx, event.FollowerID, ref.PostID, ref.OrderingKey); err != nil {
			failed++
		}
	}

	log.Printf("[Fanout] UserFollowed DONE: follower=%d followee=%d backfilled=%d failed=%d",
		event.FollowerID, event.FolloweeID, len(refs), failed)
	return nil
}

// handleUserUnfollowed drops the followee's posts from the former
// follower's timeline. The durable store is cleaned with one bulk delete;
// the cache only ever holds recent posts, so a bounded scan covers it.
func (h *Handler) handleUserUnfollowed(ctx context.Context, event queue.TimelineEvent) error {
	removed, err := h.timelines.RemoveByAuthor(ctx, event.FollowerID, event.FolloweeID)
	if err != nil {
		return fmt.Errorf("remove timeline entries: %w", err)
	}

	if h.cache != nil {
		refs, err := h.posts.RecentRefsByAuthor(ctx, event.FolloweeID, unfollowCacheScanLimit)
		if err != nil {
			log.Printf("[Fanout] UserUnfollowed: cache cleanup scan failed: %v", err)
		} else {
			for _, ref := range refs {
				if err := h.cache.Remove(ctx, event.FollowerID, ref.PostID); err != nil {
					log.Printf("[Fanout] UserUnfollowed: cache remove failed post=%d err=%v", ref.PostID, err)
				}
			}
		}
	}

	log.Printf("[Fanout] UserUnfollowed DONE: follower=%d followee=%d removed=%d",
		event.FollowerID, event.FolloweeID, removed)
	return nil
}
