package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chirpfeed/internal/model"
)

const (
	// TimelineCachePrefix is the key prefix for per-owner timeline caches
	TimelineCachePrefix = "timeline:user:"

	// TimelineCacheCap is the maximum number of entries cached per owner
	TimelineCacheCap = 500

	// TimelineCacheTTL expires idle caches (7 days)
	TimelineCacheTTL = 7 * 24 * time.Hour
)

// TimelineCache accelerates the hot first page of a timeline read. It is a
// best-effort mirror of the durable timeline store: the fan-out engine
// pushes into it after the durable append, and cursor-continued pages
// always go back to the store.
type TimelineCache interface {
	// Push adds a post reference to an owner's cached timeline.
	Push(ctx context.Context, ownerID, postID, orderingKey int64) error

	// Remove drops a post reference from an owner's cached timeline.
	Remove(ctx context.Context, ownerID, postID int64) error

	// FirstPage returns up to limit newest references.
	FirstPage(ctx context.Context, ownerID int64, limit int) ([]model.PostRef, error)

	// Score returns the ordering key for a post in the cache.
	// found=false when the post is not cached.
	Score(ctx context.Context, ownerID, postID int64) (score int64, found bool, err error)

	// Warm bulk-inserts references for an owner.
	Warm(ctx context.Context, ownerID int64, refs []model.PostRef) error

	// Size returns the number of cached references for an owner.
	Size(ctx context.Context, ownerID int64) (int64, error)

	// Exists reports whether the owner has a cache entry at all.
	Exists(ctx context.Context, ownerID int64) (bool, error)
}

// RedisTimelineCache implements TimelineCache using Redis sorted sets, with
// the ordering key as the score. Ordering keys are Unix microseconds, which
// float64 scores hold exactly.
type RedisTimelineCache struct {
	client *redis.Client
}

func NewTimelineCache(client *redis.Client) TimelineCache {
	return &RedisTimelineCache{client: client}
}

func timelineKey(ownerID int64) string {
	return fmt.Sprintf("%s%d", TimelineCachePrefix, ownerID)
}

// Push pipelines ZADD + ZREMRANGEBYRANK (maintain cap) + EXPIRE (refresh TTL).
func (c *RedisTimelineCache) Push(ctx context.Context, ownerID, postID, orderingKey int64) error {
	key := timelineKey(ownerID)

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(orderingKey),
		Member: strconv.FormatInt(postID, 10),
	})
	// Keep the newest TimelineCacheCap scores, drop the rest.
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-TimelineCacheCap-1))
	pipe.Expire(ctx, key, TimelineCacheTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[TimelineCache] Push FAILED: owner=%d post=%d err=%v", ownerID, postID, err)
		return fmt.Errorf("push timeline entry: %w", err)
	}
	return nil
}

func (c *RedisTimelineCache) Remove(ctx context.Context, ownerID, postID int64) error {
	key := timelineKey(ownerID)
	member := strconv.FormatInt(postID, 10)

	if err := c.client.ZRem(ctx, key, member).Err(); err != nil {
		log.Printf("[TimelineCache] Remove FAILED: owner=%d post=%d err=%v", ownerID, postID, err)
		return fmt.Errorf("remove timeline entry: %w", err)
	}
	return nil
}

func (c *RedisTimelineCache) FirstPage(ctx context.Context, ownerID int64, limit int) ([]model.PostRef, error) {
	key := timelineKey(ownerID)

	results, err := c.client.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		log.Printf("[TimelineCache] FirstPage FAILED: owner=%d err=%v", ownerID, err)
		return nil, fmt.Errorf("read cached timeline: %w", err)
	}

	// Refresh TTL on access
	c.client.Expire(ctx, key, TimelineCacheTTL)

	refs := make([]model.PostRef, len(results))
	for i, z := range results {
		id, err := strconv.ParseInt(z.Member.(string), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse post id: %w", err)
		}
		refs[i] = model.PostRef{PostID: id, OrderingKey: int64(z.Score)}
	}
	return refs, nil
}

func (c *RedisTimelineCache) Score(ctx context.Context, ownerID, postID int64) (int64, bool, error) {
	key := timelineKey(ownerID)
	member := strconv.FormatInt(postID, 10)

	score, err := c.client.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get score: %w", err)
	}
	return int64(score), true, nil
}

func (c *RedisTimelineCache) Warm(ctx context.Context, ownerID int64, refs []model.PostRef) error {
	if len(refs) == 0 {
		return nil
	}

	key := timelineKey(ownerID)

	members := make([]redis.Z, len(refs))
	for i, ref := range refs {
		members[i] = redis.Z{
			Score:  float64(ref.OrderingKey),
			Member: strconv.FormatInt(ref.PostID, 10),
		}
	}

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-TimelineCacheCap-1))
	pipe.Expire(ctx, key, TimelineCacheTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[TimelineCache] Warm FAILED: owner=%d refs=%d err=%v", ownerID, len(refs), err)
		return fmt.Errorf("warm timeline cache: %w", err)
	}

	log.Printf("[TimelineCache] Warm OK: owner=%d refs=%d", ownerID, len(refs))
	return nil
}

func (c *RedisTimelineCache) Size(ctx context.Context, ownerID int64) (int64, error) {
	size, err := c.client.ZCard(ctx, timelineKey(ownerID)).Result()
	if err != nil {
		return 0, fmt.Errorf("get cache size: %w", err)
	}
	return size, nil
}

func (c *RedisTimelineCache) Exists(ctx context.Context, ownerID int64) (bool, error) {
	exists, err := c.client.Exists(ctx, timelineKey(ownerID)).Result()
	if err != nil {
		return false, fmt.Errorf("check cache exists: %w", err)
	}
	return exists > 0, nil
}
