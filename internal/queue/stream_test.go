package queue_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"chirpfeed/internal/queue"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestRedis(t *testing.T) *redis.Client {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}

	// Use DB 1 for testing to avoid conflicts with dev data
	opts.DB = 1

	client := redis.NewClient(opts)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}

	client.FlushDB(ctx)
	return client
}

func cleanupTestRedis(client *redis.Client) {
	ctx := context.Background()
	client.FlushDB(ctx)
	client.Close()
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestPublishReadAck(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(client)
	ctx := context.Background()

	pub := queue.NewPublisher(client)
	consumer := queue.NewConsumer(client)

	if err := consumer.EnsureGroup(ctx, queue.StreamTimeline, queue.ConsumerGroupFanout); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}

	event := queue.NewPostCreatedEvent(42, 7, time.Now().UnixMicro())
	msgID, err := pub.Publish(ctx, queue.StreamTimeline, event)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msgID == "" {
		t.Fatal("expected non-empty message ID")
	}

	messages, err := consumer.Read(ctx, queue.StreamTimeline, queue.ConsumerGroupFanout, "worker-1", 10, time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	got := messages[0].Event
	if got.Type != queue.EventPostCreated || got.PostID != 42 || got.AuthorID != 7 {
		t.Errorf("event round-trip mismatch: %+v", got)
	}
	if got.OrderingKey != event.OrderingKey {
		t.Errorf("ordering key lost in transit: got %d want %d", got.OrderingKey, event.OrderingKey)
	}

	if err := consumer.Ack(ctx, queue.StreamTimeline, queue.ConsumerGroupFanout, messages[0].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	pending, err := consumer.Pending(ctx, queue.StreamTimeline, queue.ConsumerGroupFanout)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending != 0 {
		t.Errorf("expected 0 pending after ack, got %d", pending)
	}
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(client)
	ctx := context.Background()

	consumer := queue.NewConsumer(client)
	for i := 0; i < 2; i++ {
		if err := consumer.EnsureGroup(ctx, queue.StreamTimeline, queue.ConsumerGroupFanout); err != nil {
			t.Fatalf("EnsureGroup (call %d): %v", i+1, err)
		}
	}
}

func TestReadPendingRedeliversUnacked(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(client)
	ctx := context.Background()

	pub := queue.NewPublisher(client)
	consumer := queue.NewConsumer(client)

	if err := consumer.EnsureGroup(ctx, queue.StreamTimeline, queue.ConsumerGroupFanout); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}

	if _, err := pub.Publish(ctx, queue.StreamTimeline, queue.NewUserFollowedEvent(1, 2)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Deliver without acking, simulating a crash mid-handle.
	messages, err := consumer.Read(ctx, queue.StreamTimeline, queue.ConsumerGroupFanout, "worker-1", 10, time.Second)
	if err != nil || len(messages) != 1 {
		t.Fatalf("Read: %v (%d messages)", err, len(messages))
	}

	redelivered, err := consumer.ReadPending(ctx, queue.StreamTimeline, queue.ConsumerGroupFanout, "worker-1", 10)
	if err != nil {
		t.Fatalf("ReadPending: %v", err)
	}
	if len(redelivered) != 1 || redelivered[0].ID != messages[0].ID {
		t.Errorf("expected the unacked message redelivered, got %+v", redelivered)
	}
}
