package queue

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Publisher pushes fan-out events onto a stream. Publishing happens after
// the triggering row is committed, and a publish failure is logged rather
// than surfaced: post creation and follow changes never fail because the
// fan-out pipeline is down.
type Publisher interface {
	// Publish adds an event to the stream and returns the assigned message ID.
	Publish(ctx context.Context, stream string, event TimelineEvent) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) Publisher {
	return &RedisPublisher{client: client}
}

// Publish XADDs with "*" so Redis assigns a timestamp-sequence message ID.
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event TimelineEvent) (string, error) {
	values, err := event.ToMap()
	if err != nil {
		return "", fmt.Errorf("serialize event: %w", err)
	}

	messageID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		log.Printf("[Publisher] Publish FAILED: stream=%s type=%s err=%v", stream, event.Type, err)
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	log.Printf("[Publisher] Publish OK: stream=%s type=%s msgID=%s", stream, event.Type, messageID)
	return messageID, nil
}
