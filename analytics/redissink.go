package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	domain "github.com/mockforge/core/domain/analytics"
)

// RedisSink hands flushed batches off to a Redis list for an external,
// out-of-scope persistence layer to drain, using go-redis/v9.
type RedisSink struct {
	client *redis.Client
	key    string
}

// NewRedisSink builds a RedisSink pushing JSON-encoded batches onto key.
func NewRedisSink(client *redis.Client, key string) *RedisSink {
	if key == "" {
		key = "mockforge:analytics:events"
	}
	return &RedisSink{client: client, key: key}
}

// Write implements Sink by RPUSH-ing one JSON array per batch.
func (s *RedisSink) Write(ctx context.Context, events []domain.Event) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("analytics: marshal batch: %w", err)
	}
	return s.client.RPush(ctx, s.key, payload).Err()
}
