package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes each event as flat JSON on a per-run pub/sub channel.
type RedisSink struct {
	client redis.Cmdable
	prefix string
}

// NewRedisSink creates a redis pub/sub sink. Events for run R are published
// on "<prefix>:R".
func NewRedisSink(client redis.Cmdable, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "receipt-forensics:progress"
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

// ChannelFor returns the pub/sub channel name of a run.
func (s *RedisSink) ChannelFor(runID string) string {
	return s.prefix + ":" + runID
}

func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis sink marshal failure: %w", err)
	}
	if err := s.client.Publish(ctx, s.ChannelFor(event.RunID), string(payload)).Err(); err != nil {
		return fmt.Errorf("redis publish failure: %w", err)
	}
	return nil
}
