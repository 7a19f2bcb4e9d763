// Package analytics keeps per-day execution counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long a day's counters are kept.
const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
}

func NewRedisSink(client redis.Cmdable) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	s.retention = d
	return s
}

// RecordOutcome increments the counter for jobType and outcome on the UTC
// day of at. Errors are logged and dropped.
func (s *RedisSink) RecordOutcome(ctx context.Context, jobType string, outcome string, at time.Time) {
	if err := s.write(ctx, buildKey(jobType, outcome, at)); err != nil {
		log.Printf("analytics: record %s/%s: %v", jobType, outcome, err)
	}
}

func (s *RedisSink) write(ctx context.Context, key string) error {
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func buildKey(jobType, outcome string, t time.Time) string {
	return fmt.Sprintf("jobs:%s:%s:%s", jobType, outcome, t.UTC().Format("20060102"))
}
