// Package redisstream is the Redis Streams message transport. Each route's
// queue name is a stream; consumers read through one consumer group.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/khachaneojas/service-scheduler/internal/dispatcher"
)

type Config struct {
	Group string
	// Block is how long one XREADGROUP waits for new entries.
	Block time.Duration
	Count int64
	// ClaimIdle is the idle time after which a pending entry of another
	// consumer is claimed. Zero disables claiming.
	ClaimIdle time.Duration
}

// message is the JSON stored under the "data" field of a stream entry.
type message struct {
	JobID      int64  `json:"job_id"`
	Exchange   string `json:"exchange,omitempty"`
	RoutingKey string `json:"routing_key"`
}

type Broker struct {
	rdb    *redis.Client
	config Config
}

func New(rdb *redis.Client, config Config) *Broker {
	if config.Group == "" {
		config.Group = "scheduler"
	}
	if config.Block <= 0 {
		config.Block = 5 * time.Second
	}
	if config.Count <= 0 {
		config.Count = 10
	}
	return &Broker{rdb: rdb, config: config}
}

// EnsureGroups creates the consumer group on every route's stream.
func (b *Broker) EnsureGroups(ctx context.Context, routes []dispatcher.Route) error {
	for _, r := range routes {
		err := b.rdb.XGroupCreateMkStream(ctx, r.Queue, b.config.Group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("create group on %s: %w", r.Queue, err)
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	// v9 doesn't export ErrGroupExists; detect BUSYGROUP manually
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// Publish appends jobID to the route's stream.
func (b *Broker) Publish(ctx context.Context, route dispatcher.Route, jobID int64) error {
	data, err := encode(route, jobID)
	if err != nil {
		return err
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: route.Queue,
		ID:     "*",
		Values: map[string]any{"data": data},
	}).Err()
}

// Subscribe reads the route's stream as consumer until ctx is cancelled.
// Entries are acknowledged only when handle succeeds; failed entries stay
// pending and are claimed again once idle for Config.ClaimIdle.
func (b *Broker) Subscribe(ctx context.Context, route dispatcher.Route, consumer string, handle func(ctx context.Context, jobID int64) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := b.read(ctx, route.Queue, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("redisstream: read %s error: %v", route.Queue, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if len(msgs) == 0 && b.config.ClaimIdle > 0 {
			msgs, err = b.claim(ctx, route.Queue, consumer)
			if err != nil && ctx.Err() == nil {
				log.Printf("redisstream: claim %s error: %v", route.Queue, err)
			}
		}

		for _, m := range msgs {
			b.process(ctx, route, consumer, m, handle)
		}
	}
}

func (b *Broker) process(ctx context.Context, route dispatcher.Route, consumer string, m redis.XMessage, handle func(ctx context.Context, jobID int64) error) {
	id, err := decode(m)
	if err != nil {
		// Undecodable entries can never succeed.
		log.Printf("redisstream: %s entry %s dropped: %v", route.Queue, m.ID, err)
		b.ack(ctx, route.Queue, m.ID)
		return
	}

	if err := handle(ctx, id); err != nil {
		log.Printf("redisstream: %s consumer=%s job=%d left pending: %v", route.Queue, consumer, id, err)
		return
	}
	b.ack(ctx, route.Queue, m.ID)
}

func (b *Broker) ack(ctx context.Context, stream, id string) {
	if err := b.rdb.XAck(ctx, stream, b.config.Group, id).Err(); err != nil {
		log.Printf("redisstream: ack %s/%s error: %v", stream, id, err)
	}
}

func (b *Broker) read(ctx context.Context, stream, consumer string) ([]redis.XMessage, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.config.Group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    b.config.Count,
		Block:    b.config.Block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var out []redis.XMessage
	for _, s := range res {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (b *Broker) claim(ctx context.Context, stream, consumer string) ([]redis.XMessage, error) {
	pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  b.config.Group,
		Start:  "-",
		End:    "+",
		Count:  b.config.Count,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var ids []string
	for _, p := range pending {
		if p.Idle >= b.config.ClaimIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return b.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    b.config.Group,
		Consumer: consumer,
		MinIdle:  b.config.ClaimIdle,
		Messages: ids,
	}).Result()
}

// Ping reports whether Redis is reachable.
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func encode(route dispatcher.Route, jobID int64) (string, error) {
	data, err := json.Marshal(message{JobID: jobID, Exchange: route.Exchange, RoutingKey: route.RoutingKey})
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	return string(data), nil
}

func decode(m redis.XMessage) (int64, error) {
	raw, ok := m.Values["data"].(string)
	if !ok || raw == "" {
		return 0, errors.New("missing data field")
	}
	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return 0, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.JobID <= 0 {
		return 0, fmt.Errorf("invalid job id %d", msg.JobID)
	}
	return msg.JobID, nil
}
