// Package channel is the in-process message transport. Each dispatcher
// channel gets its own buffered queue of job ids.
package channel

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/dispatcher"
)

// ErrBufferFull is returned when a queue stays full for the emit timeout.
var ErrBufferFull = errors.New("bus: buffer full")

const DefaultEmitTimeout = 5 * time.Second

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type Option func(*Bus)

// WithEmitTimeout bounds how long Publish waits on a full queue.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *Bus) { b.emitTimeout = d }
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *Bus) { b.metrics = sink }
}

type Bus struct {
	buffer      int
	emitTimeout time.Duration
	metrics     MetricsSink

	mu     sync.Mutex
	queues map[dispatcher.Channel]chan int64
}

func NewBus(buffer int, opts ...Option) *Bus {
	b := &Bus{
		buffer:      buffer,
		emitTimeout: DefaultEmitTimeout,
		queues:      make(map[dispatcher.Channel]chan int64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) queue(ch dispatcher.Channel) chan int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[ch]
	if !ok {
		q = make(chan int64, b.buffer)
		b.queues[ch] = q
	}
	return q
}

// Len returns the number of buffered job ids across all channels.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}

// Publish queues jobID on the route's channel.
func (b *Bus) Publish(ctx context.Context, route dispatcher.Route, jobID int64) error {
	q := b.queue(route.Channel)

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case q <- jobID:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(b.Len())
		}
		return nil
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe hands every job id queued on the route's channel to handle until
// ctx is cancelled. Several subscribers on one channel share its queue. A
// handle error is logged and the job id is dropped.
func (b *Bus) Subscribe(ctx context.Context, route dispatcher.Route, consumer string, handle func(ctx context.Context, jobID int64) error) error {
	q := b.queue(route.Channel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-q:
			if b.metrics != nil {
				b.metrics.BufferSizeUpdate(b.Len())
			}
			if err := handle(ctx, id); err != nil {
				log.Printf("bus: channel=%s consumer=%s job=%d error: %v", route.Channel, consumer, id, err)
			}
		}
	}
}
