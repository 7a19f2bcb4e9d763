package dispatcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

type Store interface {
	// ClaimJob writes next over the row only while its status and
	// last_ran_at still match prev, and reports whether it did. The
	// write must be durable when it returns: the published job id can be
	// consumed immediately.
	ClaimJob(ctx context.Context, prev, next domain.Job) (bool, error)
}

// Publisher sends a job id to a broker destination.
type Publisher interface {
	Publish(ctx context.Context, route Route, jobID int64) error
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobEnqueued(channel string)
	PublishFailed(channel string)
}

// Dispatched identifies a job that was stamped and published.
type Dispatched struct {
	JobID   int64
	JobType domain.JobType
	Channel Channel
}

type Dispatcher struct {
	store     Store
	publisher Publisher
	routes    Routes
	identity  string
	clock     func() time.Time
	metrics   MetricsSink // optional, nil = disabled
}

// New creates a dispatcher that stamps jobs with identity as their owner.
func New(store Store, publisher Publisher, routes Routes, identity string) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		routes:    routes,
		identity:  identity,
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Enqueue marks job RUNNING, persists the stamp and then publishes the job id
// on the channel of its type. It returns false with a nil error when the job
// type has no destination, or when the row changed since job was read (another
// node claimed it first); nothing is published then.
//
// A publish failure after the stamp is persisted is returned as an error; the
// job stays RUNNING and is not picked up again by the sweep.
func (d *Dispatcher) Enqueue(ctx context.Context, job domain.Job) (Dispatched, bool, error) {
	route, ok := d.routes.Lookup(job.Type)
	if !ok {
		return Dispatched{}, false, nil
	}

	prev := job
	now := d.clock().UTC()
	job.Status = domain.JobStatusRunning
	job.LastRanAt = &now
	job.LastRanBy = d.identity

	claimed, err := d.store.ClaimJob(ctx, prev, job)
	if err != nil {
		return Dispatched{}, false, fmt.Errorf("persist job %d: %w", job.ID, err)
	}
	if !claimed {
		log.Printf("dispatcher: job=%d already claimed or changed since the sweep read it", job.ID)
		return Dispatched{}, false, nil
	}

	if err := d.publisher.Publish(ctx, route, job.ID); err != nil {
		if d.metrics != nil {
			d.metrics.PublishFailed(string(route.Channel))
		}
		log.Printf("dispatcher: job=%d persisted as RUNNING but publish to %s failed: %v", job.ID, route.Queue, err)
		return Dispatched{}, false, fmt.Errorf("publish job %d: %w", job.ID, err)
	}

	if d.metrics != nil {
		d.metrics.JobEnqueued(string(route.Channel))
	}
	return Dispatched{JobID: job.ID, JobType: job.Type, Channel: route.Channel}, true, nil
}
