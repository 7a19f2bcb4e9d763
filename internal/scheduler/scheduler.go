package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/dispatcher"
	"github.com/khachaneojas/service-scheduler/internal/domain"
)

// ErrSweepInProgress is returned by Sweep when another sweep has not finished.
var ErrSweepInProgress = errors.New("sweep already in progress")

const defaultBatchSize = 500

type Store interface {
	// ListJobs returns jobs ordered by id.
	ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, error)
	SaveJob(ctx context.Context, job domain.Job) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job domain.Job) (dispatcher.Dispatched, bool, error)
}

// Schedule yields the next sweep time after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink defines the interface for recording sweep metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SweepStarted()
	SweepCompleted(duration time.Duration, jobsEnqueued int, err error)
	SweepSkipped()
}

type Config struct {
	Policy       Policy
	InitialDelay time.Duration
	BatchSize    int
}

type Scheduler struct {
	config   Config
	store    Store
	enqueuer Enqueuer
	schedule Schedule
	clock    func() time.Time
	metrics  MetricsSink // optional, nil = disabled

	running atomic.Bool
}

func New(config Config, store Store, enqueuer Enqueuer, schedule Schedule) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	return &Scheduler{
		config:   config,
		store:    store,
		enqueuer: enqueuer,
		schedule: schedule,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock replaces the time source. Intended for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run sweeps on the configured schedule until ctx is cancelled. Each tick runs
// in its own goroutine so a slow sweep makes the next tick skip instead of
// delaying it.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.config.InitialDelay)
	defer timer.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	log.Printf("scheduler: started, initial_delay=%s", s.config.InitialDelay)

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-timer.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.tick(ctx)
			}()

			now := s.clock()
			timer.Reset(s.schedule.Next(now).Sub(now))
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.Sweep(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSweepInProgress):
		log.Println("scheduler: previous sweep still running, tick skipped")
	case errors.Is(err, context.Canceled):
	default:
		log.Printf("scheduler: sweep error: %v", err)
	}
}

// Sweep enqueues every ready job and returns how many were enqueued. Only one
// sweep runs at a time; a concurrent call returns ErrSweepInProgress without
// touching the store.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		if s.metrics != nil {
			s.metrics.SweepSkipped()
		}
		return 0, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := s.clock()
	if s.metrics != nil {
		s.metrics.SweepStarted()
	}

	enqueued, err := s.sweep(ctx, start.UTC())

	if s.metrics != nil {
		s.metrics.SweepCompleted(s.clock().Sub(start), enqueued, err)
	}
	return enqueued, err
}

func (s *Scheduler) sweep(ctx context.Context, now time.Time) (int, error) {
	enqueued := 0
	for offset := 0; ; offset += s.config.BatchSize {
		jobs, err := s.store.ListJobs(ctx, s.config.BatchSize, offset)
		if err != nil {
			return enqueued, fmt.Errorf("list jobs: %w", err)
		}

		for i := range jobs {
			if err := ctx.Err(); err != nil {
				return enqueued, err
			}
			ok, err := s.processJob(ctx, &jobs[i], now)
			if err != nil {
				log.Printf("scheduler: job=%d error: %v", jobs[i].ID, err)
				continue
			}
			if ok {
				enqueued++
			}
		}

		if len(jobs) < s.config.BatchSize {
			return enqueued, nil
		}
	}
}

func (s *Scheduler) processJob(ctx context.Context, job *domain.Job, now time.Time) (bool, error) {
	if !Sweepable(job, s.config.Policy, now) {
		return false, nil
	}

	attempts := job.Attempts
	ready := IsReady(job, s.config.Policy, now)
	reset := job.Attempts != attempts

	if ready {
		d, ok, err := s.enqueuer.Enqueue(ctx, *job)
		if err != nil {
			return false, fmt.Errorf("enqueue: %w", err)
		}
		if ok {
			log.Printf("scheduler: added job (%d) in the queue [%s]", d.JobID, d.JobType)
			return true, nil
		}
	}

	// Enqueue persists the reset on its own; anything else must be saved here.
	if reset {
		if err := s.store.SaveJob(ctx, *job); err != nil {
			return false, fmt.Errorf("persist attempts reset: %w", err)
		}
	}
	return false, nil
}
