// Package reconciler detects jobs that were stamped RUNNING but whose
// message never reached a consumer.
//
// The dispatcher commits RUNNING before publishing. A crash or broker
// failure between the two leaves a row that the sweep never selects again.
// The reconciler only reports such rows; it does not re-publish them.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

// Store lists RUNNING jobs dispatched before a cutoff.
type Store interface {
	StaleRunningJobs(ctx context.Context, olderThan time.Time, limit int) ([]domain.Job, error)
}

type MetricsSink interface {
	StaleJobsUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a RUNNING job is reported as stale.
	// Default: 30 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of stale jobs reported per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
		BatchSize: 100,
	}
}

type Reconciler struct {
	config  Config
	store   Store
	metrics MetricsSink
	clock   func() time.Time
}

func New(config Config, store Store) *Reconciler {
	return &Reconciler{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle performs one scan and returns the number of stale jobs found,
// or -1 when the store could not be read.
func (r *Reconciler) RunCycle(ctx context.Context) int {
	now := r.clock().UTC()
	cutoff := now.Add(-r.config.Threshold)

	stale, err := r.store.StaleRunningJobs(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		log.Printf("reconciler: failed to fetch stale jobs: %v", err)
		return -1
	}

	if r.metrics != nil {
		r.metrics.StaleJobsUpdate(len(stale))
	}
	if len(stale) == 0 {
		return 0
	}

	for _, j := range stale {
		age := time.Duration(0)
		if j.LastRanAt != nil {
			age = now.Sub(*j.LastRanAt).Round(time.Second)
		}
		log.Printf("reconciler: job=%d type=%s possibly lost publish (running since %s, by=%s, age=%s)",
			j.ID, j.Type, formatLastRan(j.LastRanAt), j.LastRanBy, age)
	}
	log.Printf("reconciler: cycle complete, stale=%d", len(stale))
	return len(stale)
}

func formatLastRan(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
