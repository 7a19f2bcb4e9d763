// Package executor runs dispatched jobs. Every execution is one serializable
// transaction: the job row is locked first, the handler runs inside a
// savepoint and the job row is written back exactly once.
package executor

import (
	"context"
	"log"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

var (
	// ErrJobNotFound is returned by JobStore when the job row does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnexpectedJobType marks executions of a type with no handler.
	ErrUnexpectedJobType = errors.New("unexpected job type")

	// ErrSerializationFailure marks transaction errors that are safe to retry
	// (serialization failures and deadlocks).
	ErrSerializationFailure = errors.New("serialization failure")
)

// MaxTxAttempts bounds how often one execution is retried after a
// serialization failure.
const MaxTxAttempts = 3

// MarkSerializationFailure tags err so that Execute retries the transaction.
func MarkSerializationFailure(err error) error {
	return errors.Mark(err, ErrSerializationFailure)
}

// IsSerializationFailure reports whether err was tagged by
// MarkSerializationFailure.
func IsSerializationFailure(err error) bool {
	return errors.Is(err, ErrSerializationFailure)
}

// Outcome labels recorded for every execution.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeMissing = "missing"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

type TxRunner interface {
	// WithinTx runs fn in a SERIALIZABLE transaction carried by the context
	// handed to fn. The transaction commits when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	// Savepoint runs fn under a savepoint of the context's transaction and
	// rolls back to it when fn fails.
	Savepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type JobStore interface {
	// GetJobForUpdate loads and row-locks a job. Returns ErrJobNotFound when
	// the row is missing.
	GetJobForUpdate(ctx context.Context, id int64) (domain.Job, error)
	SaveJob(ctx context.Context, job domain.Job) error
}

// MetricsSink defines the interface for recording execution metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobExecuted(jobType string, outcome string, duration time.Duration)
}

// AnalyticsSink records execution outcomes for reporting. Failures are
// logged by the implementation and never returned.
type AnalyticsSink interface {
	RecordOutcome(ctx context.Context, jobType string, outcome string, at time.Time)
}

type Executor struct {
	tx        TxRunner
	store     JobStore
	registry  *Registry
	clock     func() time.Time
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
}

func New(tx TxRunner, store JobStore, registry *Registry) *Executor {
	return &Executor{
		tx:       tx,
		store:    store,
		registry: registry,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the executor.
func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

// WithAnalytics attaches an outcome recorder to the executor.
func (e *Executor) WithAnalytics(sink AnalyticsSink) *Executor {
	e.analytics = sink
	return e
}

// Execute runs the job once. Handler failures are persisted on the job row
// (FAILED, attempts+1) and are not returned. A serialization failure reruns
// the whole transaction up to MaxTxAttempts times; when the transaction still
// cannot commit the job is marked FAILED in a fresh transaction so the sweep
// retries it. Only an error that leaves the row RUNNING is returned.
//
// A missing job, or one that is no longer RUNNING (a redelivered id), is
// logged and dropped.
func (e *Executor) Execute(ctx context.Context, jobID int64) error {
	start := e.clock()
	var (
		jobType domain.JobType
		outcome string
		err     error
	)

	for attempt := 1; attempt <= MaxTxAttempts; attempt++ {
		jobType, outcome, err = e.attempt(ctx, jobID)
		if err == nil || !IsSerializationFailure(err) {
			break
		}
		log.Printf("executor: job=%d serialization failure (try %d/%d): %v", jobID, attempt, MaxTxAttempts, err)
	}

	if err != nil {
		log.Printf("executor: job=%d transaction error: %v", jobID, err)
		outcome = OutcomeError
		if ferr := e.markFailed(ctx, jobID); ferr != nil {
			log.Printf("executor: job=%d could not be marked FAILED, it stays RUNNING: %v", jobID, ferr)
			e.record(ctx, jobType, outcome, start)
			return err
		}
		outcome = OutcomeFailed
		err = nil
	}

	e.record(ctx, jobType, outcome, start)
	return err
}

// attempt runs one transaction of Execute.
func (e *Executor) attempt(ctx context.Context, jobID int64) (jobType domain.JobType, outcome string, err error) {
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		job, err := e.store.GetJobForUpdate(ctx, jobID)
		if errors.Is(err, ErrJobNotFound) {
			log.Printf("executor: job (%d) is missing while executing.", jobID)
			outcome = OutcomeMissing
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "load job (%d)", jobID)
		}

		jobType = job.Type
		if job.Status != domain.JobStatusRunning {
			log.Printf("executor: job=%d [%s] status=%s, not RUNNING; skipping duplicate delivery", job.ID, job.Type, job.Status)
			outcome = OutcomeSkipped
			return nil
		}
		log.Printf("executor: job=%d [%s] status=%s", job.ID, job.Type, job.Status)

		herr := e.tx.Savepoint(ctx, "job_handler", func(ctx context.Context) error {
			return e.run(ctx, job)
		})
		if herr != nil {
			job.Status = domain.JobStatusFailed
			job.Attempts++
			outcome = OutcomeFailed
			log.Printf("executor: job=%d [%s] failed attempts=%d: %+v", job.ID, job.Type, job.Attempts, herr)
		} else {
			job.Status = domain.JobStatusSuccess
			outcome = OutcomeSuccess
		}

		if err := e.store.SaveJob(ctx, job); err != nil {
			return errors.Wrapf(err, "save job (%d)", job.ID)
		}
		log.Printf("executor: job=%d [%s] status=%s", job.ID, job.Type, job.Status)
		return nil
	})
	return jobType, outcome, err
}

// markFailed records a failed attempt on a job whose execution transaction
// could not commit. Rows that already left RUNNING are not touched.
func (e *Executor) markFailed(ctx context.Context, jobID int64) error {
	return e.tx.WithinTx(ctx, func(ctx context.Context) error {
		job, err := e.store.GetJobForUpdate(ctx, jobID)
		if err != nil {
			return errors.Wrapf(err, "load job (%d)", jobID)
		}
		if job.Status != domain.JobStatusRunning {
			return nil
		}
		job.Status = domain.JobStatusFailed
		job.Attempts++
		if err := e.store.SaveJob(ctx, job); err != nil {
			return errors.Wrapf(err, "save job (%d)", job.ID)
		}
		log.Printf("executor: job=%d [%s] status=%s attempts=%d after transaction error", job.ID, job.Type, job.Status, job.Attempts)
		return nil
	})
}

// run calls the handler on a copy of job so the envelope alone decides what
// is written back to the row.
func (e *Executor) run(ctx context.Context, job domain.Job) (err error) {
	h, ok := e.registry.Get(job.Type)
	if !ok {
		return errors.Mark(errors.Newf("unexpected job type %s", job.Type), ErrUnexpectedJobType)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, &job)
}

func (e *Executor) record(ctx context.Context, jobType domain.JobType, outcome string, start time.Time) {
	label := string(jobType)
	if label == "" {
		label = "unknown"
	}
	if e.metrics != nil {
		e.metrics.JobExecuted(label, outcome, e.clock().Sub(start))
	}
	if e.analytics != nil && jobType != "" {
		e.analytics.RecordOutcome(ctx, label, outcome, e.clock())
	}
}
