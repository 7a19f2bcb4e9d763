package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/executor"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var lastRanAt sql.NullTime
	var lastRanBy sql.NullString
	var jobType, schedule, status string

	err := row.Scan(
		&j.ID,
		&j.Name,
		&j.Description,
		&j.Payload,
		&jobType,
		&schedule,
		&j.ExecuteAt,
		&lastRanAt,
		&lastRanBy,
		&status,
		&j.Attempts,
		&j.CreatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	j.Type = domain.JobType(jobType)
	j.Schedule = domain.ScheduleType(schedule)
	j.Status = domain.JobStatus(status)
	j.ExecuteAt = j.ExecuteAt.UTC()
	j.LastRanAt = timePtr(lastRanAt)
	j.LastRanBy = lastRanBy.String
	return j, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListJobs returns jobs ordered by id, paginated by limit and offset.
func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	return s.queryJobs(ctx, queryListJobs, limit, offset)
}

// GetJobForUpdate row-locks the job for the rest of the context's
// transaction.
func (s *Store) GetJobForUpdate(ctx context.Context, id int64) (domain.Job, error) {
	j, err := scanJob(s.conn(ctx).QueryRowContext(ctx, queryGetJobForUpdate, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, executor.ErrJobNotFound
	}
	return j, err
}

// SaveJob updates every mutable column of an existing job.
func (s *Store) SaveJob(ctx context.Context, job domain.Job) error {
	res, err := s.conn(ctx).ExecContext(ctx, queryUpdateJob,
		job.ID,
		job.Name,
		job.Description,
		job.Payload,
		string(job.Type),
		string(job.Schedule),
		job.ExecuteAt.UTC(),
		job.LastRanAt,
		nullString(job.LastRanBy),
		string(job.Status),
		job.Attempts,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", job.ID, executor.ErrJobNotFound)
	}
	return nil
}

// ClaimJob writes the dispatch stamp of next when the row's status and
// last_ran_at still equal prev's. It reports false when another writer got
// there first.
func (s *Store) ClaimJob(ctx context.Context, prev, next domain.Job) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, queryClaimJob,
		next.ID,
		string(next.Status),
		next.LastRanAt,
		nullString(next.LastRanBy),
		next.Attempts,
		string(prev.Status),
		prev.LastRanAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateJob inserts job and returns its id. A zero CreatedAt is stamped
// with the current time.
func (s *Store) CreateJob(ctx context.Context, job domain.Job) (int64, error) {
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	status := job.Status
	if status == "" {
		status = domain.JobStatusPending
	}

	var id int64
	err := s.conn(ctx).QueryRowContext(ctx, queryInsertJob,
		job.Name,
		job.Description,
		job.Payload,
		string(job.Type),
		string(job.Schedule),
		job.ExecuteAt.UTC(),
		job.LastRanAt,
		nullString(job.LastRanBy),
		string(status),
		job.Attempts,
		created,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) CountJobsByType(ctx context.Context, jobType domain.JobType) (int, error) {
	var n int
	if err := s.conn(ctx).QueryRowContext(ctx, queryCountJobsByType, string(jobType)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// StaleRunningJobs returns RUNNING jobs dispatched before olderThan, oldest
// first.
func (s *Store) StaleRunningJobs(ctx context.Context, olderThan time.Time, limit int) ([]domain.Job, error) {
	return s.queryJobs(ctx, queryStaleRunningJobs, olderThan, limit)
}

func (s *Store) RegisterInstance(ctx context.Context, in domain.Instance) error {
	_, err := s.conn(ctx).ExecContext(ctx, queryUpsertInstance, in.Identity, in.Hostname, in.StartedAt, in.LastHeartbeat)
	return err
}

func (s *Store) Heartbeat(ctx context.Context, identity string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, queryHeartbeat, identity, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("instance %s is not registered", identity)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
