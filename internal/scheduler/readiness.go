package scheduler

import (
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

// Policy is the retry configuration applied to every job.
type Policy struct {
	RetryDelay time.Duration
	RetryLimit int
}

func (p Policy) attemptsNotExceeded(job *domain.Job) bool {
	return job.Attempts < p.RetryLimit
}

// everydayDayPassed reports whether an EVERYDAY job last ran on an earlier
// UTC calendar day than now, or never ran.
func everydayDayPassed(job *domain.Job, now time.Time) bool {
	if job.Schedule != domain.ScheduleEveryday {
		return false
	}
	if job.LastRanAt == nil {
		return true
	}
	return utcDate(*job.LastRanAt).Before(utcDate(now))
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsReady reports whether job is due at now.
//
// When an EVERYDAY job has exhausted its attempts and last ran on a previous
// UTC day, IsReady resets job.Attempts to 0. Callers must persist that change
// whether or not the job turns out ready.
func IsReady(job *domain.Job, p Policy, now time.Time) bool {
	if job.LastRanAt == nil {
		return true
	}

	now = now.UTC()
	lastRanAt := job.LastRanAt.UTC()

	retryDelayExceeded := !now.Before(lastRanAt.Add(p.RetryDelay))
	attemptsNotExceeded := p.attemptsNotExceeded(job)
	dayPassed := everydayDayPassed(job, now)
	notSuccess := job.Status != domain.JobStatusSuccess

	if !attemptsNotExceeded && dayPassed {
		job.Attempts = 0
	}

	if attemptsNotExceeded && retryDelayExceeded && !dayPassed && notSuccess {
		return true
	}

	if job.Schedule == domain.ScheduleOnce && notSuccess {
		return !job.ExecuteAt.UTC().After(now)
	}

	if job.Schedule == domain.ScheduleEveryday {
		at := job.ExecuteAt.UTC()
		y, m, d := now.Date()
		todayAt := time.Date(y, m, d, at.Hour(), at.Minute(), 0, 0, time.UTC)
		return todayAt.After(lastRanAt) && !todayAt.After(now)
	}

	return false
}

// Sweepable is the pre-filter applied before IsReady. RUNNING and
// NO_INSTANCE jobs are never picked up; FAILED jobs only while they still
// have attempts left or their everyday window rolled over.
func Sweepable(job *domain.Job, p Policy, now time.Time) bool {
	switch job.Status {
	case domain.JobStatusRunning, domain.JobStatusNoInstance:
		return false
	case domain.JobStatusFailed:
		return p.attemptsNotExceeded(job) || everydayDayPassed(job, now)
	}
	return true
}
