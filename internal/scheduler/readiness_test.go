package scheduler

import (
	"testing"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

var (
	testPolicy = Policy{RetryDelay: 5 * time.Minute, RetryLimit: 3}
	testNow    = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
)

func ptr(t time.Time) *time.Time { return &t }

func TestIsReady(t *testing.T) {
	yesterday := testNow.AddDate(0, 0, -1)

	tests := []struct {
		name string
		job  domain.Job
		want bool
	}{
		{
			name: "never run is ready even when already successful",
			job: domain.Job{
				Schedule:  domain.ScheduleOnce,
				Status:    domain.JobStatusSuccess,
				ExecuteAt: testNow.Add(time.Hour),
			},
			want: true,
		},
		{
			name: "failed once job retried after delay",
			job: domain.Job{
				Schedule:  domain.ScheduleOnce,
				Status:    domain.JobStatusFailed,
				Attempts:  1,
				ExecuteAt: testNow.Add(time.Hour),
				LastRanAt: ptr(testNow.Add(-10 * time.Minute)),
			},
			want: true,
		},
		{
			name: "retry delay is inclusive",
			job: domain.Job{
				Schedule:  domain.ScheduleOnce,
				Status:    domain.JobStatusFailed,
				Attempts:  1,
				ExecuteAt: testNow.Add(time.Hour),
				LastRanAt: ptr(testNow.Add(-5 * time.Minute)),
			},
			want: true,
		},
		{
			name: "within retry delay and execute_at in the future",
			job: domain.Job{
				Schedule:  domain.ScheduleOnce,
				Status:    domain.JobStatusFailed,
				Attempts:  1,
				ExecuteAt: testNow.Add(time.Hour),
				LastRanAt: ptr(testNow.Add(-time.Minute)),
			},
			want: false,
		},
		{
			name: "once job due by execute_at ignores retry delay",
			job: domain.Job{
				Schedule:  domain.ScheduleOnce,
				Status:    domain.JobStatusFailed,
				Attempts:  1,
				ExecuteAt: testNow.Add(-time.Hour),
				LastRanAt: ptr(testNow.Add(-time.Minute)),
			},
			want: true,
		},
		{
			name: "once job with attempts exhausted and future execute_at",
			job: domain.Job{
				Schedule:  domain.ScheduleOnce,
				Status:    domain.JobStatusFailed,
				Attempts:  3,
				ExecuteAt: testNow.Add(time.Minute),
				LastRanAt: ptr(testNow.Add(-time.Hour)),
			},
			want: false,
		},
		{
			name: "once execute_at equal to now is inclusive",
			job: domain.Job{
				Schedule:  domain.ScheduleOnce,
				Status:    domain.JobStatusFailed,
				Attempts:  3,
				ExecuteAt: testNow,
				LastRanAt: ptr(testNow.Add(-time.Hour)),
			},
			want: true,
		},
		{
			name: "successful once job never runs again",
			job: domain.Job{
				Schedule:  domain.ScheduleOnce,
				Status:    domain.JobStatusSuccess,
				ExecuteAt: testNow.Add(-time.Hour),
				LastRanAt: ptr(testNow.Add(-time.Hour)),
			},
			want: false,
		},
		{
			name: "everyday job due today after last run yesterday",
			job: domain.Job{
				Schedule:  domain.ScheduleEveryday,
				Status:    domain.JobStatusSuccess,
				ExecuteAt: time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
				LastRanAt: ptr(time.Date(2024, 3, 9, 0, 30, 5, 0, time.UTC)),
			},
			want: true,
		},
		{
			name: "everyday job already ran today",
			job: domain.Job{
				Schedule:  domain.ScheduleEveryday,
				Status:    domain.JobStatusSuccess,
				ExecuteAt: time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
				LastRanAt: ptr(time.Date(2024, 3, 10, 0, 30, 5, 0, time.UTC)),
			},
			want: false,
		},
		{
			name: "everyday job not yet due today",
			job: domain.Job{
				Schedule:  domain.ScheduleEveryday,
				Status:    domain.JobStatusSuccess,
				ExecuteAt: time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
				LastRanAt: ptr(yesterday),
			},
			want: false,
		},
		{
			name: "everyday job failed today is retried",
			job: domain.Job{
				Schedule:  domain.ScheduleEveryday,
				Status:    domain.JobStatusFailed,
				Attempts:  1,
				ExecuteAt: time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
				LastRanAt: ptr(time.Date(2024, 3, 10, 0, 31, 0, 0, time.UTC)),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job
			if got := IsReady(&job, testPolicy, testNow); got != tt.want {
				t.Errorf("IsReady = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsReady_EverydayResetsExhaustedAttempts(t *testing.T) {
	job := domain.Job{
		Schedule:  domain.ScheduleEveryday,
		Status:    domain.JobStatusFailed,
		Attempts:  3,
		ExecuteAt: time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
		LastRanAt: ptr(time.Date(2024, 3, 9, 0, 30, 0, 0, time.UTC)),
	}

	if !IsReady(&job, testPolicy, testNow) {
		t.Error("IsReady = false, want true")
	}
	if job.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", job.Attempts)
	}
}

func TestIsReady_ResetHappensEvenWhenNotReady(t *testing.T) {
	job := domain.Job{
		Schedule:  domain.ScheduleEveryday,
		Status:    domain.JobStatusFailed,
		Attempts:  3,
		ExecuteAt: time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
		LastRanAt: ptr(time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC)),
	}

	if IsReady(&job, testPolicy, testNow) {
		t.Error("IsReady = true, want false")
	}
	if job.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", job.Attempts)
	}
}

func TestIsReady_NoResetWhenRanToday(t *testing.T) {
	job := domain.Job{
		Schedule:  domain.ScheduleEveryday,
		Status:    domain.JobStatusFailed,
		Attempts:  3,
		ExecuteAt: time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
		LastRanAt: ptr(time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC)),
	}

	IsReady(&job, testPolicy, testNow)
	if job.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", job.Attempts)
	}
}

func TestIsReady_OnceNeverResets(t *testing.T) {
	job := domain.Job{
		Schedule:  domain.ScheduleOnce,
		Status:    domain.JobStatusFailed,
		Attempts:  3,
		ExecuteAt: testNow.Add(time.Hour),
		LastRanAt: ptr(testNow.AddDate(0, 0, -2)),
	}

	IsReady(&job, testPolicy, testNow)
	if job.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", job.Attempts)
	}
}

func TestIsReady_OnlyAttemptsMutated(t *testing.T) {
	last := time.Date(2024, 3, 9, 0, 30, 0, 0, time.UTC)
	job := domain.Job{
		ID:        9,
		Name:      "n",
		Schedule:  domain.ScheduleEveryday,
		Status:    domain.JobStatusFailed,
		Attempts:  5,
		ExecuteAt: time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
		LastRanAt: &last,
		LastRanBy: "instance-a",
	}
	before := job

	IsReady(&job, testPolicy, testNow)

	job.Attempts = before.Attempts
	if job.ID != before.ID || job.Name != before.Name || job.Status != before.Status ||
		!job.ExecuteAt.Equal(before.ExecuteAt) || !job.LastRanAt.Equal(*before.LastRanAt) ||
		job.LastRanBy != before.LastRanBy {
		t.Errorf("IsReady mutated fields other than Attempts: got %+v, want %+v", job, before)
	}
}

func TestSweepable(t *testing.T) {
	yesterday := ptr(testNow.AddDate(0, 0, -1))
	today := ptr(testNow.Add(-time.Hour))

	tests := []struct {
		name string
		job  domain.Job
		want bool
	}{
		{"pending", domain.Job{Status: domain.JobStatusPending, Schedule: domain.ScheduleOnce}, true},
		{"success", domain.Job{Status: domain.JobStatusSuccess, Schedule: domain.ScheduleEveryday}, true},
		{"running", domain.Job{Status: domain.JobStatusRunning, Schedule: domain.ScheduleOnce}, false},
		{"no instance", domain.Job{Status: domain.JobStatusNoInstance, Schedule: domain.ScheduleOnce}, false},
		{"failed with attempts left", domain.Job{Status: domain.JobStatusFailed, Schedule: domain.ScheduleOnce, Attempts: 2, LastRanAt: today}, true},
		{"failed once exhausted", domain.Job{Status: domain.JobStatusFailed, Schedule: domain.ScheduleOnce, Attempts: 3, LastRanAt: yesterday}, false},
		{"failed everyday exhausted ran yesterday", domain.Job{Status: domain.JobStatusFailed, Schedule: domain.ScheduleEveryday, Attempts: 3, LastRanAt: yesterday}, true},
		{"failed everyday exhausted ran today", domain.Job{Status: domain.JobStatusFailed, Schedule: domain.ScheduleEveryday, Attempts: 3, LastRanAt: today}, false},
		{"failed everyday exhausted never ran", domain.Job{Status: domain.JobStatusFailed, Schedule: domain.ScheduleEveryday, Attempts: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job
			if got := Sweepable(&job, testPolicy, testNow); got != tt.want {
				t.Errorf("Sweepable = %v, want %v", got, tt.want)
			}
		})
	}
}
