package api

import "time"

// CreateJobRequest is the body of POST /api/scheduler/jobs. Time is the
// first execution instant (RFC 3339). Days and Dates are accepted for client
// compatibility and ignored; no schedule type reads them.
type CreateJobRequest struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	JSON         string     `json:"json"`
	JobType      string     `json:"job_type"`
	ScheduleType string     `json:"schedule_type"`
	Time         *time.Time `json:"time"`
	Days         []string   `json:"days,omitempty"`
	Dates        []string   `json:"dates,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
	JobID   int64  `json:"job_id,omitempty"`
}

type JobResponse struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	JobType      string  `json:"job_type"`
	ScheduleType string  `json:"schedule_type"`
	ExecuteAt    string  `json:"execute_at"`
	LastRanAt    *string `json:"last_ran_at,omitempty"`
	LastRanBy    string  `json:"last_ran_by,omitempty"`
	Status       string  `json:"status"`
	Attempts     int     `json:"attempts"`
	CreatedAt    string  `json:"created_at"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
