package api

import (
	"testing"
	"time"
)

func TestValidateCreateJob(t *testing.T) {
	at := time.Date(2024, 6, 10, 4, 30, 0, 0, time.UTC)

	valid := func() CreateJobRequest {
		return CreateJobRequest{
			Name:         "mail",
			JSON:         `{"to":["a@example.com"]}`,
			JobType:      "EMAIL",
			ScheduleType: "ONCE",
			Time:         &at,
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *CreateJobRequest)
		wantErr string
	}{
		{"valid", func(r *CreateJobRequest) {}, ""},
		{"empty payload allowed", func(r *CreateJobRequest) { r.JSON = "" }, ""},
		{"missing name", func(r *CreateJobRequest) { r.Name = "" }, "cannot proceed without specifying job-name."},
		{"blank name", func(r *CreateJobRequest) { r.Name = "   " }, "cannot proceed without specifying job-name."},
		{"missing job type", func(r *CreateJobRequest) { r.JobType = "" }, "cannot proceed without specifying job-type."},
		{"unknown job type", func(r *CreateJobRequest) { r.JobType = "FAX" }, `invalid job_type "FAX"`},
		{"missing schedule", func(r *CreateJobRequest) { r.ScheduleType = "" }, "cannot proceed without specifying schedule-type."},
		{"unknown schedule", func(r *CreateJobRequest) { r.ScheduleType = "WEEKLY" }, `invalid schedule_type "WEEKLY"`},
		{"missing time", func(r *CreateJobRequest) { r.Time = nil }, "cannot proceed without specifying time."},
		{"zero time", func(r *CreateJobRequest) { r.Time = &time.Time{} }, "cannot proceed without specifying time."},
		{"bad payload", func(r *CreateJobRequest) { r.JSON = "{nope" }, "json must be a valid JSON document"},
		{
			"name reported before type",
			func(r *CreateJobRequest) {
				r.Name = ""
				r.JobType = ""
			},
			"cannot proceed without specifying job-name.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)

			err := validateCreateJob(req)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}
