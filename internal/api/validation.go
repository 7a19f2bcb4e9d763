package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

const missingPrefix = "cannot proceed without specifying "

// validateCreateJob checks required fields in the order name, job type,
// schedule type, time and reports the first one missing.
func validateCreateJob(req CreateJobRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New(missingPrefix + "job-name.")
	}
	if req.JobType == "" {
		return errors.New(missingPrefix + "job-type.")
	}
	if !domain.JobType(req.JobType).Valid() {
		return fmt.Errorf("invalid job_type %q", req.JobType)
	}
	if req.ScheduleType == "" {
		return errors.New(missingPrefix + "schedule-type.")
	}
	if !domain.ScheduleType(req.ScheduleType).Valid() {
		return fmt.Errorf("invalid schedule_type %q", req.ScheduleType)
	}
	if req.Time == nil || req.Time.IsZero() {
		return errors.New(missingPrefix + "time.")
	}
	if req.JSON != "" && !json.Valid([]byte(req.JSON)) {
		return errors.New("json must be a valid JSON document")
	}
	return nil
}
