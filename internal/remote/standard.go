package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/executor"
	"github.com/khachaneojas/service-scheduler/internal/mailer"
)

const (
	ServiceStudent     = "student-service"
	ServiceExamination = "examination-service"

	PaymentDueTemplatesPath = "/api/student/template/payment-due"
	ExamStatusChangePath    = "/api/exam/template/status-change"
	UnpaidBookingsPath      = "/api/student/template/unpaid-bookings"

	PaymentDueJobName = "Sending reminders to students for upcoming payment due date (10 Feb) with pattern of (30-31, 1, 3, 5, 7, 8, 9, 10)"
)

// Endpoints holds the base URLs of the sibling services.
type Endpoints struct {
	Student     string
	Examination string
}

type JobCreator interface {
	CreateJob(ctx context.Context, job domain.Job) (int64, error)
}

// Standard runs the standard-channel job types against the sibling services.
type Standard struct {
	client    *Client
	endpoints Endpoints
	jobs      JobCreator
	clock     func() time.Time
}

func NewStandard(client *Client, endpoints Endpoints, jobs JobCreator) *Standard {
	return &Standard{client: client, endpoints: endpoints, jobs: jobs, clock: time.Now}
}

func (s *Standard) WithClock(clock func() time.Time) *Standard {
	s.clock = clock
	return s
}

func (s *Standard) Register(r *executor.Registry) {
	r.Register(domain.JobTypeStudentPaymentDueMail, executor.HandlerFunc(s.PaymentDueMail))
	r.Register(domain.JobTypeExamStatusChange, executor.HandlerFunc(s.ExamStatusChange))
	r.Register(domain.JobTypeDeleteUnpaidBookings, executor.HandlerFunc(s.DeleteUnpaidBookings))
}

// PaymentDueMail fetches the payment reminder templates from the student
// service and queues them as one EMAIL job.
func (s *Standard) PaymentDueMail(ctx context.Context, job *domain.Job) error {
	resp, err := s.client.Do(ctx, Request{
		Service: ServiceStudent,
		Method:  http.MethodGet,
		URL:     joinURL(s.endpoints.Student, PaymentDueTemplatesPath),
		JobID:   job.ID,
	})
	if err != nil {
		return fmt.Errorf("fetch payment due templates: %w", err)
	}

	var templates []domain.EmailTemplate
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &templates); err != nil {
			return fmt.Errorf("decode payment due templates: %w", err)
		}
	}
	if len(templates) == 0 {
		log.Printf("remote: job=%d no email templates found", job.ID)
		return nil
	}

	recipients := mailer.Recipients(templates)
	emailJob, err := mailer.NewEmailJob(PaymentDueJobName, "Scheduled emails to be sent to "+recipients, templates, s.clock())
	if err != nil {
		return err
	}
	if _, err := s.jobs.CreateJob(ctx, emailJob); err != nil {
		return fmt.Errorf("create email job: %w", err)
	}
	log.Printf("remote: job=%d added email job in db (%s)", job.ID, recipients)
	return nil
}

// ExamStatusChange forwards the job payload to the examination service.
func (s *Standard) ExamStatusChange(ctx context.Context, job *domain.Job) error {
	payload := strings.TrimSpace(job.Payload)
	if payload == "" || !json.Valid([]byte(payload)) {
		return fmt.Errorf("job (%d) [%s] has no valid payload", job.ID, job.Type)
	}
	if _, err := s.client.Do(ctx, Request{
		Service: ServiceExamination,
		Method:  http.MethodPost,
		URL:     joinURL(s.endpoints.Examination, ExamStatusChangePath),
		JobID:   job.ID,
		Body:    []byte(payload),
	}); err != nil {
		return fmt.Errorf("post exam status change: %w", err)
	}
	log.Printf("remote: job=%d made rest call for %s", job.ID, job.Type)
	return nil
}

// DeleteUnpaidBookings asks the student service to drop unpaid bookings.
func (s *Standard) DeleteUnpaidBookings(ctx context.Context, job *domain.Job) error {
	if _, err := s.client.Do(ctx, Request{
		Service: ServiceStudent,
		Method:  http.MethodDelete,
		URL:     joinURL(s.endpoints.Student, UnpaidBookingsPath),
		JobID:   job.ID,
	}); err != nil {
		return fmt.Errorf("delete unpaid bookings: %w", err)
	}
	log.Printf("remote: job=%d made rest call for %s", job.ID, job.Type)
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
