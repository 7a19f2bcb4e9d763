// Package mailer fans a batch of email templates out to the mail transport
// and parks the ones that could not be sent in a FAILED_TEMPLATES job.
package mailer

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

const (
	DefaultConcurrency = 8

	// FailedJobName is the name of the job that collects rejected templates.
	FailedJobName = "Failed Emails"
)

// Mail outcome labels.
const (
	OutcomeSent     = "sent"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Transport delivers one message. It reports false when the message was not
// sent but nothing went wrong in the attempt (for example blank fields).
type Transport interface {
	Send(ctx context.Context, recipient, subject, body string, isHTML bool, attachmentPath string) (bool, error)
}

// JobCreator persists the FAILED_TEMPLATES job.
type JobCreator interface {
	CreateJob(ctx context.Context, job domain.Job) (int64, error)
}

// MetricsSink records one outcome per template.
type MetricsSink interface {
	MailOutcome(outcome string)
}

// Report summarises one SendMails call.
type Report struct {
	Sent     int
	Rejected int
	Failed   []domain.FailedTemplate

	// FailedJobID is the id of the FAILED_TEMPLATES job, 0 when none was created.
	FailedJobID int64
}

type Mailer struct {
	transport   Transport
	jobs        JobCreator
	concurrency int
	limiter     *rate.Limiter
	metrics     MetricsSink
	clock       func() time.Time
}

// New returns a Mailer sending at most concurrency messages at once.
func New(transport Transport, jobs JobCreator, concurrency int) *Mailer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Mailer{
		transport:   transport,
		jobs:        jobs,
		concurrency: concurrency,
		clock:       time.Now,
	}
}

// WithRateLimit caps sends at perSecond with the given burst. Zero disables
// the limit.
func (m *Mailer) WithRateLimit(perSecond float64, burst int) *Mailer {
	if perSecond <= 0 {
		m.limiter = nil
		return m
	}
	if burst <= 0 {
		burst = 1
	}
	m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return m
}

func (m *Mailer) WithMetrics(sink MetricsSink) *Mailer {
	m.metrics = sink
	return m
}

func (m *Mailer) WithClock(clock func() time.Time) *Mailer {
	m.clock = clock
	return m
}

type failure struct {
	index int
	domain.FailedTemplate
}

// SendMails sends every template concurrently and waits for all of them. A
// failing send never aborts its siblings. When at least one send returned an
// error, a single FAILED_TEMPLATES job is created holding those templates and
// their causes.
func (m *Mailer) SendMails(ctx context.Context, templates []domain.EmailTemplate, jobID int64) (Report, error) {
	var (
		mu       sync.Mutex
		report   Report
		failures []failure
	)

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, tpl := range templates {
		i, tpl := i, tpl
		g.Go(func() error {
			outcome, err := m.send(ctx, tpl)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeSent:
				report.Sent++
				log.Printf("mailer: job=%d sent mail to %s for %s", jobID, tpl.Recipient, tpl.Subject)
			case OutcomeRejected:
				report.Rejected++
				log.Printf("mailer: job=%d failed to send mail %s for %s", jobID, tpl.Recipient, tpl.Subject)
			default:
				failures = append(failures, failure{
					index:          i,
					FailedTemplate: domain.FailedTemplate{Template: tpl, Cause: err.Error()},
				})
			}
			if m.metrics != nil {
				m.metrics.MailOutcome(outcome)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return report, nil
	}

	sort.Slice(failures, func(a, b int) bool { return failures[a].index < failures[b].index })
	report.Failed = make([]domain.FailedTemplate, len(failures))
	recipients := make([]string, len(failures))
	for i, f := range failures {
		log.Printf("mailer: job=%d task was rejected [%s] mail to (%s) for [%s]",
			jobID, f.Cause, f.Template.Recipient, f.Template.Subject)
		report.Failed[i] = f.FailedTemplate
		recipients[i] = f.Template.Recipient
	}

	payload, err := json.Marshal(report.Failed)
	if err != nil {
		return report, errors.Wrap(err, "encode failed templates")
	}
	job := domain.NewJob(FailedJobName, strings.Join(recipients, ", "), string(payload),
		domain.JobTypeFailedTemplates, domain.ScheduleOnce, m.clock())
	id, err := m.jobs.CreateJob(ctx, job)
	if err != nil {
		return report, errors.Wrapf(err, "create failed templates job for job (%d)", jobID)
	}
	report.FailedJobID = id
	return report, nil
}

func (m *Mailer) send(ctx context.Context, tpl domain.EmailTemplate) (string, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return OutcomeFailed, err
		}
	}
	ok, err := m.transport.Send(ctx, tpl.Recipient, tpl.Subject, tpl.MessageBody, tpl.IsHTML, tpl.AttachmentPath)
	switch {
	case err != nil:
		return OutcomeFailed, err
	case !ok:
		return OutcomeRejected, nil
	default:
		return OutcomeSent, nil
	}
}

// Recipients joins the recipients of templates with ", ".
func Recipients(templates []domain.EmailTemplate) string {
	out := make([]string, len(templates))
	for i, t := range templates {
		out[i] = t.Recipient
	}
	return strings.Join(out, ", ")
}

// NewEmailJob builds a ONCE EMAIL job due at now that will send templates.
func NewEmailJob(name, description string, templates []domain.EmailTemplate, now time.Time) (domain.Job, error) {
	payload, err := json.Marshal(templates)
	if err != nil {
		return domain.Job{}, errors.Wrap(err, "encode email templates")
	}
	return domain.NewJob(name, description, string(payload), domain.JobTypeEmail, domain.ScheduleOnce, now), nil
}
