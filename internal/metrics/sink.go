package metrics

import (
	"strings"
	"time"
)

// Sink is the union of the per-package MetricsSink interfaces.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	SweepStarted()
	SweepCompleted(duration time.Duration, jobsEnqueued int, err error)
	SweepSkipped()

	// Dispatcher metrics
	JobEnqueued(channel string)
	PublishFailed(channel string)

	// Executor metrics
	JobExecuted(jobType string, outcome string, duration time.Duration)

	// Mailer metrics
	MailOutcome(outcome string)

	// Bus metrics
	BufferSizeUpdate(size int)
	EmitError()

	// Reconciler metrics
	StaleJobsUpdate(count int)

	// Sibling service metrics
	RemoteCallCompleted(service string, statusCode int, err error, d time.Duration)
}

// StatusClass constants for RemoteCallCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassCircuitOpen     = "circuit_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class. A non-nil
// error wins over the code.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "circuit breaker is open"):
			return StatusClassCircuitOpen
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"), strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
