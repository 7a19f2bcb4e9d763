package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SweepStarted()                                                            {}
func (n *NoopSink) SweepCompleted(duration time.Duration, jobsEnqueued int, err error)       {}
func (n *NoopSink) SweepSkipped()                                                            {}
func (n *NoopSink) JobEnqueued(channel string)                                               {}
func (n *NoopSink) PublishFailed(channel string)                                             {}
func (n *NoopSink) JobExecuted(jobType string, outcome string, duration time.Duration)       {}
func (n *NoopSink) MailOutcome(outcome string)                                               {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                {}
func (n *NoopSink) EmitError()                                                               {}
func (n *NoopSink) StaleJobsUpdate(count int)                                                {}
func (n *NoopSink) RemoteCallCompleted(service string, code int, err error, d time.Duration) {}
