package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	sweepsTotal       prometheus.Counter
	sweepErrorsTotal  prometheus.Counter
	sweepsSkipped     prometheus.Counter
	jobsEnqueuedSweep prometheus.Counter
	sweepDuration     prometheus.Histogram

	// Dispatcher metrics
	enqueuedTotal      *prometheus.CounterVec
	publishErrorsTotal *prometheus.CounterVec

	// Executor metrics
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	// Mailer metrics
	mailsTotal *prometheus.CounterVec

	// Bus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Reconciler metrics
	staleJobs prometheus.Gauge

	// Sibling service metrics
	remoteCallsTotal   *prometheus.CounterVec
	remoteCallDuration *prometheus.HistogramVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initBusMetrics(reg)
	s.initRemoteMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_sweeps_total",
		Help: "Total number of sweeps started.",
	})
	s.sweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_sweep_errors_total",
		Help: "Total number of sweeps that ended with an error.",
	})
	s.sweepsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_sweeps_skipped_total",
		Help: "Total number of sweeps skipped because one was already running.",
	})
	s.jobsEnqueuedSweep = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_sweep_jobs_enqueued_total",
		Help: "Total number of jobs enqueued by sweeps.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_sweep_duration_seconds",
		Help:    "Duration of each sweep in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.sweepsTotal, "scheduler_sweeps_total")
	s.register(reg, s.sweepErrorsTotal, "scheduler_sweep_errors_total")
	s.register(reg, s.sweepsSkipped, "scheduler_sweeps_skipped_total")
	s.register(reg, s.jobsEnqueuedSweep, "scheduler_sweep_jobs_enqueued_total")
	s.register(reg, s.sweepDuration, "scheduler_sweep_duration_seconds")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.enqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_dispatcher_enqueued_total",
		Help: "Total number of jobs published per channel.",
	}, []string{"channel"})

	s.publishErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_dispatcher_publish_errors_total",
		Help: "Total number of publish failures per channel.",
	}, []string{"channel"})

	s.register(reg, s.enqueuedTotal, "scheduler_dispatcher_enqueued_total")
	s.register(reg, s.publishErrorsTotal, "scheduler_dispatcher_publish_errors_total")
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_executions_total",
		Help: "Total number of job executions by type and outcome.",
	}, []string{"job_type", "outcome"})

	s.executionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_execution_duration_seconds",
		Help:    "Job handler duration in seconds, including the surrounding transaction.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"job_type"})

	s.mailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_mails_total",
		Help: "Total number of mails by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.executionsTotal, "scheduler_executions_total")
	s.register(reg, s.executionDuration, "scheduler_execution_duration_seconds")
	s.register(reg, s.mailsTotal, "scheduler_mails_total")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_bus_buffer_size",
		Help: "Current number of messages buffered across in-process channels.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_bus_emit_errors_total",
		Help: "Total number of publish errors on the in-process bus (buffer full).",
	})
	s.staleJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_stale_running_jobs",
		Help: "RUNNING jobs older than the reconcile threshold at the last scan.",
	})

	s.register(reg, s.bufferSize, "scheduler_bus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "scheduler_bus_emit_errors_total")
	s.register(reg, s.staleJobs, "scheduler_stale_running_jobs")
}

func (s *PrometheusSink) initRemoteMetrics(reg prometheus.Registerer) {
	s.remoteCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_remote_calls_total",
		Help: "Total number of sibling service calls by service and status class.",
	}, []string{"service", "status_class"})

	s.remoteCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_remote_call_duration_seconds",
		Help:    "Sibling service call latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"service"})

	s.register(reg, s.remoteCallsTotal, "scheduler_remote_calls_total")
	s.register(reg, s.remoteCallDuration, "scheduler_remote_call_duration_seconds")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) SweepStarted() {
	s.sweepsTotal.Inc()
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, jobsEnqueued int, err error) {
	s.sweepDuration.Observe(duration.Seconds())
	s.jobsEnqueuedSweep.Add(float64(jobsEnqueued))
	if err != nil {
		s.sweepErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) SweepSkipped() {
	s.sweepsSkipped.Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) JobEnqueued(channel string) {
	s.enqueuedTotal.WithLabelValues(channel).Inc()
}

func (s *PrometheusSink) PublishFailed(channel string) {
	s.publishErrorsTotal.WithLabelValues(channel).Inc()
}

// Executor metrics implementation

func (s *PrometheusSink) JobExecuted(jobType string, outcome string, duration time.Duration) {
	s.executionsTotal.WithLabelValues(jobType, outcome).Inc()
	s.executionDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (s *PrometheusSink) MailOutcome(outcome string) {
	s.mailsTotal.WithLabelValues(outcome).Inc()
}

// Bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) StaleJobsUpdate(count int) {
	s.staleJobs.Set(float64(count))
}

// Sibling service metrics implementation

func (s *PrometheusSink) RemoteCallCompleted(service string, statusCode int, err error, d time.Duration) {
	s.remoteCallsTotal.WithLabelValues(service, ClassifyStatus(statusCode, err)).Inc()
	s.remoteCallDuration.WithLabelValues(service).Observe(d.Seconds())
}
