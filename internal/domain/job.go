package domain

import "time"

type JobType string

const (
	JobTypeEmail                       JobType = "EMAIL"
	JobTypeFailedTemplates             JobType = "FAILED_TEMPLATES"
	JobTypeReleaseCertificates         JobType = "RELEASE_CERTIFICATES"
	JobTypeStudentPaymentDueMail       JobType = "STUDENT_PAYMENT_DUE_MAIL"
	JobTypeExamStatusChange            JobType = "EXAM_STATUS_CHANGE"
	JobTypeDeleteUnpaidBookings        JobType = "DELETE_UNPAID_BOOKINGS"
	JobTypeMarkEligibilityTheory       JobType = "MARK_ELIGIBILITY_ACADEMICS_THEORY"
	JobTypeMarkEligibilityProject      JobType = "MARK_ELIGIBILITY_ACADEMICS_PROJECT"
	JobTypeMarkEligibilityAttendance   JobType = "MARK_ELIGIBILITY_ATTENDANCE"
	JobTypeMarkEligibilityAddStartDate JobType = "MARK_ELIGIBILITY_ADD_START_DATE"
	JobTypeMarkEligibilityFinance      JobType = "MARK_ELIGIBILITY_FINANCE"
	JobTypeWebsiteDataTransfer         JobType = "WEBSITE_DATA_TRANSFER"
	JobTypeUpdateExpiryStatus          JobType = "UPDATE_EXPIRY_STATUS"
	JobTypeExpiryReminderMail          JobType = "EXPIRY_REMINDER_MAIL"
	JobTypeUpdateStudentStatus         JobType = "UPDATE_STUDENT_STATUS"
	JobTypeNotifyBookingStart          JobType = "NOTIFY_BOOKING_START"
)

var jobTypes = []JobType{
	JobTypeEmail,
	JobTypeFailedTemplates,
	JobTypeReleaseCertificates,
	JobTypeStudentPaymentDueMail,
	JobTypeExamStatusChange,
	JobTypeDeleteUnpaidBookings,
	JobTypeMarkEligibilityTheory,
	JobTypeMarkEligibilityProject,
	JobTypeMarkEligibilityAttendance,
	JobTypeMarkEligibilityAddStartDate,
	JobTypeMarkEligibilityFinance,
	JobTypeWebsiteDataTransfer,
	JobTypeUpdateExpiryStatus,
	JobTypeExpiryReminderMail,
	JobTypeUpdateStudentStatus,
	JobTypeNotifyBookingStart,
}

// JobTypes returns the closed set of job types in declaration order.
func JobTypes() []JobType {
	out := make([]JobType, len(jobTypes))
	copy(out, jobTypes)
	return out
}

func (t JobType) Valid() bool {
	for _, jt := range jobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "ONCE"
	ScheduleEveryday ScheduleType = "EVERYDAY"
)

func (s ScheduleType) Valid() bool {
	return s == ScheduleOnce || s == ScheduleEveryday
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusSuccess    JobStatus = "SUCCESS"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusNoInstance JobStatus = "NO_INSTANCE"
)

// Job is a persisted unit of deferred work. Payload is opaque JSON owned by
// the handler registered for Type.
type Job struct {
	ID          int64
	Name        string
	Description string
	Payload     string
	Type        JobType
	Schedule    ScheduleType
	ExecuteAt   time.Time
	LastRanAt   *time.Time // nil = never run
	LastRanBy   string
	Status      JobStatus
	Attempts    int
	CreatedAt   time.Time
}

// NewJob builds a PENDING job that has never run.
func NewJob(name, description, payload string, jobType JobType, schedule ScheduleType, executeAt time.Time) Job {
	return Job{
		Name:        name,
		Description: description,
		Payload:     payload,
		Type:        jobType,
		Schedule:    schedule,
		ExecuteAt:   executeAt.UTC(),
		Status:      JobStatusPending,
	}
}
