// Package lifecycle runs the daily booking and student status maintenance:
// financial dropouts, expiry reminders, expiry transitions and booking start
// notices.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/executor"
	"github.com/khachaneojas/service-scheduler/internal/mailer"
)

const (
	// ExpiryReminderDays is how far ahead of expiry the reminder goes out.
	ExpiryReminderDays = 9
	// StartNoticeDays is how far ahead of the start date bookers are notified.
	StartNoticeDays = 4
	// PrimaryOrganizationID owns the financial validity window.
	PrimaryOrganizationID int64 = 1
)

type Store interface {
	Organization(ctx context.Context, id int64) (domain.Organization, error)

	// FinancialDefaulters returns bookings with an ON_GOING or EXPIRED
	// course group whose finance clearance is PENDING, whose student is
	// neither PASSED_OUT nor FINANCIAL_DROPOUT, and which carry an unpaid
	// installment due more than validityDays before today.
	FinancialDefaulters(ctx context.Context, today time.Time, validityDays int) ([]domain.Booking, error)
	SetStudentStatus(ctx context.Context, studentIDs []int64, status domain.StudentStatus) error

	// BookingsExpiringOn returns bookings with an ON_GOING course group and
	// a student other than PASSED_OUT whose estimated expiry falls on day.
	BookingsExpiringOn(ctx context.Context, day time.Time) ([]domain.Booking, error)

	// ExpiredBookings returns bookings past their estimated expiry with an
	// ON_GOING course group, loaded with groups, courses and clearances.
	ExpiredBookings(ctx context.Context, now time.Time) ([]domain.Booking, error)
	SetCourseGroupStatus(ctx context.Context, mappingIDs []int64, status domain.BookingStatus) error

	// BookingsStartingOn returns bookings with an ON_GOING course group
	// whose start date falls on day.
	BookingsStartingOn(ctx context.Context, day time.Time) ([]domain.Booking, error)

	CreateNotifications(ctx context.Context, notifications []domain.Notification) error
}

// Mailer sends a batch synchronously, parking failures itself.
type Mailer interface {
	SendMails(ctx context.Context, templates []domain.EmailTemplate, jobID int64) (mailer.Report, error)
}

type Lifecycle struct {
	store Store
	mail  Mailer
	clock func() time.Time
}

func New(store Store, mail Mailer) *Lifecycle {
	return &Lifecycle{store: store, mail: mail, clock: time.Now}
}

func (l *Lifecycle) WithClock(clock func() time.Time) *Lifecycle {
	l.clock = clock
	return l
}

// Register binds the four maintenance job types.
func (l *Lifecycle) Register(r *executor.Registry) {
	r.Register(domain.JobTypeUpdateStudentStatus, executor.HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		_, err := l.UpdateStudentStatus(ctx)
		return err
	}))
	r.Register(domain.JobTypeExpiryReminderMail, executor.HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		_, err := l.RemindExpiring(ctx, job.ID)
		return err
	}))
	r.Register(domain.JobTypeUpdateExpiryStatus, executor.HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		_, err := l.ExpireBookings(ctx, job.ID)
		return err
	}))
	r.Register(domain.JobTypeNotifyBookingStart, executor.HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		_, err := l.NotifyBookingStart(ctx)
		return err
	}))
}

func (l *Lifecycle) today() time.Time {
	now := l.clock().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// UpdateStudentStatus moves students with overdue installments to
// FINANCIAL_DROPOUT and returns their uids.
func (l *Lifecycle) UpdateStudentStatus(ctx context.Context) ([]string, error) {
	org, err := l.store.Organization(ctx, PrimaryOrganizationID)
	if err != nil {
		return nil, errors.Wrapf(err, "load organization %d", PrimaryOrganizationID)
	}

	bookings, err := l.store.FinancialDefaulters(ctx, l.today(), org.FinancialValidityDays)
	if err != nil {
		return nil, errors.Wrap(err, "load financial defaulters")
	}

	seen := make(map[string]bool)
	var ids []int64
	var uids []string
	for _, b := range bookings {
		if seen[b.Student.UID] {
			continue
		}
		seen[b.Student.UID] = true
		ids = append(ids, b.Student.ID)
		uids = append(uids, b.Student.UID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := l.store.SetStudentStatus(ctx, ids, domain.StudentFinancialDropout); err != nil {
		return nil, errors.Wrap(err, "update student status")
	}
	log.Printf("lifecycle: status of students (%s) updated as FINANCIAL DROPOUT", strings.Join(uids, ", "))
	return uids, nil
}

// RemindExpiring mails students whose booking expires in
// ExpiryReminderDays and notifies the bookers.
func (l *Lifecycle) RemindExpiring(ctx context.Context, jobID int64) (int, error) {
	day := l.today().AddDate(0, 0, ExpiryReminderDays)
	bookings, err := l.store.BookingsExpiringOn(ctx, day)
	if err != nil {
		return 0, errors.Wrap(err, "load bookings about to expire")
	}
	if len(bookings) == 0 {
		return 0, nil
	}

	templates := make([]domain.EmailTemplate, 0, len(bookings))
	var notes []domain.Notification
	for _, b := range bookings {
		date := mailer.FormatLongDate(b.ExpiresAt, b.Organization.Location())
		tpl, err := mailer.Expiring(b.Student.Email, b.Student.FullName(), b.UID, date)
		if err != nil {
			return 0, err
		}
		templates = append(templates, tpl)
		notes = l.notify(notes, b, fmt.Sprintf("Booking (%s) is about to expire on %s", b.UID, date))
	}

	if err := l.saveNotifications(ctx, notes); err != nil {
		return 0, err
	}
	if _, err := l.mail.SendMails(ctx, templates, jobID); err != nil {
		return 0, err
	}
	return len(templates), nil
}

// ExpireBookings moves every active course group of a lapsed booking to
// EXPIRED when the booking still has an unreleased clearance and no paused
// course. It returns the uids of the expired bookings.
func (l *Lifecycle) ExpireBookings(ctx context.Context, jobID int64) ([]string, error) {
	bookings, err := l.store.ExpiredBookings(ctx, l.clock().UTC())
	if err != nil {
		return nil, errors.Wrap(err, "load expired bookings")
	}

	var (
		mappingIDs []int64
		expired    []string
		templates  []domain.EmailTemplate
		notes      []domain.Notification
	)
	for _, b := range bookings {
		active := b.Active()
		if !Expirable(active) {
			continue
		}
		for _, g := range active {
			mappingIDs = append(mappingIDs, g.ID)
		}

		date := mailer.FormatLongDate(b.ExpiresAt, b.Organization.Location())
		tpl, err := mailer.Expired(b.Student.Email, b.Student.FullName(), b.UID, date)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
		notes = l.notify(notes, b, fmt.Sprintf("Booking (%s) has expired on %s", b.UID, date))
		expired = append(expired, b.UID)
		log.Printf("lifecycle: booking status of %s updated to expired", b.UID)
	}
	if len(mappingIDs) == 0 {
		return nil, nil
	}

	if err := l.store.SetCourseGroupStatus(ctx, mappingIDs, domain.BookingExpired); err != nil {
		return nil, errors.Wrap(err, "expire course groups")
	}
	if err := l.saveNotifications(ctx, notes); err != nil {
		return nil, err
	}
	if _, err := l.mail.SendMails(ctx, templates, jobID); err != nil {
		return nil, err
	}
	return expired, nil
}

// Expirable reports whether a lapsed booking's active course groups should
// expire: at least one clearance is still PENDING or TO_REVIEW and no course
// is PAUSED.
func Expirable(active []domain.CourseGroupMapping) bool {
	open := false
	for _, g := range active {
		if g.HasPausedCourse() {
			return false
		}
		if c := g.Clearance; c != nil && (c.ReleaseStatus == domain.ReleasePending || c.ReleaseStatus == domain.ReleaseToReview) {
			open = true
		}
	}
	return open
}

// NotifyBookingStart reminds bookers of bookings starting in
// StartNoticeDays.
func (l *Lifecycle) NotifyBookingStart(ctx context.Context) (int, error) {
	day := l.today().AddDate(0, 0, StartNoticeDays)
	bookings, err := l.store.BookingsStartingOn(ctx, day)
	if err != nil {
		return 0, errors.Wrap(err, "load bookings about to start")
	}

	seen := make(map[int64]bool)
	var notes []domain.Notification
	for _, b := range bookings {
		if seen[b.ID] {
			continue
		}
		seen[b.ID] = true
		date := mailer.FormatLongDate(b.StartDate, b.Organization.Location())
		notes = l.notify(notes, b, fmt.Sprintf("Reminder: Booking (%s) estimated to commence on %s", b.UID, date))
	}
	if err := l.saveNotifications(ctx, notes); err != nil {
		return 0, err
	}
	return len(notes), nil
}

func (l *Lifecycle) notify(notes []domain.Notification, b domain.Booking, msg string) []domain.Notification {
	if b.BookedBy == "" {
		return notes
	}
	return append(notes, domain.Notification{
		UserPID:     b.BookedBy,
		Message:     msg,
		View:        domain.ViewBookings,
		ReferenceID: b.UID,
		CreatedAt:   l.clock().UTC(),
	})
}

func (l *Lifecycle) saveNotifications(ctx context.Context, notes []domain.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	if err := l.store.CreateNotifications(ctx, notes); err != nil {
		return errors.Wrap(err, "save notifications")
	}
	return nil
}
