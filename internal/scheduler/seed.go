package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

// SeedStore is the persistence surface needed to install default jobs.
type SeedStore interface {
	CountJobsByType(ctx context.Context, jobType domain.JobType) (int, error)
	CreateJob(ctx context.Context, job domain.Job) (int64, error)
}

// DefaultJob is a daily maintenance job installed when missing.
type DefaultJob struct {
	Type        domain.JobType
	Name        string
	Description string
	Hour        int
	Minute      int
}

// DefaultJobs returns the daily maintenance jobs. Times are UTC.
func DefaultJobs() []DefaultJob {
	return []DefaultJob{
		{
			Type:        domain.JobTypeStudentPaymentDueMail,
			Name:        "Payment Due Email Reminder.",
			Description: "Reminds students for upcoming due date (10 Feb) with pattern of (30-31, 1, 3, 5, 7, 8, 9, 10)",
			Hour:        4,
			Minute:      30,
		},
		{
			Type:        domain.JobTypeDeleteUnpaidBookings,
			Name:        "Delete Bookings with No Payments.",
			Description: "Remove all bookings that do not have any associated payments.",
			Hour:        3,
			Minute:      30,
		},
		{
			Type:        domain.JobTypeUpdateExpiryStatus,
			Name:        "Update booking Status to EXPIRED.",
			Description: "Update the booking status to EXPIRED for all bookings that have reached their expiry date.",
			Hour:        21,
			Minute:      30,
		},
		{
			Type:        domain.JobTypeExpiryReminderMail,
			Name:        "Send booking expiry reminder mail.",
			Description: "Send booking expiry reminder mail to all students whose bookings are set to expire within the next 10 days.",
			Hour:        20,
			Minute:      30,
		},
		{
			Type:        domain.JobTypeUpdateStudentStatus,
			Name:        "Update student status to FINANCIAL DROPOUT.",
			Description: "Update the student status to FINANCIAL DROPOUT if the student fails to pay the installment within 60 days.",
			Hour:        22,
			Minute:      30,
		},
		{
			Type:        domain.JobTypeWebsiteDataTransfer,
			Name:        "Sync certificate data from portal to website database",
			Description: "Add or update a newly published or existing certificate",
			Hour:        1,
			Minute:      30,
		},
		{
			Type:        domain.JobTypeNotifyBookingStart,
			Name:        "Notify user 5 days prior of estimated start date of booking.",
			Description: "The associated user of the booking will be reminded 5 days in advance of estimated start date.",
			Hour:        2,
			Minute:      30,
		},
		{
			Type:        domain.JobTypeReleaseCertificates,
			Name:        "Release Certificates.",
			Description: "Release all the certificates that are set to be issued.",
			Hour:        0,
			Minute:      30,
		},
	}
}

// SeedDefaults creates every default job whose type has no row yet and
// returns how many were created.
func SeedDefaults(ctx context.Context, store SeedStore, now time.Time) (int, error) {
	now = now.UTC()
	y, m, d := now.Date()

	created := 0
	for _, def := range DefaultJobs() {
		n, err := store.CountJobsByType(ctx, def.Type)
		if err != nil {
			return created, fmt.Errorf("count %s jobs: %w", def.Type, err)
		}
		if n > 0 {
			continue
		}

		at := time.Date(y, m, d, def.Hour, def.Minute, 0, 0, time.UTC)
		job := domain.NewJob(def.Name, def.Description, "", def.Type, domain.ScheduleEveryday, at)
		job.CreatedAt = now
		id, err := store.CreateJob(ctx, job)
		if err != nil {
			return created, fmt.Errorf("create %s job: %w", def.Type, err)
		}
		log.Printf("scheduler: seeded job (%d) [%s] at %02d:%02d UTC", id, def.Type, def.Hour, def.Minute)
		created++
	}
	return created, nil
}
