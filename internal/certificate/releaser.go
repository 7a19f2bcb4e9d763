package certificate

import (
	"context"
	"log"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/executor"
	"github.com/khachaneojas/service-scheduler/internal/mailer"
)

// Names of the EMAIL jobs queued by a release run.
const (
	ConfirmationJobName = "Email to student confirmation before releasing certificate."
	OnHoldJobName       = "Email to the students regarding certificate release has been put on hold."
	ReleasedJobName     = "Email to the students regarding the release of their certificate according to the specified schedule."
)

// Store is the persistence the releaser needs. All calls run inside the
// executor's transaction.
type Store interface {
	UIDChecker

	// ListReleasableBookings returns ON_GOING bookings loaded with their
	// releasable ON_GOING course-group mappings and clearances.
	ListReleasableBookings(ctx context.Context) ([]domain.Booking, error)
	SetBookingReleasable(ctx context.Context, bookingID int64, releasable bool) error
	SaveClearance(ctx context.Context, c *domain.CertificateClearance) error
	SetCourseGroupStatus(ctx context.Context, mappingIDs []int64, status domain.BookingStatus) error
	CreateCertificate(ctx context.Context, c domain.Certificate) (int64, error)

	// MarkPassedOut moves the given students to PASSED_OUT when none of
	// their course-group mappings is still ON_GOING, returning those moved.
	MarkPassedOut(ctx context.Context, studentIDs []int64) ([]int64, error)
}

type JobCreator interface {
	CreateJob(ctx context.Context, job domain.Job) (int64, error)
}

// Result summarises one release run.
type Result struct {
	Bookings  int
	OnHold    int
	Scheduled int
	Released  []string
	PassedOut []int64
	EmailJobs []int64
}

type Releaser struct {
	store        Store
	jobs         JobCreator
	downloadBase string
	newUID       func() string
	clock        func() time.Time
}

// NewReleaser returns a Releaser whose download links are downloadBase
// followed by the clearance uid.
func NewReleaser(store Store, jobs JobCreator, downloadBase string) *Releaser {
	return &Releaser{
		store:        store,
		jobs:         jobs,
		downloadBase: downloadBase,
		newUID:       RandomUID,
		clock:        time.Now,
	}
}

func (r *Releaser) WithClock(clock func() time.Time) *Releaser {
	r.clock = clock
	return r
}

// WithUIDSource replaces the uid generator. Intended for tests.
func (r *Releaser) WithUIDSource(gen func() string) *Releaser {
	r.newUID = gen
	return r
}

// Handler executes RELEASE_CERTIFICATES jobs.
func (r *Releaser) Handler() executor.Handler {
	return executor.HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		res, err := r.Run(ctx)
		if err != nil {
			return err
		}
		log.Printf("certificate: job=%d bookings=%d on_hold=%d scheduled=%d released=%d passed_out=%d",
			job.ID, res.Bookings, res.OnHold, res.Scheduled, len(res.Released), len(res.PassedOut))
		return nil
	})
}

type run struct {
	now       time.Time
	result    Result
	dirty     []*domain.CertificateClearance
	seen      map[int64]bool
	completed []int64
	students  []int64
	onHold    []domain.EmailTemplate
	confirm   []domain.EmailTemplate
	released  []domain.EmailTemplate
}

func (s *run) touch(c *domain.CertificateClearance) {
	if s.seen[c.ID] {
		return
	}
	s.seen[c.ID] = true
	s.dirty = append(s.dirty, c)
}

// Run evaluates every releasable booking once.
//
// A booking with any partially cleared clearance is put on hold and loses its
// releasable flag. A fully cleared booking gets a release date the first time
// it is seen, and once every release date of the booking has arrived its
// certificates are minted.
func (r *Releaser) Run(ctx context.Context) (Result, error) {
	s := &run{now: r.clock().UTC(), seen: make(map[int64]bool)}

	bookings, err := r.store.ListReleasableBookings(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "list releasable bookings")
	}

	for i := range bookings {
		if err := r.evaluate(ctx, s, &bookings[i]); err != nil {
			return s.result, err
		}
	}

	for _, c := range s.dirty {
		if err := r.store.SaveClearance(ctx, c); err != nil {
			return s.result, errors.Wrapf(err, "save clearance %d", c.ID)
		}
	}
	if len(s.completed) > 0 {
		if err := r.store.SetCourseGroupStatus(ctx, s.completed, domain.BookingCompleted); err != nil {
			return s.result, errors.Wrap(err, "complete course groups")
		}
	}
	if len(s.students) > 0 {
		passed, err := r.store.MarkPassedOut(ctx, s.students)
		if err != nil {
			return s.result, errors.Wrap(err, "mark students passed out")
		}
		s.result.PassedOut = passed
	}

	batches := []struct {
		name      string
		templates []domain.EmailTemplate
	}{
		{ConfirmationJobName, s.confirm},
		{OnHoldJobName, s.onHold},
		{ReleasedJobName, s.released},
	}
	for _, b := range batches {
		if len(b.templates) == 0 {
			continue
		}
		job, err := mailer.NewEmailJob(b.name, "Send email to "+mailer.Recipients(b.templates), b.templates, s.now)
		if err != nil {
			return s.result, err
		}
		id, err := r.jobs.CreateJob(ctx, job)
		if err != nil {
			return s.result, errors.Wrapf(err, "queue %q", b.name)
		}
		s.result.EmailJobs = append(s.result.EmailJobs, id)
	}
	return s.result, nil
}

func (r *Releaser) evaluate(ctx context.Context, s *run, b *domain.Booking) error {
	var groups []domain.CourseGroupMapping
	for _, g := range b.Groups {
		if g.Clearance != nil {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return nil
	}
	s.result.Bookings++

	name := b.Student.FullName()
	cleared := true
	for _, g := range groups {
		c := g.Clearance
		if c.AllCleared() {
			continue
		}
		cleared = false
		c.ReleaseStatus = domain.ReleaseToReview
		s.touch(c)
		s.result.OnHold++
		if b.Releasable {
			tpl, err := mailer.OnHold(b.Student.Email, name, g.CourseGroupName, c.ToBeReleasedAt)
			if err != nil {
				return err
			}
			s.onHold = append(s.onHold, tpl)
		}
	}

	if b.Releasable != cleared {
		if err := r.store.SetBookingReleasable(ctx, b.ID, cleared); err != nil {
			return errors.Wrapf(err, "save booking %d", b.ID)
		}
		b.Releasable = cleared
	}
	if !cleared {
		return nil
	}

	days := b.Organization.CertificateReleaseInDays
	releaseAt := s.now.Add(time.Duration(days) * 24 * time.Hour)
	for _, g := range groups {
		c := g.Clearance
		if c.ToBeReleasedAt != nil {
			continue
		}
		ts := releaseAt
		c.ToBeReleasedAt = &ts
		s.touch(c)
		s.result.Scheduled++
		tpl, err := mailer.Confirmation(b.Student.Email, name, g.CourseGroupName, b.Student.UID, days)
		if err != nil {
			return err
		}
		s.confirm = append(s.confirm, tpl)
	}

	for _, g := range groups {
		if startOfDay(*g.Clearance.ToBeReleasedAt).After(s.now) {
			return nil
		}
	}

	for _, g := range groups {
		if err := r.mint(ctx, s, b, g); err != nil {
			return err
		}
	}
	s.students = appendUnique(s.students, b.Student.ID)
	return nil
}

func (r *Releaser) mint(ctx context.Context, s *run, b *domain.Booking, g domain.CourseGroupMapping) error {
	c := g.Clearance
	uid, err := NewUID(ctx, r.store, r.newUID)
	if err != nil {
		return err
	}

	cert := domain.Certificate{
		UID:                    uid,
		StudentID:              b.Student.ID,
		CertificateClearanceID: c.ID,
		CourseGroupID:          g.CourseGroupID,
		CourseGroupName:        g.CourseGroupName,
		IssuedToFirstName:      b.Student.FirstName,
		IssuedToMiddleName:     b.Student.MiddleName,
		IssuedToLastName:       b.Student.LastName,
		Status:                 domain.CertificateActive,
		Assessment:             domain.AssessmentFinal,
		Grade:                  c.Grade,
		ObtainedMarks:          c.ObtainedMarks,
		TotalMarks:             c.TotalMarks,
		StartAt:                c.StartAt,
		IssuedAt:               s.now,
	}
	id, err := r.store.CreateCertificate(ctx, cert)
	if err != nil {
		return errors.Wrapf(err, "create certificate for clearance %d", c.ID)
	}

	c.CertificateID = &id
	c.ReleaseStatus = domain.ReleaseReleased
	s.touch(c)
	s.completed = append(s.completed, g.ID)
	s.result.Released = append(s.result.Released, uid)

	name := b.Student.FullName()
	tpl, err := mailer.Released(b.Student.Email, name, g.CourseGroupName, r.downloadBase+c.UID)
	if err != nil {
		return err
	}
	s.released = append(s.released, tpl)

	log.Printf("certificate: certificate for %s has been issued to %s on %s (%s)",
		g.CourseGroupName, name, b.Student.Email, uid)
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
