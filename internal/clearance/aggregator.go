// Package clearance folds per-course clearance signals into the release state
// of a certificate. It performs no I/O: callers load the clearance graph,
// apply a Decision and persist the result.
package clearance

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

// AttendanceThreshold is the minimum attended percentage that clears attendance.
const AttendanceThreshold = 70.0

// ErrStartDateUnresolved is returned when a READY certificate has no start
// date and no enrollment can supply one.
var ErrStartDateUnresolved = errors.New("clearance: start date unresolved")

// Decision is the recomputed state of one certificate clearance.
type Decision struct {
	Criteria domain.Criteria
	Release  domain.ReleaseStatus

	// NeedsStartAt is set when the clearance becomes READY without a start
	// date. StartAt must then be filled before Apply.
	NeedsStartAt bool
	StartAt      *time.Time
}

// Recompute derives the parent criteria from the children and the release
// status that follows from them. A parent without children stays PENDING on
// every criterion. RELEASED is terminal.
func Recompute(parent *domain.CertificateClearance) Decision {
	var d Decision
	for _, k := range domain.AllCriteria {
		d.Criteria.SetStatus(k, childrenStatus(parent.Courses, k))
	}

	d.Release = parent.ReleaseStatus
	if parent.ReleaseStatus == domain.ReleaseReleased {
		return d
	}

	switch {
	case d.Criteria.AllCleared():
		d.Release = domain.ReleaseReady
		d.NeedsStartAt = parent.StartAt == nil
	case d.Criteria.AnyCleared():
		d.Release = domain.ReleaseToReview
	default:
		d.Release = domain.ReleasePending
	}
	return d
}

func childrenStatus(children []domain.CourseClearance, k domain.Criterion) domain.ClearanceStatus {
	if len(children) == 0 {
		return domain.ClearancePending
	}
	for _, c := range children {
		if !c.Cleared(k) {
			return domain.ClearancePending
		}
	}
	return domain.ClearanceCleared
}

// Apply writes d onto parent. ready_at is stamped only on entry into READY.
func (d Decision) Apply(parent *domain.CertificateClearance, now time.Time) error {
	if d.NeedsStartAt && d.StartAt == nil {
		return errors.Wrapf(ErrStartDateUnresolved, "certificate clearance %d", parent.ID)
	}

	parent.Criteria = d.Criteria
	if parent.ReleaseStatus == domain.ReleaseReleased {
		return nil
	}

	if d.Release == domain.ReleaseReady && parent.ReleaseStatus != domain.ReleaseReady {
		ts := now.UTC()
		parent.ReadyAt = &ts
	}
	if d.NeedsStartAt {
		ts := d.StartAt.UTC()
		parent.StartAt = &ts
	}
	parent.ReleaseStatus = d.Release
	return nil
}

// MarkCourse clears criterion k on every child of parent teaching courseID.
// It reports whether any child changed.
func MarkCourse(parent *domain.CertificateClearance, courseID int64, k domain.Criterion) bool {
	changed := false
	for i := range parent.Courses {
		c := &parent.Courses[i]
		if c.CourseID != courseID || c.Cleared(k) {
			continue
		}
		c.SetStatus(k, domain.ClearanceCleared)
		changed = true
	}
	return changed
}

// MarkAll clears criterion k on every child of parent.
func MarkAll(parent *domain.CertificateClearance, k domain.Criterion) bool {
	changed := false
	for i := range parent.Courses {
		c := &parent.Courses[i]
		if !c.Cleared(k) {
			c.SetStatus(k, domain.ClearanceCleared)
			changed = true
		}
	}
	return changed
}

// AttendanceCleared reports whether attended/total reaches AttendanceThreshold.
// A zero total never clears.
func AttendanceCleared(attended, total int) bool {
	if total <= 0 {
		return false
	}
	return float64(attended)/float64(total)*100 >= AttendanceThreshold
}

// ResolveStartAt returns the earliest added-to-batch time among enrollments
// that reference the booking and one of its active courses.
func ResolveStartAt(b domain.Booking, enrollments []domain.Enrollment) (time.Time, error) {
	courses := make(map[int64]struct{})
	for _, id := range b.CourseIDs() {
		courses[id] = struct{}{}
	}

	var earliest time.Time
	found := false
	for _, e := range enrollments {
		if e.BookingID != b.ID {
			continue
		}
		if _, ok := courses[e.CourseID]; !ok {
			continue
		}
		if !found || e.AddedAt.Before(earliest) {
			earliest = e.AddedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, errors.Wrapf(ErrStartDateUnresolved,
			"could not determine the start-date of the student (%s) for booking (%s)", b.Student.UID, b.UID)
	}
	return earliest.UTC(), nil
}
