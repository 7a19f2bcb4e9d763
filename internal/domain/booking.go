package domain

import (
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingOnGoing   BookingStatus = "ON_GOING"
	BookingExpired   BookingStatus = "EXPIRED"
	BookingCompleted BookingStatus = "COMPLETED"
	// BookingRBC marks a course group removed by course.
	BookingRBC BookingStatus = "RBC"
)

type CourseStatus string

const (
	CourseOnGoing   CourseStatus = "ON_GOING"
	CoursePaused    CourseStatus = "PAUSED"
	CourseCompleted CourseStatus = "COMPLETED"
	CourseRBC       CourseStatus = "RBC"
)

type StudentStatus string

const (
	StudentActive           StudentStatus = "ACTIVE"
	StudentPassedOut        StudentStatus = "PASSED_OUT"
	StudentFinancialDropout StudentStatus = "FINANCIAL_DROPOUT"
)

type Organization struct {
	ID                       int64
	Name                     string
	CertificateReleaseInDays int
	// FinancialValidityDays is how long an installment may stay unpaid past
	// its due date before the student is dropped.
	FinancialValidityDays int
	Zone                  string
}

// Location returns the organization's zone, UTC when unset or unknown.
func (o Organization) Location() *time.Location {
	if o.Zone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.Zone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Student struct {
	ID         int64
	UID        string
	UserPID    string
	FirstName  string
	MiddleName string
	LastName   string
	Email      string
	Status     StudentStatus
}

func (s Student) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.FirstName, s.MiddleName, s.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

type Booking struct {
	ID           int64
	UID          string
	Student      Student
	Organization Organization
	// BookedBy is the user pid of whoever placed the booking.
	BookedBy   string
	Status     BookingStatus
	Releasable bool
	StartDate  time.Time
	ExpiresAt  time.Time
	Groups     []CourseGroupMapping
}

// Active returns the course-group mappings not removed by course.
func (b Booking) Active() []CourseGroupMapping {
	out := make([]CourseGroupMapping, 0, len(b.Groups))
	for _, g := range b.Groups {
		if g.Status != BookingRBC {
			out = append(out, g)
		}
	}
	return out
}

// HasOnGoingGroup reports whether any course-group mapping is still ON_GOING.
func (b Booking) HasOnGoingGroup() bool {
	for _, g := range b.Groups {
		if g.Status == BookingOnGoing {
			return true
		}
	}
	return false
}

// CourseIDs returns the course ids of every active course in the booking.
func (b Booking) CourseIDs() []int64 {
	var ids []int64
	for _, g := range b.Groups {
		if g.Status == BookingRBC {
			continue
		}
		for _, c := range g.Courses {
			if c.Status == CourseRBC {
				continue
			}
			ids = append(ids, c.CourseID)
		}
	}
	return ids
}

// CourseGroupMapping is a booking's enrollment into one course group. It owns
// at most one certificate clearance.
type CourseGroupMapping struct {
	ID              int64
	BookingID       int64
	CourseGroupID   int64
	CourseGroupName string
	Status          BookingStatus
	Releasable      bool
	Courses         []CourseMapping
	Clearance       *CertificateClearance
}

func (g CourseGroupMapping) HasPausedCourse() bool {
	for _, c := range g.Courses {
		if c.Status == CoursePaused {
			return true
		}
	}
	return false
}

type CourseMapping struct {
	ID         int64
	CourseID   int64
	CourseName string
	Status     CourseStatus
}

// Enrollment records when a student was added to a batch for a course of a
// booking.
type Enrollment struct {
	StudentID int64
	BookingID int64
	CourseID  int64
	AddedAt   time.Time
}

// AttendanceRecord is one row of the batch attendance aggregation.
type AttendanceRecord struct {
	StudentID                   int64
	TotalModules                int
	AttendedModules             int
	BookingCourseGroupMappingID *int64
	CourseGroupID               *int64
	CourseID                    *int64
}
