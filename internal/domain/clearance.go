package domain

import "time"

type ClearanceStatus string

const (
	ClearancePending ClearanceStatus = "PENDING"
	ClearanceCleared ClearanceStatus = "CLEARED"
)

type ReleaseStatus string

const (
	ReleasePending  ReleaseStatus = "PENDING"
	ReleaseToReview ReleaseStatus = "TO_REVIEW"
	ReleaseReady    ReleaseStatus = "READY"
	ReleaseReleased ReleaseStatus = "RELEASED"
)

// Criterion names one of the four eligibility gates of a certificate.
type Criterion int

const (
	CriterionTheory Criterion = iota
	CriterionProject
	CriterionAttendance
	CriterionFinance
)

var AllCriteria = [4]Criterion{CriterionTheory, CriterionProject, CriterionAttendance, CriterionFinance}

func (c Criterion) String() string {
	switch c {
	case CriterionTheory:
		return "theory"
	case CriterionProject:
		return "project"
	case CriterionAttendance:
		return "attendance"
	case CriterionFinance:
		return "finance"
	default:
		return "unknown"
	}
}

// Criteria is the clearance state shared by course rows and certificate rows.
type Criteria struct {
	Theory     ClearanceStatus
	Project    ClearanceStatus
	Attendance ClearanceStatus
	Finance    ClearanceStatus
}

func (c Criteria) Status(k Criterion) ClearanceStatus {
	switch k {
	case CriterionTheory:
		return c.Theory
	case CriterionProject:
		return c.Project
	case CriterionAttendance:
		return c.Attendance
	case CriterionFinance:
		return c.Finance
	}
	return ClearancePending
}

func (c *Criteria) SetStatus(k Criterion, s ClearanceStatus) {
	switch k {
	case CriterionTheory:
		c.Theory = s
	case CriterionProject:
		c.Project = s
	case CriterionAttendance:
		c.Attendance = s
	case CriterionFinance:
		c.Finance = s
	}
}

func (c Criteria) Cleared(k Criterion) bool {
	return c.Status(k) == ClearanceCleared
}

func (c Criteria) AllCleared() bool {
	for _, k := range AllCriteria {
		if !c.Cleared(k) {
			return false
		}
	}
	return true
}

func (c Criteria) AnyCleared() bool {
	for _, k := range AllCriteria {
		if c.Cleared(k) {
			return true
		}
	}
	return false
}

// CourseClearance is the per-course child row of a certificate clearance.
type CourseClearance struct {
	ID                     int64
	CertificateClearanceID int64
	CourseID               int64
	TheoryExamID           *int64
	ProjectExamID          *int64
	Criteria
}

// CertificateClearance is the per-certificate parent row. Its criteria are
// derived from Courses and carry the release state of the certificate.
type CertificateClearance struct {
	ID                   int64
	UID                  string
	CourseGroupMappingID int64
	Criteria

	ReleaseStatus      ReleaseStatus
	ReadyAt            *time.Time
	ToBeReleasedAt     *time.Time
	StartAt            *time.Time
	AcademicsClearedAt *time.Time

	Grade         string
	ObtainedMarks *float64
	TotalMarks    *float64

	CertificateID *int64
	Courses       []CourseClearance
}

// Percentage returns the stored overall percentage, 0 when marks are unset.
func (c *CertificateClearance) Percentage() float64 {
	if c.ObtainedMarks == nil || c.TotalMarks == nil || *c.TotalMarks == 0 {
		return 0
	}
	return *c.ObtainedMarks / *c.TotalMarks * 100
}
