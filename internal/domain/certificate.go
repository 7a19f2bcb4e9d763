package domain

import "time"

type CertificateStatus string

const (
	CertificateActive  CertificateStatus = "ACTIVE"
	CertificateRevoked CertificateStatus = "REVOKED"
)

type AssessmentType string

const (
	AssessmentFinal          AssessmentType = "FINAL"
	AssessmentSkillClearance AssessmentType = "SKILL_CLEARANCE"
)

// Certificate is minted once at release time and never mutated afterwards
// except for Status.
type Certificate struct {
	ID                     int64
	UID                    string
	StudentID              int64
	CertificateClearanceID int64
	CourseGroupID          int64
	CourseGroupName        string
	IssuedToFirstName      string
	IssuedToMiddleName     string
	IssuedToLastName       string
	Status                 CertificateStatus
	Assessment             AssessmentType
	Grade                  string
	ObtainedMarks          *float64
	TotalMarks             *float64
	StartAt                *time.Time
	IssuedAt               time.Time
	DownloadCount          int
	UpdatedAt              time.Time
}

type ExamKind string

const (
	ExamTheory  ExamKind = "THEORY"
	ExamProject ExamKind = "PROJECT"
)

type ExamStatus string

const (
	ExamCleared ExamStatus = "CLEARED"
	ExamFailed  ExamStatus = "FAILED"
	ExamPending ExamStatus = "PENDING"
)

type FinalExam struct {
	ID            int64
	StudentID     int64
	CourseID      int64
	Kind          ExamKind
	Status        ExamStatus
	ObtainedMarks float64
	TotalMarks    float64
}
