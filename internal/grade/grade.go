// Package grade turns final-exam marks into a certification percentage and
// letter grade. Recorded grades only ever move up.
package grade

import (
	"github.com/cockroachdb/errors"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

// ErrZeroTotal is returned when a percentage is requested over zero total marks.
var ErrZeroTotal = errors.New("grade: total marks must be greater than zero")

// ComputePercentage returns 100 * obtained / total.
func ComputePercentage(obtained, total float64) (float64, error) {
	if total == 0 {
		return 0, errors.WithStack(ErrZeroTotal)
	}
	return obtained / total * 100, nil
}

type band struct {
	min, max float64
	grade    string
}

// Inclusive bounds of each band. Percentages outside every band, including
// the gaps between them (90.5, 80.4), are a C.
var bands = []band{
	{91, 100, "O+"},
	{81, 90, "A+"},
	{71, 80, "A"},
	{61, 70, "B+"},
	{51, 60, "B"},
}

// CalculateCertificationGrade maps a percentage to its letter grade.
func CalculateCertificationGrade(percentage float64) string {
	for _, b := range bands {
		if percentage >= b.min && percentage <= b.max {
			return b.grade
		}
	}
	return "C"
}

// Update is the outcome of evaluating a clearance against its exams. It is
// applied by the caller.
type Update struct {
	Obtained   float64
	Total      float64
	Percentage float64
	Grade      string
}

// Apply writes the marks snapshot and grade onto c.
func (u Update) Apply(c *domain.CertificateClearance) {
	obtained, total := u.Obtained, u.Total
	c.ObtainedMarks = &obtained
	c.TotalMarks = &total
	c.Grade = u.Grade
}

// Evaluate sums the CLEARED project exams and reports an Update only when the
// new percentage is strictly above the one stored on c. Exams with no total
// marks produce no update.
func Evaluate(c *domain.CertificateClearance, exams []domain.FinalExam) (Update, bool, error) {
	var obtained, total float64
	for _, e := range exams {
		if e.Kind != domain.ExamProject || e.Status != domain.ExamCleared {
			continue
		}
		obtained += e.ObtainedMarks
		total += e.TotalMarks
	}
	if total <= 0 {
		return Update{}, false, nil
	}

	pct, err := ComputePercentage(obtained, total)
	if err != nil {
		return Update{}, false, err
	}
	if pct <= c.Percentage() {
		return Update{}, false, nil
	}

	return Update{
		Obtained:   obtained,
		Total:      total,
		Percentage: pct,
		Grade:      CalculateCertificationGrade(pct),
	}, true, nil
}
