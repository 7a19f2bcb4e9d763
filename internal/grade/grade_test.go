package grade

import (
	"errors"
	"testing"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

func TestComputePercentage(t *testing.T) {
	got, err := ComputePercentage(70, 100)
	if err != nil {
		t.Fatalf("ComputePercentage(70, 100) error: %v", err)
	}
	if got != 70.0 {
		t.Errorf("ComputePercentage(70, 100) = %v, want 70", got)
	}
}

func TestComputePercentage_ZeroTotal(t *testing.T) {
	_, err := ComputePercentage(12, 0)
	if err == nil {
		t.Fatal("expected error for zero total")
	}
	if !errors.Is(err, ErrZeroTotal) {
		t.Errorf("error = %v, want ErrZeroTotal", err)
	}
}

func TestCalculateCertificationGrade(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{100, "O+"},
		{91, "O+"},
		{90, "A+"},
		{81, "A+"},
		{80, "A"},
		{71, "A"},
		{70, "B+"},
		{61, "B+"},
		{60, "B"},
		{51, "B"},
		{50, "C"},
		{41, "C"},
		{0, "C"},
		// Fractions between bands fall through to C.
		{90.5, "C"},
		{80.4, "C"},
		{70.9, "C"},
		{60.2, "C"},
		{50.5, "C"},
		{95.5, "O+"},
		{100.1, "C"},
	}
	for _, tt := range tests {
		if got := CalculateCertificationGrade(tt.pct); got != tt.want {
			t.Errorf("CalculateCertificationGrade(%v) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func projectExam(obtained, total float64) domain.FinalExam {
	return domain.FinalExam{Kind: domain.ExamProject, Status: domain.ExamCleared, ObtainedMarks: obtained, TotalMarks: total}
}

func TestEvaluate_UpgradesOnlyWhenHigher(t *testing.T) {
	c := &domain.CertificateClearance{}

	u, ok, err := Evaluate(c, []domain.FinalExam{projectExam(80, 100), projectExam(90, 100)})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !ok {
		t.Fatal("first evaluation should upgrade from unset")
	}
	u.Apply(c)
	if c.Grade != "A+" || *c.ObtainedMarks != 170 || *c.TotalMarks != 200 {
		t.Fatalf("after first apply grade=%q obtained=%v total=%v", c.Grade, *c.ObtainedMarks, *c.TotalMarks)
	}

	// Lower second pass leaves the stored snapshot untouched.
	_, ok, err = Evaluate(c, []domain.FinalExam{projectExam(50, 100)})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if ok {
		t.Error("lower percentage must not upgrade")
	}

	// Equal percentage is not an upgrade either.
	_, ok, _ = Evaluate(c, []domain.FinalExam{projectExam(85, 100)})
	if ok {
		t.Error("equal percentage must not upgrade")
	}

	if c.Grade != "A+" || *c.ObtainedMarks != 170 || *c.TotalMarks != 200 {
		t.Errorf("snapshot changed: grade=%q obtained=%v total=%v", c.Grade, *c.ObtainedMarks, *c.TotalMarks)
	}
}

func TestEvaluate_IgnoresNonProjectAndUncleared(t *testing.T) {
	c := &domain.CertificateClearance{}
	exams := []domain.FinalExam{
		{Kind: domain.ExamTheory, Status: domain.ExamCleared, ObtainedMarks: 100, TotalMarks: 100},
		{Kind: domain.ExamProject, Status: domain.ExamFailed, ObtainedMarks: 10, TotalMarks: 100},
	}
	_, ok, err := Evaluate(c, exams)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if ok {
		t.Error("no cleared project marks should produce no update")
	}
}
