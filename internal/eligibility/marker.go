// Package eligibility applies asynchronously arriving clearance signals
// (exam results, attendance, finance) to certificate clearances and settles
// their release state.
package eligibility

import (
	"context"
	"log"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/khachaneojas/service-scheduler/internal/clearance"
	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/executor"
	"github.com/khachaneojas/service-scheduler/internal/grade"
)

// Store loads and saves clearance graphs. Every clearance is returned with
// its course children loaded.
type Store interface {
	GetFinalExams(ctx context.Context, ids []int64) ([]domain.FinalExam, error)
	ClearancesByExams(ctx context.Context, kind domain.ExamKind, examIDs []int64) ([]domain.CertificateClearance, error)
	ClearancesByCourseGroupMappings(ctx context.Context, mappingIDs []int64) ([]domain.CertificateClearance, error)
	ClearancesWithoutStartDate(ctx context.Context, studentIDs []int64, courseID int64) ([]domain.CertificateClearance, error)
	BatchAttendance(ctx context.Context, batchUID string) ([]domain.AttendanceRecord, error)

	// BookingEnrollments returns the booking owning a course-group mapping
	// together with its student's batch enrollments.
	BookingEnrollments(ctx context.Context, mappingID int64) (domain.Booking, []domain.Enrollment, error)

	// SaveClearance persists the parent row and its children.
	SaveClearance(ctx context.Context, c *domain.CertificateClearance) error
}

// StartDatePayload is the payload of MARK_ELIGIBILITY_ADD_START_DATE jobs.
type StartDatePayload struct {
	Students []int64 `json:"students"`
	Course   int64   `json:"course"`
}

type Marker struct {
	store Store
	clock func() time.Time
}

func NewMarker(store Store) *Marker {
	return &Marker{store: store, clock: time.Now}
}

func (m *Marker) WithClock(clock func() time.Time) *Marker {
	m.clock = clock
	return m
}

// Register binds the five MARK_ELIGIBILITY_* job types.
func (m *Marker) Register(r *executor.Registry) {
	r.Register(domain.JobTypeMarkEligibilityTheory, executor.Typed(func(ctx context.Context, job *domain.Job, ids []int64) error {
		return m.MarkExams(ctx, domain.ExamTheory, ids)
	}))
	r.Register(domain.JobTypeMarkEligibilityProject, executor.Typed(func(ctx context.Context, job *domain.Job, ids []int64) error {
		return m.MarkExams(ctx, domain.ExamProject, ids)
	}))
	r.Register(domain.JobTypeMarkEligibilityAttendance, executor.Typed(func(ctx context.Context, job *domain.Job, batchUID string) error {
		return m.MarkAttendance(ctx, batchUID)
	}))
	r.Register(domain.JobTypeMarkEligibilityAddStartDate, executor.Typed(func(ctx context.Context, job *domain.Job, p StartDatePayload) error {
		return m.AddStartDate(ctx, p)
	}))
	r.Register(domain.JobTypeMarkEligibilityFinance, executor.Typed(func(ctx context.Context, job *domain.Job, ids []int64) error {
		return m.MarkFinance(ctx, ids)
	}))
}

// MarkExams clears the theory or project criterion on every course child
// linked to one of the CLEARED exams in examIDs, then settles each affected
// clearance that is still PENDING or TO_REVIEW.
func (m *Marker) MarkExams(ctx context.Context, kind domain.ExamKind, examIDs []int64) error {
	if len(examIDs) == 0 {
		return nil
	}
	exams, err := m.store.GetFinalExams(ctx, examIDs)
	if err != nil {
		return errors.Wrap(err, "load final exams")
	}

	cleared := make(map[int64]bool)
	var ids []int64
	for _, e := range exams {
		if e.Status == domain.ExamCleared {
			cleared[e.ID] = true
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	parents, err := m.store.ClearancesByExams(ctx, kind, ids)
	if err != nil {
		return errors.Wrap(err, "load clearances by exam")
	}

	criterion := domain.CriterionTheory
	if kind == domain.ExamProject {
		criterion = domain.CriterionProject
	}

	marked := 0
	now := m.clock().UTC()
	for i := range parents {
		p := &parents[i]
		for j := range p.Courses {
			c := &p.Courses[j]
			examID := c.TheoryExamID
			if kind == domain.ExamProject {
				examID = c.ProjectExamID
			}
			if examID != nil && cleared[*examID] && !c.Cleared(criterion) {
				c.SetStatus(criterion, domain.ClearanceCleared)
				marked++
			}
		}
		if err := m.settle(ctx, p, now, criterion, true); err != nil {
			return err
		}
	}
	log.Printf("eligibility: %s cleared on %d course(s) across %d clearance(s)", kind, marked, len(parents))
	return nil
}

// MarkAttendance clears attendance for every course whose batch attendance
// reaches the threshold.
func (m *Marker) MarkAttendance(ctx context.Context, batchUID string) error {
	records, err := m.store.BatchAttendance(ctx, batchUID)
	if err != nil {
		return errors.Wrapf(err, "load attendance of batch %q", batchUID)
	}

	byMapping := make(map[int64][]int64)
	var mappingIDs []int64
	for _, r := range records {
		if r.BookingCourseGroupMappingID == nil || r.CourseGroupID == nil || r.CourseID == nil {
			continue
		}
		if !clearance.AttendanceCleared(r.AttendedModules, r.TotalModules) {
			continue
		}
		id := *r.BookingCourseGroupMappingID
		if _, ok := byMapping[id]; !ok {
			mappingIDs = append(mappingIDs, id)
		}
		byMapping[id] = append(byMapping[id], *r.CourseID)
	}
	if len(mappingIDs) == 0 {
		return nil
	}

	parents, err := m.store.ClearancesByCourseGroupMappings(ctx, mappingIDs)
	if err != nil {
		return errors.Wrap(err, "load clearances by course group")
	}

	now := m.clock().UTC()
	for i := range parents {
		p := &parents[i]
		changed := false
		for _, courseID := range byMapping[p.CourseGroupMappingID] {
			if clearance.MarkCourse(p, courseID, domain.CriterionAttendance) {
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := m.settle(ctx, p, now, domain.CriterionAttendance, true); err != nil {
			return err
		}
	}
	log.Printf("eligibility: attendance evaluated for batch %s, %d clearance(s) affected", batchUID, len(parents))
	return nil
}

// AddStartDate stamps certificate_start_at on the matching clearances that
// have none yet.
func (m *Marker) AddStartDate(ctx context.Context, p StartDatePayload) error {
	if len(p.Students) == 0 {
		return nil
	}
	parents, err := m.store.ClearancesWithoutStartDate(ctx, p.Students, p.Course)
	if err != nil {
		return errors.Wrap(err, "load clearances without start date")
	}
	now := m.clock().UTC()
	for i := range parents {
		c := &parents[i]
		if c.StartAt != nil {
			continue
		}
		ts := now
		c.StartAt = &ts
		if err := m.store.SaveClearance(ctx, c); err != nil {
			return errors.Wrapf(err, "save clearance %d", c.ID)
		}
	}
	return nil
}

// MarkFinance clears finance on every child of the clearances owned by the
// given course-group mappings.
func (m *Marker) MarkFinance(ctx context.Context, mappingIDs []int64) error {
	if len(mappingIDs) == 0 {
		return nil
	}
	parents, err := m.store.ClearancesByCourseGroupMappings(ctx, mappingIDs)
	if err != nil {
		return errors.Wrap(err, "load clearances by course group")
	}
	now := m.clock().UTC()
	for i := range parents {
		p := &parents[i]
		clearance.MarkAll(p, domain.CriterionFinance)
		if err := m.settle(ctx, p, now, domain.CriterionFinance, false); err != nil {
			return err
		}
	}
	return nil
}

// settle recomputes p from its children, upgrades the grade when marked is
// the project criterion and project is cleared, resolves a missing start date
// on entry into READY and persists p. With onlyOpen set, clearances past
// TO_REVIEW keep their parent state and only the children are saved.
func (m *Marker) settle(ctx context.Context, p *domain.CertificateClearance, now time.Time, marked domain.Criterion, onlyOpen bool) error {
	open := p.ReleaseStatus == domain.ReleasePending || p.ReleaseStatus == domain.ReleaseToReview
	if onlyOpen && !open {
		return m.save(ctx, p)
	}

	d := clearance.Recompute(p)
	if d.Criteria.Cleared(domain.CriterionTheory) && d.Criteria.Cleared(domain.CriterionProject) && p.AcademicsClearedAt == nil {
		ts := now
		p.AcademicsClearedAt = &ts
	}

	if marked == domain.CriterionProject && d.Criteria.Cleared(domain.CriterionProject) {
		if err := m.upgradeGrade(ctx, p); err != nil {
			return err
		}
	}

	if d.NeedsStartAt {
		start, err := m.resolveStartAt(ctx, p)
		if err != nil {
			return err
		}
		d.StartAt = &start
	}

	if err := d.Apply(p, now); err != nil {
		return err
	}
	return m.save(ctx, p)
}

func (m *Marker) upgradeGrade(ctx context.Context, p *domain.CertificateClearance) error {
	var ids []int64
	for _, c := range p.Courses {
		if c.ProjectExamID != nil {
			ids = append(ids, *c.ProjectExamID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	exams, err := m.store.GetFinalExams(ctx, ids)
	if err != nil {
		return errors.Wrapf(err, "load project exams of clearance %d", p.ID)
	}
	u, ok, err := grade.Evaluate(p, exams)
	if err != nil {
		return errors.Wrapf(err, "grade clearance %d", p.ID)
	}
	if ok {
		u.Apply(p)
		log.Printf("eligibility: clearance %d graded %s (%.2f%%)", p.ID, u.Grade, u.Percentage)
	}
	return nil
}

func (m *Marker) resolveStartAt(ctx context.Context, p *domain.CertificateClearance) (time.Time, error) {
	booking, enrollments, err := m.store.BookingEnrollments(ctx, p.CourseGroupMappingID)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "load booking of clearance %d", p.ID)
	}
	return clearance.ResolveStartAt(booking, enrollments)
}

func (m *Marker) save(ctx context.Context, p *domain.CertificateClearance) error {
	if err := m.store.SaveClearance(ctx, p); err != nil {
		return errors.Wrapf(err, "save clearance %d", p.ID)
	}
	return nil
}
