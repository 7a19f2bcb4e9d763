package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

func scanClearance(row rowScanner) (domain.CertificateClearance, error) {
	var c domain.CertificateClearance
	var uid, gradeValue sql.NullString
	var theory, project, attendance, finance, release string
	var readyAt, releaseAt, startAt, academicsAt sql.NullTime
	var obtained, total sql.NullFloat64
	var certID sql.NullInt64

	err := row.Scan(
		&c.ID,
		&uid,
		&c.CourseGroupMappingID,
		&theory,
		&project,
		&attendance,
		&finance,
		&release,
		&readyAt,
		&releaseAt,
		&startAt,
		&academicsAt,
		&gradeValue,
		&obtained,
		&total,
		&certID,
	)
	if err != nil {
		return domain.CertificateClearance{}, err
	}
	c.UID = uid.String
	c.Theory = domain.ClearanceStatus(theory)
	c.Project = domain.ClearanceStatus(project)
	c.Attendance = domain.ClearanceStatus(attendance)
	c.Finance = domain.ClearanceStatus(finance)
	c.ReleaseStatus = domain.ReleaseStatus(release)
	c.ReadyAt = timePtr(readyAt)
	c.ToBeReleasedAt = timePtr(releaseAt)
	c.StartAt = timePtr(startAt)
	c.AcademicsClearedAt = timePtr(academicsAt)
	c.Grade = gradeValue.String
	c.ObtainedMarks = float64Ptr(obtained)
	c.TotalMarks = float64Ptr(total)
	c.CertificateID = int64Ptr(certID)
	return c, nil
}

// queryClearances runs a clearanceColumns query and loads the course
// children of every clearance.
func (s *Store) queryClearances(ctx context.Context, query string, args ...any) ([]domain.CertificateClearance, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load clearances: %w", err)
	}
	var out []domain.CertificateClearance
	for rows.Next() {
		c, err := scanClearance(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(out))
	index := make(map[int64]int, len(out))
	for i, c := range out {
		ids[i] = c.ID
		index[c.ID] = i
	}

	children, err := s.conn(ctx).QueryContext(ctx, queryCourseClearances, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load course clearances: %w", err)
	}
	defer children.Close()

	for children.Next() {
		var cc domain.CourseClearance
		var theoryExam, projectExam sql.NullInt64
		var theory, project, attendance, finance string
		if err := children.Scan(&cc.ID, &cc.CertificateClearanceID, &cc.CourseID, &theoryExam, &projectExam,
			&theory, &project, &attendance, &finance); err != nil {
			return nil, err
		}
		cc.TheoryExamID = int64Ptr(theoryExam)
		cc.ProjectExamID = int64Ptr(projectExam)
		cc.Theory = domain.ClearanceStatus(theory)
		cc.Project = domain.ClearanceStatus(project)
		cc.Attendance = domain.ClearanceStatus(attendance)
		cc.Finance = domain.ClearanceStatus(finance)

		i := index[cc.CertificateClearanceID]
		out[i].Courses = append(out[i].Courses, cc)
	}
	if err := children.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ClearancesByExams(ctx context.Context, kind domain.ExamKind, examIDs []int64) ([]domain.CertificateClearance, error) {
	if len(examIDs) == 0 {
		return nil, nil
	}
	query := queryClearancesByTheoryExams
	if kind == domain.ExamProject {
		query = queryClearancesByProjectExams
	}
	return s.queryClearances(ctx, query, pq.Array(examIDs))
}

func (s *Store) ClearancesByCourseGroupMappings(ctx context.Context, mappingIDs []int64) ([]domain.CertificateClearance, error) {
	if len(mappingIDs) == 0 {
		return nil, nil
	}
	return s.queryClearances(ctx, queryClearancesByGroups, pq.Array(mappingIDs))
}

func (s *Store) ClearancesWithoutStartDate(ctx context.Context, studentIDs []int64, courseID int64) ([]domain.CertificateClearance, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	return s.queryClearances(ctx, queryClearancesWithoutStartDate, pq.Array(studentIDs), courseID)
}

// SaveClearance writes the parent row and every course child.
func (s *Store) SaveClearance(ctx context.Context, c *domain.CertificateClearance) error {
	q := s.conn(ctx)
	_, err := q.ExecContext(ctx, queryUpdateClearance,
		c.ID,
		string(c.Theory),
		string(c.Project),
		string(c.Attendance),
		string(c.Finance),
		string(c.ReleaseStatus),
		c.ReadyAt,
		c.ToBeReleasedAt,
		c.StartAt,
		c.AcademicsClearedAt,
		nullString(c.Grade),
		c.ObtainedMarks,
		c.TotalMarks,
		c.CertificateID,
	)
	if err != nil {
		return err
	}
	for _, cc := range c.Courses {
		_, err := q.ExecContext(ctx, queryUpdateCourseClearance,
			cc.ID,
			string(cc.Theory),
			string(cc.Project),
			string(cc.Attendance),
			string(cc.Finance),
		)
		if err != nil {
			return fmt.Errorf("course clearance %d: %w", cc.ID, err)
		}
	}
	return nil
}

func (s *Store) GetFinalExams(ctx context.Context, ids []int64) ([]domain.FinalExam, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, queryGetFinalExams, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FinalExam
	for rows.Next() {
		var e domain.FinalExam
		var kind, status string
		if err := rows.Scan(&e.ID, &e.StudentID, &e.CourseID, &kind, &status, &e.ObtainedMarks, &e.TotalMarks); err != nil {
			return nil, err
		}
		e.Kind = domain.ExamKind(kind)
		e.Status = domain.ExamStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// BatchAttendance calls the attendance aggregation procedure for a batch.
func (s *Store) BatchAttendance(ctx context.Context, batchUID string) ([]domain.AttendanceRecord, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, queryBatchAttendance, batchUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AttendanceRecord
	for rows.Next() {
		var r domain.AttendanceRecord
		var mapping, group, course sql.NullInt64
		if err := rows.Scan(&r.StudentID, &r.TotalModules, &r.AttendedModules, &mapping, &group, &course); err != nil {
			return nil, err
		}
		r.BookingCourseGroupMappingID = int64Ptr(mapping)
		r.CourseGroupID = int64Ptr(group)
		r.CourseID = int64Ptr(course)
		out = append(out, r)
	}
	return out, rows.Err()
}
