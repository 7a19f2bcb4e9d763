package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/website"
)

func (s *Store) CertificateUIDExists(ctx context.Context, uid string) (bool, error) {
	var exists bool
	if err := s.conn(ctx).QueryRowContext(ctx, queryCertificateUIDExists, uid).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) CreateCertificate(ctx context.Context, c domain.Certificate) (int64, error) {
	var id int64
	err := s.conn(ctx).QueryRowContext(ctx, queryInsertCertificate,
		c.UID,
		c.StudentID,
		c.CertificateClearanceID,
		c.CourseGroupID,
		c.IssuedToFirstName,
		nullString(c.IssuedToMiddleName),
		c.IssuedToLastName,
		string(c.Status),
		string(c.Assessment),
		nullString(c.Grade),
		c.ObtainedMarks,
		c.TotalMarks,
		c.StartAt,
		c.IssuedAt.UTC(),
	).Scan(&id)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("certificate uid %s already taken: %w", c.UID, err)
		}
		return 0, err
	}
	return id, nil
}

// IssuedCertificates returns every certificate with the grade, start date,
// ready date and active course duration of the clearance it came from.
func (s *Store) IssuedCertificates(ctx context.Context) ([]website.Issued, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, queryIssuedCertificates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []website.Issued
	for rows.Next() {
		var is website.Issued
		c := &is.Certificate
		var middle sql.NullString
		var status, assessment string
		var startAt, readyAt sql.NullTime

		err := rows.Scan(
			&c.ID,
			&c.UID,
			&c.StudentID,
			&c.CertificateClearanceID,
			&c.CourseGroupID,
			&c.CourseGroupName,
			&c.IssuedToFirstName,
			&middle,
			&c.IssuedToLastName,
			&status,
			&assessment,
			&c.IssuedAt,
			&is.CourseDuration,
			&is.Grade,
			&startAt,
			&readyAt,
		)
		if err != nil {
			return nil, err
		}
		c.IssuedToMiddleName = middle.String
		c.Status = domain.CertificateStatus(status)
		c.Assessment = domain.AssessmentType(assessment)
		c.IssuedAt = c.IssuedAt.UTC()
		is.StartAt = timePtr(startAt)
		is.ReadyAt = timePtr(readyAt)
		out = append(out, is)
	}
	return out, rows.Err()
}
