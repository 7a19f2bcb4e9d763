package website

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

const querySelectCertificates = `
SELECT certificate_uid, assessment_type, certificate_status, course_duration,
       issued_to_name, course_group, year, grade, start_at, end_at
FROM certificate
ORDER BY id
`

const queryUpdateStatus = `
UPDATE certificate SET certificate_status = $2 WHERE certificate_uid = $1
`

const queryInsertCertificate = `
INSERT INTO certificate (certificate_uid, assessment_type, certificate_status, course_duration,
                         issued_to_name, course_group, year, grade, start_at, end_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// Store implements Target against the public website database.
type Store struct {
	db *sql.DB
}

var _ Target = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the website database through pgx.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open website database: %w", err)
	}
	return db, nil
}

func (s *Store) Certificates(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, querySelectCertificates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var grade sql.NullString
		var start, end sql.NullTime
		if err := rows.Scan(&r.UID, &r.Assessment, &r.Status, &r.CourseDuration,
			&r.IssuedToName, &r.CourseGroup, &r.Year, &grade, &start, &end); err != nil {
			return nil, err
		}
		if grade.Valid {
			g := grade.String
			r.Grade = &g
		}
		if start.Valid {
			t := start.Time
			r.StartAt = &t
		}
		if end.Valid {
			t := end.Time
			r.EndAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStatuses(ctx context.Context, records []Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			if _, err := tx.ExecContext(ctx, queryUpdateStatus, r.UID, string(r.Status)); err != nil {
				return fmt.Errorf("update %s: %w", r.UID, err)
			}
		}
		return nil
	})
}

func (s *Store) InsertCertificates(ctx context.Context, records []Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			_, err := tx.ExecContext(ctx, queryInsertCertificate,
				r.UID,
				string(r.Assessment),
				string(r.Status),
				r.CourseDuration,
				r.IssuedToName,
				r.CourseGroup,
				r.Year,
				r.Grade,
				r.StartAt,
				r.EndAt,
			)
			if err != nil {
				return fmt.Errorf("insert %s: %w", r.UID, err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
