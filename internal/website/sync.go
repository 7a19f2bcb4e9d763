// Package website mirrors issued certificates into the public website
// database so they can be verified by uid.
package website

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/executor"
)

// NoDuration is the course duration published for skill clearance
// certificates, which have no clearance behind them.
const NoDuration = -1

// Issued is a certificate from the primary database together with the
// clearance it was released from. Clearance fields are zero for
// SKILL_CLEARANCE certificates.
type Issued struct {
	Certificate    domain.Certificate
	CourseDuration int
	Grade          string
	StartAt        *time.Time
	ReadyAt        *time.Time
}

// Record is one row of the website certificate table.
type Record struct {
	UID            string
	Assessment     domain.AssessmentType
	Status         domain.CertificateStatus
	CourseDuration int
	IssuedToName   string
	CourseGroup    string
	Year           string
	Grade          *string
	StartAt        *time.Time
	EndAt          *time.Time
}

type Source interface {
	IssuedCertificates(ctx context.Context) ([]Issued, error)
}

type Target interface {
	Certificates(ctx context.Context) ([]Record, error)
	UpdateStatuses(ctx context.Context, records []Record) error
	InsertCertificates(ctx context.Context, records []Record) error
}

type Result struct {
	Updated  []string
	Inserted []string
}

type Syncer struct {
	source Source
	target Target
}

func NewSyncer(source Source, target Target) *Syncer {
	return &Syncer{source: source, target: target}
}

// Handler executes WEBSITE_DATA_TRANSFER jobs.
func (s *Syncer) Handler() executor.Handler {
	return executor.HandlerFunc(func(ctx context.Context, job *domain.Job) error {
		res, err := s.Sync(ctx)
		if err != nil {
			return err
		}
		if len(res.Updated) > 0 {
			log.Printf("website: job=%d certificate updated successfully (%s)", job.ID, strings.Join(res.Updated, ", "))
		}
		if len(res.Inserted) > 0 {
			log.Printf("website: job=%d certificate saved (%s)", job.ID, strings.Join(res.Inserted, ", "))
		}
		return nil
	})
}

// Sync updates website rows whose status drifted and inserts certificates
// the website has never seen.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	existing, err := s.target.Certificates(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "load website certificates")
	}
	issued, err := s.source.IssuedCertificates(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "load issued certificates")
	}

	updates, inserts := Diff(existing, issued)

	var res Result
	if len(updates) > 0 {
		if err := s.target.UpdateStatuses(ctx, updates); err != nil {
			return Result{}, errors.Wrap(err, "update website certificates")
		}
		for _, r := range updates {
			res.Updated = append(res.Updated, r.UID)
		}
	}
	if len(inserts) > 0 {
		if err := s.target.InsertCertificates(ctx, inserts); err != nil {
			return Result{}, errors.Wrap(err, "insert website certificates")
		}
		for _, r := range inserts {
			res.Inserted = append(res.Inserted, r.UID)
		}
	}
	return res, nil
}

// Diff compares website rows against issued certificates by uid. The first
// website row wins when a uid is duplicated.
func Diff(existing []Record, issued []Issued) (updates, inserts []Record) {
	byUID := make(map[string]Record, len(existing))
	for _, r := range existing {
		if _, ok := byUID[r.UID]; !ok {
			byUID[r.UID] = r
		}
	}

	for _, is := range issued {
		cert := is.Certificate
		current, ok := byUID[cert.UID]
		switch {
		case !ok:
			inserts = append(inserts, NewRecord(is))
			byUID[cert.UID] = inserts[len(inserts)-1]
		case current.Status != cert.Status:
			current.Status = cert.Status
			byUID[cert.UID] = current
			updates = append(updates, current)
		}
	}
	return updates, inserts
}

// NewRecord projects an issued certificate onto the website schema.
func NewRecord(is Issued) Record {
	c := is.Certificate
	r := Record{
		UID:            c.UID,
		Assessment:     c.Assessment,
		Status:         c.Status,
		CourseDuration: NoDuration,
		IssuedToName:   fullName(c.IssuedToFirstName, c.IssuedToMiddleName, c.IssuedToLastName),
		CourseGroup:    c.CourseGroupName,
		Year:           c.IssuedAt.UTC().Format("2006"),
	}
	if c.Assessment == domain.AssessmentSkillClearance {
		return r
	}
	r.CourseDuration = is.CourseDuration
	if is.Grade != "" {
		g := is.Grade
		r.Grade = &g
	}
	r.StartAt = is.StartAt
	r.EndAt = is.ReadyAt
	return r
}

func fullName(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
