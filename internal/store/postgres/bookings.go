package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

func scanBooking(row rowScanner) (domain.Booking, error) {
	var b domain.Booking
	var bookedBy, middle, userPID, zone sql.NullString
	var studentStatus string

	err := row.Scan(
		&b.ID,
		&b.UID,
		&bookedBy,
		&b.Releasable,
		&b.StartDate,
		&b.ExpiresAt,
		&b.Student.ID,
		&b.Student.UID,
		&userPID,
		&b.Student.FirstName,
		&middle,
		&b.Student.LastName,
		&b.Student.Email,
		&studentStatus,
		&b.Organization.ID,
		&b.Organization.Name,
		&b.Organization.CertificateReleaseInDays,
		&b.Organization.FinancialValidityDays,
		&zone,
	)
	if err != nil {
		return domain.Booking{}, err
	}
	b.BookedBy = bookedBy.String
	b.StartDate = b.StartDate.UTC()
	b.ExpiresAt = b.ExpiresAt.UTC()
	b.Student.UserPID = userPID.String
	b.Student.MiddleName = middle.String
	b.Student.Status = domain.StudentStatus(studentStatus)
	b.Organization.Zone = zone.String
	return b, nil
}

// loadBookings runs a bookingColumns query and attaches the course groups,
// courses and clearances of every booking. With releasableOnly set only
// releasable ON_GOING groups are attached.
func (s *Store) loadBookings(ctx context.Context, releasableOnly bool, query string, args ...any) ([]domain.Booking, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		bookings = append(bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, nil
	}

	if err := s.attachGroups(ctx, bookings, releasableOnly); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (s *Store) attachGroups(ctx context.Context, bookings []domain.Booking, releasableOnly bool) error {
	ids := make([]int64, len(bookings))
	index := make(map[int64]int, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
		index[b.ID] = i
	}

	query := queryGroupsByBookings
	if releasableOnly {
		query = queryReleasableGroupsByBookings
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load course groups: %w", err)
	}
	var groups []domain.CourseGroupMapping
	for rows.Next() {
		var g domain.CourseGroupMapping
		var status string
		if err := rows.Scan(&g.ID, &g.BookingID, &g.CourseGroupID, &g.CourseGroupName, &status, &g.Releasable); err != nil {
			rows.Close()
			return err
		}
		g.Status = domain.BookingStatus(status)
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	groupIDs := make([]int64, len(groups))
	for i, g := range groups {
		groupIDs[i] = g.ID
	}
	courses, err := s.coursesByGroups(ctx, groupIDs)
	if err != nil {
		return err
	}
	clearances, err := s.queryClearances(ctx, queryClearancesByGroups, pq.Array(groupIDs))
	if err != nil {
		return err
	}
	byGroup := make(map[int64]*domain.CertificateClearance, len(clearances))
	for i := range clearances {
		byGroup[clearances[i].CourseGroupMappingID] = &clearances[i]
	}

	for _, g := range groups {
		g.Courses = courses[g.ID]
		g.Clearance = byGroup[g.ID]
		i := index[g.BookingID]
		bookings[i].Groups = append(bookings[i].Groups, g)
	}
	return nil
}

func (s *Store) coursesByGroups(ctx context.Context, groupIDs []int64) (map[int64][]domain.CourseMapping, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, queryCoursesByGroups, pq.Array(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("load courses: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.CourseMapping)
	for rows.Next() {
		var c domain.CourseMapping
		var groupID int64
		var status string
		if err := rows.Scan(&c.ID, &groupID, &c.CourseID, &c.CourseName, &status); err != nil {
			return nil, err
		}
		c.Status = domain.CourseStatus(status)
		out[groupID] = append(out[groupID], c)
	}
	return out, rows.Err()
}

func (s *Store) ListReleasableBookings(ctx context.Context) ([]domain.Booking, error) {
	return s.loadBookings(ctx, true, queryReleasableBookings)
}

func (s *Store) FinancialDefaulters(ctx context.Context, today time.Time, validityDays int) ([]domain.Booking, error) {
	return s.loadBookings(ctx, false, queryFinancialDefaulters, today, validityDays)
}

func (s *Store) BookingsExpiringOn(ctx context.Context, day time.Time) ([]domain.Booking, error) {
	return s.loadBookings(ctx, false, queryBookingsExpiringOn, day)
}

func (s *Store) ExpiredBookings(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	return s.loadBookings(ctx, false, queryExpiredBookings, now)
}

func (s *Store) BookingsStartingOn(ctx context.Context, day time.Time) ([]domain.Booking, error) {
	return s.loadBookings(ctx, false, queryBookingsStartingOn, day)
}

// BookingEnrollments returns the booking owning mappingID together with its
// student's batch enrollments for that booking.
func (s *Store) BookingEnrollments(ctx context.Context, mappingID int64) (domain.Booking, []domain.Enrollment, error) {
	bookings, err := s.loadBookings(ctx, false, queryBookingByMapping, mappingID)
	if err != nil {
		return domain.Booking{}, nil, err
	}
	if len(bookings) == 0 {
		return domain.Booking{}, nil, fmt.Errorf("course group mapping %d: %w", mappingID, sql.ErrNoRows)
	}
	b := bookings[0]

	rows, err := s.conn(ctx).QueryContext(ctx, queryEnrollmentsByBooking, b.ID, b.Student.ID)
	if err != nil {
		return domain.Booking{}, nil, err
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		var e domain.Enrollment
		if err := rows.Scan(&e.StudentID, &e.BookingID, &e.CourseID, &e.AddedAt); err != nil {
			return domain.Booking{}, nil, err
		}
		e.AddedAt = e.AddedAt.UTC()
		out = append(out, e)
	}
	return b, out, rows.Err()
}

func (s *Store) SetBookingReleasable(ctx context.Context, bookingID int64, releasable bool) error {
	_, err := s.conn(ctx).ExecContext(ctx, querySetBookingReleasable, bookingID, releasable)
	return err
}

func (s *Store) SetCourseGroupStatus(ctx context.Context, mappingIDs []int64, status domain.BookingStatus) error {
	if len(mappingIDs) == 0 {
		return nil
	}
	_, err := s.conn(ctx).ExecContext(ctx, querySetCourseGroupStatus, pq.Array(mappingIDs), string(status))
	return err
}

func (s *Store) SetStudentStatus(ctx context.Context, studentIDs []int64, status domain.StudentStatus) error {
	if len(studentIDs) == 0 {
		return nil
	}
	_, err := s.conn(ctx).ExecContext(ctx, querySetStudentStatus, pq.Array(studentIDs), string(status))
	return err
}

// MarkPassedOut moves students with no ON_GOING course group left to
// PASSED_OUT and returns the ids it moved.
func (s *Store) MarkPassedOut(ctx context.Context, studentIDs []int64) ([]int64, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, queryMarkPassedOut, pq.Array(studentIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Organization(ctx context.Context, id int64) (domain.Organization, error) {
	var o domain.Organization
	var zone sql.NullString
	err := s.conn(ctx).QueryRowContext(ctx, queryGetOrganization, id).Scan(
		&o.ID, &o.Name, &o.CertificateReleaseInDays, &o.FinancialValidityDays, &zone)
	if err != nil {
		return domain.Organization{}, err
	}
	o.Zone = zone.String
	return o, nil
}

func (s *Store) CreateNotifications(ctx context.Context, notifications []domain.Notification) error {
	for _, n := range notifications {
		_, err := s.conn(ctx).ExecContext(ctx, queryInsertNotification, n.UserPID, n.Message, n.View, n.ReferenceID, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert notification for %s: %w", n.UserPID, err)
		}
	}
	return nil
}
