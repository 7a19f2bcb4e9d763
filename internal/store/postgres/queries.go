package postgres

// Jobs

const jobColumns = `
    id, name, description, json_data, job_type, schedule_type, execute_at,
    last_ran_at, last_ran_by, status, attempts, created_at`

const queryListJobs = `
SELECT` + jobColumns + `
FROM job
ORDER BY id
LIMIT $1 OFFSET $2
`

const queryGetJobForUpdate = `
SELECT` + jobColumns + `
FROM job
WHERE id = $1
FOR UPDATE
`

const queryInsertJob = `
INSERT INTO job (name, description, json_data, job_type, schedule_type, execute_at,
                 last_ran_at, last_ran_by, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id
`

const queryUpdateJob = `
UPDATE job
SET name = $2, description = $3, json_data = $4, job_type = $5, schedule_type = $6,
    execute_at = $7, last_ran_at = $8, last_ran_by = $9, status = $10, attempts = $11
WHERE id = $1
`

// queryClaimJob stamps a dispatch only while the row is still the one the
// sweep read.
const queryClaimJob = `
UPDATE job
SET status = $2, last_ran_at = $3, last_ran_by = $4, attempts = $5
WHERE id = $1 AND status = $6 AND last_ran_at IS NOT DISTINCT FROM $7::timestamptz
`

const queryCountJobsByType = `
SELECT COUNT(*) FROM job WHERE job_type = $1
`

const queryStaleRunningJobs = `
SELECT` + jobColumns + `
FROM job
WHERE status = 'RUNNING' AND last_ran_at < $1
ORDER BY last_ran_at ASC
LIMIT $2
`

// Instance registry

const queryUpsertInstance = `
INSERT INTO instance_registry (identity, hostname, started_at, last_heartbeat)
VALUES ($1, $2, $3, $4)
ON CONFLICT (identity) DO UPDATE
SET hostname = EXCLUDED.hostname, started_at = EXCLUDED.started_at, last_heartbeat = EXCLUDED.last_heartbeat
`

const queryHeartbeat = `
UPDATE instance_registry SET last_heartbeat = $2 WHERE identity = $1
`

// Organizations, students, notifications

const queryGetOrganization = `
SELECT id, name, certificate_release_in_days, financial_validity_days, zone
FROM organization
WHERE id = $1
`

const querySetStudentStatus = `
UPDATE student SET status = $2 WHERE id = ANY($1)
`

const queryMarkPassedOut = `
UPDATE student s
SET status = 'PASSED_OUT'
WHERE s.id = ANY($1)
  AND NOT EXISTS (
      SELECT 1
      FROM booking b
      JOIN booking_course_group_mapping g ON g.booking_id = b.id
      WHERE b.student_id = s.id AND g.status = 'ON_GOING'
  )
RETURNING s.id
`

const queryInsertNotification = `
INSERT INTO notification (user_pid, message, view, reference_id, created_at)
VALUES ($1, $2, $3, $4, $5)
`

// Bookings. Every booking query selects bookingColumns so rows scan the
// same way.

const bookingColumns = `
    b.id, b.uid, b.booked_by, b.releasable, b.start_date, b.estimated_expiry_at,
    s.id, s.uid, s.user_pid, s.first_name, s.middle_name, s.last_name, s.email, s.status,
    o.id, o.name, o.certificate_release_in_days, o.financial_validity_days, o.zone`

const bookingFrom = `
FROM booking b
JOIN student s ON s.id = b.student_id
JOIN organization o ON o.id = s.organization_id`

const queryReleasableBookings = `
SELECT` + bookingColumns + bookingFrom + `
WHERE EXISTS (
    SELECT 1 FROM booking_course_group_mapping g
    WHERE g.booking_id = b.id AND g.status = 'ON_GOING' AND g.releasable = true
)
ORDER BY b.id
`

const queryFinancialDefaulters = `
SELECT DISTINCT` + bookingColumns + bookingFrom + `
JOIN booking_course_group_mapping g ON g.booking_id = b.id
JOIN certificate_clearance cc ON cc.course_group_mapping_id = g.id
JOIN installment i ON i.booking_id = b.id
WHERE g.status IN ('ON_GOING', 'EXPIRED')
  AND cc.finance = 'PENDING'
  AND s.status NOT IN ('PASSED_OUT', 'FINANCIAL_DROPOUT')
  AND i.payment_id IS NULL
  AND i.due_date < $1::date - $2::int
ORDER BY b.id
`

const queryBookingsExpiringOn = `
SELECT DISTINCT` + bookingColumns + bookingFrom + `
JOIN booking_course_group_mapping g ON g.booking_id = b.id
WHERE g.status = 'ON_GOING'
  AND s.status <> 'PASSED_OUT'
  AND b.estimated_expiry_at::date = $1::date
ORDER BY b.id
`

const queryExpiredBookings = `
SELECT DISTINCT` + bookingColumns + bookingFrom + `
JOIN booking_course_group_mapping g ON g.booking_id = b.id
WHERE g.status = 'ON_GOING'
  AND b.estimated_expiry_at <= $1
ORDER BY b.id
`

const queryBookingsStartingOn = `
SELECT DISTINCT` + bookingColumns + bookingFrom + `
JOIN booking_course_group_mapping g ON g.booking_id = b.id
WHERE g.status = 'ON_GOING'
  AND b.start_date::date = $1::date
ORDER BY b.id
`

const queryBookingByMapping = `
SELECT` + bookingColumns + bookingFrom + `
JOIN booking_course_group_mapping g ON g.booking_id = b.id
WHERE g.id = $1
`

const querySetBookingReleasable = `
UPDATE booking SET releasable = $2 WHERE id = $1
`

const groupColumns = `
    g.id, g.booking_id, g.course_group_id, cg.name, g.status, g.releasable`

const queryGroupsByBookings = `
SELECT` + groupColumns + `
FROM booking_course_group_mapping g
JOIN course_group cg ON cg.id = g.course_group_id
WHERE g.booking_id = ANY($1)
ORDER BY g.id
`

const queryReleasableGroupsByBookings = `
SELECT` + groupColumns + `
FROM booking_course_group_mapping g
JOIN course_group cg ON cg.id = g.course_group_id
WHERE g.booking_id = ANY($1) AND g.status = 'ON_GOING' AND g.releasable = true
ORDER BY g.id
`

const queryCoursesByGroups = `
SELECT m.id, m.course_group_mapping_id, m.course_id, c.name, m.status
FROM booking_course_mapping m
JOIN course c ON c.id = m.course_id
WHERE m.course_group_mapping_id = ANY($1)
ORDER BY m.id
`

const querySetCourseGroupStatus = `
UPDATE booking_course_group_mapping SET status = $2 WHERE id = ANY($1)
`

const queryEnrollmentsByBooking = `
SELECT e.student_id, e.booking_id, e.course_id, e.added_at
FROM batch_enrollment e
WHERE e.booking_id = $1 AND e.student_id = $2
ORDER BY e.added_at
`

// Clearances

const clearanceColumns = `
    cc.id, cc.uid, cc.course_group_mapping_id,
    cc.theory, cc.project, cc.attendance, cc.finance,
    cc.release_status, cc.ready_at, cc.to_be_released_at, cc.certificate_start_at,
    cc.academics_cleared_at, cc.grade, cc.obtained_marks, cc.total_marks, cc.certificate_id`

const queryClearancesByGroups = `
SELECT` + clearanceColumns + `
FROM certificate_clearance cc
WHERE cc.course_group_mapping_id = ANY($1)
ORDER BY cc.id
`

const queryClearancesByTheoryExams = `
SELECT DISTINCT` + clearanceColumns + `
FROM certificate_clearance cc
JOIN course_clearance c ON c.certificate_clearance_id = cc.id
WHERE c.theory_exam_id = ANY($1)
ORDER BY cc.id
`

const queryClearancesByProjectExams = `
SELECT DISTINCT` + clearanceColumns + `
FROM certificate_clearance cc
JOIN course_clearance c ON c.certificate_clearance_id = cc.id
WHERE c.project_exam_id = ANY($1)
ORDER BY cc.id
`

const queryClearancesWithoutStartDate = `
SELECT DISTINCT` + clearanceColumns + `
FROM certificate_clearance cc
JOIN course_clearance c ON c.certificate_clearance_id = cc.id
JOIN booking_course_group_mapping g ON g.id = cc.course_group_mapping_id
JOIN booking b ON b.id = g.booking_id
WHERE cc.certificate_start_at IS NULL
  AND b.student_id = ANY($1)
  AND c.course_id = $2
ORDER BY cc.id
`

const queryCourseClearances = `
SELECT id, certificate_clearance_id, course_id, theory_exam_id, project_exam_id,
       theory, project, attendance, finance
FROM course_clearance
WHERE certificate_clearance_id = ANY($1)
ORDER BY id
`

const queryUpdateClearance = `
UPDATE certificate_clearance
SET theory = $2, project = $3, attendance = $4, finance = $5,
    release_status = $6, ready_at = $7, to_be_released_at = $8, certificate_start_at = $9,
    academics_cleared_at = $10, grade = $11, obtained_marks = $12, total_marks = $13,
    certificate_id = $14
WHERE id = $1
`

const queryUpdateCourseClearance = `
UPDATE course_clearance
SET theory = $2, project = $3, attendance = $4, finance = $5
WHERE id = $1
`

const queryGetFinalExams = `
SELECT id, student_id, course_id, exam_type, status, obtained_marks, total_marks
FROM student_final_exam
WHERE id = ANY($1)
ORDER BY id
`

const queryBatchAttendance = `
SELECT student_id, total_modules, attended_modules,
       course_group_mapping_id, course_group_id, course_id
FROM sp_get_attendance_by_batch_id($1)
`

// Certificates

const queryCertificateUIDExists = `
SELECT EXISTS (SELECT 1 FROM certificate WHERE uid = $1)
`

const queryInsertCertificate = `
INSERT INTO certificate (uid, student_id, certificate_clearance_id, course_group_id,
                         issued_to_first_name, issued_to_middle_name, issued_to_last_name,
                         status, assessment_type, grade, obtained_marks, total_marks,
                         certificate_start_at, created_at, download_count, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0, $14)
RETURNING id
`

const queryIssuedCertificates = `
SELECT c.id, c.uid, c.student_id, COALESCE(c.certificate_clearance_id, 0), c.course_group_id, cg.name,
       c.issued_to_first_name, c.issued_to_middle_name, c.issued_to_last_name,
       c.status, c.assessment_type, c.created_at,
       COALESCE(d.duration, 0), COALESCE(cc.grade, ''), cc.certificate_start_at, cc.ready_at
FROM certificate c
JOIN course_group cg ON cg.id = c.course_group_id
LEFT JOIN certificate_clearance cc ON cc.certificate_id = c.id
LEFT JOIN LATERAL (
    SELECT SUM(co.duration) AS duration
    FROM booking_course_mapping m
    JOIN course co ON co.id = m.course_id
    WHERE m.course_group_mapping_id = cc.course_group_mapping_id AND m.status <> 'RBC'
) d ON true
ORDER BY c.id
`
