package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

// AttendanceRepository persists attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Create inserts a record. A second record for the same session and student
// fails with *UniqueViolationError on ConstraintOneRecordPerStudent.
func (r *AttendanceRepository) Create(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.SubmittedAt.IsZero() {
		record.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_records (id, session_id, student_id, lat, lng, is_verified, device_info, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.SessionID,
		record.StudentID,
		record.Lat,
		record.Lng,
		record.IsVerified,
		record.DeviceInfo,
		record.SubmittedAt,
	)
	if err != nil {
		return translateWriteError("create attendance record", err)
	}
	return nil
}

// Exists reports whether the student already has a record for the session.
func (r *AttendanceRepository) Exists(ctx context.Context, sessionID, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE session_id = $1 AND student_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, sessionID, studentID); err != nil {
		return false, fmt.Errorf("check attendance record: %w", err)
	}
	return exists, nil
}

// ListBySession returns the session's records with student identity, newest first.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceSubmission, error) {
	const query = `
SELECT
	a.id, a.session_id, a.student_id, a.lat, a.lng, a.is_verified, a.device_info, a.submitted_at,
	COALESCE(u.full_name, '') AS student_name,
	COALESCE(u.email, '') AS student_email
FROM attendance_records a
LEFT JOIN users u ON u.id = a.student_id
WHERE a.session_id = $1
ORDER BY a.submitted_at DESC`
	var items []models.AttendanceSubmission
	if err := r.db.SelectContext(ctx, &items, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session attendance: %w", err)
	}
	return items, nil
}

// ListByStudent returns a student's attendance history, newest first.
// A non-empty createdBy keeps only records from sessions that user created.
func (r *AttendanceRepository) ListByStudent(ctx context.Context, studentID, createdBy string) ([]models.StudentAttendanceEntry, error) {
	query := strings.Builder{}
	query.WriteString(`
SELECT
	a.id, a.session_id, a.is_verified, a.submitted_at,
	s.class_code, s.start_time,
	c.id AS course_id,
	c.code AS course_code,
	c.name AS course_name
FROM attendance_records a
JOIN class_sessions s ON s.id = a.session_id
JOIN courses c ON c.id = s.course_id
WHERE a.student_id = $1`)

	args := []interface{}{studentID}
	if createdBy != "" {
		args = append(args, createdBy)
		fmt.Fprintf(&query, " AND s.created_by = $%d", len(args))
	}
	query.WriteString("\nORDER BY a.submitted_at DESC")

	var items []models.StudentAttendanceEntry
	if err := r.db.SelectContext(ctx, &items, query.String(), args...); err != nil {
		return nil, fmt.Errorf("list student attendance: %w", err)
	}
	return items, nil
}
