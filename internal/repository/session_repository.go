package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

const sessionColumns = `id, course_id, class_code, start_time, end_time, lat, lng, radius_m, is_active, created_by, created_at`

const sessionDetailSelect = `
SELECT
	s.id, s.course_id, s.class_code, s.start_time, s.end_time, s.lat, s.lng, s.radius_m,
	s.is_active, s.created_by, s.created_at,
	c.code AS course_code,
	c.name AS course_name
FROM class_sessions s
JOIN courses c ON c.id = s.course_id`

// SessionRepository persists class sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session. Unique index violations are returned as *UniqueViolationError.
func (r *SessionRepository) Create(ctx context.Context, session *models.ClassSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO class_sessions (` + sessionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.CourseID,
		session.ClassCode,
		session.StartTime,
		session.EndTime,
		session.Lat,
		session.Lng,
		session.RadiusM,
		session.IsActive,
		session.CreatedBy,
		session.CreatedAt,
	)
	if err != nil {
		return translateWriteError("create class session", err)
	}
	return nil
}

// FindByID returns a session joined with its course.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.ClassSessionDetail, error) {
	query := sessionDetailSelect + `
WHERE s.id = $1
LIMIT 1`
	var session models.ClassSessionDetail
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class session: %w", err)
	}
	return &session, nil
}

// FindActiveByCode resolves an active session by its exact stored code.
func (r *SessionRepository) FindActiveByCode(ctx context.Context, code string) (*models.ClassSessionDetail, error) {
	query := sessionDetailSelect + `
WHERE s.class_code = $1 AND s.is_active = TRUE
LIMIT 1`
	var session models.ClassSessionDetail
	if err := r.db.GetContext(ctx, &session, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active session by code: %w", err)
	}
	return &session, nil
}

// ListActiveDetails returns every active session for tolerant code matching.
// The result is not bounded.
func (r *SessionRepository) ListActiveDetails(ctx context.Context) ([]models.ClassSessionDetail, error) {
	query := sessionDetailSelect + `
WHERE s.is_active = TRUE
ORDER BY s.start_time DESC`
	var sessions []models.ClassSessionDetail
	if err := r.db.SelectContext(ctx, &sessions, query); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// CodeInUse reports whether an active session already holds the code.
func (r *SessionRepository) CodeInUse(ctx context.Context, code string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM class_sessions WHERE class_code = $1 AND is_active = TRUE)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, code); err != nil {
		return false, fmt.Errorf("check class code: %w", err)
	}
	return exists, nil
}

// HasActiveForCourse reports whether the course already has an active session.
func (r *SessionRepository) HasActiveForCourse(ctx context.Context, courseID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM class_sessions WHERE course_id = $1 AND is_active = TRUE)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, courseID); err != nil {
		return false, fmt.Errorf("check active session for course: %w", err)
	}
	return exists, nil
}

// End deactivates the session when it is still active and owned by createdBy.
// sql.ErrNoRows is returned when no such session exists, so concurrent ends have one winner.
func (r *SessionRepository) End(ctx context.Context, id, createdBy string, endedAt time.Time) (*models.ClassSessionDetail, error) {
	const query = `
WITH ended AS (
	UPDATE class_sessions SET is_active = FALSE, end_time = $3
	WHERE id = $1 AND created_by = $2 AND is_active = TRUE
	RETURNING id, course_id, class_code, start_time, end_time, lat, lng, radius_m, is_active, created_by, created_at
)
SELECT
	e.id, e.course_id, e.class_code, e.start_time, e.end_time, e.lat, e.lng, e.radius_m,
	e.is_active, e.created_by, e.created_at,
	c.code AS course_code,
	c.name AS course_name
FROM ended e
JOIN courses c ON c.id = e.course_id`
	var session models.ClassSessionDetail
	if err := r.db.GetContext(ctx, &session, query, id, createdBy, endedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("end class session: %w", err)
	}
	return &session, nil
}

// ListActive returns sessions whose active flag is set, newest first.
// The flag is not reconciled against end_time.
func (r *SessionRepository) ListActive(ctx context.Context, filter models.ActiveSessionFilter) ([]models.ActiveSessionRow, error) {
	query := strings.Builder{}
	query.WriteString(`
SELECT
	s.id, s.course_id, s.class_code, s.start_time, s.end_time, s.lat, s.lng, s.radius_m,
	s.is_active, s.created_by, s.created_at,
	c.code AS course_code,
	c.name AS course_name,
	u.full_name AS faculty_name,
	u.email AS faculty_email,
	(SELECT COUNT(*) FROM attendance_records a WHERE a.session_id = s.id) AS attendance_count
FROM class_sessions s
JOIN courses c ON c.id = s.course_id
LEFT JOIN users u ON u.id = s.created_by
WHERE s.is_active = TRUE`)

	var args []interface{}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		fmt.Fprintf(&query, " AND s.created_by = $%d", len(args))
	}
	if filter.CourseID != "" {
		args = append(args, filter.CourseID)
		fmt.Fprintf(&query, " AND s.course_id = $%d", len(args))
	}
	query.WriteString("\nORDER BY s.start_time DESC")

	var rows []models.ActiveSessionRow
	if err := r.db.SelectContext(ctx, &rows, query.String(), args...); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return rows, nil
}
