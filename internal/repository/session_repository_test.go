package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

var sessionDetailCols = []string{
	"id", "course_id", "class_code", "start_time", "end_time", "lat", "lng", "radius_m",
	"is_active", "created_by", "created_at", "course_code", "course_name",
}

func TestSessionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	session := &models.ClassSession{
		CourseID:  "course-1",
		ClassCode: "AB12CD",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Lat:       -6.2,
		Lng:       106.8,
		RadiusM:   100,
		IsActive:  true,
		CreatedBy: "faculty-1",
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO class_sessions`)).
		WithArgs(sqlmock.AnyArg(), "course-1", "AB12CD", start, start.Add(time.Hour), -6.2, 106.8, 100, true, "faculty-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), session))
	assert.NotEmpty(t, session.ID)
	assert.False(t, session.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCreateTranslatesUniqueViolation(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO class_sessions`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: ConstraintOneActivePerCourse})

	err := repo.Create(context.Background(), &models.ClassSession{CourseID: "course-1", ClassCode: "AB12CD"})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err, ConstraintOneActivePerCourse))
	assert.False(t, IsUniqueViolation(err, ConstraintActiveClassCode))
}

func TestSessionRepositoryFindActiveByCode(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(sessionDetailCols).
		AddRow("session-1", "course-1", "AB12CD", now, now.Add(time.Hour), 0.0, 0.0, 100, true, "faculty-1", now, "CS101", "Algorithms")

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE s.class_code = $1 AND s.is_active = TRUE`)).
		WithArgs("AB12CD").
		WillReturnRows(rows)

	session, err := repo.FindActiveByCode(context.Background(), "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, "session-1", session.ID)
	assert.Equal(t, "CS101", session.Course().Code)
	assert.Equal(t, 100, session.RadiusM)
}

func TestSessionRepositoryFindActiveByCodeMissing(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE s.class_code = $1`)).
		WithArgs("ZZZZZZ").
		WillReturnRows(sqlmock.NewRows(sessionDetailCols))

	session, err := repo.FindActiveByCode(context.Background(), "ZZZZZZ")
	assert.Nil(t, session)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSessionRepositoryCodeInUse(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM class_sessions WHERE class_code = $1 AND is_active = TRUE)`)).
		WithArgs("AB12CD").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	inUse, err := repo.CodeInUse(context.Background(), "AB12CD")
	require.NoError(t, err)
	assert.True(t, inUse)
}

func TestSessionRepositoryEnd(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	start := time.Now().UTC().Add(-10 * time.Minute)
	endedAt := time.Now().UTC()
	rows := sqlmock.NewRows(sessionDetailCols).
		AddRow("session-1", "course-1", "AB12CD", start, endedAt, 0.0, 0.0, 100, false, "faculty-1", start, "CS101", "Algorithms")

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE class_sessions SET is_active = FALSE, end_time = $3
	WHERE id = $1 AND created_by = $2 AND is_active = TRUE`)).
		WithArgs("session-1", "faculty-1", endedAt).
		WillReturnRows(rows)

	session, err := repo.End(context.Background(), "session-1", "faculty-1", endedAt)
	require.NoError(t, err)
	assert.False(t, session.IsActive)
	assert.Equal(t, endedAt, session.EndTime)
	assert.Equal(t, "Algorithms", session.CourseName)
}

func TestSessionRepositoryEndNoWinner(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	endedAt := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE class_sessions SET is_active = FALSE, end_time = $3`)).
		WithArgs("session-1", "faculty-1", endedAt).
		WillReturnRows(sqlmock.NewRows(sessionDetailCols))

	session, err := repo.End(context.Background(), "session-1", "faculty-1", endedAt)
	assert.Nil(t, session)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSessionRepositoryListActiveFilters(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	cols := append(append([]string{}, sessionDetailCols...), "faculty_name", "faculty_email", "attendance_count")
	rows := sqlmock.NewRows(cols).
		AddRow("session-1", "course-1", "AB12CD", now, now.Add(time.Hour), 0.0, 0.0, 100, true, "faculty-1", now, "CS101", "Algorithms", "Dr. Rahman", "rahman@campus.edu", 3)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE s.is_active = TRUE AND s.created_by = $1 AND s.course_id = $2
ORDER BY s.start_time DESC`)).
		WithArgs("faculty-1", "course-1").
		WillReturnRows(rows)

	items, err := repo.ListActive(context.Background(), models.ActiveSessionFilter{CreatedBy: "faculty-1", CourseID: "course-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].AttendanceCount)
	require.NotNil(t, items[0].FacultyName)
	assert.Equal(t, "Dr. Rahman", *items[0].FacultyName)
}
