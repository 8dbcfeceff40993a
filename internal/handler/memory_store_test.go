package handler

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
)

// memoryStore backs the repository interfaces with maps and enforces the same
// uniqueness rules as the database indexes.
type memoryStore struct {
	mu       sync.Mutex
	users    map[string]models.User
	courses  map[string]models.Course
	sessions map[string]models.ClassSession
	records  []models.AttendanceRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[string]models.User),
		courses:  make(map[string]models.Course),
		sessions: make(map[string]models.ClassSession),
	}
}

func (m *memoryStore) detailLocked(s models.ClassSession) models.ClassSessionDetail {
	course := m.courses[s.CourseID]
	return models.ClassSessionDetail{ClassSession: s, CourseCode: course.Code, CourseName: course.Name}
}

type memorySessions struct{ store *memoryStore }

func (r memorySessions) Create(ctx context.Context, session *models.ClassSession) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if !existing.IsActive {
			continue
		}
		if existing.CourseID == session.CourseID {
			return &repository.UniqueViolationError{Constraint: repository.ConstraintOneActivePerCourse}
		}
		if existing.ClassCode == session.ClassCode {
			return &repository.UniqueViolationError{Constraint: repository.ConstraintActiveClassCode}
		}
	}
	m.sessions[session.ID] = *session
	return nil
}

func (r memorySessions) FindByID(ctx context.Context, id string) (*models.ClassSessionDetail, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := m.detailLocked(session)
	return &detail, nil
}

func (r memorySessions) FindActiveByCode(ctx context.Context, code string) (*models.ClassSessionDetail, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.IsActive && session.ClassCode == code {
			detail := m.detailLocked(session)
			return &detail, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memorySessions) ListActiveDetails(ctx context.Context) ([]models.ClassSessionDetail, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	var details []models.ClassSessionDetail
	for _, session := range m.sessions {
		if session.IsActive {
			details = append(details, m.detailLocked(session))
		}
	}
	return details, nil
}

func (r memorySessions) CodeInUse(ctx context.Context, code string) (bool, error) {
	_, err := r.FindActiveByCode(ctx, code)
	return err == nil, nil
}

func (r memorySessions) HasActiveForCourse(ctx context.Context, courseID string) (bool, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.IsActive && session.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (r memorySessions) End(ctx context.Context, id, createdBy string, endedAt time.Time) (*models.ClassSessionDetail, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok || !session.IsActive || session.CreatedBy != createdBy {
		return nil, sql.ErrNoRows
	}
	session.IsActive = false
	session.EndTime = endedAt
	m.sessions[id] = session
	detail := m.detailLocked(session)
	return &detail, nil
}

func (r memorySessions) ListActive(ctx context.Context, filter models.ActiveSessionFilter) ([]models.ActiveSessionRow, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.ActiveSessionRow
	for _, session := range m.sessions {
		if !session.IsActive {
			continue
		}
		if filter.CreatedBy != "" && session.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.CourseID != "" && session.CourseID != filter.CourseID {
			continue
		}
		row := models.ActiveSessionRow{ClassSessionDetail: m.detailLocked(session)}
		if faculty, ok := m.users[session.CreatedBy]; ok {
			name, email := faculty.FullName, faculty.Email
			row.FacultyName, row.FacultyEmail = &name, &email
		}
		for _, record := range m.records {
			if record.SessionID == session.ID {
				row.AttendanceCount++
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StartTime.After(rows[j].StartTime) })
	return rows, nil
}

type memoryAttendance struct{ store *memoryStore }

func (r memoryAttendance) Create(ctx context.Context, record *models.AttendanceRecord) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.SessionID == record.SessionID && existing.StudentID == record.StudentID {
			return &repository.UniqueViolationError{Constraint: repository.ConstraintOneRecordPerStudent}
		}
	}
	m.records = append(m.records, *record)
	return nil
}

func (r memoryAttendance) Exists(ctx context.Context, sessionID, studentID string) (bool, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.SessionID == sessionID && existing.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (r memoryAttendance) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceSubmission, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.AttendanceSubmission
	for i := len(m.records) - 1; i >= 0; i-- {
		record := m.records[i]
		if record.SessionID != sessionID {
			continue
		}
		student := m.users[record.StudentID]
		rows = append(rows, models.AttendanceSubmission{AttendanceRecord: record, StudentName: student.FullName, StudentEmail: student.Email})
	}
	return rows, nil
}

func (r memoryAttendance) ListByStudent(ctx context.Context, studentID, createdBy string) ([]models.StudentAttendanceEntry, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.StudentAttendanceEntry
	for i := len(m.records) - 1; i >= 0; i-- {
		record := m.records[i]
		if record.StudentID != studentID {
			continue
		}
		session := m.sessions[record.SessionID]
		if createdBy != "" && session.CreatedBy != createdBy {
			continue
		}
		course := m.courses[session.CourseID]
		rows = append(rows, models.StudentAttendanceEntry{
			ID:            record.ID,
			SessionID:     record.SessionID,
			IsVerified:    record.IsVerified,
			SubmittedAt:   record.SubmittedAt,
			ClassCode:     session.ClassCode,
			StartTime:     session.StartTime,
			CourseSummary: models.CourseSummary{ID: course.ID, Code: course.Code, Name: course.Name},
		})
	}
	return rows, nil
}

type memoryCourses struct{ store *memoryStore }

func (r memoryCourses) FindOwnedBy(ctx context.Context, id, facultyID string) (*models.Course, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	course, ok := m.courses[id]
	if !ok || course.FacultyID != facultyID {
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

type memoryUsers struct{ store *memoryStore }

func (r memoryUsers) FindSummary(ctx context.Context, id string) (*models.UserSummary, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || !user.Active {
		return nil, sql.ErrNoRows
	}
	return &models.UserSummary{ID: user.ID, Name: user.FullName, Email: user.Email}, nil
}
