package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

// maxSessionInsertAttempts bounds retries when the active code index rejects an insert.
const maxSessionInsertAttempts = 3

type sessionStore interface {
	Create(ctx context.Context, session *models.ClassSession) error
	FindByID(ctx context.Context, id string) (*models.ClassSessionDetail, error)
	CodeInUse(ctx context.Context, code string) (bool, error)
	HasActiveForCourse(ctx context.Context, courseID string) (bool, error)
	End(ctx context.Context, id, createdBy string, endedAt time.Time) (*models.ClassSessionDetail, error)
	ListActive(ctx context.Context, filter models.ActiveSessionFilter) ([]models.ActiveSessionRow, error)
}

type sessionCourseReader interface {
	FindOwnedBy(ctx context.Context, id, facultyID string) (*models.Course, error)
}

type sessionAttendanceReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceSubmission, error)
}

type livePublisher interface {
	Publish(sessionID, event string, payload interface{}) int
}

// SessionOptions bounds the values faculty may choose when starting a session.
type SessionOptions struct {
	DefaultRadiusM  int
	DefaultDuration time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.DefaultRadiusM <= 0 {
		o.DefaultRadiusM = 100
	}
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = 60 * time.Minute
	}
	if o.MinDuration <= 0 {
		o.MinDuration = 15 * time.Minute
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 180 * time.Minute
	}
	return o
}

// SessionService runs the class session lifecycle.
type SessionService struct {
	sessions   sessionStore
	courses    sessionCourseReader
	attendance sessionAttendanceReader
	codes      *CodeAllocator
	live       livePublisher
	validator  *validator.Validate
	logger     *zap.Logger
	metrics    *MetricsService
	opts       SessionOptions
	now        func() time.Time
}

// NewSessionService constructs the service.
func NewSessionService(
	sessions sessionStore,
	courses sessionCourseReader,
	attendance sessionAttendanceReader,
	codes *CodeAllocator,
	live livePublisher,
	validate *validator.Validate,
	logger *zap.Logger,
	metrics *MetricsService,
	opts SessionOptions,
) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if codes == nil {
		codes = NewCodeAllocator(nil)
	}
	return &SessionService{
		sessions:   sessions,
		courses:    courses,
		attendance: attendance,
		codes:      codes,
		live:       live,
		validator:  validate,
		logger:     logger,
		metrics:    metrics,
		opts:       opts.withDefaults(),
		now:        time.Now,
	}
}

// Start opens a new active session for a course owned by the calling faculty member.
func (s *SessionService) Start(ctx context.Context, claims *models.JWTClaims, req dto.StartSessionRequest) (*dto.SessionResponse, error) {
	if !claims.Is(models.RoleFaculty) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Only faculty can start sessions")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	radius := s.opts.DefaultRadiusM
	if req.RadiusM != nil {
		radius = *req.RadiusM
	}
	duration := s.opts.DefaultDuration
	if req.DurationMinutes != nil {
		duration = time.Duration(*req.DurationMinutes) * time.Minute
	}
	if duration < s.opts.MinDuration || duration > s.opts.MaxDuration {
		return nil, appErrors.Clone(appErrors.ErrValidation, "durationMinutes out of range")
	}

	notFound := appErrors.Clone(appErrors.ErrNotFound, "Course not found or access denied")
	if _, err := uuid.Parse(req.CourseID); err != nil {
		return nil, notFound
	}
	course, err := s.courses.FindOwnedBy(ctx, req.CourseID, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	active, err := s.sessions.HasActiveForCourse(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active session")
	}
	if active {
		return nil, appErrors.Clone(appErrors.ErrActiveSessionExists, "")
	}

	for attempt := 0; attempt < maxSessionInsertAttempts; attempt++ {
		code, err := s.codes.AllocateUnique(ctx, s.sessions.CodeInUse)
		if err != nil {
			if errors.Is(err, appErrors.ErrCodeAllocation) {
				return nil, err
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate class code")
		}

		now := s.now().UTC()
		session := &models.ClassSession{
			ID:        uuid.NewString(),
			CourseID:  course.ID,
			ClassCode: code,
			StartTime: now,
			EndTime:   now.Add(duration),
			Lat:       *req.Lat,
			Lng:       *req.Lng,
			RadiusM:   radius,
			IsActive:  true,
			CreatedBy: claims.UserID,
			CreatedAt: now,
		}

		err = s.sessions.Create(ctx, session)
		switch {
		case err == nil:
			s.metrics.RecordSessionStarted()
			s.logger.Info("class session started",
				zap.String("session_id", session.ID),
				zap.String("course_id", course.ID),
				zap.String("created_by", claims.UserID),
				zap.Int("radius_m", radius),
				zap.Duration("duration", duration),
			)
			resp := dto.NewSessionResponse(models.ClassSessionDetail{
				ClassSession: *session,
				CourseCode:   course.Code,
				CourseName:   course.Name,
			})
			return &resp, nil
		case repository.IsUniqueViolation(err, repository.ConstraintOneActivePerCourse):
			return nil, appErrors.Clone(appErrors.ErrActiveSessionExists, "")
		case repository.IsUniqueViolation(err, repository.ConstraintActiveClassCode):
			s.logger.Debug("class code collided on insert", zap.String("course_id", course.ID), zap.Int("attempt", attempt+1))
			continue
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start session")
		}
	}

	return nil, appErrors.Clone(appErrors.ErrCodeAllocation, "")
}

// End closes an active session owned by the caller and notifies live viewers.
func (s *SessionService) End(ctx context.Context, claims *models.JWTClaims, sessionID string) (*dto.SessionResponse, error) {
	if !claims.Is(models.RoleFaculty) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Only faculty can end sessions")
	}
	notFound := appErrors.Clone(appErrors.ErrNotFound, "Active session not found or access denied")
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, notFound
	}

	ended, err := s.sessions.End(ctx, sessionID, claims.UserID, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to end session")
	}
	s.metrics.RecordSessionEnded()

	if s.live != nil {
		s.live.Publish(ended.ID, dto.LiveEventSessionEnded, dto.SessionEndedEvent{SessionID: ended.ID})
	}

	resp := dto.NewSessionResponse(*ended)
	resp.Attendance = []dto.AttendanceSummary{}
	records, err := s.attendance.ListBySession(ctx, ended.ID)
	if err != nil {
		s.logger.Warn("load attendance for ended session", zap.String("session_id", ended.ID), zap.Error(err))
	}
	for _, record := range records {
		resp.Attendance = append(resp.Attendance, dto.AttendanceSummary{
			ID:          record.ID,
			StudentID:   record.StudentID,
			SubmittedAt: record.SubmittedAt,
		})
	}

	s.logger.Info("class session ended",
		zap.String("session_id", ended.ID),
		zap.String("created_by", claims.UserID),
		zap.Int("attendance", len(resp.Attendance)),
	)
	return &resp, nil
}

// ListActive returns sessions with the active flag set. Admins see every
// session, faculty only their own.
func (s *SessionService) ListActive(ctx context.Context, claims *models.JWTClaims, query dto.ActiveSessionQuery) ([]dto.SessionResponse, error) {
	filter := models.ActiveSessionFilter{CourseID: query.CourseID}
	switch {
	case claims.Is(models.RoleAdmin):
	case claims.Is(models.RoleFaculty):
		filter.CreatedBy = claims.UserID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Access denied")
	}
	if filter.CourseID != "" {
		if _, err := uuid.Parse(filter.CourseID); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid courseId")
		}
	}

	rows, err := s.sessions.ListActive(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch active sessions")
	}

	items := make([]dto.SessionResponse, 0, len(rows))
	for _, row := range rows {
		item := dto.NewSessionResponse(row.ClassSessionDetail)
		count := row.AttendanceCount
		item.Count = &count
		if claims.Is(models.RoleAdmin) && row.FacultyName != nil {
			faculty := models.UserSummary{ID: row.CreatedBy, Name: *row.FacultyName}
			if row.FacultyEmail != nil {
				faculty.Email = *row.FacultyEmail
			}
			item.Faculty = &faculty
		}
		items = append(items, item)
	}
	return items, nil
}

// AuthorizeLive checks that the caller may watch the session's live stream:
// admins may watch any session, faculty only sessions they created.
// It reports whether the session is still active.
func (s *SessionService) AuthorizeLive(ctx context.Context, claims *models.JWTClaims, sessionID string) (bool, error) {
	if !claims.Is(models.RoleAdmin, models.RoleFaculty) {
		return false, appErrors.Clone(appErrors.ErrForbidden, "Access denied")
	}
	notFound := appErrors.Clone(appErrors.ErrNotFound, "Session not found")
	if _, err := uuid.Parse(sessionID); err != nil {
		return false, notFound
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, notFound
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if claims.Is(models.RoleFaculty) && session.CreatedBy != claims.UserID {
		return false, appErrors.Clone(appErrors.ErrForbidden, "Access denied")
	}
	return session.IsActive, nil
}
