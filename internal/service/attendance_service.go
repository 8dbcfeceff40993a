package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/geo"
)

const admissionOutcomeAdmitted = "admitted"

type attendanceSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.ClassSessionDetail, error)
	FindActiveByCode(ctx context.Context, code string) (*models.ClassSessionDetail, error)
	ListActiveDetails(ctx context.Context) ([]models.ClassSessionDetail, error)
}

type attendanceStore interface {
	Create(ctx context.Context, record *models.AttendanceRecord) error
	Exists(ctx context.Context, sessionID, studentID string) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceSubmission, error)
	ListByStudent(ctx context.Context, studentID, createdBy string) ([]models.StudentAttendanceEntry, error)
}

type attendanceUserReader interface {
	FindSummary(ctx context.Context, id string) (*models.UserSummary, error)
}

// AttendanceService admits student submissions against live sessions.
type AttendanceService struct {
	sessions  attendanceSessionReader
	records   attendanceStore
	users     attendanceUserReader
	live      livePublisher
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	now       func() time.Time
}

// NewAttendanceService constructs the service.
func NewAttendanceService(
	sessions attendanceSessionReader,
	records attendanceStore,
	users attendanceUserReader,
	live livePublisher,
	validate *validator.Validate,
	logger *zap.Logger,
	metrics *MetricsService,
) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		sessions:  sessions,
		records:   records,
		users:     users,
		live:      live,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Submit runs the admission checks in order and commits one verified record.
// Any rejection leaves storage untouched.
func (s *AttendanceService) Submit(ctx context.Context, claims *models.JWTClaims, req dto.SubmitAttendanceRequest) (resp *dto.SubmitAttendanceResponse, err error) {
	defer func() {
		s.metrics.RecordAdmission(admissionOutcome(err))
	}()

	if !claims.Is(models.RoleStudent) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Only students can submit attendance")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	code := NormalizeClassCode(req.ClassCode)
	if len(code) < MinClassCodeLength {
		return nil, appErrors.Clone(appErrors.ErrInvalidCodeFormat, "")
	}

	session, err := s.resolveActiveSession(ctx, code)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if session.ExpiredAt(now) {
		return nil, appErrors.Clone(appErrors.ErrSessionExpired, "")
	}

	distance := geo.DistanceMeters(*req.Lat, *req.Lng, session.Lat, session.Lng)
	if !geo.IsWithinRadius(distance, float64(session.RadiusM)) {
		return nil, appErrors.Clone(appErrors.ErrLocationVerification, fmt.Sprintf(
			"Location verification failed. You are %dm away from the classroom (max: %dm)",
			int64(math.Round(distance)), session.RadiusM,
		))
	}

	exists, err := s.records.Exists(ctx, session.ID, claims.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attendance")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrAlreadySubmitted, "")
	}

	record := &models.AttendanceRecord{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		StudentID:   claims.UserID,
		Lat:         *req.Lat,
		Lng:         *req.Lng,
		IsVerified:  true,
		SubmittedAt: now,
	}
	if req.DeviceInfo != nil {
		raw, err := json.Marshal(req.DeviceInfo)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode device info")
		}
		info := string(raw)
		record.DeviceInfo = &info
	}

	if err := s.records.Create(ctx, record); err != nil {
		if repository.IsUniqueViolation(err, repository.ConstraintOneRecordPerStudent) {
			return nil, appErrors.Clone(appErrors.ErrAlreadySubmitted, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit attendance")
	}

	s.logger.Info("attendance admitted",
		zap.String("record_id", record.ID),
		zap.String("session_id", session.ID),
		zap.String("student_id", claims.UserID),
		zap.Float64("distance_m", distance),
	)
	s.publishAdmission(ctx, claims, record)

	return &dto.SubmitAttendanceResponse{
		Message: "Attendance submitted successfully",
		Attendance: dto.AdmittedAttendance{
			ID:          record.ID,
			Course:      models.CourseSummary{Code: session.CourseCode, Name: session.CourseName},
			SubmittedAt: record.SubmittedAt,
			IsVerified:  record.IsVerified,
		},
	}, nil
}

// resolveActiveSession matches the normalized code exactly first, then falls
// back to normalizing every active session's stored code.
func (s *AttendanceService) resolveActiveSession(ctx context.Context, code string) (*models.ClassSessionDetail, error) {
	session, err := s.sessions.FindActiveByCode(ctx, code)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve session")
	}

	active, err := s.sessions.ListActiveDetails(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve session")
	}
	for i := range active {
		if NormalizeClassCode(active[i].ClassCode) == code {
			return &active[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrInvalidClassCode, "")
}

func (s *AttendanceService) publishAdmission(ctx context.Context, claims *models.JWTClaims, record *models.AttendanceRecord) {
	if s.live == nil {
		return
	}
	student := models.UserSummary{ID: claims.UserID, Name: claims.FullName, Email: claims.Email}
	if s.users != nil {
		user, err := s.users.FindSummary(ctx, claims.UserID)
		if err != nil {
			s.logger.Warn("load student for live event", zap.String("student_id", claims.UserID), zap.Error(err))
		} else {
			student = *user
		}
	}
	s.live.Publish(record.SessionID, dto.LiveEventAttendance, dto.AttendanceEvent{
		ID:          record.ID,
		Student:     student,
		SubmittedAt: record.SubmittedAt,
		IsVerified:  record.IsVerified,
	})
}

// Submissions lists a session's attendance for its creator or an admin.
func (s *AttendanceService) Submissions(ctx context.Context, claims *models.JWTClaims, sessionID string) (*dto.SessionSubmissions, error) {
	if !claims.Is(models.RoleAdmin, models.RoleFaculty) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Access denied")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sessionId is required")
	}
	notFound := appErrors.Clone(appErrors.ErrNotFound, "Session not found")
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, notFound
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if claims.Is(models.RoleFaculty) && session.CreatedBy != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Access denied")
	}

	rows, err := s.records.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch attendance records")
	}
	items := make([]dto.SubmissionItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.NewSubmissionItem(row))
	}

	return &dto.SessionSubmissions{
		Course:      session.Course(),
		Session:     dto.NewSessionResponse(*session),
		Submissions: items,
	}, nil
}

// StudentHistory returns a student's attendance. Students may only read their own;
// faculty only see records from sessions they created.
func (s *AttendanceService) StudentHistory(ctx context.Context, claims *models.JWTClaims, studentID string) ([]dto.StudentHistoryItem, error) {
	createdBy := ""
	switch {
	case claims.Is(models.RoleAdmin):
	case claims.Is(models.RoleFaculty):
		createdBy = claims.UserID
	case claims.Is(models.RoleStudent):
		if studentID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "Access denied")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Access denied")
	}
	if _, err := uuid.Parse(studentID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid studentId")
	}

	rows, err := s.records.ListByStudent(ctx, studentID, createdBy)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch attendance records")
	}
	items := make([]dto.StudentHistoryItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.StudentHistoryItem{
			ID:          row.ID,
			SessionID:   row.SessionID,
			ClassCode:   row.ClassCode,
			StartTime:   row.StartTime,
			Course:      row.CourseSummary,
			SubmittedAt: row.SubmittedAt,
			IsVerified:  row.IsVerified,
		})
	}
	return items, nil
}

func admissionOutcome(err error) string {
	if err == nil {
		return admissionOutcomeAdmitted
	}
	return strings.ToLower(appErrors.FromError(err).Code)
}
