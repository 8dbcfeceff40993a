package dto

import (
	"time"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

// StartSessionRequest opens a geofenced attendance window for a course.
type StartSessionRequest struct {
	CourseID        string   `json:"courseId" validate:"required"`
	Lat             *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng             *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	RadiusM         *int     `json:"radiusM" validate:"omitempty,gte=10,lte=1000"`
	DurationMinutes *int     `json:"durationMinutes" validate:"omitempty,gte=15,lte=180"`
}

// ActiveSessionQuery mirrors the optional listing filters.
type ActiveSessionQuery struct {
	CourseID string `form:"courseId"`
}

// SessionResponse is the session object returned by start and end.
type SessionResponse struct {
	ID         string               `json:"id"`
	CourseID   string               `json:"course_id"`
	ClassCode  string               `json:"class_code"`
	StartTime  time.Time            `json:"start_time"`
	EndTime    time.Time            `json:"end_time"`
	Lat        float64              `json:"lat"`
	Lng        float64              `json:"lng"`
	RadiusM    int                  `json:"radius_m"`
	IsActive   bool                 `json:"is_active"`
	CreatedBy  string               `json:"created_by"`
	CreatedAt  time.Time            `json:"created_at"`
	Course     models.CourseSummary `json:"course"`
	Attendance []AttendanceSummary  `json:"attendance,omitempty"`
	Faculty    *models.UserSummary  `json:"faculty,omitempty"`
	Count      *int                 `json:"attendance_count,omitempty"`
}

// AttendanceSummary is the compact record reference embedded in session payloads.
type AttendanceSummary struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// NewSessionResponse projects a session detail row into its response shape.
func NewSessionResponse(s models.ClassSessionDetail) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		CourseID:  s.CourseID,
		ClassCode: s.ClassCode,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Lat:       s.Lat,
		Lng:       s.Lng,
		RadiusM:   s.RadiusM,
		IsActive:  s.IsActive,
		CreatedBy: s.CreatedBy,
		CreatedAt: s.CreatedAt,
		Course:    s.Course(),
	}
}
