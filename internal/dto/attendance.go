package dto

import (
	"time"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

// DeviceInfo is optional client metadata stored alongside a submission.
type DeviceInfo struct {
	UserAgent  string `json:"userAgent" validate:"max=500"`
	Platform   string `json:"platform" validate:"max=50"`
	ScreenSize string `json:"screenSize,omitempty" validate:"omitempty,max=20"`
}

// SubmitAttendanceRequest carries a student's code and device position.
type SubmitAttendanceRequest struct {
	ClassCode  string      `json:"classCode" validate:"required,max=32"`
	Lat        *float64    `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng        *float64    `json:"lng" validate:"required,gte=-180,lte=180"`
	DeviceInfo *DeviceInfo `json:"deviceInfo,omitempty" validate:"omitempty"`
}

// SubmitAttendanceResponse acknowledges an admitted submission.
type SubmitAttendanceResponse struct {
	Message    string             `json:"message"`
	Attendance AdmittedAttendance `json:"attendance"`
}

// AdmittedAttendance summarises the committed record.
type AdmittedAttendance struct {
	ID          string               `json:"id"`
	Course      models.CourseSummary `json:"course"`
	SubmittedAt time.Time            `json:"submitted_at"`
	IsVerified  bool                 `json:"is_verified"`
}

// SubmissionsQuery selects the session whose submissions are listed.
type SubmissionsQuery struct {
	SessionID string `form:"sessionId"`
}

// SubmissionItem is a single attendance row with the student identity.
type SubmissionItem struct {
	ID          string             `json:"id"`
	Student     models.UserSummary `json:"student"`
	Lat         float64            `json:"lat"`
	Lng         float64            `json:"lng"`
	IsVerified  bool               `json:"is_verified"`
	DeviceInfo  *string            `json:"device_info,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// SessionSubmissions groups a session with its submissions.
type SessionSubmissions struct {
	Course      models.CourseSummary `json:"course"`
	Session     SessionResponse      `json:"session"`
	Submissions []SubmissionItem     `json:"submissions"`
}

// StudentHistoryItem is a single entry of a student's attendance history.
type StudentHistoryItem struct {
	ID          string               `json:"id"`
	SessionID   string               `json:"session_id"`
	ClassCode   string               `json:"class_code"`
	StartTime   time.Time            `json:"start_time"`
	Course      models.CourseSummary `json:"course"`
	SubmittedAt time.Time            `json:"submitted_at"`
	IsVerified  bool                 `json:"is_verified"`
}

// NewSubmissionItem projects a joined submission row.
func NewSubmissionItem(s models.AttendanceSubmission) SubmissionItem {
	return SubmissionItem{
		ID:          s.ID,
		Student:     models.UserSummary{ID: s.StudentID, Name: s.StudentName, Email: s.StudentEmail},
		Lat:         s.Lat,
		Lng:         s.Lng,
		IsVerified:  s.IsVerified,
		DeviceInfo:  s.DeviceInfo,
		SubmittedAt: s.SubmittedAt,
	}
}
