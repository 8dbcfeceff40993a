package dto

import (
	"time"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

// Live event names delivered over the session stream.
const (
	LiveEventAttendance   = "attendance"
	LiveEventSessionEnded = "sessionEnded"
)

// AttendanceEvent is pushed to live viewers when a student is admitted.
type AttendanceEvent struct {
	ID          string             `json:"id"`
	Student     models.UserSummary `json:"student"`
	SubmittedAt time.Time          `json:"submitted_at"`
	IsVerified  bool               `json:"is_verified"`
}

// SessionEndedEvent is pushed when the owning faculty ends the session.
type SessionEndedEvent struct {
	SessionID string `json:"sessionId"`
}
