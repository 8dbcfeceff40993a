package models

import "time"

// AttendanceRecord is the single admitted submission of a student for a session.
type AttendanceRecord struct {
	ID          string    `db:"id" json:"id"`
	SessionID   string    `db:"session_id" json:"session_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	Lat         float64   `db:"lat" json:"lat"`
	Lng         float64   `db:"lng" json:"lng"`
	IsVerified  bool      `db:"is_verified" json:"is_verified"`
	DeviceInfo  *string   `db:"device_info" json:"device_info,omitempty"`
	SubmittedAt time.Time `db:"submitted_at" json:"submitted_at"`
}

// AttendanceSubmission extends a record with the submitting student's identity.
type AttendanceSubmission struct {
	AttendanceRecord
	StudentName  string `db:"student_name" json:"-"`
	StudentEmail string `db:"student_email" json:"-"`
}

// StudentAttendanceEntry is a row of a student's attendance history.
type StudentAttendanceEntry struct {
	ID          string    `db:"id"`
	SessionID   string    `db:"session_id"`
	IsVerified  bool      `db:"is_verified"`
	SubmittedAt time.Time `db:"submitted_at"`
	ClassCode   string    `db:"class_code"`
	StartTime   time.Time `db:"start_time"`
	CourseSummary
}
