package models

import "time"

// ClassSession is a time and location bounded attendance window for a course.
// EndTime holds the planned expiry until the session is ended explicitly.
type ClassSession struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	ClassCode string    `db:"class_code" json:"class_code"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
	Lat       float64   `db:"lat" json:"lat"`
	Lng       float64   `db:"lng" json:"lng"`
	RadiusM   int       `db:"radius_m" json:"radius_m"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ExpiredAt reports whether the session window has closed at the given instant.
func (s *ClassSession) ExpiredAt(now time.Time) bool {
	return now.After(s.EndTime)
}

// ClassSessionDetail joins a session with its course reference.
type ClassSessionDetail struct {
	ClassSession
	CourseCode string `db:"course_code" json:"-"`
	CourseName string `db:"course_name" json:"-"`
}

// Course returns the embedded course reference.
func (d *ClassSessionDetail) Course() CourseSummary {
	return CourseSummary{ID: d.CourseID, Code: d.CourseCode, Name: d.CourseName}
}

// ActiveSessionFilter scopes the active session listing.
type ActiveSessionFilter struct {
	CreatedBy string
	CourseID  string
}

// ActiveSessionRow is a listing row for sessions whose active flag is set.
type ActiveSessionRow struct {
	ClassSessionDetail
	FacultyName     *string `db:"faculty_name" json:"-"`
	FacultyEmail    *string `db:"faculty_email" json:"-"`
	AttendanceCount int     `db:"attendance_count" json:"-"`
}
