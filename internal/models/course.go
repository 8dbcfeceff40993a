package models

import "time"

// Course is owned by exactly one faculty member.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	FacultyID string    `db:"faculty_id" json:"faculty_id"`
	Semester  string    `db:"semester" json:"semester"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseSummary is the compact course reference embedded in session payloads.
type CourseSummary struct {
	ID   string `db:"course_id" json:"id,omitempty"`
	Code string `db:"course_code" json:"code"`
	Name string `db:"course_name" json:"name"`
}
