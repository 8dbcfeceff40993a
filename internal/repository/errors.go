package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Storage constraints backing the session and attendance invariants.
const (
	ConstraintOneActivePerCourse  = "class_sessions_one_active_per_course"
	ConstraintActiveClassCode     = "class_sessions_active_code_key"
	ConstraintOneRecordPerStudent = "attendance_records_session_student_key"
)

const pqUniqueViolation = "23505"

// UniqueViolationError reports a write rejected by a unique index or constraint.
type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique violation on %s: %v", e.Constraint, e.Err)
}

func (e *UniqueViolationError) Unwrap() error {
	return e.Err
}

// IsUniqueViolation reports whether err was raised by the named constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var uv *UniqueViolationError
	if !errors.As(err, &uv) {
		return false
	}
	return constraint == "" || uv.Constraint == constraint
}

func translateWriteError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return &UniqueViolationError{Constraint: pqErr.Constraint, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
