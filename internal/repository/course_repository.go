package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

const courseColumns = `id, code, name, faculty_id, semester, created_at, updated_at`

// CourseRepository reads courses. Course management lives outside this service.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 LIMIT 1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// FindOwnedBy returns the course only when it belongs to the given faculty member.
func (r *CourseRepository) FindOwnedBy(ctx context.Context, id, facultyID string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 AND faculty_id = $2 LIMIT 1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id, facultyID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find owned course: %w", err)
	}
	return &course, nil
}
