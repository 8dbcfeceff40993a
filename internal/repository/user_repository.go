package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

// UserRepository reads identities owned by the account service.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindSummary returns the public identity of an active user.
func (r *UserRepository) FindSummary(ctx context.Context, id string) (*models.UserSummary, error) {
	const query = `SELECT id, full_name, email FROM users WHERE id = $1 AND active = TRUE`
	var summary models.UserSummary
	if err := r.db.GetContext(ctx, &summary, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user summary: %w", err)
	}
	return &summary, nil
}
