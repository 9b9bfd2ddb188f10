package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taskhive/internal/model"
	"taskhive/internal/repository"
)

type userRepo struct {
	db     dbtx
	logger *zap.Logger
}

// Insert inserts a new user; a taken email returns repository.ErrDuplicate.
func (r *userRepo) Insert(ctx context.Context, u *model.User) error {
	query := `
        INSERT INTO users (email, password, first_name, last_name, roles, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING user_id
    `
	err := r.db.QueryRow(ctx, query, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Roles, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		r.logger.Error("Failed to insert user", zap.Error(err))
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *userRepo) FindByID(ctx context.Context, id int) (*model.User, error) {
	return r.findOne(ctx, `user_id = $1`, id)
}

// FindByEmail returns user by email.
func (r *userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `email = $1`, email)
}

func (r *userRepo) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	query := `
        SELECT user_id, email, password, first_name, last_name, roles, created_at
        FROM users
        WHERE ` + where
	var u model.User
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Roles, &u.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
