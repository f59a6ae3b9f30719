package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/signalix/chatserver/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id int64) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	Create(ctx context.Context, user model.User) (model.User, error)
	SetVerified(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SaveToken(ctx context.Context, token model.UserToken) error
	ConsumeToken(ctx context.Context, purpose model.TokenPurpose, tokenHash string) (int64, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, username, email, password_hash, role, active, verified, created_at`

func scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Active,
		&user.Verified,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user: %w", ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id int64) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail retrieves a user by email (case-insensitive)
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// Create inserts a new user; duplicate email or username yields ErrConflict
func (r *userRepo) Create(ctx context.Context, user model.User) (model.User, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, role, active, verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, user.Username, user.Email, user.PasswordHash, user.Role, user.Active, user.Verified).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("user: %w", ErrConflict)
		}
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// SetVerified marks the user's email as verified
func (r *userRepo) SetVerified(ctx context.Context, id int64) error {
	return r.execOne(ctx, `UPDATE users SET verified = true WHERE id = $1`, id)
}

// UpdatePassword replaces the stored password hash
func (r *userRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
}

// SaveToken stores a one-shot token, replacing any previous token with the same purpose for the user
func (r *userRepo) SaveToken(ctx context.Context, token model.UserToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_tokens (user_id, purpose, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, purpose)
		DO UPDATE SET token_hash = EXCLUDED.token_hash, expires_at = EXCLUDED.expires_at, created_at = now()
	`, token.UserID, string(token.Purpose), token.TokenHash, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save user token: %w", err)
	}
	return nil
}

// ConsumeToken deletes an unexpired token matching the hash and returns its owner
func (r *userRepo) ConsumeToken(ctx context.Context, purpose model.TokenPurpose, tokenHash string) (int64, error) {
	var userID int64
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM user_tokens
		WHERE purpose = $1 AND token_hash = $2 AND expires_at > now()
		RETURNING user_id
	`, string(purpose), tokenHash).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user token: %w", ErrNotFound)
		}
		return 0, fmt.Errorf("consume user token: %w", err)
	}
	return userID, nil
}

func (r *userRepo) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	return nil
}
