package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/signalix/chatserver/internal/model"
)

// RefreshRepo stores at most one refresh session per user. Saving overwrites the previous one,
// which invalidates every refresh token issued before it.
type RefreshRepo interface {
	Save(ctx context.Context, session model.RefreshSession) error
	Get(ctx context.Context, userID int64) (model.RefreshSession, error)
	Delete(ctx context.Context, userID int64) error
}

type refreshRepo struct {
	db *sql.DB
}

// NewRefreshRepo creates a new RefreshRepo instance
func NewRefreshRepo(db *sql.DB) RefreshRepo {
	return &refreshRepo{db: db}
}

// Save upserts the user's refresh session
func (r *refreshRepo) Save(ctx context.Context, session model.RefreshSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET token_hash = EXCLUDED.token_hash, expires_at = EXCLUDED.expires_at, created_at = now()
	`, session.UserID, session.TokenHash, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// Get returns the stored session for the user regardless of expiry; callers check ExpiresAt
func (r *refreshRepo) Get(ctx context.Context, userID int64) (model.RefreshSession, error) {
	var s model.RefreshSession
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, token_hash, expires_at, created_at
		FROM refresh_sessions
		WHERE user_id = $1
	`, userID).Scan(&s.UserID, &s.TokenHash, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshSession{}, fmt.Errorf("refresh session: %w", ErrNotFound)
		}
		return model.RefreshSession{}, fmt.Errorf("find refresh session: %w", err)
	}
	return s, nil
}

// Delete removes the user's refresh session. Deleting a missing session is not an error.
func (r *refreshRepo) Delete(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete refresh session: %w", err)
	}
	return nil
}
