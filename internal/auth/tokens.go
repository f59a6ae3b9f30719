package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalix/chatserver/internal/model"
	"github.com/signalix/chatserver/internal/repo"
)

// Session is the token pair handed to a client at login.
// The refresh token is only ever seen in plaintext here.
type Session struct {
	UserID           int64
	Role             string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenService issues, verifies and rotates session tokens
type TokenService struct {
	jwt         *JWTService
	refreshRepo repo.RefreshRepo
	userRepo    repo.UserRepo
}

// NewTokenService creates a new token service
func NewTokenService(jwtService *JWTService, refreshRepo repo.RefreshRepo, userRepo repo.UserRepo) *TokenService {
	return &TokenService{
		jwt:         jwtService,
		refreshRepo: refreshRepo,
		userRepo:    userRepo,
	}
}

// IssueSession signs an access/refresh pair and stores the refresh token's salted hash,
// replacing whatever refresh session the user had before.
func (s *TokenService) IssueSession(ctx context.Context, userID int64, role string) (Session, error) {
	accessToken, accessExp, err := s.jwt.SignAccessToken(userID, role)
	if err != nil {
		return Session{}, err
	}
	refreshToken, refreshExp, err := s.jwt.SignRefreshToken(userID)
	if err != nil {
		return Session{}, err
	}
	hash, err := HashRefreshToken(refreshToken)
	if err != nil {
		return Session{}, fmt.Errorf("hash refresh token: %w", err)
	}

	err = s.refreshRepo.Save(ctx, model.RefreshSession{
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: refreshExp,
	})
	if err != nil {
		return Session{}, fmt.Errorf("store refresh session: %w", err)
	}

	return Session{
		UserID:           userID,
		Role:             role,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess is stateless: signature and expiry only
func (s *TokenService) VerifyAccess(token string) (*Claims, error) {
	return s.jwt.VerifyAccessToken(token)
}

// RotateRefresh exchanges a refresh token for a new access token. The refresh token itself
// is not reissued; it stays valid until it expires or a newer login overwrites it.
func (s *TokenService) RotateRefresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.jwt.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRefresh, err)
	}

	stored, err := s.refreshRepo.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrInvalidRefresh
		}
		return "", fmt.Errorf("load refresh session: %w", err)
	}
	if !time.Now().Before(stored.ExpiresAt) {
		return "", ErrInvalidRefresh
	}
	if !RefreshTokenMatches(refreshToken, stored.TokenHash) {
		return "", ErrInvalidRefresh
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrInvalidRefresh
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		return "", ErrInvalidRefresh
	}

	accessToken, _, err := s.jwt.SignAccessToken(user.ID, user.Role)
	if err != nil {
		return "", err
	}
	return accessToken, nil
}

// Revoke drops the user's refresh session so no outstanding refresh token can be used
func (s *TokenService) Revoke(ctx context.Context, userID int64) error {
	if err := s.refreshRepo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
