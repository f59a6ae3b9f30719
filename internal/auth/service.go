package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalix/chatserver/internal/model"
	"github.com/signalix/chatserver/internal/repo"
)

const minPasswordLength = 8

// Mailer delivers verification and reset links
type Mailer interface {
	SendVerification(ctx context.Context, to, username, token string) error
	SendPasswordReset(ctx context.Context, to, username, token string) error
}

// AttemptLimiter counts login attempts per key within a window
type AttemptLimiter interface {
	Hit(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// Options tunes AuthService
type Options struct {
	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration
}

// AuthService orchestrates account and session operations
type AuthService struct {
	tokens   *TokenService
	userRepo repo.UserRepo
	hasher   *PasswordHasher
	mailer   Mailer
	limiter  AttemptLimiter
	opts     Options
	log      *zap.SugaredLogger
}

// NewAuthService creates a new auth service
func NewAuthService(
	tokens *TokenService,
	userRepo repo.UserRepo,
	hasher *PasswordHasher,
	mailer Mailer,
	limiter AttemptLimiter,
	opts Options,
	log *zap.SugaredLogger,
) *AuthService {
	if opts.VerifyTokenTTL <= 0 {
		opts.VerifyTokenTTL = 24 * time.Hour
	}
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = time.Hour
	}
	return &AuthService{
		tokens:   tokens,
		userRepo: userRepo,
		hasher:   hasher,
		mailer:   mailer,
		limiter:  limiter,
		opts:     opts,
		log:      log,
	}
}

// Tokens exposes the underlying token service
func (s *AuthService) Tokens() *TokenService {
	return s.tokens
}

// Signup creates an unverified user with the default role and mails a verification link
func (s *AuthService) Signup(ctx context.Context, username, email, password string) (model.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return model.User{}, ErrInvalidUsername
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.User{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return model.User{}, ErrWeakPassword
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.userRepo.Create(ctx, model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	token, err := s.issueOneTimeToken(ctx, user.ID, model.PurposeVerifyEmail, s.opts.VerifyTokenTTL)
	if err != nil {
		return model.User{}, err
	}
	if err := s.mailer.SendVerification(ctx, user.Email, user.Username, token); err != nil {
		s.log.Warnw("verification email not sent", "user_id", user.ID, "error", err)
	}
	return user, nil
}

// VerifyEmail consumes a verification token
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.userRepo.ConsumeToken(ctx, model.PurposeVerifyEmail, HashOneTimeToken(token))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidOneTimeToken
		}
		return fmt.Errorf("consume verification token: %w", err)
	}
	if err := s.userRepo.SetVerified(ctx, userID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// Login checks credentials and account state, then issues a new session
func (s *AuthService) Login(ctx context.Context, email, password string) (model.User, Session, error) {
	key := "login:" + strings.ToLower(strings.TrimSpace(email))
	allowed, err := s.limiter.Hit(ctx, key)
	if err != nil {
		// Limiter outage must not lock everyone out.
		s.log.Warnw("login limiter unavailable", "error", err)
	} else if !allowed {
		return model.User{}, Session{}, ErrTooManyAttempts
	}

	user, err := s.userRepo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, Session{}, ErrInvalidCredentials
		}
		return model.User{}, Session{}, fmt.Errorf("load user: %w", err)
	}

	ok, err := s.hasher.Matches(user.PasswordHash, password)
	if err != nil {
		return model.User{}, Session{}, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return model.User{}, Session{}, ErrInvalidCredentials
	}
	if !user.Active {
		return model.User{}, Session{}, ErrAccountInactive
	}
	if !user.Verified {
		return model.User{}, Session{}, ErrEmailNotVerified
	}

	if err := s.limiter.Reset(ctx, key); err != nil {
		s.log.Warnw("reset login limiter", "error", err)
	}

	session, err := s.tokens.IssueSession(ctx, user.ID, user.Role)
	if err != nil {
		return model.User{}, Session{}, err
	}
	return user, session, nil
}

// Refresh exchanges a refresh token for a new access token
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return s.tokens.RotateRefresh(ctx, refreshToken)
}

// Logout revokes the user's refresh session
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	return s.tokens.Revoke(ctx, userID)
}

// ForgotPassword mails a reset link. Unknown emails are silently ignored.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.userRepo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	token, err := s.issueOneTimeToken(ctx, user.ID, model.PurposeResetPassword, s.opts.ResetTokenTTL)
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.Username, token); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token, stores the new password and revokes the refresh session
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	userID, err := s.userRepo.ConsumeToken(ctx, model.PurposeResetPassword, HashOneTimeToken(token))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidOneTimeToken
		}
		return fmt.Errorf("consume reset token: %w", err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return s.tokens.Revoke(ctx, userID)
}

func (s *AuthService) issueOneTimeToken(ctx context.Context, userID int64, purpose model.TokenPurpose, ttl time.Duration) (string, error) {
	token, hash, err := GenerateOneTimeToken()
	if err != nil {
		return "", fmt.Errorf("generate %s token: %w", purpose, err)
	}
	err = s.userRepo.SaveToken(ctx, model.UserToken{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hash,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("store %s token: %w", purpose, err)
	}
	return token, nil
}
