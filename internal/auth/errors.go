package auth

import "errors"

// Authentication failures. All are terminal for the request; the client must re-authenticate.
var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidRefresh = errors.New("invalid refresh token")

	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountInactive     = errors.New("account is deactivated")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrTooManyAttempts     = errors.New("too many login attempts")
	ErrInvalidOneTimeToken = errors.New("invalid or expired token")
)

// Signup validation failures
var (
	ErrEmailTaken      = errors.New("email or username already registered")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidUsername = errors.New("username is required")
	ErrWeakPassword    = errors.New("password must be at least 8 characters")
)
