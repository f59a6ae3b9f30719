package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalix/chatserver/internal/auth"
	"github.com/signalix/chatserver/internal/middleware"
	"github.com/signalix/chatserver/internal/model"
	"github.com/signalix/chatserver/internal/repo"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	userRepo    repo.UserRepo
	log         *zap.SugaredLogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService, userRepo repo.UserRepo, log *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		userRepo:    userRepo,
		log:         log,
	}
}

// signupRequest is the request body for POST /auth/signup
type signupRequest struct {
	Username string `json:"username" validate:"required,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// loginResponse is the JSON response for login
type loginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         userResponse `json:"user"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
}

func newUserResponse(u model.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		Verified: u.Verified,
	}
}

// tokenRequest carries a one-shot verification token
type tokenRequest struct {
	Token string `json:"token"`
}

// forgotPasswordRequest is the request body for POST /auth/forgot-password
type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required"`
}

// resetPasswordRequest is the request body for POST /auth/reset-password
type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// refreshRequest is the request body for POST /auth/refresh
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse is the JSON response for refresh
type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// HandleSignup handles POST /auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeValid(w, r, &req) {
		return
	}

	user, err := h.authService.Signup(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			respondWithError(w, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrInvalidUsername),
			errors.Is(err, auth.ErrInvalidEmail),
			errors.Is(err, auth.ErrWeakPassword):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Errorw("signup failed", "email", maskEmail(req.Email), "error", err)
			respondWithError(w, http.StatusInternalServerError, "failed to create account")
		}
		return
	}

	respondJSON(w, http.StatusCreated, newUserResponse(user))
}

// HandleVerifyEmail handles POST /auth/verify-email
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.authService.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, auth.ErrInvalidOneTimeToken) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Errorw("verify email failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to verify email")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeValid(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, session, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondWithError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, auth.ErrAccountInactive), errors.Is(err, auth.ErrEmailNotVerified):
			respondWithError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, auth.ErrTooManyAttempts):
			respondWithError(w, http.StatusTooManyRequests, err.Error())
		default:
			h.log.Errorw("login failed", "email", maskEmail(req.Email), "error", err)
			respondWithError(w, http.StatusInternalServerError, "failed to log in")
		}
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(time.Until(session.AccessExpiresAt).Seconds()),
		User:         newUserResponse(user),
	})
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	accessToken, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidRefresh) {
			h.log.Errorw("refresh failed", "error", err)
		}
		respondWithError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	respondJSON(w, http.StatusOK, refreshResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
	})
}

// HandleLogout handles POST /auth/logout (protected)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.authService.Logout(r.Context(), userID); err != nil {
		h.log.Errorw("logout failed", "user_id", userID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to log out")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleForgotPassword handles POST /auth/forgot-password. The answer never reveals
// whether the address belongs to an account.
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeValid(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), req.Email); err != nil {
		h.log.Errorw("forgot password failed", "email", maskEmail(req.Email), "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "if the account exists, a reset link has been sent"})
}

// HandleResetPassword handles POST /auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeValid(w, r, &req) {
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidOneTimeToken):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Errorw("reset password failed", "error", err)
			respondWithError(w, http.StatusInternalServerError, "failed to reset password")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "user not found")
			return
		}
		h.log.Errorw("load current user", "user_id", userID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	respondJSON(w, http.StatusOK, newUserResponse(user))
}
