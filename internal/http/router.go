package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/signalix/chatserver/internal/http/handlers"
	"github.com/signalix/chatserver/internal/middleware"
	"github.com/signalix/chatserver/internal/model"
)

// Deps bundles everything the router mounts
type Deps struct {
	Auth      *handlers.AuthHandler
	Chat      *handlers.ChatHandler
	Health    http.Handler
	Gateway   http.Handler
	Tokens    middleware.TokenVerifier
	IPLimiter *middleware.RateLimiter
	Log       *zap.SugaredLogger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(chimw.Recoverer)

	r.Get("/health", d.Health.ServeHTTP)

	// The websocket authenticates inside the upgrade so failures can be reported as events.
	r.Get("/ws", d.Gateway.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.IPLimiter != nil {
				r.Use(middleware.RateLimitMiddleware(d.IPLimiter, middleware.GetIPKey))
			}
			r.Post("/signup", d.Auth.HandleSignup)
			r.Post("/verify-email", d.Auth.HandleVerifyEmail)
			r.Post("/login", d.Auth.HandleLogin)
			r.Post("/refresh", d.Auth.HandleRefresh)
			r.Post("/forgot-password", d.Auth.HandleForgotPassword)
			r.Post("/reset-password", d.Auth.HandleResetPassword)
		})
		r.With(middleware.AuthMiddleware(d.Tokens)).Post("/logout", d.Auth.HandleLogout)
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(d.Tokens))
		r.Get("/me", d.Auth.HandleMe)

		r.Post("/groups", d.Chat.HandleCreateGroup)
		r.Post("/groups/{id}/members", d.Chat.HandleAddMember)
		r.Get("/groups/{id}/messages", d.Chat.HandleGroupHistory)

		r.Get("/messages/direct/{userId}", d.Chat.HandleDirectHistory)
		r.Post("/messages/{id}/read", d.Chat.HandleMarkRead)

		r.Get("/presence/{userId}", d.Chat.HandlePresence)

		r.With(middleware.RequireRole(model.RoleAdmin)).Get("/admin/online", d.Chat.HandleOnlineUsers)
	})

	return r
}
