package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/signalix/chatserver/internal/auth"
	"github.com/signalix/chatserver/internal/cache"
	"github.com/signalix/chatserver/internal/chat"
	"github.com/signalix/chatserver/internal/config"
	"github.com/signalix/chatserver/internal/db"
	"github.com/signalix/chatserver/internal/gateway"
	httphandler "github.com/signalix/chatserver/internal/http"
	"github.com/signalix/chatserver/internal/http/handlers"
	"github.com/signalix/chatserver/internal/hub"
	"github.com/signalix/chatserver/internal/logging"
	"github.com/signalix/chatserver/internal/middleware"
	"github.com/signalix/chatserver/internal/notify"
	"github.com/signalix/chatserver/internal/repo"
	"github.com/signalix/chatserver/internal/repo/memory"
)

type repos struct {
	users    repo.UserRepo
	refresh  repo.RefreshRepo
	groups   repo.GroupRepo
	messages repo.MessageRepo
}

func main() {
	// Env vars override .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatalf("Failed to load configuration: %v", err)
	}

	log := logging.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	ctx := context.Background()

	var (
		stores repos
		health = handlers.NewHealthHandler(nil)
	)
	if cfg.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()

		if err := db.Migrate(database); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		stores = repos{
			users:    repo.NewUserRepo(database),
			refresh:  repo.NewRefreshRepo(database),
			groups:   repo.NewGroupRepo(database),
			messages: repo.NewMessageRepo(database),
		}
		health = handlers.NewHealthHandler(database)
	} else {
		log.Warn("DEV_MODE without DATABASE_URL: using in-memory store, data is lost on exit")
		store := memory.NewStore()
		stores = repos{
			users:    store.Users(),
			refresh:  store.Refresh(),
			groups:   store.Groups(),
			messages: store.Messages(),
		}
	}

	ipLimiter := middleware.NewRateLimiter(10*time.Minute, 30)
	defer ipLimiter.Close()

	var loginLimiter auth.AttemptLimiter
	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		loginLimiter = cache.NewRedisLimiter(client, cfg.LoginMaxAttempts, cfg.LoginWindow)
	} else {
		local := middleware.NewRateLimiter(cfg.LoginWindow, cfg.LoginMaxAttempts)
		defer local.Close()
		loginLimiter = local
	}

	var mailer auth.Mailer
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From, cfg.AppBaseURL, log)
	} else {
		mailer = notify.NewLogMailer(cfg.AppBaseURL, log)
	}

	// Auth
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	tokenService := auth.NewTokenService(jwtService, stores.refresh, stores.users)
	authService := auth.NewAuthService(
		tokenService,
		stores.users,
		auth.NewPasswordHasher(cfg.BcryptCost),
		mailer,
		loginLimiter,
		auth.Options{VerifyTokenTTL: cfg.VerifyTokenTTL, ResetTokenTTL: cfg.ResetTokenTTL},
		log.Named("auth"),
	)

	// Realtime
	registry := hub.NewRegistry()
	presence := hub.NewPresence(registry, log.Named("presence"))
	dispatcher := chat.NewDispatcher(stores.users, stores.groups, stores.messages, registry, log.Named("chat"))
	gw := gateway.NewHandler(tokenService, stores.users, dispatcher, presence, cfg.SendBuffer, log.Named("gateway"))

	router := httphandler.NewRouter(httphandler.Deps{
		Auth:      handlers.NewAuthHandler(authService, stores.users, log.Named("http")),
		Chat:      handlers.NewChatHandler(dispatcher, registry, log.Named("http")),
		Health:    health,
		Gateway:   gw,
		Tokens:    tokenService,
		IPLimiter: ipLimiter,
		Log:       log.Named("access"),
	})

	// WriteTimeout stays unset: hijacked websocket connections manage their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Infow("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}
	closeConnections(registry, log)

	log.Info("Server exited")
}

// closeConnections drops every live websocket; Shutdown does not track hijacked connections
func closeConnections(registry *hub.Registry, log *zap.SugaredLogger) {
	conns := registry.All()
	for _, c := range conns {
		if client, ok := c.(*gateway.Client); ok {
			client.Close()
		}
	}
	log.Infow("Closed websocket connections", "count", len(conns))
}
