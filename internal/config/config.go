package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort             = "8080"
	defaultAccessTTL        = 15 * time.Minute
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultResetTTL         = time.Hour
	defaultVerifyTTL        = 24 * time.Hour
	defaultBcryptCost       = 10
	defaultSendBuffer       = 64
	defaultLoginMaxAttempts = 5
	defaultLoginWindow      = 15 * time.Minute
	defaultSMTPPort         = 587
	defaultAppBaseURL       = "http://localhost:8080"
)

// SMTPConfig describes the outbound mail relay. An empty Host disables SMTP delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Config holds the application configuration
type Config struct {
	DatabaseURL      string
	Port             string
	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	ResetTokenTTL    time.Duration
	VerifyTokenTTL   time.Duration
	BcryptCost       int
	SendBuffer       int
	RedisAddr        string
	LoginMaxAttempts int
	LoginWindow      time.Duration
	SMTP             SMTPConfig
	AppBaseURL       string
	LogLevel         string
	DevMode          bool

	// Warnings collects values that were present but unparsable and replaced by defaults
	Warnings []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:       defaultPort,
		AppBaseURL: defaultAppBaseURL,
		LogLevel:   "info",
	}

	// Load DEV_MODE (optional, defaults to false)
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	// DATABASE_URL is required unless running against the in-memory store
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" && !cfg.DevMode {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// Load PORT (optional, defaults to 8080)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Load JWT_SECRET (required)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	// Load JWT_REFRESH_SECRET (required, must differ from JWT_SECRET)
	cfg.JWTRefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	if cfg.JWTRefreshSecret == "" {
		return nil, fmt.Errorf("JWT_REFRESH_SECRET environment variable is required")
	}
	if cfg.JWTRefreshSecret == cfg.JWTSecret {
		return nil, fmt.Errorf("JWT_REFRESH_SECRET must differ from JWT_SECRET")
	}

	cfg.AccessTokenTTL = cfg.parseDurationOrDefault("ACCESS_TOKEN_TTL", defaultAccessTTL)
	cfg.RefreshTokenTTL = cfg.parseDurationOrDefault("REFRESH_TOKEN_TTL", defaultRefreshTTL)
	cfg.ResetTokenTTL = cfg.parseDurationOrDefault("RESET_TOKEN_TTL", defaultResetTTL)
	cfg.VerifyTokenTTL = cfg.parseDurationOrDefault("VERIFY_TOKEN_TTL", defaultVerifyTTL)
	cfg.LoginWindow = cfg.parseDurationOrDefault("LOGIN_WINDOW", defaultLoginWindow)

	cfg.BcryptCost = cfg.parseIntOrDefault("BCRYPT_COST", defaultBcryptCost)
	cfg.SendBuffer = cfg.parseIntOrDefault("SEND_BUFFER", defaultSendBuffer)
	cfg.LoginMaxAttempts = cfg.parseIntOrDefault("LOGIN_MAX_ATTEMPTS", defaultLoginMaxAttempts)

	// Load REDIS_ADDR (optional, empty disables redis)
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))

	cfg.SMTP = SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     cfg.parseIntOrDefault("SMTP_PORT", defaultSMTPPort),
		User:     os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASS"),
		From:     os.Getenv("SMTP_FROM"),
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		return nil, fmt.Errorf("SMTP_FROM environment variable is required when SMTP_HOST is set")
	}

	if v := os.Getenv("APP_BASE_URL"); v != "" {
		cfg.AppBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	return cfg, nil
}

func (c *Config) parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid duration in %s: %q, using default %s", varName, v, def))
	}
	return def
}

func (c *Config) parseIntOrDefault(varName string, def int) int {
	if v := os.Getenv(varName); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid integer in %s: %q, using default %d", varName, v, def))
	}
	return def
}
