package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer writes links to the log instead of sending mail. Used when SMTP is not configured.
type LogMailer struct {
	baseURL string
	log     *zap.SugaredLogger
}

// NewLogMailer creates a log-only mailer
func NewLogMailer(baseURL string, log *zap.SugaredLogger) *LogMailer {
	return &LogMailer{baseURL: baseURL, log: log}
}

func (m *LogMailer) SendVerification(_ context.Context, to, username, token string) error {
	m.log.Infow("verification link", "to", to, "username", username, "link", tokenLink(m.baseURL, "/verify-email", token))
	return nil
}

func (m *LogMailer) SendPasswordReset(_ context.Context, to, username, token string) error {
	m.log.Infow("password reset link", "to", to, "username", username, "link", tokenLink(m.baseURL, "/reset-password", token))
	return nil
}
