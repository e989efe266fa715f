package identity

import (
	"context"
	"log/slog"
)

// Mailer доставляет письма со ссылкой сброса пароля.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer пишет ссылку в лог вместо отправки письма.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "password reset requested", "email", email, "link", link)
	return nil
}
