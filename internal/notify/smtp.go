package notify

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/example/luxmed-hunter/internal/config"
)

// SMTP sends plain-text mail through a STARTTLS SMTP relay.
type SMTP struct {
	cfg config.MailConfig
	log *slog.Logger
}

func NewSMTP(cfg config.MailConfig, log *slog.Logger) *SMTP {
	return &SMTP{cfg: cfg, log: log}
}

func (s *SMTP) Notify(ctx context.Context, subject, body string) error {
	from := s.cfg.From
	if from == "" {
		from = s.cfg.SMTP.Email
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", s.cfg.Recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(s.cfg.SMTP.Host, s.cfg.SMTP.Port, s.cfg.SMTP.Email, s.cfg.SMTP.Password)

	// gomail has no context support; bound the send with the ctx deadline.
	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify: smtp send: %w", err)
		}
		s.log.Info("email notification sent", "provider", "smtp", "subject", subject)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
