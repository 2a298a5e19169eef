package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/example/luxmed-hunter/internal/config"
)

// Mailgun sends mail through the Mailgun messages API.
type Mailgun struct {
	mg  *mailgun.MailgunImpl
	cfg config.MailConfig
	log *slog.Logger
}

func NewMailgun(cfg config.MailConfig, log *slog.Logger) *Mailgun {
	return &Mailgun{
		mg:  mailgun.NewMailgun(cfg.Mailgun.Domain, cfg.Mailgun.APIKey),
		cfg: cfg,
		log: log,
	}
}

func (m *Mailgun) Notify(ctx context.Context, subject, body string) error {
	from := m.cfg.From
	if from == "" {
		from = fmt.Sprintf("mailgun@%s", m.cfg.Mailgun.Domain)
	}
	msg := m.mg.NewMessage(from, subject, body, m.cfg.Recipients...)
	resp, id, err := m.mg.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("notify: mailgun send: %w", err)
	}
	m.log.Info("email notification sent", "provider", "mailgun", "subject", subject, "id", id, "response", resp)
	return nil
}
