// Package notify delivers best-effort operator notifications by mail.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/luxmed-hunter/internal/config"
)

// Sink sends one notification. Callers treat delivery as fire-and-forget:
// a failed send is logged, never acted on.
type Sink interface {
	Notify(ctx context.Context, subject, body string) error
}

// Nop is the sink used when mail notifications are disabled.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// FromConfig builds the sink selected by the mail provider setting.
func FromConfig(cfg config.MailConfig, log *slog.Logger) (Sink, error) {
	if !cfg.Enable {
		return Nop{}, nil
	}
	switch strings.ToUpper(cfg.Provider) {
	case "SMTP":
		return NewSMTP(cfg, log), nil
	case "MAILGUN":
		return NewMailgun(cfg, log), nil
	case "SES":
		return NewSES(cfg, log)
	}
	return nil, fmt.Errorf("notify: unhandled email provider %q", cfg.Provider)
}
