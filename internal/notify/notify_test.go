package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/luxmed-hunter/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFromConfigDisabled(t *testing.T) {
	sink, err := FromConfig(config.MailConfig{Enable: false}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, sink)
	assert.NoError(t, sink.Notify(context.Background(), "subject", "body"))
}

func TestFromConfigSMTP(t *testing.T) {
	cfg := config.MailConfig{
		Enable:     true,
		Provider:   "smtp",
		From:       "hunter@example.com",
		Recipients: []string{"ops@example.com"},
		SMTP: config.SMTPConfig{
			Host:     "smtp.example.com",
			Port:     587,
			Email:    "hunter@example.com",
			Password: "hunter",
		},
	}
	sink, err := FromConfig(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SMTP{}, sink)
}

func TestFromConfigMailgun(t *testing.T) {
	cfg := config.MailConfig{
		Enable:     true,
		Provider:   "MAILGUN",
		From:       "hunter@example.com",
		Recipients: []string{"ops@example.com"},
		Mailgun:    config.MailgunConfig{Domain: "mg.example.com", APIKey: "key"},
	}
	sink, err := FromConfig(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Mailgun{}, sink)
}

func TestFromConfigUnknownProvider(t *testing.T) {
	_, err := FromConfig(config.MailConfig{Enable: true, Provider: "PIGEON"}, testLogger())
	require.Error(t, err)
}
