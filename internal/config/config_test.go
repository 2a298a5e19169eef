package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database_file: /tmp/hunter.db
hunter:
  interval_seconds: 60
logging:
  level: debug
  file:
    enabled: true
    path: /tmp/hunter.log
notifications:
  mail:
    enable: true
    provider: SMTP
    recipients:
      - ops@example.com
    smtp:
      smtp_server: smtp.example.com
      smtp_port: 587
      email: hunter@example.com
      password: hunter
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/hunter.db", cfg.DatabaseFile)
	assert.Equal(t, 60, cfg.Hunter.IntervalSeconds)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.File.Enabled)
	assert.Equal(t, "SMTP", cfg.Notifications.Mail.Provider)
	assert.Equal(t, 587, cfg.Notifications.Mail.SMTP.Port)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `database_file: db.sqlite`))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Hunter.IntervalSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Notifications.Mail.Enable)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown provider", `
database_file: db.sqlite
notifications:
  mail:
    enable: true
    provider: PIGEON
    recipients: [ops@example.com]
`},
		{"smtp missing host", `
database_file: db.sqlite
notifications:
  mail:
    enable: true
    provider: SMTP
    recipients: [ops@example.com]
`},
		{"mailgun missing key", `
database_file: db.sqlite
notifications:
  mail:
    enable: true
    provider: MAILGUN
    recipients: [ops@example.com]
    mailgun:
      domain: mg.example.com
`},
		{"ses missing region", `
database_file: db.sqlite
notifications:
  mail:
    enable: true
    provider: SES
    recipients: [ops@example.com]
`},
		{"no recipients", `
database_file: db.sqlite
notifications:
  mail:
    enable: true
    provider: SMTP
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}
