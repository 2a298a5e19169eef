// Package config loads the YAML configuration file, with LUXMED_-prefixed
// environment variables overriding individual keys.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	DatabaseFile  string              `mapstructure:"database_file"`
	Hunter        HunterConfig        `mapstructure:"hunter"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type HunterConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type NotificationsConfig struct {
	Mail MailConfig `mapstructure:"mail"`
}

type MailConfig struct {
	Enable     bool          `mapstructure:"enable"`
	Provider   string        `mapstructure:"provider"` // SMTP, MAILGUN or SES
	From       string        `mapstructure:"from"`
	Recipients []string      `mapstructure:"recipients"`
	SMTP       SMTPConfig    `mapstructure:"smtp"`
	Mailgun    MailgunConfig `mapstructure:"mailgun"`
	SES        SESConfig     `mapstructure:"ses"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"smtp_server"`
	Port     int    `mapstructure:"smtp_port"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type MailgunConfig struct {
	Domain string `mapstructure:"domain"`
	APIKey string `mapstructure:"apikey"`
}

type SESConfig struct {
	Region string `mapstructure:"region"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("database_file", "database.db")
	v.SetDefault("hunter.interval_seconds", 300)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file.path", "debug.log")
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 7)

	// e.g. LUXMED_DATABASE_FILE overrides database_file
	v.SetEnvPrefix("LUXMED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseFile == "" {
		return fmt.Errorf("database_file is required")
	}
	if c.Hunter.IntervalSeconds < 1 {
		return fmt.Errorf("hunter.interval_seconds must be >= 1")
	}
	m := c.Notifications.Mail
	if !m.Enable {
		return nil
	}
	if len(m.Recipients) == 0 {
		return fmt.Errorf("notifications.mail.recipients is required when mail is enabled")
	}
	switch strings.ToUpper(m.Provider) {
	case "SMTP":
		if m.SMTP.Host == "" || m.SMTP.Port == 0 {
			return fmt.Errorf("notifications.mail.smtp: smtp_server and smtp_port are required")
		}
	case "MAILGUN":
		if m.Mailgun.Domain == "" || m.Mailgun.APIKey == "" {
			return fmt.Errorf("notifications.mail.mailgun: domain and apikey are required")
		}
	case "SES":
		if m.SES.Region == "" {
			return fmt.Errorf("notifications.mail.ses: region is required")
		}
	default:
		return fmt.Errorf("unhandled email provider %q", m.Provider)
	}
	return nil
}
