package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Dead man's switch notifier modes.
const (
	ModeStaged = "staged"
	ModeBinary = "binary"
)

// Email providers, in order of preference.
const (
	ProviderResend = "resend"
	ProviderSMTP   = "smtp"
	ProviderNone   = ""
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`
	AppURL      string `envconfig:"APP_URL" default:"http://localhost:8080"`

	// Storage
	DBPath         string `envconfig:"DB_PATH" default:"diario.db"`
	AudioDir       string `envconfig:"AUDIO_DIR" default:"data/audio"`
	MaxUploadBytes int    `envconfig:"MAX_UPLOAD_BYTES" default:"26214400"`

	// Dead man's switch
	CronSecret          string        `envconfig:"CRON_SECRET"`
	DeadmanMode         string        `envconfig:"DEADMAN_MODE" default:"staged"`
	DeadmanNotifyEmails string        `envconfig:"DEADMAN_NOTIFY_EMAILS"` // Comma-separated fallback recipients
	SchedulerInterval   time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"0"`

	// Email: Resend is preferred when both providers are configured
	ResendAPIKey    string        `envconfig:"RESEND_API_KEY"`
	ResendFromEmail string        `envconfig:"RESEND_FROM_EMAIL"`
	ResendBaseURL   string        `envconfig:"RESEND_BASE_URL" default:"https://api.resend.com"`
	SMTPHost        string        `envconfig:"SMTP_HOST"`
	SMTPPort        int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername    string        `envconfig:"SMTP_USERNAME"`
	SMTPPassword    string        `envconfig:"SMTP_PASSWORD"`
	SMTPFrom        string        `envconfig:"SMTP_FROM"`
	EmailTimeout    time.Duration `envconfig:"EMAIL_TIMEOUT" default:"15s"`

	// Transcription (Cloudflare Workers AI)
	CFAccountID        string `envconfig:"CF_ACCOUNT_ID"`
	CFAPIToken         string `envconfig:"CF_API_TOKEN"`
	CFBaseURL          string `envconfig:"CF_BASE_URL" default:"https://api.cloudflare.com/client/v4"`
	CFWhisperModel     string `envconfig:"CF_WHISPER_MODEL" default:"@cf/openai/whisper"`
	TranscribeLanguage string `envconfig:"TRANSCRIBE_LANGUAGE" default:"es"`

	// HTTP
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"20"`
	CORSOrigins    string  `envconfig:"CORS_ORIGINS"`
}

// ResendEnabled returns true if the Resend API is fully configured.
func (c *Config) ResendEnabled() bool {
	return c.ResendAPIKey != "" && c.ResendFromEmail != ""
}

// SMTPEnabled returns true if an SMTP relay is fully configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// EmailProvider returns the provider that outbound mail will use, or
// ProviderNone when neither is configured.
func (c *Config) EmailProvider() string {
	switch {
	case c.ResendEnabled():
		return ProviderResend
	case c.SMTPEnabled():
		return ProviderSMTP
	default:
		return ProviderNone
	}
}

// FromAddress returns the sender address of the active email provider.
func (c *Config) FromAddress() string {
	switch c.EmailProvider() {
	case ProviderResend:
		return c.ResendFromEmail
	case ProviderSMTP:
		return c.SMTPFrom
	default:
		return ""
	}
}

// TranscriptionEnabled returns true if Workers AI credentials are configured.
func (c *Config) TranscriptionEnabled() bool {
	return c.CFAccountID != "" && c.CFAPIToken != ""
}

// SchedulerEnabled returns true if the in-process trigger should run.
func (c *Config) SchedulerEnabled() bool {
	return c.SchedulerInterval > 0
}

// NotifyEmailList returns the parsed fallback recipient list.
func (c *Config) NotifyEmailList() []string {
	return SplitList(c.DeadmanNotifyEmails)
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.DeadmanMode))
	if mode != ModeStaged && mode != ModeBinary {
		return fmt.Errorf("DEADMAN_MODE must be %q or %q, got %q", ModeStaged, ModeBinary, c.DeadmanMode)
	}
	c.DeadmanMode = mode
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// SplitList splits a comma-separated list, trimming blanks and dropping
// empty and duplicate entries. Order of first occurrence is kept.
func SplitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
