// Package mail delivers transactional email through Resend or an SMTP relay.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/uveral/diario/internal/config"
	derrors "github.com/uveral/diario/internal/errors"
)

// Message is a single HTML email.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

// Validate checks the fields every provider requires.
func (m Message) Validate() error {
	if m.From == "" {
		return fmt.Errorf("%w: message has no sender", derrors.ErrInvalidInput)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("%w: message has no recipients", derrors.ErrInvalidInput)
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: message has no subject", derrors.ErrInvalidInput)
	}
	return nil
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ErrNoProvider is returned by New when no provider is configured.
var ErrNoProvider = fmt.Errorf("%w: no email provider", derrors.ErrNotConfigured)

// New returns the sender for the configured provider.
func New(cfg *config.Config, logger zerolog.Logger) (Sender, error) {
	switch cfg.EmailProvider() {
	case config.ProviderResend:
		return NewResendSender(ResendConfig{
			APIKey:  cfg.ResendAPIKey,
			BaseURL: cfg.ResendBaseURL,
			Timeout: cfg.EmailTimeout,
		}, logger), nil
	case config.ProviderSMTP:
		return NewSMTPSender(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Timeout:  cfg.EmailTimeout,
		}, logger), nil
	default:
		return nil, ErrNoProvider
	}
}

// IsNoProvider reports whether err means email is simply not configured.
func IsNoProvider(err error) bool {
	return errors.Is(err, ErrNoProvider)
}
