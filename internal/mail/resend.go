package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	derrors "github.com/uveral/diario/internal/errors"
	"github.com/uveral/diario/internal/retry"
)

// ResendConfig configures the Resend API sender.
type ResendConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Retry   retry.Config

	// Consecutive failures before the breaker opens, and how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// ResendSender sends email through the Resend HTTP API.
type ResendSender struct {
	apiKey  string
	baseURL string
	client  *http.Client
	retry   retry.Config
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// NewResendSender creates a Resend sender guarded by a circuit breaker.
func NewResendSender(cfg ResendConfig, logger zerolog.Logger) *ResendSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	logger = logger.With().Str("component", "mail").Str("provider", "resend").Logger()
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying email send")
		}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "resend",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Rejected messages say nothing about the API's health.
			return err == nil || !derrors.IsRetryable(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &ResendSender{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		retry:   cfg.Retry,
		breaker: breaker,
		logger:  logger,
	}
}

// Send delivers msg, retrying transient failures.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, retry.Do(ctx, s.retry, func(ctx context.Context) error {
			return s.post(ctx, msg)
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: resend circuit open", derrors.ErrUnavailable)
	}
	return err
}

func (s *ResendSender) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(resendRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: resend: %v", derrors.ErrTimeout, err)
		}
		return fmt.Errorf("%w: resend send: %v", derrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return derrors.FromResponse("resend", resp, raw)
	}

	var out resendResponse
	_ = json.Unmarshal(raw, &out)

	s.logger.Info().
		Str("message_id", out.ID).
		Int("recipients", len(msg.To)).
		Str("subject", msg.Subject).
		Msg("email sent")
	return nil
}
