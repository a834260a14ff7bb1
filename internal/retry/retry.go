// Package retry re-runs outbound API calls that fail transiently.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	derrors "github.com/uveral/diario/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig returns the policy used for email and transcription calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. A server-provided Retry-After overrides the backoff,
// capped at MaxDelay.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := max(cfg.MaxAttempts, 1)

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= attempts || !derrors.IsRetryable(err) {
			return err
		}

		wait := Wait(cfg, attempt, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Wait returns the pause after the given failed attempt (1-based).
func Wait(cfg Config, attempt int, err error) time.Duration {
	var apiErr *derrors.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return capDelay(apiErr.RetryAfter, cfg.MaxDelay)
	}

	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
	delay = capDelay(delay, cfg.MaxDelay)
	if cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}

func capDelay(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
