package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	derrors "github.com/uveral/diario/internal/errors"
)

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return derrors.NewAPIError("resend", 422, "validation_error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryableError_EventualSuccess(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return derrors.ErrTimeout
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_RetryableError_AllFail(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return derrors.NewAPIError("resend", 503, "unavailable")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ZeroAttemptsStillCallsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	err := Do(ctx, cfg, func(ctx context.Context) error {
		return derrors.ErrTimeout
	})
	assert.Error(t, err)
}

func TestDo_GenericNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return errors.New("generic error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWait_Backoff(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, Wait(cfg, 1, derrors.ErrTimeout))
	assert.Equal(t, 200*time.Millisecond, Wait(cfg, 2, derrors.ErrTimeout))
	assert.Equal(t, 300*time.Millisecond, Wait(cfg, 3, derrors.ErrTimeout))
}

func TestWait_Jitter(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: true}
	for i := 0; i < 20; i++ {
		d := Wait(cfg, 1, derrors.ErrTimeout)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestWait_RetryAfter(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Second, Jitter: true}

	err := derrors.NewAPIError("resend", 429, "slow down")
	err.RetryAfter = 2 * time.Second
	assert.Equal(t, 2*time.Second, Wait(cfg, 1, err))

	err.RetryAfter = time.Minute
	assert.Equal(t, 5*time.Second, Wait(cfg, 1, err))
}

func TestDo_OnRetry(t *testing.T) {
	var seen []int
	cfg := Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			seen = append(seen, attempt)
			assert.ErrorIs(t, err, derrors.ErrUnavailable)
			assert.Equal(t, time.Millisecond, wait)
		},
	}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		return derrors.ErrUnavailable
	})
	assert.ErrorIs(t, err, derrors.ErrUnavailable)
	assert.Equal(t, []int{1, 2}, seen)
}
