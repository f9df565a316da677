package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayStaysWithinCeiling(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, p.MaxDelay, "attempt %d", attempt)
		}
	}
}

func TestDelayCapsLargeAttempts(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 2 * time.Second}

	// Shifting far enough to overflow must still honor the cap.
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, p.Delay(80), p.MaxDelay)
	}
}

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := p.Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("dial refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	dialErr := errors.New("dial refused")
	calls := 0
	err := p.Retry(context.Background(), func(context.Context) error {
		calls++
		return dialErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, 4, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 100, BaseDelay: time.Hour, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Retry(ctx, func(context.Context) error {
		return errors.New("dial refused")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
