package coreerrors

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures exponential backoff retry.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// GitBackendRetryConfig is the spec.md §7 policy: retry a wedged git
// subprocess-equivalent call once before surfacing GitBackendError.
func GitBackendRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   1,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		Multiplier:   1,
	}
}

// Retry runs fn with exponential backoff, honoring context cancellation.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err != nil {
			lastErr = err
			if attempt >= cfg.MaxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// MatrixServiceBackoff is the fixed schedule spec.md §4.1 mandates for the
// projection-service auto-start probe: {100,200,400,800,1600,1900}ms,
// six attempts totalling no more than 5s.
var MatrixServiceBackoff = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
	1900 * time.Millisecond,
}

// RetrySchedule runs fn once per delay in schedule (delay first, then call),
// returning nil on the first success. Used where the spec names an explicit
// delay sequence rather than a multiplier.
func RetrySchedule(ctx context.Context, schedule []time.Duration, fn func() error) error {
	var lastErr error
	for _, delay := range schedule {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", len(schedule), lastErr)
}
