package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for predictor and network calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// Jitter adds randomness to delay to prevent thundering herd.
	Jitter bool

	// OnlyRetryable stops retrying as soon as the error is classified
	// non-retryable (see IsRetryable). Plain errors are treated as
	// retryable so transport-level failures still back off.
	OnlyRetryable bool
}

// DefaultRetryConfig returns the retry configuration used for predictor calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

// shouldRetry reports whether another attempt is worthwhile for err.
func (cfg RetryConfig) shouldRetry(err error) bool {
	if !cfg.OnlyRetryable {
		return true
	}
	if le, ok := err.(*LoupeError); ok {
		return le.Retryable
	}
	return true
}

// nextDelay advances the backoff state and returns the wait for this attempt.
func (cfg RetryConfig) nextDelay(delay time.Duration) (wait, next time.Duration) {
	wait = delay
	if cfg.Jitter {
		// delay * (0.5 + rand(0, 0.5))
		wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	next = time.Duration(float64(delay) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return wait, next
}

// Retry executes fn with exponential backoff.
// It retries up to MaxRetries times while fn returns a retryable error.
// If the context is cancelled, the context error is returned immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes a function returning a value with retry logic.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt >= cfg.MaxRetries || !cfg.shouldRetry(err) {
			break
		}

		var wait time.Duration
		wait, delay = cfg.nextDelay(delay)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
