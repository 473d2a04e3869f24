package generator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig is the bounded-retry policy applied at the collaborator
// boundary. Retries apply only to transient failures; blocked content is
// never retried.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first
	MaxAttempts int

	// BaseDelay is the initial backoff; each attempt doubles it
	BaseDelay time.Duration
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Retrying wraps a Generator with the bounded-retry policy.
type Retrying struct {
	inner  Generator
	cfg    RetryConfig
	logger zerolog.Logger
}

// WithRetry wraps gen so transient provider failures are retried with
// exponential backoff before the error propagates.
func WithRetry(gen Generator, cfg RetryConfig, logger zerolog.Logger) *Retrying {
	return &Retrying{
		inner:  gen,
		cfg:    cfg,
		logger: logger.With().Str("component", "generator").Logger(),
	}
}

// Generate implements Generator.
func (r *Retrying) Generate(ctx context.Context, gc Context) (string, error) {
	delay := r.cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		text, err := r.inner.Generate(ctx, gc)
		if err == nil {
			return text, nil
		}

		// Blocked content will not improve on retry.
		if errors.Is(err, ErrContentBlocked) {
			return "", err
		}

		lastErr = err
		r.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", r.cfg.MaxAttempts).
			Msg("Generation failed, retrying")
	}

	return "", lastErr
}
