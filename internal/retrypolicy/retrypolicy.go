// Package retrypolicy decorates a fallible operation with a bounded attempt
// count, exponential backoff, and one of two exhaustion behaviors: surface
// the underlying error as a permanent failure, or wrap it in a
// StateRetryError signaling the caller to degrade rather than abort.
//
// Retry is always bounded; nothing in this package retries forever.
package retrypolicy

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retryable marks err as transient so Policy.Do retries the operation.
// Errors returned unwrapped are treated as permanent and stop retry
// immediately — callers must opt in to retrying.
func Retryable(err error) error {
	return retry.RetryableError(err)
}

// OnRetry is called before each backoff sleep with the attempt number
// (1-based), the operation name, and the error that triggered the retry.
type OnRetry func(attempt int, op string, err error)

// Policy is a bounded, exponential-backoff retry wrapper.
type Policy struct {
	backoff     retry.Backoff
	onRetry     OnRetry
	maxAttempts uint64
}

// Config tunes a Policy.
type Config struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	OnRetry     OnRetry
}

// New builds a Policy from cfg.
func New(cfg Config) (*Policy, error) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	b, err := retry.NewExponential(cfg.BaseDelay)
	if err != nil {
		return nil, fmt.Errorf("building exponential backoff: %w", err)
	}
	b = retry.WithCappedDuration(cfg.MaxDelay, b)
	b = retry.WithMaxRetries(cfg.MaxAttempts-1, b)

	return &Policy{backoff: b, onRetry: cfg.OnRetry, maxAttempts: cfg.MaxAttempts}, nil
}

// Do runs fn, retrying while fn returns a Retryable error, up to the
// policy's bounded attempt count. The raw final error (retryable or not) is
// returned on exhaustion or permanent failure.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	var lastErr error
	// retry.Do only asks the backoff for a delay after a Retryable error, so
	// hooking Next calls onRetry exactly once before each backoff sleep.
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := p.backoff.Next()
		if !stop && p.onRetry != nil {
			p.onRetry(attempt, op, lastErr)
		}
		return d, stop
	})
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		lastErr = fn(ctx)
		return lastErr
	})
}

// DoOrFail runs fn and, on exhaustion, wraps the error with the operation
// name — the "operation permanently failed" exhaustion flavor (spec §4.2
// on_fail).
func (p *Policy) DoOrFail(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := p.Do(ctx, op, fn); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DoOrDegrade runs fn and, on exhaustion, wraps the error in a
// StateRetryError — the "state-level failed" exhaustion flavor (spec §4.2
// on_state_fail) that signals the lifecycle engine to degrade the job
// rather than abort the round.
func (p *Policy) DoOrDegrade(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := p.Do(ctx, op, fn); err != nil {
		return &StateRetryError{Op: op, Err: err}
	}
	return nil
}
