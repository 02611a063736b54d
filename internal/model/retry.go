package model

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how a raw backend call is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// MaxElapsed caps total time spent retrying; zero means no cap.
	MaxElapsed time.Duration
	// Retryable decides whether an error gets another attempt. Nil uses
	// the package-level Retryable.
	Retryable func(error) bool
	Logger    *slog.Logger
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     10,
		InitialInterval: 4 * time.Second,
		MaxInterval:     60 * time.Second,
		Multiplier:      2,
	}
}

// Do runs op until it succeeds, fails permanently, runs out of attempts or
// ctx is done. The last error is returned unchanged.
func Do[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = Retryable
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}

	attempt := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("model query failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		}),
		// backoff applies its own 15 minute cap unless told otherwise.
		backoff.WithMaxElapsedTime(p.MaxElapsed),
	}
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return v, err
}
