package client

import (
	"context"
	"math"
	"time"
)

// Decision is the outcome of consulting a Policy after a failed attempt.
// It is either Retry or GiveUp.
type Decision interface {
	decision()
}

// Retry asks the caller to wait Delay and try again.
type Retry struct {
	Delay time.Duration
}

// GiveUp asks the caller to stop and return Err.
type GiveUp struct {
	Err error
}

func (Retry) decision()  {}
func (GiveUp) decision() {}

// Policy is exponential backoff with base 2 and no jitter or cap: after the
// failed attempt k (0-indexed) the caller waits Base * 2^k.
type Policy struct {
	MaxAttempts int
	Base        time.Duration

	// Retryable filters which errors get another attempt. Defaults to
	// IsTransient.
	Retryable func(error) bool
}

func DefaultPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Base:        time.Second,
		Retryable:   IsTransient,
	}
}

// Decide is pure: the same attempt and error always yield the same decision.
func (p Policy) Decide(attempt int, err error) Decision {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	if !retryable(err) {
		return GiveUp{Err: err}
	}

	if attempt+1 >= p.MaxAttempts {
		return GiveUp{Err: &RequestExhaustedError{Attempts: attempt + 1, Last: err}}
	}

	return Retry{Delay: p.Delay(attempt)}
}

// Delay returns Base * 2^attempt, saturating instead of overflowing.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}

	factor := math.Exp2(float64(attempt))
	delay := float64(base) * factor
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
