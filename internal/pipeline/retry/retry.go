// Package retry implements bounded exponential backoff with jitter
// around a single call boundary. The policy is stateless across
// messages; attempt counts and delays are inspectable so tests never
// have to time the real clock.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy defines retry behavior: delay = base * 2^attempt + jitter,
// capped at MaxDelay and MaxAttempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Sleep and Jitter are injectable for deterministic tests. Nil
	// means time.Sleep honoring ctx, and uniform jitter up to BaseDelay.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(max time.Duration) time.Duration
}

// ExhaustedError reports that every attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do invokes fn until it succeeds, fails non-retryably, or the attempt
// budget runs out. retryable decides which errors are worth another
// attempt; a non-retryable error is returned as-is with the attempt
// count so far. Exhaustion returns an *ExhaustedError.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool) (int, error) {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}

		lastErr = err
		if !retryable(err) {
			return attempt + 1, err
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		if err := p.sleep(ctx, p.Delay(attempt)); err != nil {
			return attempt + 1, err
		}
	}

	return p.MaxAttempts, &ExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}

// Delay returns the backoff before the next attempt after the given
// zero-based attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay) + p.jitter(p.BaseDelay)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (p Policy) jitter(max time.Duration) time.Duration {
	if p.Jitter != nil {
		return p.Jitter(max)
	}
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
