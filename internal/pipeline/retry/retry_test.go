package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func testPolicy(maxAttempts int) (Policy, *[]time.Duration) {
	var slept []time.Duration
	p := Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
		Jitter: func(time.Duration) time.Duration { return 0 },
	}
	return p, &slept
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p, slept := testPolicy(5)
	attempts, err := p.Do(context.Background(), func(ctx context.Context) error { return nil }, func(error) bool { return true })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no sleeps", *slept)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p, slept := testPolicy(5)
	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, func(err error) bool { return errors.Is(err, errTransient) })

	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", attempts, calls)
	}
	// base * 2^0, base * 2^1
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p, slept := testPolicy(4)
	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	}, func(error) bool { return true })

	if calls != 4 || attempts != 4 {
		t.Errorf("calls = %d, attempts = %d, want exactly 4", calls, attempts)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 4 {
		t.Errorf("ExhaustedError.Attempts = %d, want 4", exhausted.Attempts)
	}
	if !errors.Is(err, errTransient) {
		t.Error("ExhaustedError does not unwrap to the last error")
	}
	if len(*slept) != 3 {
		t.Errorf("slept %d times, want 3", len(*slept))
	}
}

func TestDoPermanentErrorBypassesRetry(t *testing.T) {
	p, slept := testPolicy(5)
	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errPermanent
	}, func(err error) bool { return errors.Is(err, errTransient) })

	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1", calls, attempts)
	}
	if !errors.Is(err, errPermanent) {
		t.Errorf("err = %v, want the permanent error unchanged", err)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want none", *slept)
	}
}

func TestDelayCapped(t *testing.T) {
	p := Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		Jitter:      func(time.Duration) time.Duration { return 0 },
	}
	if d := p.Delay(0); d != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", d)
	}
	if d := p.Delay(8); d != 5*time.Second {
		t.Errorf("Delay(8) = %v, want capped 5s", d)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
		Jitter: func(time.Duration) time.Duration { return 0 },
	}

	_, err := p.Do(ctx, func(ctx context.Context) error { return errTransient }, func(error) bool { return true })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
