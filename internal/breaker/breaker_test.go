package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream boom")

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(&Config{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
		MaxRetries:       1,
	})

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("attempt %d rejected while closed: %v", i, err)
		}
		b.Failure()
	}

	if err := b.Allow(); err != ErrOpen {
		t.Errorf("expected ErrOpen after threshold, got %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("expected state open, got %v", got)
	}
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b := New(&Config{
		FailureThreshold: 1,
		Cooldown:         20 * time.Millisecond,
		MaxRetries:       1,
	})

	b.Allow()
	b.Failure()
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("expected ErrOpen during cooldown, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	// Exactly one trial is allowed through after the cooldown.
	if err := b.Allow(); err != nil {
		t.Fatalf("expected trial allowed after cooldown, got %v", err)
	}
	if err := b.Allow(); err != ErrOpen {
		t.Errorf("expected second concurrent trial rejected, got %v", err)
	}
}

func TestBreaker_TrialSuccessResets(t *testing.T) {
	b := New(&Config{
		FailureThreshold: 2,
		Cooldown:         10 * time.Millisecond,
		MaxRetries:       1,
	})

	b.Allow()
	b.Failure()
	b.Allow()
	b.Failure()

	time.Sleep(20 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected trial allowed, got %v", err)
	}
	b.Success()

	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed after trial success, got %v", got)
	}

	// Failure count must be back to zero: one failure must not reopen.
	b.Allow()
	b.Failure()
	if err := b.Allow(); err != nil {
		t.Errorf("expected closed after single failure post-reset, got %v", err)
	}
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	b := New(&Config{
		FailureThreshold: 1,
		Cooldown:         20 * time.Millisecond,
		MaxRetries:       1,
	})

	b.Allow()
	b.Failure()
	time.Sleep(30 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected trial allowed, got %v", err)
	}
	b.Failure()

	if err := b.Allow(); err != ErrOpen {
		t.Errorf("expected reopened breaker to reject, got %v", err)
	}
}

func TestBreaker_DoRetriesThenFails(t *testing.T) {
	b := New(&Config{
		FailureThreshold: 10,
		Cooldown:         time.Minute,
		MaxRetries:       3,
		RetryBackoff:     time.Millisecond,
	})

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errUpstream
	})

	if !errors.Is(err, errUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestBreaker_DoStopsOnNonRetryable(t *testing.T) {
	b := New(&Config{
		FailureThreshold: 10,
		Cooldown:         time.Minute,
		MaxRetries:       5,
		Retryable:        func(err error) bool { return false },
	})

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errUpstream
	})

	if !errors.Is(err, errUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt for non-retryable error, got %d", calls)
	}
}

func TestBreaker_DoRejectsWhenOpen(t *testing.T) {
	b := New(&Config{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		MaxRetries:       3,
	})

	b.Allow()
	b.Failure()

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no attempts while open, got %d", calls)
	}
}
