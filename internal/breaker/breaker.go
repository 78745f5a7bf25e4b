// Package breaker implements the circuit breaker that shields a long import
// run from a degraded upstream. It converts a slow death-by-timeouts into a
// fast, cheap failure the job processor can checkpoint and exit from.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("circuit breaker open")

// State represents the breaker state.
type State int

const (
	// StateClosed passes calls through and counts failures.
	StateClosed State = iota
	// StateOpen rejects calls immediately, no network attempt made.
	StateOpen
	// StateHalfOpen allows exactly one trial call after the cooldown.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before allowing a trial.
	Cooldown time.Duration
	// MaxRetries bounds the per-call retry loop in Do. Retries happen inside
	// Closed/HalfOpen; the breaker state only governs whether an attempt is
	// allowed at all.
	MaxRetries int
	// RetryBackoff is the base delay between retries in Do, doubled per attempt.
	RetryBackoff time.Duration
	// Retryable classifies whether an error is worth retrying. nil retries
	// every error.
	Retryable func(error) bool
}

// DefaultConfig returns sensible defaults.
// Parameters: none.
// Returns:
//   - *Config: default breaker configuration.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxRetries:       3,
		RetryBackoff:     500 * time.Millisecond,
	}
}

// Breaker tracks consecutive upstream failures across the lifetime of one
// job run. Safe for concurrent use by the batches of one run.
type Breaker struct {
	cfg *Config

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	trialPending bool
}

// New creates a Breaker in the closed state.
// Parameters:
//   - cfg: breaker configuration; nil uses DefaultConfig.
// Returns:
//   - *Breaker: initialized breaker.
func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// State returns the current breaker state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether one more upstream attempt may be made.
// Parameters: none.
// Returns:
//   - error: ErrOpen when the call must be rejected without attempting it.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		// Cooldown elapsed: exactly one trial call goes through.
		b.state = StateHalfOpen
		b.trialPending = true
		return nil
	case StateHalfOpen:
		if b.trialPending {
			return ErrOpen
		}
		b.trialPending = true
		return nil
	}
	return nil
}

// Success records a successful call, resetting to closed and clearing the
// failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trialPending = false
}

// Failure records a failed call. In half-open it reopens with a fresh
// cooldown; in closed it opens once the threshold is crossed.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.trialPending = false
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// Do runs fn through the breaker with the configured bounded retry.
// Parameters:
//   - ctx: context for cancellation between retries.
//   - fn: the upstream call to execute.
// Returns:
//   - error: nil on success; ErrOpen if no attempt was allowed; otherwise
//     the last attempt's error.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < b.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Allow(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			b.Success()
			return nil
		}

		b.Failure()
		lastErr = err

		if b.cfg.Retryable != nil && !b.cfg.Retryable(err) {
			return err
		}

		if attempt < b.cfg.MaxRetries-1 && b.cfg.RetryBackoff > 0 {
			backoff := b.cfg.RetryBackoff << attempt
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	return lastErr
}
