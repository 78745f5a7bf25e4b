// Package ratelimit implements the token-bucket limiter that protects the
// upstream catalog API. Callers are served strictly FIFO and are only ever
// delayed, never rejected.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config holds limiter configuration.
type Config struct {
	// MaxPerSecond is the token bucket refill rate and capacity.
	MaxPerSecond float64
	// MinGap is a hard minimum spacing between any two grants, enforced in
	// addition to the token bucket. Protects against bucket bursts violating
	// per-call spacing requirements some APIs impose.
	MinGap time.Duration
}

// DefaultConfig returns sensible defaults.
// Parameters: none.
// Returns:
//   - *Config: default limiter configuration (10 calls/s, 100ms gap).
func DefaultConfig() *Config {
	return &Config{
		MaxPerSecond: 10,
		MinGap:       100 * time.Millisecond,
	}
}

// Limiter enforces a maximum call rate and a minimum inter-call gap.
// A single drain goroutine serves queued waiters one at a time, which keeps
// the grant order FIFO without any shared mutable counters.
type Limiter struct {
	maxPerSecond float64
	minGap       time.Duration

	queue chan chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Limiter and starts its drain loop.
// Parameters:
//   - cfg: limiter configuration; nil uses DefaultConfig.
// Returns:
//   - *Limiter: running limiter instance.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxPerSecond := cfg.MaxPerSecond
	if maxPerSecond <= 0 {
		maxPerSecond = 1
	}

	l := &Limiter{
		maxPerSecond: maxPerSecond,
		minGap:       cfg.MinGap,
		queue:        make(chan chan struct{}, 1024),
		done:         make(chan struct{}),
	}
	go l.drain()
	return l
}

// Acquire blocks until it is safe to issue one more upstream call.
// Parameters:
//   - ctx: context for cancellation.
// Returns:
//   - error: non-nil only when ctx is cancelled before the grant.
func (l *Limiter) Acquire(ctx context.Context) error {
	// Buffered so the drain loop never blocks granting a waiter that
	// abandoned the queue after cancellation.
	ready := make(chan struct{}, 1)

	select {
	case l.queue <- ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

// Close stops the drain loop. Pending waiters receive ErrClosed.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

// drain serves queued requests one at a time: refill tokens from elapsed
// wall-clock time, sleep out the remainder of the minimum gap, sleep until a
// token is available, consume one token, release the waiter.
func (l *Limiter) drain() {
	var (
		tokens     = l.maxPerSecond
		lastRefill = time.Now()
		lastGrant  time.Time
	)

	refill := func() {
		now := time.Now()
		elapsed := now.Sub(lastRefill).Seconds()
		tokens += elapsed * l.maxPerSecond
		if tokens > l.maxPerSecond {
			tokens = l.maxPerSecond
		}
		lastRefill = now
	}

	for {
		select {
		case <-l.done:
			return
		case ready := <-l.queue:
			refill()

			if l.minGap > 0 && !lastGrant.IsZero() {
				if wait := l.minGap - time.Since(lastGrant); wait > 0 {
					if !l.sleep(wait) {
						return
					}
					refill()
				}
			}

			for tokens < 1 {
				// Sleep exactly long enough for one token to accrue.
				deficit := 1 - tokens
				wait := time.Duration(deficit / l.maxPerSecond * float64(time.Second))
				if !l.sleep(wait) {
					return
				}
				refill()
			}

			tokens--
			lastGrant = time.Now()
			ready <- struct{}{}
		}
	}
}

// sleep waits for d unless the limiter is closed first.
func (l *Limiter) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-l.done:
		return false
	}
}
