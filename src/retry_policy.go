package main

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy runs an operation up to MaxAttempts times with a fixed Delay
// between failed attempts
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do calls fn until it succeeds, the attempts are used up, or ctx is done.
// fn receives the 1-based attempt number. The delay is only waited between
// attempts, never after the last one.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return fmt.Errorf("cancelled after %d attempts: %w", attempt, lastErr)
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

// WorstCase returns the longest Do can block when each attempt takes at most perAttempt
func (p RetryPolicy) WorstCase(perAttempt time.Duration) time.Duration {
	attempts := max(p.MaxAttempts, 1)
	return time.Duration(attempts)*perAttempt + time.Duration(attempts-1)*p.Delay
}
