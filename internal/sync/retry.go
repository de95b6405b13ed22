package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JohanCodinha/prcache/internal/github"
)

// retryState is the explicit state of one fetch retry loop. Modeling
// the loop as a state machine keeps attempt counts and delays directly
// testable.
type retryState int

const (
	stateAttempting retryState = iota
	stateBackingOff
	stateRetrying
	stateExhausted
)

// Retrier runs a fetch operation with bounded exponential backoff.
// Rate-limit errors honor the server's retry-after hint when it exceeds
// the computed backoff; fatal errors (bad credentials, missing
// repository) are returned immediately.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep can be replaced in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a retrier with the default budget.
func NewRetrier() *Retrier {
	return &Retrier{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    2 * time.Minute,
		sleep:       sleepContext,
	}
}

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

// delayFor computes the backoff before the given retry (1-based),
// stretched to the server hint when one was provided.
func (r *Retrier) delayFor(retry int, err error) time.Duration {
	delay := r.BaseDelay << (retry - 1)
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}

	var rateLimited *github.RateLimitError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfter > delay {
		delay = rateLimited.RetryAfter
		if delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}
	return delay
}

// Do runs op until it succeeds, fails fatally, exhausts the attempt
// budget, or the context is cancelled.
func (r *Retrier) Do(ctx context.Context, op func() error) error {
	state := stateAttempting
	attempt := 0
	var lastErr error

	for {
		switch state {
		case stateAttempting, stateRetrying:
			if err := ctx.Err(); err != nil {
				return err
			}
			attempt++
			lastErr = op()
			if lastErr == nil {
				return nil
			}
			if github.IsFatal(lastErr) {
				return lastErr
			}
			if attempt >= r.MaxAttempts {
				state = stateExhausted
				continue
			}
			state = stateBackingOff

		case stateBackingOff:
			if err := r.sleep(ctx, r.delayFor(attempt, lastErr)); err != nil {
				return err
			}
			state = stateRetrying

		case stateExhausted:
			return fmt.Errorf("retries exhausted after %d attempts: %w", attempt, lastErr)
		}
	}
}
