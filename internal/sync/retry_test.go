package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/JohanCodinha/prcache/internal/github"
)

// newTestRetrier returns a retrier whose sleeps are recorded instead of
// performed.
func newTestRetrier() (*Retrier, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetrier()
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	r, slept := newTestRetrier()

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no sleeps", *slept)
	}
}

func TestDo_RetriesTransientErrorWithBackoff(t *testing.T) {
	r, slept := newTestRetrier()

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient network error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil after eventual success", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("backoff %d = %v, want %v (exponential)", i, (*slept)[i], d)
		}
	}
}

func TestDo_ExhaustsAttemptBudget(t *testing.T) {
	r, _ := newTestRetrier()

	calls := 0
	transient := fmt.Errorf("still failing")
	err := r.Do(context.Background(), func() error {
		calls++
		return transient
	})
	if err == nil {
		t.Fatal("Do returned nil, want exhaustion error")
	}
	if calls != r.MaxAttempts {
		t.Errorf("op called %d times, want %d", calls, r.MaxAttempts)
	}
	if !errors.Is(err, transient) {
		t.Errorf("exhaustion error %v does not wrap the last error", err)
	}
}

func TestDo_FatalErrorNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "unauthorized", err: github.ErrUnauthorized},
		{name: "not found", err: &github.NotFoundError{Repo: "org/gone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, slept := newTestRetrier()

			calls := 0
			err := r.Do(context.Background(), func() error {
				calls++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("Do returned %v, want the fatal error unchanged", err)
			}
			if calls != 1 {
				t.Errorf("op called %d times, want 1 (fatal errors are never retried)", calls)
			}
			if len(*slept) != 0 {
				t.Errorf("slept %v before a fatal error", *slept)
			}
		})
	}
}

func TestDo_RateLimitHintStretchesBackoff(t *testing.T) {
	r, slept := newTestRetrier()

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &github.RateLimitError{RetryAfter: 30 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 30*time.Second {
		t.Errorf("slept %v, want the 30s server hint over the 1s backoff", *slept)
	}
}

func TestDo_RateLimitHintCappedAtMaxDelay(t *testing.T) {
	r, slept := newTestRetrier()

	calls := 0
	_ = r.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &github.RateLimitError{RetryAfter: time.Hour}
		}
		return nil
	})
	if len(*slept) != 1 || (*slept)[0] != r.MaxDelay {
		t.Errorf("slept %v, want the hint capped at %v", *slept, r.MaxDelay)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	r := NewRetrier()
	r.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do returned %v, want context.Canceled from the backoff sleep", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times after cancellation, want 1", calls)
	}
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	r, _ := newTestRetrier()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Do(ctx, func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do returned %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("op called %d times on a cancelled context, want 0", calls)
	}
}

func TestDelayFor_ExponentialAndCapped(t *testing.T) {
	r := NewRetrier()
	transient := fmt.Errorf("transient")

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{retry: 1, want: time.Second},
		{retry: 2, want: 2 * time.Second},
		{retry: 3, want: 4 * time.Second},
		{retry: 10, want: r.MaxDelay},
	}
	for _, tt := range tests {
		if got := r.delayFor(tt.retry, transient); got != tt.want {
			t.Errorf("delayFor(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}
