package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingRunner(p Policy) (*Runner, *[]time.Duration) {
	var sleeps []time.Duration
	r := New(p, WithSleep(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}))
	return r, &sleeps
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	p := DefaultPolicy()
	prev := time.Duration(0)
	for n := 0; n < 12; n++ {
		d := p.Backoff(n)
		if d < prev {
			t.Fatalf("backoff(%d)=%v decreased from %v", n, d, prev)
		}
		if d > p.MaxDelay {
			t.Fatalf("backoff(%d)=%v exceeds cap %v", n, d, p.MaxDelay)
		}
		prev = d
	}
	if got := p.Backoff(0); got != time.Second {
		t.Fatalf("backoff(0)=%v, want 1s", got)
	}
	if got := p.Backoff(1); got != 2*time.Second {
		t.Fatalf("backoff(1)=%v, want 2s", got)
	}
	if got := p.Backoff(10); got != p.MaxDelay {
		t.Fatalf("backoff(10)=%v, want cap %v", got, p.MaxDelay)
	}
}

func TestDoSuccessFirstTry(t *testing.T) {
	r, sleeps := recordingRunner(DefaultPolicy())
	calls := 0
	err := r.Do(context.Background(), func(error) bool { return true }, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || len(*sleeps) != 0 {
		t.Fatalf("calls=%d sleeps=%d, want 1 and 0", calls, len(*sleeps))
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	r, sleeps := recordingRunner(DefaultPolicy())
	boom := errors.New("bad request")
	calls := 0
	err := r.Do(context.Background(), func(error) bool { return false }, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if calls != 1 || len(*sleeps) != 0 {
		t.Fatalf("calls=%d sleeps=%d, want exactly one attempt and no sleeps", calls, len(*sleeps))
	}
}

func TestDoRetryableExhaustsBudget(t *testing.T) {
	p := DefaultPolicy()
	r, sleeps := recordingRunner(p)
	boom := errors.New("throttled")
	calls := 0
	err := r.Do(context.Background(), func(error) bool { return true }, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if calls != p.MaxRetries+1 {
		t.Fatalf("calls=%d, want maxRetries+1=%d", calls, p.MaxRetries+1)
	}
	// Total sleep equals the sum of backoff(i) for i=0..n-1, capped terms.
	if len(*sleeps) != p.MaxRetries {
		t.Fatalf("sleeps=%d, want %d", len(*sleeps), p.MaxRetries)
	}
	for i, d := range *sleeps {
		if want := p.Backoff(i); d != want {
			t.Fatalf("sleep[%d]=%v, want %v", i, d, want)
		}
	}
}

func TestDoRecoversAfterRetries(t *testing.T) {
	r, sleeps := recordingRunner(DefaultPolicy())
	calls := 0
	err := r.Do(context.Background(), func(error) bool { return true }, func(context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("throttled")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
	got := *sleeps
	if len(got) != 2 || got[0] >= got[1] {
		t.Fatalf("want 2 sleeps of increasing duration, got %v", got)
	}
}

func TestDoHonorsCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(DefaultPolicy(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	calls := 0
	err := r.Do(ctx, func(error) bool { return true }, func(context.Context) error {
		calls++
		return errors.New("throttled")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want no attempts after cancellation", calls)
	}
}

func TestOnRetryHook(t *testing.T) {
	fired := 0
	r := New(DefaultPolicy(),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithOnRetry(func(int, error) { fired++ }),
	)
	_ = r.Do(context.Background(), func(error) bool { return true }, func(context.Context) error {
		return errors.New("throttled")
	})
	if fired != DefaultPolicy().MaxRetries {
		t.Fatalf("onRetry fired %d times, want %d", fired, DefaultPolicy().MaxRetries)
	}
}
