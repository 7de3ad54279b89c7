package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff defines retry backoff behavior.
type Backoff struct {
	// Min is the first retry delay.
	Min time.Duration
	// Max caps the delay.
	Max time.Duration
	// Factor multiplies the delay for each retry attempt.
	Factor float64
	// Jitter adds randomization as a fraction of the delay (0-1).
	Jitter float64
}

// Default provides conservative retry defaults for exchange calls.
func Default() Backoff {
	return Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay before the given retry attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time WaitFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn until it succeeds, fails with an error retryable rejects,
// or maxRetries retries have been spent. It returns the number of calls made
// and the last error.
func Retry(ctx context.Context, b Backoff, maxRetries int, retryable func(error) bool, wait WaitFunc, fn func(context.Context) error) (int, error) {
	if wait == nil {
		wait = Sleep
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	var err error
	attempts := 0
	for {
		attempts++
		if err = fn(ctx); err == nil {
			return attempts, nil
		}
		if attempts > maxRetries || retryable == nil || !retryable(err) {
			return attempts, err
		}
		if werr := wait(ctx, b.Next(attempts)); werr != nil {
			return attempts, err
		}
	}
}
