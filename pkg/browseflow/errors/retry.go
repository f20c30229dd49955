package errors

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often and how quickly a failing step is repeated.
type RetryPolicy struct {
	// Attempts counts the first call. Values below one mean one.
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Multiplier float64
	// Jitter spreads each wait by up to this fraction either way.
	Jitter float64

	// ShouldRetry replaces Retryable when set.
	ShouldRetry func(error) bool
}

// DefaultPolicy is used for planner calls.
var DefaultPolicy = RetryPolicy{
	Attempts:   3,
	Backoff:    500 * time.Millisecond,
	MaxBackoff: 10 * time.Second,
	Multiplier: 2,
	Jitter:     0.1,
}

// Once runs a step a single time.
var Once = RetryPolicy{Attempts: 1}

// WithAttempts returns a copy of p allowing n attempts.
func (p RetryPolicy) WithAttempts(n int) RetryPolicy {
	p.Attempts = max(n, 1)
	return p
}

// delay is the wait before attempt n+1, n counting from one.
func (p RetryPolicy) delay(n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.Backoff) * math.Pow(mult, float64(n-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Outcome is what Do produced.
type Outcome[T any] struct {
	Value    T
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// Do calls fn until it succeeds, fails with an error the policy will not
// retry, runs out of attempts or ctx ends. A failed Outcome carries a
// *Decided error naming op; running out of attempts decides GiveUp.
func Do[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) Outcome[T] {
	start := time.Now()
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = Retryable
	}
	attempts := max(p.Attempts, 1)

	out := Outcome[T]{}
	for out.Attempts < attempts {
		if err := ctx.Err(); err != nil {
			out.Err = &Decided{Err: err, Disposition: GiveUp, Op: op, Attempts: out.Attempts}
			break
		}
		out.Attempts++
		v, err := fn(ctx)
		if err == nil {
			out.Value = v
			out.Err = nil
			break
		}
		d := &Decided{Err: err, Disposition: Classify(err), Op: op, Attempts: out.Attempts}
		out.Err = d
		if !shouldRetry(err) {
			break
		}
		if out.Attempts == attempts {
			d.Disposition = GiveUp
			break
		}

		t := time.NewTimer(p.delay(out.Attempts))
		select {
		case <-ctx.Done():
			t.Stop()
			out.Err = &Decided{Err: ctx.Err(), Disposition: GiveUp, Op: op, Attempts: out.Attempts}
			out.Elapsed = time.Since(start)
			return out
		case <-t.C:
		}
	}
	out.Elapsed = time.Since(start)
	return out
}
