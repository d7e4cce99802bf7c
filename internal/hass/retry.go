package hass

import (
	"context"
	"time"
)

// RetryPolicy is a bounded exponential backoff.
//
// Do runs an operation at most MaxRetries+1 times. Before retry n (1-based)
// it waits InitialDelay * Multiplier^(n-1): with the defaults that is 1s, 2s
// then 4s.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64

	// Sleep waits for d or until ctx is done. Tests replace it to record
	// delays without waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 retries at 1s, 2s and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
}

// Delays lists the waits Do performs when every attempt fails.
func (p RetryPolicy) Delays() []time.Duration {
	if p.MaxRetries <= 0 {
		return nil
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delays := make([]time.Duration, p.MaxRetries)
	d := p.InitialDelay
	for i := range delays {
		delays[i] = d
		d = time.Duration(float64(d) * mult)
	}
	return delays
}

// Do calls op until it succeeds, the retries are spent, or ctx is done.
// It returns nil on success, otherwise the last error from op (or the
// context error if cancelled while waiting).
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delays := p.Delays()
	var err error
	for attempt := 0; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt >= len(delays) {
			return err
		}
		if serr := sleep(ctx, delays[attempt]); serr != nil {
			return serr
		}
	}
}

// sleepContext waits for d or ctx, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
