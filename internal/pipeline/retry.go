package pipeline

import (
	"context"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
)

// RetryPolicy bounds how transient stage failures are retried: up to
// MaxAttempts total attempts with exponential backoff between them, starting
// at BaseDelay and capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// withDefaults fills in unset fields.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// delay computes the backoff before the given retry attempt (attempt 2 is
// the first retry). The delay doubles per attempt up to the cap.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// wait sleeps the backoff for the given attempt, returning early with the
// context error if the run is canceled meanwhile.
func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	select {
	case <-time.After(p.delay(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
