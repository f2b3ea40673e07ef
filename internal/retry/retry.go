// Package retry computes exponential backoff and runs retried calls.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy is an exponential backoff schedule. Attempts counts every try,
// the first one included.
type Policy struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`

	// Retryable reports whether err is worth another try. Nil retries everything.
	Retryable func(error) bool `yaml:"-"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 2 * time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
	}
}

// Normalize fills zero fields from DefaultPolicy.
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Backoff returns the wait after the given attempt (1-based).
func Backoff(attempt int, p Policy) time.Duration {
	if attempt <= 1 {
		return p.InitialInterval
	}
	interval := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if interval > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(interval)
}

// Do calls fn until it succeeds, the policy runs out of attempts, fn returns
// a non-retryable error or ctx ends. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		t := time.NewTimer(Backoff(attempt, p))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}
