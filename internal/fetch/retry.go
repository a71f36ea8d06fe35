package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// RetryPolicy bounds how often a failed fetch is repeated. Only errors that
// report Temporary() are retried.
type RetryPolicy struct {
	MaxAttempts int // <=1 means a single attempt
	Backoff     func(attempt int) time.Duration
	Clock       clock.Clock // nil means the wall clock
}

// ExponentialBackoff doubles initial after every failed attempt, capped at limit.
func ExponentialBackoff(initial, limit time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := initial
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= limit {
				return limit
			}
		}
		if d > limit {
			return limit
		}
		return d
	}
}

// Do calls fn until it succeeds, fails permanently, the attempts run out, or
// ctx is done. The last error from fn is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTemporary(err) || attempt == attempts {
			return err
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if wait <= 0 {
			continue
		}
		timer := clk.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// IsTemporary reports whether err carries a FetchError worth retrying.
func IsTemporary(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Temporary()
	}
	return false
}
