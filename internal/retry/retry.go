// Package retry runs calls against hosted services with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps a single delay.
	Max time.Duration
}

// Default is three attempts starting at 200ms, capped at 5s.
var Default = Policy{Attempts: 3, Initial: 200 * time.Millisecond, Max: 5 * time.Second}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = Default.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = Default.Initial
	}
	if p.Max <= 0 {
		p.Max = Default.Max
	}
	return p
}

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a Permanent error, the attempt
// budget is spent, or ctx is done. It returns the last error seen, or the
// context error when ctx ends the loop.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.MaxInterval = p.Max
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)
	return backoff.Retry(func() error { return op(ctx) }, b)
}
