package checkout

import (
	"context"
	"time"
)

// RetryPolicy bounds the checkout-link status poll: a fixed number of
// attempts with a fixed inter-attempt delay. Sleep is injectable so tests
// can run the loop against a fake clock instead of real timers.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       func(time.Duration)
}

func NewRetryPolicy(maxAttempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Delay:       delay,
		Sleep:       time.Sleep,
	}
}

// Wait blocks for one inter-attempt delay, or returns false immediately if
// the context is already done.
func (p RetryPolicy) Wait(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if p.Delay > 0 {
		p.Sleep(p.Delay)
	}
	return ctx.Err() == nil
}
