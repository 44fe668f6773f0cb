// Package breaker implements a keyed circuit breaker registry. This file
// adds the retry executor layered on top of Execute: exponential backoff
// with jitter, bounded attempts, and fail-fast classification of errors
// that retrying cannot fix.
package breaker

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/juju/retry"
)

// Policy controls the retry schedule used by ExecuteRetry.
type Policy struct {
	// Attempts is the total number of tries, including the first call.
	Attempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor between retries.
	Multiplier float64
}

// DefaultPolicy matches the schedule used for ledger submissions:
// 3 attempts, 1s base, 30s cap, doubling.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// backoff returns the delay before retry number retryCount (1-based),
// growing exponentially from BaseDelay, capped at MaxDelay, with a
// +/-25% jitter so synchronized clients fan out.
func (p Policy) backoff(_ time.Duration, retryCount int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < retryCount; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	jitter := 0.75 + rand.Float64()*0.5
	next := time.Duration(d * jitter)
	if next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}

// ExecuteRetry runs fn under the breaker for key, retrying transient
// failures per the policy. Non-retryable errors (validation failures, open
// breaker rejections, fatal ledger errors) abort immediately. Cancelling
// ctx stops the schedule between attempts.
//
// isFatal, when non-nil, lets the caller veto retries for domain-specific
// errors on top of the built-in classification.
func (m *Manager) ExecuteRetry(ctx context.Context, key string, p Policy, isFatal func(error) bool, fn func(context.Context) error) error {
	p = p.withDefaults()
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return m.Execute(ctx, key, fn)
		},
		IsFatalError: func(err error) bool {
			if isFatal != nil && isFatal(err) {
				return true
			}
			return !Retryable(err)
		},
		NotifyFunc: func(lastError error, attempt int) {
			m.log.Debug().
				Str("breaker", key).
				Int("attempt", attempt).
				Err(lastError).
				Msg("retrying after transient failure")
		},
		Attempts:    p.Attempts,
		Delay:       p.BaseDelay,
		MaxDelay:    p.MaxDelay,
		BackoffFunc: p.backoff,
		Clock:       m.clk,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}
