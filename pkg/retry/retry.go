package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-logr/logr"
)

const (
	DefaultAttempts = 3
	DefaultTimeout  = 2 * time.Second
)

// Policy bounds a single logical call: at most MaxAttempts sequential attempts, each one
// under its own Timeout. There is no delay between attempts.
type Policy struct {
	MaxAttempts int
	Timeout     time.Duration
}

var DefaultPolicy = Policy{MaxAttempts: DefaultAttempts, Timeout: DefaultTimeout}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// WithAttempts returns a copy of the policy with a different attempt budget.
// Zero or negative values keep the current budget.
func (p Policy) WithAttempts(n int) Policy {
	if n > 0 {
		p.MaxAttempts = n
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.MaxAttempts <= 1 {
		b = &backoff.StopBackOff{}
	} else {
		b = backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Do calls fn until it succeeds, returns a terminal error or the attempt budget is spent.
// Errors that are neither transient nor terminal are retried. Every failure is reported as
// a *FailureReport wrapping the last error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	log := logr.FromContextOrDiscard(ctx)

	var result T
	var last error
	attempts := 0

	operation := func() error {
		if err := ctx.Err(); err != nil {
			last = err
			return backoff.Permanent(err)
		}
		attempts++
		actx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		v, err := fn(actx)
		if err == nil {
			result = v
			return nil
		}
		last = err
		if IsTerminal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, _ time.Duration) {
		log.V(1).Info("Retrying", "attempt", attempts, "max_attempts", p.MaxAttempts, "error", err.Error())
	}

	if err := backoff.RetryNotify(operation, p.backOff(ctx), notify); err != nil {
		var zero T
		if last == nil {
			last = err
		}
		return zero, &FailureReport{Attempts: attempts, Last: last}
	}
	return result, nil
}

// Run is Do for calls that only report an error.
func Run(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
