package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultBase is the exponent base for the backoff schedule. delay(n) =
// base^n seconds, no jitter; callers that need jitter add it themselves.
const DefaultBase = 2

// DefaultMaxAttempts bounds the retry budget when Options does not
// override it.
const DefaultMaxAttempts = 3

// DefaultRateLimitCooldown is the extra wait added on top of the
// standard backoff after a RateLimited failure when Options does not
// override it. Rate-limited providers need a longer pause than plain
// network flakiness or the retry just burns budget against the limiter.
const DefaultRateLimitCooldown = 30 * time.Second

// Delay maps a 1-based attempt number to the wait before the next
// attempt. Shared by the retry executor and by upload-status polling
// loops so both run on one tested schedule.
func Delay(attempt int) time.Duration {
	return DelayWithBase(attempt, DefaultBase)
}

func DelayWithBase(attempt, base int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= time.Duration(base)
	}
	return d
}

// Class tells the executor how to treat a failure.
type Class int

const (
	// Permanent failures return immediately without consuming budget.
	Permanent Class = iota
	// Transient failures retry under the standard backoff.
	Transient
	// RateLimited failures retry with an extra fixed cooldown on top
	// of the standard backoff.
	RateLimited
	// Unclassified failures retry at most once, then surface.
	Unclassified
)

// Classifiable is implemented by errors that know their own retry
// class. Errors that do not implement it are treated as Unclassified.
type Classifiable interface {
	RetryClass() Class
}

// exhaustedErr wraps the final error once the retry budget is spent on
// a retryable failure. Callers use Exhausted to decide whether any held
// external session (browser, connection) should be recreated before a
// top-level retry.
type exhaustedErr struct {
	err error
}

func (e *exhaustedErr) Error() string { return fmt.Sprintf("retry budget exhausted: %v", e.err) }
func (e *exhaustedErr) Unwrap() error { return e.err }

// Exhausted reports whether err came out of Do after consuming the full
// retry budget on a retryable failure.
func Exhausted(err error) bool {
	var e *exhaustedErr
	return errors.As(err, &e)
}

type Options struct {
	MaxAttempts int
	Base        int
	// RateLimitCooldown is added to the backoff delay after a
	// RateLimited failure; defaults to DefaultRateLimitCooldown.
	RateLimitCooldown time.Duration
	// Sleep is injectable for tests; defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Base <= 0 {
		opts.Base = DefaultBase
	}
	if opts.RateLimitCooldown <= 0 {
		opts.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return opts
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do invokes op until it succeeds, fails permanently, or the attempt
// budget runs out. The final error is returned unmodified for permanent
// failures and wrapped (see Exhausted) when the budget was consumed on a
// retryable one.
func Do(ctx context.Context, op func(ctx context.Context) error, o *Options) error {
	opts := o.withDefaults()

	var unclassifiedRetries int
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		class := classOf(lastErr)
		switch class {
		case Permanent:
			return lastErr
		case Unclassified:
			if unclassifiedRetries >= 1 {
				return lastErr
			}
			unclassifiedRetries++
		}

		if attempt == opts.MaxAttempts {
			break
		}

		wait := DelayWithBase(attempt, opts.Base)
		if class == RateLimited {
			wait += opts.RateLimitCooldown
		}
		if err := opts.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	return &exhaustedErr{err: lastErr}
}

func classOf(err error) Class {
	var c Classifiable
	if errors.As(err, &c) {
		return c.RetryClass()
	}
	return Unclassified
}
