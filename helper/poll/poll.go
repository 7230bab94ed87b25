// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package poll repeatedly refreshes a remote resource until a condition on
// its latest snapshot holds.
//
// A refresh error aborts the poll and is returned to the caller. Transport
// errors are never retried; the only retry is "the resource has not reached
// the target state yet". Without Attempts or Timeout the caller's context is
// the only bound.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"
)

// DefaultGap is the delay between a failed condition check and the next
// refresh.
const DefaultGap = 500 * time.Millisecond

// ErrTimeout is matched by errors.Is for a *TimeoutError.
var ErrTimeout = errors.New("poll: condition not met")

// Refresher is a resource whose snapshot can be re-fetched in place.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// TimeoutError is returned when the configured attempts or deadline are
// exhausted before the condition holds.
type TimeoutError struct {
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v after %d refreshes (%v)", ErrTimeout, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

type config struct {
	gap      time.Duration
	attempts int
	timeout  time.Duration
	logger   hclog.Logger
}

// Option configures a poll.
type Option func(*config)

// Gap sets a constant delay between attempts. There is no backoff.
func Gap(d time.Duration) Option {
	return func(c *config) { c.gap = d }
}

// Immediate re-fetches without any delay between attempts.
func Immediate() Option {
	return Gap(0)
}

// Attempts bounds the number of refreshes.
func Attempts(n int) Option {
	return func(c *config) { c.attempts = n }
}

// Timeout bounds the total time spent polling.
func Timeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Logger sets the logger used for trace output.
func Logger(l hclog.Logger) Option {
	return func(c *config) { c.logger = l }
}

func newConfig(opts []Option) *config {
	c := &config{
		gap:    DefaultGap,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Until evaluates cond against the current snapshot of r and, while it is
// false, waits the configured gap and refreshes r. It returns nil only once
// cond returns true.
func Until(ctx context.Context, r Refresher, cond func() bool, opts ...Option) error {
	c := newConfig(opts)
	return run(ctx, c, r, func(context.Context) (bool, error) {
		return cond(), nil
	})
}

// UntilFunc calls fn until it reports true, waiting the configured gap
// between calls. An error from fn aborts the poll.
func UntilFunc(ctx context.Context, fn func(context.Context) (bool, error), opts ...Option) error {
	c := newConfig(opts)
	return run(ctx, c, nil, fn)
}

func run(ctx context.Context, c *config, r Refresher, fn func(context.Context) (bool, error)) error {
	start := time.Now()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 0; ; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			c.logger.Trace("condition met", "attempts", attempt, "elapsed", time.Since(start))
			return nil
		}

		if c.attempts > 0 && attempt >= c.attempts {
			return &TimeoutError{Attempts: attempt, Elapsed: time.Since(start)}
		}

		if c.gap > 0 {
			if timer == nil {
				timer = time.NewTimer(c.gap)
			} else {
				timer.Reset(c.gap)
			}
			select {
			case <-ctx.Done():
				return c.ctxErr(ctx, attempt, start)
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return c.ctxErr(ctx, attempt, start)
		}

		if r != nil {
			c.logger.Trace("condition not met, refreshing", "attempt", attempt+1)
			if err := r.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return c.ctxErr(ctx, attempt+1, start)
				}
				return fmt.Errorf("refresh failed: %w", err)
			}
		}
	}
}

// ctxErr converts the poll's own deadline into a TimeoutError and passes any
// other cancellation through.
func (c *config) ctxErr(ctx context.Context, attempts int, start time.Time) error {
	if c.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Attempts: attempts, Elapsed: time.Since(start)}
	}
	return ctx.Err()
}
