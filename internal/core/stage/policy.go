// Package stage holds the policy object every pipeline stage is run under and the
// generic retry loop that consumes it.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joseph-ayodele/docscan/internal/common"
)

// Policy describes how one stage is attempted.
// Required is a fixed property of the stage; attempts and timeout are tuning.
type Policy struct {
	Name        string
	Required    bool
	MaxAttempts int
	Timeout     time.Duration

	// Retryable overrides common.IsRetryable for stages with their own error classes.
	Retryable func(error) bool
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return common.IsRetryable(err)
}

// Backoff is exponential with a cap: Initial, 2*Initial, 4*Initial ... <= Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 || attempt < 1 {
		return 0
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Result reports how a Run ended.
type Result struct {
	Attempts int
	Elapsed  time.Duration
}

// Run calls fn until it succeeds, fails with a non-retryable error, or the policy's
// attempts are used up. Each attempt gets its own timeout; an attempt that hits it
// is reported as a transient engine error.
func Run(ctx context.Context, p Policy, b Backoff, fn func(ctx context.Context) error) (Result, error) {
	start := time.Now()
	var err error
	attempt := 0
	for attempt < p.attempts() {
		attempt++
		err = runOnce(ctx, p, fn)
		if err == nil {
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, nil
		}
		if ctx.Err() != nil {
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, ctx.Err()
		}
		if !p.retryable(err) || attempt == p.attempts() {
			break
		}
		if werr := wait(ctx, b.Delay(attempt)); werr != nil {
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, werr
		}
	}
	return Result{Attempts: attempt, Elapsed: time.Since(start)}, err
}

func runOnce(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	actx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		if errors.Is(err, common.ErrTransientEngine) {
			return err
		}
		return common.NewTransientEngineError(p.Name, fmt.Errorf("timed out after %s: %w", p.Timeout, err))
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
