// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package retry implements a bounded, cancellable retry loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is matched by the error Do returns when every attempt failed.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy describes how often and how many times an operation is attempted.
type Policy struct {
	// Attempts is the maximum number of calls. Values below one mean one.
	Attempts int
	// Interval is the pause between attempts.
	Interval time.Duration
}

// Constant returns a Policy of n attempts spaced by interval.
func Constant(n int, interval time.Duration) Policy {
	return Policy{Attempts: n, Interval: interval}
}

// Budget returns the longest time the pauses of p can take.
func (p Policy) Budget() time.Duration {
	return time.Duration(max(p.Attempts, 1)-1) * p.Interval
}

// ExhaustedError is returned when no attempt succeeded.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }
func (e *ExhaustedError) Unwrap() error        { return e.Last }

// Do calls f until it returns nil or p runs out of attempts. It pauses
// between attempts, never after the last one, and stops early when ctx is
// done, returning the context error. The attempt number passed to f starts
// at one.
func Do(ctx context.Context, p Policy, f func(ctx context.Context, attempt int) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = f(ctx, attempt); last == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if !Sleep(ctx, p.Interval) {
			return ctx.Err()
		}
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}

// Sleep pauses for d or until ctx is done. It reports whether the full pause
// elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
