// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package pipeline runs a sequence of named steps, each of which either
// succeeds, fails with a warning and lets the sequence continue, or fails
// fatally and halts it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"go.astrophena.name/botops/internal/logger"
)

// Status is the outcome of a step.
type Status string

// Step outcomes.
const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusWarn    Status = "warn"
	StatusFatal   Status = "fatal"
)

// Result is what a step returns.
type Result struct {
	Status Status
	Err    error
	Note   string
}

// OK reports success. note is optional.
func OK(note string) Result { return Result{Status: StatusOK, Note: note} }

// Skip reports that a step had nothing to do.
func Skip(note string) Result { return Result{Status: StatusSkipped, Note: note} }

// Warn reports a failure the sequence can continue after.
func Warn(err error) Result { return Result{Status: StatusWarn, Err: err} }

// Fatal reports a failure that halts the sequence.
func Fatal(err error) Result { return Result{Status: StatusFatal, Err: err} }

// Step is a named unit of work.
type Step struct {
	Name string
	Run  func(context.Context) Result
}

// Record is the log of a finished step.
type Record struct {
	Step      string        `json:"step"`
	Status    Status        `json:"status"`
	Note      string        `json:"note,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// FatalError is returned by Execute when a step fails fatally.
type FatalError struct {
	Step string
	Err  error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Run executes steps and keeps their records.
type Run struct {
	ID      string
	Records []Record

	now func() time.Time
}

// New returns a Run with a fresh ID. A nil now means time.Now.
func New(now func() time.Time) *Run {
	if now == nil {
		now = time.Now
	}
	return &Run{ID: uuid.NewString(), now: now}
}

// Execute runs steps in order. It stops at the first fatal step and returns a
// *FatalError, or at cancellation of ctx and returns ctx.Err().
func (r *Run) Execute(ctx context.Context, steps ...Step) error {
	log := logger.Get(ctx).With(slog.String("run_id", r.ID))

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Info("starting step", slog.String("step", s.Name))
		start := r.now()
		res := s.Run(ctx)
		if res.Status == "" {
			res.Status = StatusOK
		}
		if res.Err == nil && (res.Status == StatusWarn || res.Status == StatusFatal) {
			res.Err = errors.New("unknown error")
		}

		rec := Record{
			Step:      s.Name,
			Status:    res.Status,
			Note:      res.Note,
			StartedAt: start,
			Duration:  r.now().Sub(start),
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		r.Records = append(r.Records, rec)

		attrs := []any{slog.String("step", s.Name), slog.Duration("took", rec.Duration)}
		if rec.Note != "" {
			attrs = append(attrs, slog.String("note", rec.Note))
		}
		switch res.Status {
		case StatusFatal:
			log.Error("step failed", append(attrs, slog.Any("err", res.Err))...)
			return &FatalError{Step: s.Name, Err: res.Err}
		case StatusWarn:
			log.Warn("step failed, continuing", append(attrs, slog.Any("err", res.Err))...)
		case StatusSkipped:
			log.Info("step skipped", attrs...)
		default:
			log.Info("step finished", attrs...)
		}
	}
	return nil
}

// Warnings returns the records of steps that failed with a warning.
func (r *Run) Warnings() []Record {
	var warns []Record
	for _, rec := range r.Records {
		if rec.Status == StatusWarn {
			warns = append(warns, rec)
		}
	}
	return warns
}
