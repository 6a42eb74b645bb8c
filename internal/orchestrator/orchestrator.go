// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package orchestrator deploys the bot and rolls it back to a previous
// backup.
//
// A run is a fixed sequence of steps. Steps that can't leave the bot in a
// worse state than before (building, restarting, registering the webhook)
// only warn on failure; steps whose failure makes continuing pointless or
// destructive (preconditions, restoring files, health) halt the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.astrophena.name/botops/internal/atomicio"
	"go.astrophena.name/botops/internal/backup"
	"go.astrophena.name/botops/internal/config"
	"go.astrophena.name/botops/internal/filelock"
	"go.astrophena.name/botops/internal/health"
	"go.astrophena.name/botops/internal/logger"
	"go.astrophena.name/botops/internal/pipeline"
	"go.astrophena.name/botops/internal/retry"
	"go.astrophena.name/botops/internal/version"
	"go.astrophena.name/botops/internal/webhook"
)

// File names inside the backup directory.
const (
	LockFile  = ".botops.lock"
	StateFile = "state.json"
)

// ErrCancelled is returned by Rollback when the operator doesn't confirm.
var ErrCancelled = errors.New("rollback cancelled")

// Engine controls the containers of the project.
type Engine interface {
	Check(ctx context.Context) error
	Build(ctx context.Context, noCache bool) error
	Down(ctx context.Context) error
	Up(ctx context.Context) error
	PS(ctx context.Context) (string, error)
	Logs(ctx context.Context, tail int) (string, error)
}

// HealthChecker waits for the service to become healthy.
type HealthChecker interface {
	Wait(ctx context.Context, p retry.Policy) (health.Result, error)
}

// VCS updates the project source.
type VCS interface {
	Pull(ctx context.Context) error
	Revision(ctx context.Context) (string, error)
}

// Notifier delivers a run summary to operators.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Uploader copies an archive off the host.
type Uploader interface {
	Upload(ctx context.Context, a *backup.Archive) (string, error)
}

// Confirm asks the operator whether to roll back to target.
type Confirm func(ctx context.Context, target *backup.Archive) (bool, error)

// Orchestrator runs deployments and rollbacks of a single project.
// Optional collaborators may be nil; their steps are then skipped.
type Orchestrator struct {
	// Dir is the project directory.
	Dir         string
	Environment string
	Config      *config.Config

	Engine       Engine
	Store        *backup.Store
	Health       HealthChecker
	HealthPolicy retry.Policy

	Webhook  webhook.Registrar // optional
	VCS      VCS               // optional
	Notifier Notifier          // optional
	Offsite  Uploader          // optional

	// Stdout receives the report of the container state.
	Stdout io.Writer
	// Now returns the current time, time.Now if nil.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) stdout() io.Writer {
	if o.Stdout != nil {
		return o.Stdout
	}
	return io.Discard
}

// Operation is the kind of a run.
type Operation string

// Operations.
const (
	OpDeploy   Operation = "deploy"
	OpRollback Operation = "rollback"
)

// Outcome is how a run ended.
type Outcome string

// Outcomes.
const (
	Succeeded             Outcome = "succeeded"
	SucceededWithWarnings Outcome = "succeeded with warnings"
	Failed                Outcome = "failed"
)

// State is the record of a single run.
type State struct {
	RunID       string    `json:"run_id"`
	Operation   Operation `json:"operation"`
	Environment string    `json:"environment"`
	// Timestamp is the archive timestamp of the run.
	Timestamp string `json:"timestamp"`
	Revision  string `json:"revision,omitempty"`
	// Archive is the backup made by a deploy or the pre-rollback snapshot
	// made by a rollback.
	Archive string `json:"archive,omitempty"`
	// Target is the archive a rollback restored.
	Target         string            `json:"target,omitempty"`
	Health         health.Status     `json:"health"`
	HealthAttempts int               `json:"health_attempts,omitempty"`
	Outcome        Outcome           `json:"outcome"`
	Error          string            `json:"error,omitempty"`
	Steps          []pipeline.Record `json:"steps"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	// Tool is the build of the command that made the run.
	Tool string `json:"tool"`
}

// LoadState reads the record of the last run from the backup directory dir.
func LoadState(dir string) (*State, error) {
	st, err := atomicio.ReadJSON[State](filepath.Join(dir, StateFile))
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// HealthError is returned when the service doesn't become healthy.
type HealthError struct {
	URL      string
	Attempts int
	Elapsed  time.Duration
	// Hint tells the operator how to recover.
	Hint string
	Err  error
}

func (e *HealthError) Error() string {
	return fmt.Sprintf("%s is not healthy after %d attempts in %s: %v; %s",
		e.URL, e.Attempts, e.Elapsed.Round(time.Second), e.Err, e.Hint)
}

func (e *HealthError) Unwrap() error { return e.Err }

// NotFoundError is returned by Rollback when the target archive doesn't
// exist.
type NotFoundError struct {
	Ref       string
	Dir       string
	Available []*backup.Archive
}

func (e *NotFoundError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "no backup %q in %s", e.Ref, e.Dir)
	if len(e.Available) == 0 {
		sb.WriteString("; there are no backups")
		return sb.String()
	}
	sb.WriteString("; available backups:")
	for _, a := range e.Available {
		fmt.Fprintf(&sb, "\n  %s (%s)", a.Timestamp, a.Name)
	}
	return sb.String()
}

func (e *NotFoundError) Unwrap() error { return backup.ErrNotFound }

// run is the mutable state of one Deploy or Rollback call.
type run struct {
	o     *Orchestrator
	pipe  *pipeline.Run
	state *State
	tail  logger.Streamer
	// archive is the snapshot taken by this run, if any.
	archive *backup.Archive
}

// Running reports whether a deploy or rollback currently holds the lock of
// the backup directory, and what the holder wrote into it.
func (o *Orchestrator) Running() (holder string, running bool) {
	path := filepath.Join(o.Store.Dir, LockFile)
	if !filelock.IsLocked(path) {
		return "", false
	}
	return filelock.Holder(path), true
}

func (o *Orchestrator) lock(op Operation) (filelock.Lock, error) {
	payload := fmt.Sprintf("%s %s pid=%d since=%s", op, o.Environment, os.Getpid(), o.now().Format(time.RFC3339))
	lock, err := filelock.Acquire(filepath.Join(o.Store.Dir, LockFile), payload)
	if err != nil {
		return nil, fmt.Errorf("another deploy or rollback is running: %w", err)
	}
	return lock, nil
}

func (o *Orchestrator) start(ctx context.Context, op Operation) (context.Context, *run) {
	now := o.now()
	r := &run{
		o:    o,
		pipe: pipeline.New(o.Now),
		tail: logger.NewStreamer(20),
	}
	r.state = &State{
		RunID:       r.pipe.ID,
		Operation:   op,
		Environment: o.Environment,
		Timestamp:   backup.Timestamp(now),
		Health:      health.Unknown,
		StartedAt:   now,
		Tool:        version.Version().Short(),
	}
	ctx = logger.Put(ctx, logger.Get(ctx).Tee(r.tail))
	logger.Get(ctx).Info("starting "+string(op),
		slog.String("run_id", r.pipe.ID),
		slog.String("environment", o.Environment),
		slog.String("dir", o.Dir),
	)
	return ctx, r
}

// finish records the outcome of the run, persists it and notifies
// operators.
func (r *run) finish(ctx context.Context, err error) (*State, error) {
	st := r.state
	st.FinishedAt = r.o.now()
	st.Steps = r.pipe.Records
	switch {
	case err != nil:
		st.Outcome = Failed
		st.Error = err.Error()
	case len(r.pipe.Warnings()) > 0:
		st.Outcome = SucceededWithWarnings
	default:
		st.Outcome = Succeeded
	}

	log := logger.Get(ctx)
	if werr := atomicio.WriteJSON(filepath.Join(r.o.Store.Dir, StateFile), st, 0o644); werr != nil {
		log.Warn("saving run state failed", slog.Any("err", werr))
	}
	if r.o.Notifier != nil {
		// Notify even if the run was interrupted.
		if nerr := r.o.Notifier.Send(context.WithoutCancel(ctx), r.summary()); nerr != nil {
			log.Warn("notifying admins failed", slog.Any("err", nerr))
		}
	}

	attrs := []any{
		slog.String("outcome", string(st.Outcome)),
		slog.Duration("took", st.FinishedAt.Sub(st.StartedAt)),
	}
	if err != nil {
		log.Error(string(st.Operation)+" failed", append(attrs, slog.Any("err", err))...)
		return st, err
	}
	log.Info(string(st.Operation)+" finished", attrs...)
	return st, nil
}

func (r *run) summary() string {
	st := r.state
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s of %s %s\n", st.Operation, st.Environment, st.Outcome)
	fmt.Fprintf(&sb, "run: %s\n", st.RunID)
	if st.Revision != "" {
		fmt.Fprintf(&sb, "revision: %s\n", st.Revision)
	}
	if st.Target != "" {
		fmt.Fprintf(&sb, "restored: %s\n", st.Target)
	}
	if st.Archive != "" {
		fmt.Fprintf(&sb, "backup: %s\n", st.Archive)
	}
	fmt.Fprintf(&sb, "health: %s\n\n", st.Health)
	for _, rec := range st.Steps {
		fmt.Fprintf(&sb, "[%s] %s", rec.Status, rec.Step)
		if rec.Error != "" {
			fmt.Fprintf(&sb, ": %s", rec.Error)
		} else if rec.Note != "" {
			fmt.Fprintf(&sb, " (%s)", rec.Note)
		}
		sb.WriteByte('\n')
	}
	if st.Outcome == Failed {
		sb.WriteString("\nlast log lines:\n")
		for _, line := range r.tail.Lines() {
			sb.WriteString(line)
		}
	}
	return sb.String()
}

func warnOn(err error) pipeline.Result {
	if err != nil {
		return pipeline.Warn(err)
	}
	return pipeline.OK("")
}

func (r *run) build(ctx context.Context) pipeline.Result {
	return warnOn(r.o.Engine.Build(ctx, true))
}

func (r *run) stop(ctx context.Context) pipeline.Result {
	return warnOn(r.o.Engine.Down(ctx))
}

func (r *run) up(ctx context.Context) pipeline.Result {
	return warnOn(r.o.Engine.Up(ctx))
}

// snapshot archives the application tree as an archive of kind k.
func (r *run) snapshot(ctx context.Context, k backup.Kind) (pipeline.Result, error) {
	a, err := r.o.Store.Create(ctx, k, r.state.Timestamp, r.o.Dir, r.o.Config.BackupPaths)
	if errors.Is(err, backup.ErrNothingToBackup) {
		return pipeline.Skip("no previous deployment"), nil
	}
	if err != nil {
		return pipeline.Result{}, err
	}
	r.archive = a
	r.state.Archive = a.Name
	return pipeline.OK(a.Name), nil
}

func (r *run) offsite(ctx context.Context) pipeline.Result {
	switch {
	case r.o.Offsite == nil:
		return pipeline.Skip("not configured")
	case r.archive == nil:
		return pipeline.Skip("no archive")
	}
	key, err := r.o.Offsite.Upload(ctx, r.archive)
	if err != nil {
		return pipeline.Warn(err)
	}
	return pipeline.OK(key)
}

func (r *run) health(ctx context.Context) pipeline.Result {
	logger.Get(ctx).Info("waiting for the service to become healthy",
		slog.String("url", r.o.Config.HealthURL),
		slog.Int("attempts", r.o.HealthPolicy.Attempts),
		slog.Duration("up_to", r.o.HealthPolicy.Budget()),
	)
	res, err := r.o.Health.Wait(ctx, r.o.HealthPolicy)
	r.state.Health = res.Status
	r.state.HealthAttempts = res.Attempts
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Fatal(err)
		}
		herr := &HealthError{
			URL:      r.o.Config.HealthURL,
			Attempts: res.Attempts,
			Elapsed:  res.Elapsed,
			Hint:     r.rollbackHint(),
			Err:      err,
		}
		logger.Get(ctx).Error("service is unhealthy", slog.String("hint", herr.Hint))
		return pipeline.Fatal(herr)
	}
	return pipeline.OK(fmt.Sprintf("healthy after %d attempts", res.Attempts))
}

func (r *run) rollbackHint() string {
	if r.archive == nil {
		return "no backup was made by this run, there is nothing to roll back to"
	}
	ref := r.archive.Timestamp
	if r.archive.Kind != backup.KindDeploy {
		ref = r.archive.Name
	}
	return "to restore the previous version run: rollback " + ref
}

func (r *run) registerWebhook(ctx context.Context) pipeline.Result {
	if r.o.Webhook == nil {
		return pipeline.Skip("not configured")
	}
	return warnOn(r.o.Webhook.Register(ctx))
}

func (r *run) verifyWebhook(ctx context.Context) pipeline.Result {
	if r.o.Webhook == nil {
		return pipeline.Skip("not configured")
	}
	return warnOn(r.o.Webhook.Verify(ctx))
}

func (r *run) report(ctx context.Context) pipeline.Result {
	w := r.o.stdout()
	var errs []error

	ps, err := r.o.Engine.PS(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("ps: %w", err))
	}
	fmt.Fprintf(w, "==> containers\n%s\n", strings.TrimRight(ps, "\n"))

	logs, err := r.o.Engine.Logs(ctx, r.o.Config.LogTail)
	if err != nil {
		errs = append(errs, fmt.Errorf("logs: %w", err))
	}
	fmt.Fprintf(w, "==> last %d log lines\n%s\n", r.o.Config.LogTail, strings.TrimRight(logs, "\n"))

	return warnOn(errors.Join(errs...))
}
