// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"go.astrophena.name/botops/internal/backup"
	"go.astrophena.name/botops/internal/container"
	"go.astrophena.name/botops/internal/logger"
	"go.astrophena.name/botops/internal/pipeline"
)

// ErrPrecondition is wrapped by errors of the preconditions step.
var ErrPrecondition = errors.New("precondition failed")

// Deploy backs up the running version, rebuilds and restarts the service,
// waits for it to become healthy, registers the webhook and prunes old
// backups.
//
// Deploy fails before touching containers if the environment file, the
// compose file or the container engine is missing. It fails after
// restarting if the service never becomes healthy; the error then tells how
// to roll back.
func (o *Orchestrator) Deploy(ctx context.Context) (*State, error) {
	lock, err := o.lock(OpDeploy)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	ctx, r := o.start(ctx, OpDeploy)
	err = r.pipe.Execute(ctx,
		pipeline.Step{Name: "preconditions", Run: r.preconditions},
		pipeline.Step{Name: "backup", Run: r.backup},
		pipeline.Step{Name: "offsite copy", Run: r.offsite},
		pipeline.Step{Name: "git pull", Run: r.pull},
		pipeline.Step{Name: "build", Run: r.build},
		pipeline.Step{Name: "stop", Run: r.stop},
		pipeline.Step{Name: "start", Run: r.up},
		pipeline.Step{Name: "health", Run: r.health},
		pipeline.Step{Name: "webhook register", Run: r.registerWebhook},
		pipeline.Step{Name: "webhook verify", Run: r.verifyWebhook},
		pipeline.Step{Name: "report", Run: r.report},
		pipeline.Step{Name: "prune", Run: r.prune},
	)
	return r.finish(ctx, err)
}

func (r *run) preconditions(ctx context.Context) pipeline.Result {
	cfg := r.o.Config

	envFile := cfg.EnvFile(r.o.Environment)
	if err := requireFile(r.o.Dir, envFile); err != nil {
		return pipeline.Fatal(fmt.Errorf("%w: environment file for %s: %v", ErrPrecondition, r.o.Environment, err))
	}
	if err := requireFile(r.o.Dir, cfg.ComposeFile); err != nil {
		return pipeline.Fatal(fmt.Errorf("%w: compose file: %v", ErrPrecondition, err))
	}
	project, err := container.LoadProject(filepath.Join(r.o.Dir, cfg.ComposeFile))
	if err != nil {
		return pipeline.Fatal(fmt.Errorf("%w: %v", ErrPrecondition, err))
	}
	if _, err := project.Lookup(cfg.Service); err != nil {
		return pipeline.Fatal(fmt.Errorf("%w: %s: %v", ErrPrecondition, cfg.ComposeFile, err))
	}
	if err := r.o.Engine.Check(ctx); err != nil {
		return pipeline.Fatal(fmt.Errorf("%w: %v", ErrPrecondition, err))
	}
	return pipeline.OK("")
}

func requireFile(dir, name string) error {
	path := abs(dir, name)
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s does not exist", path)
	}
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

func (r *run) backup(ctx context.Context) pipeline.Result {
	res, err := r.snapshot(ctx, backup.KindDeploy)
	if err != nil {
		return pipeline.Warn(err)
	}
	return res
}

func (r *run) pull(ctx context.Context) pipeline.Result {
	if r.o.VCS == nil {
		return pipeline.Skip("no branch configured")
	}
	if err := r.o.VCS.Pull(ctx); err != nil {
		return pipeline.Warn(err)
	}
	rev, err := r.o.VCS.Revision(ctx)
	if err != nil {
		logger.Get(ctx).Debug("reading revision failed", slog.Any("err", err))
		return pipeline.OK("")
	}
	r.state.Revision = rev
	return pipeline.OK(rev)
}

func (r *run) prune(ctx context.Context) pipeline.Result {
	removed, err := r.o.Store.Prune()
	for _, a := range removed {
		logger.Get(ctx).Info("removed old backup", slog.String("name", a.Name))
	}
	if err != nil {
		return pipeline.Warn(err)
	}
	return pipeline.OK(fmt.Sprintf("removed %d", len(removed)))
}
