// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.astrophena.name/botops/internal/backup"
	"go.astrophena.name/botops/internal/pipeline"
)

// Rollback replaces the application tree with the archive identified by ref
// and restarts the service.
//
// If the archive doesn't exist Rollback returns a *NotFoundError listing the
// available ones. If confirm declines it returns ErrCancelled. In both cases
// nothing is changed. The current tree is saved as a pre-rollback snapshot
// before it's replaced.
func (o *Orchestrator) Rollback(ctx context.Context, ref string, confirm Confirm) (*State, error) {
	target, err := o.find(ref)
	if err != nil {
		return nil, err
	}

	ok, err := confirm(ctx, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCancelled
	}

	lock, err := o.lock(OpRollback)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	// A deploy may have pruned the archive while the operator was answering.
	if target, err = o.find(ref); err != nil {
		return nil, err
	}

	ctx, r := o.start(ctx, OpRollback)
	r.state.Target = target.Name
	err = r.pipe.Execute(ctx,
		pipeline.Step{Name: "stop", Run: r.stop},
		pipeline.Step{Name: "snapshot", Run: r.preRollback},
		pipeline.Step{Name: "offsite copy", Run: r.offsite},
		pipeline.Step{Name: "restore", Run: func(ctx context.Context) pipeline.Result {
			if err := o.Store.Restore(ctx, target, o.Dir, o.Config.BackupPaths); err != nil {
				return pipeline.Fatal(fmt.Errorf("restoring %s: %w", target.Name, err))
			}
			return pipeline.OK(target.Name)
		}},
		pipeline.Step{Name: "build", Run: r.build},
		pipeline.Step{Name: "start", Run: r.up},
		pipeline.Step{Name: "health", Run: r.health},
		pipeline.Step{Name: "webhook register", Run: r.registerWebhook},
		pipeline.Step{Name: "report", Run: r.report},
	)
	return r.finish(ctx, err)
}

func (r *run) preRollback(ctx context.Context) pipeline.Result {
	res, err := r.snapshot(ctx, backup.KindPreRollback)
	if err != nil {
		return pipeline.Fatal(fmt.Errorf("saving current tree before restore: %w", err))
	}
	return res
}

// find looks up ref in the store. A missing archive is reported as a
// *NotFoundError listing the available ones.
func (o *Orchestrator) find(ref string) (*backup.Archive, error) {
	target, err := o.Store.Find(ref)
	if errors.Is(err, backup.ErrNotFound) {
		available, lerr := o.Store.List()
		if lerr != nil {
			return nil, errors.Join(err, lerr)
		}
		return nil, &NotFoundError{Ref: ref, Dir: o.Store.Dir, Available: available}
	}
	return target, err
}
