// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package orchestrator

import (
	"cmp"
	"context"
	"strings"

	"go.astrophena.name/botops/internal/container"
)

// Git pulls the project from a remote branch.
type Git struct {
	Dir    string
	Remote string // "origin" if empty
	Branch string
	Run    container.Runner // container.ExecRunner if nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	run := g.Run
	if run == nil {
		run = container.ExecRunner
	}
	out, err := run(ctx, g.Dir, "git", args...)
	return strings.TrimSpace(string(out)), err
}

// Pull implements VCS.
func (g *Git) Pull(ctx context.Context) error {
	_, err := g.run(ctx, "pull", cmp.Or(g.Remote, "origin"), g.Branch)
	return err
}

// Revision implements VCS.
func (g *Git) Revision(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--short", "HEAD")
}

var _ VCS = (*Git)(nil)
