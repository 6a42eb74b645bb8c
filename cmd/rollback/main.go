// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"go.astrophena.name/botops/internal/backup"
	"go.astrophena.name/botops/internal/cli"
	"go.astrophena.name/botops/internal/cli/envflag"
	"go.astrophena.name/botops/internal/config"
	"go.astrophena.name/botops/internal/container"
	"go.astrophena.name/botops/internal/orchestrator"
)

func main() { cli.Main(new(app)) }

type app struct {
	// configuration
	dir         string
	configFile  string
	environment string
	list        bool

	// used in tests
	runner container.Runner
	httpc  *http.Client
}

func (a *app) Flags(fs *flag.FlagSet) {
	if a.dir == "" {
		a.dir = "."
	}
	fs.StringVar(&a.dir, "dir", a.dir, "Project `directory`.")
	envflag.Bind(fs, "dir", "BOTOPS_DIR")
	fs.StringVar(&a.configFile, "config", config.DefaultFile, "Configuration `file`, relative to the project directory.")
	envflag.Bind(fs, "config", "BOTOPS_CONFIG")
	fs.StringVar(&a.environment, "env", "production", "Deployment `environment`.")
	envflag.Bind(fs, "env", "BOTOPS_ENV")
	fs.BoolVar(&a.list, "list", false, "List backups and the last run, then exit.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if !a.list && len(env.Args) != 1 {
		return fmt.Errorf("%w: want the timestamp of a backup, see -list", cli.ErrInvalidArgs)
	}
	if a.list && len(env.Args) > 0 {
		return fmt.Errorf("%w: -list takes no arguments", cli.ErrInvalidArgs)
	}
	if err := config.ValidEnvironment(a.environment); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}

	o, err := orchestrator.New(ctx, orchestrator.Options{
		Dir:         a.dir,
		Environment: a.environment,
		ConfigFile:  a.configFile,
		Getenv:      env.Getenv,
		Stdout:      env.Stdout,
		Runner:      a.runner,
		HTTPClient:  a.httpc,
	})
	if err != nil {
		return err
	}

	if a.list {
		return list(env, o)
	}

	st, err := o.Rollback(ctx, env.Args[0], confirm(env))
	if errors.Is(err, orchestrator.ErrCancelled) {
		fmt.Fprintln(env.Stdout, "Rollback cancelled, nothing was changed.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Rolled back %s to %s: %s.\n", a.environment, st.Target, st.Outcome)
	if st.Archive != "" {
		fmt.Fprintf(env.Stdout, "The replaced version was saved as %s.\n", st.Archive)
	}
	return nil
}

func confirm(env *cli.Env) orchestrator.Confirm {
	return func(ctx context.Context, target *backup.Archive) (bool, error) {
		fmt.Fprintf(env.Stdout, "This replaces the running application with %s, made %s (%s).\n",
			target.Name, humanize.Time(target.ModTime), humanize.Bytes(uint64(target.Size)))
		answer, err := env.Ask("Type yes to continue: ")
		if err != nil {
			return false, err
		}
		return answer == "yes", nil
	}
}

func list(env *cli.Env, o *orchestrator.Orchestrator) error {
	archives, err := o.Store.List()
	if err != nil {
		return err
	}
	if len(archives) == 0 {
		fmt.Fprintf(env.Stdout, "No backups in %s.\n", o.Store.Dir)
	} else {
		w := tabwriter.NewWriter(env.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tKIND\tCREATED\tSIZE\tFILE")
		for _, a := range archives {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				a.Timestamp, a.Kind, humanize.Time(a.ModTime), humanize.Bytes(uint64(a.Size)), a.Name)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if holder, running := o.Running(); running {
		fmt.Fprintf(env.Stdout, "\nA deploy or rollback is running: %s.\n", holder)
	}

	st, err := orchestrator.LoadState(o.Store.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "\nLast run: %s of %s %s, %s (run %s).\n",
		st.Operation, st.Environment, st.Outcome, humanize.Time(st.FinishedAt), st.RunID)
	if st.Error != "" {
		fmt.Fprintf(env.Stdout, "Error: %s\n", st.Error)
	}
	return nil
}
