// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"

	"go.astrophena.name/botops/internal/cli"
	"go.astrophena.name/botops/internal/cli/envflag"
	"go.astrophena.name/botops/internal/config"
	"go.astrophena.name/botops/internal/container"
	"go.astrophena.name/botops/internal/orchestrator"
)

func main() { cli.Main(new(app)) }

type app struct {
	// configuration
	dir        string
	configFile string

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
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	environment := "production"
	switch len(env.Args) {
	case 0:
	case 1:
		environment = env.Args[0]
	default:
		return fmt.Errorf("%w: want at most one argument, the environment", cli.ErrInvalidArgs)
	}
	if err := config.ValidEnvironment(environment); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}

	o, err := orchestrator.New(ctx, orchestrator.Options{
		Dir:         a.dir,
		Environment: environment,
		ConfigFile:  a.configFile,
		Getenv:      env.Getenv,
		Stdout:      env.Stdout,
		Runner:      a.runner,
		HTTPClient:  a.httpc,
	})
	if err != nil {
		return err
	}

	st, err := o.Deploy(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Deployed %s: %s.\n", environment, st.Outcome)
	if st.Archive != "" {
		fmt.Fprintf(env.Stdout, "To return to the previous version, run: rollback %s\n", st.Timestamp)
	}
	return nil
}
