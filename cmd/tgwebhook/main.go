// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.astrophena.name/botops/internal/cli"
	"go.astrophena.name/botops/internal/cli/envflag"
	"go.astrophena.name/botops/internal/config"
	"go.astrophena.name/botops/internal/logger"
	"go.astrophena.name/botops/internal/webhook"
)

func main() { cli.Main(new(app)) }

type app struct {
	// configuration
	dir         string
	configFile  string
	environment string

	// used in tests
	apiURL string
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
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	command, args := env.Args[0], env.Args[1:]
	if (command != "set" && len(args) > 0) || len(args) > 1 {
		return fmt.Errorf("%w: too many arguments for %s", cli.ErrInvalidArgs, command)
	}

	getenv, err := a.secrets(ctx, env.Getenv)
	if err != nil {
		return err
	}
	c := &webhook.Client{
		Token:      getenv(config.EnvBotToken),
		APIURL:     a.apiURL,
		HTTPClient: a.httpc,
	}
	if c.Token == "" {
		return fmt.Errorf("%s is not set", config.EnvBotToken)
	}

	switch command {
	case "set":
		url := getenv(config.EnvWebhookURL)
		if len(args) == 1 {
			url = args[0]
		}
		if url == "" {
			return fmt.Errorf("%w: pass the webhook URL or set %s", cli.ErrInvalidArgs, config.EnvWebhookURL)
		}
		secret := getenv(config.EnvWebhookSecret)
		if secret == "" {
			return fmt.Errorf("%s is not set", config.EnvWebhookSecret)
		}
		if err := c.SetWebhook(ctx, url, secret); err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "Webhook set to %s.\n\n", url)
		return printInfo(ctx, env.Stdout, c)
	case "info":
		return printInfo(ctx, env.Stdout, c)
	case "delete":
		info, err := c.GetWebhookInfo(ctx)
		if err != nil {
			return err
		}
		if info.URL == "" {
			fmt.Fprintln(env.Stdout, "No webhook is set.")
			return nil
		}
		fmt.Fprintf(env.Stdout, "The webhook is set to %s.\n", info.URL)
		answer, err := env.Ask("Delete it? (yes/no): ")
		if err != nil {
			return err
		}
		if answer = strings.ToLower(answer); answer != "yes" && answer != "y" {
			fmt.Fprintln(env.Stdout, "Cancelled.")
			return nil
		}
		if err := c.DeleteWebhook(ctx); err != nil {
			return err
		}
		fmt.Fprintln(env.Stdout, "Webhook deleted.")
		return nil
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

// secrets merges the environment file of the selected environment under the
// process environment.
func (a *app) secrets(ctx context.Context, getenv func(string) string) (func(string) string, error) {
	if err := config.ValidEnvironment(a.environment); err != nil {
		return nil, fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	log := logger.Get(ctx)
	cfg, err := config.Load(join(a.dir, a.configFile), func(format string, args ...any) {
		log.Info(fmt.Sprintf(format, args...), "source", a.configFile)
	})
	if err != nil {
		return nil, err
	}
	name := join(a.dir, cfg.EnvFile(a.environment))
	vars, err := config.ReadEnvFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("environment file does not exist, using the process environment", "file", name)
	} else if err != nil {
		return nil, err
	}
	return config.Lookup(vars, getenv), nil
}

func join(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func printInfo(ctx context.Context, w io.Writer, c *webhook.Client) error {
	info, err := c.GetWebhookInfo(ctx)
	if err != nil {
		return err
	}
	url := info.URL
	if url == "" {
		url = "(not set)"
	}
	fmt.Fprintf(w, "URL: %s\n", url)
	fmt.Fprintf(w, "Pending updates: %d\n", info.PendingUpdateCount)
	if info.MaxConnections > 0 {
		fmt.Fprintf(w, "Max connections: %d\n", info.MaxConnections)
	}
	if info.IPAddress != "" {
		fmt.Fprintf(w, "IP address: %s\n", info.IPAddress)
	}
	if len(info.AllowedUpdates) > 0 {
		fmt.Fprintf(w, "Allowed updates: %s\n", strings.Join(info.AllowedUpdates, ", "))
	}
	if info.LastErrorMessage != "" {
		fmt.Fprintf(w, "Last error: %s (%s)\n", info.LastErrorMessage, time.Unix(info.LastErrorDate, 0).UTC().Format(time.RFC3339))
	}
	return nil
}
