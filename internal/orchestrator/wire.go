// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"go.astrophena.name/botops/internal/backup"
	"go.astrophena.name/botops/internal/config"
	"go.astrophena.name/botops/internal/container"
	"go.astrophena.name/botops/internal/health"
	"go.astrophena.name/botops/internal/logger"
	"go.astrophena.name/botops/internal/notify"
	"go.astrophena.name/botops/internal/offsite"
	"go.astrophena.name/botops/internal/retry"
	"go.astrophena.name/botops/internal/webhook"
)

// Options configure New.
type Options struct {
	Dir         string
	Environment string
	// Config is the project configuration. If nil, it's loaded from
	// ConfigFile.
	Config *config.Config
	// ConfigFile is relative to Dir, config.DefaultFile if empty.
	ConfigFile string
	// Getenv looks up secrets missing from the environment file.
	Getenv func(string) string
	Stdout io.Writer
	// Runner runs external commands, container.ExecRunner if nil.
	Runner     container.Runner
	HTTPClient *http.Client
}

const bucketCheckTimeout = 10 * time.Second

// New builds an Orchestrator for the project in opts.Dir from its
// configuration and secrets. Optional integrations that lack credentials are
// disabled with a warning.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	log := logger.Get(ctx)

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, err
	}
	if opts.Environment == "" {
		opts.Environment = "production"
	}
	if err := config.ValidEnvironment(opts.Environment); err != nil {
		return nil, err
	}
	cfg := opts.Config
	if cfg == nil {
		name := opts.ConfigFile
		if name == "" {
			name = config.DefaultFile
		}
		cfg, err = config.Load(abs(dir, name), func(format string, args ...any) {
			log.Info(fmt.Sprintf(format, args...), slog.String("source", name))
		})
		if err != nil {
			return nil, err
		}
	}

	envFile := cfg.EnvFile(opts.Environment)
	vars, err := config.ReadEnvFile(abs(dir, envFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Deploy reports it as a failed precondition.
		envFile = ""
	case err != nil:
		return nil, err
	}
	getenv := config.Lookup(vars, opts.Getenv)

	compose := &container.Compose{
		Dir:     dir,
		File:    cfg.ComposeFile,
		EnvFile: envFile,
		Service: cfg.Service,
		Run:     opts.Runner,
	}

	o := &Orchestrator{
		Dir:          dir,
		Environment:  opts.Environment,
		Config:       cfg,
		Engine:       compose,
		Store:        &backup.Store{Dir: abs(dir, cfg.BackupDir), Keep: cfg.KeepBackups},
		Health:       &health.Checker{URL: cfg.HealthURL, HTTPClient: opts.HTTPClient},
		HealthPolicy: retry.Constant(cfg.HealthAttempts, cfg.HealthInterval),
		Stdout:       opts.Stdout,
	}

	switch cfg.Webhook.Mode {
	case config.WebhookScript:
		o.Webhook = &webhook.Script{
			Exec:         compose,
			Interpreter:  cfg.Webhook.Interpreter,
			RegisterPath: cfg.Webhook.Register,
			VerifyPath:   cfg.Webhook.Verify,
		}
	case config.WebhookBotAPI:
		o.Webhook = &webhook.BotAPI{
			Client: &webhook.Client{
				Token:      getenv(config.EnvBotToken),
				HTTPClient: opts.HTTPClient,
			},
			URL:    getenv(config.EnvWebhookURL),
			Secret: getenv(config.EnvWebhookSecret),
		}
	}

	if cfg.GitBranch != "" {
		o.VCS = &Git{Dir: dir, Remote: cfg.GitRemote, Branch: cfg.GitBranch, Run: opts.Runner}
	}

	if cfg.Notify != nil {
		token, chat := getenv(config.EnvBotToken), getenv(config.EnvAdminGroup)
		if token == "" || chat == "" {
			log.Warn("admin notifications disabled: "+config.EnvBotToken+" or "+config.EnvAdminGroup+" is not set",
				slog.String("env_file", cfg.EnvFile(opts.Environment)))
		} else {
			if _, err := strconv.ParseInt(chat, 10, 64); err != nil {
				log.Warn("admin group is not a numeric chat ID", slog.String("chat", chat))
			}
			o.Notifier = notify.New(notify.Config{
				ChatID:     chat,
				ThreadID:   cfg.Notify.Topic,
				Token:      token,
				HTTPClient: opts.HTTPClient,
			})
		}
	}

	if s3 := cfg.Offsite; s3 != nil {
		u, err := offsite.New(offsite.Config{
			Endpoint:  s3.Endpoint,
			Bucket:    s3.Bucket,
			Prefix:    s3.Prefix,
			Region:    s3.Region,
			UseSSL:    s3.UseSSL,
			AccessKey: getenv(config.EnvS3AccessKey),
			SecretKey: getenv(config.EnvS3SecretKey),
		})
		if err == nil {
			hctx, cancel := context.WithTimeout(ctx, bucketCheckTimeout)
			err = u.Healthy(hctx)
			cancel()
		}
		if err != nil {
			log.Warn("offsite copies disabled", slog.Any("err", err))
		} else {
			o.Offsite = u
		}
	}

	return o, nil
}

func abs(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
