// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package config loads the deploy.star project configuration.
//
// The configuration is a Starlark file that assigns well-known globals:
//
//	service = "bot"
//	compose_file = "docker-compose.yml"
//	health_url = "http://localhost:8000/health"
//	backup_paths = ["app", "requirements.txt"]
//	git_branch = "main"
//	env_files = {"production": ".env"}
//	webhook = script(register = "scripts/register_webhook.py")
//	notify = telegram(topic = 12)
//	offsite = s3(endpoint = "s3.example.com", bucket = "backups")
//
// Globals that are not assigned keep their defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"go.astrophena.name/botops/internal/logger"
)

// DefaultFile is the configuration file name looked up in the project
// directory.
const DefaultFile = "deploy.star"

// WebhookMode selects how the webhook is registered.
type WebhookMode string

// Webhook modes.
const (
	// WebhookScript runs the bot's own registration scripts in its container.
	WebhookScript WebhookMode = "script"
	// WebhookBotAPI calls the Telegram Bot API directly.
	WebhookBotAPI WebhookMode = "bot_api"
	// WebhookNone skips webhook registration.
	WebhookNone WebhookMode = "none"
)

// Config is the project configuration.
type Config struct {
	Service     string `json:"service"`
	ComposeFile string `json:"compose_file"`

	HealthURL      string        `json:"health_url"`
	HealthAttempts int           `json:"health_attempts"`
	HealthInterval time.Duration `json:"health_interval"`

	BackupDir   string   `json:"backup_dir"`
	KeepBackups int      `json:"keep_backups"`
	BackupPaths []string `json:"backup_paths"`

	// GitRemote and GitBranch are pulled before building. An empty
	// GitBranch skips the pull.
	GitRemote string `json:"git_remote"`
	GitBranch string `json:"git_branch"`

	// EnvFiles maps environment names to env files. Environments that aren't
	// listed use ".env" for production and ".env.<name>" otherwise.
	EnvFiles map[string]string `json:"env_files"`

	LogTail int `json:"log_tail"`

	Webhook Webhook `json:"webhook"`
	Notify  *Notify `json:"notify,omitempty"`
	Offsite *S3     `json:"offsite,omitempty"`
}

// Webhook configures webhook registration.
type Webhook struct {
	Mode        WebhookMode `json:"mode"`
	Interpreter string      `json:"interpreter,omitempty"`
	Register    string      `json:"register,omitempty"`
	Verify      string      `json:"verify,omitempty"`
}

// Notify configures admin notifications. The chat comes from ADMIN_GROUP_ID.
type Notify struct {
	Topic int64 `json:"topic,omitempty"`
}

// S3 configures offsite archive copies. Credentials come from S3_ACCESS_KEY
// and S3_SECRET_KEY.
type S3 struct {
	Endpoint string `json:"endpoint"`
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	UseSSL   bool   `json:"use_ssl"`
}

// Default returns the configuration used when deploy.star is absent.
func Default() *Config {
	return &Config{
		Service:        "bot",
		ComposeFile:    "docker-compose.yml",
		HealthURL:      "http://localhost:8000/health",
		HealthAttempts: 30,
		HealthInterval: 2 * time.Second,
		BackupDir:      "backups",
		KeepBackups:    5,
		BackupPaths:    []string{"app", "requirements.txt"},
		GitRemote:      "origin",
		LogTail:        50,
		Webhook: Webhook{
			Mode:        WebhookScript,
			Interpreter: "python",
			Register:    "scripts/register_webhook.py",
			Verify:      "scripts/check_webhook.py",
		},
	}
}

// Load reads the configuration from path. A missing file yields Default.
func Load(path string, logf logger.Logf) (*Config, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(filepath.Base(path), src, logf)
}

// Parse evaluates the Starlark source src. Output of print goes to logf.
func Parse(filename string, src []byte, logf logger.Logf) (*Config, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
		},
		&starlark.Thread{
			Name:  filename,
			Print: func(_ *starlark.Thread, msg string) { logf("%s", msg) },
		},
		filename,
		src,
		predeclared(),
	)
	if err != nil {
		return nil, err
	}

	c := Default()
	if err := c.apply(globals); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return c, nil
}

func (c *Config) apply(g starlark.StringDict) error {
	var (
		healthInterval = int(c.HealthInterval / time.Second)
		webhook        *object[Webhook]
		notify         *object[Notify]
		offsite        *object[S3]
	)
	for _, step := range []error{
		getString(g, "service", &c.Service),
		getString(g, "compose_file", &c.ComposeFile),
		getString(g, "health_url", &c.HealthURL),
		getInt(g, "health_attempts", &c.HealthAttempts),
		getInt(g, "health_interval", &healthInterval),
		getString(g, "backup_dir", &c.BackupDir),
		getInt(g, "keep_backups", &c.KeepBackups),
		getStringList(g, "backup_paths", &c.BackupPaths),
		getString(g, "git_remote", &c.GitRemote),
		getString(g, "git_branch", &c.GitBranch),
		getStringDict(g, "env_files", &c.EnvFiles),
		getInt(g, "log_tail", &c.LogTail),
		getObject(g, "webhook", &webhook),
		getObject(g, "notify", &notify),
		getObject(g, "offsite", &offsite),
	} {
		if step != nil {
			return step
		}
	}

	c.HealthInterval = time.Duration(healthInterval) * time.Second
	if webhook != nil {
		c.Webhook = webhook.v
	}
	if notify != nil {
		c.Notify = &notify.v
	}
	if offsite != nil {
		c.Offsite = &offsite.v
	}
	return nil
}

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	switch {
	case c.Service == "":
		return errors.New("service must not be empty")
	case c.ComposeFile == "":
		return errors.New("compose_file must not be empty")
	case c.BackupDir == "":
		return errors.New("backup_dir must not be empty")
	case c.HealthAttempts < 1:
		return errors.New("health_attempts must be positive")
	case c.HealthInterval < 0:
		return errors.New("health_interval must not be negative")
	case c.KeepBackups < 1:
		return errors.New("keep_backups must be positive")
	case len(c.BackupPaths) == 0:
		return errors.New("backup_paths must not be empty")
	case c.LogTail < 0:
		return errors.New("log_tail must not be negative")
	}
	u, err := url.Parse(c.HealthURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("health_url %q must be an absolute http(s) URL", c.HealthURL)
	}
	for _, p := range c.BackupPaths {
		if !filepath.IsLocal(p) {
			return fmt.Errorf("backup path %q must be inside the project directory", p)
		}
	}
	for _, p := range c.BackupPaths {
		if rel, err := filepath.Rel(p, c.BackupDir); err == nil && filepath.IsLocal(rel) {
			return fmt.Errorf("backup_dir %q must not be inside backup path %q", c.BackupDir, p)
		}
	}
	return nil
}

// ValidEnvironment reports whether name can be used as an environment name.
// Names consist of lowercase letters, digits, '-' and '_'.
func ValidEnvironment(name string) error {
	if name == "" {
		return errors.New("environment name must not be empty")
	}
	for _, r := range name {
		if !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-' || r == '_') {
			return fmt.Errorf("invalid environment name %q", name)
		}
	}
	return nil
}

// EnvFile returns the env file of the environment env.
func (c *Config) EnvFile(env string) string {
	if f, ok := c.EnvFiles[env]; ok {
		return f
	}
	if env == "production" {
		return ".env"
	}
	return ".env." + env
}
