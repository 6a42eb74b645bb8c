// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package container controls a Docker Compose project.
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrEngineMissing is returned by Check when the container engine can't be
// found or doesn't support compose.
var ErrEngineMissing = errors.New("container engine not available")

// Runner runs the external command name with args in dir and returns its
// combined output.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// CommandError is returned by ExecRunner when a command fails.
type CommandError struct {
	Command string
	Err     error
	Output  string
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner is a Runner that uses os/exec.
func ExecRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, &CommandError{
			Command: name + " " + strings.Join(args, " "),
			Err:     err,
			Output:  string(bytes.TrimSpace(out)),
		}
	}
	return out, nil
}

// Compose drives `docker compose` for a single project.
type Compose struct {
	// Dir is the project directory; commands run there.
	Dir string
	// File is the compose file, relative to Dir. Empty means the engine
	// default.
	File string
	// EnvFile is passed as --env-file when set.
	EnvFile string
	// Service is the service used by Exec.
	Service string
	// Binary is the container engine executable, "docker" if empty.
	Binary string
	// Run executes commands, ExecRunner if nil.
	Run Runner
}

func (c *Compose) run(ctx context.Context, args ...string) (string, error) {
	bin := c.Binary
	if bin == "" {
		bin = "docker"
	}
	run := c.Run
	if run == nil {
		run = ExecRunner
	}

	full := []string{"compose"}
	if c.File != "" {
		full = append(full, "-f", c.File)
	}
	if c.EnvFile != "" {
		full = append(full, "--env-file", c.EnvFile)
	}
	full = append(full, args...)

	out, err := run(ctx, c.Dir, bin, full...)
	return string(out), err
}

// Check verifies that the engine and its compose plugin are installed.
func (c *Compose) Check(ctx context.Context) error {
	if _, err := c.run(ctx, "version"); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineMissing, err)
	}
	return nil
}

// Build rebuilds images. With noCache no layer cache is reused.
func (c *Compose) Build(ctx context.Context, noCache bool) error {
	args := []string{"build"}
	if noCache {
		args = append(args, "--no-cache")
	}
	_, err := c.run(ctx, args...)
	return err
}

// Down stops and removes the project containers.
func (c *Compose) Down(ctx context.Context) error {
	_, err := c.run(ctx, "down")
	return err
}

// Up starts the project containers in the background.
func (c *Compose) Up(ctx context.Context) error {
	_, err := c.run(ctx, "up", "-d")
	return err
}

// PS returns the container status table.
func (c *Compose) PS(ctx context.Context) (string, error) {
	return c.run(ctx, "ps")
}

// Logs returns the last tail lines of logs of every service.
func (c *Compose) Logs(ctx context.Context, tail int) (string, error) {
	return c.run(ctx, "logs", "--no-color", "--tail", strconv.Itoa(tail))
}

// Exec runs a command inside the running Service container without a TTY.
func (c *Compose) Exec(ctx context.Context, args ...string) (string, error) {
	if c.Service == "" {
		return "", errors.New("container: no service to exec into")
	}
	return c.run(ctx, append([]string{"exec", "-T", c.Service}, args...)...)
}
