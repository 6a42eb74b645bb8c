// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.astrophena.name/botops/internal/logger"
)

// Registrar registers the webhook after the bot starts and verifies it.
type Registrar interface {
	Register(ctx context.Context) error
	Verify(ctx context.Context) error
}

// ErrMismatch is returned by Verify when Telegram delivers to another URL.
var ErrMismatch = errors.New("registered webhook URL does not match")

// BotAPI registers the webhook by calling the Bot API directly.
type BotAPI struct {
	Client *Client
	URL    string
	Secret string
}

// Register implements Registrar.
func (b *BotAPI) Register(ctx context.Context) error {
	if b.Secret == "" {
		return errors.New("webhook secret is not set")
	}
	if err := b.Client.SetWebhook(ctx, b.URL, b.Secret); err != nil {
		return err
	}
	logger.Get(ctx).Info("webhook registered", slog.String("url", b.URL))
	return nil
}

// Verify implements Registrar.
func (b *BotAPI) Verify(ctx context.Context) error {
	info, err := b.Client.GetWebhookInfo(ctx)
	if err != nil {
		return err
	}
	if info.URL != b.URL {
		return fmt.Errorf("%w: want %q, got %q", ErrMismatch, b.URL, info.URL)
	}
	if info.LastErrorMessage != "" {
		logger.Get(ctx).Warn("webhook reports a delivery error",
			slog.String("error", info.LastErrorMessage),
			slog.Int("pending", info.PendingUpdateCount),
		)
	}
	return nil
}

// Execer runs a command inside the bot container.
type Execer interface {
	Exec(ctx context.Context, args ...string) (string, error)
}

// Script registers the webhook by running the bot's own scripts inside its
// container.
type Script struct {
	Exec Execer
	// Interpreter runs the scripts, "python" if empty.
	Interpreter string
	// RegisterPath and VerifyPath are script paths inside the container.
	// An empty VerifyPath skips verification.
	RegisterPath string
	VerifyPath   string
}

func (s *Script) run(ctx context.Context, path string) error {
	interp := s.Interpreter
	if interp == "" {
		interp = "python"
	}
	out, err := s.Exec.Exec(ctx, interp, path)
	if out = strings.TrimSpace(out); out != "" {
		logger.Get(ctx).Debug("webhook script output", slog.String("script", path), slog.String("output", out))
	}
	return err
}

// Register implements Registrar.
func (s *Script) Register(ctx context.Context) error {
	if s.RegisterPath == "" {
		return errors.New("no webhook registration script configured")
	}
	return s.run(ctx, s.RegisterPath)
}

// Verify implements Registrar.
func (s *Script) Verify(ctx context.Context) error {
	if s.VerifyPath == "" {
		return nil
	}
	return s.run(ctx, s.VerifyPath)
}

var (
	_ Registrar = (*BotAPI)(nil)
	_ Registrar = (*Script)(nil)
)
