// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package cli runs the operator commands: it parses flags, applies their
// environment overrides, sets up logging and maps errors to exit codes.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.astrophena.name/botops/internal/cli/envflag"
	"go.astrophena.name/botops/internal/logger"
	"go.astrophena.name/botops/internal/version"
)

// Main runs app in the process environment and exits with its exit code.
// Interrupts and SIGTERM cancel the context passed to app.
func Main(app App) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Run(WithEnv(ctx, osEnv()), app)
	cancel()

	if err != nil && isPrintableError(err) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", version.CmdName(), err)
	}
	os.Exit(exitCode(err))
}

// exitCode is 0 on success, 2 for usage errors and 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrExitVersion):
		return 0
	case errors.Is(err, ErrInvalidArgs), errors.Is(err, flag.ErrHelp), isFlagError(err):
		return 2
	default:
		return 1
	}
}

type unprintableError struct{ err error }

func (e *unprintableError) Error() string { return e.err.Error() }
func (e *unprintableError) Unwrap() error { return e.err }

type flagError struct{ unprintableError }

func isFlagError(err error) bool {
	var fe *flagError
	return errors.As(err, &fe)
}

func isPrintableError(err error) bool {
	if errors.Is(err, flag.ErrHelp) || isFlagError(err) {
		return false
	}
	var ue *unprintableError
	return !errors.As(err, &ue)
}

// ErrExitVersion is returned by Run after printing the version.
var ErrExitVersion = &unprintableError{errors.New("version flag exit")}

// ErrInvalidArgs reports bad command-line arguments. Wrap it with a message
// that tells the operator what to pass instead:
//
//	return fmt.Errorf("%w: want the timestamp of a backup", cli.ErrInvalidArgs)
var ErrInvalidArgs = errors.New("invalid arguments")

// App is a command-line application.
type App interface {
	// Run runs the application. The environment is available with GetEnv
	// and the logger with logger.Get.
	Run(context.Context) error
}

// HasFlags is an App with flags.
type HasFlags interface {
	App

	// Flags defines flags on fs. Use envflag.Bind to let an environment
	// variable set a flag.
	Flags(fs *flag.FlagSet)
}

// Env is what an application sees of its process.
type Env struct {
	Args   []string
	Getenv func(string) string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func osEnv() *Env {
	return &Env{
		Args:   os.Args[1:],
		Getenv: os.Getenv,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

type envKey struct{}

// WithEnv returns a copy of ctx that carries env.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// GetEnv returns the environment stored in ctx by WithEnv, or the process
// environment if there is none.
func GetEnv(ctx context.Context) *Env {
	if env, ok := ctx.Value(envKey{}).(*Env); ok {
		return env
	}
	return osEnv()
}

// Run parses flags from the environment in ctx and runs app with a logger
// writing to its standard error.
func Run(ctx context.Context, app App) error {
	env := GetEnv(ctx)
	if env.Getenv == nil {
		env.Getenv = func(string) string { return "" }
	}

	flags := flag.NewFlagSet(version.CmdName(), flag.ContinueOnError)
	if fa, ok := app.(HasFlags); ok {
		fa.Flags(flags)
	}
	var showVersion, verbose bool
	if flags.Lookup("version") == nil {
		flags.BoolVar(&showVersion, "version", false, "Show version.")
	}
	if flags.Lookup("v") == nil {
		flags.BoolVar(&verbose, "v", false, "Enable debug logging.")
	}
	flags.SetOutput(env.Stderr)
	flags.Usage = func() { usage(env.Stderr, flags) }

	if err := flags.Parse(env.Args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		// The flag package has printed it along with usage.
		return &flagError{unprintableError{err}}
	}
	if err := envflag.Apply(flags, env.Getenv); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if showVersion {
		fmt.Fprint(env.Stderr, version.Version())
		return ErrExitVersion
	}
	env.Args = flags.Args()

	l := logger.New(env.Stderr)
	if verbose {
		l.Level.Set(slog.LevelDebug)
	}
	return app.Run(logger.Put(WithEnv(ctx, env), l))
}

func usage(w io.Writer, flags *flag.FlagSet) {
	if doc := docComment(docSrc); doc != "" {
		fmt.Fprintln(w, doc)
	}
	fmt.Fprint(w, "Flags:\n\n")
	flags.PrintDefaults()
}

var docSrc []byte

// SetDocComment sets the source of the package documentation printed by
// -help. The documentation is the first /* ... */ block of src, with the
// delimiters on lines of their own. Commands embed their doc.go:
//
//	//go:embed doc.go
//	var doc []byte
//
//	func init() { cli.SetDocComment(doc) }
func SetDocComment(src []byte) { docSrc = src }

func docComment(src []byte) string {
	_, rest, ok := strings.Cut(string(src), "/*\n")
	if !ok {
		return ""
	}
	doc, _, ok := strings.Cut(rest, "\n*/")
	if !ok {
		return ""
	}
	return doc + "\n"
}
