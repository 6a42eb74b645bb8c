// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"testing"

	"go.astrophena.name/botops/internal/cli/envflag"
	"go.astrophena.name/botops/internal/logger"
)

type testApp struct {
	name    string
	gotArgs []string
	debug   bool
}

func (a *testApp) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.name, "name", "world", "Who to greet.")
	envflag.Bind(fs, "name", "GREET_NAME")
}

func (a *testApp) Run(ctx context.Context) error {
	env := GetEnv(ctx)
	a.gotArgs = env.Args
	a.debug = logger.Get(ctx).Logger.Enabled(ctx, -4)
	if a.name == "fail" {
		return fmt.Errorf("%w: refusing to greet %q", ErrInvalidArgs, a.name)
	}
	fmt.Fprintf(env.Stdout, "hello, %s\n", a.name)
	return nil
}

func testEnv(vars map[string]string, args ...string) (*Env, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &Env{
		Args:   args,
		Getenv: func(key string) string { return vars[key] },
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
	}, &stdout, &stderr
}

func TestRun(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		args       []string
		vars       map[string]string
		wantErr    error
		wantStdout string
		wantArgs   []string
		wantDebug  bool
	}{
		"defaults": {
			wantStdout: "hello, world\n",
		},
		"flag and args": {
			args:       []string{"-name", "bot", "one", "two"},
			wantStdout: "hello, bot\n",
			wantArgs:   []string{"one", "two"},
		},
		"flag from environment": {
			vars:       map[string]string{"GREET_NAME": "admin"},
			wantStdout: "hello, admin\n",
		},
		"verbose": {
			args:       []string{"-v"},
			wantStdout: "hello, world\n",
			wantDebug:  true,
		},
		"invalid args": {
			args:    []string{"-name", "fail"},
			wantErr: ErrInvalidArgs,
		},
		"help": {
			args:    []string{"-help"},
			wantErr: flag.ErrHelp,
		},
		"version": {
			args:    []string{"-version"},
			wantErr: ErrExitVersion,
		},
		"unknown flag": {
			args:    []string{"-bogus"},
			wantErr: errUnknownFlag,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env, stdout, _ := testEnv(tc.vars, tc.args...)
			app := new(testApp)
			err := Run(WithEnv(context.Background(), env), app)
			if tc.wantErr == errUnknownFlag {
				if !isFlagError(err) {
					t.Fatalf("want a flag error, got %v", err)
				}
				return
			}
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := stdout.String(); got != tc.wantStdout {
				t.Errorf("stdout = %q, want %q", got, tc.wantStdout)
			}
			if len(tc.wantArgs) > 0 && strings.Join(app.gotArgs, " ") != strings.Join(tc.wantArgs, " ") {
				t.Errorf("args = %v, want %v", app.gotArgs, tc.wantArgs)
			}
			if app.debug != tc.wantDebug {
				t.Errorf("debug = %v, want %v", app.debug, tc.wantDebug)
			}
		})
	}
}

var errUnknownFlag = errors.New("unknown flag")

func TestIsPrintableError(t *testing.T) {
	t.Parallel()

	if isPrintableError(&flagError{unprintableError{errors.New("flag provided but not defined: -x")}}) {
		t.Error("flag errors must not be printed twice")
	}
	if isPrintableError(flag.ErrHelp) {
		t.Error("flag.ErrHelp must not be printed")
	}
	if isPrintableError(ErrExitVersion) {
		t.Error("ErrExitVersion must not be printed")
	}
	if !isPrintableError(errors.New("boom")) {
		t.Error("regular errors must be printed")
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want int
	}{
		"success":      {nil, 0},
		"version":      {ErrExitVersion, 0},
		"invalid args": {fmt.Errorf("%w: want a timestamp", ErrInvalidArgs), 2},
		"help":         {flag.ErrHelp, 2},
		"bad flag":     {&flagError{unprintableError{errors.New("bad flag")}}, 2},
		"failure":      {errors.New("health check failed"), 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestDocComment(t *testing.T) {
	t.Parallel()

	src := "// header\n\n/*\nDeploy ships the bot.\n\n# Usage\n\n\t$ deploy\n*/\npackage main\n\n/*\nnot docs\n*/\n"
	want := "Deploy ships the bot.\n\n# Usage\n\n\t$ deploy\n"
	if got := docComment([]byte(src)); got != want {
		t.Errorf("docComment() = %q, want %q", got, want)
	}
	if got := docComment([]byte("package main\n")); got != "" {
		t.Errorf("docComment() without a block = %q", got)
	}
}

func TestUsage(t *testing.T) {
	t.Parallel()

	env, _, stderr := testEnv(nil, "-help")
	if err := Run(WithEnv(context.Background(), env), new(testApp)); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("want flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(stderr.String(), "Can be overridden by GREET_NAME environment variable.") {
		t.Errorf("usage does not mention the environment override:\n%s", stderr.String())
	}
}

func TestAsk(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   string
		want string
	}{
		"yes":        {in: "yes\n", want: "yes"},
		"no newline": {in: "yes", want: "yes"},
		"padded":     {in: "  no \n", want: "no"},
		"empty":      {in: "", want: ""},
		"only first": {in: "yes\nno\n", want: "yes"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			env, stdout, _ := testEnv(nil)
			env.Stdin = strings.NewReader(tc.in)
			got, err := env.Ask("Continue? ")
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("Ask() = %q, want %q", got, tc.want)
			}
			if stdout.String() != "Continue? " {
				t.Errorf("prompt = %q", stdout.String())
			}
		})
	}
}
