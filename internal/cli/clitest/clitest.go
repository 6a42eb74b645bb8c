// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest runs table tests against cli.App implementations.
package clitest

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"go.astrophena.name/botops/internal/cli"
)

// Case is a single invocation of an application.
type Case[App cli.App] struct {
	// Args are the command-line arguments.
	Args []string
	// Stdin is what the application reads from standard input, answers to
	// prompts included.
	Stdin string
	// Env is the process environment seen by the application.
	Env map[string]string

	// WantErr is matched with errors.Is.
	WantErr error
	// WantErrType is matched by type against every error in the chain.
	WantErrType error
	// WantNothingPrinted requires both stdout and stderr to be empty.
	WantNothingPrinted bool
	// WantInStdout lists substrings that must be present in stdout.
	WantInStdout []string
	// WantNotInStdout lists substrings that must be absent from stdout.
	WantNotInStdout []string
	// WantInStderr lists substrings that must be present in stderr.
	WantInStderr []string

	// CheckFunc performs additional checks after the application has run.
	CheckFunc func(*testing.T, App)
}

// Run runs every case in parallel against a fresh App returned by setup.
func Run[App cli.App](t *testing.T, setup func(*testing.T) App, cases map[string]Case[App]) {
	t.Helper()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			app := setup(t)

			var stdout, stderr bytes.Buffer
			env := &cli.Env{
				Args:   tc.Args,
				Getenv: getenvFunc(tc.Env),
				Stdin:  strings.NewReader(tc.Stdin),
				Stdout: &stdout,
				Stderr: &stderr,
			}
			err := cli.Run(cli.WithEnv(context.Background(), env), app)

			switch {
			case err == nil && tc.WantErr != nil:
				t.Fatalf("must fail with error: %v", tc.WantErr)
			case err == nil && tc.WantErrType != nil:
				t.Fatalf("must fail with error type %T", tc.WantErrType)
			case err != nil && tc.WantErr == nil && tc.WantErrType == nil:
				t.Fatalf("unexpected error: %v\nstderr:\n%s", err, stderr.String())
			}
			if err != nil && tc.WantErr != nil && !errors.Is(err, tc.WantErr) {
				t.Fatalf("want error %v, got: %v", tc.WantErr, err)
			}
			if err != nil && tc.WantErrType != nil && !hasType(err, reflect.TypeOf(tc.WantErrType)) {
				t.Fatalf("want error of type %T in the chain of %v (%T)", tc.WantErrType, err, err)
			}

			if tc.WantNothingPrinted {
				if stdout.Len() > 0 {
					t.Errorf("stdout must be empty, got: %q", stdout.String())
				}
				if stderr.Len() > 0 {
					t.Errorf("stderr must be empty, got: %q", stderr.String())
				}
			}
			for _, s := range tc.WantInStdout {
				if !strings.Contains(stdout.String(), s) {
					t.Errorf("stdout must contain %q, got: %q", s, stdout.String())
				}
			}
			for _, s := range tc.WantNotInStdout {
				if strings.Contains(stdout.String(), s) {
					t.Errorf("stdout must not contain %q, got: %q", s, stdout.String())
				}
			}
			for _, s := range tc.WantInStderr {
				if !strings.Contains(stderr.String(), s) {
					t.Errorf("stderr must contain %q, got: %q", s, stderr.String())
				}
			}

			if tc.CheckFunc != nil {
				tc.CheckFunc(t, app)
			}
		})
	}
}

// hasType reports whether err or any error it wraps has type typ.
func hasType(err error, typ reflect.Type) bool {
	if err == nil {
		return false
	}
	if reflect.TypeOf(err) == typ {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		return hasType(x.Unwrap(), typ)
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if hasType(e, typ) {
				return true
			}
		}
	}
	return false
}

func getenvFunc(env map[string]string) func(string) string {
	return func(name string) string { return env[name] }
}
