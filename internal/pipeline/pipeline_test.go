// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"go.astrophena.name/botops/internal/logger"
	"go.astrophena.name/botops/internal/testutil"
)

func step(name string, res Result, ran *[]string) Step {
	return Step{Name: name, Run: func(context.Context) Result {
		*ran = append(*ran, name)
		return res
	}}
}

func fakeClock() func() time.Time {
	t := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	cases := map[string]struct {
		steps       func(*[]string) []Step
		wantRan     []string
		wantStatus  []Status
		wantFatalAt string
	}{
		"all ok": {
			steps: func(ran *[]string) []Step {
				return []Step{step("a", OK(""), ran), step("b", Skip("nothing"), ran)}
			},
			wantRan:    []string{"a", "b"},
			wantStatus: []Status{StatusOK, StatusSkipped},
		},
		"warn continues": {
			steps: func(ran *[]string) []Step {
				return []Step{step("build", Warn(boom), ran), step("up", OK(""), ran)}
			},
			wantRan:    []string{"build", "up"},
			wantStatus: []Status{StatusWarn, StatusOK},
		},
		"fatal halts": {
			steps: func(ran *[]string) []Step {
				return []Step{step("pre", OK(""), ran), step("health", Fatal(boom), ran), step("webhook", OK(""), ran)}
			},
			wantRan:     []string{"pre", "health"},
			wantStatus:  []Status{StatusOK, StatusFatal},
			wantFatalAt: "health",
		},
		"zero result is ok": {
			steps: func(ran *[]string) []Step {
				return []Step{step("noop", Result{}, ran)}
			},
			wantRan:    []string{"noop"},
			wantStatus: []Status{StatusOK},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			ctx := logger.Put(context.Background(), logger.New(&buf))

			var ran []string
			r := New(fakeClock())
			err := r.Execute(ctx, tc.steps(&ran)...)

			testutil.AssertEqual(t, ran, tc.wantRan)
			var got []Status
			for _, rec := range r.Records {
				got = append(got, rec.Status)
				testutil.AssertEqual(t, rec.Duration, time.Second)
			}
			testutil.AssertEqual(t, got, tc.wantStatus)

			if tc.wantFatalAt == "" {
				if err != nil {
					t.Fatalf("Execute: %v", err)
				}
				return
			}
			var fe *FatalError
			if !errors.As(err, &fe) {
				t.Fatalf("Execute: got %v, want *FatalError", err)
			}
			testutil.AssertEqual(t, fe.Step, tc.wantFatalAt)
			if !errors.Is(err, boom) {
				t.Fatalf("Execute: %v doesn't wrap the step error", err)
			}
			testutil.AssertSubstring(t, buf.String(), r.ID)
		})
	}
}

func TestExecuteCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	r := New(nil)
	err := r.Execute(ctx,
		Step{Name: "first", Run: func(context.Context) Result {
			ran = append(ran, "first")
			cancel()
			return OK("")
		}},
		step("second", OK(""), &ran),
	)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute: got %v, want context.Canceled", err)
	}
	testutil.AssertEqual(t, ran, []string{"first"})
}

func TestWarnings(t *testing.T) {
	t.Parallel()

	var ran []string
	r := New(nil)
	if err := r.Execute(context.Background(),
		step("git pull", Warn(errors.New("no remote")), &ran),
		step("build", OK(""), &ran),
		step("webhook", Warn(nil), &ran),
	); err != nil {
		t.Fatal(err)
	}

	warns := r.Warnings()
	testutil.AssertEqual(t, len(warns), 2)
	testutil.AssertEqual(t, warns[0].Error, "no remote")
	testutil.AssertEqual(t, warns[1].Error, "unknown error")

	if _, err := uuid.Parse(r.ID); err != nil {
		t.Fatalf("run ID %q is not a UUID: %v", r.ID, err)
	}
}
