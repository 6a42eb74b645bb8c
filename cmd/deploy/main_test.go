// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.astrophena.name/botops/internal/backup"
	"go.astrophena.name/botops/internal/cli"
	"go.astrophena.name/botops/internal/cli/clitest"
	"go.astrophena.name/botops/internal/orchestrator"
	"go.astrophena.name/botops/internal/retry"
	"go.astrophena.name/botops/internal/testutil"
)

const project = `
-- .env --
TELEGRAM_BOT_TOKEN=123:abc
-- docker-compose.yml --
services:
  bot:
    build: .
-- app/main.py --
print("v1")
-- requirements.txt --
aiogram==3.4
`

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) run(_ context.Context, _, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	return nil, nil
}

func (r *recorder) ran(call string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.Contains(c, call) {
			return true
		}
	}
	return false
}

var recorders sync.Map // *app → *recorder

func setup(t *testing.T) *app {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	testutil.WriteTree(t, dir, project+`
-- deploy.star --
health_url = "`+srv.URL+`/health"
health_attempts = 2
health_interval = 0
webhook = no_webhook()
-- unhealthy.star --
health_url = "`+srv.URL+`/broken"
health_attempts = 2
health_interval = 0
webhook = no_webhook()
`)

	rec := new(recorder)
	a := &app{dir: dir, runner: rec.run, httpc: srv.Client()}
	recorders.Store(a, rec)
	return a
}

func recorderOf(a *app) *recorder {
	rec, _ := recorders.Load(a)
	return rec.(*recorder)
}

func TestDeploy(t *testing.T) {
	clitest.Run(t, setup, map[string]clitest.Case[*app]{
		"deploys": {
			WantInStdout: []string{
				"Deployed production: succeeded.",
				"To return to the previous version, run: rollback ",
				"==> containers",
			},
			CheckFunc: func(t *testing.T, a *app) {
				rec := recorderOf(a)
				for _, call := range []string{"compose -f docker-compose.yml --env-file .env version", "build --no-cache", " down", "up -d", " ps", "logs --no-color --tail 50"} {
					if !rec.ran(call) {
						t.Errorf("%q did not run, got %v", call, rec.calls)
					}
				}
				backups := filepath.Join(a.dir, "backups")
				archives, err := (&backup.Store{Dir: backups}).List()
				if err != nil {
					t.Fatal(err)
				}
				testutil.AssertEqual(t, len(archives), 1)
				st, err := orchestrator.LoadState(backups)
				if err != nil {
					t.Fatalf("no run record: %v", err)
				}
				testutil.AssertEqual(t, st.Outcome, orchestrator.Succeeded)
			},
		},
		"missing environment file": {
			Args:    []string{"staging"},
			WantErr: orchestrator.ErrPrecondition,
			CheckFunc: func(t *testing.T, a *app) {
				if rec := recorderOf(a); len(rec.calls) != 0 {
					t.Fatalf("commands ran: %v", rec.calls)
				}
				archives, err := (&backup.Store{Dir: filepath.Join(a.dir, "backups")}).List()
				if err != nil {
					t.Fatal(err)
				}
				testutil.AssertEqual(t, len(archives), 0)
			},
		},
		"invalid environment": {
			Args:    []string{"../prod"},
			WantErr: cli.ErrInvalidArgs,
		},
		"too many arguments": {
			Args:    []string{"production", "staging"},
			WantErr: cli.ErrInvalidArgs,
		},
		"unhealthy": {
			Env:             map[string]string{"BOTOPS_CONFIG": "unhealthy.star"},
			WantErr:         retry.ErrExhausted,
			WantErrType:     &orchestrator.HealthError{},
			WantInStderr:    []string{"waiting for the service to become healthy", "service is unhealthy", "to restore the previous version run: rollback "},
			WantNotInStdout: []string{"Deployed"},
			CheckFunc: func(t *testing.T, a *app) {
				if recorderOf(a).ran("logs") {
					t.Error("report ran after a failed health check")
				}
			},
		},
	})
}
