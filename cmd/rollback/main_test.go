// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.astrophena.name/botops/internal/backup"
	"go.astrophena.name/botops/internal/cli"
	"go.astrophena.name/botops/internal/cli/clitest"
	"go.astrophena.name/botops/internal/filelock"
	"go.astrophena.name/botops/internal/orchestrator"
	"go.astrophena.name/botops/internal/testutil"
)

const backupTimestamp = "20200101_120000"

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

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var recorders sync.Map // *app → *recorder

func setup(t *testing.T) *app {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	testutil.WriteTree(t, dir, `
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
-- deploy.star --
health_url = "`+srv.URL+`/health"
health_attempts = 2
health_interval = 0
webhook = no_webhook()
`)

	store := &backup.Store{Dir: filepath.Join(dir, "backups")}
	if _, err := store.Create(context.Background(), backup.KindDeploy, backupTimestamp, dir, []string{"app", "requirements.txt"}); err != nil {
		t.Fatal(err)
	}
	writeMain(t, dir, `print("v2")`)

	rec := new(recorder)
	a := &app{dir: dir, runner: rec.run, httpc: srv.Client()}
	recorders.Store(a, rec)
	return a
}

func writeMain(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "app", "main.py"), []byte(content+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readMain(t *testing.T, dir string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, "app", "main.py"))
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(b))
}

// unchanged checks that nothing ran and the application tree wasn't
// touched.
func unchanged(t *testing.T, a *app) {
	t.Helper()
	testutil.AssertEqual(t, readMain(t, a.dir), `print("v2")`)
	rec, _ := recorders.Load(a)
	if n := rec.(*recorder).count(); n != 0 {
		t.Errorf("%d commands ran", n)
	}
	archives, err := (&backup.Store{Dir: filepath.Join(a.dir, "backups")}).List()
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(archives), 1)
}

func TestRollback(t *testing.T) {
	clitest.Run(t, setup, map[string]clitest.Case[*app]{
		"confirmed": {
			Args:  []string{backupTimestamp},
			Stdin: "yes\n",
			WantInStdout: []string{
				"This replaces the running application with backup_20200101_120000.tar.gz",
				"Rolled back production to backup_20200101_120000.tar.gz: succeeded.",
				"The replaced version was saved as pre_rollback_",
			},
			CheckFunc: func(t *testing.T, a *app) {
				testutil.AssertEqual(t, readMain(t, a.dir), `print("v1")`)
				st, err := orchestrator.LoadState(filepath.Join(a.dir, "backups"))
				if err != nil {
					t.Fatal(err)
				}
				testutil.AssertEqual(t, st.Operation, orchestrator.OpRollback)
			},
		},
		"full archive name": {
			Args:         []string{"backup_" + backupTimestamp + ".tar.gz"},
			Stdin:        "yes\n",
			WantInStdout: []string{"Rolled back production"},
			CheckFunc: func(t *testing.T, a *app) {
				testutil.AssertEqual(t, readMain(t, a.dir), `print("v1")`)
			},
		},
		"declined": {
			Args:         []string{backupTimestamp},
			Stdin:        "no\n",
			WantInStdout: []string{"Rollback cancelled, nothing was changed."},
			CheckFunc:    unchanged,
		},
		"only exact yes confirms": {
			Args:            []string{backupTimestamp},
			Stdin:           "Yes\n",
			WantInStdout:    []string{"Rollback cancelled"},
			WantNotInStdout: []string{"Rolled back"},
			CheckFunc:       unchanged,
		},
		"no answer": {
			Args:         []string{backupTimestamp},
			WantInStdout: []string{"Rollback cancelled"},
			CheckFunc:    unchanged,
		},
		"unknown timestamp": {
			Args:        []string{"20200102_000000"},
			WantErr:     backup.ErrNotFound,
			WantErrType: &orchestrator.NotFoundError{},
			CheckFunc:   unchanged,
		},
		"no timestamp": {
			WantErr: cli.ErrInvalidArgs,
		},
		"list": {
			Args:         []string{"-list"},
			WantInStdout: []string{"TIMESTAMP", backupTimestamp, "backup_20200101_120000.tar.gz"},
			CheckFunc:    unchanged,
		},
		"list with arguments": {
			Args:    []string{"-list", backupTimestamp},
			WantErr: cli.ErrInvalidArgs,
		},
		"invalid environment": {
			Args:    []string{"-env", "Prod", backupTimestamp},
			WantErr: cli.ErrInvalidArgs,
		},
	})
}

func TestListLastRun(t *testing.T) {
	a := setup(t)
	var stdout strings.Builder
	env := &cli.Env{
		Args:   []string{backupTimestamp},
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader("yes\n"),
		Stdout: &stdout,
		Stderr: new(strings.Builder),
	}
	if err := cli.Run(cli.WithEnv(context.Background(), env), a); err != nil {
		t.Fatal(err)
	}

	stdout.Reset()
	b := &app{dir: a.dir}
	env = &cli.Env{
		Args:   []string{"-list"},
		Getenv: func(string) string { return "" },
		Stdout: &stdout,
		Stderr: new(strings.Builder),
	}
	if err := cli.Run(cli.WithEnv(context.Background(), env), b); err != nil {
		t.Fatal(err)
	}
	testutil.AssertSubstring(t, stdout.String(), "pre_rollback_")
	testutil.AssertSubstring(t, stdout.String(), "Last run: rollback of production succeeded")
}

func TestListWhileLocked(t *testing.T) {
	a := setup(t)
	lock, err := filelock.Acquire(filepath.Join(a.dir, "backups", orchestrator.LockFile), "deploy production pid=42")
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	var stdout strings.Builder
	env := &cli.Env{
		Args:   []string{"-list"},
		Getenv: func(string) string { return "" },
		Stdout: &stdout,
		Stderr: new(strings.Builder),
	}
	if err := cli.Run(cli.WithEnv(context.Background(), env), a); err != nil {
		t.Fatal(err)
	}
	testutil.AssertSubstring(t, stdout.String(), "A deploy or rollback is running: deploy production pid=42.")
	unchanged(t, a)
}
