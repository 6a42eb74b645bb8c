// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package filelock

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireConflict(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".botops.lock")
	first, err := Acquire(path, "deploy pid=123")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := first.Release(); err != nil {
			t.Fatal(err)
		}
	})

	_, err = Acquire(path, "rollback pid=456")
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("want %v, got %v", ErrAlreadyLocked, err)
	}
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("want *HeldError, got %T", err)
	}
	if held.Holder != "deploy pid=123" {
		t.Fatalf("unexpected holder: %q", held.Holder)
	}
	if !strings.Contains(err.Error(), "deploy pid=123") {
		t.Fatalf("error must name the holder: %v", err)
	}
}

func TestAcquireCreatesDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "backups", ".botops.lock")
	lock, err := Acquire(path, "pid=1\n")
	if err != nil {
		t.Fatal(err)
	}
	if got := Holder(path); got != "pid=1" {
		t.Fatalf("unexpected payload: %q", got)
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	if got := Holder(path); got != "" {
		t.Fatalf("payload must be cleared on release, got %q", got)
	}
}

func TestIsLockedLifecycle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".botops.lock")
	if IsLocked(path) {
		t.Fatal("expected unlocked file")
	}

	lock, err := Acquire(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if !IsLocked(path) {
		t.Fatal("expected file to be locked")
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	if IsLocked(path) {
		t.Fatal("expected file to be unlocked")
	}
}
