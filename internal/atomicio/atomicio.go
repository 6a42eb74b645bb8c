// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio provides atomic file writing with backups.
package atomicio

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	backupTimeFormat = "20060102150405.999999999"
	maxBackups       = 10
)

// WriteFile writes data to a file atomically. The previous version of the
// file, if any, is kept as a timestamped backup next to it; at most 10 backups
// are retained.
func WriteFile(name string, data []byte, perm fs.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}

	// The temporary file must live on the same filesystem for os.Rename to be
	// atomic.
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if _, err := os.Stat(name); err == nil {
		backupName := name + "." + time.Now().UTC().Format(backupTimeFormat) + ".bak"
		if err := os.Rename(name, backupName); err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}

	return pruneBackups(name)
}

// WriteJSON marshals v as indented JSON and writes it with WriteFile.
func WriteJSON(name string, v any, perm fs.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFile(name, append(b, '\n'), perm)
}

// ReadJSON unmarshals the contents of name into a new value of type T.
func ReadJSON[T any](name string) (T, error) {
	var v T
	b, err := os.ReadFile(name)
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(b, &v)
	return v, err
}

// listBackups returns the backups of name kept by WriteFile, oldest first.
func listBackups(name string) ([]string, error) {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return nil, err
	}
	// The timestamp format sorts lexically.
	slices.Sort(backups)
	return backups, nil
}

func pruneBackups(name string) error {
	backups, err := listBackups(name)
	if err != nil {
		return err
	}
	for len(backups) > maxBackups {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		backups = backups[1:]
	}
	return nil
}
