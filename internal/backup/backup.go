// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package backup implements a directory of timestamped, immutable tar.gz
// snapshots of an application tree.
//
// Archives are named backup_<timestamp>.tar.gz or
// pre_rollback_<timestamp>.tar.gz, where timestamp has the form
// YYYYMMDD_HHMMSS. Once written, an archive is never modified; a name
// collision is reported as an error instead of an overwrite.
package backup

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// TimeLayout is the layout of archive timestamps.
const TimeLayout = "20060102_150405"

// DefaultKeep is the number of archives retained by Prune when Store.Keep is
// zero.
const DefaultKeep = 5

const ext = ".tar.gz"

// Kind tells why an archive was made.
type Kind string

// Archive kinds. The kind is the file name prefix.
const (
	KindDeploy      Kind = "backup"
	KindPreRollback Kind = "pre_rollback"
)

var kinds = []Kind{KindDeploy, KindPreRollback}

// Errors returned by Store methods.
var (
	ErrNotFound        = errors.New("backup not found")
	ErrNothingToBackup = errors.New("nothing to back up")
	ErrExists          = errors.New("backup already exists")
)

// Archive describes a single archive in the store.
type Archive struct {
	Name      string    `json:"name"`
	Path      string    `json:"-"`
	Kind      Kind      `json:"kind"`
	Timestamp string    `json:"timestamp"`
	ModTime   time.Time `json:"mod_time"`
	Size      int64     `json:"size"`
}

// Timestamp formats t as an archive timestamp.
func Timestamp(t time.Time) string { return t.Format(TimeLayout) }

// Name returns the file name of the archive of kind k made at ts.
func Name(k Kind, ts string) string { return string(k) + "_" + ts + ext }

// ParseName splits an archive file name into its kind and timestamp.
func ParseName(name string) (k Kind, ts string, ok bool) {
	base, found := strings.CutSuffix(name, ext)
	if !found {
		return "", "", false
	}
	for _, k := range kinds {
		ts, found := strings.CutPrefix(base, string(k)+"_")
		if !found {
			continue
		}
		if _, err := time.Parse(TimeLayout, ts); err != nil {
			return "", "", false
		}
		return k, ts, true
	}
	return "", "", false
}

// Store is a directory of archives.
type Store struct {
	// Dir is the directory that holds archives. It is created on first write.
	Dir string
	// Keep is how many archives Prune retains. Zero means DefaultKeep.
	Keep int
}

// List returns all archives in the store, most recently modified first.
// Files that don't follow the naming scheme are ignored. A missing directory
// is an empty store.
func (s *Store) List() ([]*Archive, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var archives []*Archive
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		k, ts, ok := ParseName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue // pruned concurrently
		}
		if err != nil {
			return nil, err
		}
		archives = append(archives, &Archive{
			Name:      e.Name(),
			Path:      filepath.Join(s.Dir, e.Name()),
			Kind:      k,
			Timestamp: ts,
			ModTime:   fi.ModTime(),
			Size:      fi.Size(),
		})
	}

	slices.SortFunc(archives, func(a, b *Archive) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return cmp.Compare(b.Name, a.Name)
	})
	return archives, nil
}

// Find returns the archive identified by ref, which is either a timestamp or
// a full archive file name. For a bare timestamp a deploy backup is preferred
// over a pre-rollback snapshot.
func (s *Store) Find(ref string) (*Archive, error) {
	var names []string
	if _, _, ok := ParseName(ref); ok {
		names = []string{ref}
	} else {
		for _, k := range kinds {
			names = append(names, Name(k, ref))
		}
	}

	for _, name := range names {
		if filepath.Base(name) != name {
			break
		}
		path := filepath.Join(s.Dir, name)
		fi, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		k, ts, _ := ParseName(name)
		return &Archive{
			Name:      name,
			Path:      path,
			Kind:      k,
			Timestamp: ts,
			ModTime:   fi.ModTime(),
			Size:      fi.Size(),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q in %s", ErrNotFound, ref, s.Dir)
}

// Prune deletes all but the Keep most recently modified archives and returns
// the deleted ones.
func (s *Store) Prune() ([]*Archive, error) {
	keep := cmp.Or(s.Keep, DefaultKeep)
	archives, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(archives) <= keep {
		return nil, nil
	}

	var removed []*Archive
	for _, a := range archives[keep:] {
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed = append(removed, a)
	}
	return removed, nil
}
