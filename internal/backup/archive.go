// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Create writes an archive of kind k stamped ts that contains the named
// paths, relative to root. Paths that don't exist are skipped; if none of
// them exists, Create returns ErrNothingToBackup and writes nothing. If an
// archive with the same name is already present, Create returns ErrExists.
func (s *Store) Create(ctx context.Context, k Kind, ts, root string, paths []string) (*Archive, error) {
	var present []string
	for _, p := range paths {
		if err := checkPath(p, root); err != nil {
			return nil, err
		}
		if _, err := os.Lstat(filepath.Join(root, p)); err == nil {
			present = append(present, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if len(present) == 0 {
		return nil, ErrNothingToBackup
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, err
	}
	name := Name(k, ts)
	dst := filepath.Join(s.Dir, name)

	tmp, err := os.CreateTemp(s.Dir, "."+name+".tmp")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	if err := writeArchive(ctx, tmp, root, present); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	// Link fails if dst exists, which keeps archives immutable even when two
	// writers pick the same timestamp.
	if err := os.Link(tmp.Name(), dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, dst)
		}
		return nil, err
	}
	return s.Find(name)
}

func checkPath(p, root string) error {
	if !filepath.IsLocal(p) || filepath.Clean(p) == "." {
		return fmt.Errorf("path %q must name an entry inside %s", p, root)
	}
	return nil
}

func writeArchive(ctx context.Context, w io.Writer, root string, paths []string) error {
	zw := gzip.NewWriter(w)
	tw := tar.NewWriter(zw)

	for _, p := range paths {
		err := filepath.WalkDir(filepath.Join(root, p), func(file string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.IsDir() && !d.Type().IsRegular() {
				// Sockets, devices and symlinks are not part of an application
				// tree worth restoring.
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, file)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(fi, "")
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(rel)
			if d.IsDir() {
				hdr.Name += "/"
			}
			hdr.Uname, hdr.Gname = "", ""
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		})
		if err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

// Entries returns the top-level names stored in the archive, sorted.
func (a *Archive) Entries() ([]string, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var top []string
	err = readArchive(f, func(hdr *tar.Header, _ io.Reader) error {
		first, _, _ := strings.Cut(strings.TrimSuffix(hdr.Name, "/"), "/")
		if !slices.Contains(top, first) {
			top = append(top, first)
		}
		return nil
	})
	slices.Sort(top)
	return top, err
}

func readArchive(r io.Reader, f func(*tar.Header, io.Reader) error) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(hdr.Name, "/")
		if !filepath.IsLocal(filepath.FromSlash(name)) || path.Clean(name) != name {
			return fmt.Errorf("unsafe entry %q", hdr.Name)
		}
		if err := f(hdr, tr); err != nil {
			return err
		}
	}
}

// Restore replaces the application tree under root with the contents of a.
//
// The archive is first extracted to a staging directory inside root, so a
// damaged archive fails before anything is removed. Then every path in paths
// and every unit found in the archive is deleted from root and replaced by its
// staged copy. A unit is the entry of paths an archived file belongs to, or
// its top-level directory if it belongs to none.
func (s *Store) Restore(ctx context.Context, a *Archive, root string, paths []string) error {
	paths = slices.Clone(paths)
	for i, p := range paths {
		if err := checkPath(p, root); err != nil {
			return err
		}
		paths[i] = filepath.ToSlash(filepath.Clean(p))
	}

	stage, err := os.MkdirTemp(root, ".restore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	var units []string
	err = readArchive(f, func(hdr *tar.Header, r io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := strings.TrimSuffix(hdr.Name, "/")
		if u := unitOf(name, paths); !slices.Contains(units, u) {
			units = append(units, u)
		}
		dst := filepath.Join(stage, filepath.FromSlash(name))
		mode := hdr.FileInfo().Mode()

		switch hdr.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(dst, mode.Perm()|0o700)
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode.Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, r); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			return os.Chtimes(dst, hdr.ModTime, hdr.ModTime)
		default:
			return fmt.Errorf("unsupported entry %q of type %q", hdr.Name, hdr.Typeflag)
		}
	})
	if err != nil {
		return fmt.Errorf("extracting %s: %w", a.Name, err)
	}

	for _, u := range slices.Concat(paths, units) {
		if err := os.RemoveAll(filepath.Join(root, filepath.FromSlash(u))); err != nil {
			return err
		}
	}
	for _, u := range units {
		dst := filepath.Join(root, filepath.FromSlash(u))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(stage, filepath.FromSlash(u)), dst); err != nil {
			return err
		}
	}
	return nil
}

func unitOf(name string, paths []string) string {
	for _, p := range paths {
		if name == p || strings.HasPrefix(name, p+"/") {
			return p
		}
	}
	top, _, _ := strings.Cut(name, "/")
	return top
}
