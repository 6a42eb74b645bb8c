// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package botops_test

import (
	"bytes"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var sourceDirs = []string{"cmd", "internal"}

func TestGofmt(t *testing.T) {
	if _, err := exec.LookPath("gofmt"); err != nil {
		t.Skip("gofmt is not installed")
	}

	var w bytes.Buffer
	gofmt := exec.Command("gofmt", append([]string{"-l"}, sourceDirs...)...)
	gofmt.Stdout = &w
	gofmt.Stderr = &w
	if err := gofmt.Run(); err != nil {
		t.Fatalf("gofmt failed: %v\n\n%v", err, w.String())
	}
	if w.Len() > 0 {
		t.Fatalf("files are not formatted:\n%s", w.String())
	}
}

var header = regexp.MustCompile(`\A// © \d{4} Ilya Mateyko\. All rights reserved\.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE\.md file\.
`)

func TestCopyright(t *testing.T) {
	for _, dir := range append(sourceDirs, ".") {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != dir && (dir == "." || strings.HasPrefix(d.Name(), "_") || d.Name() == "testdata") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != ".go" {
				return nil
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if !header.Match(b) {
				t.Errorf("%s: missing copyright header", path)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

// Every command documents its usage in doc.go, which is embedded into its
// -help output.
func TestCommandDocs(t *testing.T) {
	cmds, err := os.ReadDir("cmd")
	if err != nil {
		t.Fatal(err)
	}
	for _, cmd := range cmds {
		if !cmd.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join("cmd", cmd.Name(), "doc.go"))
		if err != nil {
			t.Errorf("%s: %v", cmd.Name(), err)
			continue
		}
		if !bytes.Contains(b, []byte("# Usage")) {
			t.Errorf("%s: doc.go has no usage section", cmd.Name())
		}
	}
}
