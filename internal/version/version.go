// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package version reports the build of the running command. It's printed by
// -version, sent as the User-Agent and stored in run records.
package version

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Info describes a build.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	// Commit and BuiltAt come from the vcs.revision and vcs.time build
	// settings.
	Commit  string `json:"commit,omitempty"`
	BuiltAt string `json:"built_at,omitempty"`
	// Modified is set for builds from a tree with uncommitted changes.
	Modified bool   `json:"modified,omitempty"`
	Go       string `json:"go"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
}

// Short returns name/version, where a development build is identified by its
// abbreviated commit.
func (i Info) Short() string {
	ver := i.Version
	if ver == "devel" && i.Commit != "" {
		ver = i.Commit
		if len(ver) > 12 {
			ver = ver[:12]
		}
		if i.Modified {
			ver += "-dirty"
		}
	}
	return i.Name + "/" + ver
}

func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (%s, %s/%s)\n", i.Name, i.Version, i.Go, i.OS, i.Arch)
	if i.Commit != "" {
		fmt.Fprintf(&sb, "commit %s", i.Commit)
		if i.Modified {
			sb.WriteString(" (modified)")
		}
		sb.WriteString("\n")
	}
	if i.BuiltAt != "" {
		fmt.Fprintf(&sb, "built at %s\n", i.BuiltAt)
	}
	return sb.String()
}

var current = sync.OnceValue(func() Info {
	name := "botops"
	if exe, err := os.Executable(); err == nil {
		name = filepath.Base(exe)
	}
	return loadInfo(name, debug.ReadBuildInfo)
})

// CmdName returns the base name of the running binary.
func CmdName() string { return current().Name }

// Version returns the build of the running binary.
func Version() Info { return current() }

// UserAgent is sent with outgoing HTTP requests.
func UserAgent() string { return current().Short() + " (receipt bot operations)" }

func loadInfo(name string, read func() (*debug.BuildInfo, bool)) Info {
	i := Info{
		Name:    name,
		Version: "devel",
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
	bi, ok := read()
	if !ok {
		return i
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		i.Version = v
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			i.Commit = s.Value
		case "vcs.time":
			i.BuiltAt = s.Value
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
	return i
}
