// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package envflag allows flags to be overridden by environment variables.
//
// A flag bound with Bind takes its value from the environment variable when
// it wasn't set on the command line:
//
//	fs.StringVar(&dir, "dir", ".", "Project directory.")
//	envflag.Bind(fs, "dir", "BOTOPS_DIR")
//	fs.Parse(args)
//	err := envflag.Apply(fs, os.Getenv)
package envflag

import (
	"flag"
	"fmt"
)

type envValue struct {
	flag.Value
	env string
}

func (v *envValue) String() string {
	if v == nil || v.Value == nil {
		return ""
	}
	return v.Value.String()
}

func (v *envValue) IsBoolFlag() bool {
	bf, ok := v.Value.(interface{ IsBoolFlag() bool })
	return ok && bf.IsBoolFlag()
}

// Bind makes the flag name of fs overridable by the environment variable
// envName. It panics if the flag is not defined.
func Bind(fs *flag.FlagSet, name, envName string) {
	f := fs.Lookup(name)
	if f == nil {
		panic("envflag: flag -" + name + " is not defined")
	}
	f.Value = &envValue{Value: f.Value, env: envName}
	f.Usage += " Can be overridden by " + envName + " environment variable."
}

// Apply sets bound flags that weren't given on the command line from the
// environment. It must be called after fs.Parse.
func Apply(fs *flag.FlagSet, getenv func(string) string) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		ev, ok := f.Value.(*envValue)
		if !ok || set[f.Name] || err != nil {
			return
		}
		s := getenv(ev.env)
		if s == "" {
			return
		}
		if serr := ev.Set(s); serr != nil {
			err = fmt.Errorf("invalid value %q of %s for flag -%s: %v", s, ev.env, f.Name, serr)
		}
	})
	return err
}
