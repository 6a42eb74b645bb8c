// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package container

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Project is the subset of a compose file the deploy tooling cares about.
type Project struct {
	Name     string             `yaml:"name"`
	Services map[string]Service `yaml:"services"`
}

// Service is a compose service definition.
type Service struct {
	Image         string   `yaml:"image"`
	Build         any      `yaml:"build"` // a path or a mapping
	ContainerName string   `yaml:"container_name"`
	Ports         []string `yaml:"ports"`
	EnvFile       any      `yaml:"env_file"` // a path or a list
}

// LoadProject parses the compose file at path.
func LoadProject(path string) (*Project, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := new(Project)
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(p.Services) == 0 {
		return nil, fmt.Errorf("%s: no services defined", path)
	}
	return p, nil
}

// ServiceNames returns the names of all services, sorted.
func (p *Project) ServiceNames() []string {
	var names []string
	for name := range p.Services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the service named name.
func (p *Project) Lookup(name string) (Service, error) {
	s, ok := p.Services[name]
	if !ok {
		return Service{}, fmt.Errorf("service %q is not defined, have %v", name, p.ServiceNames())
	}
	if s.Image == "" && s.Build == nil {
		return Service{}, errors.New("service " + name + " has neither image nor build")
	}
	return s, nil
}
