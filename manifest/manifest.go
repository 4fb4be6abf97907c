// Package manifest handles droe.toml project configuration: include
// search roots, the default compilation target, and the reference host's
// database connection string.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a droe.toml project configuration.
type Manifest struct {
	IncludeRoots  []string `toml:"include_roots"`
	DefaultTarget string   `toml:"default_target"`
	DBDSN         string   `toml:"db_dsn"`

	// Dir is the directory containing the droe.toml file (set at load time).
	Dir string `toml:"-"`
}

// Load parses a droe.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "droe.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.DefaultTarget == "" {
		m.DefaultTarget = "bytecode"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a droe.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found; a
// project without one simply resolves includes relative to each file and
// compiles to the registry's default target.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "droe.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// IncludeRootPaths returns absolute paths for the configured include
// roots, relative ones resolved against the manifest's own directory.
func (m *Manifest) IncludeRootPaths() []string {
	paths := make([]string, len(m.IncludeRoots))
	for i, r := range m.IncludeRoots {
		if filepath.IsAbs(r) {
			paths[i] = r
			continue
		}
		paths[i] = filepath.Join(m.Dir, r)
	}
	return paths
}
