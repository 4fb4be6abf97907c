package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
include_roots = ["vendor", "/opt/droe/lib"]
default_target = "bytecode"
db_dsn = "file:app.db"
`
	if err := os.WriteFile(filepath.Join(dir, "droe.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.IncludeRoots) != 2 {
		t.Fatalf("include roots count = %d, want 2", len(m.IncludeRoots))
	}
	if m.IncludeRoots[0] != "vendor" {
		t.Errorf("include roots[0] = %q, want vendor", m.IncludeRoots[0])
	}
	if m.DefaultTarget != "bytecode" {
		t.Errorf("default target = %q, want bytecode", m.DefaultTarget)
	}
	if m.DBDSN != "file:app.db" {
		t.Errorf("db dsn = %q, want file:app.db", m.DBDSN)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `include_roots = ["src"]`
	if err := os.WriteFile(filepath.Join(dir, "droe.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.DefaultTarget != "bytecode" {
		t.Errorf("default target = %q, want bytecode (default)", m.DefaultTarget)
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `default_target = "bytecode"`
	if err := os.WriteFile(filepath.Join(dir, "droe.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.DefaultTarget != "bytecode" {
		t.Errorf("default target = %q, want bytecode", m.DefaultTarget)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no droe.toml exists")
	}
}

func TestIncludeRootPaths(t *testing.T) {
	m := &Manifest{
		Dir:          "/app",
		IncludeRoots: []string{"vendor", "/opt/droe/lib"},
	}

	paths := m.IncludeRootPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/vendor" {
		t.Errorf("paths[0] = %q, want /app/vendor", paths[0])
	}
	if paths[1] != "/opt/droe/lib" {
		t.Errorf("paths[1] = %q, want /opt/droe/lib (already absolute)", paths[1])
	}
}
