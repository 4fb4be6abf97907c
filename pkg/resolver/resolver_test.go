package resolver

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveSingleFile(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, dir, "main.droe", `display "Hello, World!"`)

	modules, diags := New(nil).Resolve(entry)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(modules) != 1 {
		t.Fatalf("got %d modules, want 1", len(modules))
	}
	if modules[0].Name != "" {
		t.Errorf("entry module name = %q, want empty", modules[0].Name)
	}
}

func TestResolveInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.droe", `action hello gives int end action`)
	entry := writeFile(t, dir, "main.droe", `@include Greet from "greet.droe"
display "hi"`)

	modules, diags := New(nil).Resolve(entry)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(modules) != 2 {
		t.Fatalf("got %d modules, want 2", len(modules))
	}
	if modules[1].Name != "Greet" {
		t.Errorf("included module name = %q, want Greet", modules[1].Name)
	}
}

func TestResolveIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.droe", `@include B from "b.droe"`)
	entry := writeFile(t, dir, "b.droe", `@include A from "a.droe"`)

	// b includes a, a includes b: resolving from b closes the cycle.
	_, diags := New(nil).Resolve(entry)
	if !diags.HasErrors() {
		t.Fatal("expected a cycle diagnostic")
	}
	found := false
	for _, d := range diags {
		if d.Kind == "resolve.include_cycle" {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics %v do not include resolve.include_cycle", diags)
	}
}

func TestResolveDuplicateModuleName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.droe", `display "a"`)
	writeFile(t, dir, "b.droe", `display "b"`)
	entry := writeFile(t, dir, "main.droe", `@include Shared from "a.droe"
@include Shared from "b.droe"`)

	_, diags := New(nil).Resolve(entry)
	if !diags.HasErrors() {
		t.Fatal("expected a duplicate-definition diagnostic")
	}
}

func TestResolveUsesIncludeRoots(t *testing.T) {
	libDir := t.TempDir()
	writeFile(t, libDir, "shared.droe", `display "shared"`)

	projectDir := t.TempDir()
	entry := writeFile(t, projectDir, "main.droe", `@include Shared from "shared.droe"`)

	modules, diags := New([]string{libDir}).Resolve(entry)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(modules) != 2 {
		t.Fatalf("got %d modules, want 2", len(modules))
	}
}

func TestRootsFromEnv(t *testing.T) {
	t.Setenv("DROE_HOME", "/opt/droe")
	roots := RootsFromEnv([]string{"vendor"})
	if len(roots) != 2 || roots[0] != "/opt/droe" || roots[1] != "vendor" {
		t.Errorf("roots = %v, want [/opt/droe vendor]", roots)
	}
}
