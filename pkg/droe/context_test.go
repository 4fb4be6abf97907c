package droe

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

func TestCompileSingleFile(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, dir, "main.droe", `display "hello"`)

	ctx := New(nil)
	result, diags := ctx.Compile(entry, "")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(result.Artifact) == 0 {
		t.Error("expected a non-empty artifact")
	}
	if result.Backend.Name() != "bytecode" {
		t.Errorf("Backend.Name() = %q, want bytecode", result.Backend.Name())
	}
}

func TestCompileWithInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.droe", `action hello gives int
give 1
end action`)
	entry := writeFile(t, dir, "main.droe", `@include Greet from "greet.droe"
set n which is int from Greet.hello
display n`)

	ctx := New(nil)
	_, diags := ctx.Compile(entry, "")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
}

func TestCompileStopsAtResolveErrors(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, dir, "main.droe", `@include Missing from "nope.droe"`)

	ctx := New(nil)
	result, diags := ctx.Compile(entry, "")
	if !diags.HasErrors() {
		t.Fatal("expected resolve diagnostics for a missing include")
	}
	if result.Artifact != nil {
		t.Error("expected a zero-value Result when resolution fails")
	}
}

func TestCompileStopsAtCheckErrors(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, dir, "main.droe", `display missing`)

	ctx := New(nil)
	_, diags := ctx.Compile(entry, "")
	if !diags.HasErrors() {
		t.Fatal("expected check-phase diagnostics for an unknown identifier")
	}
}

func TestCompileUnknownTarget(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, dir, "main.droe", `display "hi"`)

	ctx := New(nil)
	_, diags := ctx.Compile(entry, "nonexistent-target")
	if !diags.HasErrors() {
		t.Fatal("expected a diagnostic for an unregistered target")
	}
}

func TestRootsFromManifestPrependsDroeHome(t *testing.T) {
	t.Setenv("DROE_HOME", "/opt/droe")
	roots := RootsFromManifest([]string{"vendor"})
	if len(roots) != 2 || roots[0] != "/opt/droe" || roots[1] != "vendor" {
		t.Errorf("roots = %v, want [/opt/droe vendor]", roots)
	}
}
