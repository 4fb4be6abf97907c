package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/droe-lang/droec/pkg/bytecode"
	"github.com/droe-lang/droec/pkg/parser"
)

func TestFindMainActionFound(t *testing.T) {
	chunk := &bytecode.Chunk{
		Modules: []bytecode.ModuleSchema{
			{Name: "Greet", Actions: []bytecode.ActionSchema{{Name: "main"}}},
			{Name: "", Actions: []bytecode.ActionSchema{{Name: "helper"}, {Name: "main", Entry: 42}}},
		},
	}
	act, ok := findMainAction(chunk)
	if !ok {
		t.Fatal("expected to find a main action in the root module")
	}
	if act.Entry != 42 {
		t.Errorf("Entry = %d, want 42 (the root module's main, not Greet's)", act.Entry)
	}
}

func TestFindMainActionMissing(t *testing.T) {
	chunk := &bytecode.Chunk{
		Modules: []bytecode.ModuleSchema{
			{Name: "", Actions: []bytecode.ActionSchema{{Name: "helper"}}},
		},
	}
	if _, ok := findMainAction(chunk); ok {
		t.Fatal("expected no main action to be found")
	}
}

func TestLoadOrCompileFromSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.droe")
	if err := os.WriteFile(path, []byte(`display "hi"`), 0644); err != nil {
		t.Fatal(err)
	}

	chunk, err := loadOrCompile(path)
	if err != nil {
		t.Fatalf("loadOrCompile: %v", err)
	}
	if chunk == nil {
		t.Fatal("expected a non-nil chunk")
	}
}

func TestLoadOrCompileFromArtifact(t *testing.T) {
	prog, diags := parser.Parse("test.droe", `display "hi"`)
	if diags.HasErrors() {
		t.Fatalf("parse: %v", diags)
	}
	chunk, err := bytecode.Compile(prog, 0)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "main.droebc")
	if err := os.WriteFile(path, chunk.Serialize(), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := loadOrCompile(path)
	if err != nil {
		t.Fatalf("loadOrCompile: %v", err)
	}
	if len(loaded.Code) != len(chunk.Code) {
		t.Errorf("loaded chunk code length = %d, want %d", len(loaded.Code), len(chunk.Code))
	}
}

func TestLoadOrCompileMissingFile(t *testing.T) {
	if _, err := loadOrCompile(filepath.Join(t.TempDir(), "missing.droe")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
