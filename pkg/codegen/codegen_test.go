package codegen

import (
	"testing"

	"github.com/droe-lang/droec/pkg/ast"
)

type fakeBackend struct{ name string }

func (f fakeBackend) Name() string          { return f.name }
func (f fakeBackend) FileExtension() string { return "." + f.name }
func (f fakeBackend) RuntimeLibs() []string { return []string{"fake-runtime"} }
func (f fakeBackend) Generate(prog *ast.Program) ([]byte, error) {
	return nil, nil
}

func TestNewRegistryDefaultsToBytecode(t *testing.T) {
	r := NewRegistry()
	if r.Default() != "bytecode" {
		t.Errorf("Default() = %q, want bytecode", r.Default())
	}
	b, err := r.Get("")
	if err != nil {
		t.Fatalf("Get(\"\"): %v", err)
	}
	if b.Name() != "bytecode" {
		t.Errorf("Get(\"\").Name() = %q, want bytecode", b.Name())
	}
	if b.FileExtension() != ".droebc" {
		t.Errorf("FileExtension() = %q, want .droebc", b.FileExtension())
	}
}

func TestRegistryGetUnknownTarget(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nonexistent"); err == nil {
		t.Fatal("expected an error for an unregistered target")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	names := r.Names()
	if len(names) != 1 || names[0] != "bytecode" {
		t.Errorf("Names() = %v, want [bytecode]", names)
	}
}

func TestRegistryRegisterAdditionalBackend(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeBackend{name: "wasm"}, false)

	if r.Default() != "bytecode" {
		t.Errorf("Default() = %q, want bytecode (registering non-default should not change it)", r.Default())
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "bytecode" || names[1] != "wasm" {
		t.Errorf("Names() = %v, want [bytecode wasm]", names)
	}

	b, err := r.Get("wasm")
	if err != nil {
		t.Fatalf("Get(\"wasm\"): %v", err)
	}
	if len(b.RuntimeLibs()) != 1 || b.RuntimeLibs()[0] != "fake-runtime" {
		t.Errorf("RuntimeLibs() = %v", b.RuntimeLibs())
	}
}

func TestRegistryRegisterAsDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeBackend{name: "wasm"}, true)

	if r.Default() != "wasm" {
		t.Errorf("Default() = %q, want wasm", r.Default())
	}
}
