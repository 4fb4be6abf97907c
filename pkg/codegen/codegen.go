// Package codegen registers the available compilation back ends and
// dispatches `--target` by name. The bytecode emitter is always
// registered, under the name "bytecode", and is the default: every other
// back end is additive, never a replacement for it.
package codegen

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/droe-lang/droec/pkg/ast"
	"github.com/droe-lang/droec/pkg/bytecode"
)

// Backend is the capability interface a compilation target implements.
// Generate receives a checked program and produces the target's on-disk
// bytes; FileExtension names the suffix a driver should use when writing
// that output; RuntimeLibs lists the runtime support a consumer of the
// generated output needs (empty for the bytecode target, which needs only
// the VM already in this module).
type Backend interface {
	Name() string
	FileExtension() string
	RuntimeLibs() []string
	Generate(prog *ast.Program) ([]byte, error)
}

// Registry holds the set of back ends a CLI driver can select between
// with `--target`.
type Registry struct {
	backends map[string]Backend
	def      string
}

// NewRegistry builds a Registry with the bytecode back end already
// registered and selected as the default.
func NewRegistry() *Registry {
	r := &Registry{backends: map[string]Backend{}}
	r.Register(bytecodeBackend{}, true)
	return r
}

// Register adds a back end to the registry. If asDefault is true, or if
// this is the first back end registered, it becomes the default target.
func (r *Registry) Register(b Backend, asDefault bool) {
	r.backends[b.Name()] = b
	if asDefault || r.def == "" {
		r.def = b.Name()
	}
}

// Get resolves a target name to its Backend. An empty name resolves to the
// registry's default.
func (r *Registry) Get(name string) (Backend, error) {
	if name == "" {
		name = r.def
	}
	b, ok := r.backends[name]
	if !ok {
		return nil, errors.Errorf("unknown target %q (known: %s)", name, r.names())
	}
	return b, nil
}

// Default returns the name of the default back end.
func (r *Registry) Default() string { return r.def }

// Names returns every registered back end's name, sorted.
func (r *Registry) Names() []string { return r.names() }

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// bytecodeBackend wraps the emitter and artifact serializer (pkg/bytecode)
// as the privileged, always-registered back end: it is the only target
// the VM itself can run, and the only one spec.md's data flow requires.
type bytecodeBackend struct{}

func (bytecodeBackend) Name() string          { return "bytecode" }
func (bytecodeBackend) FileExtension() string { return ".droebc" }
func (bytecodeBackend) RuntimeLibs() []string { return nil }

func (bytecodeBackend) Generate(prog *ast.Program) ([]byte, error) {
	chunk, err := bytecode.Compile(prog, 0)
	if err != nil {
		return nil, errors.Wrap(err, "bytecode emission")
	}
	return chunk.Serialize(), nil
}
