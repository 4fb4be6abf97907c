// Package droe provides the CompilationContext that threads a source file
// through resolution, checking, and code generation. It is the one place
// target back ends get registered and module search roots get resolved;
// no phase keeps state of its own across runs, avoiding the module-level
// global state the toolchain this is adapted from relies on.
package droe

import (
	"github.com/droe-lang/droec/pkg/ast"
	"github.com/droe-lang/droec/pkg/check"
	"github.com/droe-lang/droec/pkg/codegen"
	"github.com/droe-lang/droec/pkg/diag"
	"github.com/droe-lang/droec/pkg/resolver"
)

// CompilationContext holds everything a compile run needs besides the
// entry file path itself: the registered back ends and the include
// search roots resolved from DROE_HOME and the project manifest.
type CompilationContext struct {
	Registry     *codegen.Registry
	IncludeRoots []string
}

// New builds a context with the bytecode back end registered and the
// given include roots, typically RootsFromManifest(m.IncludeRootPaths()).
func New(includeRoots []string) *CompilationContext {
	return &CompilationContext{
		Registry:     codegen.NewRegistry(),
		IncludeRoots: includeRoots,
	}
}

// Result is the successful outcome of a Compile call.
type Result struct {
	Artifact []byte
	Backend  codegen.Backend
}

// Compile resolves entryPath's include graph, checks every module, and
// generates the named target's output (the registry's default target
// when target is ""). A non-empty diag.List means the pipeline stopped at
// whichever phase produced it; Result is the zero value in that case.
func (ctx *CompilationContext) Compile(entryPath, target string) (Result, diag.List) {
	backend, err := ctx.Registry.Get(target)
	if err != nil {
		return Result{}, diag.List{diag.New(diag.CodegenInternal, diag.Span{}, "%v", err)}
	}

	modules, diags := resolver.New(ctx.IncludeRoots).Resolve(entryPath)
	if diags.HasErrors() {
		return Result{}, diags
	}

	if diags := check.New().Check(modules); diags.HasErrors() {
		return Result{}, diags
	}

	prog := mergeModules(entryPath, modules)

	artifact, err := backend.Generate(prog)
	if err != nil {
		return Result{}, diag.List{diag.New(diag.CodegenInternal, diag.Span{}, "%v", err)}
	}
	return Result{Artifact: artifact, Backend: backend}, nil
}

// mergeModules flattens a resolver module list into the single
// ast.Program the emitter expects: the entry file's own top-level
// declarations stay at the root, and every included module becomes a
// nested ast.ModuleDecl named after its include alias. This mirrors how a
// single-file program with inline `module <Name> ... end module` blocks
// is already shaped, so the emitter needs no separate multi-file path.
func mergeModules(entryPath string, modules []resolver.Module) *ast.Program {
	prog := &ast.Program{File: entryPath}
	for _, m := range modules {
		if m.Name == "" {
			prog.Decls = append(prog.Decls, m.Program.Decls...)
			prog.Metadata = append(prog.Metadata, m.Program.Metadata...)
			continue
		}
		prog.Decls = append(prog.Decls, &ast.ModuleDecl{Name: m.Name, Decls: m.Program.Decls})
	}
	return prog
}

// RootsFromManifest combines DROE_HOME (spec.md §6.4) with a project
// manifest's include_roots, DROE_HOME taking priority.
func RootsFromManifest(manifestRoots []string) []string {
	return resolver.RootsFromEnv(manifestRoots)
}
