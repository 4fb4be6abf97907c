// Package resolver expands @include references into a flat set of parsed
// modules, detecting include cycles and duplicate module definitions.
package resolver

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/droe-lang/droec/pkg/ast"
	"github.com/droe-lang/droec/pkg/diag"
	"github.com/droe-lang/droec/pkg/parser"
)

// Module is one resolved source file: its absolute path, the name it was
// included under (empty for the entry file), and its parsed program.
type Module struct {
	Path    string
	Name    string
	Program *ast.Program
}

// Resolver walks the @include graph starting from an entry file, producing
// one Module per distinct absolute path. IncludeRoots are search
// directories consulted (in order, before the including file's own
// directory) when an include path is not already absolute; they normally
// come from DROE_HOME and the project manifest's include_roots list.
type Resolver struct {
	IncludeRoots []string

	modules []Module
	byPath  map[string]*Module
	stack   []string // absolute paths currently being resolved, for cycle detection
	diags   diag.List
}

// New builds a Resolver with the given include search roots, in priority
// order. Roots that don't exist are kept; they simply never match a file.
func New(includeRoots []string) *Resolver {
	return &Resolver{
		IncludeRoots: includeRoots,
		byPath:       make(map[string]*Module),
	}
}

// Resolve parses entryPath and every module it transitively includes,
// returning the modules in include order (entry file first) along with
// any diagnostics. A non-empty diagnostic list means the module set is
// incomplete or inconsistent and must not be passed to the checker.
func (r *Resolver) Resolve(entryPath string) ([]Module, diag.List) {
	abs, err := filepath.Abs(entryPath)
	if err != nil {
		r.diags = append(r.diags, diag.New(diag.ResolveUnknownModule, diag.Span{},
			"cannot resolve entry path %q: %v", entryPath, err))
		return nil, r.diags
	}
	r.resolveFile(abs, "", "")
	return r.modules, r.diags
}

// resolveFile parses the file at abs (if not already parsed), recording it
// under includeName ("" for the entry file), then recurses into its own
// includes. fromFile is only used for diagnostic messages.
func (r *Resolver) resolveFile(abs, includeName, fromFile string) {
	if r.onStack(abs) {
		r.diags = append(r.diags, diag.New(diag.ResolveIncludeCycle, diag.Span{},
			"include cycle detected: %s", r.cycleDescription(abs)))
		return
	}

	if _, ok := r.byPath[abs]; ok {
		// Same file reachable under two different names is fine; only a
		// second *definition* of a module name (checked below) is an error.
		return
	}

	source, err := os.ReadFile(abs)
	if err != nil {
		r.diags = append(r.diags, diag.New(diag.ResolveUnknownModule, diag.Span{},
			"cannot read include %q (from %s): %v", abs, fromFile, err))
		return
	}

	prog, perrs := parser.Parse(abs, string(source))
	if perrs.HasErrors() {
		r.diags = append(r.diags, perrs...)
		return
	}

	if dup := r.findByName(includeName); includeName != "" && dup != nil {
		r.diags = append(r.diags, diag.New(diag.ResolveDuplicate, prog.Span(),
			"module %q already defined at %s", includeName, dup.Path))
		return
	}

	mod := Module{Path: abs, Name: includeName, Program: prog}
	r.byPath[abs] = &mod
	r.modules = append(r.modules, mod)

	r.stack = append(r.stack, abs)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	for _, inc := range prog.Includes {
		target, err := r.locate(inc.Path, filepath.Dir(abs))
		if err != nil {
			r.diags = append(r.diags, diag.New(diag.ResolveUnknownModule, inc.Span(),
				"cannot locate include %q from %s: %v", inc.Path, abs, err))
			continue
		}
		r.resolveFile(target, inc.Name, abs)
	}
}

// locate finds the absolute path for an include's path string, trying the
// including file's own directory first only when no root matches, matching
// spec.md's "includes resolve relative to the including file" default and
// the DROE_HOME/manifest override SPEC_FULL.md adds on top of it.
func (r *Resolver) locate(path, fromDir string) (string, error) {
	if filepath.IsAbs(path) {
		if fileExists(path) {
			return path, nil
		}
		return "", errors.Errorf("no such file %q", path)
	}

	for _, root := range r.IncludeRoots {
		candidate := filepath.Join(root, path)
		if fileExists(candidate) {
			return filepath.Abs(candidate)
		}
	}

	candidate := filepath.Join(fromDir, path)
	if fileExists(candidate) {
		return filepath.Abs(candidate)
	}

	return "", errors.Errorf("not found in include roots or relative to %q", fromDir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (r *Resolver) onStack(abs string) bool {
	for _, p := range r.stack {
		if p == abs {
			return true
		}
	}
	return false
}

func (r *Resolver) cycleDescription(abs string) string {
	s := ""
	for _, p := range r.stack {
		s += filepath.Base(p) + " -> "
	}
	return s + filepath.Base(abs)
}

func (r *Resolver) findByName(name string) *Module {
	if name == "" {
		return nil
	}
	for i := range r.modules {
		if r.modules[i].Name == name {
			return &r.modules[i]
		}
	}
	return nil
}

// RootsFromEnv builds an include-root list from the DROE_HOME environment
// variable (spec.md §6.4) followed by any extra roots supplied by the
// caller, typically a project manifest's include_roots list. DROE_HOME, if
// set, is consulted first.
func RootsFromEnv(extra []string) []string {
	var roots []string
	if home := os.Getenv("DROE_HOME"); home != "" {
		roots = append(roots, home)
	}
	roots = append(roots, extra...)
	return roots
}
