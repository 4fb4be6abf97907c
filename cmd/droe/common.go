package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/droe-lang/droec/pkg/diag"
	"github.com/droe-lang/droec/pkg/droe"
	"github.com/droe-lang/droec/manifest"
)

// loadProject reads sourcePath's droe.toml (if any) and builds the
// CompilationContext and default target that govern compiling it.
func loadProject(sourcePath string) (*droe.CompilationContext, *manifest.Manifest) {
	m, err := manifest.FindAndLoad(filepath.Dir(sourcePath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "droe: reading manifest: %v\n", err)
	}

	var manifestRoots []string
	if m != nil {
		manifestRoots = m.IncludeRootPaths()
	}
	return droe.New(droe.RootsFromManifest(manifestRoots)), m
}

func printDiagnostics(diags diag.List) {
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.Error())
	}
}
