package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func cmdCompile(args []string) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	target := fs.String("target", "", "registered backend name (default: bytecode)")
	out := fs.String("out", "", "output path (default: <source> with the backend's extension)")
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return 2
		}
		if args = fs.Args(); len(args) == 0 {
			break
		}
		positional, args = append(positional, args[0]), args[1:]
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "usage: droe compile <source> [--target name] [--out path]")
		return 2
	}

	source := positional[0]
	ctx, m := loadProject(source)

	wantTarget := *target
	if wantTarget == "" && m != nil {
		wantTarget = m.DefaultTarget
	}

	result, diags := ctx.Compile(source, wantTarget)
	if diags.HasErrors() {
		printDiagnostics(diags)
		return 1
	}

	outPath := *out
	if outPath == "" {
		outPath = strings.TrimSuffix(source, filepath.Ext(source)) + result.Backend.FileExtension()
	}
	if err := os.WriteFile(outPath, result.Artifact, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "droe: writing %s: %v\n", outPath, err)
		return 2
	}
	return 0
}
