package main

import (
	"flag"
	"fmt"
	"os"
)

func cmdBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	target := fs.String("target", "", "registered backend name (default: bytecode)")
	out := fs.String("out", "", "output executable path (default: <source> without its .droe extension, or <source>.out for any other name)")
	release := fs.Bool("release", false, "append the artifact to this binary, producing a standalone executable")
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
		fmt.Fprintln(os.Stderr, "usage: droe build <source> --release [--out path]")
		return 2
	}
	if !*release {
		fmt.Fprintln(os.Stderr, "droe build currently only supports --release")
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
		outPath = trimKnownSourceExt(source)
	}

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "droe: locating own binary: %v\n", err)
		return 2
	}
	hostBinary, err := os.ReadFile(self)
	if err != nil {
		fmt.Fprintf(os.Stderr, "droe: reading %s: %v\n", self, err)
		return 2
	}

	if err := appendArtifact(hostBinary, result.Artifact, outPath); err != nil {
		fmt.Fprintf(os.Stderr, "droe: %v\n", err)
		return 2
	}
	return 0
}

func trimKnownSourceExt(path string) string {
	const ext = ".droe"
	if len(path) > len(ext) && path[len(path)-len(ext):] == ext {
		return path[:len(path)-len(ext)]
	}
	return path + ".out"
}
