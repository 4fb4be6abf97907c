package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/droe-lang/droec/pkg/bytecode"
	"github.com/droe-lang/droec/pkg/host"
)

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "listen address, used only when the program defines endpoints")
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
		fmt.Fprintln(os.Stderr, "usage: droe run <artifact-or-source> [--addr host:port]")
		return 2
	}

	chunk, err := loadOrCompile(positional[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	return runChunkServing(chunk, positional[0], *addr)
}

// loadOrCompile reads path as a serialized artifact; if that fails, it is
// treated as a source file and compiled to bytecode on the fly.
func loadOrCompile(path string) (*bytecode.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("droe: reading %s: %w", path, err)
	}

	if chunk, err := bytecode.Deserialize(data); err == nil {
		return chunk, nil
	}

	ctx, _ := loadProject(path)
	result, diags := ctx.Compile(path, "bytecode")
	if diags.HasErrors() {
		printDiagnostics(diags)
		return nil, fmt.Errorf("droe: %s failed to compile", path)
	}
	return bytecode.Deserialize(result.Artifact)
}

// newReferenceHost builds the reference Host for an artifact's project,
// opening its db_dsn if one is configured.
func newReferenceHost(sourcePath string) *host.ReferenceHost {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	_, m := loadProject(sourcePath)
	var db *host.DBAdapter
	if m != nil && m.DBDSN != "" {
		var err error
		db, err = host.OpenDBAdapter(m.DBDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "droe: opening database: %v\n", err)
		}
	}
	return host.NewReferenceHost(logger, db)
}

func findMainAction(chunk *bytecode.Chunk) (bytecode.ActionSchema, bool) {
	for _, mod := range chunk.Modules {
		if mod.Name != "" {
			continue
		}
		for _, act := range mod.Actions {
			if act.Name == "main" {
				return act, true
			}
		}
	}
	return bytecode.ActionSchema{}, false
}

// runChunk runs a standalone executable's embedded artifact: its main
// action once when it defines no endpoints, otherwise the HTTP front door
// on :8080.
func runChunk(chunk *bytecode.Chunk) int {
	return runChunkServing(chunk, "", ":8080")
}

// runChunkServing runs chunk: if it defines endpoints, it starts the HTTP
// front door on addr and blocks; otherwise it invokes the main action once
// and exits with 0, or 1 if a runtime error occurred. sourcePath locates
// the project's droe.toml, if any; it may be "" (a standalone executable
// has none to find beyond its own working directory).
func runChunkServing(chunk *bytecode.Chunk, sourcePath, addr string) int {
	h := newReferenceHost(sourcePath)

	if len(chunk.Endpoints) > 0 {
		return serveChunk(chunk, h, addr)
	}

	main, ok := findMainAction(chunk)
	if !ok {
		fmt.Fprintln(os.Stderr, "droe: artifact has no main action")
		return 1
	}

	vm := bytecode.New(chunk, h, nil)
	if _, err := vm.Invoke(main.Entry, main.Locals, main.HasRet, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
