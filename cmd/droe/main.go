// Command droe is the compiler toolchain's entry point: compile, run,
// build, and disasm subcommands over the bytecode pipeline in pkg/droe,
// pkg/bytecode, and pkg/serve.
package main

import (
	"fmt"
	"os"
)

func main() {
	if chunk, ok := tryRunEmbedded(); ok {
		os.Exit(runChunk(chunk))
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "compile":
		os.Exit(cmdCompile(args))
	case "run":
		os.Exit(cmdRun(args))
	case "build":
		os.Exit(cmdBuild(args))
	case "disasm":
		os.Exit(cmdDisasm(args))
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "droe: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: droe <command> [arguments]

commands:
  compile <source> [--target name] [--out path]   compile to an artifact
  run <artifact-or-source> [--addr host:port]      compile if needed, then execute
  build <source> --release [--out path]            produce a standalone executable
  disasm <artifact>                                print a human-readable listing`)
}
