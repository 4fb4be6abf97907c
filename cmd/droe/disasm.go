package main

import (
	"fmt"
	"os"

	"github.com/droe-lang/droec/pkg/bytecode"
)

func cmdDisasm(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: droe disasm <artifact>")
		return 2
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "droe: reading %s: %v\n", args[0], err)
		return 2
	}

	chunk, err := bytecode.Deserialize(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "droe: %s is not a valid artifact: %v\n", args[0], err)
		return 1
	}

	fmt.Print(chunk.Disassemble())
	return 0
}
