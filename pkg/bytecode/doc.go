// Package bytecode implements the instruction set, artifact format, and
// stack-based virtual machine that sit at the center of the compiler
// toolchain: the emitter lowers a checked AST into a Chunk, the artifact
// format is that Chunk's wire encoding, and the VM executes it.
//
// # Architecture
//
//   - Opcodes (opcodes.go): a closed, fixed-width instruction set covering
//     stack manipulation, locals/globals, arithmetic, comparison, logic,
//     control flow, strings, collections, records, calls, and host
//     delegation.
//
//   - Value (value.go): the typed tagged union every operand stack slot
//     holds. Decimal values carry an already-×100-scaled int64; overflow
//     and divide-by-zero are runtime errors, never silent wraparound.
//
//   - Chunk (chunk.go): the in-memory artifact — metadata, constant pool,
//     record schemas, module/action table, endpoint table, and the
//     instruction stream — with Serialize/Deserialize implementing the
//     on-disk wire format.
//
//   - Compiler (compiler.go): lowers ast.Program into a Chunk.
//
//   - VM (vm.go): the fetch-dispatch-advance loop executing a Chunk's
//     instructions against an operand stack and frame stack, delegating
//     I/O, HTTP, and persistence to a host.Host implementation.
//
//   - Disassembler (disasm.go): a human-readable listing of a Chunk's
//     instruction stream, used by the CLI's disasm subcommand.
package bytecode
