package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the chunk, used by
// `droe disasm`.
func (c *Chunk) Disassemble() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "; Droe bytecode v%d\n", ArtifactVersion)
	fmt.Fprintf(&sb, "; source: %s  compiler: %s\n", c.Meta.SourceFile, c.Meta.CompilerVersion)

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range c.Constants {
			fmt.Fprintf(&sb, ";   [%3d] %s\n", i, describeConst(k))
		}
	}

	if len(c.RecordSchemas) > 0 {
		sb.WriteString("; Record schemas:\n")
		for i, rs := range c.RecordSchemas {
			names := make([]string, len(rs.Fields))
			for j, f := range rs.Fields {
				names[j] = f.Name
			}
			fmt.Fprintf(&sb, ";   [%3d] %s { %s }\n", i, rs.Name, strings.Join(names, ", "))
		}
	}

	if len(c.Modules) > 0 {
		sb.WriteString("; Modules:\n")
		for mi, m := range c.Modules {
			for ai, a := range m.Actions {
				fmt.Fprintf(&sb, ";   module[%d].action[%d] = %s.%s  entry=%04X locals=%d\n",
					mi, ai, m.Name, a.Name, a.Entry, a.Locals)
			}
		}
	}

	if len(c.Endpoints) > 0 {
		sb.WriteString("; Endpoints:\n")
		for i, e := range c.Endpoints {
			fmt.Fprintf(&sb, ";   [%3d] %s %s  entry=%04X\n", i, e.Method, e.PathTemplate, e.HandlerEntry)
		}
	}

	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, n := c.disassembleInstruction(offset)
		fmt.Fprintf(&sb, "%04X  %s\n", offset, line)
		offset += n
	}

	return sb.String()
}

func describeConst(k Const) string {
	switch k.Tag {
	case ConstInt:
		return fmt.Sprintf("int %d", k.Int)
	case ConstDecimal:
		return fmt.Sprintf("decimal %s", formatScaled(k.Scaled))
	case ConstText:
		return fmt.Sprintf("text %q", k.Text)
	case ConstFlag:
		return fmt.Sprintf("flag %v", k.Flag)
	case ConstDate:
		return fmt.Sprintf("date %q", k.Text)
	case ConstPattern:
		return fmt.Sprintf("pattern %q", k.Text)
	default:
		return "?"
	}
}

// disassembleInstruction renders one instruction starting at offset and
// returns its text plus its total length in bytes.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	op := Opcode(c.Code[offset])
	info := op.Info()
	n := op.InstructionLen()

	if offset+n > len(c.Code) {
		return fmt.Sprintf("%-16s <truncated>", info.Name), len(c.Code) - offset
	}
	operand := c.Code[offset+1 : offset+n]

	switch op {
	case OpPushConst, OpLoadGlobal, OpStoreGlobal, OpInterp, OpFormat, OpMakeList, OpMakeGroup, OpGetField, OpSetField:
		return fmt.Sprintf("%-16s %d", info.Name, binary.BigEndian.Uint16(operand)), n
	case OpLoadLocal, OpStoreLocal:
		return fmt.Sprintf("%-16s %d", info.Name, operand[0]), n
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpIterNext:
		return fmt.Sprintf("%-16s -> %04X", info.Name, binary.BigEndian.Uint32(operand)), n
	case OpMakeRecord:
		return fmt.Sprintf("%-16s type=%d n=%d", info.Name,
			binary.BigEndian.Uint16(operand[0:2]), binary.BigEndian.Uint16(operand[2:4])), n
	case OpCall:
		return fmt.Sprintf("%-16s module=%d action=%d argc=%d", info.Name,
			binary.BigEndian.Uint16(operand[0:2]), binary.BigEndian.Uint16(operand[2:4]), operand[4]), n
	case OpHostCall:
		return fmt.Sprintf("%-16s fn=%d argc=%d", info.Name, operand[0], operand[1]), n
	case OpDatabaseOp:
		return fmt.Sprintf("%-16s op=%d entity=%d", info.Name, operand[0], binary.BigEndian.Uint16(operand[1:3])), n
	case OpDefineEndpoint:
		return fmt.Sprintf("%-16s method=%d path=%d entry=%04X", info.Name,
			operand[0], binary.BigEndian.Uint16(operand[1:3]), binary.BigEndian.Uint32(operand[3:7])), n
	case OpDefineData:
		return fmt.Sprintf("%-16s schema=%d", info.Name, binary.BigEndian.Uint16(operand)), n
	default:
		return info.Name, n
	}
}
