package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind is the closed set of runtime value tags the VM's operand
// stack and constant pool hold.
type ValueKind byte

const (
	VInt ValueKind = iota
	VDecimal
	VText
	VFlag
	VDate
	VFile
	VList
	VGroup
	VRecord
	VVoid
)

// Value is a tagged union. Unlike the all-string stack this package's
// teacher uses, values here carry real Go types so decimal scale and
// integer overflow invariants are checkable without string parsing at
// every instruction.
type Value struct {
	Kind   ValueKind
	Int    int32
	Scaled int64 // decimal, already multiplied by 100
	Text   string
	Flag   bool
	List   []Value
	Record *Record
}

// Record is a reference value: assignment copies the reference, field
// mutation produces a new backing map so aliases never observe writes
// through a different handle that wasn't meant to share state.
type Record struct {
	TypeName string
	Fields   map[string]Value
}

func IntValue(v int32) Value        { return Value{Kind: VInt, Int: v} }
func DecimalValue(scaled int64) Value { return Value{Kind: VDecimal, Scaled: scaled} }
func TextValue(s string) Value      { return Value{Kind: VText, Text: s} }
func FlagValue(b bool) Value        { return Value{Kind: VFlag, Flag: b} }
func DateValue(s string) Value      { return Value{Kind: VDate, Text: s} }
func FileValue(s string) Value      { return Value{Kind: VFile, Text: s} }
func VoidValue() Value              { return Value{Kind: VVoid} }

func ListValue(elems []Value) Value  { return Value{Kind: VList, List: elems} }
func GroupValue(elems []Value) Value { return Value{Kind: VGroup, List: elems} }

// Display renders v the way string interpolation and `display` do: int by
// decimal digits, decimal by integer-part.two-digit-fraction, flag by
// true/false, date/text verbatim, collections as [e1, e2, ...].
func (v Value) Display() string {
	switch v.Kind {
	case VInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case VDecimal:
		return formatScaled(v.Scaled)
	case VText, VDate, VFile:
		return v.Text
	case VFlag:
		if v.Flag {
			return "true"
		}
		return "false"
	case VList, VGroup:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.Display()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case VRecord:
		return v.Record.TypeName
	default:
		return ""
	}
}

func formatScaled(scaled int64) string {
	neg := scaled < 0
	if neg {
		scaled = -scaled
	}
	whole := scaled / 100
	frac := scaled % 100
	s := fmt.Sprintf("%d.%02d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

// Truthy reports whether v is usable as a flag operand. Only VFlag is
// truthy-checkable; any other kind reaching a logic opcode is a checker
// bug caught before it gets here.
func (v Value) Truthy() bool { return v.Kind == VFlag && v.Flag }

// Equal implements `equals`/`does not equal` across any pair of equal
// types; collections and records compare element-wise / field-wise.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case VInt:
		return v.Int == o.Int
	case VDecimal:
		return v.Scaled == o.Scaled
	case VText, VDate, VFile:
		return v.Text == o.Text
	case VFlag:
		return v.Flag == o.Flag
	case VList, VGroup:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case VRecord:
		if v.Record.TypeName != o.Record.TypeName || len(v.Record.Fields) != len(o.Record.Fields) {
			return false
		}
		for k, fv := range v.Record.Fields {
			ov, ok := o.Record.Fields[k]
			if !ok || !fv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// IsEmpty reports whether v is an empty collection or empty text, the
// operand of `is empty`/`is not empty`.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case VList, VGroup:
		return len(v.List) == 0
	case VText:
		return v.Text == ""
	default:
		return false
	}
}
