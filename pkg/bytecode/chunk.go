package bytecode

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ArtifactVersion is the current on-disk format version. A conformant
// reader rejects a file whose version it does not recognize.
const ArtifactVersion uint16 = 1

// ArtifactMagic identifies a bytecode artifact: "DROE".
var ArtifactMagic = []byte{'D', 'R', 'O', 'E'}

// ConstTag is the tag byte of one entry in the constant pool.
type ConstTag byte

const (
	ConstInt ConstTag = iota
	ConstDecimal
	ConstText
	ConstFlag
	ConstDate
	ConstPattern
)

// Const is one entry in the constant pool.
type Const struct {
	Tag    ConstTag
	Int    int32
	Scaled int64
	Text   string
	Flag   bool
}

// FieldSchema describes one field of a record schema.
type FieldSchema struct {
	Name        string
	Type        TypeTag
	Annotations []byte // FieldAnnotation values from pkg/ast, stored opaquely
}

// TypeTag mirrors ast.TypeKind for the subset representable in the wire
// format (records reference other schemas by name, not by recursive tag).
type TypeTag byte

const (
	TypeInt TypeTag = iota
	TypeDecimal
	TypeText
	TypeFlag
	TypeDate
	TypeFile
	TypeListOf
	TypeGroupOf
	TypeRecord
	TypeVoid
)

// RecordSchema is one entry in the artifact's record_schemas table.
type RecordSchema struct {
	Name   string
	Fields []FieldSchema
}

// ParamSchema is one action parameter.
type ParamSchema struct {
	Name string
	Type TypeTag
}

// ActionSchema is one entry in a module's actions table.
type ActionSchema struct {
	Name    string
	Params  []ParamSchema
	Returns TypeTag // TypeVoid for a task
	HasRet  bool
	Entry   uint32
	Locals  uint16
}

// ModuleSchema is one entry in the artifact's modules table.
type ModuleSchema struct {
	Name    string
	Actions []ActionSchema
}

// EndpointSchema is one entry in the artifact's endpoints table.
type EndpointSchema struct {
	Method       HTTPMethod
	PathTemplate string
	PathParams   []string
	HandlerEntry uint32
}

// Metadata is the artifact's descriptive header block.
type Metadata struct {
	SourceFile      string
	CompilerVersion string
	CreatedAt       int64
}

// Chunk is the in-memory form of one compiled artifact: everything the
// emitter produces and the VM needs to run a program, serializable to and
// from the wire format in §6.1.
type Chunk struct {
	Meta          Metadata
	Constants     []Const
	RecordSchemas []RecordSchema
	Modules       []ModuleSchema
	Endpoints     []EndpointSchema
	// Globals is the number of global variable slots the VM must allocate
	// before running this chunk's implicit main action.
	Globals uint16
	Code    []byte
}

// NewChunk creates an empty chunk ready for emission.
func NewChunk(sourceFile, compilerVersion string, createdAt int64) *Chunk {
	return &Chunk{
		Meta: Metadata{SourceFile: sourceFile, CompilerVersion: compilerVersion, CreatedAt: createdAt},
		Code: make([]byte, 0, 256),
	}
}

// AddConstant interns a constant and returns its pool index.
func (c *Chunk) AddConstant(k Const) uint16 {
	for i, existing := range c.Constants {
		if existing == k {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, k)
	return idx
}

// Emit appends a bare opcode and returns its offset.
func (c *Chunk) Emit(op Opcode) int {
	off := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return off
}

// EmitU8 appends an opcode with a one-byte operand.
func (c *Chunk) EmitU8(op Opcode, b byte) int {
	off := len(c.Code)
	c.Code = append(c.Code, byte(op), b)
	return off
}

// EmitU16 appends an opcode with a big-endian two-byte operand.
func (c *Chunk) EmitU16(op Opcode, v uint16) int {
	off := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = binary.BigEndian.AppendUint16(c.Code, v)
	return off
}

// EmitU32 appends an opcode with a big-endian four-byte operand.
func (c *Chunk) EmitU32(op Opcode, v uint32) int {
	off := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = binary.BigEndian.AppendUint32(c.Code, v)
	return off
}

// EmitJump appends a jump opcode with a placeholder offset and returns
// the offset of the placeholder's operand for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	off := len(c.Code) + 1
	c.Code = append(c.Code, byte(op), 0, 0, 0, 0)
	return off
}

// PatchJumpToHere patches the jump placeholder at operandOffset to target
// the current end of the code section, expressed as an absolute
// instruction-stream byte offset (the VM's program counter unit).
func (c *Chunk) PatchJumpToHere(operandOffset int) {
	c.PatchJumpTo(operandOffset, len(c.Code))
}

// PatchJumpTo patches the jump placeholder at operandOffset to target.
func (c *Chunk) PatchJumpTo(operandOffset int, target int) {
	binary.BigEndian.PutUint32(c.Code[operandOffset:operandOffset+4], uint32(target))
}

// Here returns the current end of the code section.
func (c *Chunk) Here() int { return len(c.Code) }

// Serialize encodes the chunk to the on-disk wire format described in
// spec §6.1: magic, version, metadata, constants, record_schemas,
// modules, endpoints, globals count, instructions — each section
// length-prefixed.
func (c *Chunk) Serialize() []byte {
	buf := make([]byte, 0, 256+len(c.Code))
	buf = append(buf, ArtifactMagic...)
	buf = binary.BigEndian.AppendUint16(buf, ArtifactVersion)

	buf = appendString(buf, c.Meta.SourceFile)
	buf = appendString(buf, c.Meta.CompilerVersion)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.Meta.CreatedAt))

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Constants)))
	for _, k := range c.Constants {
		buf = append(buf, byte(k.Tag))
		switch k.Tag {
		case ConstInt:
			buf = binary.BigEndian.AppendUint32(buf, uint32(k.Int))
		case ConstDecimal:
			buf = binary.BigEndian.AppendUint64(buf, uint64(k.Scaled))
		case ConstText, ConstDate, ConstPattern:
			buf = appendString(buf, k.Text)
		case ConstFlag:
			if k.Flag {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.RecordSchemas)))
	for _, rs := range c.RecordSchemas {
		buf = appendString(buf, rs.Name)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(rs.Fields)))
		for _, f := range rs.Fields {
			buf = appendString(buf, f.Name)
			buf = append(buf, byte(f.Type))
			buf = append(buf, byte(len(f.Annotations)))
			buf = append(buf, f.Annotations...)
		}
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Modules)))
	for _, m := range c.Modules {
		buf = appendString(buf, m.Name)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Actions)))
		for _, a := range m.Actions {
			buf = appendString(buf, a.Name)
			buf = append(buf, byte(len(a.Params)))
			for _, pr := range a.Params {
				buf = appendString(buf, pr.Name)
				buf = append(buf, byte(pr.Type))
			}
			buf = append(buf, boolByte(a.HasRet))
			buf = append(buf, byte(a.Returns))
			buf = binary.BigEndian.AppendUint32(buf, a.Entry)
			buf = binary.BigEndian.AppendUint16(buf, a.Locals)
		}
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Endpoints)))
	for _, e := range c.Endpoints {
		buf = append(buf, byte(e.Method))
		buf = appendString(buf, e.PathTemplate)
		buf = append(buf, byte(len(e.PathParams)))
		for _, pp := range e.PathParams {
			buf = appendString(buf, pp)
		}
		buf = binary.BigEndian.AppendUint32(buf, e.HandlerEntry)
	}

	buf = binary.BigEndian.AppendUint16(buf, c.Globals)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = append(buf, c.Code...)

	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// reader is a small cursor over a Deserialize input; out-of-range reads
// return a wrapped error instead of panicking, since artifacts may come
// from an untrusted file on disk.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.data) {
		return errors.Errorf("truncated artifact: need %d bytes at offset %d, have %d", n, r.pos, len(r.data))
	}
	return nil
}

func (r *reader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Deserialize decodes an artifact produced by Serialize.
func Deserialize(data []byte) (*Chunk, error) {
	r := &reader{data: data}

	magic, err := r.bytes(4)
	if err != nil {
		return nil, errors.Wrap(err, "reading magic")
	}
	if string(magic) != string(ArtifactMagic) {
		return nil, errors.Errorf("bad magic: expected %q, got %q", ArtifactMagic, magic)
	}

	version, err := r.u16()
	if err != nil {
		return nil, errors.Wrap(err, "reading version")
	}
	if version != ArtifactVersion {
		return nil, errors.Errorf("unsupported artifact format version %d (supported: %d)", version, ArtifactVersion)
	}

	c := &Chunk{}
	if c.Meta.SourceFile, err = r.str(); err != nil {
		return nil, errors.Wrap(err, "reading metadata.source_file")
	}
	if c.Meta.CompilerVersion, err = r.str(); err != nil {
		return nil, errors.Wrap(err, "reading metadata.compiler_version")
	}
	createdAt, err := r.u64()
	if err != nil {
		return nil, errors.Wrap(err, "reading metadata.created_at")
	}
	c.Meta.CreatedAt = int64(createdAt)

	constCount, err := r.u16()
	if err != nil {
		return nil, errors.Wrap(err, "reading constant count")
	}
	for i := 0; i < int(constCount); i++ {
		tagByte, err := r.u8()
		if err != nil {
			return nil, errors.Wrapf(err, "reading constant %d tag", i)
		}
		k := Const{Tag: ConstTag(tagByte)}
		switch k.Tag {
		case ConstInt:
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			k.Int = int32(v)
		case ConstDecimal:
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			k.Scaled = int64(v)
		case ConstText, ConstDate, ConstPattern:
			if k.Text, err = r.str(); err != nil {
				return nil, err
			}
		case ConstFlag:
			b, err := r.u8()
			if err != nil {
				return nil, err
			}
			k.Flag = b != 0
		default:
			return nil, errors.Errorf("unknown constant tag %d", tagByte)
		}
		c.Constants = append(c.Constants, k)
	}

	schemaCount, err := r.u16()
	if err != nil {
		return nil, errors.Wrap(err, "reading record schema count")
	}
	for i := 0; i < int(schemaCount); i++ {
		var rs RecordSchema
		if rs.Name, err = r.str(); err != nil {
			return nil, err
		}
		fieldCount, err := r.u16()
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(fieldCount); j++ {
			var f FieldSchema
			if f.Name, err = r.str(); err != nil {
				return nil, err
			}
			typeByte, err := r.u8()
			if err != nil {
				return nil, err
			}
			f.Type = TypeTag(typeByte)
			annCount, err := r.u8()
			if err != nil {
				return nil, err
			}
			if f.Annotations, err = r.bytes(int(annCount)); err != nil {
				return nil, err
			}
			rs.Fields = append(rs.Fields, f)
		}
		c.RecordSchemas = append(c.RecordSchemas, rs)
	}

	moduleCount, err := r.u16()
	if err != nil {
		return nil, errors.Wrap(err, "reading module count")
	}
	for i := 0; i < int(moduleCount); i++ {
		var m ModuleSchema
		if m.Name, err = r.str(); err != nil {
			return nil, err
		}
		actionCount, err := r.u16()
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(actionCount); j++ {
			var a ActionSchema
			if a.Name, err = r.str(); err != nil {
				return nil, err
			}
			paramCount, err := r.u8()
			if err != nil {
				return nil, err
			}
			for k := 0; k < int(paramCount); k++ {
				var pr ParamSchema
				if pr.Name, err = r.str(); err != nil {
					return nil, err
				}
				typeByte, err := r.u8()
				if err != nil {
					return nil, err
				}
				pr.Type = TypeTag(typeByte)
				a.Params = append(a.Params, pr)
			}
			hasRet, err := r.u8()
			if err != nil {
				return nil, err
			}
			a.HasRet = hasRet != 0
			retByte, err := r.u8()
			if err != nil {
				return nil, err
			}
			a.Returns = TypeTag(retByte)
			if a.Entry, err = r.u32(); err != nil {
				return nil, err
			}
			if a.Locals, err = r.u16(); err != nil {
				return nil, err
			}
			m.Actions = append(m.Actions, a)
		}
		c.Modules = append(c.Modules, m)
	}

	endpointCount, err := r.u16()
	if err != nil {
		return nil, errors.Wrap(err, "reading endpoint count")
	}
	for i := 0; i < int(endpointCount); i++ {
		var e EndpointSchema
		methodByte, err := r.u8()
		if err != nil {
			return nil, err
		}
		e.Method = HTTPMethod(methodByte)
		if e.PathTemplate, err = r.str(); err != nil {
			return nil, err
		}
		paramCount, err := r.u8()
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(paramCount); j++ {
			pp, err := r.str()
			if err != nil {
				return nil, err
			}
			e.PathParams = append(e.PathParams, pp)
		}
		if e.HandlerEntry, err = r.u32(); err != nil {
			return nil, err
		}
		c.Endpoints = append(c.Endpoints, e)
	}

	if c.Globals, err = r.u16(); err != nil {
		return nil, errors.Wrap(err, "reading global count")
	}

	codeLen, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "reading code length")
	}
	code, err := r.bytes(int(codeLen))
	if err != nil {
		return nil, errors.Wrap(err, "reading instruction stream")
	}
	c.Code = append([]byte(nil), code...)

	return c, nil
}
