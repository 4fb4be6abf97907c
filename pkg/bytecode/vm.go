package bytecode

import (
	"encoding/binary"
	"math/bits"
	"time"

	"github.com/pkg/errors"

	"github.com/droe-lang/droec/pkg/diag"
	"github.com/droe-lang/droec/pkg/host"
)

// Frame is one call's activation record: its locals and the program
// counter to resume at in the caller once it returns.
type Frame struct {
	ReturnPC int
	Locals   []Value
	HasRet   bool
}

// Response is the well-known location the host reads a `respond` from
// after an endpoint handler returns or falls through.
type Response struct {
	Status int
	Body   Value
	Sent   bool
}

// RuntimeError is a diag.Diagnostic raised by the dispatch loop itself
// (overflow, divide-by-zero, bad cast, unknown endpoint) as opposed to
// one surfaced through a host callback.
type RuntimeError struct {
	diag.Diagnostic
}

func (e *RuntimeError) Error() string { return e.Diagnostic.Error() }

// Cancelled is returned by Invoke when the host requested cancellation
// between two instructions; it is not a failure.
var Cancelled = errors.New("runtime.cancelled")

// VM is a single-threaded stack machine over one Chunk. The host may run
// many VM instances concurrently, one per in-flight request; instances
// never share mutable state with each other.
type VM struct {
	chunk  *Chunk
	host   host.Host
	globals []Value
	stack  []Value
	frames []*Frame
	pc     int
	cancel func() bool

	// pending holds the last `respond` issued by the handler currently
	// executing, the "well-known location" the host reads from per §4.7.
	pending *Response

	// onRespond, if set, is called synchronously on every `respond`, not
	// only the last one — the hook a streaming endpoint dispatcher uses
	// to push each response as it happens instead of waiting for Invoke
	// to return.
	onRespond func(status int, body Value)
}

// SetOnRespond installs a callback invoked on every `respond` the running
// handler issues, in addition to the usual pending-response bookkeeping.
// A streaming endpoint dispatcher uses this to forward each respond over
// an already-upgraded connection as it happens.
func (vm *VM) SetOnRespond(fn func(status int, body Value)) { vm.onRespond = fn }

// LastResponse returns the response the most recent Invoke produced via
// `respond`, or nil if the handler fell through without responding.
func (vm *VM) LastResponse() *Response { return vm.pending }

// New constructs a VM over chunk. cancel, if non-nil, is polled at each
// dispatch boundary; a true result aborts the current Invoke with
// Cancelled.
func New(chunk *Chunk, h host.Host, cancel func() bool) *VM {
	return &VM{chunk: chunk, host: h, cancel: cancel, globals: make([]Value, chunk.Globals)}
}

func (vm *VM) push(v Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) top() *Frame { return vm.frames[len(vm.frames)-1] }

func (vm *VM) fail(kind diag.Kind, format string, args ...any) error {
	d := diag.New(kind, diag.Span{}, format, args...)
	vm.host.Fail(d.Kind, d.Message, d.Span)
	return &RuntimeError{Diagnostic: d}
}

// Invoke runs the action starting at entry with args already typed and
// ordered per its parameter list, returning its result value (Void if
// it is a task) or a runtime error.
func (vm *VM) Invoke(entry uint32, locals uint16, hasRet bool, args []Value) (Value, error) {
	vm.pending = nil
	frame := &Frame{ReturnPC: -1, Locals: make([]Value, locals), HasRet: hasRet}
	copy(frame.Locals, args)
	vm.frames = append(vm.frames, frame)
	vm.pc = int(entry)

	result, err := vm.run()
	vm.frames = vm.frames[:len(vm.frames)-1]
	return result, err
}

// run executes the fetch-dispatch-advance loop until the current
// top-level frame returns or the program halts.
func (vm *VM) run() (Value, error) {
	baseFrames := len(vm.frames)

	for {
		if vm.cancel != nil && vm.cancel() {
			return VoidValue(), Cancelled
		}

		op := Opcode(vm.chunk.Code[vm.pc])
		vm.pc++

		switch op {
		case OpHalt:
			return VoidValue(), nil

		case OpPushConst:
			idx := vm.readU16()
			vm.push(constToValue(vm.chunk.Constants[idx]))

		case OpPop:
			vm.pop()

		case OpDup:
			v := vm.stack[len(vm.stack)-1]
			vm.push(v)

		case OpLoadLocal:
			slot := vm.readU8()
			vm.push(vm.top().Locals[slot])

		case OpStoreLocal:
			slot := vm.readU8()
			vm.top().Locals[slot] = vm.pop()

		case OpLoadGlobal:
			slot := vm.readU16()
			vm.push(vm.globals[slot])

		case OpStoreGlobal:
			slot := vm.readU16()
			if int(slot) >= len(vm.globals) {
				g := make([]Value, slot+1)
				copy(g, vm.globals)
				vm.globals = g
			}
			vm.globals[slot] = vm.pop()

		case OpAddI, OpSubI, OpMulI, OpDivI:
			if err := vm.binInt(op); err != nil {
				return VoidValue(), err
			}

		case OpAddD, OpSubD, OpMulD, OpDivD:
			if err := vm.binDecimal(op); err != nil {
				return VoidValue(), err
			}

		case OpNeg:
			v := vm.pop()
			if v.Kind == VDecimal {
				if v.Scaled == minInt64 {
					return VoidValue(), vm.fail(diag.RuntimeOverflow, "decimal overflow")
				}
				vm.push(DecimalValue(-v.Scaled))
			} else {
				if v.Int == minInt32 {
					return VoidValue(), vm.fail(diag.RuntimeOverflow, "int overflow")
				}
				vm.push(IntValue(-v.Int))
			}

		case OpIntToDecimal:
			v := vm.pop()
			vm.push(DecimalValue(int64(v.Int) * 100))

		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			if err := vm.compare(op); err != nil {
				return VoidValue(), err
			}

		case OpIsEmpty:
			vm.push(FlagValue(vm.pop().IsEmpty()))

		case OpIsNotEmpty:
			vm.push(FlagValue(!vm.pop().IsEmpty()))

		case OpAnd:
			b, a := vm.pop(), vm.pop()
			vm.push(FlagValue(a.Truthy() && b.Truthy()))

		case OpOr:
			b, a := vm.pop(), vm.pop()
			vm.push(FlagValue(a.Truthy() || b.Truthy()))

		case OpNot:
			v := vm.pop()
			vm.push(FlagValue(!v.Truthy()))

		case OpJump:
			vm.pc = int(vm.readU32())

		case OpJumpIfFalse:
			target := vm.readU32()
			if !vm.pop().Truthy() {
				vm.pc = int(target)
			}

		case OpJumpIfTrue:
			target := vm.readU32()
			if vm.pop().Truthy() {
				vm.pc = int(target)
			}

		case OpConcat:
			b, a := vm.pop(), vm.pop()
			vm.push(TextValue(a.Display() + b.Display()))

		case OpInterp:
			n := vm.readU16()
			parts := make([]Value, n)
			for i := int(n) - 1; i >= 0; i-- {
				parts[i] = vm.pop()
			}
			var sb []byte
			for _, p := range parts {
				sb = append(sb, p.Display()...)
			}
			vm.push(TextValue(string(sb)))

		case OpFormat:
			patIdx := vm.readU16()
			val := vm.pop()
			pattern := vm.chunk.Constants[patIdx].Text
			vm.push(TextValue(formatWithPattern(val, pattern)))

		case OpMakeList, OpMakeGroup:
			n := vm.readU16()
			elems := make([]Value, n)
			for i := int(n) - 1; i >= 0; i-- {
				elems[i] = vm.pop()
			}
			if op == OpMakeList {
				vm.push(ListValue(elems))
			} else {
				vm.push(GroupValue(elems))
			}

		case OpIterBegin:
			// The iterator state lives entirely on the operand stack as
			// (collection, index); IterNext advances index in place. Text
			// values are iterated character by character.
			coll := vm.pop()
			if coll.Kind == VText {
				runes := []rune(coll.Text)
				chars := make([]Value, len(runes))
				for i, r := range runes {
					chars[i] = TextValue(string(r))
				}
				coll = ListValue(chars)
			}
			vm.push(coll)
			vm.push(IntValue(0))

		case OpIterNext:
			target := vm.readU32()
			idx := vm.pop()
			coll := vm.pop()
			if int(idx.Int) >= len(coll.List) {
				vm.push(coll)
				vm.push(idx)
				vm.pc = int(target)
				continue
			}
			vm.push(coll)
			vm.push(IntValue(idx.Int + 1))
			vm.push(coll.List[idx.Int])

		case OpIndex:
			idx, coll := vm.pop(), vm.pop()
			if int(idx.Int) < 0 || int(idx.Int) >= len(coll.List) {
				return VoidValue(), vm.fail(diag.RuntimeBadCast, "index %d out of range", idx.Int)
			}
			vm.push(coll.List[idx.Int])

		case OpMakeRecord:
			typeIdx := vm.readU16()
			n := vm.readU16()
			schema := vm.chunk.RecordSchemas[typeIdx]
			rec := &Record{TypeName: schema.Name, Fields: make(map[string]Value, n)}
			for i := int(n) - 1; i >= 0; i-- {
				rec.Fields[schema.Fields[i].Name] = vm.pop()
			}
			vm.push(Value{Kind: VRecord, Record: rec})

		case OpGetField:
			idx := vm.readU16()
			rec := vm.pop()
			name := vm.chunk.Constants[idx].Text
			vm.push(rec.Record.Fields[name])

		case OpSetField:
			idx := vm.readU16()
			val := vm.pop()
			rec := vm.pop()
			name := vm.chunk.Constants[idx].Text
			next := &Record{TypeName: rec.Record.TypeName, Fields: make(map[string]Value, len(rec.Record.Fields))}
			for k, v := range rec.Record.Fields {
				next.Fields[k] = v
			}
			next.Fields[name] = val
			vm.push(Value{Kind: VRecord, Record: next})

		case OpCall:
			if err := vm.call(); err != nil {
				return VoidValue(), err
			}

		case OpEnterFrame:
			n := vm.readU16()
			f := vm.top()
			if len(f.Locals) < int(n) {
				grown := make([]Value, n)
				copy(grown, f.Locals)
				f.Locals = grown
			}

		case OpLeaveFrame:
			// no-op: frame lifetime is Invoke/call-scoped, not block-scoped

		case OpReturn, OpReturnVoid:
			var result Value
			if op == OpReturn {
				result = vm.pop()
			}
			if len(vm.frames) == baseFrames {
				return result, nil
			}
			f := vm.frames[len(vm.frames)-1]
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.pc = f.ReturnPC
			if f.HasRet {
				vm.push(result)
			}

		case OpDisplay:
			v := vm.pop()
			vm.host.PrintLine(v.Display())

		case OpHostCall:
			fn := HostFn(vm.readU8())
			n := vm.readU8()
			if err := vm.hostCall(fn, int(n)); err != nil {
				return VoidValue(), err
			}

		case OpDefineData, OpDefineEndpoint:
			// Declarative registrations: the tables they name are already
			// in the Chunk, so execution only steps over their operands.
			vm.skipPrologueOperand(op)

		case OpEndHandler:
			// Closes an endpoint handler body: the handler's Invoke returns.
			return VoidValue(), nil

		case OpDatabaseOp:
			if err := vm.databaseOp(); err != nil {
				return VoidValue(), err
			}

		default:
			return VoidValue(), vm.fail(diag.CodegenInternal, "unimplemented opcode 0x%02X at pc=%d", byte(op), vm.pc-1)
		}
	}
}

func (vm *VM) skipPrologueOperand(op Opcode) {
	vm.pc += op.OperandLen()
}

func (vm *VM) readU8() byte {
	b := vm.chunk.Code[vm.pc]
	vm.pc++
	return b
}

func (vm *VM) readU16() uint16 {
	v := binary.BigEndian.Uint16(vm.chunk.Code[vm.pc:])
	vm.pc += 2
	return v
}

func (vm *VM) readU32() uint32 {
	v := binary.BigEndian.Uint32(vm.chunk.Code[vm.pc:])
	vm.pc += 4
	return v
}

func constToValue(k Const) Value {
	switch k.Tag {
	case ConstInt:
		return IntValue(k.Int)
	case ConstDecimal:
		return DecimalValue(k.Scaled)
	case ConstFlag:
		return FlagValue(k.Flag)
	case ConstDate:
		return DateValue(k.Text)
	default:
		return TextValue(k.Text)
	}
}

const (
	maxInt32 = 1<<31 - 1
	minInt32 = -1 << 31
	maxInt64 = 1<<63 - 1
	minInt64 = -1 << 63
)

func (vm *VM) binInt(op Opcode) error {
	b, a := vm.pop(), vm.pop()
	x, y := int64(a.Int), int64(b.Int)
	var r int64
	switch op {
	case OpAddI:
		r = x + y
	case OpSubI:
		r = x - y
	case OpMulI:
		r = x * y
	case OpDivI:
		if y == 0 {
			return vm.fail(diag.RuntimeDivZero, "division by zero")
		}
		r = x / y
	}
	if r > maxInt32 || r < minInt32 {
		return vm.fail(diag.RuntimeOverflow, "int overflow")
	}
	vm.push(IntValue(int32(r)))
	return nil
}

func (vm *VM) binDecimal(op Opcode) error {
	b, a := vm.pop(), vm.pop()
	x, y := a.Scaled, b.Scaled
	var r int64
	switch op {
	case OpAddD:
		if (y > 0 && x > maxInt64-y) || (y < 0 && x < minInt64-y) {
			return vm.fail(diag.RuntimeOverflow, "decimal overflow")
		}
		r = x + y
	case OpSubD:
		if (y < 0 && x > maxInt64+y) || (y > 0 && x < minInt64+y) {
			return vm.fail(diag.RuntimeOverflow, "decimal overflow")
		}
		r = x - y
	case OpMulD:
		p, overflow := mulInt64(x, y)
		if overflow {
			return vm.fail(diag.RuntimeOverflow, "decimal overflow")
		}
		r = roundDiv(p, 100)
	case OpDivD:
		if y == 0 {
			return vm.fail(diag.RuntimeDivZero, "division by zero")
		}
		p, overflow := mulInt64(x, 100)
		if overflow {
			return vm.fail(diag.RuntimeOverflow, "decimal overflow")
		}
		r = roundDiv(p, y)
	}
	vm.push(DecimalValue(r))
	return nil
}

// mulInt64 multiplies x and y and reports whether the exact product does
// not fit in an int64, computing the 128-bit product via bits.Mul64 rather
// than relying on x*y, which silently wraps on overflow.
func mulInt64(x, y int64) (int64, bool) {
	if x == 0 || y == 0 {
		return 0, false
	}
	neg := (x < 0) != (y < 0)
	absX, absY := uint64(x), uint64(y)
	if x < 0 {
		absX = uint64(-x)
	}
	if y < 0 {
		absY = uint64(-y)
	}
	hi, lo := bits.Mul64(absX, absY)
	if neg {
		if hi != 0 || lo > uint64(maxInt64)+1 {
			return 0, true
		}
		return -int64(lo), false
	}
	if hi != 0 || lo > uint64(maxInt64) {
		return 0, true
	}
	return int64(lo), false
}

// roundDiv divides a by b, rounding half away from zero, matching the
// decimal scale invariant in spec §3.
func roundDiv(a, b int64) int64 {
	if b < 0 {
		a, b = -a, -b
	}
	if a >= 0 {
		return (a + b/2) / b
	}
	return -((-a + b/2) / b)
}

func (vm *VM) compare(op Opcode) error {
	b, a := vm.pop(), vm.pop()
	switch op {
	case OpEq:
		vm.push(FlagValue(a.Equal(b)))
		return nil
	case OpNe:
		vm.push(FlagValue(!a.Equal(b)))
		return nil
	}
	var lt, gt bool
	switch a.Kind {
	case VInt:
		lt, gt = a.Int < b.Int, a.Int > b.Int
	case VDecimal:
		lt, gt = a.Scaled < b.Scaled, a.Scaled > b.Scaled
	case VText, VDate:
		lt, gt = a.Text < b.Text, a.Text > b.Text
	default:
		return vm.fail(diag.RuntimeBadCast, "values of kind %d are not ordered", a.Kind)
	}
	switch op {
	case OpLt:
		vm.push(FlagValue(lt))
	case OpLe:
		vm.push(FlagValue(lt || !gt))
	case OpGt:
		vm.push(FlagValue(gt))
	case OpGe:
		vm.push(FlagValue(gt || !lt))
	}
	return nil
}

func (vm *VM) call() error {
	moduleIdx := vm.readU16()
	actionIdx := vm.readU16()
	n := vm.readU8()

	args := make([]Value, n)
	for i := int(n) - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}

	action := vm.chunk.Modules[moduleIdx].Actions[actionIdx]
	f := &Frame{ReturnPC: vm.pc, Locals: make([]Value, action.Locals), HasRet: action.HasRet}
	copy(f.Locals, args)
	vm.frames = append(vm.frames, f)
	vm.pc = int(action.Entry)
	return nil
}

func (vm *VM) hostCall(fn HostFn, n int) error {
	args := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}

	switch fn {
	case HostPrint:
		vm.host.Print(args[0].Display())
		vm.push(VoidValue())
	case HostPrintLine:
		vm.host.PrintLine(args[0].Display())
		vm.push(VoidValue())
	case HostNow:
		vm.push(DateValue(formatEpoch(vm.host.Now())))
	case HostUUID:
		vm.push(TextValue(vm.host.UUID()))
	case HostHTTPRequest:
		return vm.doHTTPRequest(args)
	case HostDBOp:
		return vm.doDBOp(args)
	case HostFail:
		return vm.fail(diag.RuntimeHostError, args[0].Display())
	case HostRespond:
		status := int(args[0].Int)
		body := VoidValue()
		if len(args) > 1 {
			body = args[1]
		}
		vm.respondTo(status, body)
	default:
		return vm.fail(diag.CodegenInternal, "unknown host function %d", fn)
	}
	return nil
}

// respondTo records the response and, if a streaming hook is installed,
// forwards it immediately. The dispatcher that owns the net/http side of
// a request lives outside this package so bytecode has no import-cycle
// dependency on a concrete endpoint dispatcher.
func (vm *VM) respondTo(status int, body Value) {
	vm.pending = &Response{Status: status, Body: body, Sent: true}
	if vm.onRespond != nil {
		vm.onRespond(status, body)
	}
}

func formatEpoch(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format("2006-01-02")
}

func (vm *VM) doHTTPRequest(args []Value) error {
	url := args[0].Display()
	method := args[1].Display()
	body := ""
	if len(args) > 2 {
		body = args[2].Display()
	}
	headers := map[string]string{}
	if len(args) > 3 && args[3].Kind == VRecord {
		for k, v := range args[3].Record.Fields {
			headers[k] = v.Display()
		}
	}
	resp, err := vm.host.HTTPRequest(url, method, body, headers)
	if err != nil {
		return vm.fail(diag.RuntimeHostError, "http_request: %s", err)
	}
	rec := &Record{TypeName: "HTTPResponse", Fields: map[string]Value{
		"status": IntValue(int32(resp.Status)),
		"body":   TextValue(resp.Body),
	}}
	vm.push(Value{Kind: VRecord, Record: rec})
	return nil
}

func (vm *VM) doDBOp(args []Value) error {
	opCode := byte(args[0].Int)
	entity := args[1].Display()
	var predicate, fields map[string]any
	if len(args) > 2 && args[2].Kind == VRecord {
		predicate = recordToMap(args[2].Record)
	}
	if len(args) > 3 && args[3].Kind == VRecord {
		fields = recordToMap(args[3].Record)
	}
	res, err := vm.host.DBOp(opCode, entity, predicate, fields)
	if err != nil {
		return vm.fail(diag.RuntimeHostError, "db_op: %s", err)
	}
	vm.push(dbResultToValue(res))
	return nil
}

// databaseOp handles the declarative OpDatabaseOp instruction, whose
// operands name the op and entity directly rather than via stack args;
// predicate and field-set records are still passed on the stack.
func (vm *VM) databaseOp() error {
	opCode := vm.readU8()
	entityIdx := vm.readU16()
	entity := vm.chunk.Constants[entityIdx].Text

	fields := vm.pop()
	predicate := vm.pop()

	var predMap, fieldMap map[string]any
	if predicate.Kind == VRecord {
		predMap = recordToMap(predicate.Record)
	}
	if fields.Kind == VRecord {
		fieldMap = recordToMap(fields.Record)
	}

	res, err := vm.host.DBOp(opCode, entity, predMap, fieldMap)
	if err != nil {
		return vm.fail(diag.RuntimeHostError, "db_op: %s", err)
	}
	vm.push(dbResultToValue(res))
	return nil
}

func recordToMap(r *Record) map[string]any {
	m := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		m[k] = v.Display()
	}
	return m
}

func dbResultToValue(res host.DBResult) Value {
	if res.Records != nil {
		elems := make([]Value, len(res.Records))
		for i, rec := range res.Records {
			elems[i] = mapToRecordValue(rec)
		}
		return ListValue(elems)
	}
	if res.Record != nil {
		return mapToRecordValue(res.Record)
	}
	return IntValue(int32(res.Status))
}

func mapToRecordValue(m map[string]any) Value {
	fields := make(map[string]Value, len(m))
	for k, v := range m {
		fields[k] = TextValue(toText(v))
	}
	return Value{Kind: VRecord, Record: &Record{TypeName: "", Fields: fields}}
}

func toText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
