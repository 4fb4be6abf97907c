package bytecode

import (
	"testing"

	"github.com/droe-lang/droec/pkg/diag"
	"github.com/droe-lang/droec/pkg/host"
	"github.com/droe-lang/droec/pkg/parser"
)

type fakeHost struct {
	printed []string
	failed  []string
	dbCalls int
	dbFn    func(opCode byte, entity string, predicate, fields map[string]any) (host.DBResult, error)
}

func (f *fakeHost) Print(text string)     { f.printed = append(f.printed, text) }
func (f *fakeHost) PrintLine(text string) { f.printed = append(f.printed, text) }
func (f *fakeHost) Now() int64            { return 0 }
func (f *fakeHost) UUID() string          { return "fixed-uuid" }
func (f *fakeHost) HTTPRequest(url, method, body string, headers map[string]string) (host.HTTPResponse, error) {
	return host.HTTPResponse{Status: 200, Body: "ok"}, nil
}
func (f *fakeHost) DBOp(opCode byte, entity string, predicate, fields map[string]any) (host.DBResult, error) {
	f.dbCalls++
	if f.dbFn != nil {
		return f.dbFn(opCode, entity, predicate, fields)
	}
	return host.DBResult{Status: 200}, nil
}
func (f *fakeHost) Fail(kind diag.Kind, message string, span diag.Span) {
	f.failed = append(f.failed, string(kind)+": "+message)
}

func compileSource(t *testing.T, source string) *Chunk {
	t.Helper()
	prog, diags := parser.Parse("test.droe", source)
	if diags.HasErrors() {
		t.Fatalf("parse: %v", diags)
	}
	chunk, err := Compile(prog, 0)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return chunk
}

func TestVMInvokeDisplay(t *testing.T) {
	chunk := compileSource(t, `display "hello"`)
	h := &fakeHost{}
	vm := New(chunk, h, nil)

	main, ok := findMainActionForTest(chunk)
	if !ok {
		t.Fatal("expected an implicit main action")
	}
	if _, err := vm.Invoke(main.Entry, main.Locals, main.HasRet, nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(h.printed) != 1 || h.printed[0] != "hello" {
		t.Errorf("printed = %v, want [hello]", h.printed)
	}
}

func TestVMInvokeArithmetic(t *testing.T) {
	chunk := compileSource(t, `
action add with a which is int, b which is int gives int
give a plus b
end action

set total which is int from add with 10, 5
display total
`)
	h := &fakeHost{}
	vm := New(chunk, h, nil)

	main, _ := findMainActionForTest(chunk)
	if _, err := vm.Invoke(main.Entry, main.Locals, main.HasRet, nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(h.printed) != 1 || h.printed[0] != "15" {
		t.Errorf("printed = %v, want [15]", h.printed)
	}
}

func TestVMGlobalsAllocatedFromChunk(t *testing.T) {
	chunk := compileSource(t, `set x which is int to 1
set y which is int to 2`)
	if chunk.Globals < 2 {
		t.Fatalf("chunk.Globals = %d, want at least 2", chunk.Globals)
	}

	vm := New(chunk, &fakeHost{}, nil)
	if len(vm.globals) != int(chunk.Globals) {
		t.Errorf("vm.globals has %d slots, want %d (chunk.Globals)", len(vm.globals), chunk.Globals)
	}
}

func TestVMCancellation(t *testing.T) {
	chunk := compileSource(t, `display "hi"`)
	vm := New(chunk, &fakeHost{}, func() bool { return true })

	main, _ := findMainActionForTest(chunk)
	_, err := vm.Invoke(main.Entry, main.Locals, main.HasRet, nil)
	if err != Cancelled {
		t.Errorf("err = %v, want Cancelled", err)
	}
}

func TestVMDivideByZeroFailsHost(t *testing.T) {
	chunk := compileSource(t, `
action divide with a which is int, b which is int gives int
give a divided by b
end action

set r which is int from divide with 10, 0
`)
	h := &fakeHost{}
	vm := New(chunk, h, nil)

	main, _ := findMainActionForTest(chunk)
	_, err := vm.Invoke(main.Entry, main.Locals, main.HasRet, nil)
	if err == nil {
		t.Fatal("expected a division-by-zero runtime error")
	}
	if len(h.failed) != 1 {
		t.Errorf("host.Fail called %d times, want 1", len(h.failed))
	}
}

func TestVMSetOnRespondFiresOnEveryRespond(t *testing.T) {
	// Built by hand rather than through source syntax: issuing two
	// `respond`s from one handler has no single-statement DSL spelling,
	// but it is exactly what a streaming endpoint handler does.
	chunk := NewChunk("test", CompilerVersion, 0)
	c1 := chunk.AddConstant(Const{Tag: ConstInt, Int: 1})
	c2 := chunk.AddConstant(Const{Tag: ConstInt, Int: 2})

	chunk.EmitU16(OpPushConst, c1)
	chunk.Code = append(chunk.Code, byte(OpHostCall), byte(HostRespond), 1)
	chunk.EmitU16(OpPushConst, c2)
	chunk.Code = append(chunk.Code, byte(OpHostCall), byte(HostRespond), 1)
	chunk.Emit(OpReturnVoid)

	vm := New(chunk, &fakeHost{}, nil)
	var statuses []int
	vm.SetOnRespond(func(status int, body Value) { statuses = append(statuses, status) })

	if _, err := vm.Invoke(0, 0, false, nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(statuses) != 2 || statuses[0] != 1 || statuses[1] != 2 {
		t.Errorf("statuses = %v, want [1 2]", statuses)
	}
	if vm.LastResponse() == nil || vm.LastResponse().Status != 2 {
		t.Errorf("LastResponse = %+v, want status 2", vm.LastResponse())
	}
}

func TestVMDecimalMultiplyOverflowFailsHost(t *testing.T) {
	// No DSL decimal literal can reach this boundary directly, so the
	// chunk is built by hand: two scaled operands whose product needs
	// more than 64 bits, well past the ±(2^63-1)/100 decimal range.
	chunk := NewChunk("test", CompilerVersion, 0)
	c1 := chunk.AddConstant(Const{Tag: ConstDecimal, Scaled: 1 << 62})
	c2 := chunk.AddConstant(Const{Tag: ConstDecimal, Scaled: 4})

	chunk.EmitU16(OpPushConst, c1)
	chunk.EmitU16(OpPushConst, c2)
	chunk.Emit(OpMulD)
	chunk.Emit(OpReturnVoid)

	h := &fakeHost{}
	vm := New(chunk, h, nil)

	_, err := vm.Invoke(0, 0, false, nil)
	if err == nil {
		t.Fatal("expected a decimal overflow runtime error")
	}
	if len(h.failed) != 1 {
		t.Errorf("host.Fail called %d times, want 1", len(h.failed))
	}
}

func TestVMDecimalAddOverflowFailsHost(t *testing.T) {
	chunk := NewChunk("test", CompilerVersion, 0)
	c1 := chunk.AddConstant(Const{Tag: ConstDecimal, Scaled: maxInt64 - 1})
	c2 := chunk.AddConstant(Const{Tag: ConstDecimal, Scaled: 2})

	chunk.EmitU16(OpPushConst, c1)
	chunk.EmitU16(OpPushConst, c2)
	chunk.Emit(OpAddD)
	chunk.Emit(OpReturnVoid)

	h := &fakeHost{}
	vm := New(chunk, h, nil)

	_, err := vm.Invoke(0, 0, false, nil)
	if err == nil {
		t.Fatal("expected a decimal overflow runtime error")
	}
	if len(h.failed) != 1 {
		t.Errorf("host.Fail called %d times, want 1", len(h.failed))
	}
}

func findMainActionForTest(chunk *Chunk) (ActionSchema, bool) {
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
	return ActionSchema{}, false
}
