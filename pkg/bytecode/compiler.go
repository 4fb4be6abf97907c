package bytecode

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/droe-lang/droec/pkg/ast"
)

// CompilerVersion is stamped into every emitted artifact's metadata.
const CompilerVersion = "droec-0.1"

// varInfo records how a compiled identifier resolves: to a global slot
// (program scope) or a local slot (inside an action or handler frame).
type varInfo struct {
	slot   uint16
	global bool
	typ    ast.Type
}

// scope is one lexical level of variable bindings. Lookups walk outward
// to the enclosing scope.
type scope struct {
	vars   map[string]varInfo
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: map[string]varInfo{}, parent: parent}
}

func (s *scope) lookup(name string) (varInfo, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return varInfo{}, false
}

// counter tracks the high-water mark of local slots used by one frame.
type counter struct{ n int }

func (cnt *counter) alloc() uint16 {
	slot := cnt.n
	cnt.n++
	return uint16(slot)
}

// moduleIndex maps a module name (root module is "") to its index in the
// chunk's module table, and each action name to its index within it.
type moduleIndex struct {
	modIdx    map[string]int
	actionIdx map[string]map[string]int
}

// Compiler lowers a checked ast.Program into a Chunk. It holds no state
// that outlives one Compile call.
type Compiler struct {
	chunk      *Chunk
	root       *scope
	nextGlobal uint16
	dataSchema map[string]uint16
	mi         moduleIndex
	curModule  string
	errs       []error
}

// Compile lowers prog into a serializable Chunk. prog is assumed to have
// already passed the resolver and checker; Compile does not re-validate
// types, it only re-derives them where the emitter must pick between an
// int and a decimal opcode variant.
func Compile(prog *ast.Program, createdAt int64) (*Chunk, error) {
	c := &Compiler{
		chunk:      NewChunk(prog.File, CompilerVersion, createdAt),
		root:       newScope(nil),
		dataSchema: map[string]uint16{},
		mi:         moduleIndex{modIdx: map[string]int{}, actionIdx: map[string]map[string]int{}},
	}

	c.collectTopLevel(prog.Decls, "")
	c.emitPrologue(prog.Decls, "")

	// Top-level statements run as the implicit main action, emitted last
	// so every action/data declaration above it has a resolved entry.
	c.curModule = ""
	rootEntry := c.chunk.Here()
	c.emitStmts(prog.Decls, c.root, nil)
	c.chunk.Emit(OpHalt)

	rootActions := c.chunk.Modules[c.mi.modIdx[""]].Actions
	rootActions[c.mi.actionIdx[""]["main"]] = ActionSchema{
		Name: "main", Entry: uint32(rootEntry), HasRet: false,
	}
	c.chunk.Globals = c.nextGlobal

	if len(c.errs) > 0 {
		return c.chunk, errors.Errorf("%d internal codegen error(s), first: %s", len(c.errs), c.errs[0])
	}
	return c.chunk, nil
}

func (c *Compiler) internalErr(format string, args ...any) {
	c.errs = append(c.errs, errors.Errorf(format, args...))
}

func (c *Compiler) moduleSlot(name string) int {
	if idx, ok := c.mi.modIdx[name]; ok {
		return idx
	}
	idx := len(c.chunk.Modules)
	c.mi.modIdx[name] = idx
	c.mi.actionIdx[name] = map[string]int{}
	c.chunk.Modules = append(c.chunk.Modules, ModuleSchema{Name: name})
	return idx
}

// collectTopLevel assigns stable module/action indices and data-record
// schema indices before any code is emitted, so a call to an action
// declared later in the file still resolves.
func (c *Compiler) collectTopLevel(decls []ast.Stmt, moduleName string) {
	modSlot := c.moduleSlot(moduleName)
	if moduleName == "" {
		// Reserve a slot for the implicit main action, patched in Compile.
		if _, ok := c.mi.actionIdx[""]["main"]; !ok {
			c.mi.actionIdx[""]["main"] = len(c.chunk.Modules[modSlot].Actions)
			c.chunk.Modules[modSlot].Actions = append(c.chunk.Modules[modSlot].Actions, ActionSchema{Name: "main"})
		}
	}

	for _, d := range decls {
		switch n := d.(type) {
		case *ast.ActionDecl:
			idx := len(c.chunk.Modules[modSlot].Actions)
			c.mi.actionIdx[moduleName][n.Name] = idx
			c.chunk.Modules[modSlot].Actions = append(c.chunk.Modules[modSlot].Actions, ActionSchema{Name: n.Name})
		case *ast.DataDecl:
			c.registerDataSchema(n)
		case *ast.ModuleDecl:
			c.collectTopLevel(n.Decls, n.Name)
		}
	}
}

func (c *Compiler) registerDataSchema(n *ast.DataDecl) uint16 {
	if idx, ok := c.dataSchema[n.Name]; ok {
		return idx
	}
	schema := RecordSchema{Name: n.Name}
	for _, f := range n.Fields {
		schema.Fields = append(schema.Fields, FieldSchema{Name: f.Name, Type: typeTagOf(f.Type)})
	}
	idx := uint16(len(c.chunk.RecordSchemas))
	c.chunk.RecordSchemas = append(c.chunk.RecordSchemas, schema)
	c.dataSchema[n.Name] = idx
	return idx
}

// anonSchema registers an unnamed record schema for an ad hoc field set
// (db predicates/fields, HTTP headers) so OpMakeRecord has a real schema
// to address even though these records have no `data` declaration.
func (c *Compiler) anonSchema(fields []ast.KV) uint16 {
	schema := RecordSchema{Name: ""}
	for _, kv := range fields {
		schema.Fields = append(schema.Fields, FieldSchema{Name: kv.Key, Type: TypeText})
	}
	idx := uint16(len(c.chunk.RecordSchemas))
	c.chunk.RecordSchemas = append(c.chunk.RecordSchemas, schema)
	return idx
}

func typeTagOf(t ast.Type) TypeTag {
	switch t.Kind {
	case ast.TInt:
		return TypeInt
	case ast.TDecimal:
		return TypeDecimal
	case ast.TText:
		return TypeText
	case ast.TFlag:
		return TypeFlag
	case ast.TDate:
		return TypeDate
	case ast.TFile:
		return TypeFile
	case ast.TListOf:
		return TypeListOf
	case ast.TGroupOf:
		return TypeGroupOf
	case ast.TRecord:
		return TypeRecord
	default:
		return TypeVoid
	}
}

// emitPrologue emits every DefineData registration, action body and serve
// handler body; emitAction and emitServe record each body's entry offset
// in the action table (whose slots collectTopLevel reserved) and in the
// endpoint table.
func (c *Compiler) emitPrologue(decls []ast.Stmt, moduleName string) {
	for _, d := range decls {
		switch n := d.(type) {
		case *ast.DataDecl:
			idx := c.dataSchema[n.Name]
			c.chunk.EmitU16(OpDefineData, idx)
		case *ast.ActionDecl:
			c.emitAction(n, moduleName)
		case *ast.ModuleDecl:
			c.emitPrologue(n.Decls, n.Name)
		case *ast.ServeStmt:
			c.emitServe(n, moduleName)
		}
	}
}

func (c *Compiler) emitAction(n *ast.ActionDecl, moduleName string) {
	prevModule := c.curModule
	c.curModule = moduleName

	entry := c.chunk.Here()
	sc := newScope(c.root)
	for i, p := range n.Params {
		sc.vars[p.Name] = varInfo{slot: uint16(i), global: false, typ: p.Type}
	}

	locals := &counter{n: len(n.Params)}
	c.emitStmts(n.Body, sc, locals)
	c.chunk.Emit(OpReturnVoid)

	modSlot := c.mi.modIdx[moduleName]
	idx := c.mi.actionIdx[moduleName][n.Name]
	params := make([]ParamSchema, len(n.Params))
	for i, p := range n.Params {
		params[i] = ParamSchema{Name: p.Name, Type: typeTagOf(p.Type)}
	}
	c.chunk.Modules[modSlot].Actions[idx] = ActionSchema{
		Name:    n.Name,
		Params:  params,
		HasRet:  n.Returns != nil,
		Returns: returnsTag(n.Returns),
		Entry:   uint32(entry),
		Locals:  uint16(locals.n),
	}

	c.curModule = prevModule
}

func returnsTag(t *ast.Type) TypeTag {
	if t == nil {
		return TypeVoid
	}
	return typeTagOf(*t)
}

func (c *Compiler) emitServe(n *ast.ServeStmt, moduleName string) {
	prevModule := c.curModule
	c.curModule = moduleName

	entry := c.chunk.Here()
	// A handler is invoked with a one-slot frame (request); EnterFrame
	// grows it to the slot count patched in once the body is emitted.
	c.chunk.EmitU16(OpEnterFrame, 0)
	sc := newScope(c.root)
	sc.vars["request"] = varInfo{slot: 0, global: false, typ: ast.Type{Kind: ast.TRecord, RecordID: "request"}}
	locals := &counter{n: 1}

	// Each :param path segment is reachable both as request.<param> and
	// as a bare identifier; the latter needs its own local slot, filled
	// in from the request record before the handler body runs.
	for _, seg := range n.Path {
		if seg.Param == "" {
			continue
		}
		slot := uint16(locals.n)
		locals.n++
		sc.vars[seg.Param] = varInfo{slot: slot, global: false, typ: ast.Type{Kind: ast.TText}}
		c.chunk.EmitU8(OpLoadLocal, 0)
		c.chunk.EmitU16(OpGetField, c.textConst(seg.Param))
		c.chunk.EmitU8(OpStoreLocal, byte(slot))
	}

	c.emitStmts(n.Body, sc, locals)
	binary.BigEndian.PutUint16(c.chunk.Code[entry+1:], uint16(locals.n))
	c.chunk.Emit(OpEndHandler)

	var method HTTPMethod
	switch n.Method {
	case "POST":
		method = MethodPOST
	case "PUT":
		method = MethodPUT
	case "DELETE":
		method = MethodDELETE
	default:
		method = MethodGET
	}

	var tmpl string
	var pathParams []string
	for _, seg := range n.Path {
		tmpl += "/"
		if seg.Param != "" {
			tmpl += ":" + seg.Param
			pathParams = append(pathParams, seg.Param)
		} else {
			tmpl += seg.Literal
		}
	}

	endpointIdx := uint16(len(c.chunk.Endpoints))
	c.chunk.Endpoints = append(c.chunk.Endpoints, EndpointSchema{
		Method:       method,
		PathTemplate: tmpl,
		PathParams:   pathParams,
		HandlerEntry: uint32(entry),
	})

	c.chunk.Code = append(c.chunk.Code, byte(OpDefineEndpoint), byte(method))
	c.chunk.Code = binary.BigEndian.AppendUint16(c.chunk.Code, endpointIdx)
	c.chunk.Code = binary.BigEndian.AppendUint32(c.chunk.Code, uint32(entry))

	c.curModule = prevModule
}

// ---- Constants -------------------------------------------------------------

func (c *Compiler) intConst(n int32) uint16     { return c.chunk.AddConstant(Const{Tag: ConstInt, Int: n}) }
func (c *Compiler) decimalConst(s int64) uint16 { return c.chunk.AddConstant(Const{Tag: ConstDecimal, Scaled: s}) }
func (c *Compiler) textConst(s string) uint16   { return c.chunk.AddConstant(Const{Tag: ConstText, Text: s}) }
func (c *Compiler) flagConst(b bool) uint16     { return c.chunk.AddConstant(Const{Tag: ConstFlag, Flag: b}) }

func (c *Compiler) pushText(s string) { c.chunk.EmitU16(OpPushConst, c.textConst(s)) }
func (c *Compiler) pushInt(n int32)   { c.chunk.EmitU16(OpPushConst, c.intConst(n)) }
func (c *Compiler) pushFlag(b bool)   { c.chunk.EmitU16(OpPushConst, c.flagConst(b)) }

// ---- Statements -------------------------------------------------------------

func (c *Compiler) emitStmts(stmts []ast.Stmt, sc *scope, locals *counter) {
	for _, s := range stmts {
		c.emitStmt(s, sc, locals)
	}
}

func (c *Compiler) emitStmt(s ast.Stmt, sc *scope, locals *counter) {
	switch n := s.(type) {
	case *ast.DisplayStmt:
		c.emitExpr(n.Value, sc)
		c.chunk.Emit(OpDisplay)

	case *ast.SetStmt:
		c.emitSet(n, sc, locals)

	case *ast.ReassignStmt:
		c.emitExpr(n.Value, sc)
		c.storeVar(n.Name, sc)

	case *ast.CondStmt:
		c.emitCond(n, sc, locals)

	case *ast.WhileStmt:
		c.emitWhile(n, sc, locals)

	case *ast.ForEachStmt:
		c.emitForEach(n, sc, locals)

	case *ast.GiveStmt:
		if n.Value != nil {
			c.emitExpr(n.Value, sc)
			c.chunk.Emit(OpReturn)
		} else {
			c.chunk.Emit(OpReturnVoid)
		}

	case *ast.DataDecl, *ast.ActionDecl, *ast.ModuleDecl, *ast.ServeStmt:
		// Handled by collectTopLevel/emitPrologue; nothing to emit inline.

	case *ast.CallHTTPStmt:
		c.emitHTTPCall(n.Call, sc)
		if n.Result != "" {
			c.declareLocal(n.Result, sc, locals, ast.Type{Kind: ast.TRecord, RecordID: "HTTPResponse"})
			c.storeVar(n.Result, sc)
		} else {
			c.chunk.Emit(OpPop)
		}

	case *ast.RespondStmt:
		c.pushInt(int32(n.Status))
		argc := byte(1)
		if n.Body != nil {
			c.emitExpr(n.Body, sc)
			argc = 2
		}
		c.chunk.Code = append(c.chunk.Code, byte(OpHostCall), byte(HostRespond), argc)

	case *ast.DBOpStmt:
		c.emitDBOp(n, sc, locals)

	case *ast.UIElemStmt:
		// UI elaboration is a presentation-layer concern; the bytecode
		// core records the element as an opaque display of its value.
		c.emitExpr(n.Value, sc)
		c.chunk.Emit(OpDisplay)

	case *ast.FragmentDecl, *ast.ScreenDecl:
		// UI trees register as opaque data, not executable statements.

	default:
		c.internalErr("unhandled statement type %T", n)
	}
}

func (c *Compiler) emitSet(n *ast.SetStmt, sc *scope, locals *counter) {
	var typ ast.Type
	if n.FromCall != nil {
		c.emitCall(n.FromCall, sc)
		typ = c.callReturnType(n.FromCall)
	} else {
		c.emitExpr(n.Value, sc)
		typ = c.typeOfExpr(n.Value, sc)
	}
	if n.DeclaredType != nil {
		typ = *n.DeclaredType
	}
	c.declareLocal(n.Name, sc, locals, typ)
	c.storeVar(n.Name, sc)
}

// declareLocal introduces name into the innermost scope. At root scope
// (locals == nil) this is a global slot; inside a frame it is a local
// slot allocated from that frame's counter.
func (c *Compiler) declareLocal(name string, sc *scope, locals *counter, typ ast.Type) {
	if locals == nil {
		slot := c.nextGlobal
		c.nextGlobal++
		sc.vars[name] = varInfo{slot: slot, global: true, typ: typ}
		return
	}
	sc.vars[name] = varInfo{slot: locals.alloc(), global: false, typ: typ}
}

func (c *Compiler) storeVar(name string, sc *scope) {
	v, ok := sc.lookup(name)
	if !ok {
		c.internalErr("store to undeclared variable %q", name)
		return
	}
	if v.global {
		c.chunk.EmitU16(OpStoreGlobal, v.slot)
	} else {
		c.chunk.EmitU8(OpStoreLocal, byte(v.slot))
	}
}

func (c *Compiler) loadVar(name string, sc *scope) ast.Type {
	v, ok := sc.lookup(name)
	if !ok {
		c.internalErr("load of undeclared variable %q", name)
		return ast.Type{Kind: ast.TInt}
	}
	if v.global {
		c.chunk.EmitU16(OpLoadGlobal, v.slot)
	} else {
		c.chunk.EmitU8(OpLoadLocal, byte(v.slot))
	}
	return v.typ
}

func (c *Compiler) emitCond(n *ast.CondStmt, sc *scope, locals *counter) {
	var endJumps []int
	for i, arm := range n.Arms {
		isLast := i == len(n.Arms)-1
		if arm.Cond == nil {
			c.emitStmts(arm.Body, newScope(sc), locals)
			continue
		}
		c.emitExpr(arm.Cond, sc)
		skip := c.chunk.EmitJump(OpJumpIfFalse)
		c.emitStmts(arm.Body, newScope(sc), locals)
		if !isLast {
			endJumps = append(endJumps, c.chunk.EmitJump(OpJump))
		}
		c.chunk.PatchJumpToHere(skip)
	}
	for _, j := range endJumps {
		c.chunk.PatchJumpToHere(j)
	}
}

func (c *Compiler) emitWhile(n *ast.WhileStmt, sc *scope, locals *counter) {
	loopStart := c.chunk.Here()
	c.emitExpr(n.Cond, sc)
	exitJump := c.chunk.EmitJump(OpJumpIfFalse)
	c.emitStmts(n.Body, newScope(sc), locals)
	c.chunk.EmitU32(OpJump, uint32(loopStart))
	c.chunk.PatchJumpToHere(exitJump)
}

func (c *Compiler) emitForEach(n *ast.ForEachStmt, sc *scope, locals *counter) {
	c.emitExpr(n.Iter, sc)
	c.chunk.Emit(OpIterBegin)

	bodyScope := newScope(sc)
	itemType := c.inferElementType(n.Iter, sc)
	c.declareLocal(n.Var, bodyScope, locals, itemType)

	loopStart := c.chunk.Here()
	nextOperand := c.chunk.EmitJump(OpIterNext)
	c.storeVar(n.Var, bodyScope) // top of stack is the element IterNext just pushed
	c.emitStmts(n.Body, bodyScope, locals)
	c.chunk.EmitU32(OpJump, uint32(loopStart))
	c.chunk.PatchJumpToHere(nextOperand)
	c.chunk.Emit(OpPop) // index
	c.chunk.Emit(OpPop) // collection
}

// whereFields flattens an and-chain of `<field> equals <value>` tests
// into a key/value predicate; this is the shape the grammar's `where`
// clause produces for every db op the language supports.
func (c *Compiler) whereFields(e ast.Expr) []ast.KV {
	if e == nil {
		return nil
	}
	if b, ok := e.(*ast.BinaryExpr); ok {
		if b.Op == ast.OpAnd {
			return append(c.whereFields(b.Left), c.whereFields(b.Right)...)
		}
		if b.Op == ast.OpEquals {
			if id, ok := b.Left.(*ast.IdentExpr); ok {
				return []ast.KV{{Key: id.Name, Value: b.Right}}
			}
		}
	}
	c.internalErr("unsupported db where-clause shape %T", e)
	return nil
}

func (c *Compiler) emitDBOp(n *ast.DBOpStmt, sc *scope, locals *counter) {
	c.emitFieldsRecord(c.whereFields(n.Where), sc) // predicate
	c.emitFieldsRecord(n.Fields, sc)                // fields

	entityIdx := c.textConst(n.Entity)
	c.chunk.Code = append(c.chunk.Code, byte(OpDatabaseOp), byte(dbOpCode(n.Op)))
	c.chunk.Code = binary.BigEndian.AppendUint16(c.chunk.Code, entityIdx)

	if n.Result != "" {
		c.declareLocal(n.Result, sc, locals, ast.Type{Kind: ast.TRecord})
		c.storeVar(n.Result, sc)
	} else {
		c.chunk.Emit(OpPop)
	}
}

func dbOpCode(op ast.DBOpKind) DBOpCode {
	switch op {
	case ast.DBCreate:
		return DBOpCreate
	case ast.DBFind:
		return DBOpFind
	case ast.DBFindAll:
		return DBOpFindAll
	case ast.DBUpdate:
		return DBOpUpdate
	default:
		return DBOpDelete
	}
}

// emitFieldsRecord builds an anonymous record from a static key/value
// list: values are pushed in field order, matched by OpMakeRecord's
// reverse-pop against the schema anonSchema just registered.
func (c *Compiler) emitFieldsRecord(fields []ast.KV, sc *scope) {
	idx := c.anonSchema(fields)
	for _, kv := range fields {
		c.emitExpr(kv.Value, sc)
	}
	c.chunk.Code = append(c.chunk.Code, byte(OpMakeRecord))
	c.chunk.Code = binary.BigEndian.AppendUint16(c.chunk.Code, idx)
	c.chunk.Code = binary.BigEndian.AppendUint16(c.chunk.Code, uint16(len(fields)))
}

func (c *Compiler) emitHTTPCall(call ast.HTTPCallExpr, sc *scope) {
	c.emitExpr(call.URL, sc)
	c.pushText(call.Method)
	argc := byte(2)
	if call.Body != nil {
		c.emitExpr(call.Body, sc)
		argc++
	}
	if len(call.Headers) > 0 {
		c.emitFieldsRecord(call.Headers, sc)
		argc++
	}
	c.chunk.Code = append(c.chunk.Code, byte(OpHostCall), byte(HostHTTPRequest), argc)
}

func (c *Compiler) emitCall(call *ast.CallExpr, sc *scope) {
	for _, a := range call.Args {
		c.emitExpr(a, sc)
	}
	module := call.Module
	if module == "" {
		module = c.curModule
	}
	modIdx, ok := c.mi.modIdx[module]
	if !ok {
		c.internalErr("call to unknown module %q", module)
	}
	actIdx, ok2 := c.mi.actionIdx[module][call.Action]
	if !ok2 {
		c.internalErr("call to unknown action %q.%q", module, call.Action)
	}
	c.chunk.Code = append(c.chunk.Code, byte(OpCall))
	c.chunk.Code = binary.BigEndian.AppendUint16(c.chunk.Code, uint16(modIdx))
	c.chunk.Code = binary.BigEndian.AppendUint16(c.chunk.Code, uint16(actIdx))
	c.chunk.Code = append(c.chunk.Code, byte(len(call.Args)))
}

func (c *Compiler) callReturnType(call *ast.CallExpr) ast.Type {
	module := call.Module
	if module == "" {
		module = c.curModule
	}
	modIdx, ok := c.mi.modIdx[module]
	if !ok {
		return ast.Type{Kind: ast.TInt}
	}
	actIdx, ok := c.mi.actionIdx[module][call.Action]
	if !ok {
		return ast.Type{Kind: ast.TInt}
	}
	switch c.chunk.Modules[modIdx].Actions[actIdx].Returns {
	case TypeDecimal:
		return ast.Type{Kind: ast.TDecimal}
	case TypeText:
		return ast.Type{Kind: ast.TText}
	case TypeFlag:
		return ast.Type{Kind: ast.TFlag}
	default:
		return ast.Type{Kind: ast.TInt}
	}
}

// ---- Expressions -------------------------------------------------------------

func (c *Compiler) emitExpr(e ast.Expr, sc *scope) {
	switch n := e.(type) {
	case *ast.LiteralExpr:
		switch n.Type.Kind {
		case ast.TInt:
			c.chunk.EmitU16(OpPushConst, c.intConst(n.Int))
		case ast.TDecimal:
			c.chunk.EmitU16(OpPushConst, c.decimalConst(n.Scaled))
		case ast.TFlag:
			c.chunk.EmitU16(OpPushConst, c.flagConst(n.Flag))
		default:
			c.chunk.EmitU16(OpPushConst, c.textConst(n.Text))
		}

	case *ast.IdentExpr:
		c.loadVar(n.Name, sc)

	case *ast.PropertyExpr:
		c.emitExpr(n.Target, sc)
		c.chunk.EmitU16(OpGetField, c.textConst(n.Field))

	case *ast.BinaryExpr:
		c.emitBinary(n, sc)

	case *ast.InterpExpr:
		for _, chunk := range n.Chunks {
			if chunk.Expr != nil {
				c.emitExpr(chunk.Expr, sc)
			} else {
				c.chunk.EmitU16(OpPushConst, c.textConst(chunk.Literal))
			}
		}
		c.chunk.EmitU16(OpInterp, uint16(len(n.Chunks)))

	case *ast.CollectionExpr:
		for _, el := range n.Elements {
			c.emitExpr(el, sc)
		}
		op := OpMakeList
		if n.Group {
			op = OpMakeGroup
		}
		c.chunk.EmitU16(op, uint16(len(n.Elements)))

	case *ast.FormatExpr:
		c.emitExpr(n.Value, sc)
		c.chunk.EmitU16(OpFormat, c.textConst(n.Pattern))

	case *ast.CallExpr:
		c.emitCall(n, sc)

	case *ast.HTTPCallExpr:
		c.emitHTTPCall(*n, sc)

	default:
		c.internalErr("unhandled expression type %T", n)
		c.pushFlag(false)
	}
}

func (c *Compiler) emitBinary(n *ast.BinaryExpr, sc *scope) {
	switch n.Op {
	case ast.OpOr:
		c.emitExpr(n.Left, sc)
		tJump := c.chunk.EmitJump(OpJumpIfTrue)
		c.emitExpr(n.Right, sc)
		endJump := c.chunk.EmitJump(OpJump)
		c.chunk.PatchJumpToHere(tJump)
		c.pushFlag(true)
		c.chunk.PatchJumpToHere(endJump)

	case ast.OpAnd:
		c.emitExpr(n.Left, sc)
		fJump := c.chunk.EmitJump(OpJumpIfFalse)
		c.emitExpr(n.Right, sc)
		endJump := c.chunk.EmitJump(OpJump)
		c.chunk.PatchJumpToHere(fJump)
		c.pushFlag(false)
		c.chunk.PatchJumpToHere(endJump)

	case ast.OpNot:
		c.emitExpr(n.Left, sc)
		c.chunk.Emit(OpNot)

	case ast.OpNeg:
		c.emitExpr(n.Left, sc)
		c.chunk.Emit(OpNeg)

	case ast.OpIsEmpty:
		c.emitExpr(n.Left, sc)
		c.chunk.Emit(OpIsEmpty)

	case ast.OpIsNotEmpty:
		c.emitExpr(n.Left, sc)
		c.chunk.Emit(OpIsNotEmpty)

	case ast.OpEquals, ast.OpDoesNotEqual, ast.OpIsGreaterThan, ast.OpIsLessThan,
		ast.OpIsGreaterThanOrEqualTo, ast.OpIsLessThanOrEqualTo:
		c.emitExpr(n.Left, sc)
		c.emitExpr(n.Right, sc)
		c.chunk.Emit(compareOpcode(n.Op))

	case ast.OpPlus, ast.OpMinus, ast.OpTimes, ast.OpDividedBy:
		c.emitArith(n, sc)

	default:
		c.internalErr("unhandled binary op %v", n.Op)
	}
}

func compareOpcode(op ast.BinOp) Opcode {
	switch op {
	case ast.OpEquals:
		return OpEq
	case ast.OpDoesNotEqual:
		return OpNe
	case ast.OpIsGreaterThan:
		return OpGt
	case ast.OpIsLessThan:
		return OpLt
	case ast.OpIsGreaterThanOrEqualTo:
		return OpGe
	default:
		return OpLe
	}
}

// emitArith picks the int or decimal opcode variant by the static types
// of the operands, inserting an OpIntToDecimal promotion on whichever
// side is an int when the other side is a decimal.
func (c *Compiler) emitArith(n *ast.BinaryExpr, sc *scope) {
	lt := c.typeOfExpr(n.Left, sc)
	rt := c.typeOfExpr(n.Right, sc)
	decimal := lt.Kind == ast.TDecimal || rt.Kind == ast.TDecimal

	c.emitExpr(n.Left, sc)
	if decimal && lt.Kind != ast.TDecimal {
		c.chunk.Emit(OpIntToDecimal)
	}
	c.emitExpr(n.Right, sc)
	if decimal && rt.Kind != ast.TDecimal {
		c.chunk.Emit(OpIntToDecimal)
	}

	var op Opcode
	switch n.Op {
	case ast.OpPlus:
		op = OpAddI
		if decimal {
			op = OpAddD
		}
	case ast.OpMinus:
		op = OpSubI
		if decimal {
			op = OpSubD
		}
	case ast.OpTimes:
		op = OpMulI
		if decimal {
			op = OpMulD
		}
	default:
		op = OpDivI
		if decimal {
			op = OpDivD
		}
	}
	c.chunk.Emit(op)
}

// typeOfExpr re-derives an expression's static type well enough to pick
// arithmetic opcode variants; it is deliberately conservative, defaulting
// to int, since anything genuinely ambiguous is a checker error already
// reported before the emitter runs.
func (c *Compiler) typeOfExpr(e ast.Expr, sc *scope) ast.Type {
	switch n := e.(type) {
	case *ast.LiteralExpr:
		return n.Type
	case *ast.IdentExpr:
		if v, ok := sc.lookup(n.Name); ok {
			return v.typ
		}
		return ast.Type{Kind: ast.TInt}
	case *ast.PropertyExpr:
		return c.fieldType(n, sc)
	case *ast.BinaryExpr:
		switch n.Op {
		case ast.OpPlus, ast.OpMinus, ast.OpTimes, ast.OpDividedBy, ast.OpNeg:
			lt := c.typeOfExpr(n.Left, sc)
			if n.Right != nil {
				rt := c.typeOfExpr(n.Right, sc)
				if lt.Kind == ast.TDecimal || rt.Kind == ast.TDecimal {
					return ast.Type{Kind: ast.TDecimal}
				}
			}
			return lt
		default:
			return ast.Type{Kind: ast.TFlag}
		}
	case *ast.CallExpr:
		return c.callReturnType(n)
	case *ast.FormatExpr, *ast.InterpExpr:
		return ast.Type{Kind: ast.TText}
	case *ast.CollectionExpr:
		elem := ast.Type{Kind: ast.TText}
		if len(n.Elements) > 0 {
			elem = c.typeOfExpr(n.Elements[0], sc)
		}
		kind := ast.TListOf
		if n.Group {
			kind = ast.TGroupOf
		}
		return ast.Type{Kind: kind, Elem: &elem}
	case *ast.HTTPCallExpr:
		return ast.Type{Kind: ast.TRecord, RecordID: "HTTPResponse"}
	default:
		return ast.Type{Kind: ast.TInt}
	}
}

// fieldType resolves a.Field's declared type from the record schemas
// registered so far, falling back to text when the target's own type is
// not statically known (e.g. a db result record).
func (c *Compiler) fieldType(n *ast.PropertyExpr, sc *scope) ast.Type {
	target := c.typeOfExpr(n.Target, sc)
	if target.Kind != ast.TRecord {
		return ast.Type{Kind: ast.TText}
	}
	for _, rs := range c.chunk.RecordSchemas {
		if rs.Name != target.RecordID {
			continue
		}
		for _, f := range rs.Fields {
			if f.Name == n.Field {
				return typeFromTag(f.Type)
			}
		}
	}
	return ast.Type{Kind: ast.TText}
}

func typeFromTag(t TypeTag) ast.Type {
	switch t {
	case TypeInt:
		return ast.Type{Kind: ast.TInt}
	case TypeDecimal:
		return ast.Type{Kind: ast.TDecimal}
	case TypeFlag:
		return ast.Type{Kind: ast.TFlag}
	case TypeDate:
		return ast.Type{Kind: ast.TDate}
	case TypeFile:
		return ast.Type{Kind: ast.TFile}
	default:
		return ast.Type{Kind: ast.TText}
	}
}

// inferElementType reports the per-iteration type of a for-each loop
// variable: a collection's element type, or text for character-by-
// character iteration over a text value.
func (c *Compiler) inferElementType(iter ast.Expr, sc *scope) ast.Type {
	t := c.typeOfExpr(iter, sc)
	if (t.Kind == ast.TListOf || t.Kind == ast.TGroupOf) && t.Elem != nil {
		return *t.Elem
	}
	return ast.Type{Kind: ast.TText}
}
