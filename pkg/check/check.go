// Package check implements the two-pass symbol and type checker: first
// collecting every module's top-level names (data records and
// actions/tasks), then visiting bodies with a scoped symbol table.
package check

import (
	"github.com/droe-lang/droec/pkg/ast"
	"github.com/droe-lang/droec/pkg/diag"
	"github.com/droe-lang/droec/pkg/resolver"
)

type actionSig struct {
	Params  []ast.Type
	Returns *ast.Type
}

type moduleScope struct {
	actions map[string]actionSig
	records map[string]map[string]ast.Type // field name -> type
}

func newModuleScope() *moduleScope {
	return &moduleScope{actions: map[string]actionSig{}, records: map[string]map[string]ast.Type{}}
}

// scope is a lexical block's variable bindings, chained to its parent.
type scope struct {
	vars   map[string]ast.Type
	parent *scope
}

func newScope(parent *scope) *scope { return &scope{vars: map[string]ast.Type{}, parent: parent} }

func (s *scope) declare(name string, t ast.Type) { s.vars[name] = t }

func (s *scope) lookup(name string) (ast.Type, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if t, ok := sc.vars[name]; ok {
			return t, true
		}
	}
	return ast.Type{}, false
}

// Checker accumulates the collected symbol tables and the diagnostics
// produced while checking bodies.
type Checker struct {
	modules map[string]*moduleScope
	diags   diag.List
}

// New builds an empty Checker.
func New() *Checker {
	return &Checker{modules: map[string]*moduleScope{}}
}

// Check runs both passes over every resolved module and returns the
// diagnostics accumulated across all of them. A program with any
// diagnostic here must not be passed to the emitter (spec.md's
// codegen.internal guarantee assumes a clean checker pass).
func (c *Checker) Check(modules []resolver.Module) diag.List {
	for _, m := range modules {
		c.collectDecls(m.Program.Decls, m.Name)
	}
	for _, m := range modules {
		c.checkDecls(m.Program.Decls, m.Name, newScope(nil), nil)
	}
	return c.diags
}

func (c *Checker) moduleFor(name string) *moduleScope {
	ms, ok := c.modules[name]
	if !ok {
		ms = newModuleScope()
		c.modules[name] = ms
	}
	return ms
}

func (c *Checker) errorf(kind diag.Kind, n ast.Node, format string, args ...any) {
	c.diags = append(c.diags, diag.New(kind, n.Span(), format, args...))
}

// ---- Pass 1: collect top-level names ---------------------------------

func (c *Checker) collectDecls(decls []ast.Stmt, moduleName string) {
	ms := c.moduleFor(moduleName)
	for _, d := range decls {
		switch n := d.(type) {
		case *ast.ActionDecl:
			if _, dup := ms.actions[n.Name]; dup {
				c.errorf(diag.ResolveDuplicate, n, "action %q already defined in this module", n.Name)
				continue
			}
			params := make([]ast.Type, len(n.Params))
			for i, p := range n.Params {
				params[i] = p.Type
			}
			ms.actions[n.Name] = actionSig{Params: params, Returns: n.Returns}
		case *ast.DataDecl:
			if _, dup := ms.records[n.Name]; dup {
				c.errorf(diag.ResolveDuplicate, n, "data type %q already defined in this module", n.Name)
				continue
			}
			fields := make(map[string]ast.Type, len(n.Fields))
			for _, f := range n.Fields {
				fields[f.Name] = f.Type
			}
			ms.records[n.Name] = fields
		case *ast.ModuleDecl:
			c.collectDecls(n.Decls, n.Name)
		}
	}
}

// lookupRecord finds a record's field map by name across every module;
// record names are a flat namespace, matching the bytecode emitter's
// RecordSchemas table which carries no module qualifier either.
func (c *Checker) lookupRecord(name string) (map[string]ast.Type, bool) {
	for _, ms := range c.modules {
		if fields, ok := ms.records[name]; ok {
			return fields, true
		}
	}
	return nil, false
}

// ---- Pass 2: scoped body checking -------------------------------------

func (c *Checker) checkDecls(decls []ast.Stmt, moduleName string, sc *scope, currentReturn *ast.Type) {
	for _, d := range decls {
		switch n := d.(type) {
		case *ast.ActionDecl:
			c.checkAction(n, moduleName)
		case *ast.ModuleDecl:
			c.checkDecls(n.Decls, n.Name, newScope(nil), nil)
		case *ast.ServeStmt:
			c.checkServe(n, moduleName)
		case *ast.DataDecl:
			// field types already validated by construction at parse time.
		default:
			c.checkStmt(d, sc, moduleName, currentReturn)
		}
	}
}

func (c *Checker) checkAction(n *ast.ActionDecl, moduleName string) {
	sc := newScope(nil)
	for _, p := range n.Params {
		sc.declare(p.Name, p.Type)
	}
	c.checkStmts(n.Body, sc, moduleName, n.Returns)
}

func (c *Checker) checkServe(n *ast.ServeStmt, moduleName string) {
	sc := newScope(nil)
	sc.declare("request", ast.Type{Kind: ast.TRecord, RecordID: "HTTPRequest"})
	for _, seg := range n.Path {
		if seg.Param != "" {
			sc.declare(seg.Param, ast.Type{Kind: ast.TText})
		}
	}
	c.checkStmts(n.Body, sc, moduleName, nil)
}

func (c *Checker) checkStmts(stmts []ast.Stmt, sc *scope, moduleName string, currentReturn *ast.Type) {
	for _, s := range stmts {
		c.checkStmt(s, sc, moduleName, currentReturn)
	}
}

func (c *Checker) checkStmt(s ast.Stmt, sc *scope, moduleName string, currentReturn *ast.Type) {
	switch n := s.(type) {
	case *ast.DisplayStmt:
		c.checkExpr(n.Value, sc, moduleName)

	case *ast.SetStmt:
		var t ast.Type
		if n.FromCall != nil {
			t = c.checkCall(n.FromCall, sc, moduleName)
		} else {
			t = c.checkExpr(n.Value, sc, moduleName)
		}
		if n.DeclaredType != nil {
			if !compatible(*n.DeclaredType, t) {
				c.errorf(diag.TypeIncompatibleAssignment, n, "cannot assign %s to %s (declared as %s)", t, n.Name, *n.DeclaredType)
			}
			t = *n.DeclaredType
		}
		sc.declare(n.Name, t)

	case *ast.ReassignStmt:
		declared, ok := sc.lookup(n.Name)
		if !ok {
			c.errorf(diag.TypeUnknownIdentifier, n, "%q is not declared", n.Name)
			return
		}
		t := c.checkExpr(n.Value, sc, moduleName)
		if !compatible(declared, t) {
			c.errorf(diag.TypeIncompatibleAssignment, n, "cannot assign %s to %s (declared as %s)", t, n.Name, declared)
		}

	case *ast.CondStmt:
		for _, arm := range n.Arms {
			if arm.Cond != nil {
				t := c.checkExpr(arm.Cond, sc, moduleName)
				if t.Kind != ast.TFlag {
					c.errorf(diag.TypeIncompatibleAssignment, n, "condition must be flag, got %s", t)
				}
			}
			c.checkStmts(arm.Body, newScope(sc), moduleName, currentReturn)
		}

	case *ast.WhileStmt:
		t := c.checkExpr(n.Cond, sc, moduleName)
		if t.Kind != ast.TFlag {
			c.errorf(diag.TypeIncompatibleAssignment, n, "while condition must be flag, got %s", t)
		}
		c.checkStmts(n.Body, newScope(sc), moduleName, currentReturn)

	case *ast.ForEachStmt:
		iterType := c.checkExpr(n.Iter, sc, moduleName)
		elemType := ast.Type{Kind: ast.TText}
		switch iterType.Kind {
		case ast.TListOf, ast.TGroupOf:
			elemType = *iterType.Elem
		case ast.TText:
			elemType = ast.Type{Kind: ast.TText}
		default:
			c.errorf(diag.TypeIncompatibleAssignment, n, "for each requires a list, group, or text, got %s", iterType)
		}
		inner := newScope(sc)
		inner.declare(n.Var, elemType)
		c.checkStmts(n.Body, inner, moduleName, currentReturn)

	case *ast.GiveStmt:
		if currentReturn == nil {
			if n.Value != nil {
				c.checkExpr(n.Value, sc, moduleName)
			}
			return
		}
		if n.Value == nil {
			c.errorf(diag.TypeIncompatibleAssignment, n, "action declared to return %s but this give has no value", *currentReturn)
			return
		}
		t := c.checkExpr(n.Value, sc, moduleName)
		if !compatible(*currentReturn, t) {
			c.errorf(diag.TypeIncompatibleAssignment, n, "give value is %s, action returns %s", t, *currentReturn)
		}

	case *ast.CallHTTPStmt:
		t := c.checkHTTPCall(&n.Call, sc, moduleName)
		if n.Result != "" {
			sc.declare(n.Result, t)
		}

	case *ast.DBOpStmt:
		c.checkDBOp(n, sc, moduleName)

	case *ast.RespondStmt:
		if n.Body != nil {
			c.checkExpr(n.Body, sc, moduleName)
		}

	case *ast.UIElemStmt:
		c.checkExpr(n.Value, sc, moduleName)

	case *ast.FragmentDecl, *ast.ScreenDecl, *ast.SlotDecl:
		// Opaque UI data; not part of the type system.

	case *ast.ActionDecl, *ast.DataDecl, *ast.ModuleDecl, *ast.ServeStmt:
		// Handled by checkDecls at the declaration level, never nested here.
	}
}

func (c *Checker) checkDBOp(n *ast.DBOpStmt, sc *scope, moduleName string) {
	for _, kv := range n.Fields {
		c.checkExpr(kv.Value, sc, moduleName)
	}
	if n.Where != nil {
		c.checkExpr(n.Where, sc, moduleName)
	}
	if n.Result == "" {
		return
	}
	entity := ast.Type{Kind: ast.TRecord, RecordID: n.Entity}
	switch n.Op {
	case ast.DBFindAll:
		sc.declare(n.Result, ast.Type{Kind: ast.TListOf, Elem: &entity})
	case ast.DBFind, ast.DBCreate, ast.DBUpdate:
		sc.declare(n.Result, entity)
	case ast.DBDelete:
		sc.declare(n.Result, ast.Type{Kind: ast.TFlag})
	}
}

func (c *Checker) checkCall(call *ast.CallExpr, sc *scope, moduleName string) ast.Type {
	mod := call.Module
	if mod == "" {
		mod = moduleName
	}
	ms, ok := c.modules[mod]
	if !ok {
		c.errorf(diag.ResolveUnknownModule, call, "unknown module %q", mod)
		return ast.Type{Kind: ast.TVoid}
	}
	sig, ok := ms.actions[call.Action]
	if !ok {
		c.errorf(diag.TypeUnknownIdentifier, call, "unknown action %q in module %q", call.Action, mod)
		return ast.Type{Kind: ast.TVoid}
	}
	if len(call.Args) != len(sig.Params) {
		c.errorf(diag.TypeArityMismatch, call, "%s.%s expects %d argument(s), got %d", mod, call.Action, len(sig.Params), len(call.Args))
	}
	for i, arg := range call.Args {
		t := c.checkExpr(arg, sc, moduleName)
		if i < len(sig.Params) && !compatible(sig.Params[i], t) {
			c.errorf(diag.TypeIncompatibleAssignment, arg, "argument %d to %s.%s is %s, expected %s", i+1, mod, call.Action, t, sig.Params[i])
		}
	}
	if sig.Returns == nil {
		return ast.Type{Kind: ast.TVoid}
	}
	return *sig.Returns
}

func (c *Checker) checkHTTPCall(call *ast.HTTPCallExpr, sc *scope, moduleName string) ast.Type {
	urlType := c.checkExpr(call.URL, sc, moduleName)
	if urlType.Kind != ast.TText {
		c.errorf(diag.TypeIncompatibleAssignment, call, "call URL must be text, got %s", urlType)
	}
	if call.Body != nil {
		c.checkExpr(call.Body, sc, moduleName)
	}
	for _, kv := range call.Headers {
		c.checkExpr(kv.Value, sc, moduleName)
	}
	return ast.Type{Kind: ast.TRecord, RecordID: "HTTPResponse"}
}

// ---- Expressions --------------------------------------------------------

func (c *Checker) checkExpr(e ast.Expr, sc *scope, moduleName string) ast.Type {
	switch n := e.(type) {
	case *ast.LiteralExpr:
		return n.Type

	case *ast.IdentExpr:
		if t, ok := sc.lookup(n.Name); ok {
			return t
		}
		c.errorf(diag.TypeUnknownIdentifier, n, "%q is not declared", n.Name)
		return ast.Type{Kind: ast.TInt}

	case *ast.PropertyExpr:
		targetType := c.checkExpr(n.Target, sc, moduleName)
		if targetType.Kind != ast.TRecord {
			return ast.Type{Kind: ast.TText}
		}
		fields, ok := c.lookupRecord(targetType.RecordID)
		if !ok {
			return ast.Type{Kind: ast.TText}
		}
		if ft, ok := fields[n.Field]; ok {
			return ft
		}
		c.errorf(diag.TypeUnknownIdentifier, n, "%s has no field %q", targetType, n.Field)
		return ast.Type{Kind: ast.TText}

	case *ast.BinaryExpr:
		return c.checkBinary(n, sc, moduleName)

	case *ast.InterpExpr:
		for _, chunk := range n.Chunks {
			if chunk.Expr != nil {
				c.checkExpr(chunk.Expr, sc, moduleName)
			}
		}
		return ast.Type{Kind: ast.TText}

	case *ast.CollectionExpr:
		elem := ast.Type{Kind: ast.TText}
		for i, el := range n.Elements {
			t := c.checkExpr(el, sc, moduleName)
			if i == 0 {
				elem = t
			} else if !compatible(elem, t) {
				c.errorf(diag.TypeIncompatibleAssignment, el, "collection element %d is %s, expected %s", i+1, t, elem)
			}
		}
		if n.Group {
			return ast.Type{Kind: ast.TGroupOf, Elem: &elem}
		}
		return ast.Type{Kind: ast.TListOf, Elem: &elem}

	case *ast.FormatExpr:
		t := c.checkExpr(n.Value, sc, moduleName)
		if !validFormatPattern(t, n.Pattern) {
			c.errorf(diag.TypeBadFormatPattern, n, "pattern %q does not apply to %s", n.Pattern, t)
		}
		return ast.Type{Kind: ast.TText}

	case *ast.CallExpr:
		return c.checkCall(n, sc, moduleName)

	case *ast.HTTPCallExpr:
		return c.checkHTTPCall(n, sc, moduleName)
	}
	return ast.Type{Kind: ast.TVoid}
}

func (c *Checker) checkBinary(n *ast.BinaryExpr, sc *scope, moduleName string) ast.Type {
	left := c.checkExpr(n.Left, sc, moduleName)

	switch n.Op {
	case ast.OpNot:
		if left.Kind != ast.TFlag {
			c.errorf(diag.TypeIncompatibleAssignment, n, "not requires flag, got %s", left)
		}
		return ast.Type{Kind: ast.TFlag}

	case ast.OpNeg:
		if left.Kind != ast.TInt && left.Kind != ast.TDecimal {
			c.errorf(diag.TypeIncompatibleAssignment, n, "negation requires int or decimal, got %s", left)
		}
		return left

	case ast.OpIsEmpty, ast.OpIsNotEmpty:
		switch left.Kind {
		case ast.TListOf, ast.TGroupOf, ast.TText:
		default:
			c.errorf(diag.TypeIncompatibleAssignment, n, "is (not) empty requires a collection or text, got %s", left)
		}
		return ast.Type{Kind: ast.TFlag}
	}

	right := c.checkExpr(n.Right, sc, moduleName)

	switch n.Op {
	case ast.OpOr, ast.OpAnd:
		if left.Kind != ast.TFlag || right.Kind != ast.TFlag {
			c.errorf(diag.TypeIncompatibleAssignment, n, "logical operator requires flag operands, got %s and %s", left, right)
		}
		return ast.Type{Kind: ast.TFlag}

	case ast.OpEquals, ast.OpDoesNotEqual:
		if !compatible(left, right) {
			c.errorf(diag.TypeIncompatibleAssignment, n, "cannot compare %s with %s", left, right)
		}
		return ast.Type{Kind: ast.TFlag}

	case ast.OpIsGreaterThan, ast.OpIsLessThan, ast.OpIsGreaterThanOrEqualTo, ast.OpIsLessThanOrEqualTo:
		if !isNumeric(left) || !isNumeric(right) {
			c.errorf(diag.TypeIncompatibleAssignment, n, "comparison requires numeric operands, got %s and %s", left, right)
		}
		return ast.Type{Kind: ast.TFlag}

	case ast.OpPlus, ast.OpMinus, ast.OpTimes, ast.OpDividedBy:
		if !isNumeric(left) || !isNumeric(right) {
			c.errorf(diag.TypeIncompatibleAssignment, n, "arithmetic requires numeric operands, got %s and %s", left, right)
			return ast.Type{Kind: ast.TInt}
		}
		if left.Kind == ast.TDecimal || right.Kind == ast.TDecimal {
			return ast.Type{Kind: ast.TDecimal}
		}
		return ast.Type{Kind: ast.TInt}
	}
	return ast.Type{Kind: ast.TVoid}
}

func isNumeric(t ast.Type) bool { return t.Kind == ast.TInt || t.Kind == ast.TDecimal }

// compatible reports whether a value of type b may be assigned where a is
// declared. Types must match exactly; numeric widening between int and
// decimal is never implicit for assignment (only arithmetic promotes).
func compatible(a, b ast.Type) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ast.TListOf, ast.TGroupOf:
		return compatible(*a.Elem, *b.Elem)
	case ast.TRecord:
		return a.RecordID == b.RecordID
	}
	return true
}

var datePatterns = map[string]bool{"MM/dd/yyyy": true, "dd/MM/yyyy": true, "MMM dd, yyyy": true, "long": true}
var decimalPatterns = map[string]bool{"0.00": true, "#,##0.00": true, "$0.00": true}
var intPatterns = map[string]bool{"#,##0": true, "0000": true, "hex": true}

func validFormatPattern(t ast.Type, pattern string) bool {
	switch t.Kind {
	case ast.TDate:
		return datePatterns[pattern]
	case ast.TDecimal:
		return decimalPatterns[pattern]
	case ast.TInt:
		return intPatterns[pattern]
	default:
		return false
	}
}
