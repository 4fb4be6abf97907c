// Package ast defines the tagged node variants produced by the parser.
// Every node carries a source span; there is no untyped "any AST node"
// escape hatch — callers switch on concrete types.
package ast

import "github.com/droe-lang/droec/pkg/diag"

// Type is a type-lattice value: primitive, collection, or record.
type Type struct {
	Kind     TypeKind
	Elem     *Type  // set when Kind is ListOf/GroupOf
	RecordID string // set when Kind is Record
}

type TypeKind int

const (
	TInt TypeKind = iota
	TDecimal
	TText
	TFlag
	TDate
	TFile
	TListOf
	TGroupOf
	TRecord
	TVoid
)

func (t Type) String() string {
	switch t.Kind {
	case TInt:
		return "int"
	case TDecimal:
		return "decimal"
	case TText:
		return "text"
	case TFlag:
		return "flag"
	case TDate:
		return "date"
	case TFile:
		return "file"
	case TListOf:
		return "list of " + t.Elem.String()
	case TGroupOf:
		return "group of " + t.Elem.String()
	case TRecord:
		return t.RecordID
	default:
		return "void"
	}
}

// Node is implemented by every AST node.
type Node interface {
	Span() diag.Span
}

// Expr is implemented by every expression node.
type Expr interface {
	Node
	exprNode()
}

// Stmt is implemented by every statement node.
type Stmt interface {
	Node
	stmtNode()
}

type base struct {
	span diag.Span
}

func (b base) Span() diag.Span { return b.span }

// SetSpan lets the parser attach a span after constructing a node.
func (b *base) SetSpan(s diag.Span) { b.span = s }

// ---- Expressions ----------------------------------------------------

type LiteralExpr struct {
	base
	Type Type
	Int  int32
	// Scaled is the fixed-point decimal value already multiplied by 100.
	Scaled int64
	Text   string
	Flag   bool
}

func (*LiteralExpr) exprNode() {}

type IdentExpr struct {
	base
	Name string
}

func (*IdentExpr) exprNode() {}

type PropertyExpr struct {
	base
	Target Expr
	Field  string
}

func (*PropertyExpr) exprNode() {}

type BinOp int

const (
	OpOr BinOp = iota
	OpAnd
	OpNot
	OpEquals
	OpDoesNotEqual
	OpIsGreaterThan
	OpIsLessThan
	OpIsGreaterThanOrEqualTo
	OpIsLessThanOrEqualTo
	OpIsEmpty
	OpIsNotEmpty
	OpPlus
	OpMinus
	OpTimes
	OpDividedBy
	OpNeg
)

type BinaryExpr struct {
	base
	Op    BinOp
	Left  Expr
	Right Expr // nil for unary ops (Not, Neg, IsEmpty, IsNotEmpty)
}

func (*BinaryExpr) exprNode() {}

// InterpChunk is one piece of an interpolated string: either a literal
// run of text or an embedded expression.
type InterpChunk struct {
	Literal string
	Expr    Expr // nil when this chunk is a literal run
}

type InterpExpr struct {
	base
	Chunks []InterpChunk
}

func (*InterpExpr) exprNode() {}

type CollectionExpr struct {
	base
	Group    bool // false: list, true: group
	Elements []Expr
}

func (*CollectionExpr) exprNode() {}

type FormatExpr struct {
	base
	Value   Expr
	Pattern string
}

func (*FormatExpr) exprNode() {}

type CallExpr struct {
	base
	Module string // "" for a same-module call
	Action string
	Args   []Expr
}

func (*CallExpr) exprNode() {}

// HTTPCallExpr is the client-side `call <url> method <M> ...` expression.
type HTTPCallExpr struct {
	base
	URL     Expr
	Method  string
	Body    Expr // nil if no body
	Headers []KV
}

func (*HTTPCallExpr) exprNode() {}

type KV struct {
	Key   string
	Value Expr
}

// ---- Statements -------------------------------------------------------

type DisplayStmt struct {
	base
	Value Expr
}

func (*DisplayStmt) stmtNode() {}

type SetStmt struct {
	base
	Name         string
	DeclaredType *Type // nil when inferred
	Value        Expr
	// FromCall is set for `set s ... from <action> with <args>` forms;
	// when non-nil, Value is nil and FromCall supplies the initializer.
	FromCall *CallExpr
}

func (*SetStmt) stmtNode() {}

type ReassignStmt struct {
	base
	Name  string
	Value Expr
}

func (*ReassignStmt) stmtNode() {}

// CondArm is one `when`/`otherwise when` arm of a conditional chain.
type CondArm struct {
	Cond Expr // nil for the trailing `otherwise` arm
	Body []Stmt
}

type CondStmt struct {
	base
	Arms []CondArm
}

func (*CondStmt) stmtNode() {}

type WhileStmt struct {
	base
	Cond Expr
	Body []Stmt
}

func (*WhileStmt) stmtNode() {}

type ForEachStmt struct {
	base
	Var  string
	Iter Expr
	Body []Stmt
}

func (*ForEachStmt) stmtNode() {}

type Param struct {
	Name string
	Type Type
}

type ActionDecl struct {
	base
	Name    string
	Params  []Param
	Returns *Type // nil for a task
	Body    []Stmt
}

func (*ActionDecl) stmtNode() {}

type GiveStmt struct {
	base
	Value Expr // nil for a bare `give` inside a task
}

func (*GiveStmt) stmtNode() {}

type ModuleDecl struct {
	base
	Name  string
	Decls []Stmt
}

func (*ModuleDecl) stmtNode() {}

type FieldAnnotation int

const (
	AnnKey FieldAnnotation = iota
	AnnAuto
	AnnRequired
	AnnOptional
	AnnUnique
	AnnDefault
)

type FieldDecl struct {
	Name        string
	Type        Type
	Annotations []FieldAnnotation
	Default     Expr // set when AnnDefault is present
}

type DataDecl struct {
	base
	Name   string
	Fields []FieldDecl
}

func (*DataDecl) stmtNode() {}

type DBOpKind int

const (
	DBCreate DBOpKind = iota
	DBFind
	DBFindAll
	DBUpdate
	DBDelete
)

type DBOpStmt struct {
	base
	Op     DBOpKind
	Entity string
	Fields []KV   // with <field-assignments>, or set <field-assignments>
	Where  Expr   // nil when absent
	Result string // variable results are bound to, "" if discarded
}

func (*DBOpStmt) stmtNode() {}

type PathSegment struct {
	Literal string
	Param   string // set when this segment is ":name"
}

type ServeStmt struct {
	base
	Method string
	Path   []PathSegment
	Body   []Stmt
}

func (*ServeStmt) stmtNode() {}

type CallHTTPStmt struct {
	base
	Call   HTTPCallExpr
	Result string
}

func (*CallHTTPStmt) stmtNode() {}

type RespondStmt struct {
	base
	Status int
	Body   Expr // nil for a bodyless respond
}

func (*RespondStmt) stmtNode() {}

// ---- UI -----------------------------------------------------------

type UIElemKind int

const (
	UITitle UIElemKind = iota
	UIText
	UIInput
	UIButton
)

type UIElemStmt struct {
	base
	Kind  UIElemKind
	Value Expr
}

func (*UIElemStmt) stmtNode() {}

type SlotDecl struct {
	base
	Name string
	Body []Stmt
}

func (*SlotDecl) stmtNode() {}

type FragmentDecl struct {
	base
	Name  string
	Slots []SlotDecl
	Body  []Stmt
}

func (*FragmentDecl) stmtNode() {}

// ScreenFill binds a named slot to a content block when a screen
// instantiates a fragment.
type ScreenFill struct {
	Slot string
	Body []Stmt
}

type ScreenDecl struct {
	base
	Name     string
	Fragment string
	Fills    []ScreenFill
}

func (*ScreenDecl) stmtNode() {}

// ---- Program --------------------------------------------------------

type Metadata struct {
	Key   string
	Value string
}

// IncludeDecl is `@include <Name> from "<path>"`.
type IncludeDecl struct {
	base
	Name string
	Path string
}

func (*IncludeDecl) stmtNode() {}

type Program struct {
	base
	File     string
	Metadata []Metadata
	Includes []IncludeDecl
	Decls    []Stmt
}

func (*Program) stmtNode() {}
