// Package diag defines the diagnostic value shared by every compiler phase
// and by the virtual machine's runtime errors.
package diag

import "fmt"

// Kind is one of the closed set of diagnostic kinds a conformant compiler
// or VM may report. The dotted prefix names the phase that raised it.
type Kind string

const (
	// Lexical errors.
	LexMalformedLiteral  Kind = "lex.malformed_literal"
	LexUnterminatedString Kind = "lex.unterminated_string"
	LexInvalidChar        Kind = "lex.invalid_char"
	LexOverflow           Kind = "lex.overflow"

	// Parse errors.
	ParseUnexpectedToken Kind = "parse.unexpected_token"
	ParseMissingEnd      Kind = "parse.missing_end"
	ParseTrailingContent Kind = "parse.trailing_content"

	// Resolver errors.
	ResolveUnknownModule Kind = "resolve.unknown_module"
	ResolveIncludeCycle  Kind = "resolve.include_cycle"
	ResolveDuplicate     Kind = "resolve.duplicate_definition"

	// Type/checker errors.
	TypeUnknownIdentifier      Kind = "type.unknown_identifier"
	TypeArityMismatch          Kind = "type.arity_mismatch"
	TypeIncompatibleAssignment Kind = "type.incompatible_assignment"
	TypeBadFormatPattern       Kind = "type.bad_format_pattern"

	// Code generation: should never fire on a checked AST.
	CodegenInternal Kind = "codegen.internal"

	// Runtime errors.
	RuntimeOverflow        Kind = "runtime.overflow"
	RuntimeDivZero         Kind = "runtime.divzero"
	RuntimeBadCast         Kind = "runtime.bad_cast"
	RuntimeUnknownEndpoint Kind = "runtime.unknown_endpoint"
	RuntimeHostError       Kind = "runtime.host_error"
	RuntimeCancelled       Kind = "runtime.cancelled"
)

// Position is a 1-based line/column location within a named file.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Span is a half-open range of source positions.
type Span struct {
	Start Position
	End   Position
}

// Diagnostic is a single compile-time or runtime diagnostic.
type Diagnostic struct {
	Kind    Kind
	Message string
	Span    Span
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s", d.Span.Start, d.Kind, d.Message)
}

// New builds a Diagnostic at the given span.
func New(kind Kind, span Span, format string, args ...any) Diagnostic {
	return Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...), Span: span}
}

// List is an ordered collection of diagnostics accumulated during one phase.
type List []Diagnostic

func (l List) Error() string {
	if len(l) == 0 {
		return "no diagnostics"
	}
	s := l[0].Error()
	if len(l) > 1 {
		s += fmt.Sprintf(" (and %d more)", len(l)-1)
	}
	return s
}

// HasErrors reports whether the list is non-empty.
func (l List) HasErrors() bool { return len(l) > 0 }
