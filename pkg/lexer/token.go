// Package lexer tokenizes DSL source text into a stream of lexemes with
// source positions. It knows nothing about grammar; that is the parser's
// job.
package lexer

import "github.com/droe-lang/droec/pkg/diag"

// Kind is a closed enumeration of token kinds.
type Kind int

const (
	EOF Kind = iota
	Error
	Newline

	// Literals.
	Int
	Decimal
	Text
	Identifier

	// Interpolation sub-tokens, only ever produced inside a Text literal.
	InterpChunk // a literal run between interpolation markers
	InterpStart // '['
	InterpEnd   // ']'

	// Punctuation.
	LParen
	RParen
	Comma
	Dot
	Colon

	// Single-word keywords.
	KwSet
	KwTo
	KwWhich
	KwIs
	KwAre
	KwFrom
	KwDisplay
	KwWhen
	KwThen
	KwOtherwise
	KwWhile
	KwFor
	KwEach
	KwIn
	KwAction
	KwTask
	KwWith
	KwGives
	KwGive
	KwModule
	KwData
	KwServe
	KwCall
	KwMethod
	KwUsing
	KwHeaders
	KwInto
	KwRespond
	KwDb
	KwCreate
	KwFind
	KwAll
	KwUpdate
	KwDelete
	KwWhere
	KwAnd
	KwOr
	KwNot
	KwPlus
	KwMinus
	KwTimes
	KwTrue
	KwFalse
	KwList
	KwGroup
	KwOf
	KwFormat
	KwAs
	KwScreen
	KwFragment
	KwSlot
	KwLayout
	KwTitle
	KwInclude
	KwEnd // "end" prefix of end-kind tokens (end action, end when, ...)

	// Longest-match multi-word operator keywords (scanned before their
	// single-word alternatives).
	KwIsGreaterThanOrEqualTo
	KwIsLessThanOrEqualTo
	KwIsGreaterThan
	KwIsLessThan
	KwIsNot
	KwDoesNotEqual
	KwEquals
	KwForEach
	KwEndWhen
	KwEndWhile
	KwEndFor
	KwEndAction
	KwEndData
	KwEndModule
	KwEndFragment
	KwEndScreen
	KwEndSlot
	KwEndServe
	KwEndHeaders
	KwDividedBy
	KwIsEmpty
	KwIsNotEmpty

	// Metadata marker: "@key value" at file top.
	At

	// Annotations on record fields.
	KwKey
	KwAuto
	KwRequired
	KwOptional
	KwUnique
	KwDefault

	// Types.
	KwTypeInt
	KwTypeDecimal
	KwTypeText
	KwTypeFlag
	KwTypeDate
	KwTypeFile
	KwTypeNumber // legacy alias for int
)

// longestMatchKeywords lists multi-word keyword phrases that must be
// recognized before any of their single-word prefixes. Order matters:
// longer phrases are tried first.
var longestMatchKeywords = []struct {
	phrase []string
	kind   Kind
}{
	{[]string{"is", "greater", "than", "or", "equal", "to"}, KwIsGreaterThanOrEqualTo},
	{[]string{"is", "less", "than", "or", "equal", "to"}, KwIsLessThanOrEqualTo},
	{[]string{"is", "greater", "than"}, KwIsGreaterThan},
	{[]string{"is", "less", "than"}, KwIsLessThan},
	{[]string{"is", "not", "empty"}, KwIsNotEmpty},
	{[]string{"is", "empty"}, KwIsEmpty},
	{[]string{"is", "not"}, KwIsNot},
	{[]string{"does", "not", "equal"}, KwDoesNotEqual},
	{[]string{"for", "each"}, KwForEach},
	{[]string{"end", "when"}, KwEndWhen},
	{[]string{"end", "while"}, KwEndWhile},
	{[]string{"end", "for"}, KwEndFor},
	{[]string{"end", "action"}, KwEndAction},
	{[]string{"end", "data"}, KwEndData},
	{[]string{"end", "module"}, KwEndModule},
	{[]string{"end", "fragment"}, KwEndFragment},
	{[]string{"end", "screen"}, KwEndScreen},
	{[]string{"end", "slot"}, KwEndSlot},
	{[]string{"end", "serve"}, KwEndServe},
	{[]string{"end", "headers"}, KwEndHeaders},
	{[]string{"divided", "by"}, KwDividedBy},
}

// singleWordKeywords maps a lowercase word to its keyword kind.
var singleWordKeywords = map[string]Kind{
	"set":        KwSet,
	"to":         KwTo,
	"which":      KwWhich,
	"is":         KwIs,
	"are":        KwAre,
	"from":       KwFrom,
	"display":    KwDisplay,
	"when":       KwWhen,
	"then":       KwThen,
	"otherwise":  KwOtherwise,
	"while":      KwWhile,
	"for":        KwFor,
	"each":       KwEach,
	"in":         KwIn,
	"action":     KwAction,
	"task":       KwTask,
	"with":       KwWith,
	"gives":      KwGives,
	"give":       KwGive,
	"module":     KwModule,
	"data":       KwData,
	"serve":      KwServe,
	"call":       KwCall,
	"method":     KwMethod,
	"using":      KwUsing,
	"headers":    KwHeaders,
	"into":       KwInto,
	"respond":    KwRespond,
	"db":         KwDb,
	"create":     KwCreate,
	"find":       KwFind,
	"all":        KwAll,
	"update":     KwUpdate,
	"delete":     KwDelete,
	"where":      KwWhere,
	"and":        KwAnd,
	"or":         KwOr,
	"not":        KwNot,
	"plus":       KwPlus,
	"minus":      KwMinus,
	"times":      KwTimes,
	"true":       KwTrue,
	"false":      KwFalse,
	"list":       KwList,
	"group":      KwGroup,
	"of":         KwOf,
	"format":     KwFormat,
	"as":         KwAs,
	"screen":     KwScreen,
	"fragment":   KwFragment,
	"slot":       KwSlot,
	"layout":     KwLayout,
	"title":      KwTitle,
	"include":    KwInclude,
	"end":        KwEnd,
	"equals":     KwEquals,
	"key":        KwKey,
	"auto":       KwAuto,
	"required":   KwRequired,
	"optional":   KwOptional,
	"unique":     KwUnique,
	"default":    KwDefault,
	"int":        KwTypeInt,
	"decimal":    KwTypeDecimal,
	"text":       KwTypeText,
	"flag":       KwTypeFlag,
	"date":       KwTypeDate,
	"file":       KwTypeFile,
	"number":     KwTypeNumber,
}

// Token is a single lexeme with its source position.
type Token struct {
	Kind    Kind
	Literal string
	Pos     diag.Position
}

func (t Token) String() string {
	return t.Literal
}
