package lexer

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/droe-lang/droec/pkg/diag"
)

// Lexer tokenizes DSL source text.
type Lexer struct {
	file    string
	input   string
	pos     int
	readPos int
	ch      rune
	line    int
	col     int

	// pending holds the sub-tokens of an interpolated string that
	// readString has already lexed; NextToken returns them first.
	pending []Token
}

// New creates a Lexer over the given input, attributing positions to file.
func New(file, input string) *Lexer {
	l := &Lexer{file: file, input: input, line: 1, col: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() diag.Position {
	return diag.Position{File: l.file, Line: l.line, Column: l.col}
}

// NextToken returns the next token in the stream.
func (l *Lexer) NextToken() Token {
	if len(l.pending) > 0 {
		t := l.pending[0]
		l.pending = l.pending[1:]
		return t
	}

	l.skipInlineSpaceAndComments()
	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Kind: EOF, Pos: pos}

	case l.ch == '\n':
		l.readChar()
		return Token{Kind: Newline, Literal: "\n", Pos: pos}

	case l.ch == '(':
		l.readChar()
		return Token{Kind: LParen, Literal: "(", Pos: pos}

	case l.ch == ')':
		l.readChar()
		return Token{Kind: RParen, Literal: ")", Pos: pos}

	case l.ch == ',':
		l.readChar()
		return Token{Kind: Comma, Literal: ",", Pos: pos}

	case l.ch == '.':
		// A bare dot used as a decimal point is only valid inside a number,
		// handled in readNumber; standalone it is a statement separator.
		if !isDigit(l.peekChar()) {
			l.readChar()
			return Token{Kind: Dot, Literal: ".", Pos: pos}
		}

	case l.ch == ':':
		l.readChar()
		return Token{Kind: Colon, Literal: ":", Pos: pos}

	case l.ch == '@':
		l.readChar()
		return Token{Kind: At, Literal: "@", Pos: pos}

	case l.ch == ']':
		l.readChar()
		return Token{Kind: InterpEnd, Literal: "]", Pos: pos}

	case l.ch == '/':
		// An unquoted serve path template such as /users/:id runs to the
		// next whitespace.
		start := l.pos
		for l.ch != 0 && l.ch != ' ' && l.ch != '\t' && l.ch != '\r' && l.ch != '\n' {
			l.readChar()
		}
		return Token{Kind: Text, Literal: l.input[start:l.pos], Pos: pos}

	case l.ch == '"' || l.ch == '\'':
		return l.readString(pos)

	case isDigit(l.ch) || (l.ch == '-' && isDigit(l.peekChar())):
		return l.readNumber(pos)

	case isLetter(l.ch) || l.ch == '_':
		return l.readWordOrKeyword(pos)
	}

	ch := l.ch
	l.readChar()
	return Token{Kind: Error, Literal: "invalid character: " + string(ch), Pos: pos}
}

// skipInlineSpaceAndComments skips spaces/tabs and // and /* */ comments,
// but never consumes a newline: newlines are statement terminators.
func (l *Lexer) skipInlineSpaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == '/' && l.peekChar() == '/' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for !(l.ch == '*' && l.peekChar() == '/') && l.ch != 0 {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
			continue
		}
		break
	}
}

// readString reads a single- or double-quoted string literal, splitting it
// into InterpChunk/InterpStart/.../InterpEnd sub-tokens when it contains
// "[" ... "]" interpolation markers. The caller receives the first
// sub-token immediately; the rest are buffered in l.pending.
func (l *Lexer) readString(pos diag.Position) Token {
	quote := l.ch
	l.readChar()

	var sb strings.Builder
	var toks []Token
	chunkPos := pos

	flushChunk := func(endPos diag.Position) {
		toks = append(toks, Token{Kind: InterpChunk, Literal: sb.String(), Pos: chunkPos})
		sb.Reset()
		chunkPos = endPos
	}

	for l.ch != 0 && l.ch != quote {
		switch {
		case l.ch == '\\':
			l.readChar()
			sb.WriteRune(unescape(l.ch))
			l.readChar()
		case l.ch == '[':
			flushChunk(l.position())
			toks = append(toks, Token{Kind: InterpStart, Literal: "[", Pos: l.position()})
			l.readChar()
			// Everything up to the matching ']' is re-lexed as an
			// expression by the parser, driven by nested NextToken calls
			// against this same Lexer (interpolation is lexically scoped
			// to inside the brackets, so normal tokenization resumes).
			depth := 1
			for l.ch != 0 && depth > 0 {
				inner := l.NextToken()
				if inner.Kind == InterpEnd {
					depth--
					if depth == 0 {
						toks = append(toks, inner)
						break
					}
				}
				if inner.Literal == "[" {
					depth++
				}
				toks = append(toks, inner)
			}
			chunkPos = l.position()
		case l.ch == ']':
			l.readChar()
			return func() Token {
				t := Token{Kind: InterpEnd, Literal: "]", Pos: l.position()}
				return t
			}()
		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}

	if l.ch != quote {
		return Token{Kind: Error, Literal: "unterminated string", Pos: pos}
	}
	l.readChar()
	flushChunk(l.position())

	if len(toks) == 1 {
		return toks[0]
	}
	l.pending = append(l.pending, toks[1:]...)
	return toks[0]
}

func unescape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case '\\':
		return '\\'
	case '"':
		return '"'
	case '\'':
		return '\''
	default:
		return r
	}
}

// readNumber reads an int or decimal literal, validating range per spec:
// int fits a 32-bit signed value; decimal fits a 64-bit signed value once
// scaled by 100.
func (l *Lexer) readNumber(pos diag.Position) Token {
	start := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	isDecimal := false
	if l.ch == '.' && isDigit(l.peekChar()) {
		isDecimal = true
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	lit := l.input[start:l.pos]

	if isDecimal {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil || math.Abs(f)*100 > math.MaxInt64 {
			return Token{Kind: Error, Literal: "decimal literal out of range: " + lit, Pos: pos}
		}
		return Token{Kind: Decimal, Literal: lit, Pos: pos}
	}

	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil || n > math.MaxInt32 || n < math.MinInt32 {
		return Token{Kind: Error, Literal: "int literal out of range: " + lit, Pos: pos}
	}
	return Token{Kind: Int, Literal: lit, Pos: pos}
}

// readWordOrKeyword reads an identifier, then greedily tries to extend it
// into one of the longest-match multi-word keyword phrases by peeking
// ahead across single spaces.
func (l *Lexer) readWordOrKeyword(pos diag.Position) Token {
	first := l.readWord()

	for _, cand := range longestMatchKeywords {
		if !strings.EqualFold(cand.phrase[0], first) {
			continue
		}
		if lit, ok := l.tryMatchPhrase(cand.phrase); ok {
			return Token{Kind: cand.kind, Literal: lit, Pos: pos}
		}
	}

	if kind, ok := singleWordKeywords[strings.ToLower(first)]; ok {
		return Token{Kind: kind, Literal: first, Pos: pos}
	}
	return Token{Kind: Identifier, Literal: first, Pos: pos}
}

// readWord consumes one run of letters/digits/underscore.
func (l *Lexer) readWord() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// tryMatchPhrase speculatively matches the remaining words of phrase,
// separated by exactly one run of horizontal whitespace, without
// committing the lexer position unless the whole phrase matches.
func (l *Lexer) tryMatchPhrase(phrase []string) (string, bool) {
	savedPos, savedReadPos, savedCh := l.pos, l.readPos, l.ch
	savedLine, savedCol := l.line, l.col

	matched := []string{phrase[0]}
	ok := true
	for _, word := range phrase[1:] {
		if !l.skipSingleSpaceRun() {
			ok = false
			break
		}
		w := l.readWord()
		if !strings.EqualFold(w, word) {
			ok = false
			break
		}
		matched = append(matched, w)
	}

	if !ok {
		l.pos, l.readPos, l.ch = savedPos, savedReadPos, savedCh
		l.line, l.col = savedLine, savedCol
		return "", false
	}
	return strings.Join(matched, " "), true
}

// skipSingleSpaceRun consumes one or more spaces/tabs (never a newline)
// and reports whether any whitespace was found.
func (l *Lexer) skipSingleSpaceRun() bool {
	found := false
	for l.ch == ' ' || l.ch == '\t' {
		found = true
		l.readChar()
	}
	return found
}

func isLetter(r rune) bool { return unicode.IsLetter(r) }
func isDigit(r rune) bool  { return r >= '0' && r <= '9' }

// Tokenize returns every token in input, including the trailing EOF.
func Tokenize(file, input string) []Token {
	l := New(file, input)
	var toks []Token
	for {
		t := l.NextToken()
		toks = append(toks, t)
		if t.Kind == EOF {
			break
		}
	}
	return toks
}
