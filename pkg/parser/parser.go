// Package parser converts a lexer token stream into an ast.Program using
// recursive descent with precedence climbing for expressions. Parse errors
// are accumulated rather than fatal: on a failed production the parser
// synchronizes to the next statement boundary and keeps going.
package parser

import (
	"strconv"
	"strings"

	"github.com/droe-lang/droec/pkg/ast"
	"github.com/droe-lang/droec/pkg/diag"
	"github.com/droe-lang/droec/pkg/lexer"
)

// Parser holds the token stream and accumulated diagnostics for one file.
type Parser struct {
	file string
	toks []lexer.Token
	pos  int
	errs diag.List
}

// Parse tokenizes and parses one source file, returning the program and
// any diagnostics gathered along the way. A non-nil program is still
// returned on error so the resolver can inspect what it has.
func Parse(file, source string) (*ast.Program, diag.List) {
	toks := lexer.Tokenize(file, source)
	p := &Parser{file: file, toks: toks}
	return p.parseProgram(), p.errs
}

func (p *Parser) peek() lexer.Token      { return p.toks[p.pos] }
func (p *Parser) peekAhead(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *Parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) atEnd() bool { return p.peek().Kind == lexer.EOF }

func (p *Parser) skipNewlines() {
	for p.peek().Kind == lexer.Newline {
		p.advance()
	}
}

func (p *Parser) errorf(kind diag.Kind, format string, args ...any) {
	tok := p.peek()
	span := diag.Span{Start: tok.Pos, End: tok.Pos}
	p.errs = append(p.errs, diag.New(kind, span, format, args...))
}

func (p *Parser) expect(kind lexer.Kind, what string) (lexer.Token, bool) {
	if p.peek().Kind != kind {
		p.errorf(diag.ParseUnexpectedToken, "expected %s, got %q", what, p.peek().Literal)
		return lexer.Token{}, false
	}
	return p.advance(), true
}

// synchronize skips tokens until the next statement boundary: a newline,
// an `end <kind>` token, or EOF.
func (p *Parser) synchronize() {
	for !p.atEnd() {
		if p.peek().Kind == lexer.Newline {
			p.advance()
			return
		}
		if isEndKind(p.peek().Kind) {
			return
		}
		p.advance()
	}
}

func isEndKind(k lexer.Kind) bool {
	switch k {
	case lexer.KwEndWhen, lexer.KwEndWhile, lexer.KwEndFor, lexer.KwEndAction,
		lexer.KwEndData, lexer.KwEndModule, lexer.KwEndFragment, lexer.KwEndScreen,
		lexer.KwEndSlot, lexer.KwEndServe, lexer.KwEndHeaders:
		return true
	}
	return false
}

func spanFrom(start diag.Position, end diag.Position) diag.Span {
	return diag.Span{Start: start, End: end}
}

// ---- Program ----------------------------------------------------------

func (p *Parser) parseProgram() *ast.Program {
	start := p.peek().Pos
	prog := &ast.Program{File: p.file}

	p.skipNewlines()
	for p.peek().Kind == lexer.At {
		p.parseMetaOrInclude(prog)
		p.skipNewlines()
	}

	for !p.atEnd() {
		if stmt := p.parseTopLevel(); stmt != nil {
			prog.Decls = append(prog.Decls, stmt)
		}
		p.skipNewlines()
	}

	end := p.peek().Pos
	prog.SetSpan(spanFrom(start, end))
	return prog
}

func (p *Parser) parseMetaOrInclude(prog *ast.Program) {
	atTok := p.advance() // '@'
	key := p.advance()
	if strings.EqualFold(key.Literal, "include") {
		name, _ := p.expect(lexer.Identifier, "module name")
		p.expect(lexer.KwFrom, "'from'")
		pathTok, ok := p.expect(lexer.InterpChunk, "include path string")
		if !ok {
			p.synchronize()
			return
		}
		prog.Includes = append(prog.Includes, ast.IncludeDecl{
			Name: name.Literal,
			Path: pathTok.Literal,
		})
		return
	}
	valTok := p.advance()
	prog.Metadata = append(prog.Metadata, ast.Metadata{Key: key.Literal, Value: valTok.Literal})
	_ = atTok
}

func (p *Parser) parseTopLevel() ast.Stmt {
	switch p.peek().Kind {
	case lexer.KwModule:
		return p.parseModule()
	case lexer.KwAction, lexer.KwTask:
		return p.parseAction()
	case lexer.KwData:
		return p.parseData()
	case lexer.KwServe:
		return p.parseServe()
	case lexer.KwFragment:
		return p.parseFragment()
	case lexer.KwScreen:
		return p.parseScreen()
	default:
		return p.parseStatement()
	}
}

func (p *Parser) parseBlock(terminators ...lexer.Kind) []ast.Stmt {
	var stmts []ast.Stmt
	p.skipNewlines()
	for !p.atEnd() && !p.atAnyOf(terminators...) {
		if s := p.parseStatement(); s != nil {
			stmts = append(stmts, s)
		}
		p.skipNewlines()
	}
	return stmts
}

func (p *Parser) atAnyOf(kinds ...lexer.Kind) bool {
	for _, k := range kinds {
		if p.peek().Kind == k {
			return true
		}
	}
	return false
}

// ---- Statements ---------------------------------------------------------

func (p *Parser) parseStatement() ast.Stmt {
	switch p.peek().Kind {
	case lexer.KwDisplay:
		return p.parseDisplay()
	case lexer.KwSet:
		return p.parseSet()
	case lexer.KwWhen:
		return p.parseCond()
	case lexer.KwWhile:
		return p.parseWhile()
	case lexer.KwForEach:
		return p.parseForEach()
	case lexer.KwGive:
		return p.parseGive()
	case lexer.KwModule:
		return p.parseModule()
	case lexer.KwAction, lexer.KwTask:
		return p.parseAction()
	case lexer.KwData:
		return p.parseData()
	case lexer.KwServe:
		return p.parseServe()
	case lexer.KwCall:
		return p.parseCallHTTP()
	case lexer.KwRespond:
		return p.parseRespond()
	case lexer.KwDb:
		return p.parseDBOp()
	case lexer.KwTitle:
		return p.parseUIElem(ast.UITitle)
	case lexer.KwFragment:
		return p.parseFragment()
	case lexer.KwScreen:
		return p.parseScreen()
	case lexer.Identifier:
		return p.parseReassignOrExprStmt()
	case lexer.Newline:
		p.advance()
		return nil
	default:
		p.errorf(diag.ParseUnexpectedToken, "unexpected token %q", p.peek().Literal)
		p.synchronize()
		return nil
	}
}

func (p *Parser) parseDisplay() ast.Stmt {
	start := p.advance().Pos // 'display'
	val := p.parseExpr()
	s := &ast.DisplayStmt{Value: val}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseSet() ast.Stmt {
	start := p.advance().Pos // 'set'
	name, _ := p.expect(lexer.Identifier, "variable name")

	var declared *ast.Type
	if p.peek().Kind == lexer.KwWhich {
		p.advance()
		if p.peek().Kind == lexer.KwIs || p.peek().Kind == lexer.KwAre {
			p.advance()
		} else {
			p.errorf(diag.ParseUnexpectedToken, "expected 'is' or 'are' after 'which'")
		}
		t := p.parseTypeRef()
		declared = &t
	}

	stmt := &ast.SetStmt{Name: name.Literal, DeclaredType: declared}

	switch p.peek().Kind {
	case lexer.KwTo:
		p.advance()
		stmt.Value = p.parseExpr()
	case lexer.KwFrom:
		p.advance()
		call := p.parseCallTail()
		stmt.FromCall = call
	default:
		p.errorf(diag.ParseUnexpectedToken, "expected 'to' or 'from' in set declaration")
	}

	stmt.SetSpan(spanFrom(start, p.peek().Pos))
	return stmt
}

// parseTypeRef parses a primitive or collection type reference.
func (p *Parser) parseTypeRef() ast.Type {
	switch p.peek().Kind {
	case lexer.KwList, lexer.KwGroup:
		isGroup := p.peek().Kind == lexer.KwGroup
		p.advance()
		p.expect(lexer.KwOf, "'of'")
		elem := p.parseTypeRef()
		kind := ast.TListOf
		if isGroup {
			kind = ast.TGroupOf
		}
		return ast.Type{Kind: kind, Elem: &elem}
	default:
		return p.parsePrimitiveType()
	}
}

func (p *Parser) parsePrimitiveType() ast.Type {
	tok := p.advance()
	switch tok.Kind {
	case lexer.KwTypeInt, lexer.KwTypeNumber:
		return ast.Type{Kind: ast.TInt}
	case lexer.KwTypeDecimal:
		return ast.Type{Kind: ast.TDecimal}
	case lexer.KwTypeText:
		return ast.Type{Kind: ast.TText}
	case lexer.KwTypeFlag:
		return ast.Type{Kind: ast.TFlag}
	case lexer.KwTypeDate:
		return ast.Type{Kind: ast.TDate}
	case lexer.KwTypeFile:
		return ast.Type{Kind: ast.TFile}
	case lexer.Identifier:
		return ast.Type{Kind: ast.TRecord, RecordID: tok.Literal}
	default:
		p.errorf(diag.ParseUnexpectedToken, "expected type, got %q", tok.Literal)
		return ast.Type{Kind: ast.TInt}
	}
}

func (p *Parser) parseReassignOrExprStmt() ast.Stmt {
	start := p.peek().Pos
	name := p.advance()
	if p.peek().Kind == lexer.KwTo {
		p.advance()
		val := p.parseExpr()
		s := &ast.ReassignStmt{Name: name.Literal, Value: val}
		s.SetSpan(spanFrom(start, p.peek().Pos))
		return s
	}
	// Bare expression statement is not a production in this grammar;
	// report it and synchronize so recovery stays local.
	p.pos--
	p.errorf(diag.ParseUnexpectedToken, "unexpected identifier %q", name.Literal)
	p.synchronize()
	return nil
}

func (p *Parser) parseCond() ast.Stmt {
	start := p.advance().Pos // 'when'
	var arms []ast.CondArm

	cond := p.parseExpr()
	p.expect(lexer.KwThen, "'then'")

	// Single-line form: `when <c> then <stmt>` with no `end when`.
	if p.peek().Kind != lexer.Newline {
		body := []ast.Stmt{p.parseStatement()}
		arms = append(arms, ast.CondArm{Cond: cond, Body: body})
		s := &ast.CondStmt{Arms: arms}
		s.SetSpan(spanFrom(start, p.peek().Pos))
		return s
	}

	body := p.parseBlock(lexer.KwOtherwise, lexer.KwEndWhen)
	arms = append(arms, ast.CondArm{Cond: cond, Body: body})

	for p.peek().Kind == lexer.KwOtherwise {
		p.advance()
		if p.peek().Kind == lexer.KwWhen {
			p.advance()
			c := p.parseExpr()
			p.expect(lexer.KwThen, "'then'")
			b := p.parseBlock(lexer.KwOtherwise, lexer.KwEndWhen)
			arms = append(arms, ast.CondArm{Cond: c, Body: b})
			continue
		}
		b := p.parseBlock(lexer.KwEndWhen)
		arms = append(arms, ast.CondArm{Cond: nil, Body: b})
		break
	}

	p.expect(lexer.KwEndWhen, "'end when'")
	s := &ast.CondStmt{Arms: arms}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseWhile() ast.Stmt {
	start := p.advance().Pos // 'while'
	cond := p.parseExpr()
	body := p.parseBlock(lexer.KwEndWhile)
	p.expect(lexer.KwEndWhile, "'end while'")
	s := &ast.WhileStmt{Cond: cond, Body: body}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseForEach() ast.Stmt {
	start := p.advance().Pos // 'for each'
	name, _ := p.expect(lexer.Identifier, "loop variable")
	p.expect(lexer.KwIn, "'in'")
	iter := p.parseExpr()
	body := p.parseBlock(lexer.KwEndFor)
	p.expect(lexer.KwEndFor, "'end for'")
	s := &ast.ForEachStmt{Var: name.Literal, Iter: iter, Body: body}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseAction() ast.Stmt {
	start := p.peek().Pos
	isTask := p.peek().Kind == lexer.KwTask
	p.advance() // 'action' or 'task'
	name, _ := p.expect(lexer.Identifier, "action name")

	var params []ast.Param
	if p.peek().Kind == lexer.KwWith {
		p.advance()
		for {
			pname, _ := p.expect(lexer.Identifier, "parameter name")
			p.expect(lexer.KwWhich, "'which'")
			p.expect(lexer.KwIs, "'is'")
			t := p.parseTypeRef()
			params = append(params, ast.Param{Name: pname.Literal, Type: t})
			if p.peek().Kind == lexer.Comma {
				p.advance()
				continue
			}
			break
		}
	}

	var returns *ast.Type
	if !isTask && p.peek().Kind == lexer.KwGives {
		p.advance()
		t := p.parseTypeRef()
		returns = &t
	}

	endKind := lexer.KwEndAction
	body := p.parseBlock(endKind)
	p.expect(endKind, "'end action'")

	s := &ast.ActionDecl{Name: name.Literal, Params: params, Returns: returns, Body: body}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseGive() ast.Stmt {
	start := p.advance().Pos // 'give'
	var val ast.Expr
	if p.peek().Kind != lexer.Newline && p.peek().Kind != lexer.EOF {
		val = p.parseExpr()
	}
	s := &ast.GiveStmt{Value: val}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseModule() ast.Stmt {
	start := p.advance().Pos // 'module'
	name, _ := p.expect(lexer.Identifier, "module name")
	var decls []ast.Stmt
	p.skipNewlines()
	for !p.atEnd() && p.peek().Kind != lexer.KwEndModule {
		if d := p.parseTopLevel(); d != nil {
			decls = append(decls, d)
		}
		p.skipNewlines()
	}
	p.expect(lexer.KwEndModule, "'end module'")
	s := &ast.ModuleDecl{Name: name.Literal, Decls: decls}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseData() ast.Stmt {
	start := p.advance().Pos // 'data'
	name, _ := p.expect(lexer.Identifier, "data type name")
	var fields []ast.FieldDecl
	p.skipNewlines()
	for !p.atEnd() && p.peek().Kind != lexer.KwEndData {
		fname, _ := p.expect(lexer.Identifier, "field name")
		p.expect(lexer.KwIs, "'is'")
		ftype := p.parseTypeRef()
		fd := ast.FieldDecl{Name: fname.Literal, Type: ftype}
		for isFieldAnnotation(p.peek().Kind) {
			fd.Annotations = append(fd.Annotations, annotationFor(p.peek().Kind))
			if p.peek().Kind == lexer.KwDefault {
				p.advance()
				fd.Default = p.parseExpr()
				continue
			}
			p.advance()
		}
		fields = append(fields, fd)
		p.skipNewlines()
	}
	p.expect(lexer.KwEndData, "'end data'")
	s := &ast.DataDecl{Name: name.Literal, Fields: fields}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func isFieldAnnotation(k lexer.Kind) bool {
	switch k {
	case lexer.KwKey, lexer.KwAuto, lexer.KwRequired, lexer.KwOptional, lexer.KwUnique, lexer.KwDefault:
		return true
	}
	return false
}

func annotationFor(k lexer.Kind) ast.FieldAnnotation {
	switch k {
	case lexer.KwKey:
		return ast.AnnKey
	case lexer.KwAuto:
		return ast.AnnAuto
	case lexer.KwRequired:
		return ast.AnnRequired
	case lexer.KwOptional:
		return ast.AnnOptional
	case lexer.KwUnique:
		return ast.AnnUnique
	default:
		return ast.AnnDefault
	}
}

func (p *Parser) parseServe() ast.Stmt {
	start := p.advance().Pos // 'serve'
	method := strings.ToUpper(p.advance().Literal)
	path := p.parsePathTemplate()
	body := p.parseBlock(lexer.KwEndServe)
	p.expect(lexer.KwEndServe, "'end serve'")
	s := &ast.ServeStmt{Method: method, Path: path, Body: body}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parsePathTemplate() []ast.PathSegment {
	raw := p.advance().Literal
	var segs []ast.PathSegment
	for _, part := range strings.Split(strings.Trim(raw, "/"), "/") {
		if strings.HasPrefix(part, ":") {
			segs = append(segs, ast.PathSegment{Param: part[1:]})
		} else {
			segs = append(segs, ast.PathSegment{Literal: part})
		}
	}
	return segs
}

func (p *Parser) parseCallHTTP() ast.Stmt {
	start := p.advance().Pos // 'call'
	call := p.parseCallHTTPTail()
	var result string
	if p.peek().Kind == lexer.KwInto {
		p.advance()
		res, _ := p.expect(lexer.Identifier, "result variable")
		result = res.Literal
	}
	s := &ast.CallHTTPStmt{Call: *call, Result: result}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseCallHTTPTail() *ast.HTTPCallExpr {
	start := p.peek().Pos
	url := p.parseExpr()
	p.expect(lexer.KwMethod, "'method'")
	method := strings.ToUpper(p.advance().Literal)

	call := &ast.HTTPCallExpr{URL: url, Method: method}
	if p.peek().Kind == lexer.KwWith {
		p.advance()
		call.Body = p.parseExpr()
	}
	if p.peek().Kind == lexer.KwUsing {
		p.advance()
		p.expect(lexer.KwHeaders, "'headers'")
		p.skipNewlines()
		for !p.atEnd() && p.peek().Kind != lexer.KwEndHeaders {
			key, _ := p.expect(lexer.Identifier, "header name")
			p.expect(lexer.Colon, "':'")
			val := p.parseExpr()
			call.Headers = append(call.Headers, ast.KV{Key: key.Literal, Value: val})
			p.skipNewlines()
		}
		p.expect(lexer.KwEndHeaders, "'end headers'")
	}
	call.SetSpan(spanFrom(start, p.peek().Pos))
	return call
}

func (p *Parser) parseRespond() ast.Stmt {
	start := p.advance().Pos // 'respond'
	statusTok, _ := p.expect(lexer.Int, "status code")
	status, _ := strconv.Atoi(statusTok.Literal)
	var body ast.Expr
	if p.peek().Kind == lexer.KwWith {
		p.advance()
		body = p.parseExpr()
	}
	s := &ast.RespondStmt{Status: status, Body: body}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseDBOp() ast.Stmt {
	start := p.advance().Pos // 'db'
	var op ast.DBOpKind
	switch p.peek().Kind {
	case lexer.KwCreate:
		op = ast.DBCreate
		p.advance()
	case lexer.KwFind:
		p.advance()
		if p.peek().Kind == lexer.KwAll {
			p.advance()
			op = ast.DBFindAll
		} else {
			op = ast.DBFind
		}
	case lexer.KwUpdate:
		op = ast.DBUpdate
		p.advance()
	case lexer.KwDelete:
		op = ast.DBDelete
		p.advance()
	default:
		p.errorf(diag.ParseUnexpectedToken, "expected db operation keyword")
	}

	entity, _ := p.expect(lexer.Identifier, "entity name")
	s := &ast.DBOpStmt{Op: op, Entity: entity.Literal}

	if p.peek().Kind == lexer.KwWith {
		p.advance()
		s.Fields = p.parseFieldAssignments()
	}
	if p.peek().Kind == lexer.KwWhere {
		p.advance()
		s.Where = p.parseExpr()
	}
	if p.peek().Kind == lexer.KwSet {
		p.advance()
		s.Fields = append(s.Fields, p.parseFieldAssignments()...)
	}
	if p.peek().Kind == lexer.KwInto {
		p.advance()
		res, _ := p.expect(lexer.Identifier, "result variable")
		s.Result = res.Literal
	}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseFieldAssignments() []ast.KV {
	var kvs []ast.KV
	for {
		key, _ := p.expect(lexer.Identifier, "field name")
		p.expect(lexer.Colon, "':'")
		val := p.parseExpr()
		kvs = append(kvs, ast.KV{Key: key.Literal, Value: val})
		if p.peek().Kind == lexer.Comma {
			p.advance()
			continue
		}
		break
	}
	return kvs
}

func (p *Parser) parseUIElem(kind ast.UIElemKind) ast.Stmt {
	start := p.advance().Pos
	val := p.parseExpr()
	s := &ast.UIElemStmt{Kind: kind, Value: val}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseFragment() ast.Stmt {
	start := p.advance().Pos // 'fragment'
	name, _ := p.expect(lexer.Identifier, "fragment name")
	var slots []ast.SlotDecl
	var body []ast.Stmt
	p.skipNewlines()
	for !p.atEnd() && p.peek().Kind != lexer.KwEndFragment {
		if p.peek().Kind == lexer.KwSlot {
			sStart := p.advance().Pos
			sname, _ := p.expect(lexer.Identifier, "slot name")
			sbody := p.parseBlock(lexer.KwEndSlot)
			p.expect(lexer.KwEndSlot, "'end slot'")
			sd := ast.SlotDecl{Name: sname.Literal, Body: sbody}
			sd.SetSpan(spanFrom(sStart, p.peek().Pos))
			slots = append(slots, sd)
		} else if s := p.parseStatement(); s != nil {
			body = append(body, s)
		}
		p.skipNewlines()
	}
	p.expect(lexer.KwEndFragment, "'end fragment'")
	s := &ast.FragmentDecl{Name: name.Literal, Slots: slots, Body: body}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

func (p *Parser) parseScreen() ast.Stmt {
	start := p.advance().Pos // 'screen'
	name, _ := p.expect(lexer.Identifier, "screen name")
	p.expect(lexer.KwLayout, "'layout'")
	fragment, _ := p.expect(lexer.Identifier, "fragment name")

	var fills []ast.ScreenFill
	p.skipNewlines()
	for !p.atEnd() && p.peek().Kind != lexer.KwEndScreen {
		if p.peek().Kind == lexer.KwSlot {
			p.advance()
			sname, _ := p.expect(lexer.Identifier, "slot name")
			body := p.parseBlock(lexer.KwEndSlot)
			p.expect(lexer.KwEndSlot, "'end slot'")
			fills = append(fills, ast.ScreenFill{Slot: sname.Literal, Body: body})
		} else {
			p.advance()
		}
		p.skipNewlines()
	}
	p.expect(lexer.KwEndScreen, "'end screen'")
	s := &ast.ScreenDecl{Name: name.Literal, Fragment: fragment.Literal, Fills: fills}
	s.SetSpan(spanFrom(start, p.peek().Pos))
	return s
}

// ---- Expressions (precedence climbing) ---------------------------------
//
// or < and < not < comparison < plus/minus < times/divided-by < unary minus
// < postfix .field and call.

func (p *Parser) parseExpr() ast.Expr { return p.parseOr() }

func (p *Parser) parseOr() ast.Expr {
	left := p.parseAnd()
	for p.peek().Kind == lexer.KwOr {
		start := p.advance().Pos
		right := p.parseAnd()
		e := &ast.BinaryExpr{Op: ast.OpOr, Left: left, Right: right}
		e.SetSpan(spanFrom(start, p.peek().Pos))
		left = e
	}
	return left
}

func (p *Parser) parseAnd() ast.Expr {
	left := p.parseNot()
	for p.peek().Kind == lexer.KwAnd {
		start := p.advance().Pos
		right := p.parseNot()
		e := &ast.BinaryExpr{Op: ast.OpAnd, Left: left, Right: right}
		e.SetSpan(spanFrom(start, p.peek().Pos))
		left = e
	}
	return left
}

func (p *Parser) parseNot() ast.Expr {
	if p.peek().Kind == lexer.KwNot {
		start := p.advance().Pos
		operand := p.parseNot()
		e := &ast.BinaryExpr{Op: ast.OpNot, Left: operand}
		e.SetSpan(spanFrom(start, p.peek().Pos))
		return e
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() ast.Expr {
	left := p.parseAddSub()
	op, ok := comparisonOp(p.peek().Kind)
	if !ok {
		return left
	}
	start := p.advance().Pos
	if op == ast.OpIsEmpty || op == ast.OpIsNotEmpty {
		e := &ast.BinaryExpr{Op: op, Left: left}
		e.SetSpan(spanFrom(start, p.peek().Pos))
		return e
	}
	right := p.parseAddSub()
	e := &ast.BinaryExpr{Op: op, Left: left, Right: right}
	e.SetSpan(spanFrom(start, p.peek().Pos))
	return e
}

func comparisonOp(k lexer.Kind) (ast.BinOp, bool) {
	switch k {
	case lexer.KwEquals:
		return ast.OpEquals, true
	case lexer.KwDoesNotEqual, lexer.KwIsNot:
		return ast.OpDoesNotEqual, true
	case lexer.KwIsGreaterThan:
		return ast.OpIsGreaterThan, true
	case lexer.KwIsLessThan:
		return ast.OpIsLessThan, true
	case lexer.KwIsGreaterThanOrEqualTo:
		return ast.OpIsGreaterThanOrEqualTo, true
	case lexer.KwIsLessThanOrEqualTo:
		return ast.OpIsLessThanOrEqualTo, true
	case lexer.KwIsEmpty:
		return ast.OpIsEmpty, true
	case lexer.KwIsNotEmpty:
		return ast.OpIsNotEmpty, true
	case lexer.KwIs:
		return ast.OpEquals, true
	}
	return 0, false
}

func (p *Parser) parseAddSub() ast.Expr {
	left := p.parseMulDiv()
	for p.peek().Kind == lexer.KwPlus || p.peek().Kind == lexer.KwMinus {
		op := ast.OpPlus
		if p.peek().Kind == lexer.KwMinus {
			op = ast.OpMinus
		}
		start := p.advance().Pos
		right := p.parseMulDiv()
		e := &ast.BinaryExpr{Op: op, Left: left, Right: right}
		e.SetSpan(spanFrom(start, p.peek().Pos))
		left = e
	}
	return left
}

func (p *Parser) parseMulDiv() ast.Expr {
	left := p.parseUnary()
	for p.peek().Kind == lexer.KwTimes || p.peek().Kind == lexer.KwDividedBy {
		op := ast.OpTimes
		if p.peek().Kind == lexer.KwDividedBy {
			op = ast.OpDividedBy
		}
		start := p.advance().Pos
		right := p.parseUnary()
		e := &ast.BinaryExpr{Op: op, Left: left, Right: right}
		e.SetSpan(spanFrom(start, p.peek().Pos))
		left = e
	}
	return left
}

func (p *Parser) parseUnary() ast.Expr {
	if p.peek().Kind == lexer.KwMinus {
		start := p.advance().Pos
		operand := p.parseUnary()
		e := &ast.BinaryExpr{Op: ast.OpNeg, Left: operand}
		e.SetSpan(spanFrom(start, p.peek().Pos))
		return e
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expr {
	expr := p.parsePrimary()
	for p.peek().Kind == lexer.Dot {
		start := p.advance().Pos
		field, _ := p.expect(lexer.Identifier, "field name")
		e := &ast.PropertyExpr{Target: expr, Field: field.Literal}
		e.SetSpan(spanFrom(start, p.peek().Pos))
		expr = e
	}
	return expr
}

func (p *Parser) parsePrimary() ast.Expr {
	tok := p.peek()
	switch tok.Kind {
	case lexer.Int:
		p.advance()
		n, _ := strconv.ParseInt(tok.Literal, 10, 32)
		e := &ast.LiteralExpr{Type: ast.Type{Kind: ast.TInt}, Int: int32(n)}
		e.SetSpan(spanFrom(tok.Pos, p.peek().Pos))
		return e
	case lexer.Decimal:
		p.advance()
		e := &ast.LiteralExpr{Type: ast.Type{Kind: ast.TDecimal}, Scaled: scaleDecimalLiteral(tok.Literal)}
		e.SetSpan(spanFrom(tok.Pos, p.peek().Pos))
		return e
	case lexer.KwTrue, lexer.KwFalse:
		p.advance()
		e := &ast.LiteralExpr{Type: ast.Type{Kind: ast.TFlag}, Flag: tok.Kind == lexer.KwTrue}
		e.SetSpan(spanFrom(tok.Pos, p.peek().Pos))
		return e
	case lexer.InterpChunk, lexer.InterpStart:
		return p.parseInterpString()
	case lexer.KwList, lexer.KwGroup:
		return p.parseCollectionLiteral()
	case lexer.KwFormat:
		return p.parseFormatExpr()
	case lexer.KwCall:
		p.advance()
		return p.parseCallHTTPTail()
	case lexer.LParen:
		p.advance()
		e := p.parseExpr()
		p.expect(lexer.RParen, "')'")
		return e
	case lexer.Identifier:
		return p.parseIdentOrCall()
	default:
		p.errorf(diag.ParseUnexpectedToken, "unexpected token %q in expression", tok.Literal)
		p.advance()
		e := &ast.LiteralExpr{Type: ast.Type{Kind: ast.TFlag}, Flag: false}
		e.SetSpan(spanFrom(tok.Pos, tok.Pos))
		return e
	}
}

func scaleDecimalLiteral(lit string) int64 {
	neg := strings.HasPrefix(lit, "-")
	lit = strings.TrimPrefix(lit, "-")
	parts := strings.SplitN(lit, ".", 2)
	whole, _ := strconv.ParseInt(parts[0], 10, 64)
	frac := "00"
	if len(parts) == 2 {
		frac = parts[1]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	frac = frac[:2]
	fracN, _ := strconv.ParseInt(frac, 10, 64)
	v := whole*100 + fracN
	if neg {
		v = -v
	}
	return v
}

// parseInterpString assembles the chunks produced by the lexer's string
// scanning (InterpChunk literal runs and InterpStart/.../InterpEnd
// expression spans) into a single InterpExpr.
func (p *Parser) parseInterpString() ast.Expr {
	start := p.peek().Pos
	var chunks []ast.InterpChunk

	for {
		switch p.peek().Kind {
		case lexer.InterpChunk:
			tok := p.advance()
			if tok.Literal != "" {
				chunks = append(chunks, ast.InterpChunk{Literal: tok.Literal})
			}
		case lexer.InterpStart:
			p.advance()
			inner := p.parseExpr()
			chunks = append(chunks, ast.InterpChunk{Expr: inner})
			p.expect(lexer.InterpEnd, "']'")
		default:
			e := &ast.InterpExpr{Chunks: chunks}
			e.SetSpan(spanFrom(start, p.peek().Pos))
			return e
		}
	}
}

func (p *Parser) parseCollectionLiteral() ast.Expr {
	start := p.peek().Pos
	isGroup := p.peek().Kind == lexer.KwGroup
	p.advance()
	p.expect(lexer.LParen, "'('")
	var elems []ast.Expr
	if p.peek().Kind != lexer.RParen {
		for {
			elems = append(elems, p.parseExpr())
			if p.peek().Kind == lexer.Comma {
				p.advance()
				continue
			}
			break
		}
	}
	p.expect(lexer.RParen, "')'")
	e := &ast.CollectionExpr{Group: isGroup, Elements: elems}
	e.SetSpan(spanFrom(start, p.peek().Pos))
	return e
}

func (p *Parser) parseFormatExpr() ast.Expr {
	start := p.advance().Pos // 'format'
	val := p.parseAddSub()
	p.expect(lexer.KwAs, "'as'")
	patTok, _ := p.expect(lexer.InterpChunk, "format pattern string")
	e := &ast.FormatExpr{Value: val, Pattern: patTok.Literal}
	e.SetSpan(spanFrom(start, p.peek().Pos))
	return e
}

func (p *Parser) parseIdentOrCall() ast.Expr {
	start := p.peek().Pos
	first := p.advance()

	if p.peek().Kind == lexer.Dot && p.peekAhead(1).Kind == lexer.Identifier {
		p.advance() // '.'
		action := p.advance()
		call := p.parseArgsFor(first.Literal, action.Literal)
		call.SetSpan(spanFrom(start, p.peek().Pos))
		return call
	}

	if p.peek().Kind == lexer.KwWith {
		call := p.parseArgsFor("", first.Literal)
		call.SetSpan(spanFrom(start, p.peek().Pos))
		return call
	}

	e := &ast.IdentExpr{Name: first.Literal}
	e.SetSpan(spanFrom(start, p.peek().Pos))
	return e
}

// parseArgsFor parses the `with a, b, c` argument tail of a call.
func (p *Parser) parseArgsFor(module, action string) *ast.CallExpr {
	call := &ast.CallExpr{Module: module, Action: action}
	if p.peek().Kind == lexer.KwWith {
		p.advance()
		for {
			call.Args = append(call.Args, p.parseExpr())
			if p.peek().Kind == lexer.Comma {
				p.advance()
				continue
			}
			break
		}
	}
	return call
}

// parseCallTail is used by `set s ... from add with 10, 5`: the call
// itself, without a leading 'call' keyword (that form is the HTTP call).
func (p *Parser) parseCallTail() *ast.CallExpr {
	first := p.advance()
	module, action := "", first.Literal
	if p.peek().Kind == lexer.Dot {
		p.advance()
		act := p.advance()
		module, action = first.Literal, act.Literal
	}
	return p.parseArgsFor(module, action)
}
