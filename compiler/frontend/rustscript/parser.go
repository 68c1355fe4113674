package rustscript

import (
	"fmt"

	"github.com/wudi/edgevm/compiler/ast"
	"github.com/wudi/edgevm/compiler/frontend/shared"
)

// Parser turns a RustScript source string into an *ast.Unit, following the
// original's tokenize-then-walk shape (a full token slice built up front,
// then a recursive-descent grammar over it) rather than an on-demand
// lexer, so lookahead is just an index bump.
type Parser struct {
	tokens []token
	pos    int
	b      *shared.Builder

	imports []ast.Import
}

// Parse lexes and parses source into a Unit.
func Parse(source string) (*ast.Unit, error) {
	lx := newLexer(source)
	var tokens []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tokEOF {
			break
		}
	}

	p := &Parser{tokens: tokens, b: shared.NewBuilder()}
	stmts, err := p.parseUnit()
	if err != nil {
		return nil, err
	}
	return &ast.Unit{
		Source:    source,
		Stmts:     stmts,
		Locals:    p.b.Locals(),
		Functions: p.b.Functions(),
		Imports:   p.imports,
	}, nil
}

func (p *Parser) cur() token  { return p.tokens[p.pos] }
func (p *Parser) line() int   { return p.cur().line }
func (p *Parser) atEOF() bool { return p.cur().kind == tokEOF }

func (p *Parser) advance() token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) check(k tokenKind) bool { return p.cur().kind == k }

func (p *Parser) match(k tokenKind) bool {
	if p.check(k) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(k tokenKind, what string) (token, error) {
	if !p.check(k) {
		return token{}, &ParseError{Line: p.line(), Message: fmt.Sprintf("expected %s", what)}
	}
	return p.advance(), nil
}

func (p *Parser) parseUnit() ([]ast.Stmt, error) {
	var stmts []ast.Stmt
	for !p.atEOF() {
		if p.check(tokUse) {
			if err := p.parseUseDecl(); err != nil {
				return nil, err
			}
			continue
		}
		if p.check(tokPub) || p.check(tokFn) {
			if err := p.parseFnDecl(); err != nil {
				return nil, err
			}
			continue
		}
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// parseUseDecl handles `use vm::name;` and `use vm::*;`.
func (p *Parser) parseUseDecl() error {
	line := p.line()
	p.advance() // 'use'
	if _, err := p.expect(tokIdent, "module path"); err != nil {
		return err
	}
	if _, err := p.expect(tokColonColon, "'::'"); err != nil {
		return err
	}
	if p.match(tokStar) {
		if _, err := p.expect(tokSemicolon, "';'"); err != nil {
			return err
		}
		p.imports = append(p.imports, ast.Import{Wildcard: true, Line: line})
		return nil
	}
	name, err := p.expect(tokIdent, "imported name")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokSemicolon, "';'"); err != nil {
		return err
	}
	p.imports = append(p.imports, ast.Import{Name: name.str, Line: line})
	return nil
}

func (p *Parser) parseFnDecl() error {
	line := p.line()
	exported := p.match(tokPub)
	if _, err := p.expect(tokFn, "'fn'"); err != nil {
		return err
	}
	name, err := p.expect(tokIdent, "function name")
	if err != nil {
		return err
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return err
	}
	var params []string
	for !p.check(tokRParen) {
		id, err := p.expect(tokIdent, "parameter name")
		if err != nil {
			return err
		}
		params = append(params, id.str)
		if !p.match(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return err
	}

	fn := p.b.DeclareFunction(name.str, len(params), params, line)
	fn.Exported = exported
	fn.ParamSlots = p.b.DeclareFunctionParams(params)

	body, err := p.parseBlock()
	if err != nil {
		return err
	}
	fn.Body = body
	return nil
}

func (p *Parser) parseBlock() ([]ast.Stmt, error) {
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	var stmts []ast.Stmt
	for !p.check(tokRBrace) {
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseStmt() (ast.Stmt, error) {
	line := p.line()
	switch {
	case p.check(tokLet):
		return p.parseLet()
	case p.check(tokIf):
		return p.parseIf()
	case p.check(tokWhile):
		return p.parseWhile()
	case p.check(tokFor):
		return p.parseFor()
	case p.check(tokMatch):
		return p.parseMatchStmt(-1)
	case p.check(tokReturn):
		p.advance()
		if p.match(tokSemicolon) {
			return &ast.ReturnStmt{Base: ast.NewBase(line)}, nil
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokSemicolon, "';'"); err != nil {
			return nil, err
		}
		return &ast.ReturnStmt{Base: ast.NewBase(line), Value: val}, nil
	case p.check(tokBreak):
		p.advance()
		if _, err := p.expect(tokSemicolon, "';'"); err != nil {
			return nil, err
		}
		return &ast.BreakStmt{Base: ast.NewBase(line)}, nil
	case p.check(tokContinue):
		p.advance()
		if _, err := p.expect(tokSemicolon, "';'"); err != nil {
			return nil, err
		}
		return &ast.ContinueStmt{Base: ast.NewBase(line)}, nil
	default:
		return p.parseExprOrAssignStmt()
	}
}

func (p *Parser) parseLet() (ast.Stmt, error) {
	line := p.line()
	p.advance() // 'let'
	name, err := p.expect(tokIdent, "identifier")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokEqual, "'='"); err != nil {
		return nil, err
	}
	if p.check(tokMatch) {
		slot := p.b.DeclareLocal(name.str)
		stmt, err := p.parseMatchStmt(slot)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokSemicolon, "';'"); err != nil {
			return nil, err
		}
		return stmt, nil
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokSemicolon, "';'"); err != nil {
		return nil, err
	}
	slot := p.b.DeclareLocal(name.str)
	return &ast.LetStmt{Base: ast.NewBase(line), Slot: slot, Name: name.str, Value: val}, nil
}

// parseExprOrAssignStmt disambiguates `ident = expr;`, `ident[k] = expr;`
// and a bare expression statement by parsing a primary/postfix expression
// first and checking whether '=' follows.
func (p *Parser) parseExprOrAssignStmt() (ast.Stmt, error) {
	line := p.line()
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.match(tokEqual) {
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokSemicolon, "';'"); err != nil {
			return nil, err
		}
		switch target := expr.(type) {
		case *ast.LocalGet:
			return &ast.AssignStmt{Base: ast.NewBase(line), Slot: target.Slot, Name: target.Name, Value: val}, nil
		case *ast.Index:
			container, ok := target.Container.(*ast.LocalGet)
			if !ok {
				return nil, &ParseError{Line: line, Message: "assignment target must be a local variable or an indexed local"}
			}
			return &ast.IndexAssignStmt{Base: ast.NewBase(line), Slot: container.Slot, Container: target.Container, Key: target.Key, Value: val}, nil
		default:
			return nil, &ParseError{Line: line, Message: "invalid assignment target"}
		}
	}
	if _, err := p.expect(tokSemicolon, "';'"); err != nil {
		return nil, err
	}
	return &ast.ExprStmt{Base: ast.NewBase(line), X: expr}, nil
}

func (p *Parser) parseIf() (ast.Stmt, error) {
	line := p.line()
	p.advance() // 'if'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var els []ast.Stmt
	if p.match(tokElse) {
		if p.check(tokIf) {
			nested, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			els = []ast.Stmt{nested}
		} else {
			els, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
	}
	return &ast.IfStmt{Base: ast.NewBase(line), Cond: cond, Then: then, Else: els}, nil
}

func (p *Parser) parseWhile() (ast.Stmt, error) {
	line := p.line()
	p.advance() // 'while'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.WhileStmt{Base: ast.NewBase(line), Cond: cond, Body: body}, nil
}

// parseFor handles `for (init; cond; post) { body }`, with init/post each
// an optional let-or-assignment statement without the usual trailing
// terminator consumed by the caller instead.
func (p *Parser) parseFor() (ast.Stmt, error) {
	line := p.line()
	p.advance() // 'for'
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}

	var init ast.Stmt
	if !p.check(tokSemicolon) {
		var err error
		init, err = p.parseForClause()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokSemicolon, "';'"); err != nil {
		return nil, err
	}

	var cond ast.Expr
	if !p.check(tokSemicolon) {
		var err error
		cond, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokSemicolon, "';'"); err != nil {
		return nil, err
	}

	var post ast.Stmt
	if !p.check(tokRParen) {
		var err error
		post, err = p.parseForClause()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.ForStmt{Base: ast.NewBase(line), Init: init, Cond: cond, Post: post, Body: body}, nil
}

// parseForClause parses one `let x = e` or `x = e` clause with no
// terminator, for use inside a for-loop's parenthesized header.
func (p *Parser) parseForClause() (ast.Stmt, error) {
	line := p.line()
	if p.match(tokLet) {
		name, err := p.expect(tokIdent, "identifier")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokEqual, "'='"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		slot := p.b.DeclareLocal(name.str)
		return &ast.LetStmt{Base: ast.NewBase(line), Slot: slot, Name: name.str, Value: val}, nil
	}
	name, err := p.expect(tokIdent, "identifier")
	if err != nil {
		return nil, err
	}
	slot, ok := p.b.ResolveLocal(name.str)
	if !ok {
		return nil, &ParseError{Line: line, Message: fmt.Sprintf("undeclared variable %q", name.str)}
	}
	if _, err := p.expect(tokEqual, "'='"); err != nil {
		return nil, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ast.AssignStmt{Base: ast.NewBase(line), Slot: slot, Name: name.str, Value: val}, nil
}

// parseMatchStmt parses `match expr { pattern => arm, ... _ => arm }`.
// resultSlot is -1 for a statement-form match (arm bodies must be blocks);
// otherwise this is the `let x = match ...` expression form, and a bare
// trailing expression arm is lowered to an assignment into resultSlot.
func (p *Parser) parseMatchStmt(resultSlot int) (ast.Stmt, error) {
	line := p.line()
	p.advance() // 'match'
	scrutinee, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	valueSlot := p.b.DeclareLocal("$match")

	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	var arms []ast.MatchArm
	var defaultBody []ast.Stmt
	for !p.check(tokRBrace) {
		if p.match(tokUnderscore) {
			if _, err := p.expect(tokFatArrow, "'=>'"); err != nil {
				return nil, err
			}
			body, err := p.parseMatchArmBody(resultSlot)
			if err != nil {
				return nil, err
			}
			defaultBody = body
			p.match(tokComma)
			continue
		}
		pattern, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokFatArrow, "'=>'"); err != nil {
			return nil, err
		}
		body, err := p.parseMatchArmBody(resultSlot)
		if err != nil {
			return nil, err
		}
		arms = append(arms, ast.MatchArm{Pattern: pattern, Body: body})
		p.match(tokComma)
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}

	result := resultSlot
	if result < 0 {
		result = valueSlot
	}
	return &ast.MatchStmt{
		Base:       ast.NewBase(line),
		ValueSlot:  valueSlot,
		ResultSlot: result,
		Value:      scrutinee,
		Arms:       arms,
		Default:    defaultBody,
	}, nil
}

// parseMatchArmBody parses either `{ stmts }` or, in let-match (expression)
// context, a single trailing expression assigned into resultSlot.
func (p *Parser) parseMatchArmBody(resultSlot int) ([]ast.Stmt, error) {
	if p.check(tokLBrace) {
		return p.parseBlock()
	}
	line := p.line()
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if resultSlot < 0 {
		return []ast.Stmt{&ast.ExprStmt{Base: ast.NewBase(line), X: expr}}, nil
	}
	return []ast.Stmt{&ast.AssignStmt{Base: ast.NewBase(line), Slot: resultSlot, Value: expr}}, nil
}

// --- expressions, precedence-climbed low to high:
// or -> and -> equality -> comparison -> shift -> term -> factor -> unary -> postfix -> primary

func (p *Parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.check(tokPipePipe) {
		line := p.line()
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Base: ast.NewBase(line), Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.check(tokAmpAmp) {
		line := p.line()
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Base: ast.NewBase(line), Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseEquality() (ast.Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.check(tokEqualEqual) || p.check(tokBangEqual) {
		line := p.line()
		op := "=="
		if p.cur().kind == tokBangEqual {
			op = "!="
		}
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Base: ast.NewBase(line), Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseShift()
	if err != nil {
		return nil, err
	}
	for p.check(tokLess) || p.check(tokGreater) || p.check(tokLessEqual) || p.check(tokGreaterEqual) {
		line := p.line()
		op := map[tokenKind]string{tokLess: "<", tokGreater: ">", tokLessEqual: "<=", tokGreaterEqual: ">="}[p.cur().kind]
		p.advance()
		right, err := p.parseShift()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Base: ast.NewBase(line), Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseShift() (ast.Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.check(tokShl) || p.check(tokShr) {
		line := p.line()
		op := "<<"
		if p.cur().kind == tokShr {
			op = ">>"
		}
		p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Base: ast.NewBase(line), Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseTerm() (ast.Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.check(tokPlus) || p.check(tokMinus) {
		line := p.line()
		op := "+"
		if p.cur().kind == tokMinus {
			op = "-"
		}
		p.advance()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Base: ast.NewBase(line), Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseFactor() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.check(tokStar) || p.check(tokSlash) {
		line := p.line()
		op := "*"
		if p.cur().kind == tokSlash {
			op = "/"
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Base: ast.NewBase(line), Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.check(tokMinus) || p.check(tokBang) {
		line := p.line()
		op := "-"
		if p.cur().kind == tokBang {
			op = "!"
		}
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Base: ast.NewBase(line), Op: op, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		if p.check(tokLBracket) {
			line := p.line()
			p.advance()
			key, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			expr = &ast.Index{Base: ast.NewBase(line), Container: expr, Key: key}
			continue
		}
		if p.check(tokLParen) {
			closure, ok := expr.(*ast.Closure)
			if !ok {
				return nil, &ParseError{Line: p.line(), Message: "call target must be a function name or an immediately-invoked closure"}
			}
			line := p.line()
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			expr = &ast.IIFE{Base: ast.NewBase(line), Closure: closure, Args: args}
			continue
		}
		break
	}
	return expr, nil
}

func (p *Parser) parseArgList() ([]ast.Expr, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var args []ast.Expr
	for !p.check(tokRParen) {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.match(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	line := p.line()
	switch {
	case p.check(tokInt):
		v := p.advance().num
		return &ast.IntLit{Base: ast.NewBase(line), Value: v}, nil
	case p.check(tokFloat):
		v := p.advance().fnum
		return &ast.FloatLit{Base: ast.NewBase(line), Value: v}, nil
	case p.check(tokString):
		v := p.advance().str
		return &ast.StringLit{Base: ast.NewBase(line), Value: v}, nil
	case p.check(tokTrue):
		p.advance()
		return &ast.BoolLit{Base: ast.NewBase(line), Value: true}, nil
	case p.check(tokFalse):
		p.advance()
		return &ast.BoolLit{Base: ast.NewBase(line), Value: false}, nil
	case p.check(tokNull):
		p.advance()
		return &ast.NullLit{Base: ast.NewBase(line)}, nil
	case p.check(tokLParen):
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case p.check(tokLBracket):
		return p.parseArrayLit()
	case p.check(tokHash):
		return p.parseMapLit()
	case p.check(tokPipe):
		return p.parseClosure()
	case p.check(tokIdent):
		return p.parseIdentOrCall()
	default:
		return nil, &ParseError{Line: line, Message: fmt.Sprintf("unexpected token in expression")}
	}
}

func (p *Parser) parseArrayLit() (ast.Expr, error) {
	line := p.line()
	p.advance() // '['
	var elems []ast.Expr
	for !p.check(tokRBracket) {
		el, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
		if !p.match(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRBracket, "']'"); err != nil {
		return nil, err
	}
	return &ast.ArrayLit{Base: ast.NewBase(line), Elements: elems}, nil
}

func (p *Parser) parseMapLit() (ast.Expr, error) {
	line := p.line()
	p.advance() // '#'
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	var entries []ast.MapEntryExpr
	for !p.check(tokRBrace) {
		key, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon, "':'"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		entries = append(entries, ast.MapEntryExpr{Key: key, Value: val})
		if !p.match(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}
	return &ast.MapLit{Base: ast.NewBase(line), Entries: entries}, nil
}

// parseClosure parses `|params| expr`, opening and closing a closure scope
// around the body so free-variable references resolve to CaptureCopy
// entries (§4.5 capture-by-copy).
func (p *Parser) parseClosure() (ast.Expr, error) {
	line := p.line()
	p.advance() // '|'
	var params []string
	for !p.check(tokPipe) {
		id, err := p.expect(tokIdent, "parameter name")
		if err != nil {
			return nil, err
		}
		params = append(params, id.str)
		if !p.match(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokPipe, "'|'"); err != nil {
		return nil, err
	}

	paramSlots := p.b.OpenClosure(params)
	var body []ast.Stmt
	if p.check(tokLBrace) {
		b, err := p.parseBlock()
		if err != nil {
			p.b.CloseClosure()
			return nil, err
		}
		body = b
	} else {
		exprLine := p.line()
		expr, err := p.parseExpr()
		if err != nil {
			p.b.CloseClosure()
			return nil, err
		}
		body = []ast.Stmt{&ast.ReturnStmt{Base: ast.NewBase(exprLine), Value: expr}}
	}
	captures := p.b.CloseClosure()

	return &ast.Closure{
		Base:          ast.NewBase(line),
		ParamSlots:    paramSlots,
		Params:        params,
		CaptureCopies: captures,
		Body:          body,
	}, nil
}

func (p *Parser) parseIdentOrCall() (ast.Expr, error) {
	line := p.line()
	name := p.advance().str
	if p.check(tokLParen) {
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return &ast.Call{Base: ast.NewBase(line), Callee: name, Args: args}, nil
	}
	slot, ok := p.b.ResolveLocal(name)
	if !ok {
		return nil, &ParseError{Line: line, Message: fmt.Sprintf("undeclared variable %q", name)}
	}
	return &ast.LocalGet{Base: ast.NewBase(line), Slot: slot, Name: name}, nil
}
