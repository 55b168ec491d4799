// Package parse builds the syntax tree: a recursive-descent parser with a
// Pratt-style precedence chain, a nested scope stack, a flat append-only
// symbol table, speculative save/restore lookahead, and an error-recovery
// state machine.
package parse

import (
	"fmt"

	"github.com/oisee/holyc-aot/pkg/ast"
	"github.com/oisee/holyc-aot/pkg/diag"
	"github.com/oisee/holyc-aot/pkg/lex"
	"github.com/oisee/holyc-aot/pkg/types"
)

// Config exposes the parser's recovery and size sentinels.
type Config struct {
	MaxRecoveryDepth    int // recovery nesting limit
	MaxRecoveryAttempts int // consecutive failed recoveries before hard skip
	MaxBlockStmts       int // statements per block
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxRecoveryDepth:    10,
		MaxRecoveryAttempts: 5,
		MaxBlockStmts:       100,
	}
}

// Parser consumes a token stream and produces the Program node. All
// diagnostics flow through the shared reporter; parse errors trigger the
// recovery state machine and parsing continues.
type Parser struct {
	lx  *lex.Lexer
	tok lex.Token
	rep *diag.Reporter
	cfg Config

	Scopes *ScopeStack
	Syms   *SymTab

	recoveryDepth    int
	recoveryAttempts int
}

// New creates a parser with builtins pre-registered.
func New(lx *lex.Lexer, rep *diag.Reporter, cfg Config) *Parser {
	p := &Parser{
		lx:     lx,
		rep:    rep,
		cfg:    cfg,
		Scopes: NewScopeStack(),
		Syms:   NewSymTab(),
	}
	p.Syms.RegisterBuiltins()
	p.next()
	return p
}

func (p *Parser) next() {
	p.tok = p.lx.Next()
}

// pos is a saved parser position for speculative lookahead.
type pos struct {
	lp  lex.Pos
	tok lex.Token
}

func (p *Parser) save() pos {
	return pos{lp: p.lx.Save(), tok: p.tok}
}

func (p *Parser) restore(s pos) {
	p.lx.Restore(s.lp)
	p.tok = s.tok
}

func (p *Parser) at(k lex.Kind) bool {
	return p.tok.Kind == k
}

// accept consumes the token if it matches.
func (p *Parser) accept(k lex.Kind) bool {
	if p.tok.Kind == k {
		p.next()
		return true
	}
	return false
}

// expect consumes a required token or reports and recovers.
func (p *Parser) expect(k lex.Kind, context string) bool {
	if p.accept(k) {
		return true
	}
	p.errorf("Expected %s in %s, got %s", k, context, p.tok.Kind)
	return false
}

// errorf records a parse error and runs the recovery state machine.
func (p *Parser) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.rep.Errorf(diag.Parse, p.tok.Line, p.tok.Col, "%s", msg)
	p.recoverFrom(msg)
}

func (p *Parser) warnf(line, col int, format string, args ...any) {
	p.rep.Warnf(diag.Parse, line, col, format, args...)
}

// Parse consumes the whole token stream and returns the Program node.
// Scope depth is net zero across the call.
func (p *Parser) Parse() *ast.Node {
	prog := ast.New(ast.Program, 1, 1)
	startDepth := p.Scopes.Depth()
	for !p.at(lex.EOF) {
		before := p.save()
		n := p.parseTopLevel()
		if n != nil && n.Kind != ast.Empty {
			prog.Append(n)
		}
		// Guarantee forward progress even on pathological input.
		if p.save() == before && !p.at(lex.EOF) {
			p.next()
		}
	}
	for p.Scopes.Depth() > startDepth {
		p.Scopes.Pop()
	}
	return prog
}

// parseTopLevel handles one top-level construct: a function definition, a
// global variable declaration, a class or union definition, a type-prefixed
// union, or a plain statement (HolyC executes top-level statements).
func (p *Parser) parseTopLevel() *ast.Node {
	// Speculation: [public] IDENT union NAME { ... }  — type-prefixed union
	// versus anything else starting with public or an identifier.
	if p.at(lex.KW_PUBLIC) || p.at(lex.IDENT) {
		sp := p.save()
		public := p.accept(lex.KW_PUBLIC)
		if p.at(lex.IDENT) {
			prefix := p.tok.Lexeme
			p.next()
			if p.at(lex.KW_UNION) {
				return p.parsePrefixedUnion(public, prefix)
			}
		}
		p.restore(sp)
	}

	// `union I64 u;` is a variable declaration, not a union definition.
	if p.at(lex.KW_UNION) {
		sp := p.save()
		p.next()
		if p.tok.Kind.IsType() {
			p.restore(sp)
			return p.parseVarDecl(true)
		}
		p.restore(sp)
	}

	if p.at(lex.KW_PUBLIC) || p.at(lex.KW_CLASS) || p.at(lex.KW_UNION) {
		sp := p.save()
		public := p.accept(lex.KW_PUBLIC)
		if p.at(lex.KW_CLASS) || p.at(lex.KW_UNION) {
			return p.parseClassOrUnion(public, "")
		}
		p.restore(sp)
	}

	if p.at(lex.KW_EXTERN) {
		p.next()
		// extern declarations reuse the function/variable path.
	}

	// Speculation: type IDENT ( ... — function definition versus variable
	// declaration.
	if p.tok.Kind.IsType() {
		sp := p.save()
		retType, ok := p.parseType()
		if ok && p.at(lex.IDENT) {
			name := p.tok
			p.next()
			if p.at(lex.LPAREN) {
				return p.parseFunction(retType, name)
			}
		}
		p.restore(sp)
		return p.parseVarDecl(true)
	}

	return p.parseStatement()
}

// parseType consumes a built-in type name and any pointer stars.
func (p *Parser) parseType() (types.Type, bool) {
	if !p.tok.Kind.IsType() {
		return types.Type{}, false
	}
	t, _ := types.FromName(p.tok.Lexeme)
	p.next()
	for p.accept(lex.MUL) {
		t = types.PointerTo(t)
	}
	return t, true
}

// parseFunction parses parameters and the body. The name token and return
// type were consumed by the caller; the current token is '('.
func (p *Parser) parseFunction(ret types.Type, name lex.Token) *ast.Node {
	fn := ast.New(ast.Function, name.Line, name.Col)
	fn.Ident = name.Lexeme
	fn.Type = ret

	sym := &Symbol{Name: name.Lexeme, Kind: SymFunc, Decl: fn, Result: ret}

	p.expect(lex.LPAREN, "function declaration")
	p.Scopes.Push(true, false)
	defer p.Scopes.Pop()

	if !p.at(lex.RPAREN) {
		for {
			if p.at(lex.ELLIPSIS) {
				ell := p.tok
				p.next()
				prm := ast.New(ast.Param, ell.Line, ell.Col)
				prm.Varargs = true
				fn.Append(prm)
				sym.Variadic = true
				if !p.at(lex.RPAREN) {
					p.errorf("Expected ) after ... (varargs must be the last parameter)")
				}
				break
			}
			pt, ok := p.parseType()
			if !ok {
				p.errorf("Expected parameter type, got %s", p.tok.Kind)
				break
			}
			prm := ast.New(ast.Param, p.tok.Line, p.tok.Col)
			prm.Type = pt
			if p.at(lex.IDENT) {
				prm.Ident = p.tok.Lexeme
				p.next()
			}
			var def *ast.Node
			if p.accept(lex.ASSIGN) {
				def = p.parseAssignExpr()
				prm.Append(def)
			}
			if prm.Ident != "" {
				if entry, fresh := p.Scopes.Declare(prm.Ident, prm); fresh {
					prm.Off = entry.Offset
					prm.IsLocal = true
				}
			}
			fn.Append(prm)
			sym.Params = append(sym.Params, pt)
			sym.Defaults = append(sym.Defaults, def)
			if !p.accept(lex.COMMA) {
				break
			}
		}
	}
	p.expect(lex.RPAREN, "parameter list")

	if prev, ok := p.Syms.Insert(sym); !ok {
		if prev.Builtin {
			p.warnf(name.Line, name.Col, "redefinition of builtin '%s'", name.Lexeme)
		} else {
			p.warnf(name.Line, name.Col, "function '%s' already defined", name.Lexeme)
		}
	}

	if p.accept(lex.SEMICOLON) {
		// Forward declaration: no body child.
		return fn
	}
	fn.Append(p.parseBlock(false))
	fn.Off = p.Scopes.Top().Offset // frame size: the function scope's final cursor
	return fn
}

// parseVarDecl parses `type name [= init] (, name [= init])* ;`. Global
// declarations also land in the symbol table.
func (p *Parser) parseVarDecl(global bool) *ast.Node {
	// `union I64 u;` declares a variable of union type; the union keyword
	// is decoration over the underlying built-in type.
	p.accept(lex.KW_UNION)
	t, ok := p.parseType()
	if !ok {
		p.errorf("Expected type in declaration, got %s", p.tok.Kind)
		return ast.New(ast.Empty, p.tok.Line, p.tok.Col)
	}

	// A declaration list becomes a Block of VarDecls so every name keeps
	// its own node.
	first := true
	var list *ast.Node
	for {
		vt := t
		for p.accept(lex.MUL) {
			vt = types.PointerTo(vt)
		}
		if !p.at(lex.IDENT) {
			p.errorf("Expected variable name, got %s", p.tok.Kind)
			break
		}
		nameTok := p.tok
		p.next()

		decl := ast.New(ast.VarDecl, nameTok.Line, nameTok.Col)
		decl.Ident = nameTok.Lexeme
		decl.Type = vt

		// Array suffix: the element count is parsed and discarded; the
		// variable gets one 8-byte slot like a scalar.
		if p.accept(lex.LBRACKET) {
			p.parseExpr()
			p.expect(lex.RBRACKET, "array declarator")
		}

		if p.accept(lex.ASSIGN) {
			decl.Append(p.parseAssignExpr())
		}

		dropped := false
		if entry, fresh := p.Scopes.Declare(nameTok.Lexeme, decl); !fresh {
			p.warnf(nameTok.Line, nameTok.Col,
				"variable '%s' already defined in current scope", nameTok.Lexeme)
			dropped = true
		} else {
			decl.Off = entry.Offset
			decl.IsLocal = p.Scopes.Top().IsFunc || p.Scopes.Top().IsBlock
			if global && p.Scopes.Depth() == 1 {
				p.Syms.Insert(&Symbol{Name: nameTok.Lexeme, Kind: SymVar, Decl: decl, Result: vt})
			}
		}

		if first && !p.at(lex.COMMA) {
			p.expect(lex.SEMICOLON, "declaration")
			if dropped {
				return ast.New(ast.Empty, nameTok.Line, nameTok.Col)
			}
			return decl
		}
		if list == nil {
			list = ast.New(ast.Block, nameTok.Line, nameTok.Col)
		}
		if !dropped {
			list.Append(decl)
		}
		first = false
		if !p.accept(lex.COMMA) {
			break
		}
	}
	p.expect(lex.SEMICOLON, "declaration")
	if list == nil {
		return ast.New(ast.Empty, p.tok.Line, p.tok.Col)
	}
	return list
}

// parsePrefixedUnion parses `[public] PREFIX union NAME { members };`.
// The prefix identifier was consumed by the caller; current token is
// `union`.
func (p *Parser) parsePrefixedUnion(public bool, prefix string) *ast.Node {
	line, col := p.tok.Line, p.tok.Col
	p.expect(lex.KW_UNION, "type-prefixed union")

	u := ast.New(ast.UnionDef, line, col)
	u.Prefix = prefix
	u.Public = public

	// The union name may collide with a built-in type name (union I64).
	if p.at(lex.IDENT) || p.tok.Kind.IsType() {
		u.Ident = p.tok.Lexeme
		p.next()
	} else {
		p.errorf("Expected union name, got %s", p.tok.Kind)
	}

	p.parseMemberList(u)
	p.expect(lex.SEMICOLON, "union definition")
	return u
}

// parseClassOrUnion parses `[public] class|union NAME { members };`.
func (p *Parser) parseClassOrUnion(public bool, prefix string) *ast.Node {
	kind := ast.ClassDef
	if p.at(lex.KW_UNION) {
		kind = ast.UnionDef
	}
	line, col := p.tok.Line, p.tok.Col
	p.next()

	def := ast.New(kind, line, col)
	def.Public = public
	def.Prefix = prefix
	if p.at(lex.IDENT) || p.tok.Kind.IsType() {
		def.Ident = p.tok.Lexeme
		p.next()
	} else {
		p.errorf("Expected name after class/union, got %s", p.tok.Kind)
	}
	p.parseMemberList(def)
	p.expect(lex.SEMICOLON, "class definition")
	return def
}

func (p *Parser) parseMemberList(def *ast.Node) {
	if !p.expect(lex.LBRACE, "member list") {
		return
	}
	for !p.at(lex.RBRACE) && !p.at(lex.EOF) {
		mt, ok := p.parseType()
		if !ok {
			p.errorf("Expected member type, got %s", p.tok.Kind)
			break
		}
		for {
			for p.accept(lex.MUL) {
				mt = types.PointerTo(mt)
			}
			if !p.at(lex.IDENT) {
				p.errorf("Expected member name, got %s", p.tok.Kind)
				break
			}
			m := ast.New(ast.VarDecl, p.tok.Line, p.tok.Col)
			m.Ident = p.tok.Lexeme
			m.Type = mt
			p.next()
			if p.accept(lex.LBRACKET) {
				p.parseExpr()
				p.expect(lex.RBRACKET, "member array declarator")
			}
			def.Append(m)
			if !p.accept(lex.COMMA) {
				break
			}
		}
		p.expect(lex.SEMICOLON, "member declaration")
	}
	p.expect(lex.RBRACE, "member list")
}

// parseBlock parses `{ statements }`, pushing a block scope unless the
// caller (a function body) already pushed one.
func (p *Parser) parseBlock(newScope bool) *ast.Node {
	blk := ast.New(ast.Block, p.tok.Line, p.tok.Col)
	if !p.expect(lex.LBRACE, "block") {
		return blk
	}
	if newScope {
		p.Scopes.Push(false, true)
		defer p.Scopes.Pop()
	}
	count := 0
	for !p.at(lex.RBRACE) && !p.at(lex.EOF) {
		if count >= p.cfg.MaxBlockStmts {
			p.errorf("Block exceeds %d statements", p.cfg.MaxBlockStmts)
			p.skipTo(lex.RBRACE)
			break
		}
		before := p.save()
		s := p.parseStatement()
		if s != nil && s.Kind != ast.Empty {
			blk.Append(s)
			count++
		}
		if p.save() == before && !p.at(lex.RBRACE) && !p.at(lex.EOF) {
			p.next()
		}
	}
	p.expect(lex.RBRACE, "block")
	return blk
}

// parseStatement parses one statement.
func (p *Parser) parseStatement() *ast.Node {
	line, col := p.tok.Line, p.tok.Col

	switch p.tok.Kind {
	case lex.SEMICOLON:
		p.next()
		return ast.New(ast.Empty, line, col)
	case lex.LBRACE:
		return p.parseBlock(true)
	case lex.KW_IF:
		return p.parseIf()
	case lex.KW_WHILE:
		return p.parseWhile()
	case lex.KW_DO:
		return p.parseDoWhile()
	case lex.KW_FOR:
		return p.parseFor()
	case lex.KW_SWITCH:
		return p.parseSwitch()
	case lex.KW_BREAK:
		p.next()
		p.expect(lex.SEMICOLON, "break statement")
		return ast.New(ast.Break, line, col)
	case lex.KW_GOTO:
		p.next()
		g := ast.New(ast.Goto, line, col)
		if p.at(lex.IDENT) {
			g.Ident = p.tok.Lexeme
			p.next()
		} else {
			p.errorf("Expected label after goto, got %s", p.tok.Kind)
		}
		p.expect(lex.SEMICOLON, "goto statement")
		return g
	case lex.KW_RETURN:
		p.next()
		r := ast.New(ast.Return, line, col)
		if !p.at(lex.SEMICOLON) {
			r.Append(p.parseExpr())
		}
		p.expect(lex.SEMICOLON, "return statement")
		return r
	case lex.KW_TRY:
		return p.parseTry()
	case lex.KW_THROW:
		p.next()
		t := ast.New(ast.Throw, line, col)
		if !p.at(lex.SEMICOLON) {
			t.Append(p.parseExpr())
		}
		p.expect(lex.SEMICOLON, "throw statement")
		return t
	case lex.KW_ASM:
		return p.parseAsmBlock()
	}

	if p.tok.Kind.IsType() {
		return p.parseVarDecl(p.Scopes.Depth() == 1)
	}
	if p.at(lex.KW_UNION) {
		sp := p.save()
		p.next()
		if p.tok.Kind.IsType() {
			p.restore(sp)
			return p.parseVarDecl(p.Scopes.Depth() == 1)
		}
		p.restore(sp)
	}

	// Speculation: IDENT ':' is a label, otherwise an expression statement.
	if p.at(lex.IDENT) {
		sp := p.save()
		name := p.tok.Lexeme
		p.next()
		if p.at(lex.COLON) || p.at(lex.SCOPE) {
			p.next()
			lbl := ast.New(ast.Label, line, col)
			lbl.Ident = name
			return lbl
		}
		p.restore(sp)
	}

	stmt := ast.New(ast.ExprStmt, line, col)
	stmt.Append(p.parseExpr())
	p.expect(lex.SEMICOLON, "expression statement")
	return stmt
}

func (p *Parser) parseIf() *ast.Node {
	n := ast.New(ast.If, p.tok.Line, p.tok.Col)
	p.next()
	p.expect(lex.LPAREN, "if condition")
	n.Append(p.parseExpr())
	p.expect(lex.RPAREN, "if condition")
	n.Append(p.parseStatement())
	if p.accept(lex.KW_ELSE) {
		n.Append(p.parseStatement())
	} else {
		n.Append(nil)
	}
	return n
}

func (p *Parser) parseWhile() *ast.Node {
	n := ast.New(ast.While, p.tok.Line, p.tok.Col)
	p.next()
	p.expect(lex.LPAREN, "while condition")
	n.Append(p.parseExpr())
	p.expect(lex.RPAREN, "while condition")
	n.Append(p.parseStatement())
	return n
}

func (p *Parser) parseDoWhile() *ast.Node {
	n := ast.New(ast.DoWhile, p.tok.Line, p.tok.Col)
	p.next()
	n.Append(p.parseStatement())
	p.expect(lex.KW_WHILE, "do-while")
	p.expect(lex.LPAREN, "do-while condition")
	n.Append(p.parseExpr())
	p.expect(lex.RPAREN, "do-while condition")
	p.expect(lex.SEMICOLON, "do-while statement")
	return n
}

func (p *Parser) parseFor() *ast.Node {
	n := ast.New(ast.For, p.tok.Line, p.tok.Col)
	p.next()
	p.expect(lex.LPAREN, "for clauses")
	if p.at(lex.SEMICOLON) {
		n.Append(nil)
		p.next()
	} else if p.tok.Kind.IsType() {
		n.Append(p.parseVarDecl(false)) // consumes its semicolon
	} else {
		init := ast.New(ast.ExprStmt, p.tok.Line, p.tok.Col)
		init.Append(p.parseExpr())
		n.Append(init)
		p.expect(lex.SEMICOLON, "for initializer")
	}
	if p.at(lex.SEMICOLON) {
		n.Append(nil)
	} else {
		n.Append(p.parseExpr())
	}
	p.expect(lex.SEMICOLON, "for condition")
	if p.at(lex.RPAREN) {
		n.Append(nil)
	} else {
		post := ast.New(ast.ExprStmt, p.tok.Line, p.tok.Col)
		post.Append(p.parseExpr())
		n.Append(post)
	}
	p.expect(lex.RPAREN, "for clauses")
	n.Append(p.parseStatement())
	return n
}

func (p *Parser) parseTry() *ast.Node {
	n := ast.New(ast.Try, p.tok.Line, p.tok.Col)
	p.next()
	n.Append(p.parseBlock(true))
	if p.accept(lex.KW_CATCH) {
		n.Append(p.parseBlock(true))
	} else {
		p.errorf("Expected catch after try block, got %s", p.tok.Kind)
		n.Append(nil)
	}
	return n
}

// parseSwitch parses `switch (expr)` or the nobounds form `switch [expr]`,
// a body of case groups, and optional start/end sub-switch blocks.
func (p *Parser) parseSwitch() *ast.Node {
	n := ast.New(ast.Switch, p.tok.Line, p.tok.Col)
	p.next()

	if p.accept(lex.LBRACKET) {
		n.Nobounds = true
		n.Append(p.parseExpr())
		p.expect(lex.RBRACKET, "switch expression")
	} else {
		p.expect(lex.LPAREN, "switch expression")
		n.Append(p.parseExpr())
		p.expect(lex.RPAREN, "switch expression")
	}

	p.expect(lex.LBRACE, "switch body")

	var current *ast.Node // open Case/Default/SwitchStart/SwitchEnd group
	seenDefault := false
	prevCaseVal := int64(-1)

	for !p.at(lex.RBRACE) && !p.at(lex.EOF) {
		switch p.tok.Kind {
		case lex.KW_CASE:
			line, col := p.tok.Line, p.tok.Col
			p.next()
			c := ast.New(ast.Case, line, col)
			if p.at(lex.COLON) {
				// Null case: auto-increment from the previous case value.
				lo := ast.New(ast.IntLit, line, col)
				lo.Int = uint64(prevCaseVal + 1)
				prevCaseVal++
				c.Append(lo)
				c.Append(nil)
			} else {
				loExpr := p.parseAssignExpr()
				loVal, loConst := p.constEval(loExpr)
				c.Append(loExpr)
				if p.at(lex.DOTDOT) || p.at(lex.ELLIPSIS) {
					p.next()
					hiExpr := p.parseAssignExpr()
					hiVal, hiConst := p.constEval(hiExpr)
					c.Append(hiExpr)
					if loConst && hiConst && loVal > hiVal {
						p.errorf("case range %d..%d has crossed bounds", loVal, hiVal)
					}
					if hiConst {
						prevCaseVal = hiVal
					}
				} else {
					c.Append(nil)
					if loConst {
						prevCaseVal = loVal
					}
				}
			}
			p.expect(lex.COLON, "case label")
			n.Append(c)
			current = c
			continue
		case lex.KW_DEFAULT:
			line, col := p.tok.Line, p.tok.Col
			if seenDefault {
				p.errorf("duplicate default case")
			}
			seenDefault = true
			p.next()
			p.expect(lex.COLON, "default label")
			d := ast.New(ast.Default, line, col)
			n.Append(d)
			current = d
			continue
		case lex.KW_START:
			line, col := p.tok.Line, p.tok.Col
			sp := p.save()
			p.next()
			if !p.accept(lex.COLON) {
				p.restore(sp)
				break
			}
			s := ast.New(ast.SwitchStart, line, col)
			n.Append(s)
			current = s
			continue
		case lex.KW_END:
			line, col := p.tok.Line, p.tok.Col
			sp := p.save()
			p.next()
			if !p.accept(lex.COLON) {
				p.restore(sp)
				break
			}
			s := ast.New(ast.SwitchEnd, line, col)
			n.Append(s)
			current = s
			continue
		}

		stmt := p.parseStatement()
		if stmt == nil || stmt.Kind == ast.Empty {
			continue
		}
		if current == nil {
			p.errorf("statement before first case in switch")
			continue
		}
		current.Append(stmt)
	}
	p.expect(lex.RBRACE, "switch body")
	return n
}

// constEval folds a constant integer expression at parse time. Used for
// case values so crossed ranges are rejected before lowering.
func (p *Parser) constEval(n *ast.Node) (int64, bool) {
	if n == nil {
		return 0, false
	}
	switch n.Kind {
	case ast.IntLit, ast.CharLit, ast.MultiCharLit:
		return int64(n.Int), true
	case ast.Unary:
		v, ok := p.constEval(n.Child)
		if !ok {
			return 0, false
		}
		switch n.Op {
		case lex.SUB:
			return -v, true
		case lex.ADD:
			return v, true
		case lex.BITNOT:
			return ^v, true
		case lex.NOT:
			if v == 0 {
				return 1, true
			}
			return 0, true
		}
		return 0, false
	case ast.Binary:
		l, lok := p.constEval(n.Child)
		r, rok := p.constEval(n.Child.Sib)
		if !lok || !rok {
			return 0, false
		}
		switch n.Op {
		case lex.ADD:
			return l + r, true
		case lex.SUB:
			return l - r, true
		case lex.MUL:
			return l * r, true
		case lex.DIV:
			if r != 0 {
				return l / r, true
			}
		case lex.MOD:
			if r != 0 {
				return l % r, true
			}
		case lex.SHL:
			return l << uint(r&63), true
		case lex.SHR:
			return l >> uint(r&63), true
		case lex.AND:
			return l & r, true
		case lex.OR:
			return l | r, true
		case lex.XOR:
			return l ^ r, true
		}
		return 0, false
	case ast.Cast:
		return p.constEval(n.Child)
	}
	return 0, false
}
