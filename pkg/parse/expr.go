package parse

import (
	"github.com/oisee/holyc-aot/pkg/ast"
	"github.com/oisee/holyc-aot/pkg/lex"
	"github.com/oisee/holyc-aot/pkg/types"
)

// The precedence chain, low to high: comma, assignment, ?:, ||, ^^, &&,
// |, ^, &, equality, relational (with range-comparison chains), shift,
// additive, multiplicative, unary, postfix, primary.

// parseExpr parses a full expression including the comma operator.
func (p *Parser) parseExpr() *ast.Node {
	left := p.parseAssignExpr()
	for p.at(lex.COMMA) {
		line, col := p.tok.Line, p.tok.Col
		p.next()
		n := ast.New(ast.Binary, line, col)
		n.Op = lex.COMMA
		n.Append(left)
		n.Append(p.parseAssignExpr())
		left = n
	}
	return left
}

// parseAssignExpr parses assignment, which is right-associative.
func (p *Parser) parseAssignExpr() *ast.Node {
	left := p.parseCondExpr()
	if p.tok.Kind.IsAssign() {
		op := p.tok.Kind
		line, col := p.tok.Line, p.tok.Col
		p.next()
		n := ast.New(ast.Assign, line, col)
		n.Op = op
		n.Append(left)
		n.Append(p.parseAssignExpr())
		return n
	}
	return left
}

func (p *Parser) parseCondExpr() *ast.Node {
	cond := p.parseBinary(precLor)
	if !p.at(lex.QUESTION) {
		return cond
	}
	line, col := p.tok.Line, p.tok.Col
	p.next()
	n := ast.New(ast.Cond, line, col)
	n.Append(cond)
	n.Append(p.parseExpr())
	p.expect(lex.COLON, "conditional expression")
	n.Append(p.parseCondExpr())
	return n
}

// Binary precedence levels, low to high.
type precLevel int

const (
	precLor precLevel = iota
	precLxor
	precLand
	precBitor
	precBitxor
	precBitand
	precEquality
	precRelational
	precShift
	precAdditive
	precMultiplicative
	precUnary
)

// opsAt lists the operator kinds at one level.
func opsAt(level precLevel) []lex.Kind {
	switch level {
	case precLor:
		return []lex.Kind{lex.LOR}
	case precLxor:
		return []lex.Kind{lex.LXOR}
	case precLand:
		return []lex.Kind{lex.LAND}
	case precBitor:
		return []lex.Kind{lex.OR}
	case precBitxor:
		return []lex.Kind{lex.XOR}
	case precBitand:
		return []lex.Kind{lex.AND}
	case precEquality:
		return []lex.Kind{lex.EQ, lex.NE}
	case precShift:
		return []lex.Kind{lex.SHL, lex.SHR}
	case precAdditive:
		return []lex.Kind{lex.ADD, lex.SUB}
	case precMultiplicative:
		return []lex.Kind{lex.MUL, lex.DIV, lex.MOD}
	}
	return nil
}

// parseBinary handles the left-associative levels. The relational level is
// special-cased for HolyC range-comparison chains.
func (p *Parser) parseBinary(level precLevel) *ast.Node {
	if level == precRelational {
		return p.parseRelational()
	}
	if level == precUnary {
		return p.parseUnary()
	}
	left := p.parseBinary(level + 1)
	ops := opsAt(level)
	for {
		matched := false
		for _, op := range ops {
			if p.at(op) {
				line, col := p.tok.Line, p.tok.Col
				p.next()
				n := ast.New(ast.Binary, line, col)
				n.Op = op
				n.Append(left)
				n.Append(p.parseBinary(level + 1))
				left = n
				matched = true
				break
			}
		}
		if !matched {
			return left
		}
	}
}

func isRelational(k lex.Kind) bool {
	switch k {
	case lex.LT, lex.GT, lex.LE, lex.GE:
		return true
	}
	return false
}

// parseRelational parses one comparison or a HolyC range-comparison chain.
// After parsing `a op b`, seeing another relational operator switches to
// chain collection: a single RangeCmp node carries the ordered operand and
// operator sequences, evaluated as the short-circuit AND of adjacent pairs.
func (p *Parser) parseRelational() *ast.Node {
	left := p.parseBinary(precShift)
	if !isRelational(p.tok.Kind) {
		return left
	}

	line, col := p.tok.Line, p.tok.Col
	op1 := p.tok.Kind
	p.next()
	second := p.parseBinary(precShift)

	if !isRelational(p.tok.Kind) {
		n := ast.New(ast.Binary, line, col)
		n.Op = op1
		n.Append(left)
		n.Append(second)
		return n
	}

	chain := ast.New(ast.RangeCmp, line, col)
	chain.CmpOps = []lex.Kind{op1}
	chain.Append(left)
	chain.Append(second)
	for isRelational(p.tok.Kind) {
		chain.CmpOps = append(chain.CmpOps, p.tok.Kind)
		p.next()
		chain.Append(p.parseBinary(precShift))
	}
	return chain
}

func (p *Parser) parseUnary() *ast.Node {
	switch p.tok.Kind {
	case lex.NOT, lex.BITNOT, lex.ADD, lex.SUB, lex.INC, lex.DEC, lex.AND, lex.MUL:
		op := p.tok.Kind
		line, col := p.tok.Line, p.tok.Col
		p.next()
		n := ast.New(ast.Unary, line, col)
		n.Op = op
		n.Append(p.parseUnary())
		return n
	}
	return p.parsePostfix()
}

// parsePostfix handles [] () . -> ++ -- suffixes, including sub-int
// access, union member access, postfix casts, and range values.
func (p *Parser) parsePostfix() *ast.Node {
	n := p.parsePrimary()
	for {
		switch p.tok.Kind {
		case lex.LBRACKET:
			line, col := p.tok.Line, p.tok.Col
			p.next()
			idx := ast.New(ast.Index, line, col)
			idx.Append(n)
			idx.Append(p.parseExpr())
			p.expect(lex.RBRACKET, "array access")
			n = idx
		case lex.LPAREN:
			n = p.parseCallOrCast(n)
		case lex.DOT:
			n = p.parseMemberAccess(n, false)
		case lex.ARROW:
			n = p.parseMemberAccess(n, true)
		case lex.INC, lex.DEC:
			u := ast.New(ast.Unary, p.tok.Line, p.tok.Col)
			u.Op = p.tok.Kind
			u.Postfix = true
			u.Append(n)
			p.next()
			n = u
		case lex.DOTDOT:
			// Range value expression lo..hi.
			line, col := p.tok.Line, p.tok.Col
			p.next()
			r := ast.New(ast.RangeExpr, line, col)
			r.Append(n)
			r.Append(p.parsePostfix())
			n = r
		default:
			return p.maybeNoParenCall(n)
		}
	}
}

// parseCallOrCast handles `expr ( ... )`. A single built-in type name in
// the parentheses is the HolyC postfix cast (`x(F64)`); anything else is a
// call, which requires the callee to be a plain identifier.
func (p *Parser) parseCallOrCast(callee *ast.Node) *ast.Node {
	line, col := p.tok.Line, p.tok.Col
	p.next() // (

	if p.tok.Kind.IsType() {
		sp := p.save()
		castType, _ := p.parseType()
		if p.accept(lex.RPAREN) {
			c := ast.New(ast.Cast, line, col)
			c.Type = castType
			c.Append(callee)
			return c
		}
		p.restore(sp)
	}

	call := ast.New(ast.Call, line, col)
	if callee.Kind == ast.Ident {
		call.Ident = callee.Ident
	} else {
		p.errorf("Expected function name before call, got %s", callee.Kind)
	}
	if !p.at(lex.RPAREN) {
		for {
			call.Append(p.parseAssignExpr())
			if !p.accept(lex.COMMA) {
				break
			}
		}
	}
	p.expect(lex.RPAREN, "call arguments")
	p.noteCallTarget(call)
	return call
}

// parseMemberAccess handles `.name` and `->name`. A member named i8..u32
// followed by '[' is a sub-int access; i8..u64 without an index is a
// union member access; anything else is a plain member access.
func (p *Parser) parseMemberAccess(base *ast.Node, arrow bool) *ast.Node {
	line, col := p.tok.Line, p.tok.Col
	p.next() // . or ->
	if !p.at(lex.IDENT) && !p.tok.Kind.IsType() {
		p.errorf("Expected member name after '.', got %s", p.tok.Kind)
		return base
	}
	name := p.tok.Lexeme
	p.next()

	if mt, ok := types.SubIntMember(name); ok && p.at(lex.LBRACKET) {
		p.next()
		s := ast.New(ast.SubInt, line, col)
		s.MemberType = mt
		s.Append(base)
		s.Append(p.parseExpr())
		p.expect(lex.RBRACKET, "sub-int access")
		return s
	}

	switch name {
	case "i8", "u8", "i16", "u16", "i32", "u32", "i64", "u64":
		u := ast.New(ast.UnionMember, line, col)
		u.Ident = name
		u.Append(base)
		return u
	}

	m := ast.New(ast.Member, line, col)
	m.Ident = name
	if arrow {
		m.Op = lex.ARROW
	} else {
		m.Op = lex.DOT
	}
	m.Append(base)
	return m
}

// maybeNoParenCall converts a bare identifier that resolves to a function
// symbol into a zero-argument call.
func (p *Parser) maybeNoParenCall(n *ast.Node) *ast.Node {
	if n == nil || n.Kind != ast.Ident {
		return n
	}
	sym := p.Syms.Lookup(n.Ident)
	if sym == nil || sym.Kind != SymFunc {
		return n
	}
	call := ast.New(ast.Call, n.Line, n.Col)
	call.Ident = n.Ident
	call.NoParens = true
	return call
}

// noteCallTarget resolves the callee now so undeclared calls warn once at
// the use site and recover with an implicit identifier.
func (p *Parser) noteCallTarget(call *ast.Node) {
	if call.Ident == "" {
		return
	}
	if p.Syms.Lookup(call.Ident) != nil {
		return
	}
	if v, _ := p.Scopes.Lookup(call.Ident); v != nil {
		return
	}
	p.warnf(call.Line, call.Col, "use of undeclared identifier '%s'", call.Ident)
	p.Syms.Insert(&Symbol{Name: call.Ident, Kind: SymIdent, Decl: call})
}

func (p *Parser) parsePrimary() *ast.Node {
	line, col := p.tok.Line, p.tok.Col
	switch p.tok.Kind {
	case lex.INT:
		n := ast.New(ast.IntLit, line, col)
		n.Int = p.tok.Int
		p.next()
		return n
	case lex.FLOAT:
		n := ast.New(ast.FloatLit, line, col)
		n.Float = p.tok.Float
		p.next()
		return n
	case lex.STRING:
		n := ast.New(ast.StrLit, line, col)
		n.Str = p.tok.Str
		p.next()
		return n
	case lex.CHAR:
		kind := ast.CharLit
		if p.tok.ByteLen > 1 {
			kind = ast.MultiCharLit
		}
		n := ast.New(kind, line, col)
		n.Int = p.tok.Int
		n.ByteLen = p.tok.ByteLen
		p.next()
		return n
	case lex.IDENT:
		n := ast.New(ast.Ident, line, col)
		n.Ident = p.tok.Lexeme
		p.next()
		p.resolveIdent(n)
		return n
	case lex.LPAREN:
		p.next()
		n := p.parseExpr()
		p.expect(lex.RPAREN, "parenthesized expression")
		return n
	case lex.LBRACE:
		// Brace initializer: a list of assignment expressions.
		p.next()
		n := ast.New(ast.Block, line, col)
		if !p.at(lex.RBRACE) {
			for {
				n.Append(p.parseAssignExpr())
				if !p.accept(lex.COMMA) {
					break
				}
			}
		}
		p.expect(lex.RBRACE, "brace initializer")
		return n
	case lex.DOLLAR:
		p.next()
		n := ast.New(ast.DollarExpr, line, col)
		n.Append(p.parseUnary())
		return n
	}
	p.errorf("unexpected %s in expression", p.tok.Kind)
	return ast.New(ast.Empty, line, col)
}

// resolveIdent checks that a name is reachable through the scope chain or
// the symbol table. Undeclared names warn and insert an implicit
// identifier so downstream phases keep going.
func (p *Parser) resolveIdent(n *ast.Node) {
	if v, s := p.Scopes.Lookup(n.Ident); v != nil {
		if v.Decl != nil {
			n.Type = v.Decl.Type
		}
		if s.IsFunc || s.IsBlock {
			n.IsLocal = true
			n.Off = v.Offset
		}
		return
	}
	if s := p.Syms.Lookup(n.Ident); s != nil {
		n.Type = s.Result
		return
	}
	p.warnf(n.Line, n.Col, "use of undeclared identifier '%s'", n.Ident)
	p.Syms.Insert(&Symbol{Name: n.Ident, Kind: SymIdent, Decl: n})
}
