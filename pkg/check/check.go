// Package check is the type checker: it walks the AST bottom-up, derives
// expression types over the width/sign lattice, and validates assignments
// and operator operands. Errors are reported and checking continues;
// lowering runs best-effort afterwards.
package check

import (
	"math"

	"github.com/oisee/holyc-aot/pkg/ast"
	"github.com/oisee/holyc-aot/pkg/diag"
	"github.com/oisee/holyc-aot/pkg/lex"
	"github.com/oisee/holyc-aot/pkg/parse"
	"github.com/oisee/holyc-aot/pkg/types"
)

// Checker carries the reporter and the enclosing function while walking.
type Checker struct {
	syms *parse.SymTab
	rep  *diag.Reporter
	fn   *ast.Node
}

// Check type-checks the whole program in place, writing synthesized types
// into the nodes.
func Check(prog *ast.Node, syms *parse.SymTab, rep *diag.Reporter) {
	c := &Checker{syms: syms, rep: rep}
	for n := prog.Child; n != nil; n = n.Sib {
		c.stmt(n)
	}
}

func (c *Checker) errorf(n *ast.Node, format string, args ...any) {
	c.rep.Errorf(diag.Type, n.Line, n.Col, format, args...)
}

func (c *Checker) stmt(n *ast.Node) {
	if n == nil || n.Kind == ast.Empty {
		return
	}
	switch n.Kind {
	case ast.Function:
		saved := c.fn
		c.fn = n
		for k := n.Child; k != nil; k = k.Sib {
			if k.Kind == ast.Param && k.Child != nil {
				def := c.expr(k.Child)
				if !types.Compatible(def, k.Type) {
					c.errorf(k, "default argument type %s is not compatible with parameter type %s", def, k.Type)
				}
			}
			if k.Kind == ast.Block {
				c.stmt(k)
			}
		}
		c.fn = saved
	case ast.VarDecl:
		if n.Child != nil && n.Child.Kind != ast.Empty {
			// Initializers check as assignments. A missing initializer was
			// already reported by the parser.
			got := c.expr(n.Child)
			if !types.Compatible(got, n.Type) {
				c.errorf(n, "cannot initialize %s variable '%s' with %s", n.Type, n.Ident, got)
			}
		}
	case ast.Block, ast.Program, ast.Case, ast.Default, ast.SwitchStart, ast.SwitchEnd:
		for k := n.Child; k != nil; k = k.Sib {
			c.stmt(k)
		}
	case ast.ExprStmt:
		c.expr(n.Child)
	case ast.If, ast.While:
		c.expr(n.NthChild(0))
		c.stmt(n.NthChild(1))
		c.stmt(n.NthChild(2))
	case ast.DoWhile:
		c.stmt(n.NthChild(0))
		c.expr(n.NthChild(1))
	case ast.For:
		c.stmt(n.NthChild(0))
		if cond := n.NthChild(1); !cond.IsEmpty() {
			c.expr(cond)
		}
		c.stmt(n.NthChild(2))
		c.stmt(n.NthChild(3))
	case ast.Switch:
		v := c.expr(n.NthChild(0))
		if !v.IsInt() && v.Kind != types.Bool {
			c.errorf(n, "switch value must be an integer, got %s", v)
		}
		for k := n.NthChild(0).Sib; k != nil; k = k.Sib {
			c.caseBody(k)
		}
	case ast.Return:
		var got types.Type = types.Void
		if n.Child != nil {
			got = c.expr(n.Child)
		}
		if c.fn != nil {
			want := c.fn.Type
			if want.IsVoid() && n.Child != nil {
				c.errorf(n, "U0 function '%s' returns a value", c.fn.Ident)
			} else if !want.IsVoid() && n.Child != nil && !types.Compatible(got, want) {
				c.errorf(n, "cannot return %s from %s function", got, want)
			}
		}
	case ast.Try:
		c.stmt(n.NthChild(0))
		c.stmt(n.NthChild(1))
	case ast.Throw:
		if n.Child != nil {
			c.expr(n.Child)
		}
	case ast.Goto, ast.Label, ast.Break, ast.ClassDef, ast.UnionDef, ast.AsmBlock:
		// Nothing to derive.
	default:
		c.expr(n)
	}
}

func (c *Checker) caseBody(n *ast.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case ast.Case:
		if lo := n.NthChild(0); !lo.IsEmpty() {
			if t := c.expr(lo); !t.IsInt() {
				c.errorf(lo, "case value must be an integer, got %s", t)
			}
		}
		if hi := n.NthChild(1); !hi.IsEmpty() {
			if t := c.expr(hi); !t.IsInt() {
				c.errorf(hi, "case range bound must be an integer, got %s", t)
			}
		}
		for k := n.NthChild(1).Sib; k != nil; k = k.Sib {
			c.stmt(k)
		}
	default:
		for k := n.Child; k != nil; k = k.Sib {
			c.stmt(k)
		}
	}
}

// expr derives and stores the type of an expression node.
func (c *Checker) expr(n *ast.Node) types.Type {
	if n == nil || n.Kind == ast.Empty {
		return types.Void
	}
	t := c.exprType(n)
	n.Type = t
	return t
}

func (c *Checker) exprType(n *ast.Node) types.Type {
	switch n.Kind {
	case ast.IntLit:
		if n.Int > math.MaxInt64 {
			return types.TU64
		}
		return types.TI64
	case ast.CharLit, ast.MultiCharLit:
		return types.TI64
	case ast.FloatLit:
		return types.TF64
	case ast.StrLit:
		return types.TString
	case ast.Ident:
		if n.Type.Kind != types.Invalid {
			return n.Type
		}
		return types.TI64
	case ast.Binary:
		return c.binary(n)
	case ast.Unary:
		return c.unary(n)
	case ast.Assign:
		return c.assign(n)
	case ast.Cond:
		ct := c.expr(n.NthChild(0))
		if !ct.IsNumeric() {
			c.errorf(n, "conditional requires a numeric condition, got %s", ct)
		}
		tt := c.expr(n.NthChild(1))
		et := c.expr(n.NthChild(2))
		return types.BinaryResult(tt, et)
	case ast.Call:
		return c.call(n)
	case ast.Index:
		base := c.expr(n.NthChild(0))
		idx := c.expr(n.NthChild(1))
		if !idx.IsInt() && idx.Kind != types.Bool {
			c.errorf(n, "array index must be an integer, got %s", idx)
		}
		if base.Kind == types.Ptr && base.Elem != nil {
			return *base.Elem
		}
		if base.Kind == types.String {
			return types.TU8
		}
		return types.TI64
	case ast.SubInt:
		return c.subInt(n)
	case ast.UnionMember:
		base := c.expr(n.NthChild(0))
		if !base.IsInt() && base.Kind != types.Invalid {
			c.errorf(n, "union member access requires an integer base, got %s", base)
		}
		if t, ok := types.SubIntMember(n.Ident); ok {
			return t
		}
		if n.Ident == "i64" {
			return types.TI64
		}
		return types.TU64
	case ast.Member:
		c.expr(n.NthChild(0))
		return types.TI64
	case ast.RangeCmp:
		for _, k := range n.Kids() {
			if t := c.expr(k); !t.IsNumeric() {
				c.errorf(k, "comparison requires numeric operands, got %s", t)
			}
		}
		return types.TBool
	case ast.RangeExpr:
		c.expr(n.NthChild(0))
		c.expr(n.NthChild(1))
		return types.TI64
	case ast.DollarExpr:
		return c.expr(n.Child)
	case ast.Cast:
		c.expr(n.Child)
		return n.Type
	case ast.Block:
		var last types.Type = types.Void
		for k := n.Child; k != nil; k = k.Sib {
			last = c.expr(k)
		}
		return last
	}
	return types.TI64
}

func isLogical(op lex.Kind) bool {
	return op == lex.LAND || op == lex.LOR || op == lex.LXOR
}

func (c *Checker) binary(n *ast.Node) types.Type {
	l := c.expr(n.NthChild(0))
	r := c.expr(n.NthChild(1))

	switch {
	case n.Op == lex.COMMA:
		return r
	case isLogical(n.Op):
		// Bool operands required; integers coerce to Bool.
		if !l.IsNumeric() {
			c.errorf(n, "logical operator requires Bool operands, got %s", l)
		}
		if !r.IsNumeric() {
			c.errorf(n, "logical operator requires Bool operands, got %s", r)
		}
		return types.TBool
	case n.Op.IsComparison():
		if !l.IsNumeric() && l.Kind != types.String {
			c.errorf(n, "comparison requires numeric operands, got %s", l)
		}
		if !r.IsNumeric() && r.Kind != types.String {
			c.errorf(n, "comparison requires numeric operands, got %s", r)
		}
		return types.TBool
	default:
		if !l.IsNumeric() {
			c.errorf(n, "operator %s requires numeric operands, got %s", n.Op, l)
		}
		if !r.IsNumeric() {
			c.errorf(n, "operator %s requires numeric operands, got %s", n.Op, r)
		}
		return types.BinaryResult(l, r)
	}
}

func (c *Checker) unary(n *ast.Node) types.Type {
	t := c.expr(n.Child)
	switch n.Op {
	case lex.NOT:
		return types.TBool
	case lex.AND:
		return types.PointerTo(t)
	case lex.MUL:
		if t.Kind == types.Ptr && t.Elem != nil {
			return *t.Elem
		}
		if t.Kind != types.Invalid && !t.IsInt() && t.Kind != types.String {
			c.errorf(n, "cannot dereference %s", t)
		}
		return types.TI64
	case lex.SUB, lex.ADD, lex.BITNOT, lex.INC, lex.DEC:
		if !t.IsNumeric() {
			c.errorf(n, "operator %s requires a numeric operand, got %s", n.Op, t)
		}
		return t
	}
	return t
}

func (c *Checker) assign(n *ast.Node) types.Type {
	lhs := c.expr(n.NthChild(0))
	rhs := c.expr(n.NthChild(1))
	if lhs.Kind != types.Invalid && !types.Compatible(rhs, lhs) {
		c.errorf(n, "cannot assign %s to %s", rhs, lhs)
	}
	if n.Op != lex.ASSIGN && !rhs.IsNumeric() {
		c.errorf(n, "compound assignment requires a numeric operand, got %s", rhs)
	}
	return lhs
}

func (c *Checker) call(n *ast.Node) types.Type {
	sym := c.syms.Lookup(n.Ident)
	args := n.Kids()
	for _, a := range args {
		c.expr(a)
	}
	if sym == nil {
		return types.TI64
	}
	required := 0
	for i, d := range sym.Defaults {
		if d == nil {
			required = i + 1
		}
	}
	if len(args) < required && !sym.Variadic {
		c.errorf(n, "call to '%s' with %d arguments, needs at least %d", n.Ident, len(args), required)
	}
	if len(args) > len(sym.Params) && !sym.Variadic {
		c.errorf(n, "call to '%s' with %d arguments, takes %d", n.Ident, len(args), len(sym.Params))
	}
	for i, a := range args {
		if i < len(sym.Params) && !types.Compatible(a.Type, sym.Params[i]) {
			c.errorf(a, "argument %d of '%s': cannot pass %s as %s", i+1, n.Ident, a.Type, sym.Params[i])
		}
	}
	return sym.Result
}

// subInt validates a sub-int access: member type one of the narrow
// integers, integer index, and a constant index bounded by the containing
// object's byte size.
func (c *Checker) subInt(n *ast.Node) types.Type {
	base := c.expr(n.NthChild(0))
	idx := c.expr(n.NthChild(1))

	w := n.MemberType.Width()
	if w != 1 && w != 2 && w != 4 {
		c.errorf(n, "sub-int member must be 1, 2, or 4 bytes, got %d", w)
	}
	if !idx.IsInt() && idx.Kind != types.Bool {
		c.errorf(n, "sub-int index must be an integer, got %s", idx)
	}
	if base.Kind != types.Invalid && !base.IsInt() {
		c.errorf(n, "sub-int access requires an integer base, got %s", base)
	}
	if iv := n.NthChild(1); iv != nil && iv.Kind == ast.IntLit && base.IsInt() {
		objSize := base.Width()
		if w > 0 && int(iv.Int)*w+w > objSize {
			c.errorf(n, "sub-int index %d out of range for %d-byte object", iv.Int, objSize)
		}
	}
	return n.MemberType
}
