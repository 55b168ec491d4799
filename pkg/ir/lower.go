package ir

import (
	"math"

	"github.com/oisee/holyc-aot/pkg/ast"
	"github.com/oisee/holyc-aot/pkg/diag"
	"github.com/oisee/holyc-aot/pkg/lex"
	"github.com/oisee/holyc-aot/pkg/parse"
	"github.com/oisee/holyc-aot/pkg/types"
	"github.com/oisee/holyc-aot/pkg/x64"
)

// Lowerer translates the typed AST into linear IR, one function at a
// time. Expressions lower left-to-right; statements emit jump IR against
// numeric labels resolved after all instructions exist.
type Lowerer struct {
	mod  *Module
	syms *parse.SymTab
	rep  *diag.Reporter

	fn          *Func
	breakStack  []int64
	namedLabels map[string]int64
}

// Lower builds the module. Top-level statements collect into the
// synthetic entry function; every function definition lowers separately.
func Lower(prog *ast.Node, syms *parse.SymTab, rep *diag.Reporter) *Module {
	lw := &Lowerer{mod: &Module{}, syms: syms, rep: rep}

	entry := &Func{Name: EntryName, Result: types.TI64}
	lw.mod.Funcs = append(lw.mod.Funcs, entry)

	var topStmts []*ast.Node
	for n := prog.Child; n != nil; n = n.Sib {
		switch n.Kind {
		case ast.Function:
			lw.lowerFunction(n)
		case ast.ClassDef, ast.UnionDef:
			// Definitions carry no code.
		case ast.VarDecl:
			lw.addGlobal(n)
			if n.Child != nil {
				topStmts = append(topStmts, n)
			}
		case ast.Block:
			// Declaration lists at top level.
			allDecls := true
			for c := n.Child; c != nil; c = c.Sib {
				if c.Kind != ast.VarDecl {
					allDecls = false
					break
				}
			}
			if allDecls && n.Child != nil {
				for c := n.Child; c != nil; c = c.Sib {
					lw.addGlobal(c)
					if c.Child != nil {
						topStmts = append(topStmts, c)
					}
				}
			} else {
				topStmts = append(topStmts, n)
			}
		default:
			topStmts = append(topStmts, n)
		}
	}

	lw.fn = entry
	lw.namedLabels = make(map[string]int64)
	for _, s := range topStmts {
		lw.lowerStmt(s)
	}
	entry.Emit(Ins{Op: Ret, Arg1: Imm(0, types.TI64)})
	return lw.mod
}

func (lw *Lowerer) addGlobal(n *ast.Node) {
	size := int64(n.Type.Width())
	if size < 8 {
		size = 8
	}
	lw.mod.Globals = append(lw.mod.Globals, GlobalVar{Name: n.Ident, Size: size, Type: n.Type})
}

func (lw *Lowerer) lowerFunction(n *ast.Node) {
	var body *ast.Node
	var params []*ast.Node
	for c := n.Child; c != nil; c = c.Sib {
		if c.Kind == ast.Param {
			params = append(params, c)
		} else if c.Kind == ast.Block {
			body = c
		}
	}
	if body == nil {
		return // forward declaration
	}

	fn := &Func{Name: n.Ident, FrameSize: n.Off, Result: n.Type}
	lw.mod.Funcs = append(lw.mod.Funcs, fn)

	saved, savedLabels := lw.fn, lw.namedLabels
	lw.fn = fn
	lw.namedLabels = make(map[string]int64)
	defer func() { lw.fn, lw.namedLabels = saved, savedLabels }()

	// Spill incoming register arguments to their frame slots.
	for i, prm := range params {
		if prm.Varargs || prm.Ident == "" {
			continue
		}
		if i < len(x64.ArgRegs) {
			fn.Emit(Ins{
				Op:   Store,
				Arg1: Stack(int64(prm.Off), prm.Type),
				Arg2: Operand{Kind: KReg, Reg: x64.ArgRegs[i], Type: prm.Type},
				Line: prm.Line,
			})
		} else {
			lw.rep.Errorf(diag.IR, prm.Line, prm.Col,
				"parameter %d exceeds the register argument limit", i+1)
		}
	}

	lw.lowerStmt(body)

	// Implicit return for functions that fall off the end.
	if len(fn.Ins) == 0 || fn.Ins[len(fn.Ins)-1].Op != Ret {
		fn.Emit(Ins{Op: Ret, Arg1: Imm(0, types.TI64)})
	}
}

func (lw *Lowerer) emit(ins Ins) int32 {
	return lw.fn.Emit(ins)
}

func (lw *Lowerer) label(id int64) {
	lw.emit(Ins{Op: LabelOp, Arg1: Label(id)})
}

func (lw *Lowerer) namedLabel(name string) int64 {
	if id, ok := lw.namedLabels[name]; ok {
		return id
	}
	id := lw.fn.NewLabel()
	lw.namedLabels[name] = id
	return id
}

// lowerStmt emits IR for one statement.
func (lw *Lowerer) lowerStmt(n *ast.Node) {
	if n == nil || n.Kind == ast.Empty {
		return
	}
	switch n.Kind {
	case ast.Block:
		for c := n.Child; c != nil; c = c.Sib {
			lw.lowerStmt(c)
		}
	case ast.VarDecl:
		if n.Child == nil {
			return
		}
		v := lw.lowerExpr(n.Child)
		lw.emitStoreVar(n, v)
	case ast.ExprStmt:
		lw.lowerExpr(n.Child)
		lw.markUnused()
	case ast.If:
		lw.lowerIf(n)
	case ast.While:
		lw.lowerWhile(n)
	case ast.DoWhile:
		lw.lowerDoWhile(n)
	case ast.For:
		lw.lowerFor(n)
	case ast.Switch:
		lw.lowerSwitch(n)
	case ast.Break:
		if len(lw.breakStack) == 0 {
			lw.rep.Errorf(diag.IR, n.Line, n.Col, "break outside loop or switch")
			return
		}
		lw.emit(Ins{Op: Jmp, Arg1: Label(lw.breakStack[len(lw.breakStack)-1]), Line: n.Line})
	case ast.Goto:
		lw.emit(Ins{Op: Jmp, Arg1: Label(lw.namedLabel(n.Ident)), Line: n.Line})
	case ast.Label:
		lw.label(lw.namedLabel(n.Ident))
	case ast.Return:
		if n.Child != nil {
			v := lw.lowerExpr(n.Child)
			lw.emit(Ins{Op: Ret, Arg1: v, Line: n.Line})
		} else {
			lw.emit(Ins{Op: Ret, Line: n.Line})
		}
	case ast.Try:
		lw.lowerTry(n)
	case ast.Throw:
		var v Operand
		if n.Child != nil {
			v = lw.lowerExpr(n.Child)
		} else {
			v = Imm(0, types.TI64)
		}
		lw.emit(Ins{Op: ThrowOp, Arg1: v, Line: n.Line})
	case ast.AsmBlock:
		lw.lowerAsm(n)
	case ast.ClassDef, ast.UnionDef:
		// no code
	default:
		// An expression in statement position.
		lw.lowerExpr(n)
		lw.markUnused()
	}
}

// markUnused flags the last emitted instruction's result as dead so the
// dead-code pass may drop pure computations.
func (lw *Lowerer) markUnused() {
	if len(lw.fn.Ins) > 0 {
		lw.fn.Ins[len(lw.fn.Ins)-1].ResultUnused = true
	}
}

func (lw *Lowerer) lowerIf(n *ast.Node) {
	cond := n.NthChild(0)
	then := n.NthChild(1)
	els := n.NthChild(2)

	v := lw.lowerExpr(cond)
	elseL := lw.fn.NewLabel()
	lw.emit(Ins{Op: JmpFalse, Arg1: v, Arg2: Label(elseL), Line: n.Line})
	lw.lowerStmt(then)
	if !els.IsEmpty() {
		endL := lw.fn.NewLabel()
		lw.emit(Ins{Op: Jmp, Arg1: Label(endL)})
		lw.label(elseL)
		lw.lowerStmt(els)
		lw.label(endL)
	} else {
		lw.label(elseL)
	}
}

func (lw *Lowerer) lowerWhile(n *ast.Node) {
	condL := lw.fn.NewLabel()
	endL := lw.fn.NewLabel()
	lw.label(condL)
	v := lw.lowerExpr(n.NthChild(0))
	lw.emit(Ins{Op: JmpFalse, Arg1: v, Arg2: Label(endL), Line: n.Line})
	lw.breakStack = append(lw.breakStack, endL)
	lw.lowerStmt(n.NthChild(1))
	lw.breakStack = lw.breakStack[:len(lw.breakStack)-1]
	lw.emit(Ins{Op: Jmp, Arg1: Label(condL)})
	lw.label(endL)
}

func (lw *Lowerer) lowerDoWhile(n *ast.Node) {
	bodyL := lw.fn.NewLabel()
	endL := lw.fn.NewLabel()
	lw.label(bodyL)
	lw.breakStack = append(lw.breakStack, endL)
	lw.lowerStmt(n.NthChild(0))
	lw.breakStack = lw.breakStack[:len(lw.breakStack)-1]
	v := lw.lowerExpr(n.NthChild(1))
	lw.emit(Ins{Op: JmpTrue, Arg1: v, Arg2: Label(bodyL), Line: n.Line})
	lw.label(endL)
}

func (lw *Lowerer) lowerFor(n *ast.Node) {
	init := n.NthChild(0)
	cond := n.NthChild(1)
	post := n.NthChild(2)
	body := n.NthChild(3)

	lw.lowerStmt(init)
	condL := lw.fn.NewLabel()
	endL := lw.fn.NewLabel()
	lw.label(condL)
	if !cond.IsEmpty() {
		v := lw.lowerExpr(cond)
		lw.emit(Ins{Op: JmpFalse, Arg1: v, Arg2: Label(endL), Line: n.Line})
	}
	lw.breakStack = append(lw.breakStack, endL)
	lw.lowerStmt(body)
	lw.breakStack = lw.breakStack[:len(lw.breakStack)-1]
	lw.lowerStmt(post)
	lw.emit(Ins{Op: Jmp, Arg1: Label(condL)})
	lw.label(endL)
}

// lowerSwitch emits a comparison dispatch chain followed by the case
// bodies in source order (fallthrough preserved). SwitchStart statements
// run before dispatch; SwitchEnd statements run at the exit label.
func (lw *Lowerer) lowerSwitch(n *ast.Node) {
	val := lw.lowerExpr(n.NthChild(0))
	// Pin the scrutinee in a vreg: the dispatch chain reads it repeatedly.
	sv := lw.fn.NewVReg(val.Type)
	lw.emit(Ins{Op: Assign, Res: sv, Arg1: val, Line: n.Line})

	endL := lw.fn.NewLabel()

	var cases []*ast.Node
	var defaultNode *ast.Node
	var startNodes, endNodes []*ast.Node
	for c := n.NthChild(0).Sib; c != nil; c = c.Sib {
		switch c.Kind {
		case ast.Case:
			cases = append(cases, c)
		case ast.Default:
			defaultNode = c
		case ast.SwitchStart:
			startNodes = append(startNodes, c)
		case ast.SwitchEnd:
			endNodes = append(endNodes, c)
		}
	}

	for _, s := range startNodes {
		for c := s.Child; c != nil; c = c.Sib {
			lw.lowerStmt(c)
		}
	}

	// Dispatch chain.
	bodyLabels := make([]int64, len(cases))
	for i, c := range cases {
		bodyLabels[i] = lw.fn.NewLabel()
		lo := lw.lowerExpr(c.NthChild(0))
		hi := c.NthChild(1)
		if hi.IsEmpty() {
			eq := lw.fn.NewVReg(types.TBool)
			lw.emit(Ins{Op: CmpEq, Res: eq, Arg1: sv, Arg2: lo, Line: c.Line})
			lw.emit(Ins{Op: JmpTrue, Arg1: eq, Arg2: Label(bodyLabels[i])})
		} else {
			hv := lw.lowerExpr(hi)
			skip := lw.fn.NewLabel()
			ge := lw.fn.NewVReg(types.TBool)
			lw.emit(Ins{Op: CmpGe, Res: ge, Arg1: sv, Arg2: lo, Line: c.Line})
			lw.emit(Ins{Op: JmpFalse, Arg1: ge, Arg2: Label(skip)})
			le := lw.fn.NewVReg(types.TBool)
			lw.emit(Ins{Op: CmpLe, Res: le, Arg1: sv, Arg2: hv, Line: c.Line})
			lw.emit(Ins{Op: JmpTrue, Arg1: le, Arg2: Label(bodyLabels[i])})
			lw.label(skip)
		}
	}
	defaultL := endL
	if defaultNode != nil {
		defaultL = lw.fn.NewLabel()
	}
	lw.emit(Ins{Op: Jmp, Arg1: Label(defaultL)})

	// Bodies in source order; break jumps to endL; fallthrough preserved.
	lw.breakStack = append(lw.breakStack, endL)
	for i, c := range cases {
		lw.label(bodyLabels[i])
		body := c.NthChild(1).Sib // children: lo, hi, stmts...
		for ; body != nil; body = body.Sib {
			lw.lowerStmt(body)
		}
	}
	if defaultNode != nil {
		lw.label(defaultL)
		for c := defaultNode.Child; c != nil; c = c.Sib {
			lw.lowerStmt(c)
		}
	}
	lw.breakStack = lw.breakStack[:len(lw.breakStack)-1]

	lw.label(endL)
	for _, s := range endNodes {
		for c := s.Child; c != nil; c = c.Sib {
			lw.lowerStmt(c)
		}
	}
}

func (lw *Lowerer) lowerTry(n *ast.Node) {
	catchL := lw.fn.NewLabel()
	endL := lw.fn.NewLabel()
	lw.emit(Ins{Op: TryEnter, Arg1: Label(catchL), Line: n.Line})
	lw.lowerStmt(n.NthChild(0))
	lw.emit(Ins{Op: TryExit})
	lw.emit(Ins{Op: Jmp, Arg1: Label(endL)})
	lw.label(catchL)
	lw.lowerStmt(n.NthChild(1))
	lw.label(endL)
}

// litType picks the literal's type: integers above the signed range are
// U64, everything else I64.
func litType(v uint64) types.Type {
	if v > math.MaxInt64 {
		return types.TU64
	}
	return types.TI64
}

// lowerExpr emits IR for an expression and returns the operand holding
// its value.
func (lw *Lowerer) lowerExpr(n *ast.Node) Operand {
	if n == nil || n.Kind == ast.Empty {
		return None
	}
	switch n.Kind {
	case ast.IntLit:
		return Imm(int64(n.Int), litType(n.Int))
	case ast.CharLit, ast.MultiCharLit:
		return Imm(int64(n.Int), types.TI64)
	case ast.FloatLit:
		return Operand{Kind: KFImm, F: n.Float, Type: types.TF64}
	case ast.StrLit:
		label := lw.mod.InternString(n.Str)
		return Operand{Kind: KStr, Sym: label, Type: types.TString}
	case ast.Ident:
		return lw.lowerVarRead(n)
	case ast.Binary:
		return lw.lowerBinary(n)
	case ast.Unary:
		return lw.lowerUnary(n)
	case ast.Assign:
		return lw.lowerAssign(n)
	case ast.Cond:
		return lw.lowerCondExpr(n)
	case ast.Call:
		return lw.lowerCall(n)
	case ast.Index:
		addr, elem := lw.lowerIndexAddr(n)
		res := lw.fn.NewVReg(elem)
		lw.emit(Ins{Op: Load, Res: res, Arg1: addr, Size: elem.Width(), Line: n.Line})
		return res
	case ast.SubInt:
		return lw.lowerSubIntRead(n)
	case ast.UnionMember:
		return lw.lowerUnionRead(n)
	case ast.Member:
		lw.rep.Warnf(diag.IR, n.Line, n.Col, "member '%s' has no storage layout; access yields 0", n.Ident)
		res := lw.fn.NewVReg(types.TI64)
		lw.emit(Ins{Op: ClassAccess, Res: res, Arg1: Imm(0, types.TI64), Line: n.Line})
		return res
	case ast.RangeCmp:
		return lw.lowerRangeCmp(n)
	case ast.RangeExpr:
		lo := lw.lowerExpr(n.NthChild(0))
		hi := lw.lowerExpr(n.NthChild(1))
		res := lw.fn.NewVReg(types.TI64)
		lw.emit(Ins{Op: DotDot, Res: res, Arg1: lo, Arg2: hi, Line: n.Line})
		return res
	case ast.DollarExpr:
		v := lw.lowerExpr(n.Child)
		res := lw.fn.NewVReg(v.Type)
		lw.emit(Ins{Op: DollarOp, Res: res, Arg1: v, Line: n.Line})
		return res
	case ast.Cast:
		v := lw.lowerExpr(n.Child)
		res := lw.fn.NewVReg(n.Type)
		lw.emit(Ins{Op: Cast, Res: res, Arg1: v, Size: n.Type.Width(), Line: n.Line})
		return res
	case ast.Block:
		// Brace initializer in expression position: value of the last entry.
		var last Operand
		for c := n.Child; c != nil; c = c.Sib {
			last = lw.lowerExpr(c)
		}
		return last
	}
	lw.rep.Errorf(diag.IR, n.Line, n.Col, "cannot lower %s", n.Kind)
	return None
}

func (lw *Lowerer) lowerVarRead(n *ast.Node) Operand {
	if n.IsLocal {
		return Stack(int64(n.Off), n.Type)
	}
	if sym := lw.syms.Lookup(n.Ident); sym != nil && sym.Kind == parse.SymVar {
		return Sym(n.Ident, sym.Result)
	}
	// Implicit identifier from undeclared-name recovery.
	return Imm(0, types.TI64)
}

func opForToken(k lex.Kind) Op {
	switch k {
	case lex.ADD:
		return Add
	case lex.SUB:
		return Sub
	case lex.MUL:
		return Mul
	case lex.DIV:
		return Div
	case lex.MOD:
		return Mod
	case lex.AND:
		return And
	case lex.OR:
		return Or
	case lex.XOR:
		return Xor
	case lex.SHL:
		return Shl
	case lex.SHR:
		return Shr
	case lex.LT:
		return CmpLt
	case lex.GT:
		return CmpGt
	case lex.LE:
		return CmpLe
	case lex.GE:
		return CmpGe
	case lex.EQ:
		return CmpEq
	case lex.NE:
		return CmpNe
	}
	return Nop
}

func (lw *Lowerer) lowerBinary(n *ast.Node) Operand {
	left := n.NthChild(0)
	right := n.NthChild(1)

	switch n.Op {
	case lex.COMMA:
		lw.lowerExpr(left)
		lw.markUnused()
		return lw.lowerExpr(right)
	case lex.LAND:
		return lw.lowerShortCircuit(n, true)
	case lex.LOR:
		return lw.lowerShortCircuit(n, false)
	case lex.LXOR:
		l := lw.lowerExpr(left)
		lb := lw.fn.NewVReg(types.TBool)
		lw.emit(Ins{Op: CmpNe, Res: lb, Arg1: l, Arg2: Imm(0, types.TI64), Line: n.Line})
		r := lw.lowerExpr(right)
		rb := lw.fn.NewVReg(types.TBool)
		lw.emit(Ins{Op: CmpNe, Res: rb, Arg1: r, Arg2: Imm(0, types.TI64), Line: n.Line})
		res := lw.fn.NewVReg(types.TBool)
		lw.emit(Ins{Op: Xor, Res: res, Arg1: lb, Arg2: rb, Line: n.Line})
		return res
	}

	l := lw.lowerExpr(left)
	r := lw.lowerExpr(right)
	op := opForToken(n.Op)
	rt := n.Type
	if rt.Kind == types.Invalid {
		if op.IsCmp() {
			rt = types.TBool
		} else {
			rt = types.BinaryResult(l.Type, r.Type)
		}
	}
	res := lw.fn.NewVReg(rt)
	lw.emit(Ins{Op: op, Res: res, Arg1: l, Arg2: r, Line: n.Line, ArgCnt: 2})
	return res
}

// lowerShortCircuit lowers && and || with the standard skip pattern.
func (lw *Lowerer) lowerShortCircuit(n *ast.Node, isAnd bool) Operand {
	res := lw.fn.NewVReg(types.TBool)
	shortL := lw.fn.NewLabel()
	endL := lw.fn.NewLabel()

	l := lw.lowerExpr(n.NthChild(0))
	if isAnd {
		lw.emit(Ins{Op: JmpFalse, Arg1: l, Arg2: Label(shortL), Line: n.Line})
	} else {
		lw.emit(Ins{Op: JmpTrue, Arg1: l, Arg2: Label(shortL), Line: n.Line})
	}
	r := lw.lowerExpr(n.NthChild(1))
	rb := lw.fn.NewVReg(types.TBool)
	lw.emit(Ins{Op: CmpNe, Res: rb, Arg1: r, Arg2: Imm(0, types.TI64)})
	lw.emit(Ins{Op: Assign, Res: res, Arg1: rb})
	lw.emit(Ins{Op: Jmp, Arg1: Label(endL)})
	lw.label(shortL)
	if isAnd {
		lw.emit(Ins{Op: Assign, Res: res, Arg1: Imm(0, types.TBool)})
	} else {
		lw.emit(Ins{Op: Assign, Res: res, Arg1: Imm(1, types.TBool)})
	}
	lw.label(endL)
	return res
}

// lowerRangeCmp lowers `a op1 b op2 c ...` to the short-circuit AND of
// the adjacent pairwise comparisons, each operand evaluated once in
// left-to-right order.
func (lw *Lowerer) lowerRangeCmp(n *ast.Node) Operand {
	res := lw.fn.NewVReg(types.TBool)
	falseL := lw.fn.NewLabel()
	endL := lw.fn.NewLabel()

	operands := n.Kids()
	prev := lw.lowerExpr(operands[0])
	for i, op := range n.CmpOps {
		next := lw.lowerExpr(operands[i+1])
		c := lw.fn.NewVReg(types.TBool)
		lw.emit(Ins{Op: opForToken(op), Res: c, Arg1: prev, Arg2: next, Line: n.Line, ArgCnt: 2})
		lw.emit(Ins{Op: JmpFalse, Arg1: c, Arg2: Label(falseL)})
		prev = next
	}
	lw.emit(Ins{Op: Assign, Res: res, Arg1: Imm(1, types.TBool)})
	lw.emit(Ins{Op: Jmp, Arg1: Label(endL)})
	lw.label(falseL)
	lw.emit(Ins{Op: Assign, Res: res, Arg1: Imm(0, types.TBool)})
	lw.label(endL)
	return res
}

func (lw *Lowerer) lowerUnary(n *ast.Node) Operand {
	child := n.Child
	switch n.Op {
	case lex.ADD:
		return lw.lowerExpr(child)
	case lex.SUB:
		v := lw.lowerExpr(child)
		res := lw.fn.NewVReg(v.Type)
		lw.emit(Ins{Op: Neg, Res: res, Arg1: v, Line: n.Line})
		return res
	case lex.BITNOT:
		v := lw.lowerExpr(child)
		res := lw.fn.NewVReg(v.Type)
		lw.emit(Ins{Op: Not, Res: res, Arg1: v, Line: n.Line})
		return res
	case lex.NOT:
		v := lw.lowerExpr(child)
		res := lw.fn.NewVReg(types.TBool)
		lw.emit(Ins{Op: LNot, Res: res, Arg1: v, Line: n.Line})
		return res
	case lex.AND:
		place, ok := lw.place(child)
		if !ok {
			lw.rep.Errorf(diag.IR, n.Line, n.Col, "cannot take the address of this expression")
			return None
		}
		res := lw.fn.NewVReg(types.PointerTo(place.Type))
		lw.emit(Ins{Op: Lea, Res: res, Arg1: place, Line: n.Line})
		return res
	case lex.MUL:
		p := lw.lowerExpr(child)
		elem := types.TI64
		if p.Type.Kind == types.Ptr && p.Type.Elem != nil {
			elem = *p.Type.Elem
		}
		res := lw.fn.NewVReg(elem)
		lw.emit(Ins{Op: Load, Res: res, Arg1: p, Size: elem.Width(), Line: n.Line})
		return res
	case lex.INC, lex.DEC:
		return lw.lowerIncDec(n)
	}
	lw.rep.Errorf(diag.IR, n.Line, n.Col, "cannot lower unary %s", n.Op)
	return None
}

func (lw *Lowerer) lowerIncDec(n *ast.Node) Operand {
	place, ok := lw.place(n.Child)
	if !ok {
		lw.rep.Errorf(diag.IR, n.Line, n.Col, "++/-- requires an lvalue")
		return None
	}
	op := Add
	if n.Op == lex.DEC {
		op = Sub
	}

	old := lw.fn.NewVReg(place.Type)
	lw.emit(Ins{Op: Assign, Res: old, Arg1: place, Line: n.Line})
	updated := lw.fn.NewVReg(place.Type)
	lw.emit(Ins{Op: op, Res: updated, Arg1: old, Arg2: Imm(1, types.TI64), Line: n.Line, ArgCnt: 2})
	lw.emit(Ins{Op: Store, Arg1: place, Arg2: updated, Line: n.Line})
	if n.Postfix {
		return old
	}
	return updated
}

// place resolves an lvalue to a Stack or Sym operand.
func (lw *Lowerer) place(n *ast.Node) (Operand, bool) {
	if n == nil {
		return None, false
	}
	if n.Kind == ast.Ident {
		if n.IsLocal {
			return Stack(int64(n.Off), n.Type), true
		}
		if sym := lw.syms.Lookup(n.Ident); sym != nil && sym.Kind == parse.SymVar {
			return Sym(n.Ident, sym.Result), true
		}
	}
	return None, false
}

func (lw *Lowerer) emitStoreVar(n *ast.Node, v Operand) {
	if n.IsLocal {
		lw.emit(Ins{Op: Store, Arg1: Stack(int64(n.Off), n.Type), Arg2: v, Line: n.Line})
	} else {
		lw.emit(Ins{Op: Store, Arg1: Sym(n.Ident, n.Type), Arg2: v, Line: n.Line})
	}
}

func assignOpFor(k lex.Kind) Op {
	switch k {
	case lex.ADD_ASSIGN:
		return AssignAdd
	case lex.SUB_ASSIGN:
		return AssignSub
	case lex.MUL_ASSIGN:
		return AssignMul
	case lex.DIV_ASSIGN:
		return AssignDiv
	case lex.MOD_ASSIGN:
		return AssignMod
	case lex.AND_ASSIGN:
		return AssignAnd
	case lex.OR_ASSIGN:
		return AssignOr
	case lex.XOR_ASSIGN:
		return AssignXor
	case lex.SHL_ASSIGN:
		return AssignShl
	case lex.SHR_ASSIGN:
		return AssignShr
	}
	return Assign
}

func (lw *Lowerer) lowerAssign(n *ast.Node) Operand {
	lhs := n.NthChild(0)
	rhs := n.NthChild(1)

	// Compound assignment loads, applies the operator, and stores.
	compute := func(cur Operand) Operand {
		v := lw.lowerExpr(rhs)
		if n.Op == lex.ASSIGN {
			return v
		}
		res := lw.fn.NewVReg(cur.Type)
		lw.emit(Ins{Op: opForToken(n.Op.CompoundOp()), Res: res, Arg1: cur, Arg2: v, Line: n.Line, ArgCnt: 2})
		return res
	}

	switch lhs.Kind {
	case ast.Ident:
		place, ok := lw.place(lhs)
		if !ok {
			lw.rep.Errorf(diag.IR, n.Line, n.Col, "cannot assign to '%s'", lhs.Ident)
			return None
		}
		var cur Operand
		if n.Op != lex.ASSIGN {
			cur = lw.fn.NewVReg(place.Type)
			lw.emit(Ins{Op: Assign, Res: cur, Arg1: place, Line: n.Line})
		}
		v := compute(cur)
		lw.emit(Ins{Op: Store, Arg1: place, Arg2: v, Line: n.Line})
		return v

	case ast.SubInt:
		base, ok := lw.place(lhs.NthChild(0))
		if !ok {
			lw.rep.Errorf(diag.IR, n.Line, n.Col, "sub-int store requires a variable base")
			return None
		}
		idx := lw.lowerExpr(lhs.NthChild(1))
		width := lhs.MemberType.Width()
		var cur Operand
		if n.Op != lex.ASSIGN {
			cur = lw.fn.NewVReg(lhs.MemberType)
			lw.emit(Ins{Op: LoadSub, Res: cur, Arg1: base, Arg2: idx, Size: width, Line: n.Line})
		}
		v := compute(cur)
		lw.emit(Ins{Op: StoreSub, Arg1: base, Arg2: idx, Res: v, Size: width, Line: n.Line})
		return v

	case ast.UnionMember:
		base, ok := lw.place(lhs.NthChild(0))
		if !ok {
			lw.rep.Errorf(diag.IR, n.Line, n.Col, "union member store requires a variable base")
			return None
		}
		mt, w := unionMemberType(lhs.Ident)
		var cur Operand
		if n.Op != lex.ASSIGN {
			cur = lw.fn.NewVReg(mt)
			lw.emit(Ins{Op: LoadSub, Res: cur, Arg1: base, Arg2: Imm(0, types.TI64), Size: w, Line: n.Line})
		}
		v := compute(cur)
		lw.emit(Ins{Op: StoreSub, Arg1: base, Arg2: Imm(0, types.TI64), Res: v, Size: w, Line: n.Line})
		return v

	case ast.Index:
		addr, elem := lw.lowerIndexAddr(lhs)
		var cur Operand
		if n.Op != lex.ASSIGN {
			cur = lw.fn.NewVReg(elem)
			lw.emit(Ins{Op: Load, Res: cur, Arg1: addr, Size: elem.Width(), Line: n.Line})
		}
		v := compute(cur)
		lw.emit(Ins{Op: Store, Arg1: addr, Arg2: v, Size: elem.Width(), Line: n.Line})
		return v

	case ast.Unary:
		if lhs.Op == lex.MUL {
			p := lw.lowerExpr(lhs.Child)
			elem := types.TI64
			if p.Type.Kind == types.Ptr && p.Type.Elem != nil {
				elem = *p.Type.Elem
			}
			var cur Operand
			if n.Op != lex.ASSIGN {
				cur = lw.fn.NewVReg(elem)
				lw.emit(Ins{Op: Load, Res: cur, Arg1: p, Size: elem.Width(), Line: n.Line})
			}
			v := compute(cur)
			lw.emit(Ins{Op: Store, Arg1: p, Arg2: v, Size: elem.Width(), Line: n.Line})
			return v
		}
	}
	lw.rep.Errorf(diag.IR, n.Line, n.Col, "invalid assignment target %s", lhs.Kind)
	return None
}

func unionMemberType(name string) (types.Type, int) {
	if t, ok := types.SubIntMember(name); ok {
		return t, t.Width()
	}
	if name == "i64" {
		return types.TI64, 8
	}
	return types.TU64, 8
}

// lowerIndexAddr computes the element address of arr[i] as a pointer
// vreg and returns it with the element type.
func (lw *Lowerer) lowerIndexAddr(n *ast.Node) (Operand, types.Type) {
	base := lw.lowerExpr(n.NthChild(0))
	idx := lw.lowerExpr(n.NthChild(1))

	elem := types.TU8
	if base.Type.Kind == types.Ptr && base.Type.Elem != nil {
		elem = *base.Type.Elem
	} else if base.Type.Kind == types.String {
		elem = types.TU8
	}

	scaled := idx
	if w := elem.Width(); w > 1 {
		scaled = lw.fn.NewVReg(types.TI64)
		lw.emit(Ins{Op: Mul, Res: scaled, Arg1: idx, Arg2: Imm(int64(w), types.TI64), ArgCnt: 2, Line: n.Line})
	}
	addr := lw.fn.NewVReg(types.PointerTo(elem))
	lw.emit(Ins{Op: Add, Res: addr, Arg1: base, Arg2: scaled, ArgCnt: 2, Line: n.Line})
	return addr, elem
}

func (lw *Lowerer) lowerSubIntRead(n *ast.Node) Operand {
	base, ok := lw.place(n.NthChild(0))
	if !ok {
		lw.rep.Errorf(diag.IR, n.Line, n.Col, "sub-int access requires a variable base")
		return None
	}
	idx := lw.lowerExpr(n.NthChild(1))
	res := lw.fn.NewVReg(n.MemberType)
	lw.emit(Ins{Op: LoadSub, Res: res, Arg1: base, Arg2: idx, Size: n.MemberType.Width(), Line: n.Line})
	return res
}

func (lw *Lowerer) lowerUnionRead(n *ast.Node) Operand {
	base, ok := lw.place(n.NthChild(0))
	if !ok {
		lw.rep.Errorf(diag.IR, n.Line, n.Col, "union member access requires a variable base")
		return None
	}
	mt, w := unionMemberType(n.Ident)
	res := lw.fn.NewVReg(mt)
	lw.emit(Ins{Op: LoadSub, Res: res, Arg1: base, Arg2: Imm(0, types.TI64), Size: w, Line: n.Line})
	return res
}

func (lw *Lowerer) lowerCondExpr(n *ast.Node) Operand {
	res := lw.fn.NewVReg(types.TI64)
	elseL := lw.fn.NewLabel()
	endL := lw.fn.NewLabel()
	c := lw.lowerExpr(n.NthChild(0))
	lw.emit(Ins{Op: JmpFalse, Arg1: c, Arg2: Label(elseL), Line: n.Line})
	t := lw.lowerExpr(n.NthChild(1))
	lw.emit(Ins{Op: Assign, Res: res, Arg1: t})
	lw.emit(Ins{Op: Jmp, Arg1: Label(endL)})
	lw.label(elseL)
	e := lw.lowerExpr(n.NthChild(2))
	lw.emit(Ins{Op: Assign, Res: res, Arg1: e})
	lw.label(endL)
	return res
}

// lowerCall evaluates arguments left-to-right, pads missing trailing
// arguments with declared defaults, then emits Push per argument and the
// Call.
func (lw *Lowerer) lowerCall(n *ast.Node) Operand {
	sym := lw.syms.Lookup(n.Ident)
	args := n.Kids()

	var vals []Operand
	for _, a := range args {
		vals = append(vals, lw.lowerExpr(a))
	}
	if sym != nil {
		for i := len(vals); i < len(sym.Params); i++ {
			if i < len(sym.Defaults) && sym.Defaults[i] != nil {
				vals = append(vals, lw.lowerExpr(sym.Defaults[i]))
			}
		}
	}

	for i, v := range vals {
		lw.emit(Ins{Op: Push, Arg1: v, StackOff: i, Line: n.Line})
	}

	rt := types.TI64
	if sym != nil {
		rt = sym.Result
	}
	call := Ins{Op: Call, Arg1: Sym(n.Ident, rt), StackOff: len(vals), ArgCnt: len(vals), Line: n.Line}
	if rt.Kind != types.U0 {
		call.Res = lw.fn.NewVReg(rt)
	}
	lw.emit(call)
	return call.Res
}
