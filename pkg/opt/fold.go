package opt

import (
	"github.com/oisee/holyc-aot/pkg/ir"
	"github.com/oisee/holyc-aot/pkg/types"
)

// evalBinary computes a pure binary op over two integer immediates.
func evalBinary(op ir.Op, a, b int64, unsigned bool) (int64, bool) {
	switch op {
	case ir.Add:
		return a + b, true
	case ir.Sub:
		return a - b, true
	case ir.Mul:
		return a * b, true
	case ir.Div:
		if b == 0 {
			return 0, false
		}
		if unsigned {
			return int64(uint64(a) / uint64(b)), true
		}
		return a / b, true
	case ir.Mod:
		if b == 0 {
			return 0, false
		}
		if unsigned {
			return int64(uint64(a) % uint64(b)), true
		}
		return a % b, true
	case ir.And:
		return a & b, true
	case ir.Or:
		return a | b, true
	case ir.Xor:
		return a ^ b, true
	case ir.Shl:
		return a << uint(b&63), true
	case ir.Shr:
		if unsigned {
			return int64(uint64(a) >> uint(b&63)), true
		}
		return a >> uint(b&63), true
	case ir.CmpLt:
		return b2i(lt(a, b, unsigned)), true
	case ir.CmpGt:
		return b2i(lt(b, a, unsigned)), true
	case ir.CmpLe:
		return b2i(!lt(b, a, unsigned)), true
	case ir.CmpGe:
		return b2i(!lt(a, b, unsigned)), true
	case ir.CmpEq:
		return b2i(a == b), true
	case ir.CmpNe:
		return b2i(a != b), true
	}
	return 0, false
}

func lt(a, b int64, unsigned bool) bool {
	if unsigned {
		return uint64(a) < uint64(b)
	}
	return a < b
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// foldConstants is pass 0: pure arithmetic over literal operands becomes
// an Assign of the computed immediate.
func foldConstants(fn *ir.Func) {
	for i := range fn.Ins {
		ins := &fn.Ins[i]
		switch {
		case ins.ArgCnt == 2 && ins.Arg1.Kind == ir.KImm && ins.Arg2.Kind == ir.KImm:
			unsigned := !ins.Arg1.Type.Signed() || !ins.Arg2.Type.Signed()
			v, ok := evalBinary(ins.Op, ins.Arg1.Val, ins.Arg2.Val, unsigned)
			if !ok {
				continue
			}
			rt := ins.Res.Type
			if ins.Op.IsCmp() {
				rt = types.TBool
			}
			*ins = ir.Ins{Op: ir.Assign, Res: ins.Res, Arg1: ir.Imm(v, rt), Line: ins.Line,
				ResultUnused: ins.ResultUnused}
		case ins.Arg1.Kind == ir.KImm && ins.Arg2.Kind == ir.KNone:
			v := ins.Arg1.Val
			switch ins.Op {
			case ir.Neg:
				v = -v
			case ir.Not:
				v = ^v
			case ir.LNot:
				v = b2i(v == 0)
			case ir.Cast:
				v = truncate(v, ins.Res.Type)
			default:
				continue
			}
			*ins = ir.Ins{Op: ir.Assign, Res: ins.Res, Arg1: ir.Imm(v, ins.Res.Type), Line: ins.Line,
				ResultUnused: ins.ResultUnused}
		}
	}
}

// truncate narrows a value to the width and signedness of t.
func truncate(v int64, t types.Type) int64 {
	switch t.Kind {
	case types.I8:
		return int64(int8(v))
	case types.U8:
		return int64(uint8(v))
	case types.I16:
		return int64(int16(v))
	case types.U16:
		return int64(uint16(v))
	case types.I32:
		return int64(int32(v))
	case types.U32:
		return int64(uint32(v))
	case types.Bool:
		return b2i(v != 0)
	}
	return v
}

// propagateConstants is pass 1: within straight-line code, a vreg assigned
// a literal, or computed by pure arithmetic over two literals, is replaced
// by that literal in later reads. Knowledge resets at labels
// and after branches because another path may join.
func propagateConstants(fn *ir.Func) {
	known := map[int64]ir.Operand{}
	sub := func(o *ir.Operand) {
		if o.Kind == ir.KVReg {
			if c, ok := known[o.Val]; ok {
				t := o.Type
				*o = c
				if t.Kind != types.Invalid {
					o.Type = t
				}
			}
		}
	}
	for i := range fn.Ins {
		ins := &fn.Ins[i]
		switch ins.Op {
		case ir.LabelOp, ir.Jmp, ir.JmpTrue, ir.JmpFalse, ir.Call, ir.TryEnter:
			sub(&ins.Arg1)
			known = map[int64]ir.Operand{}
			continue
		}
		sub(&ins.Arg1)
		sub(&ins.Arg2)
		if ins.Res.Kind == ir.KVReg {
			if ins.Op == ir.Assign && ins.Arg1.Kind == ir.KImm {
				known[ins.Res.Val] = ins.Arg1
			} else if ins.ArgCnt == 2 && ins.Arg1.Kind == ir.KImm && ins.Arg2.Kind == ir.KImm {
				unsigned := !ins.Arg1.Type.Signed() || !ins.Arg2.Type.Signed()
				if v, ok := evalBinary(ins.Op, ins.Arg1.Val, ins.Arg2.Val, unsigned); ok {
					rt := ins.Res.Type
					if ins.Op.IsCmp() {
						rt = types.TBool
					}
					known[ins.Res.Val] = ir.Imm(v, rt)
				} else {
					delete(known, ins.Res.Val)
				}
			} else {
				delete(known, ins.Res.Val)
			}
		}
	}
}
