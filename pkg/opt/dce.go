package opt

import "github.com/oisee/holyc-aot/pkg/ir"

// eliminateDead is the value half of pass 5: drop instructions whose
// result virtual register is never read and whose op has no side effect.
// Runs to a fixed point so chains of dead computations unravel.
func eliminateDead(fn *ir.Func) {
	for {
		uses := make(map[int64]int)
		for i := range fn.Ins {
			ins := &fn.Ins[i]
			if ins.Arg1.Kind == ir.KVReg {
				uses[ins.Arg1.Val]++
			}
			if ins.Arg2.Kind == ir.KVReg {
				uses[ins.Arg2.Val]++
			}
			// StoreSub carries the stored value in the result slot.
			if ins.Op == ir.StoreSub && ins.Res.Kind == ir.KVReg {
				uses[ins.Res.Val]++
			}
		}
		removed := false
		out := fn.Ins[:0]
		for _, ins := range fn.Ins {
			dead := !ins.Op.HasSideEffect() &&
				ins.Res.Kind == ir.KVReg && uses[ins.Res.Val] == 0
			if dead {
				removed = true
				continue
			}
			out = append(out, ins)
		}
		fn.Ins = out
		if !removed {
			return
		}
	}
}

// eliminateUnreachable is the flow half of pass 5: code between an
// unconditional transfer (jmp, ret, throw) and the next label can never
// execute.
func eliminateUnreachable(fn *ir.Func) {
	out := fn.Ins[:0]
	unreachable := false
	for _, ins := range fn.Ins {
		if ins.Op == ir.LabelOp {
			unreachable = false
		}
		if unreachable {
			continue
		}
		out = append(out, ins)
		switch ins.Op {
		case ir.Jmp, ir.Ret, ir.ThrowOp:
			unreachable = true
		}
	}
	fn.Ins = out
}

// foldBranches is pass 6: tail-jump folding and jump-to-next collapsing.
func foldBranches(fn *ir.Func) {
	// Map each label to the index of its LabelOp.
	labelAt := map[int64]int{}
	for i := range fn.Ins {
		if fn.Ins[i].Op == ir.LabelOp {
			labelAt[fn.Ins[i].Arg1.Val] = i
		}
	}

	// nextReal returns the first non-label instruction at or after idx.
	nextReal := func(idx int) (int, bool) {
		for i := idx; i < len(fn.Ins); i++ {
			if fn.Ins[i].Op != ir.LabelOp {
				return i, true
			}
		}
		return 0, false
	}

	// Tail-jump folding: a jump to a label whose body is another jump
	// retargets to the final destination.
	retarget := func(label int64) int64 {
		seen := map[int64]bool{}
		for {
			if seen[label] {
				return label // cycle guard
			}
			seen[label] = true
			at, ok := labelAt[label]
			if !ok {
				return label
			}
			ni, ok := nextReal(at + 1)
			if !ok || fn.Ins[ni].Op != ir.Jmp {
				return label
			}
			label = fn.Ins[ni].Arg1.Val
		}
	}
	for i := range fn.Ins {
		ins := &fn.Ins[i]
		switch ins.Op {
		case ir.Jmp:
			ins.Arg1.Val = retarget(ins.Arg1.Val)
		case ir.JmpTrue, ir.JmpFalse:
			ins.Arg2.Val = retarget(ins.Arg2.Val)
		case ir.TryEnter:
			ins.Arg1.Val = retarget(ins.Arg1.Val)
		}
	}

	// Jump-to-next collapsing: drop a jump whose target label follows
	// immediately (only labels between).
	out := fn.Ins[:0]
	for i, ins := range fn.Ins {
		if ins.Op == ir.Jmp {
			fallsThrough := false
			for j := i + 1; j < len(fn.Ins); j++ {
				if fn.Ins[j].Op != ir.LabelOp {
					break
				}
				if fn.Ins[j].Arg1.Val == ins.Arg1.Val {
					fallsThrough = true
					break
				}
			}
			if fallsThrough {
				continue
			}
		}
		out = append(out, ins)
	}
	fn.Ins = out
}
