// Package opt runs the numbered optimization passes 0-9 over lowered IR.
// Passes execute in ascending order and each is individually toggleable;
// every pass is idempotent at its own number.
package opt

import (
	"github.com/oisee/holyc-aot/pkg/ir"
	"github.com/oisee/holyc-aot/pkg/types"
)

// Mask selects which passes run; bit N enables pass N.
type Mask uint16

// AllPasses enables passes 0-9.
const AllPasses Mask = 0x3FF

// Enabled reports whether pass n is on.
func (m Mask) Enabled(n int) bool {
	return m&(1<<uint(n)) != 0
}

// Without clears pass n.
func (m Mask) Without(n int) Mask {
	return m &^ (1 << uint(n))
}

// Options carries the pass toggles and target knobs.
type Options struct {
	Passes  Mask
	ExtRegs bool
}

// Run executes the enabled passes over every function:
//
//	0  constant folding
//	1  constant propagation (straight-line)
//	2  type determination
//	3  linear-scan register allocation
//	4  memory layout (frame alignment)
//	5  dead-code and unreachable-code elimination
//	6  branch and loop optimization
//	7  instruction sizing
//	8  nop compaction
//	9  emission preparation
func Run(m *ir.Module, opts Options) {
	for _, fn := range m.Funcs {
		if opts.Passes.Enabled(0) {
			foldConstants(fn)
		}
		if opts.Passes.Enabled(1) {
			propagateConstants(fn)
			foldConstants(fn)
		}
		if opts.Passes.Enabled(2) {
			determineTypes(fn)
		}
		if opts.Passes.Enabled(3) {
			allocate(fn, opts.ExtRegs)
		}
		if opts.Passes.Enabled(4) {
			layoutFrame(fn)
		}
		if opts.Passes.Enabled(5) {
			eliminateDead(fn)
			eliminateUnreachable(fn)
		}
		if opts.Passes.Enabled(6) {
			foldBranches(fn)
		}
		if opts.Passes.Enabled(7) {
			sizeInstructions(fn)
		}
		if opts.Passes.Enabled(8) {
			compactNops(fn)
		}
		if opts.Passes.Enabled(9) {
			prepareEmission(fn)
		}
	}
}

// determineTypes fills untyped operand slots with the default I64 so
// codegen never sees an Invalid type.
func determineTypes(fn *ir.Func) {
	fix := func(o *ir.Operand) {
		if o.Kind != ir.KNone && o.Type.Kind == types.Invalid {
			o.Type = types.TI64
		}
	}
	for i := range fn.Ins {
		fix(&fn.Ins[i].Arg1)
		fix(&fn.Ins[i].Arg2)
		fix(&fn.Ins[i].Res)
	}
}

// layoutFrame aligns the frame (declared slots plus spill area) to the
// 16-byte ABI boundary.
func layoutFrame(fn *ir.Func) {
	total := fn.FrameSize + fn.SpillBytes
	if rem := total % 16; rem != 0 {
		total += 16 - rem
	}
	fn.FrameSize = total - fn.SpillBytes
}

// sizeInstructions estimates the encoded byte size of each instruction.
// No later pass and not the image writer reads the estimates. Load, Store,
// LoadSub and StoreSub keep their Size, which holds the memory access width
// that codegen encodes.
func sizeInstructions(fn *ir.Func) {
	for i := range fn.Ins {
		ins := &fn.Ins[i]
		switch ins.Op {
		case ir.Load, ir.Store, ir.LoadSub, ir.StoreSub:
			// Size is the access width; leave it for codegen.
		case ir.LabelOp, ir.Nop:
			ins.Size = 0
		case ir.AsmInline:
			ins.Size = len(ins.Body)
		case ir.Jmp:
			ins.Size = 5
		case ir.JmpTrue, ir.JmpFalse:
			ins.Size = 10 // test + jcc upper bound
		case ir.Call:
			ins.Size = 5 + 10*ins.ArgCnt
		default:
			ins.Size = 15 // x86-64 maximum
		}
	}
}

// compactNops drops Nop instructions left behind by earlier passes.
func compactNops(fn *ir.Func) {
	out := fn.Ins[:0]
	for _, ins := range fn.Ins {
		if ins.Op == ir.Nop {
			continue
		}
		out = append(out, ins)
	}
	fn.Ins = out
}

// prepareEmission is the final pass: normalize argument counts so the
// code generator can trust ArgCnt without re-deriving it.
func prepareEmission(fn *ir.Func) {
	for i := range fn.Ins {
		ins := &fn.Ins[i]
		if ins.ArgCnt == 0 {
			n := 0
			if ins.Arg1.Kind != ir.KNone {
				n++
			}
			if ins.Arg2.Kind != ir.KNone {
				n++
			}
			ins.ArgCnt = n
		}
	}
}
