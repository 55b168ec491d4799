// Package codegen consumes optimized IR and emits raw x86-64 bytes into
// AOT binary blocks: opcode selection per operation and argument shapes,
// REX/ModRM/SIB computation, displacement width selection, and
// unresolved-reference records for everything the emitter cannot place.
package codegen

import (
	"math"

	"github.com/oisee/holyc-aot/pkg/aot"
	"github.com/oisee/holyc-aot/pkg/diag"
	"github.com/oisee/holyc-aot/pkg/ir"
	"github.com/oisee/holyc-aot/pkg/types"
	"github.com/oisee/holyc-aot/pkg/x64"
)

// Options are the target knobs the driver exposes.
type Options struct {
	Origin  int64
	RIPRel  bool
	ExtRegs bool
	SSE     bool
	AVX     bool
}

// Generator emits one module into one image.
type Generator struct {
	img  *aot.Image
	mod  *ir.Module
	rep  *diag.Reporter
	opts Options

	defs map[string]int64 // symbol -> image offset

	// Per-function state.
	fn          *ir.Func
	labelOffs   map[int64]int64 // label id -> image offset
	labelFixups []labelFixup
	framePad    int64
}

type labelFixup struct {
	fieldOff int64 // image offset of the 4-byte displacement field
	label    int64
}

// Generate emits every function and string constant, then resolves
// symbols. Heap globals collect their reference sites during resolution.
func Generate(mod *ir.Module, rep *diag.Reporter, opts Options) *aot.Image {
	g := &Generator{
		img:  aot.NewImage(opts.Origin),
		mod:  mod,
		rep:  rep,
		opts: opts,
		defs: make(map[string]int64),
	}

	for _, gv := range mod.Globals {
		g.img.AddHeapGlobal(gv.Name, gv.Size)
	}
	for _, fn := range mod.Funcs {
		g.genFunc(fn)
	}
	for _, sc := range mod.Strings {
		g.defs[sc.Label] = g.img.Write(sc.Data)
	}

	g.img.ResolveSymbols(g.defs)
	return g.img
}

// write copies an emitter's bytes into the image and attaches them to the
// instruction so each IR node owns its emitted span.
func (g *Generator) write(ins *ir.Ins, e *x64.Emitter) int64 {
	off := g.img.Write(e.Buf)
	if ins != nil {
		ins.Bytes = e.Buf
	}
	return off
}

func (g *Generator) genFunc(fn *ir.Func) {
	g.fn = fn
	g.labelOffs = make(map[int64]int64)
	g.labelFixups = g.labelFixups[:0]
	g.defs[fn.Name] = g.img.Size()

	frame := int64(fn.FrameSize + fn.SpillBytes)
	g.framePad = 0
	if len(fn.UsedCalleeSave)%2 == 1 {
		g.framePad = 8
	}

	// Prologue.
	e := &x64.Emitter{}
	e.PushReg(x64.RBP)
	e.MovRegReg(x64.RBP, x64.RSP)
	if frame+g.framePad > 0 {
		e.SubRSPImm(frame + g.framePad)
	}
	for _, r := range fn.UsedCalleeSave {
		e.PushReg(r)
	}
	g.write(nil, e)

	for i := range fn.Ins {
		g.genIns(&fn.Ins[i])
	}

	// Patch intra-function jumps.
	for _, fx := range g.labelFixups {
		target, ok := g.labelOffs[fx.label]
		if !ok {
			g.rep.Errorf(diag.Codegen, 0, 0, "undefined label L%d in %s", fx.label, fn.Name)
			continue
		}
		g.img.Patch32(fx.fieldOff, uint32(int32(target-(fx.fieldOff+4))))
	}
}

// epilogue restores callee-save registers and the frame.
func (g *Generator) epilogue(e *x64.Emitter) {
	for i := len(g.fn.UsedCalleeSave) - 1; i >= 0; i-- {
		e.PopReg(g.fn.UsedCalleeSave[i])
	}
	e.Leave()
	e.Ret()
}

// loc returns where a vreg lives.
func (g *Generator) loc(v int64) ir.RegLoc {
	if int(v) < len(g.fn.Alloc) {
		return g.fn.Alloc[v]
	}
	return ir.RegLoc{}
}

// refFixup records a symbol displacement at the last 4 bytes the emitter
// produced, once the emitter's bytes land at insOff.
type refFixup struct {
	rel  int // field offset within the emitter buffer
	name string
	rip  bool
}

// loadTo materializes an operand value into a machine register.
func (g *Generator) loadTo(e *x64.Emitter, dst x64.Reg, o ir.Operand, refs *[]refFixup) {
	switch o.Kind {
	case ir.KImm:
		e.MovImm(dst, o.Val)
	case ir.KFImm:
		e.MovRegImm64(dst, int64(math.Float64bits(o.F)))
	case ir.KStack:
		e.MovLoadRBP(dst, -o.Val, width(o.Type), o.Type.Signed())
	case ir.KVReg:
		l := g.loc(o.Val)
		if l.InReg {
			if l.Reg != dst {
				e.MovRegReg(dst, l.Reg)
			}
		} else {
			e.MovLoadRBP(dst, -int64(l.Spill), 8, true)
		}
	case ir.KSym:
		e.MovLoadRIP(dst, 0)
		*refs = append(*refs, refFixup{rel: len(e.Buf) - 4, name: o.Sym, rip: true})
	case ir.KStr:
		e.LeaRIP(dst, 0)
		*refs = append(*refs, refFixup{rel: len(e.Buf) - 4, name: o.Sym, rip: true})
	case ir.KReg:
		if o.Reg != dst && o.Reg != x64.RegNone {
			e.MovRegReg(dst, o.Reg)
		}
	case ir.KNone:
		e.MovImm(dst, 0)
	}
}

// storeRes moves a value register into the result slot.
func (g *Generator) storeRes(e *x64.Emitter, src x64.Reg, o ir.Operand, refs *[]refFixup) {
	switch o.Kind {
	case ir.KVReg:
		l := g.loc(o.Val)
		if l.InReg {
			if l.Reg != src {
				e.MovRegReg(l.Reg, src)
			}
		} else {
			e.MovStoreRBP(-int64(l.Spill), src, 8)
		}
	case ir.KStack:
		e.MovStoreRBP(-o.Val, src, width(o.Type))
	case ir.KSym:
		e.MovStoreRIP(src, 0)
		*refs = append(*refs, refFixup{rel: len(e.Buf) - 4, name: o.Sym, rip: true})
	}
}

func width(t types.Type) int {
	w := t.Width()
	if w == 0 {
		return 8
	}
	return w
}

// flush writes the emitter and registers any symbol reference fixups at
// their final image offsets.
func (g *Generator) flush(ins *ir.Ins, e *x64.Emitter, refs []refFixup) int64 {
	off := g.write(ins, e)
	for _, r := range refs {
		g.img.AddGlobalRef(r.name, off+int64(r.rel), aot.RefRel32, r.rip)
	}
	return off
}

// jumpField emits a rel32 jump and records the label fixup.
func (g *Generator) jumpField(off int64, bufLen int, label int64) {
	g.labelFixups = append(g.labelFixups, labelFixup{fieldOff: off + int64(bufLen) - 4, label: label})
}

func condFor(op ir.Op, unsigned bool) x64.Cond {
	if unsigned {
		switch op {
		case ir.CmpLt:
			return x64.CondB
		case ir.CmpGt:
			return x64.CondA
		case ir.CmpLe:
			return x64.CondBE
		case ir.CmpGe:
			return x64.CondAE
		}
	}
	switch op {
	case ir.CmpLt:
		return x64.CondL
	case ir.CmpGt:
		return x64.CondG
	case ir.CmpLe:
		return x64.CondLE
	case ir.CmpGe:
		return x64.CondGE
	case ir.CmpEq:
		return x64.CondE
	default:
		return x64.CondNE
	}
}

func (g *Generator) genIns(ins *ir.Ins) {
	var refs []refFixup
	e := &x64.Emitter{}

	switch ins.Op {
	case ir.Nop:
		return
	case ir.LabelOp:
		g.labelOffs[ins.Arg1.Val] = g.img.Size()
		return

	case ir.Add, ir.Sub, ir.Mul, ir.And, ir.Or, ir.Xor:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		g.loadTo(e, x64.R11, ins.Arg2, &refs)
		switch ins.Op {
		case ir.Add:
			e.ALURegReg(x64.OpAdd, x64.RAX, x64.R11)
		case ir.Sub:
			e.ALURegReg(x64.OpSub, x64.RAX, x64.R11)
		case ir.Mul:
			e.IMulRegReg(x64.RAX, x64.R11)
		case ir.And:
			e.ALURegReg(x64.OpAnd, x64.RAX, x64.R11)
		case ir.Or:
			e.ALURegReg(x64.OpOr, x64.RAX, x64.R11)
		case ir.Xor:
			e.ALURegReg(x64.OpXor, x64.RAX, x64.R11)
		}
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.Div, ir.Mod:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		g.loadTo(e, x64.R11, ins.Arg2, &refs)
		unsigned := !ins.Arg1.Type.Signed() || !ins.Arg2.Type.Signed()
		if unsigned {
			e.MovImm(x64.RDX, 0)
			e.DivReg(x64.R11)
		} else {
			e.CQO()
			e.IDivReg(x64.R11)
		}
		if ins.Op == ir.Mod {
			e.MovRegReg(x64.RAX, x64.RDX)
		}
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.Shl, ir.Shr:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		g.loadTo(e, x64.RCX, ins.Arg2, &refs)
		ext := x64.ExtShl
		if ins.Op == ir.Shr {
			ext = x64.ExtShr
			if ins.Arg1.Type.Signed() {
				ext = x64.ExtSar
			}
		}
		e.ShiftCL(ext, x64.RAX)
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.Neg:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		e.NegReg(x64.RAX)
		g.storeRes(e, x64.RAX, ins.Res, &refs)
	case ir.Not:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		e.NotReg(x64.RAX)
		g.storeRes(e, x64.RAX, ins.Res, &refs)
	case ir.LNot:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		e.TestRegReg(x64.RAX, x64.RAX)
		e.SetCC(x64.CondE, x64.RAX)
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.CmpLt, ir.CmpGt, ir.CmpLe, ir.CmpGe, ir.CmpEq, ir.CmpNe:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		g.loadTo(e, x64.R11, ins.Arg2, &refs)
		e.ALURegReg(x64.OpCmp, x64.RAX, x64.R11)
		unsigned := !ins.Arg1.Type.Signed() && ins.Arg1.Type.IsInt() ||
			!ins.Arg2.Type.Signed() && ins.Arg2.Type.IsInt()
		e.SetCC(condFor(ins.Op, unsigned), x64.RAX)
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.Assign:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.Store:
		g.genStore(e, ins, &refs)

	case ir.Load:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		sz := ins.Size
		if sz == 0 {
			sz = 8
		}
		e.MovLoadSIB(x64.RAX, x64.RAX, x64.RegNone, 1, 0, sz, ins.Res.Type.Signed())
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.Lea:
		g.genLea(e, ins.Res, ins.Arg1, &refs)

	case ir.LoadSub:
		g.genSubAddr(e, ins.Arg1, ins.Arg2, ins.Size, &refs)
		e.MovLoadSIB(x64.RAX, x64.RAX, x64.R11, ins.Size, 0, ins.Size, ins.Res.Type.Signed())
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.StoreSub:
		g.genSubAddr(e, ins.Arg1, ins.Arg2, ins.Size, &refs)
		g.loadTo(e, x64.R10, ins.Res, &refs)
		e.MovStoreSIB(x64.RAX, x64.R11, ins.Size, 0, x64.R10, ins.Size)

	case ir.Cast:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		if w := width(ins.Res.Type); w < 8 {
			e.MovExt(x64.RAX, x64.RAX, w, ins.Res.Type.Signed())
		}
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.Jmp:
		e.JmpRel(0)
		off := g.flush(ins, e, refs)
		g.jumpField(off, len(e.Buf), ins.Arg1.Val)
		return
	case ir.JmpTrue, ir.JmpFalse:
		if ins.Prec == 1 && ins.Arg1.Kind == ir.KReg && ins.Arg1.Reg == x64.RegNone {
			// Flag-based conditional jump from inline assembly.
			e.JccRel(x64.Cond(ins.Opcode), 0)
			off := g.flush(ins, e, refs)
			g.jumpField(off, len(e.Buf), ins.Arg2.Val)
			return
		}
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		e.TestRegReg(x64.RAX, x64.RAX)
		cond := x64.CondNE
		if ins.Op == ir.JmpFalse {
			cond = x64.CondE
		}
		e.JccRel(cond, 0)
		off := g.flush(ins, e, refs)
		g.jumpField(off, len(e.Buf), ins.Arg2.Val)
		return

	case ir.Push:
		if ins.StackOff < len(x64.ArgRegs) {
			g.loadTo(e, x64.ArgRegs[ins.StackOff], ins.Arg1, &refs)
		} else {
			g.rep.Errorf(diag.Codegen, ins.Line, 0,
				"argument %d exceeds the register argument limit", ins.StackOff+1)
		}

	case ir.Call:
		e.CallRel(0)
		refs = append(refs, refFixup{rel: len(e.Buf) - 4, name: ins.Arg1.Sym})
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.Ret:
		if ins.Arg1.Kind != ir.KNone {
			g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		} else {
			e.MovImm(x64.RAX, 0)
		}
		g.epilogue(e)

	case ir.TryEnter:
		e.LeaRIP(x64.RDI, 0)
		off0 := len(e.Buf) - 4
		e.CallRel(0)
		refs = append(refs, refFixup{rel: len(e.Buf) - 4, name: "__TryEnter"})
		off := g.flush(ins, e, refs)
		g.labelFixups = append(g.labelFixups, labelFixup{fieldOff: off + int64(off0), label: ins.Arg1.Val})
		return
	case ir.TryExit:
		e.CallRel(0)
		refs = append(refs, refFixup{rel: len(e.Buf) - 4, name: "__TryExit"})
	case ir.ThrowOp:
		g.loadTo(e, x64.RDI, ins.Arg1, &refs)
		e.CallRel(0)
		refs = append(refs, refFixup{rel: len(e.Buf) - 4, name: "__Throw"})

	case ir.AsmInline:
		e.Buf = append(e.Buf, ins.Body...)

	case ir.DotDot, ir.DollarOp:
		g.loadTo(e, x64.RAX, ins.Arg1, &refs)
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.ClassAccess:
		e.MovImm(x64.RAX, 0)
		g.storeRes(e, x64.RAX, ins.Res, &refs)

	case ir.Pop, ir.Builtin, ir.AsmRegAlloc, ir.AsmMemAccess, ir.AsmImm,
		ir.AsmJumpTable, ir.AotStore, ir.AotResolve, ir.AotPatch:
		// Never produced by the lowerer for this target.
		return

	default:
		g.rep.Errorf(diag.Codegen, ins.Line, 0, "cannot encode IR op %s", ins.Op)
		return
	}

	g.flush(ins, e, refs)
}

// genStore handles the three Store shapes: frame slot, global symbol, and
// pointer target.
func (g *Generator) genStore(e *x64.Emitter, ins *ir.Ins, refs *[]refFixup) {
	switch ins.Arg1.Kind {
	case ir.KStack:
		g.loadTo(e, x64.RAX, ins.Arg2, refs)
		e.MovStoreRBP(-ins.Arg1.Val, x64.RAX, width(ins.Arg1.Type))
	case ir.KSym:
		g.loadTo(e, x64.RAX, ins.Arg2, refs)
		e.MovStoreRIP(x64.RAX, 0)
		*refs = append(*refs, refFixup{rel: len(e.Buf) - 4, name: ins.Arg1.Sym, rip: true})
	default:
		// Pointer store: Arg1 holds the target address.
		g.loadTo(e, x64.RAX, ins.Arg1, refs)
		g.loadTo(e, x64.R11, ins.Arg2, refs)
		sz := ins.Size
		if sz == 0 {
			sz = 8
		}
		e.MovStoreSIB(x64.RAX, x64.RegNone, 1, 0, x64.R11, sz)
	}
}

// genLea computes the address of a place into the result.
func (g *Generator) genLea(e *x64.Emitter, res, place ir.Operand, refs *[]refFixup) {
	switch place.Kind {
	case ir.KStack:
		e.LeaRBP(x64.RAX, -place.Val)
	case ir.KSym:
		e.LeaRIP(x64.RAX, 0)
		*refs = append(*refs, refFixup{rel: len(e.Buf) - 4, name: place.Sym, rip: true})
	default:
		g.loadTo(e, x64.RAX, place, refs)
	}
	g.storeRes(e, x64.RAX, res, refs)
}

// genSubAddr leaves the base address in RAX and the element index in R11
// for a sub-int access.
func (g *Generator) genSubAddr(e *x64.Emitter, base, idx ir.Operand, size int, refs *[]refFixup) {
	switch base.Kind {
	case ir.KStack:
		e.LeaRBP(x64.RAX, -base.Val)
	case ir.KSym:
		e.LeaRIP(x64.RAX, 0)
		*refs = append(*refs, refFixup{rel: len(e.Buf) - 4, name: base.Sym, rip: true})
	default:
		g.loadTo(e, x64.RAX, base, refs)
	}
	g.loadTo(e, x64.R11, idx, refs)
	_ = size
}
