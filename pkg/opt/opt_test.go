package opt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/oisee/holyc-aot/pkg/ir"
	"github.com/oisee/holyc-aot/pkg/types"
	"github.com/oisee/holyc-aot/pkg/x64"
)

// buildFunc assembles a function from instructions with vreg bookkeeping.
func buildFunc(numVRegs int, ins ...ir.Ins) *ir.Func {
	fn := &ir.Func{Name: "t", NumVRegs: numVRegs, Result: types.TI64}
	fn.Ins = append(fn.Ins, ins...)
	return fn
}

func ops(fn *ir.Func) []ir.Op {
	out := make([]ir.Op, len(fn.Ins))
	for i := range fn.Ins {
		out[i] = fn.Ins[i].Op
	}
	return out
}

// TestFoldArithmetic verifies pass 0 turns literal arithmetic into
// assignments of the computed value.
func TestFoldArithmetic(t *testing.T) {
	tests := []struct {
		op   ir.Op
		a, b int64
		want int64
	}{
		{ir.Add, 1, 2, 3},
		{ir.Sub, 10, 4, 6},
		{ir.Mul, 2, 3, 6},
		{ir.Div, 20, 5, 4},
		{ir.Mod, 7, 3, 1},
		{ir.Shl, 1, 8, 256},
		{ir.Shr, 256, 4, 16},
		{ir.And, 0xFF, 0x0F, 0x0F},
		{ir.Or, 1, 2, 3},
		{ir.Xor, 5, 3, 6},
		{ir.CmpLt, 1, 2, 1},
		{ir.CmpGe, 1, 2, 0},
		{ir.CmpEq, 5, 5, 1},
	}
	for _, tc := range tests {
		fn := buildFunc(1, ir.Ins{
			Op: tc.op, ArgCnt: 2,
			Arg1: ir.Imm(tc.a, types.TI64), Arg2: ir.Imm(tc.b, types.TI64),
			Res: ir.VReg(0, types.TI64),
		})
		foldConstants(fn)
		if fn.Ins[0].Op != ir.Assign {
			t.Errorf("%s: not folded", tc.op)
			continue
		}
		if fn.Ins[0].Arg1.Val != tc.want {
			t.Errorf("%s(%d,%d): got %d want %d", tc.op, tc.a, tc.b, fn.Ins[0].Arg1.Val, tc.want)
		}
	}
}

// TestFoldDivByZero verifies division by a literal zero is left alone.
func TestFoldDivByZero(t *testing.T) {
	fn := buildFunc(1, ir.Ins{
		Op: ir.Div, ArgCnt: 2,
		Arg1: ir.Imm(1, types.TI64), Arg2: ir.Imm(0, types.TI64),
		Res: ir.VReg(0, types.TI64),
	})
	foldConstants(fn)
	if fn.Ins[0].Op != ir.Div {
		t.Fatal("division by zero must not fold")
	}
}

// TestFoldUnsigned verifies unsigned semantics in folded comparisons and
// shifts.
func TestFoldUnsigned(t *testing.T) {
	// 0xFFFFFFFFFFFFFFFF as U64 is huge, not -1: u64max > 1.
	fn := buildFunc(1, ir.Ins{
		Op: ir.CmpGt, ArgCnt: 2,
		Arg1: ir.Imm(-1, types.TU64), Arg2: ir.Imm(1, types.TU64),
		Res: ir.VReg(0, types.TBool),
	})
	foldConstants(fn)
	if fn.Ins[0].Op != ir.Assign || fn.Ins[0].Arg1.Val != 1 {
		t.Fatal("unsigned compare folded wrong")
	}
}

// TestPropagationChain verifies pass 1 + pass 0 collapse 1+2*3 into the
// literal 7 (the §8 scenario shape).
func TestPropagationChain(t *testing.T) {
	fn := buildFunc(2,
		ir.Ins{Op: ir.Mul, ArgCnt: 2, Arg1: ir.Imm(2, types.TI64), Arg2: ir.Imm(3, types.TI64), Res: ir.VReg(0, types.TI64)},
		ir.Ins{Op: ir.Add, ArgCnt: 2, Arg1: ir.Imm(1, types.TI64), Arg2: ir.VReg(0, types.TI64), Res: ir.VReg(1, types.TI64)},
		ir.Ins{Op: ir.Ret, Arg1: ir.VReg(1, types.TI64)},
	)
	foldConstants(fn)
	propagateConstants(fn)
	foldConstants(fn)
	if fn.Ins[2].Arg1.Kind != ir.KImm || fn.Ins[2].Arg1.Val != 7 {
		t.Fatalf("return value not propagated to 7: %v", fn.Ins[2])
	}
	eliminateDead(fn)
	for _, ins := range fn.Ins {
		if ins.Op == ir.Mul || ins.Op == ir.Add {
			t.Fatalf("arithmetic should be eliminated, still have %s", ins.Op)
		}
	}
}

// TestPropagationStopsAtLabel verifies knowledge resets at join points.
func TestPropagationStopsAtLabel(t *testing.T) {
	fn := buildFunc(2,
		ir.Ins{Op: ir.Assign, Arg1: ir.Imm(5, types.TI64), Res: ir.VReg(0, types.TI64)},
		ir.Ins{Op: ir.LabelOp, Arg1: ir.Label(0)},
		ir.Ins{Op: ir.Add, ArgCnt: 2, Arg1: ir.VReg(0, types.TI64), Arg2: ir.Imm(1, types.TI64), Res: ir.VReg(1, types.TI64)},
	)
	propagateConstants(fn)
	if fn.Ins[2].Arg1.Kind != ir.KVReg {
		t.Fatal("propagation must not cross a label")
	}
}

// TestDeadCodeElimination verifies pure dead results vanish while side
// effects stay.
func TestDeadCodeElimination(t *testing.T) {
	fn := buildFunc(2,
		ir.Ins{Op: ir.Add, ArgCnt: 2, Arg1: ir.Imm(1, types.TI64), Arg2: ir.Imm(2, types.TI64), Res: ir.VReg(0, types.TI64), ResultUnused: true},
		ir.Ins{Op: ir.Call, Arg1: ir.Sym("Print", types.Void), Res: ir.VReg(1, types.TI64)},
		ir.Ins{Op: ir.Ret, Arg1: ir.Imm(0, types.TI64)},
	)
	eliminateDead(fn)
	want := []ir.Op{ir.Call, ir.Ret}
	if diff := cmp.Diff(want, ops(fn)); diff != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", diff)
	}
}

// TestUnreachableElimination verifies code after an unconditional jump is
// removed up to the next label.
func TestUnreachableElimination(t *testing.T) {
	fn := buildFunc(0,
		ir.Ins{Op: ir.Jmp, Arg1: ir.Label(1)},
		ir.Ins{Op: ir.Assign, Arg1: ir.Imm(1, types.TI64), Res: ir.Stack(8, types.TI64)},
		ir.Ins{Op: ir.LabelOp, Arg1: ir.Label(1)},
		ir.Ins{Op: ir.Ret, Arg1: ir.Imm(0, types.TI64)},
	)
	eliminateUnreachable(fn)
	want := []ir.Op{ir.Jmp, ir.LabelOp, ir.Ret}
	if diff := cmp.Diff(want, ops(fn)); diff != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", diff)
	}
}

// TestBranchFolding verifies tail-jump retargeting and jump-to-next
// collapsing.
func TestBranchFolding(t *testing.T) {
	// jmp L0; label L0: jmp L1; ... -> the first jump goes straight to L1.
	fn := buildFunc(0,
		ir.Ins{Op: ir.Jmp, Arg1: ir.Label(0)},
		ir.Ins{Op: ir.LabelOp, Arg1: ir.Label(0)},
		ir.Ins{Op: ir.Jmp, Arg1: ir.Label(1)},
		ir.Ins{Op: ir.LabelOp, Arg1: ir.Label(1)},
		ir.Ins{Op: ir.Ret, Arg1: ir.Imm(0, types.TI64)},
	)
	foldBranches(fn)
	if fn.Ins[0].Op == ir.Jmp && fn.Ins[0].Arg1.Val != 1 {
		t.Fatalf("tail jump not folded: %v", fn.Ins[0])
	}

	// jmp to the immediately following label disappears.
	fn = buildFunc(0,
		ir.Ins{Op: ir.Jmp, Arg1: ir.Label(3)},
		ir.Ins{Op: ir.LabelOp, Arg1: ir.Label(3)},
		ir.Ins{Op: ir.Ret, Arg1: ir.Imm(0, types.TI64)},
	)
	foldBranches(fn)
	for _, ins := range fn.Ins {
		if ins.Op == ir.Jmp {
			t.Fatal("jump-to-next should be removed")
		}
	}
}

// TestRegallocBasic verifies values land in callee-save registers and
// exhaustion spills with the flag set.
func TestRegallocBasic(t *testing.T) {
	fn := buildFunc(2,
		ir.Ins{Op: ir.Assign, Arg1: ir.Imm(1, types.TI64), Res: ir.VReg(0, types.TI64)},
		ir.Ins{Op: ir.Assign, Arg1: ir.Imm(2, types.TI64), Res: ir.VReg(1, types.TI64)},
		ir.Ins{Op: ir.Add, ArgCnt: 2, Arg1: ir.VReg(0, types.TI64), Arg2: ir.VReg(1, types.TI64), Res: ir.VReg(0, types.TI64)},
	)
	allocate(fn, true)
	if len(fn.Alloc) != 2 {
		t.Fatalf("alloc table size %d, want 2", len(fn.Alloc))
	}
	for v, loc := range fn.Alloc {
		if !loc.InReg {
			t.Errorf("v%d spilled with registers to spare", v)
		}
	}
	if fn.RegsSpilled {
		t.Error("no spill expected")
	}
}

// TestRegallocSpill verifies exhaustion falls back to frame slots rather
// than failing.
func TestRegallocSpill(t *testing.T) {
	const n = 12
	var ins []ir.Ins
	for i := 0; i < n; i++ {
		ins = append(ins, ir.Ins{Op: ir.Assign, Arg1: ir.Imm(int64(i), types.TI64), Res: ir.VReg(int64(i), types.TI64)})
	}
	// One instruction reading them all keeps every range alive to the end.
	for i := 0; i < n; i++ {
		ins = append(ins, ir.Ins{Op: ir.Add, ArgCnt: 2,
			Arg1: ir.VReg(int64(i), types.TI64), Arg2: ir.Imm(1, types.TI64),
			Res: ir.VReg(int64(i), types.TI64)})
	}
	// Reverse order reads force full overlap.
	for i := n - 1; i >= 0; i-- {
		ins = append(ins, ir.Ins{Op: ir.Push, Arg1: ir.VReg(int64(i), types.TI64), StackOff: 0})
	}
	fn := buildFunc(n, ins...)
	fn.FrameSize = 16
	allocate(fn, true)
	if !fn.RegsSpilled {
		t.Fatal("expected spills with 12 overlapping live ranges")
	}
	if fn.SpillBytes == 0 {
		t.Fatal("spill bytes not accounted")
	}
	for v, loc := range fn.Alloc {
		if !loc.InReg && loc.Spill <= fn.FrameSize-8 {
			t.Errorf("v%d spill slot %d collides with declared frame", v, loc.Spill)
		}
	}
}

// TestRegallocCalleeSaveTracked verifies used callee-save registers are
// reported for the prologue.
func TestRegallocCalleeSaveTracked(t *testing.T) {
	fn := buildFunc(1,
		ir.Ins{Op: ir.Assign, Arg1: ir.Imm(1, types.TI64), Res: ir.VReg(0, types.TI64)},
		ir.Ins{Op: ir.Push, Arg1: ir.VReg(0, types.TI64), StackOff: 0},
	)
	allocate(fn, false)
	if len(fn.UsedCalleeSave) != 1 || fn.UsedCalleeSave[0] != x64.RBX {
		t.Fatalf("used callee-save %v, want [RBX]", fn.UsedCalleeSave)
	}
}

// TestPassIdempotence verifies running a pass twice equals running it
// once.
func TestPassIdempotence(t *testing.T) {
	build := func() *ir.Func {
		return buildFunc(2,
			ir.Ins{Op: ir.Mul, ArgCnt: 2, Arg1: ir.Imm(2, types.TI64), Arg2: ir.Imm(3, types.TI64), Res: ir.VReg(0, types.TI64)},
			ir.Ins{Op: ir.Jmp, Arg1: ir.Label(0)},
			ir.Ins{Op: ir.Assign, Arg1: ir.Imm(9, types.TI64), Res: ir.VReg(1, types.TI64)},
			ir.Ins{Op: ir.LabelOp, Arg1: ir.Label(0)},
			ir.Ins{Op: ir.Ret, Arg1: ir.VReg(0, types.TI64)},
		)
	}
	passes := []struct {
		name string
		run  func(*ir.Func)
	}{
		{"fold", foldConstants},
		{"propagate", propagateConstants},
		{"dce", eliminateDead},
		{"unreachable", eliminateUnreachable},
		{"branches", foldBranches},
		{"nops", compactNops},
	}
	for _, p := range passes {
		once := build()
		p.run(once)
		twice := build()
		p.run(twice)
		p.run(twice)
		if diff := cmp.Diff(once.Ins, twice.Ins); diff != "" {
			t.Errorf("pass %s is not idempotent (-once +twice):\n%s", p.name, diff)
		}
	}
}

// TestMaskToggles verifies pass masking.
func TestMaskToggles(t *testing.T) {
	m := AllPasses
	if !m.Enabled(0) || !m.Enabled(9) {
		t.Fatal("AllPasses should enable 0-9")
	}
	m = m.Without(3)
	if m.Enabled(3) {
		t.Fatal("Without(3) should disable pass 3")
	}
	if !m.Enabled(2) || !m.Enabled(4) {
		t.Fatal("Without(3) must not affect neighbors")
	}
}

// TestFrameAlignment verifies pass 4 rounds the frame to 16 bytes.
func TestFrameAlignment(t *testing.T) {
	fn := buildFunc(0)
	fn.FrameSize = 24
	fn.SpillBytes = 8
	layoutFrame(fn)
	if (fn.FrameSize+fn.SpillBytes)%16 != 0 {
		t.Fatalf("frame %d + spills %d not 16-aligned", fn.FrameSize, fn.SpillBytes)
	}
}
