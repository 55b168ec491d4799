package ir

import (
	"testing"

	"github.com/oisee/holyc-aot/pkg/check"
	"github.com/oisee/holyc-aot/pkg/diag"
	"github.com/oisee/holyc-aot/pkg/lex"
	"github.com/oisee/holyc-aot/pkg/parse"
)

func lowerSrc(t *testing.T, src string) (*Module, *diag.Reporter) {
	t.Helper()
	rep := diag.NewReporter("test.HC")
	lx := lex.New([]byte(src), rep)
	p := parse.New(lx, rep, parse.DefaultConfig())
	prog := p.Parse()
	check.Check(prog, p.Syms, rep)
	return Lower(prog, p.Syms, rep), rep
}

func countOp(fn *Func, op Op) int {
	n := 0
	for i := range fn.Ins {
		if fn.Ins[i].Op == op {
			n++
		}
	}
	return n
}

// TestEntryFunction verifies top-level statements collect into the
// synthetic entry function, which always ends in Ret.
func TestEntryFunction(t *testing.T) {
	mod, rep := lowerSrc(t, "I64 x = 5;")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	entry := mod.Lookup(EntryName)
	if entry == nil {
		t.Fatal("no entry function")
	}
	if entry.Ins[len(entry.Ins)-1].Op != Ret {
		t.Fatal("entry must end in Ret")
	}
	if len(mod.Globals) != 1 || mod.Globals[0].Name != "x" {
		t.Fatalf("globals: %v, want [x]", mod.Globals)
	}
	if countOp(entry, Store) != 1 {
		t.Fatal("expected one Store for the initializer")
	}
}

// TestRangeCmpLowering verifies §8: `5<x<10` lowers to two comparisons
// with a short-circuit jump after each, operands evaluated once.
func TestRangeCmpLowering(t *testing.T) {
	mod, rep := lowerSrc(t, `I64 x = 5; if (5<x<10) Print("in\n");`)
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	entry := mod.Lookup(EntryName)
	if got := countOp(entry, CmpLt); got != 2 {
		t.Fatalf("CmpLt count %d, want 2", got)
	}
	// Each pairwise comparison is followed by a short-circuit JmpFalse,
	// and the if adds one more on the chain result.
	if got := countOp(entry, JmpFalse); got != 3 {
		t.Fatalf("JmpFalse count %d, want 3", got)
	}
	// Short-circuit order: first comparison emits before the second
	// operand chain continues.
	firstCmp, firstJmp := -1, -1
	for i := range entry.Ins {
		if entry.Ins[i].Op == CmpLt && firstCmp < 0 {
			firstCmp = i
		}
		if entry.Ins[i].Op == JmpFalse && firstJmp < 0 {
			firstJmp = i
		}
	}
	if firstJmp < firstCmp {
		t.Fatal("short-circuit jump must follow its comparison")
	}
}

// TestSubIntLowering verifies §8 scenario 3: a 16-bit store at element 1.
func TestSubIntLowering(t *testing.T) {
	mod, rep := lowerSrc(t, "union I64 u; u.u16[1] = 0xBEEF;")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	entry := mod.Lookup(EntryName)
	var store *Ins
	for i := range entry.Ins {
		if entry.Ins[i].Op == StoreSub {
			store = &entry.Ins[i]
		}
	}
	if store == nil {
		t.Fatal("no StoreSub emitted")
	}
	if store.Size != 2 {
		t.Errorf("store width %d, want 2", store.Size)
	}
	if store.Arg2.Kind != KImm || store.Arg2.Val != 1 {
		t.Errorf("index operand %v, want immediate 1", store.Arg2)
	}
	if store.Arg1.Kind != KSym || store.Arg1.Sym != "u" {
		t.Errorf("base operand %v, want symbol u", store.Arg1)
	}

	// Reading u.i64 is an 8-byte load at offset 0.
	mod, _ = lowerSrc(t, "union I64 u; I64 v = u.i64;")
	entry = mod.Lookup(EntryName)
	var load *Ins
	for i := range entry.Ins {
		if entry.Ins[i].Op == LoadSub {
			load = &entry.Ins[i]
		}
	}
	if load == nil || load.Size != 8 || load.Arg2.Val != 0 {
		t.Fatalf("u.i64 load: %v, want 8-byte load at index 0", load)
	}
}

// TestSwitchLowering verifies §8 scenario 6: shared case bodies via
// fallthrough and a default target.
func TestSwitchLowering(t *testing.T) {
	src := `I64 x;
switch (x) { case 1: case 2: Print("a"); break; default: Print("b"); }`
	mod, rep := lowerSrc(t, src)
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	entry := mod.Lookup(EntryName)
	if got := countOp(entry, CmpEq); got != 2 {
		t.Fatalf("dispatch CmpEq count %d, want 2", got)
	}
	// Two calls: Print("a") and Print("b").
	if got := countOp(entry, Call); got != 2 {
		t.Fatalf("call count %d, want 2", got)
	}
	// break jumps to the end label.
	if countOp(entry, Jmp) == 0 {
		t.Fatal("expected jumps for break/dispatch")
	}
}

// TestCallLowering verifies left-to-right argument evaluation into Push
// instructions with ordered indices.
func TestCallLowering(t *testing.T) {
	mod, rep := lowerSrc(t, `Print("%d %d\n", 1, 2);`)
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	entry := mod.Lookup(EntryName)
	var pushes []Ins
	for _, ins := range entry.Ins {
		if ins.Op == Push {
			pushes = append(pushes, ins)
		}
	}
	if len(pushes) != 3 {
		t.Fatalf("push count %d, want 3", len(pushes))
	}
	for i, p := range pushes {
		if p.StackOff != i {
			t.Errorf("push %d has index %d", i, p.StackOff)
		}
	}
	if pushes[0].Arg1.Kind != KStr {
		t.Errorf("first argument should be the format string, got %v", pushes[0].Arg1)
	}
}

// TestDefaultArgLowering verifies a missing trailing argument fills from
// the declared default.
func TestDefaultArgLowering(t *testing.T) {
	mod, rep := lowerSrc(t, "I64 f(I64 a, I64 b = 7) { return a+b; } I64 r = f(1);")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	entry := mod.Lookup(EntryName)
	var pushes []Ins
	for _, ins := range entry.Ins {
		if ins.Op == Push {
			pushes = append(pushes, ins)
		}
	}
	if len(pushes) != 2 {
		t.Fatalf("push count %d, want 2", len(pushes))
	}
	if pushes[1].Arg1.Kind != KImm || pushes[1].Arg1.Val != 7 {
		t.Errorf("defaulted argument %v, want immediate 7", pushes[1].Arg1)
	}
}

// TestStringInterning verifies identical literals share one constant.
func TestStringInterning(t *testing.T) {
	mod, _ := lowerSrc(t, `Print("x"); Print("x"); Print("y");`)
	if len(mod.Strings) != 2 {
		t.Fatalf("string count %d, want 2", len(mod.Strings))
	}
	for _, s := range mod.Strings {
		if s.Data[len(s.Data)-1] != 0 {
			t.Errorf("string %s not NUL-terminated", s.Label)
		}
	}
}

// TestFunctionLowering verifies parameters spill from argument registers
// and the function ends in Ret.
func TestFunctionLowering(t *testing.T) {
	mod, rep := lowerSrc(t, "I64 add(I64 a, I64 b) { return a + b; }")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	fn := mod.Lookup("add")
	if fn == nil {
		t.Fatal("function add not lowered")
	}
	// Two parameter spills at entry.
	if fn.Ins[0].Op != Store || fn.Ins[1].Op != Store {
		t.Fatal("expected two parameter stores at entry")
	}
	if fn.Ins[0].Arg2.Kind != KReg || fn.Ins[1].Arg2.Kind != KReg {
		t.Fatal("parameter stores should read argument registers")
	}
	if fn.Ins[len(fn.Ins)-1].Op != Ret {
		t.Fatal("function must end in Ret")
	}
	if fn.FrameSize < 16 {
		t.Errorf("frame size %d, want at least 16 for two locals", fn.FrameSize)
	}
}

// TestLogicalShortCircuit verifies && emits a conditional skip before the
// right operand's code.
func TestLogicalShortCircuit(t *testing.T) {
	mod, _ := lowerSrc(t, "I64 a; I64 b; I64 c = a && b;")
	entry := mod.Lookup(EntryName)
	if countOp(entry, JmpFalse) < 1 {
		t.Fatal("&& must short-circuit with JmpFalse")
	}
}

// TestGotoLabel verifies named labels share one handle across goto and
// definition.
func TestGotoLabel(t *testing.T) {
	mod, rep := lowerSrc(t, "U0 f() { I64 i; again: i = 1; goto again; }")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	fn := mod.Lookup("f")
	var labelID, jmpTarget int64 = -1, -2
	for _, ins := range fn.Ins {
		if ins.Op == LabelOp {
			labelID = ins.Arg1.Val
		}
		if ins.Op == Jmp {
			jmpTarget = ins.Arg1.Val
		}
	}
	if labelID != jmpTarget {
		t.Fatalf("goto target %d != label %d", jmpTarget, labelID)
	}
}

// TestTryLowering verifies the try/catch frame ops and throw call.
func TestTryLowering(t *testing.T) {
	mod, rep := lowerSrc(t, "U0 f() { try { throw 'E'; } catch { PutChars(\"caught\"); } }")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	fn := mod.Lookup("f")
	if countOp(fn, TryEnter) != 1 || countOp(fn, TryExit) != 1 || countOp(fn, ThrowOp) != 1 {
		t.Fatal("try/catch/throw ops missing")
	}
}

// TestPostfixIncrement verifies x++ yields the old value and stores the
// new one.
func TestPostfixIncrement(t *testing.T) {
	mod, _ := lowerSrc(t, "U0 f() { I64 x; I64 y = x++; }")
	fn := mod.Lookup("f")
	if countOp(fn, Add) != 1 {
		t.Fatal("x++ should add 1")
	}
	// Two stores: the updated x and the initializer of y.
	if countOp(fn, Store) != 2 {
		t.Fatalf("store count %d, want 2", countOp(fn, Store))
	}
}
