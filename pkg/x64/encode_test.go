package x64

import (
	"strings"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

// decodeOne decodes a single instruction and fails on leftovers.
func decodeOne(t *testing.T, buf []byte) x86asm.Inst {
	t.Helper()
	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		t.Fatalf("decode % X: %v", buf, err)
	}
	if inst.Len != len(buf) {
		t.Fatalf("decode % X: consumed %d of %d bytes", buf, inst.Len, len(buf))
	}
	return inst
}

// decodeAll decodes a whole buffer into instructions.
func decodeAll(t *testing.T, buf []byte) []x86asm.Inst {
	t.Helper()
	var out []x86asm.Inst
	for len(buf) > 0 {
		inst, err := x86asm.Decode(buf, 64)
		if err != nil {
			t.Fatalf("decode % X: %v", buf, err)
		}
		out = append(out, inst)
		buf = buf[inst.Len:]
	}
	return out
}

func TestMovImm(t *testing.T) {
	tests := []struct {
		dst  Reg
		val  int64
		want string
	}{
		{RAX, 7, "MOV RAX, 0x7"},
		{RBX, -1, "MOV RBX, -0x1"},
		{R15, 1, "MOV R15, 0x1"},
		{RCX, 0x123456789, "MOV RCX, 0x123456789"},
	}
	for _, tc := range tests {
		e := &Emitter{}
		e.MovImm(tc.dst, tc.val)
		inst := decodeOne(t, e.Buf)
		if inst.Op != x86asm.MOV {
			t.Errorf("%s: decoded op %s, want MOV", tc.want, inst.Op)
		}
		got := x86asm.IntelSyntax(inst, 0, nil)
		if !strings.EqualFold(strings.ReplaceAll(got, " ", ""), strings.ReplaceAll(strings.ToLower(tc.want), " ", "")) {
			// Syntax spelling varies; verify register and immediate instead.
			if inst.Args[0] != regArg(tc.dst) {
				t.Errorf("dst: got %v want %v", inst.Args[0], tc.dst)
			}
			if imm, ok := inst.Args[1].(x86asm.Imm); !ok || int64(imm) != tc.val {
				t.Errorf("imm: got %v want %d", inst.Args[1], tc.val)
			}
		}
	}
}

// regArg maps our register enum to the decoder's 64-bit register args.
func regArg(r Reg) x86asm.Arg {
	return x86asm.RAX + x86asm.Reg(r)
}

func TestMovRegReg(t *testing.T) {
	e := &Emitter{}
	e.MovRegReg(RBX, R12)
	inst := decodeOne(t, e.Buf)
	if inst.Op != x86asm.MOV || inst.Args[0] != regArg(RBX) || inst.Args[1] != regArg(R12) {
		t.Fatalf("got %v, want MOV RBX, R12", inst)
	}
}

func TestALU(t *testing.T) {
	tests := []struct {
		opcode byte
		op     x86asm.Op
	}{
		{OpAdd, x86asm.ADD},
		{OpSub, x86asm.SUB},
		{OpAnd, x86asm.AND},
		{OpOr, x86asm.OR},
		{OpXor, x86asm.XOR},
		{OpCmp, x86asm.CMP},
	}
	for _, tc := range tests {
		e := &Emitter{}
		e.ALURegReg(tc.opcode, RAX, R11)
		inst := decodeOne(t, e.Buf)
		if inst.Op != tc.op {
			t.Errorf("opcode %02X: decoded %s, want %s", tc.opcode, inst.Op, tc.op)
		}
		if inst.Args[0] != regArg(RAX) || inst.Args[1] != regArg(R11) {
			t.Errorf("%s: args %v, %v", tc.op, inst.Args[0], inst.Args[1])
		}
	}
}

func TestALUImm(t *testing.T) {
	e := &Emitter{}
	e.ALURegImm32(ExtSub, RSP, 32)
	inst := decodeOne(t, e.Buf)
	if inst.Op != x86asm.SUB || inst.Args[0] != regArg(RSP) {
		t.Fatalf("got %v, want SUB RSP, 32", inst)
	}
	if imm, ok := inst.Args[1].(x86asm.Imm); !ok || imm != 32 {
		t.Fatalf("imm %v, want 32", inst.Args[1])
	}
}

func TestIMul(t *testing.T) {
	e := &Emitter{}
	e.IMulRegReg(RAX, R11)
	inst := decodeOne(t, e.Buf)
	if inst.Op != x86asm.IMUL || inst.Args[0] != regArg(RAX) || inst.Args[1] != regArg(R11) {
		t.Fatalf("got %v, want IMUL RAX, R11", inst)
	}
}

func TestDivCQO(t *testing.T) {
	e := &Emitter{}
	e.CQO()
	e.IDivReg(R11)
	insts := decodeAll(t, e.Buf)
	if len(insts) != 2 || insts[0].Op != x86asm.CQO || insts[1].Op != x86asm.IDIV {
		t.Fatalf("got %v, want CQO; IDIV", insts)
	}
}

func TestLoadStoreRBP(t *testing.T) {
	// 8-byte round trip with an 8-bit displacement.
	e := &Emitter{}
	e.MovLoadRBP(RAX, -8, 8, true)
	inst := decodeOne(t, e.Buf)
	if inst.Op != x86asm.MOV {
		t.Fatalf("load: %v", inst)
	}
	mem, ok := inst.Args[1].(x86asm.Mem)
	if !ok || mem.Base != x86asm.RBP || mem.Disp != -8 {
		t.Fatalf("load mem: %v", inst.Args[1])
	}

	// 32-bit displacement beyond the 8-bit range.
	e = &Emitter{}
	e.MovLoadRBP(RAX, -1024, 8, true)
	inst = decodeOne(t, e.Buf)
	mem = inst.Args[1].(x86asm.Mem)
	if mem.Disp != -1024 {
		t.Fatalf("disp: got %d want -1024", mem.Disp)
	}

	// Narrow widening loads.
	e = &Emitter{}
	e.MovLoadRBP(RAX, -16, 2, false)
	inst = decodeOne(t, e.Buf)
	if inst.Op != x86asm.MOVZX {
		t.Fatalf("u16 load: got %s want MOVZX", inst.Op)
	}
	e = &Emitter{}
	e.MovLoadRBP(RAX, -16, 1, true)
	inst = decodeOne(t, e.Buf)
	if inst.Op != x86asm.MOVSX {
		t.Fatalf("i8 load: got %s want MOVSX", inst.Op)
	}

	// Narrow store carries the operand-size prefix.
	e = &Emitter{}
	e.MovStoreRBP(-24, RAX, 2)
	inst = decodeOne(t, e.Buf)
	if inst.Op != x86asm.MOV || inst.DataSize != 16 {
		t.Fatalf("16-bit store: %v (size %d)", inst, inst.DataSize)
	}
}

func TestSIBAddressing(t *testing.T) {
	e := &Emitter{}
	e.MovLoadSIB(RAX, RAX, R11, 2, 0, 2, false)
	inst := decodeOne(t, e.Buf)
	mem, ok := inst.Args[1].(x86asm.Mem)
	if !ok {
		t.Fatalf("not a memory operand: %v", inst)
	}
	if mem.Base != x86asm.RAX || mem.Index != x86asm.R11 || mem.Scale != 2 {
		t.Fatalf("mem: %+v, want [RAX+R11*2]", mem)
	}

	// Store with no index register.
	e = &Emitter{}
	e.MovStoreSIB(RAX, RegNone, 1, 0, R10, 8)
	inst = decodeOne(t, e.Buf)
	mem = inst.Args[0].(x86asm.Mem)
	if mem.Base != x86asm.RAX || mem.Index != 0 {
		t.Fatalf("mem: %+v, want [RAX]", mem)
	}
}

func TestSetCC(t *testing.T) {
	e := &Emitter{}
	e.SetCC(CondE, RAX)
	insts := decodeAll(t, e.Buf)
	if len(insts) != 2 {
		t.Fatalf("got %d instructions, want SETE + MOVZX", len(insts))
	}
	if insts[0].Op != x86asm.SETE || insts[1].Op != x86asm.MOVZX {
		t.Fatalf("got %s; %s, want SETE; MOVZX", insts[0].Op, insts[1].Op)
	}
}

func TestJumpsAndCalls(t *testing.T) {
	e := &Emitter{}
	e.JmpRel(0x10)
	inst := decodeOne(t, e.Buf)
	if inst.Op != x86asm.JMP {
		t.Fatalf("got %s want JMP", inst.Op)
	}

	e = &Emitter{}
	e.JccRel(CondNE, -5)
	inst = decodeOne(t, e.Buf)
	if inst.Op != x86asm.JNE {
		t.Fatalf("got %s want JNE", inst.Op)
	}

	e = &Emitter{}
	e.CallRel(0x100)
	inst = decodeOne(t, e.Buf)
	if inst.Op != x86asm.CALL {
		t.Fatalf("got %s want CALL", inst.Op)
	}
	if rel, ok := inst.Args[0].(x86asm.Rel); !ok || int64(rel) != 0x100 {
		t.Fatalf("rel %v, want 0x100", inst.Args[0])
	}
}

func TestPushPopPrologue(t *testing.T) {
	e := &Emitter{}
	e.PushReg(RBP)
	e.MovRegReg(RBP, RSP)
	e.SubRSPImm(32)
	e.PushReg(R12)
	e.PopReg(R12)
	e.Leave()
	e.Ret()
	insts := decodeAll(t, e.Buf)
	wantOps := []x86asm.Op{x86asm.PUSH, x86asm.MOV, x86asm.SUB, x86asm.PUSH,
		x86asm.POP, x86asm.LEAVE, x86asm.RET}
	if len(insts) != len(wantOps) {
		t.Fatalf("got %d instructions, want %d", len(insts), len(wantOps))
	}
	for i, w := range wantOps {
		if insts[i].Op != w {
			t.Errorf("instruction %d: got %s want %s", i, insts[i].Op, w)
		}
	}
}

func TestRIPRelative(t *testing.T) {
	e := &Emitter{}
	e.LeaRIP(RDI, 0x1000)
	inst := decodeOne(t, e.Buf)
	if inst.Op != x86asm.LEA {
		t.Fatalf("got %s want LEA", inst.Op)
	}
	mem, ok := inst.Args[1].(x86asm.Mem)
	if !ok || mem.Base != x86asm.RIP || mem.Disp != 0x1000 {
		t.Fatalf("mem: %+v, want [RIP+0x1000]", inst.Args[1])
	}

	e = &Emitter{}
	e.MovStoreRIP(RAX, 0x20)
	inst = decodeOne(t, e.Buf)
	mem = inst.Args[0].(x86asm.Mem)
	if mem.Base != x86asm.RIP || mem.Disp != 0x20 {
		t.Fatalf("store mem: %+v", mem)
	}
}

func TestDispWidth(t *testing.T) {
	tests := []struct {
		disp int64
		want int
	}{
		{0, 1}, {127, 1}, {-128, 1}, {128, 4}, {-129, 4}, {100000, 4},
	}
	for _, tc := range tests {
		if got := DispWidth(tc.disp); got != tc.want {
			t.Errorf("DispWidth(%d): got %d want %d", tc.disp, got, tc.want)
		}
	}
}

func TestREXBits(t *testing.T) {
	if REX(true, RegNone, RegNone, RegNone) != 0x48 {
		t.Error("REX.W alone should be 0x48")
	}
	if REX(true, R8, RegNone, RegNone) != 0x4C {
		t.Error("REX.W|R should be 0x4C")
	}
	if REX(true, RegNone, R9, RegNone) != 0x4A {
		t.Error("REX.W|X should be 0x4A")
	}
	if REX(true, RegNone, RegNone, R10) != 0x49 {
		t.Error("REX.W|B should be 0x49")
	}
	if REX(false, RegNone, RegNone, RAX) != 0x40 {
		t.Error("empty REX should be 0x40")
	}
}

func TestCondInvert(t *testing.T) {
	pairs := []struct{ a, b Cond }{
		{CondE, CondNE}, {CondL, CondGE}, {CondLE, CondG}, {CondB, CondAE},
	}
	for _, p := range pairs {
		if p.a.Invert() != p.b || p.b.Invert() != p.a {
			t.Errorf("%#x and %#x should invert to each other", p.a, p.b)
		}
	}
}
