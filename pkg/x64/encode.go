package x64

import "encoding/binary"

// Cond is an x86 condition code (the low nibble of the 0F 8x / 0F 9x
// opcode families).
type Cond byte

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondL  Cond = 0xC
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

// Invert returns the negated condition.
func (c Cond) Invert() Cond {
	return c ^ 1
}

// REX assembles a REX prefix byte. W selects 64-bit operand size; r, x, b
// extend the ModRM.reg, SIB.index, and ModRM.rm/SIB.base fields.
func REX(w bool, r, x, b Reg) byte {
	rex := byte(0x40)
	if w {
		rex |= 8
	}
	if r != RegNone && r.Extended() {
		rex |= 4
	}
	if x != RegNone && x.Extended() {
		rex |= 2
	}
	if b != RegNone && b.Extended() {
		rex |= 1
	}
	return rex
}

// ModRM assembles a ModR/M byte from mod (0-3), reg, and rm fields.
func ModRM(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

// SIB assembles a SIB byte. scale must be 1, 2, 4, or 8. RegNone as index
// encodes the no-index form (100).
func SIB(scale int, index, base Reg) byte {
	var ss byte
	switch scale {
	case 2:
		ss = 1
	case 4:
		ss = 2
	case 8:
		ss = 3
	}
	idx := byte(4)
	if index != RegNone {
		idx = index.Low3()
	}
	return ss<<6 | idx<<3 | base.Low3()
}

// DispWidth returns the encoded displacement width for a value: 1 byte when
// it fits [-128,127], otherwise 4. Larger displacements are auto-promoted,
// never an error.
func DispWidth(disp int64) int {
	if disp >= -128 && disp <= 127 {
		return 1
	}
	return 4
}

// Emitter appends encoded x86-64 instructions to a byte buffer. Each IR
// instruction gets a fresh emitter so the instruction exclusively owns its
// bytes.
type Emitter struct {
	Buf []byte
}

func (e *Emitter) byteOut(bs ...byte) {
	e.Buf = append(e.Buf, bs...)
}

func (e *Emitter) imm8(v int64) {
	e.Buf = append(e.Buf, byte(v))
}

func (e *Emitter) imm16(v int64) {
	e.Buf = binary.LittleEndian.AppendUint16(e.Buf, uint16(v))
}

func (e *Emitter) imm32(v int64) {
	e.Buf = binary.LittleEndian.AppendUint32(e.Buf, uint32(v))
}

func (e *Emitter) imm64(v int64) {
	e.Buf = binary.LittleEndian.AppendUint64(e.Buf, uint64(v))
}

// rexIf emits a REX prefix when any bit of it would be set.
func (e *Emitter) rexIf(w bool, r, x, b Reg) {
	rex := REX(w, r, x, b)
	if rex != 0x40 || w {
		e.byteOut(rex)
	}
}

// memRBP encodes a ModRM (+disp) for [RBP+disp]. RBP as base always needs a
// displacement byte even when disp is zero.
func (e *Emitter) memRBP(reg Reg, disp int64) {
	if DispWidth(disp) == 1 {
		e.byteOut(ModRM(1, byte(reg), byte(RBP)))
		e.imm8(disp)
	} else {
		e.byteOut(ModRM(2, byte(reg), byte(RBP)))
		e.imm32(disp)
	}
}

// memSIB encodes ModRM+SIB (+disp) for [base + index*scale + disp].
func (e *Emitter) memSIB(reg, base, index Reg, scale int, disp int64) {
	if disp == 0 && base.Low3() != byte(RBP) {
		e.byteOut(ModRM(0, byte(reg), 4), SIB(scale, index, base))
	} else if DispWidth(disp) == 1 {
		e.byteOut(ModRM(1, byte(reg), 4), SIB(scale, index, base))
		e.imm8(disp)
	} else {
		e.byteOut(ModRM(2, byte(reg), 4), SIB(scale, index, base))
		e.imm32(disp)
	}
}

// MovRegImm64 emits MOV r64, imm64 (B8+rd io).
func (e *Emitter) MovRegImm64(dst Reg, v int64) {
	e.byteOut(REX(true, RegNone, RegNone, dst), 0xB8+dst.Low3())
	e.imm64(v)
}

// MovRegImm32 emits MOV r64, imm32 sign-extended (C7 /0 id).
func (e *Emitter) MovRegImm32(dst Reg, v int64) {
	e.byteOut(REX(true, RegNone, RegNone, dst), 0xC7, ModRM(3, 0, byte(dst)))
	e.imm32(v)
}

// MovImm emits the shortest MOV of v into dst.
func (e *Emitter) MovImm(dst Reg, v int64) {
	if v >= -1<<31 && v < 1<<31 {
		e.MovRegImm32(dst, v)
	} else {
		e.MovRegImm64(dst, v)
	}
}

// MovRegReg emits MOV r64, r64 (89 /r, src in reg field).
func (e *Emitter) MovRegReg(dst, src Reg) {
	e.byteOut(REX(true, src, RegNone, dst), 0x89, ModRM(3, byte(src), byte(dst)))
}

// ALURegReg emits a classic ALU op dst = dst OP src using the /r MR form
// (opcode 01/09/21/29/31/39 for ADD/OR/AND/SUB/XOR/CMP).
func (e *Emitter) ALURegReg(opcode byte, dst, src Reg) {
	e.byteOut(REX(true, src, RegNone, dst), opcode, ModRM(3, byte(src), byte(dst)))
}

// ALURegImm32 emits ALU dst, imm32 (81 /ext id).
func (e *Emitter) ALURegImm32(ext byte, dst Reg, v int64) {
	e.byteOut(REX(true, RegNone, RegNone, dst), 0x81, ModRM(3, ext, byte(dst)))
	e.imm32(v)
}

// Classic ALU opcodes (MR form) and their 81 /ext extensions.
const (
	OpAdd byte = 0x01
	OpOr  byte = 0x09
	OpAnd byte = 0x21
	OpSub byte = 0x29
	OpXor byte = 0x31
	OpCmp byte = 0x39

	ExtAdd byte = 0
	ExtOr  byte = 1
	ExtAnd byte = 4
	ExtSub byte = 5
	ExtXor byte = 6
	ExtCmp byte = 7
)

// IMulRegReg emits IMUL r64, r64 (0F AF /r, dst in reg field).
func (e *Emitter) IMulRegReg(dst, src Reg) {
	e.byteOut(REX(true, dst, RegNone, src), 0x0F, 0xAF, ModRM(3, byte(dst), byte(src)))
}

// TestRegReg emits TEST r64, r64 (85 /r).
func (e *Emitter) TestRegReg(a, b Reg) {
	e.byteOut(REX(true, b, RegNone, a), 0x85, ModRM(3, byte(b), byte(a)))
}

// NegReg emits NEG r64 (F7 /3).
func (e *Emitter) NegReg(r Reg) {
	e.byteOut(REX(true, RegNone, RegNone, r), 0xF7, ModRM(3, 3, byte(r)))
}

// NotReg emits NOT r64 (F7 /2).
func (e *Emitter) NotReg(r Reg) {
	e.byteOut(REX(true, RegNone, RegNone, r), 0xF7, ModRM(3, 2, byte(r)))
}

// CQO sign-extends RAX into RDX:RAX.
func (e *Emitter) CQO() {
	e.byteOut(0x48, 0x99)
}

// IDivReg emits IDIV r64 (F7 /7).
func (e *Emitter) IDivReg(r Reg) {
	e.byteOut(REX(true, RegNone, RegNone, r), 0xF7, ModRM(3, 7, byte(r)))
}

// DivReg emits DIV r64 (F7 /6).
func (e *Emitter) DivReg(r Reg) {
	e.byteOut(REX(true, RegNone, RegNone, r), 0xF7, ModRM(3, 6, byte(r)))
}

// ShiftCL emits SHL/SHR/SAR r64, CL (D3 /ext; ext 4, 5, 7).
func (e *Emitter) ShiftCL(ext byte, r Reg) {
	e.byteOut(REX(true, RegNone, RegNone, r), 0xD3, ModRM(3, ext, byte(r)))
}

// ShiftImm emits SHL/SHR/SAR r64, imm8 (C1 /ext ib).
func (e *Emitter) ShiftImm(ext byte, r Reg, n int64) {
	e.byteOut(REX(true, RegNone, RegNone, r), 0xC1, ModRM(3, ext, byte(r)))
	e.imm8(n)
}

const (
	ExtShl byte = 4
	ExtShr byte = 5
	ExtSar byte = 7
)

// SetCC emits SETcc r8 (0F 9x /0) followed by MOVZX r64, r8 to widen the
// boolean into the full register.
func (e *Emitter) SetCC(c Cond, dst Reg) {
	// REX is emitted unconditionally so encodings for SPL/BPL/SIL/DIL do
	// not alias AH/CH/DH/BH.
	e.byteOut(REX(false, RegNone, RegNone, dst), 0x0F, 0x90|byte(c), ModRM(3, 0, byte(dst)))
	e.byteOut(REX(true, dst, RegNone, dst), 0x0F, 0xB6, ModRM(3, byte(dst), byte(dst)))
}

// PushReg emits PUSH r64 (50+rd).
func (e *Emitter) PushReg(r Reg) {
	if r.Extended() {
		e.byteOut(0x41)
	}
	e.byteOut(0x50 + r.Low3())
}

// PopReg emits POP r64 (58+rd).
func (e *Emitter) PopReg(r Reg) {
	if r.Extended() {
		e.byteOut(0x41)
	}
	e.byteOut(0x58 + r.Low3())
}

// Ret emits RET (C3).
func (e *Emitter) Ret() {
	e.byteOut(0xC3)
}

// Leave emits LEAVE (C9).
func (e *Emitter) Leave() {
	e.byteOut(0xC9)
}

// Nop emits NOP (90).
func (e *Emitter) Nop() {
	e.byteOut(0x90)
}

// CallRel emits CALL rel32 (E8 cd). The displacement is computed by the
// caller as target - (origin + 5).
func (e *Emitter) CallRel(disp int64) {
	e.byteOut(0xE8)
	e.imm32(disp)
}

// JmpRel emits JMP rel32 (E9 cd).
func (e *Emitter) JmpRel(disp int64) {
	e.byteOut(0xE9)
	e.imm32(disp)
}

// JccRel emits Jcc rel32 (0F 8x cd).
func (e *Emitter) JccRel(c Cond, disp int64) {
	e.byteOut(0x0F, 0x80|byte(c))
	e.imm32(disp)
}

// CallReg emits CALL r64 (FF /2).
func (e *Emitter) CallReg(r Reg) {
	e.rexIf(false, RegNone, RegNone, r)
	e.byteOut(0xFF, ModRM(3, 2, byte(r)))
}

// MovLoadRBP emits a load of size bytes from [RBP+disp] into dst.
// Narrow loads widen per signedness: MOVSX for signed, MOVZX for unsigned;
// 32-bit unsigned loads rely on implicit zero extension, 32-bit signed use
// MOVSXD.
func (e *Emitter) MovLoadRBP(dst Reg, disp int64, size int, signed bool) {
	switch size {
	case 1:
		if signed {
			e.byteOut(REX(true, dst, RegNone, RegNone), 0x0F, 0xBE)
		} else {
			e.byteOut(REX(true, dst, RegNone, RegNone), 0x0F, 0xB6)
		}
		e.memRBP(dst, disp)
	case 2:
		if signed {
			e.byteOut(REX(true, dst, RegNone, RegNone), 0x0F, 0xBF)
		} else {
			e.byteOut(REX(true, dst, RegNone, RegNone), 0x0F, 0xB7)
		}
		e.memRBP(dst, disp)
	case 4:
		if signed {
			e.byteOut(REX(true, dst, RegNone, RegNone), 0x63)
			e.memRBP(dst, disp)
		} else {
			e.rexIf(false, dst, RegNone, RegNone)
			e.byteOut(0x8B)
			e.memRBP(dst, disp)
		}
	default:
		e.byteOut(REX(true, dst, RegNone, RegNone), 0x8B)
		e.memRBP(dst, disp)
	}
}

// MovStoreRBP emits a store of the low size bytes of src to [RBP+disp].
func (e *Emitter) MovStoreRBP(disp int64, src Reg, size int) {
	switch size {
	case 1:
		// 8-bit stores of SPL/BPL/SIL/DIL need a bare REX.
		if src >= RSP {
			e.byteOut(REX(false, src, RegNone, RegNone))
		}
		e.byteOut(0x88)
		e.memRBP(src, disp)
	case 2:
		e.byteOut(0x66)
		e.rexIf(false, src, RegNone, RegNone)
		e.byteOut(0x89)
		e.memRBP(src, disp)
	case 4:
		e.rexIf(false, src, RegNone, RegNone)
		e.byteOut(0x89)
		e.memRBP(src, disp)
	default:
		e.byteOut(REX(true, src, RegNone, RegNone), 0x89)
		e.memRBP(src, disp)
	}
}

// LeaRBP emits LEA dst, [RBP+disp].
func (e *Emitter) LeaRBP(dst Reg, disp int64) {
	e.byteOut(REX(true, dst, RegNone, RegNone), 0x8D)
	e.memRBP(dst, disp)
}

// MovLoadSIB emits a widening load from [base + index*scale + disp].
func (e *Emitter) MovLoadSIB(dst, base, index Reg, scale int, disp int64, size int, signed bool) {
	switch size {
	case 1:
		op := byte(0xB6)
		if signed {
			op = 0xBE
		}
		e.byteOut(REX(true, dst, index, base), 0x0F, op)
		e.memSIB(dst, base, index, scale, disp)
	case 2:
		op := byte(0xB7)
		if signed {
			op = 0xBF
		}
		e.byteOut(REX(true, dst, index, base), 0x0F, op)
		e.memSIB(dst, base, index, scale, disp)
	case 4:
		if signed {
			e.byteOut(REX(true, dst, index, base), 0x63)
		} else {
			e.rexIf(false, dst, index, base)
			e.byteOut(0x8B)
		}
		e.memSIB(dst, base, index, scale, disp)
	default:
		e.byteOut(REX(true, dst, index, base), 0x8B)
		e.memSIB(dst, base, index, scale, disp)
	}
}

// MovStoreSIB emits a store of the low size bytes of src to
// [base + index*scale + disp].
func (e *Emitter) MovStoreSIB(base, index Reg, scale int, disp int64, src Reg, size int) {
	switch size {
	case 1:
		if src >= RSP || index.Extended() || base.Extended() {
			e.byteOut(REX(false, src, index, base))
		}
		e.byteOut(0x88)
	case 2:
		e.byteOut(0x66)
		e.rexIf(false, src, index, base)
		e.byteOut(0x89)
	case 4:
		e.rexIf(false, src, index, base)
		e.byteOut(0x89)
	default:
		e.byteOut(REX(true, src, index, base), 0x89)
	}
	e.memSIB(src, base, index, scale, disp)
}

// LeaRIP emits LEA dst, [RIP+disp32]. The displacement is patched after
// layout when the target lands.
func (e *Emitter) LeaRIP(dst Reg, disp int64) {
	e.byteOut(REX(true, dst, RegNone, RegNone), 0x8D, ModRM(0, byte(dst), 5))
	e.imm32(disp)
}

// MovLoadRIP emits MOV dst, [RIP+disp32].
func (e *Emitter) MovLoadRIP(dst Reg, disp int64) {
	e.byteOut(REX(true, dst, RegNone, RegNone), 0x8B, ModRM(0, byte(dst), 5))
	e.imm32(disp)
}

// MovStoreRIP emits MOV [RIP+disp32], src.
func (e *Emitter) MovStoreRIP(src Reg, disp int64) {
	e.byteOut(REX(true, src, RegNone, RegNone), 0x89, ModRM(0, byte(src), 5))
	e.imm32(disp)
}

// MovExt narrows-and-widens a register in place to the given width:
// MOVZX/MOVSX for 1- and 2-byte widths, MOV r32 or MOVSXD for 4 bytes.
// An 8-byte width is a no-op.
func (e *Emitter) MovExt(dst, src Reg, size int, signed bool) {
	switch size {
	case 1:
		op := byte(0xB6)
		if signed {
			op = 0xBE
		}
		e.byteOut(REX(true, dst, RegNone, src), 0x0F, op, ModRM(3, byte(dst), byte(src)))
	case 2:
		op := byte(0xB7)
		if signed {
			op = 0xBF
		}
		e.byteOut(REX(true, dst, RegNone, src), 0x0F, op, ModRM(3, byte(dst), byte(src)))
	case 4:
		if signed {
			e.byteOut(REX(true, dst, RegNone, src), 0x63, ModRM(3, byte(dst), byte(src)))
		} else {
			e.rexIf(false, src, RegNone, dst)
			e.byteOut(0x89, ModRM(3, byte(src), byte(dst)))
		}
	}
}

// SubRSPImm emits SUB RSP, imm32 — stack frame allocation.
func (e *Emitter) SubRSPImm(n int64) {
	e.ALURegImm32(ExtSub, RSP, n)
}

// AddRSPImm emits ADD RSP, imm32 — stack frame release.
func (e *Emitter) AddRSPImm(n int64) {
	e.ALURegImm32(ExtAdd, RSP, n)
}
