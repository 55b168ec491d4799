package ir

import (
	"strings"

	"github.com/oisee/holyc-aot/pkg/ast"
	"github.com/oisee/holyc-aot/pkg/diag"
	"github.com/oisee/holyc-aot/pkg/x64"
)

// lowerAsm encodes each inline-assembly instruction into an AsmInline IR
// node whose Body carries the finished machine bytes. Labels inside asm
// blocks share the function's label space so jumps out of and into
// assembly resolve like any other jump.
func (lw *Lowerer) lowerAsm(blk *ast.Node) {
	for n := blk.Child; n != nil; n = n.Sib {
		switch n.Kind {
		case ast.Label:
			lw.label(lw.namedLabel(n.Ident))
		case ast.AsmInstr:
			lw.lowerAsmInstr(n)
		}
	}
}

func (lw *Lowerer) lowerAsmInstr(n *ast.Node) {
	mn := strings.ToUpper(n.Ident)
	var args []*x64.AsmArg
	var labels []string
	for c := n.Child; c != nil; c = c.Sib {
		if c.Kind == ast.AsmOperand {
			args = append(args, c.Arg)
			labels = append(labels, c.Ident)
		}
	}

	// Jumps to named labels route through the regular jump IR so the
	// label-resolution pass patches them.
	if target := jumpTarget(mn, args, labels); target != "" {
		id := lw.namedLabel(target)
		switch mn {
		case "JMP":
			lw.emit(Ins{Op: Jmp, Arg1: Label(id), Line: n.Line})
		case "CALL":
			lw.emit(Ins{Op: Call, Arg1: Sym(target, lw.fn.Result), Line: n.Line})
		default:
			cond, ok := jccCond(mn)
			if !ok {
				lw.rep.Errorf(diag.IR, n.Line, n.Col, "unsupported asm jump %s", mn)
				return
			}
			// Encoded directly as a conditional jump against the label.
			lw.emit(Ins{Op: JmpTrue, Arg1: Operand{Kind: KReg, Reg: x64.RegNone}, Arg2: Label(id),
				Line: n.Line, Opcode: byte(cond), Prec: 1})
		}
		return
	}

	e := &x64.Emitter{}
	if !encodeAsm(e, mn, args) {
		lw.rep.Errorf(diag.IR, n.Line, n.Col, "cannot encode asm instruction %s", mn)
		return
	}
	lw.emit(Ins{Op: AsmInline, Body: e.Buf, Line: n.Line, AOTCompile: true})
}

func jumpTarget(mn string, args []*x64.AsmArg, labels []string) string {
	if len(labels) != 1 || labels[0] == "" {
		return ""
	}
	if mn == "JMP" || mn == "CALL" || strings.HasPrefix(mn, "J") {
		return labels[0]
	}
	return ""
}

func jccCond(mn string) (x64.Cond, bool) {
	switch mn {
	case "JE", "JZ":
		return x64.CondE, true
	case "JNE", "JNZ":
		return x64.CondNE, true
	case "JL":
		return x64.CondL, true
	case "JLE":
		return x64.CondLE, true
	case "JG":
		return x64.CondG, true
	case "JGE":
		return x64.CondGE, true
	case "JB":
		return x64.CondB, true
	case "JBE":
		return x64.CondBE, true
	case "JA":
		return x64.CondA, true
	case "JAE":
		return x64.CondAE, true
	}
	return 0, false
}

// encodeAsm encodes the register/immediate/memory instruction forms the
// inline assembler supports. Returns false for shapes it cannot encode.
func encodeAsm(e *x64.Emitter, mn string, args []*x64.AsmArg) bool {
	switch mn {
	case "NOP":
		e.Nop()
		return true
	case "RET":
		e.Ret()
		return true
	case "LEAVE":
		e.Leave()
		return true
	case "CQO":
		e.CQO()
		return true
	case "SYSCALL":
		e.Buf = append(e.Buf, 0x0F, 0x05)
		return true
	case "INT":
		if len(args) == 1 && args[0].Imm {
			e.Buf = append(e.Buf, 0xCD, byte(args[0].Int))
			return true
		}
		return false
	case "PUSH":
		if len(args) == 1 && args[0].IsReg {
			e.PushReg(args[0].Reg1)
			return true
		}
		return false
	case "POP":
		if len(args) == 1 && args[0].IsReg {
			e.PopReg(args[0].Reg1)
			return true
		}
		return false
	}

	if len(args) != 2 {
		return false
	}
	dst, src := args[0], args[1]

	switch mn {
	case "MOV":
		switch {
		case dst.IsReg && src.Imm:
			e.MovImm(dst.Reg1, src.Int)
			return true
		case dst.IsReg && src.IsReg:
			e.MovRegReg(dst.Reg1, src.Reg1)
			return true
		case dst.IsReg && src.Mem:
			e.MovLoadSIB(dst.Reg1, memBase(src), memIndex(src), src.Scale, src.Disp, src.Size, false)
			return true
		case dst.Mem && src.IsReg:
			e.MovStoreSIB(memBase(dst), memIndex(dst), dst.Scale, dst.Disp, src.Reg1, dst.Size)
			return true
		}
		return false
	case "LEA":
		if dst.IsReg && src.Mem && memIndex(src) == x64.RegNone {
			// LEA against a plain base register reuses the RBP form only
			// when the base actually is RBP; otherwise fall through.
			if memBase(src) == x64.RBP {
				e.LeaRBP(dst.Reg1, src.Disp)
				return true
			}
		}
		return false
	case "ADD", "SUB", "AND", "OR", "XOR", "CMP":
		op, ext := aluBytes(mn)
		switch {
		case dst.IsReg && src.IsReg:
			e.ALURegReg(op, dst.Reg1, src.Reg1)
			return true
		case dst.IsReg && src.Imm:
			e.ALURegImm32(ext, dst.Reg1, src.Int)
			return true
		}
		return false
	case "TEST":
		if dst.IsReg && src.IsReg {
			e.TestRegReg(dst.Reg1, src.Reg1)
			return true
		}
		return false
	case "IMUL":
		if dst.IsReg && src.IsReg {
			e.IMulRegReg(dst.Reg1, src.Reg1)
			return true
		}
		return false
	case "SHL", "SHR", "SAR", "SAL":
		ext := x64.ExtShl
		switch mn {
		case "SHR":
			ext = x64.ExtShr
		case "SAR":
			ext = x64.ExtSar
		}
		if dst.IsReg && src.Imm {
			e.ShiftImm(ext, dst.Reg1, src.Int)
			return true
		}
		if dst.IsReg && src.IsReg && src.Reg1 == x64.RCX {
			e.ShiftCL(ext, dst.Reg1)
			return true
		}
		return false
	case "MOVZX", "MOVSX":
		if dst.IsReg && src.Mem {
			e.MovLoadSIB(dst.Reg1, memBase(src), memIndex(src), src.Scale, src.Disp, src.Size, mn == "MOVSX")
			return true
		}
		return false
	}

	// Single-operand group encoded with two-arg guard above bypassed.
	return false
}

func aluBytes(mn string) (opcode, ext byte) {
	switch mn {
	case "ADD":
		return x64.OpAdd, x64.ExtAdd
	case "SUB":
		return x64.OpSub, x64.ExtSub
	case "AND":
		return x64.OpAnd, x64.ExtAnd
	case "OR":
		return x64.OpOr, x64.ExtOr
	case "XOR":
		return x64.OpXor, x64.ExtXor
	default:
		return x64.OpCmp, x64.ExtCmp
	}
}

func memBase(a *x64.AsmArg) x64.Reg {
	if a.Reg1 == x64.RegNone {
		// SIB with no base needs the RBP/disp32 form; RBP stands in and
		// the displacement covers the absolute offset.
		return x64.RBP
	}
	return a.Reg1
}

func memIndex(a *x64.AsmArg) x64.Reg {
	return a.Reg2
}
