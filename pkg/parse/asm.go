package parse

import (
	"github.com/oisee/holyc-aot/pkg/ast"
	"github.com/oisee/holyc-aot/pkg/lex"
	"github.com/oisee/holyc-aot/pkg/x64"
)

// parseAsmBlock parses `asm { ... }`: a sequence of labels and
// instructions. Instruction operands become AsmOperand nodes carrying a
// decoded x64.AsmArg; the encoder fills the encoding fields later.
func (p *Parser) parseAsmBlock() *ast.Node {
	blk := ast.New(ast.AsmBlock, p.tok.Line, p.tok.Col)
	p.next() // asm
	if !p.expect(lex.LBRACE, "asm block") {
		return blk
	}
	for !p.at(lex.RBRACE) && !p.at(lex.EOF) {
		// Label: IDENT ':' or IDENT '::'
		if p.at(lex.IDENT) {
			sp := p.save()
			name := p.tok.Lexeme
			line, col := p.tok.Line, p.tok.Col
			p.next()
			if p.accept(lex.COLON) || p.accept(lex.SCOPE) {
				lbl := ast.New(ast.Label, line, col)
				lbl.Ident = name
				blk.Append(lbl)
				continue
			}
			p.restore(sp)
		}

		if p.at(lex.ASM_OP) || p.at(lex.IDENT) {
			blk.Append(p.parseAsmInstr())
			continue
		}
		if p.accept(lex.SEMICOLON) {
			continue
		}
		p.errorf("unexpected %s in asm block", p.tok.Kind)
	}
	p.expect(lex.RBRACE, "asm block")
	return blk
}

func (p *Parser) parseAsmInstr() *ast.Node {
	ins := ast.New(ast.AsmInstr, p.tok.Line, p.tok.Col)
	ins.Ident = p.tok.Lexeme
	p.next()

	// Operands until end of statement. Assembly statements terminate at
	// ';' or at the next mnemonic/label (newlines are not tokens).
	if p.at(lex.SEMICOLON) || p.at(lex.RBRACE) || p.at(lex.ASM_OP) {
		p.accept(lex.SEMICOLON)
		return ins
	}
	for {
		ins.Append(p.parseAsmOperand())
		if !p.accept(lex.COMMA) {
			break
		}
	}
	p.accept(lex.SEMICOLON)
	return ins
}

// parseAsmOperand parses one operand: register, segment-prefixed memory,
// immediate expression, size-specified memory, or a label reference.
func (p *Parser) parseAsmOperand() *ast.Node {
	op := ast.New(ast.AsmOperand, p.tok.Line, p.tok.Col)

	size := 0
	if p.at(lex.ASM_SIZE) {
		size = p.tok.ByteLen
		p.next()
	}

	seg := x64.SegNone
	if p.at(lex.ASM_SEG) {
		sp := p.save()
		segNum := int(p.tok.Int)
		p.next()
		if p.accept(lex.COLON) {
			seg = x64.Seg(segNum)
		} else {
			p.restore(sp)
		}
	}

	switch {
	case p.at(lex.ASM_REG):
		arg := x64.NewRegArg(x64.Reg(p.tok.Int), p.tok.ByteLen)
		arg.Seg = seg
		op.Arg = &arg
		p.next()
	case p.at(lex.ASM_SEG):
		arg := x64.AsmArg{Seg: x64.Seg(p.tok.Int), Reg1: x64.RegNone, Reg2: x64.RegNone, Size: 2, IsReg: true}
		op.Arg = &arg
		p.next()
	case p.at(lex.LBRACKET):
		arg := p.parseAsmMem(size)
		arg.Seg = seg
		op.Arg = &arg
	case p.at(lex.IDENT):
		// Label or symbol reference, resolved at encode time.
		op.Ident = p.tok.Lexeme
		arg := x64.AsmArg{Reg1: x64.RegNone, Reg2: x64.RegNone, Seg: seg, Size: 8, RIPRel: true}
		op.Arg = &arg
		p.next()
	default:
		v, ok := p.constEval(p.parseAssignExpr())
		if !ok {
			p.errorf("Expected constant assembly operand")
		}
		if size == 0 {
			size = 8
		}
		arg := x64.NewImmArg(v, size)
		arg.Seg = seg
		op.Arg = &arg
	}
	return op
}

// parseAsmMem parses `[base + index*scale + disp]` with any operand order
// the source writes: registers, a scaled register, and constant
// displacements joined by + or -.
func (p *Parser) parseAsmMem(size int) x64.AsmArg {
	p.next() // [
	base := x64.RegNone
	index := x64.RegNone
	scale := 1
	disp := int64(0)
	neg := false

	for !p.at(lex.RBRACKET) && !p.at(lex.EOF) {
		switch {
		case p.at(lex.ASM_REG):
			r := x64.Reg(p.tok.Int)
			p.next()
			if p.accept(lex.MUL) {
				if !p.at(lex.INT) {
					p.errorf("Expected scale after *")
				} else {
					scale = int(p.tok.Int)
					p.next()
				}
				index = r
			} else if base == x64.RegNone {
				base = r
			} else {
				index = r
			}
		case p.at(lex.INT) || p.at(lex.CHAR):
			v := int64(p.tok.Int)
			if neg {
				v = -v
			}
			disp += v
			p.next()
		case p.accept(lex.ADD):
			neg = false
			continue
		case p.accept(lex.SUB):
			neg = true
			continue
		default:
			p.errorf("unexpected %s in memory operand", p.tok.Kind)
			p.next()
		}
		neg = false
		if !p.at(lex.ADD) && !p.at(lex.SUB) && !p.at(lex.RBRACKET) {
			break
		}
	}
	p.expect(lex.RBRACKET, "memory operand")
	if size == 0 {
		size = 8
	}
	return x64.NewMemArg(base, index, scale, disp, size)
}
