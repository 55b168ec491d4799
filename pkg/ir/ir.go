// Package ir is the intermediate-code layer. Each instruction is
// assembly-shaped: an opcode, up to two argument slots plus a result slot,
// register-allocation fields, stack-offset fields, and an optional raw
// instruction body.
package ir

import (
	"fmt"

	"github.com/oisee/holyc-aot/pkg/types"
	"github.com/oisee/holyc-aot/pkg/x64"
)

// Op is the IR operation code.
type Op int

const (
	Nop Op = iota
	LabelOp // Arg1 = label handle; marks a jump target

	// Arithmetic
	Add
	Sub
	Mul
	Div
	Mod
	Neg

	// Logical and bitwise
	And
	Or
	Xor
	Not  // bitwise complement
	LNot // logical not

	// Shifts
	Shl
	Shr

	// Comparison: Res = Arg1 cmp Arg2 as Bool
	CmpLt
	CmpGt
	CmpLe
	CmpGe
	CmpEq
	CmpNe

	// Assignment variants
	Assign
	AssignAdd
	AssignSub
	AssignMul
	AssignDiv
	AssignMod
	AssignAnd
	AssignOr
	AssignXor
	AssignShl
	AssignShr

	// Calls and control transfer
	Call // Arg1 = Sym callee, StackOff = arg count; Res = value
	Ret  // Arg1 = return value (None for U0)
	Jmp  // Arg1 = label
	JmpTrue
	JmpFalse

	// Stack and memory
	Push // Arg1 = value, StackOff = argument index
	Pop
	Load     // Res = *Arg1
	Store    // *Arg1(slot/sym) = Arg2
	Lea      // Res = address of Arg1
	LoadSub  // Res = width-sized read: Arg1 base, Arg2 index; Size = member width
	StoreSub // width-sized write at Arg1 base, Arg2 index; Res slot carries the value

	Cast // Res = Arg1 converted to Res.Type

	// Builtins and specials
	Builtin
	AsmInline // Body carries pre-encoded machine bytes
	AsmRegAlloc
	AsmMemAccess
	AsmImm
	AsmJumpTable
	DotDot
	DollarOp
	ClassAccess

	// Exceptions
	TryEnter // Arg1 = catch label
	TryExit
	ThrowOp

	// AOT plumbing
	AotStore
	AotResolve
	AotPatch

	opCount // sentinel
)

var opNames = [...]string{
	Nop: "nop", LabelOp: "label",
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod", Neg: "neg",
	And: "and", Or: "or", Xor: "xor", Not: "not", LNot: "lnot",
	Shl: "shl", Shr: "shr",
	CmpLt: "cmplt", CmpGt: "cmpgt", CmpLe: "cmple", CmpGe: "cmpge",
	CmpEq: "cmpeq", CmpNe: "cmpne",
	Assign: "assign", AssignAdd: "assign+", AssignSub: "assign-",
	AssignMul: "assign*", AssignDiv: "assign/", AssignMod: "assign%",
	AssignAnd: "assign&", AssignOr: "assign|", AssignXor: "assign^",
	AssignShl: "assign<<", AssignShr: "assign>>",
	Call: "call", Ret: "ret", Jmp: "jmp", JmpTrue: "jmptrue", JmpFalse: "jmpfalse",
	Push: "push", Pop: "pop", Load: "load", Store: "store", Lea: "lea",
	LoadSub: "loadsub", StoreSub: "storesub", Cast: "cast",
	Builtin: "builtin", AsmInline: "asm", AsmRegAlloc: "asmreg",
	AsmMemAccess: "asmmem", AsmImm: "asmimm", AsmJumpTable: "asmjumptable",
	DotDot: "dotdot", DollarOp: "dollar", ClassAccess: "classaccess",
	TryEnter: "tryenter", TryExit: "tryexit", ThrowOp: "throw",
	AotStore: "aotstore", AotResolve: "aotresolve", AotPatch: "aotpatch",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return "op?"
}

// IsCmp reports whether the op is a comparison.
func (o Op) IsCmp() bool {
	return o >= CmpLt && o <= CmpNe
}

// HasSideEffect reports whether removing the instruction could change
// program behavior even when its result is unused.
func (o Op) HasSideEffect() bool {
	switch o {
	case Call, Ret, Jmp, JmpTrue, JmpFalse, Store, StoreSub, Push, Pop,
		LabelOp, AsmInline, TryEnter, TryExit, ThrowOp, Builtin,
		AotStore, AotResolve, AotPatch:
		return true
	}
	return false
}

// OperandKind tags an instruction argument or result slot.
type OperandKind int

const (
	KNone  OperandKind = iota
	KVReg              // virtual register handle
	KStack             // frame slot, Val = positive offset below RBP
	KImm               // integer immediate
	KFImm              // float immediate
	KLabel             // numeric label handle
	KSym               // symbol name (function, global, string constant)
	KReg               // fixed machine register
	KStr               // string constant label
)

// Operand is one argument or result slot.
type Operand struct {
	Kind OperandKind
	Val  int64
	F    float64
	Sym  string
	Reg  x64.Reg
	Type types.Type
}

// None is the empty operand.
var None = Operand{Kind: KNone}

// Imm builds an integer immediate operand.
func Imm(v int64, t types.Type) Operand {
	return Operand{Kind: KImm, Val: v, Type: t}
}

// VReg builds a virtual-register operand.
func VReg(id int64, t types.Type) Operand {
	return Operand{Kind: KVReg, Val: id, Type: t}
}

// Stack builds a frame-slot operand.
func Stack(off int64, t types.Type) Operand {
	return Operand{Kind: KStack, Val: off, Type: t}
}

// Label builds a label operand.
func Label(id int64) Operand {
	return Operand{Kind: KLabel, Val: id}
}

// Sym builds a symbol operand.
func Sym(name string, t types.Type) Operand {
	return Operand{Kind: KSym, Sym: name, Type: t}
}

func (o Operand) String() string {
	switch o.Kind {
	case KNone:
		return "_"
	case KVReg:
		return fmt.Sprintf("v%d", o.Val)
	case KStack:
		return fmt.Sprintf("[rbp-%d]", o.Val)
	case KImm:
		return fmt.Sprintf("%d", o.Val)
	case KFImm:
		return fmt.Sprintf("%g", o.F)
	case KLabel:
		return fmt.Sprintf("L%d", o.Val)
	case KSym:
		return o.Sym
	case KReg:
		return o.Reg.String()
	case KStr:
		return "$" + o.Sym
	}
	return "?"
}

// Ins is one IR instruction.
type Ins struct {
	Op     Op
	Prec   int
	ArgCnt int
	Arg1   Operand
	Arg2   Operand
	Res    Operand
	Line   int

	// Flags
	AOTCompile   bool
	ResultUnused bool

	// Encoding fields, filled during emission preparation and codegen.
	Opcode    byte
	Prefix    [4]byte
	PrefixLen int
	Size      int // access width for Load/Store/LoadSub/StoreSub; encoded size estimate otherwise

	// Register allocation results.
	Regs     []x64.Reg
	StackOff int

	// Emitted bytes: each instruction exclusively owns its buffer.
	Bytes []byte

	// Inline body (pre-encoded assembly) or tree links to child nodes.
	Body []byte
	L, R int32
}

func (i Ins) String() string {
	s := fmt.Sprintf("%-9s %s", i.Op, i.Res)
	if i.Arg1.Kind != KNone {
		s += ", " + i.Arg1.String()
	}
	if i.Arg2.Kind != KNone {
		s += ", " + i.Arg2.String()
	}
	return s
}

// RegLoc is where a virtual register lives after allocation.
type RegLoc struct {
	InReg bool
	Reg   x64.Reg
	Spill int // frame offset when spilled
}

// Func is one lowered function: a linear instruction list plus the frame
// and register-allocation state the later passes and codegen consume.
type Func struct {
	Name      string
	Ins       []Ins
	NumLabels int
	NumVRegs  int
	FrameSize int
	Result    types.Type

	// Filled by the register-allocation pass.
	Alloc       []RegLoc
	UsedCalleeSave []x64.Reg
	SpillBytes  int
	RegsSpilled bool
}

// NewLabel hands out the next label handle.
func (f *Func) NewLabel() int64 {
	id := int64(f.NumLabels)
	f.NumLabels++
	return id
}

// NewVReg hands out the next virtual register.
func (f *Func) NewVReg(t types.Type) Operand {
	id := int64(f.NumVRegs)
	f.NumVRegs++
	return VReg(id, t)
}

// Emit appends an instruction and returns its index.
func (f *Func) Emit(ins Ins) int32 {
	f.Ins = append(f.Ins, ins)
	return int32(len(f.Ins) - 1)
}

// StringConst is one interned string literal destined for the image.
type StringConst struct {
	Label string
	Data  []byte // NUL-terminated
}

// GlobalVar is one heap-global: name, byte size, and the AOT side tables
// collect its reference sites during codegen.
type GlobalVar struct {
	Name string
	Size int64
	Type types.Type
}

// Module is the unit of lowering: every function (top-level statements
// land in the synthetic entry function) plus string and global tables.
type Module struct {
	Funcs   []*Func
	Strings []StringConst
	Globals []GlobalVar

	strIndex map[string]string // literal -> label
}

// EntryName is the synthetic function holding top-level statements.
const EntryName = "__main"

// InternString returns the label for a string literal, creating it on
// first use.
func (m *Module) InternString(s string) string {
	if m.strIndex == nil {
		m.strIndex = make(map[string]string)
	}
	if l, ok := m.strIndex[s]; ok {
		return l
	}
	label := fmt.Sprintf("__str%d", len(m.Strings))
	data := append([]byte(s), 0)
	m.Strings = append(m.Strings, StringConst{Label: label, Data: data})
	m.strIndex[s] = label
	return label
}

// Lookup returns a function by name.
func (m *Module) Lookup(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}
