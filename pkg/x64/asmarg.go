package x64

// Mode is the addressing-mode tag of an assembly operand.
type Mode int

const (
	ModeDirect    Mode = iota // register
	ModeIndirect              // [reg]
	ModeDisp                  // [reg+disp]
	ModeIndex                 // [base+index]
	ModeScale                 // [index*scale]
	ModeDispIndex             // [base+index+disp]
	ModeDispScale             // [base+index*scale+disp]
	ModeAbs                   // [abs]
)

var modeNames = [...]string{
	"direct", "indirect", "disp", "index", "scale",
	"disp+index", "disp+scale", "abs",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "mode?"
}

// AsmArg is one decoded inline-assembly operand: value, registers, segment,
// scale, displacement, addressing mode, and the x86 encoding fields filled
// by the encoder.
type AsmArg struct {
	// Numeric value: immediate (Imm true) or absolute address (Abs true).
	Int   int64
	Float float64
	Str   string

	Reg1     Reg // primary register
	Reg1Size int // bytes
	Reg2     Reg // index register, RegNone if absent
	Reg2Size int
	Seg      Seg

	Size  int   // operand size in bytes
	Scale int   // 1, 2, 4, 8
	Disp  int64 // displacement

	Mode Mode

	// Flags
	Imm      bool // operand is an immediate
	IsReg    bool // operand is a bare register
	Mem      bool // operand touches memory
	Abs      bool // absolute address
	RIPRel   bool // RIP-relative reference
	Indirect bool
	HasDisp  bool
	HasScale bool

	// Encoding fields, filled by Encode*.
	REX    byte
	ModRM  byte
	SIB    byte
	OpExt  byte // opcode extension placed in ModRM.reg
	HasSIB bool
}

// NewRegArg builds a direct register operand.
func NewRegArg(r Reg, size int) AsmArg {
	return AsmArg{
		Reg1: r, Reg1Size: size, Reg2: RegNone, Seg: SegNone,
		Size: size, Scale: 1, Mode: ModeDirect, IsReg: true,
	}
}

// NewImmArg builds an immediate operand.
func NewImmArg(v int64, size int) AsmArg {
	return AsmArg{
		Int: v, Reg1: RegNone, Reg2: RegNone, Seg: SegNone,
		Size: size, Scale: 1, Mode: ModeDirect, Imm: true,
	}
}

// NewMemArg builds a memory operand [base + index*scale + disp]. Pass
// RegNone for absent registers.
func NewMemArg(base, index Reg, scale int, disp int64, size int) AsmArg {
	a := AsmArg{
		Reg1: base, Reg1Size: 8, Reg2: index, Reg2Size: 8, Seg: SegNone,
		Size: size, Scale: scale, Disp: disp,
		Mem: true, Indirect: true,
	}
	a.HasDisp = disp != 0
	a.HasScale = scale > 1
	switch {
	case base == RegNone && index == RegNone:
		a.Mode = ModeAbs
		a.Abs = true
	case index == RegNone && !a.HasDisp:
		a.Mode = ModeIndirect
	case index == RegNone:
		a.Mode = ModeDisp
	case a.HasScale && a.HasDisp:
		a.Mode = ModeDispScale
	case a.HasScale:
		a.Mode = ModeScale
	case a.HasDisp:
		a.Mode = ModeDispIndex
	default:
		a.Mode = ModeIndex
	}
	return a
}
