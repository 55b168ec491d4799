// Package compile glues the phases into the strictly sequential pipeline:
// lex, parse, type check, lower, optimize, generate, resolve. Each phase
// runs to completion before the next begins; ownership of the AST moves
// from the parser to the checker to the IR builder.
package compile

import (
	"github.com/oisee/holyc-aot/pkg/aot"
	"github.com/oisee/holyc-aot/pkg/check"
	"github.com/oisee/holyc-aot/pkg/codegen"
	"github.com/oisee/holyc-aot/pkg/diag"
	"github.com/oisee/holyc-aot/pkg/ir"
	"github.com/oisee/holyc-aot/pkg/lex"
	"github.com/oisee/holyc-aot/pkg/opt"
	"github.com/oisee/holyc-aot/pkg/parse"
)

// Default symbol-address synthesis constants: functions and variables get
// insertion-order addresses at the lowering boundary.
const (
	FuncOffset = 0x10000
	FuncSize   = 0x100
	VarOffset  = 0x20000
	VarSize    = 8
)

// Options selects the passes and target features.
type Options struct {
	Passes  opt.Mask
	Origin  int64
	M64     bool
	RIPRel  bool
	ExtRegs bool
	SSE     bool
	AVX     bool
	Verbose bool

	Parse parse.Config
}

// DefaultOptions enables every pass and the 64-bit feature set.
func DefaultOptions() Options {
	return Options{
		Passes:  opt.AllPasses,
		M64:     true,
		RIPRel:  true,
		ExtRegs: true,
		Parse:   parse.DefaultConfig(),
	}
}

// Result is one finished compilation.
type Result struct {
	Image    *aot.Image
	Module   *ir.Module
	Reporter *diag.Reporter
	Syms     *parse.SymTab
}

// ExitCode is 0 iff no error-severity diagnostic was produced.
func (r *Result) ExitCode() int {
	return r.Reporter.ExitCode()
}

// Compile runs the whole pipeline over one source buffer.
func Compile(file string, src []byte, opts Options) *Result {
	rep := diag.NewReporter(file)

	lx := lex.New(src, rep)
	p := parse.New(lx, rep, opts.Parse)
	prog := p.Parse()

	check.Check(prog, p.Syms, rep)

	// Two-pass address synthesis: all symbols (builtins included) are in
	// the table before any address is computed.
	p.Syms.AssignAddresses(FuncOffset, FuncSize, VarOffset, VarSize)

	mod := ir.Lower(prog, p.Syms, rep)

	opt.Run(mod, opt.Options{Passes: opts.Passes, ExtRegs: opts.ExtRegs})

	img := codegen.Generate(mod, rep, codegen.Options{
		Origin:  opts.Origin,
		RIPRel:  opts.RIPRel,
		ExtRegs: opts.ExtRegs,
		SSE:     opts.SSE,
		AVX:     opts.AVX,
	})

	return &Result{Image: img, Module: mod, Reporter: rep, Syms: p.Syms}
}
