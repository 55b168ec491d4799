package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/oisee/holyc-aot/pkg/compile"
	"github.com/oisee/holyc-aot/pkg/diag"
	"github.com/oisee/holyc-aot/pkg/lex"
	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "holycc",
		Short: "holycc — ahead-of-time HolyC compiler for x86-64",
	}

	// compile command
	var output string
	var verbose bool
	var noPasses []int
	var origin int64
	var m64, ripRel, extRegs, sse, avx bool

	compileCmd := &cobra.Command{
		Use:   "compile [file.HC]...",
		Short: "Compile HolyC sources into an AOT image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := compile.DefaultOptions()
			opts.Verbose = verbose
			opts.Origin = origin
			opts.M64 = m64
			opts.RIPRel = ripRel
			opts.ExtRegs = extRegs
			opts.SSE = sse
			opts.AVX = avx
			for _, n := range noPasses {
				if n < 0 || n > 9 {
					return fmt.Errorf("invalid pass number %d: passes are 0-9", n)
				}
				opts.Passes = opts.Passes.Without(n)
			}

			exitCode := 0
			for _, path := range args {
				src, err := os.ReadFile(path)
				if err != nil {
					return err
				}

				if verbose {
					fmt.Printf("holycc: compiling %s (%d bytes)\n", path, len(src))
				}
				res := compile.Compile(path, src, opts)
				res.Reporter.Print(os.Stderr)
				if verbose {
					fmt.Printf("  %d functions, %d strings, %d globals\n",
						len(res.Module.Funcs), len(res.Module.Strings), len(res.Module.Globals))
					fmt.Printf("  %s\n", res.Image)
					for _, imp := range res.Image.Imports {
						fmt.Printf("  import: %s\n", imp)
					}
				}
				if res.ExitCode() != 0 {
					exitCode = res.ExitCode()
					continue
				}

				out := output
				if out == "" {
					out = strings.TrimSuffix(path, ".HC") + ".bin"
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if _, err := res.Image.WriteTo(f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				if verbose {
					fmt.Printf("  written to %s\n", out)
				}
			}
			if exitCode != 0 {
				os.Exit(exitCode)
			}
			return nil
		},
	}
	compileCmd.Flags().StringVarP(&output, "output", "o", "", "Output image path")
	compileCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	compileCmd.Flags().IntSliceVar(&noPasses, "no-pass", nil, "Disable optimization pass N (repeatable, 0-9)")
	compileCmd.Flags().Int64Var(&origin, "origin", 0, "Image origin address")
	compileCmd.Flags().BoolVar(&m64, "m64", true, "64-bit mode")
	compileCmd.Flags().BoolVar(&ripRel, "rip-rel", true, "RIP-relative addressing")
	compileCmd.Flags().BoolVar(&extRegs, "ext-regs", true, "Use extended registers R8-R15")
	compileCmd.Flags().BoolVar(&sse, "sse", false, "Enable SSE")
	compileCmd.Flags().BoolVar(&avx, "avx", false, "Enable AVX")

	// tokens command
	tokensCmd := &cobra.Command{
		Use:   "tokens [file.HC]",
		Short: "Dump the token stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rep := diag.NewReporter(args[0])
			lx := lex.New(src, rep)
			for {
				t := lx.Next()
				if t.Kind == lex.EOF {
					break
				}
				switch t.Kind {
				case lex.INT:
					fmt.Printf("%4d:%-3d %-12s %d\n", t.Line, t.Col, t.Kind, t.Int)
				case lex.FLOAT:
					fmt.Printf("%4d:%-3d %-12s %g\n", t.Line, t.Col, t.Kind, t.Float)
				case lex.STRING:
					fmt.Printf("%4d:%-3d %-12s %s\n", t.Line, t.Col, t.Kind, strconv.Quote(t.Str))
				case lex.CHAR:
					fmt.Printf("%4d:%-3d %-12s 0x%X (%d bytes)\n", t.Line, t.Col, t.Kind, t.Int, t.ByteLen)
				default:
					fmt.Printf("%4d:%-3d %-12s %s\n", t.Line, t.Col, t.Kind, t.Lexeme)
				}
			}
			rep.Print(os.Stderr)
			os.Exit(rep.ExitCode())
			return nil
		},
	}

	// disasm command
	var disasmAll bool
	disasmCmd := &cobra.Command{
		Use:   "disasm [file.HC]",
		Short: "Compile and print an x86-64 listing of the generated code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			opts := compile.DefaultOptions()
			res := compile.Compile(args[0], src, opts)
			res.Reporter.Print(os.Stderr)
			if res.ExitCode() != 0 {
				os.Exit(res.ExitCode())
			}

			code := res.Image.Bytes()
			offset := 0
			for offset < len(code) {
				inst, err := x86asm.Decode(code[offset:], 64)
				if err != nil {
					if !disasmAll {
						break
					}
					fmt.Printf("%08X: db 0x%02X\n", offset, code[offset])
					offset++
					continue
				}
				fmt.Printf("%08X: %s\n", offset, x86asm.IntelSyntax(inst, uint64(offset), nil))
				offset += inst.Len
			}
			return nil
		},
	}
	disasmCmd.Flags().BoolVar(&disasmAll, "all", false, "Keep decoding past data bytes")

	rootCmd.AddCommand(compileCmd, tokensCmd, disasmCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
