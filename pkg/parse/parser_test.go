package parse

import (
	"strings"
	"testing"

	"github.com/oisee/holyc-aot/pkg/ast"
	"github.com/oisee/holyc-aot/pkg/diag"
	"github.com/oisee/holyc-aot/pkg/lex"
)

func parseSrc(t *testing.T, src string) (*ast.Node, *Parser, *diag.Reporter) {
	t.Helper()
	rep := diag.NewReporter("test.HC")
	lx := lex.New([]byte(src), rep)
	p := New(lx, rep, DefaultConfig())
	prog := p.Parse()
	return prog, p, rep
}

func hasMessage(rep *diag.Reporter, substr string) bool {
	for _, r := range rep.Records() {
		if strings.Contains(r.Message, substr) {
			return true
		}
	}
	return false
}

// findNode returns the first node of the given kind in the tree.
func findNode(root *ast.Node, kind ast.Kind) *ast.Node {
	var found *ast.Node
	ast.Walk(root, func(n *ast.Node) bool {
		if found != nil {
			return false
		}
		if n.Kind == kind {
			found = n
			return false
		}
		return true
	})
	return found
}

// TestScopeDepthBalanced verifies scope nesting is net zero across a
// parse, for straight and error-recovering inputs alike.
func TestScopeDepthBalanced(t *testing.T) {
	sources := []string{
		"I64 x;",
		"U0 f() { I64 a; { I64 b; { I64 c; } } }",
		"I64 f(I64 a) { if (a) { return 1; } return 0; }",
		"U0 broken() { if ( } I64 ok;", // error recovery path
	}
	for _, src := range sources {
		_, p, _ := parseSrc(t, src)
		if d := p.Scopes.Depth(); d != 1 {
			t.Errorf("%q: scope depth %d after parse, want 1", src, d)
		}
	}
}

// TestFunctionVsVariable verifies the speculative disambiguation between
// a function definition and a variable declaration.
func TestFunctionVsVariable(t *testing.T) {
	prog, _, rep := parseSrc(t, "I64 f() { return 1; }\nI64 g;")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	kids := prog.Kids()
	if len(kids) != 2 {
		t.Fatalf("got %d top-level nodes, want 2", len(kids))
	}
	if kids[0].Kind != ast.Function || kids[0].Ident != "f" {
		t.Errorf("first node: %s %q, want Function f", kids[0].Kind, kids[0].Ident)
	}
	if kids[1].Kind != ast.VarDecl || kids[1].Ident != "g" {
		t.Errorf("second node: %s %q, want VarDecl g", kids[1].Kind, kids[1].Ident)
	}
}

// TestLabelVsExpression verifies `name:` parses as a label while a plain
// identifier expression does not.
func TestLabelVsExpression(t *testing.T) {
	prog, _, _ := parseSrc(t, "U0 f() { again: f; goto again; }")
	lbl := findNode(prog, ast.Label)
	if lbl == nil || lbl.Ident != "again" {
		t.Fatal("expected a Label node named 'again'")
	}
	g := findNode(prog, ast.Goto)
	if g == nil || g.Ident != "again" {
		t.Fatal("expected a Goto node targeting 'again'")
	}
	// `f;` resolves to the function symbol: a call without parentheses.
	call := findNode(prog, ast.Call)
	if call == nil || !call.NoParens {
		t.Fatal("expected a no-paren Call node for `f;`")
	}
}

// TestTypePrefixedUnion verifies `[public] IDENT union NAME { ... };`.
func TestTypePrefixedUnion(t *testing.T) {
	prog, _, rep := parseSrc(t, "public I64i union I64 { I8 i8[8]; U16 u16[4]; };")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	u := findNode(prog, ast.UnionDef)
	if u == nil {
		t.Fatal("expected a UnionDef node")
	}
	if u.Prefix != "I64i" || u.Ident != "I64" || !u.Public {
		t.Errorf("got prefix %q name %q public %v, want I64i I64 true", u.Prefix, u.Ident, u.Public)
	}
	if got := u.CountChildren(); got != 2 {
		t.Errorf("member count %d, want 2", got)
	}
}

// TestRangeComparisonChain verifies a chain of three or more relational
// operands collapses into one RangeCmp node with ordered operators.
func TestRangeComparisonChain(t *testing.T) {
	prog, _, rep := parseSrc(t, "I64 i; I64 j; Bool b = 5<i<j+1<20;")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	rc := findNode(prog, ast.RangeCmp)
	if rc == nil {
		t.Fatal("expected a RangeCmp node")
	}
	if got := len(rc.CmpOps); got != 3 {
		t.Fatalf("operator count %d, want 3", got)
	}
	want := []lex.Kind{lex.LT, lex.LT, lex.LT}
	for i, op := range rc.CmpOps {
		if op != want[i] {
			t.Errorf("op %d: %s, want %s", i, op, want[i])
		}
	}
	if got := rc.CountChildren(); got != 4 {
		t.Errorf("operand count %d, want 4", got)
	}
}

// TestTwoComparisonsStayBinary verifies a single comparison remains a
// Binary node.
func TestTwoComparisonsStayBinary(t *testing.T) {
	prog, _, _ := parseSrc(t, "I64 i; Bool b = i < 10;")
	if rc := findNode(prog, ast.RangeCmp); rc != nil {
		t.Fatal("a single comparison must not produce RangeCmp")
	}
	bin := findNode(prog, ast.Binary)
	if bin == nil || bin.Op != lex.LT {
		t.Fatal("expected a Binary < node")
	}
}

// TestSubIntAccess verifies obj.u16[idx] recognition.
func TestSubIntAccess(t *testing.T) {
	prog, _, rep := parseSrc(t, "union I64 u; u.u16[1] = 0xBEEF;")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	s := findNode(prog, ast.SubInt)
	if s == nil {
		t.Fatal("expected a SubInt node")
	}
	if s.MemberType.Width() != 2 || s.MemberType.Signed() {
		t.Errorf("member type %s, want u16", s.MemberType)
	}
	idx := s.NthChild(1)
	if idx == nil || idx.Kind != ast.IntLit || idx.Int != 1 {
		t.Errorf("index: %v, want IntLit 1", idx)
	}
}

// TestUnionMemberAccess verifies u.i64 reads the full width without an
// index.
func TestUnionMemberAccess(t *testing.T) {
	prog, _, _ := parseSrc(t, "union I64 u; I64 v = u.i64;")
	m := findNode(prog, ast.UnionMember)
	if m == nil || m.Ident != "i64" {
		t.Fatal("expected a UnionMember i64 node")
	}
}

// TestRedeclarationWarning verifies the §8 scenario: a duplicate
// declaration warns, is dropped, and the compile stays warning-only.
func TestRedeclarationWarning(t *testing.T) {
	_, _, rep := parseSrc(t, "I64 a; I64 a;")
	if rep.Errors() != 0 {
		t.Fatalf("expected no errors, got %v", rep.Records())
	}
	if rep.Warnings() == 0 {
		t.Fatal("expected a warning")
	}
	if !hasMessage(rep, "variable 'a' already defined in current scope") {
		t.Fatalf("wrong warning text: %v", rep.Records())
	}
	if rep.ExitCode() != 0 {
		t.Error("warnings only must keep exit code 0")
	}
}

// TestUndeclaredIdentifierWarns verifies an undeclared name warns and
// inserts an implicit identifier.
func TestUndeclaredIdentifierWarns(t *testing.T) {
	_, p, rep := parseSrc(t, "I64 x = missing + 1;")
	if !hasMessage(rep, "use of undeclared identifier 'missing'") {
		t.Fatalf("missing warning: %v", rep.Records())
	}
	sym := p.Syms.Lookup("missing")
	if sym == nil || sym.Kind != SymIdent {
		t.Fatal("expected an implicit identifier symbol")
	}
}

// TestCrossedCaseRange verifies `case 5...2:` is rejected at parse time.
func TestCrossedCaseRange(t *testing.T) {
	_, _, rep := parseSrc(t, "I64 x; switch (x) { case 5...2: break; }")
	if rep.Errors() == 0 {
		t.Fatal("expected an error for crossed case bounds")
	}
	if !hasMessage(rep, "crossed bounds") {
		t.Fatalf("wrong message: %v", rep.Records())
	}
}

// TestDuplicateDefault verifies duplicate default cases error.
func TestDuplicateDefault(t *testing.T) {
	_, _, rep := parseSrc(t, "I64 x; switch (x) { default: break; default: break; }")
	if !hasMessage(rep, "duplicate default case") {
		t.Fatalf("expected duplicate-default error, got %v", rep.Records())
	}
}

// TestSwitchShapes verifies case ranges, null cases, nobounds, and
// start/end sub-switch blocks.
func TestSwitchShapes(t *testing.T) {
	src := `I64 x;
switch [x] {
  start: x = 1;
  case 0...255: break;
  case: break;
  end: x = 0;
  default: break;
}`
	prog, _, rep := parseSrc(t, src)
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	sw := findNode(prog, ast.Switch)
	if sw == nil || !sw.Nobounds {
		t.Fatal("expected a nobounds Switch")
	}
	if findNode(sw, ast.SwitchStart) == nil || findNode(sw, ast.SwitchEnd) == nil {
		t.Fatal("expected start/end sub-switch blocks")
	}
	var caseCount int
	ast.Walk(sw, func(n *ast.Node) bool {
		if n.Kind == ast.Case {
			caseCount++
		}
		return true
	})
	if caseCount != 2 {
		t.Errorf("case count %d, want 2", caseCount)
	}
	// The null case auto-increments from the previous range's high bound.
	var nullCase *ast.Node
	ast.Walk(sw, func(n *ast.Node) bool {
		if n.Kind == ast.Case {
			nullCase = n // last one wins
		}
		return true
	})
	lo := nullCase.NthChild(0)
	if lo.Kind != ast.IntLit || lo.Int != 256 {
		t.Errorf("null case value %d, want 256", lo.Int)
	}
}

// TestVarargsMustBeLast verifies `...` anywhere but last errors.
func TestVarargsMustBeLast(t *testing.T) {
	_, _, rep := parseSrc(t, "U0 f(... , I64 x) {}")
	if rep.Errors() == 0 {
		t.Fatal("expected an error for non-final varargs")
	}

	_, p, rep2 := parseSrc(t, "U0 g(I64 fmt, ...) {}")
	if rep2.Errors() != 0 {
		t.Fatalf("trailing varargs should parse: %v", rep2.Records())
	}
	if sym := p.Syms.Lookup("g"); sym == nil || !sym.Variadic {
		t.Fatal("g should be variadic")
	}
}

// TestDefaultArguments verifies default parameter expressions land in the
// symbol table.
func TestDefaultArguments(t *testing.T) {
	_, p, rep := parseSrc(t, "I64 f(I64 a, I64 b = 7) { return a + b; }")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	sym := p.Syms.Lookup("f")
	if sym == nil || len(sym.Defaults) != 2 {
		t.Fatal("expected two default slots")
	}
	if sym.Defaults[0] != nil {
		t.Error("first parameter has no default")
	}
	if sym.Defaults[1] == nil || sym.Defaults[1].Int != 7 {
		t.Error("second parameter's default should be 7")
	}
}

// TestBuiltinsPreRegistered verifies the documented builtin set.
func TestBuiltinsPreRegistered(t *testing.T) {
	_, p, _ := parseSrc(t, ";")
	for _, name := range []string{"Print", "PutChars", "PutChar", "GetI64", "GetF64", "GetString"} {
		sym := p.Syms.Lookup(name)
		if sym == nil || sym.Kind != SymFunc || !sym.Builtin {
			t.Errorf("builtin %s missing or malformed", name)
		}
	}
	if !p.Syms.Lookup("Print").Variadic {
		t.Error("Print should be variadic")
	}
}

// TestAddressSynthesis verifies insertion-order address assignment:
// addr(F) - addr(G) = (index(F) - index(G)) * funcSize.
func TestAddressSynthesis(t *testing.T) {
	_, p, _ := parseSrc(t, "U0 f() {} U0 g() {} U0 h() {} I64 v; I64 w;")
	p.Syms.AssignAddresses(0x1000, 0x100, 0x8000, 8)

	funcs := []*Symbol{}
	for _, s := range p.Syms.Symbols() {
		if s.Kind == SymFunc {
			funcs = append(funcs, s)
		}
	}
	for i, a := range funcs {
		for j, b := range funcs {
			want := int64(a.Index-b.Index) * 0x100
			if got := a.Addr - b.Addr; got != want {
				t.Errorf("addr(%s)-addr(%s) = %d, want %d (i=%d j=%d)", a.Name, b.Name, got, want, i, j)
			}
		}
	}
	v := p.Syms.Lookup("v")
	w := p.Syms.Lookup("w")
	if w.Addr-v.Addr != 8 {
		t.Errorf("variable spacing %d, want 8", w.Addr-v.Addr)
	}
}

// TestErrorRecoveryContinues verifies parsing resumes after a bad
// statement and later declarations still land.
func TestErrorRecoveryContinues(t *testing.T) {
	_, p, rep := parseSrc(t, "I64 a = ; I64 b = 2;")
	if rep.Errors() == 0 {
		t.Fatal("expected a parse error")
	}
	if v, _ := p.Scopes.Lookup("b"); v == nil {
		t.Fatal("parsing should recover and declare b")
	}
}

// TestStrategySelection verifies the message-driven strategy table.
func TestStrategySelection(t *testing.T) {
	tests := []struct {
		msg  string
		want Strategy
	}{
		{"Expected ; in declaration", SkipToSemicolon},
		{"syntax error near token", SkipToSemicolon},
		{"missing ) in call", InsertToken},
		{"unexpected token", DeleteToken},
		{"something else entirely", SkipToSemicolon},
	}
	for _, tc := range tests {
		if got := strategyFor(tc.msg); got != tc.want {
			t.Errorf("strategyFor(%q): got %s want %s", tc.msg, got, tc.want)
		}
	}
}

// TestMaxBlockStmts verifies the configured statement cap reports.
func TestMaxBlockStmts(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("U0 f() {\n")
	for i := 0; i < 5; i++ {
		sb.WriteString("GetI64;\n")
	}
	sb.WriteString("}\n")

	rep := diag.NewReporter("test.HC")
	lx := lex.New([]byte(sb.String()), rep)
	cfg := DefaultConfig()
	cfg.MaxBlockStmts = 3
	p := New(lx, rep, cfg)
	p.Parse()
	if !hasMessage(rep, "exceeds 3 statements") {
		t.Fatalf("expected block-size error, got %v", rep.Records())
	}
}

// TestParseDeterministic verifies repeated parses agree structurally.
func TestParseDeterministic(t *testing.T) {
	src := "I64 f(I64 x) { if (1<x<10) return x; return 0; }"
	count := func() int {
		prog, _, _ := parseSrc(t, src)
		n := 0
		ast.Walk(prog, func(*ast.Node) bool { n++; return true })
		return n
	}
	if a, b := count(), count(); a != b {
		t.Fatalf("node counts differ across parses: %d vs %d", a, b)
	}
}

// TestPostfixCast verifies the HolyC postfix cast x(F64).
func TestPostfixCast(t *testing.T) {
	prog, _, rep := parseSrc(t, "I64 i; F64 d = i(F64);")
	if rep.Errors() != 0 {
		t.Fatalf("unexpected errors: %v", rep.Records())
	}
	c := findNode(prog, ast.Cast)
	if c == nil {
		t.Fatal("expected a Cast node")
	}
	if c.Type.Kind.String() != "F64" {
		t.Errorf("cast type %s, want F64", c.Type)
	}
}
