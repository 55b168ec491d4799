package parse

import (
	"github.com/oisee/holyc-aot/pkg/ast"
	"github.com/oisee/holyc-aot/pkg/types"
)

// SymKind classifies a symbol-table entry.
type SymKind int

const (
	SymFunc SymKind = iota
	SymVar
	SymIdent // implicit identifier created for an undeclared-name recovery
)

func (k SymKind) String() string {
	switch k {
	case SymFunc:
		return "function"
	case SymVar:
		return "variable"
	}
	return "identifier"
}

// Symbol is one symbol-table entry. Addr is synthesized from insertion
// order, but only at the lowering boundary (AssignAddresses), so inserting
// builtins never shifts user addresses mid-parse.
type Symbol struct {
	Name    string
	Kind    SymKind
	Decl    *ast.Node
	Addr    int64
	Index   int // per-kind insertion index
	Builtin bool

	Result   types.Type
	Params   []types.Type
	Defaults []*ast.Node // default-argument expressions, nil where absent
	Variadic bool
}

// SymTab is the flat, append-only symbol table.
type SymTab struct {
	list   []*Symbol
	byName map[string]*Symbol
}

// NewSymTab creates an empty table.
func NewSymTab() *SymTab {
	return &SymTab{byName: make(map[string]*Symbol)}
}

// Insert appends a symbol. A name collision keeps the first entry and
// returns it with ok=false.
func (t *SymTab) Insert(sym *Symbol) (*Symbol, bool) {
	if prev, exists := t.byName[sym.Name]; exists {
		return prev, false
	}
	t.list = append(t.list, sym)
	t.byName[sym.Name] = sym
	return sym, true
}

// Lookup finds a symbol by name.
func (t *SymTab) Lookup(name string) *Symbol {
	return t.byName[name]
}

// Symbols returns the entries in insertion order.
func (t *SymTab) Symbols() []*Symbol {
	return t.list
}

// AssignAddresses computes every symbol's synthesized address in one pass:
// functions get funcOffset + index*funcSize, variables varOffset +
// index*varSize, with indices counted per kind in insertion order. Called
// once at the lowering boundary, after all declarations (builtins included)
// are in the table.
func (t *SymTab) AssignAddresses(funcOffset, funcSize, varOffset, varSize int64) {
	nf, nv := 0, 0
	for _, s := range t.list {
		switch s.Kind {
		case SymFunc:
			s.Index = nf
			s.Addr = funcOffset + int64(nf)*funcSize
			nf++
		default:
			s.Index = nv
			s.Addr = varOffset + int64(nv)*varSize
			nv++
		}
	}
}

// RegisterBuiltins pre-inserts the host-provided builtin functions with
// their documented signatures. These names resolve at AOT time through the
// import table.
func (t *SymTab) RegisterBuiltins() {
	builtins := []*Symbol{
		{Name: "Print", Kind: SymFunc, Builtin: true, Result: types.Void,
			Params: []types.Type{types.TString}, Variadic: true},
		{Name: "PutChars", Kind: SymFunc, Builtin: true, Result: types.Void,
			Params: []types.Type{types.TString}},
		{Name: "PutChar", Kind: SymFunc, Builtin: true, Result: types.Void,
			Params: []types.Type{types.TI64}},
		{Name: "GetI64", Kind: SymFunc, Builtin: true, Result: types.TI64},
		{Name: "GetF64", Kind: SymFunc, Builtin: true, Result: types.TF64},
		{Name: "GetString", Kind: SymFunc, Builtin: true, Result: types.TI64,
			Params: []types.Type{types.PointerTo(types.TU8)}},
	}
	for _, b := range builtins {
		t.Insert(b)
	}
}
