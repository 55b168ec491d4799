package parse

import "github.com/oisee/holyc-aot/pkg/ast"

// VarEntry is one variable owned by a scope.
type VarEntry struct {
	Name   string
	Decl   *ast.Node
	Offset int // stack offset within the enclosing function frame
}

// Scope is one lexical scope level: an ordered list of variable entries, a
// parent pointer, an identity, and a rolling stack-offset cursor. Scope
// lifetime is strictly nested; a scope dies when its block or function body
// ends.
type Scope struct {
	Vars   []VarEntry
	Parent *Scope
	ID     int
	Offset int // next stack offset to hand out
	IsFunc bool
	IsBlock bool
}

// Lookup finds a variable in this scope only.
func (s *Scope) Lookup(name string) *VarEntry {
	for i := range s.Vars {
		if s.Vars[i].Name == name {
			return &s.Vars[i]
		}
	}
	return nil
}

// ScopeStack is the scope chain consulted during name resolution, from the
// innermost scope to the global scope.
type ScopeStack struct {
	top    *Scope
	depth  int
	nextID int
}

// NewScopeStack creates a stack holding only the global scope.
func NewScopeStack() *ScopeStack {
	st := &ScopeStack{}
	st.Push(false, false) // global scope
	return st
}

// Push enters a new scope.
func (st *ScopeStack) Push(isFunc, isBlock bool) *Scope {
	s := &Scope{Parent: st.top, ID: st.nextID, IsFunc: isFunc, IsBlock: isBlock}
	if st.top != nil && !isFunc {
		// Block scopes continue the enclosing frame's offset cursor.
		s.Offset = st.top.Offset
	}
	st.nextID++
	st.top = s
	st.depth++
	return s
}

// Pop exits the innermost scope. A block scope hands its high-water offset
// cursor back to the parent so sibling blocks never alias frame slots
// (frame slots are never reused; the memory-layout pass only aligns the
// frame).
func (st *ScopeStack) Pop() {
	if st.top != nil {
		if p := st.top.Parent; p != nil && st.top.IsBlock && st.top.Offset > p.Offset {
			p.Offset = st.top.Offset
		}
		st.top = st.top.Parent
		st.depth--
	}
}

// Depth returns the current nesting depth (1 = only the global scope).
func (st *ScopeStack) Depth() int {
	return st.depth
}

// Top returns the innermost scope.
func (st *ScopeStack) Top() *Scope {
	return st.top
}

// Lookup walks the scope chain from the innermost scope to the global one.
func (st *ScopeStack) Lookup(name string) (*VarEntry, *Scope) {
	for s := st.top; s != nil; s = s.Parent {
		if v := s.Lookup(name); v != nil {
			return v, s
		}
	}
	return nil, nil
}

// Declare inserts a variable into the innermost scope. Within function and
// block scopes each variable advances the stack cursor by 8 bytes. The
// second return is false when the name is already declared in this scope
// (the new declaration is dropped).
func (st *ScopeStack) Declare(name string, decl *ast.Node) (*VarEntry, bool) {
	s := st.top
	if s.Lookup(name) != nil {
		return nil, false
	}
	off := 0
	if s.IsFunc || s.IsBlock {
		s.Offset += 8
		off = s.Offset
	}
	s.Vars = append(s.Vars, VarEntry{Name: name, Decl: decl, Offset: off})
	return &s.Vars[len(s.Vars)-1], true
}
