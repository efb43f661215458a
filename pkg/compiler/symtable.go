package compiler

import (
	"fmt"
	"sort"
	"strings"

	"omnivm/pkg/fault"
	"omnivm/pkg/isa"
)

// SymbolTable maps names to storage. There are two scopes: the program-wide
// globals and the locals of the function currently being compiled.
//
// Global addresses are offsets into the global area of the data segment;
// the code generator rebases them once the string pool is complete.
// Local addresses are offsets from the frame base.
type SymbolTable struct {
	globals   map[string]*isa.Symbol
	functions map[string]*isa.Symbol

	// nil when no function is active.
	locals map[string]*isa.Symbol

	// bytes reserved per name, which a redeclaration may not exceed
	reserved map[*isa.Symbol]int

	nextGlobal int
	nextLocal  int
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		globals:   make(map[string]*isa.Symbol),
		functions: make(map[string]*isa.Symbol),
		reserved:  make(map[*isa.Symbol]int),
	}
}

// EnterFunction opens a fresh local scope with its own offset counter.
func (s *SymbolTable) EnterFunction() {
	s.locals = make(map[string]*isa.Symbol)
	s.nextLocal = 0
}

// ExitFunction closes the local scope and returns the frame size it needed.
func (s *SymbolTable) ExitFunction() int {
	size := s.nextLocal
	s.locals = nil
	s.nextLocal = 0
	return size
}

// InFunction reports whether a local scope is active.
func (s *SymbolTable) InFunction() bool { return s.locals != nil }

// Declare binds name in the active scope. The first declaration reserves
// storage; a redeclaration updates the type in place and keeps the address,
// so the new type must fit the storage already reserved. The second result
// reports a redeclaration.
func (s *SymbolTable) Declare(name string, t *isa.Type, line int) (isa.Symbol, bool, error) {
	scope, counter, global := s.globals, &s.nextGlobal, true
	if s.locals != nil {
		scope, counter, global = s.locals, &s.nextLocal, false
	}

	size := t.Size()
	if sym, ok := scope[name]; ok {
		if reserved := s.reserved[sym]; size > reserved {
			return *sym, true, fault.At(fault.UnsupportedConstruct, line,
				"redeclaration of %q as %s needs %d bytes but %d are reserved", name, t, size, reserved)
		}
		sym.Type = t
		return *sym, true, nil
	}

	sym := &isa.Symbol{Name: name, Type: t, Address: *counter, Global: global}
	*counter += size
	scope[name] = sym
	s.reserved[sym] = size
	return *sym, false, nil
}

// DeclareFunction registers a function signature. Entry addresses are filled
// in with SetFunctionAddress once the body has been emitted.
func (s *SymbolTable) DeclareFunction(name string, ret *isa.Type, params []*isa.Type, line int) (isa.Symbol, error) {
	if prev, ok := s.functions[name]; ok {
		if !prev.Type.Equal(isa.FunctionReturning(ret)) || len(prev.Params) != len(params) {
			return isa.Symbol{}, fault.At(fault.UnsupportedConstruct, line, "conflicting declarations of function %q", name)
		}
		return *prev, nil
	}
	sym := &isa.Symbol{
		Name:     name,
		Type:     isa.FunctionReturning(ret),
		Address:  -1,
		Global:   true,
		Function: true,
		Params:   params,
	}
	s.functions[name] = sym
	return *sym, nil
}

// SetFunctionAddress records the entry instruction index of name.
func (s *SymbolTable) SetFunctionAddress(name string, idx int) {
	if sym, ok := s.functions[name]; ok {
		sym.Address = idx
	}
}

// Function returns the symbol of a declared function.
func (s *SymbolTable) Function(name string) (isa.Symbol, bool) {
	sym, ok := s.functions[name]
	if !ok {
		return isa.Symbol{}, false
	}
	return *sym, true
}

// Lookup returns the symbol and whether it was found. Locals shadow globals,
// which shadow functions.
func (s *SymbolTable) Lookup(name string) (isa.Symbol, bool) {
	if sym, ok := s.locals[name]; ok {
		return *sym, true
	}
	if sym, ok := s.globals[name]; ok {
		return *sym, true
	}
	if sym, ok := s.functions[name]; ok {
		return *sym, true
	}
	return isa.Symbol{}, false
}

// Resolve looks name up and falls back to the built-in set. It reports
// whether name is a built-in, or an UnknownSymbol fault.
func (s *SymbolTable) Resolve(name string, line int) (isa.Symbol, bool, error) {
	if sym, ok := s.Lookup(name); ok {
		return sym, false, nil
	}
	if IsBuiltin(name) {
		return isa.Symbol{Name: name}, true, nil
	}
	return isa.Symbol{}, false, fault.At(fault.UnknownSymbol, line, "undeclared name %q", name)
}

// GlobalSize is the number of bytes reserved for globals so far.
func (s *SymbolTable) GlobalSize() int { return s.nextGlobal }

// Globals returns copies of every global variable and function symbol.
func (s *SymbolTable) Globals() map[string]isa.Symbol {
	out := make(map[string]isa.Symbol, len(s.globals)+len(s.functions))
	for name, sym := range s.functions {
		out[name] = *sym
	}
	for name, sym := range s.globals {
		out[name] = *sym
	}
	return out
}

// String returns a deterministically ordered dump of the table.
func (s *SymbolTable) String() string {
	var sb strings.Builder
	dump := func(title string, scope map[string]*isa.Symbol) {
		if len(scope) == 0 {
			fmt.Fprintf(&sb, "%s: (empty)\n", title)
			return
		}
		fmt.Fprintf(&sb, "%s:\n", title)
		names := make([]string, 0, len(scope))
		for name := range scope {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "  %s\n", scope[name])
		}
	}
	dump("Functions", s.functions)
	dump("Globals", s.globals)
	if s.locals != nil {
		dump("Locals", s.locals)
	}
	return sb.String()
}
