package isa

import (
	"fmt"
	"sort"
	"strings"
)

// Program is the immutable compiled artifact: instructions, static data,
// function and global tables, and the entry index. Accessors hand out copies
// so a Program can be shared by concurrent machines.
type Program struct {
	code      []Instruction
	data      []byte
	functions map[string]int
	globals   map[string]Symbol
	entry     int
}

// NewProgram freezes the given parts into a Program. The inputs are copied.
func NewProgram(code []Instruction, data []byte, functions map[string]int, globals map[string]Symbol, entry int) *Program {
	p := &Program{
		code:      append([]Instruction(nil), code...),
		data:      append([]byte(nil), data...),
		functions: make(map[string]int, len(functions)),
		globals:   make(map[string]Symbol, len(globals)),
		entry:     entry,
	}
	for name, idx := range functions {
		p.functions[name] = idx
	}
	for name, sym := range globals {
		p.globals[name] = sym.clone()
	}
	return p
}

// Validate checks that the entry and every function index lie inside the
// code. An entry equal to Len is allowed and runs nothing.
func (p *Program) Validate() error {
	if p.entry < 0 || p.entry > len(p.code) {
		return fmt.Errorf("entry %d is outside %d instructions", p.entry, len(p.code))
	}
	for _, name := range p.FunctionNames() {
		if idx := p.functions[name]; idx < 0 || idx >= len(p.code) {
			return fmt.Errorf("function %q at %d is outside %d instructions", name, idx, len(p.code))
		}
	}
	return nil
}

// Len is the number of instructions.
func (p *Program) Len() int { return len(p.code) }

// At returns the instruction at index i.
func (p *Program) At(i int) (Instruction, bool) {
	if i < 0 || i >= len(p.code) {
		return Instruction{}, false
	}
	return p.code[i], true
}

// Instructions returns a copy of the instruction sequence.
func (p *Program) Instructions() []Instruction {
	return append([]Instruction(nil), p.code...)
}

// Entry is the index execution starts from.
func (p *Program) Entry() int { return p.entry }

// DataLen is the size of the static data segment in bytes.
func (p *Program) DataLen() int { return len(p.data) }

// Data returns a copy of the static data segment.
func (p *Program) Data() []byte { return append([]byte(nil), p.data...) }

// CopyData copies the data segment into dst and returns the byte count.
func (p *Program) CopyData(dst []byte) int { return copy(dst, p.data) }

// Function returns the entry index of a compiled function.
func (p *Program) Function(name string) (int, bool) {
	idx, ok := p.functions[name]
	return idx, ok
}

// FunctionNames lists compiled functions in entry order.
func (p *Program) FunctionNames() []string {
	names := make([]string, 0, len(p.functions))
	for name := range p.functions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := p.functions[names[i]], p.functions[names[j]]
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// Global returns the symbol of a global variable or function.
func (p *Program) Global(name string) (Symbol, bool) {
	sym, ok := p.globals[name]
	if !ok {
		return Symbol{}, false
	}
	return sym.clone(), true
}

// GlobalNames lists globals alphabetically.
func (p *Program) GlobalNames() []string {
	names := make([]string, 0, len(p.globals))
	for name := range p.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns a deterministically ordered summary of the tables.
func (p *Program) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Program: %d instructions, %d data bytes, entry %d\n", len(p.code), len(p.data), p.entry)
	if names := p.FunctionNames(); len(names) > 0 {
		sb.WriteString("Functions:\n")
		for _, name := range names {
			fmt.Fprintf(&sb, "  %-20s  @%d\n", name, p.functions[name])
		}
	}
	if names := p.GlobalNames(); len(names) > 0 {
		sb.WriteString("Globals:\n")
		for _, name := range names {
			fmt.Fprintf(&sb, "  %s\n", p.globals[name])
		}
	}
	return sb.String()
}

// Clone returns a deep copy of t.
func (t *Type) Clone() *Type {
	if t == nil {
		return nil
	}
	c := *t
	c.Base = t.Base.Clone()
	return &c
}

func (s Symbol) clone() Symbol {
	c := s
	c.Type = s.Type.Clone()
	if s.Params != nil {
		c.Params = make([]*Type, len(s.Params))
		for i, pt := range s.Params {
			c.Params[i] = pt.Clone()
		}
	}
	return c
}
