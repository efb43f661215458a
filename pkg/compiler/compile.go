package compiler

import (
	"github.com/tliron/commonlog"

	"omnivm/pkg/isa"
)

var log = commonlog.GetLogger("omnivm.compiler")

// DefaultMaxData caps the data segment when Options leaves it unset.
const DefaultMaxData = 16 << 20

// Options tune a compile. The zero value uses the defaults.
type Options struct {
	// MaxData caps the data segment: the string pool plus every global.
	// Larger programs fail with ResourceExhausted before any storage is
	// allocated.
	MaxData int
}

func (o Options) maxData() int {
	if o.MaxData > 0 {
		return o.MaxData
	}
	return DefaultMaxData
}

// Compile turns source text into an executable Program.
func Compile(src string) (*isa.Program, error) {
	return CompileWith(src, Options{})
}

func CompileWith(src string, opts Options) (*isa.Program, error) {
	arena, root, err := Parse(src)
	if err != nil {
		return nil, err
	}

	syms := NewSymbolTable()
	prog, err := GenerateWith(arena, root, syms, opts)
	if err != nil {
		return nil, err
	}

	log.Debugf("compiled %d nodes into %d instructions, %d data bytes", arena.Len(), prog.Len(), prog.DataLen())
	return prog, nil
}
