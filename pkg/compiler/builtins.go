package compiler

import (
	"strings"

	"omnivm/pkg/isa"
)

// builtins is the fixed set of library names the compiler knows about.
// Only some of them have an implementation; the rest resolve as names but
// are rejected at code generation.
var builtins = map[string]bool{
	"print": true,

	"printf": true, "sprintf": true, "snprintf": true, "fprintf": true,
	"scanf": true, "sscanf": true, "fscanf": true,
	"malloc": true, "free": true, "calloc": true, "realloc": true,
	"strcpy": true, "strncpy": true, "strlen": true, "strcmp": true,
	"strncmp": true, "strcat": true, "strchr": true,
	"memcpy": true, "memmove": true, "memcmp": true, "memset": true,
	"sin": true, "cos": true, "tan": true, "sqrt": true, "pow": true,
	"exp": true, "log": true, "log10": true, "abs": true, "fabs": true,
	"floor": true, "ceil": true,
	"atoi": true, "atof": true, "itoa": true,
	"puts": true, "putchar": true, "gets": true, "getchar": true,
}

// IsBuiltin reports whether name belongs to the built-in set.
func IsBuiltin(name string) bool { return builtins[name] }

// genBuiltin emits an inline sequence for a built-in call. Like every
// expression it leaves one value on the stack.
func (cg *CodeGen) genBuiltin(n *Node) (*isa.Type, error) {
	args := n.List
	arity := func(want int) error {
		if len(args) != want {
			return cg.unsupported(n, "%s expects %d argument(s), got %d", n.Text, want, len(args))
		}
		return nil
	}
	genArgs := func() error {
		for _, arg := range args {
			if _, err := cg.genExpr(arg); err != nil {
				return err
			}
		}
		return nil
	}

	if fn, ok := isa.LookupMathFn(n.Text); ok {
		if err := arity(fn.Arity()); err != nil {
			return nil, err
		}
		if err := genArgs(); err != nil {
			return nil, err
		}
		cg.emit(isa.MATH, float64(fn))
		return isa.Double(), nil
	}

	switch n.Text {
	case "print":
		if err := arity(1); err != nil {
			return nil, err
		}
		t, err := cg.genExpr(args[0])
		if err != nil {
			return nil, err
		}
		if isString(t) {
			cg.emit(isa.PRINT_STR, 0)
		} else {
			cg.emit(isa.PRINT, 0)
		}
		cg.newline()
		cg.emit(isa.PUSH_IMM, 0)
		return isa.Void(), nil

	case "printf":
		return cg.genPrintf(n)

	case "puts":
		if err := arity(1); err != nil {
			return nil, err
		}
		if err := genArgs(); err != nil {
			return nil, err
		}
		cg.emit(isa.PRINT_STR, 0)
		cg.newline()
		cg.emit(isa.PUSH_IMM, 0)
		return isa.Int(), nil

	case "putchar":
		if err := arity(1); err != nil {
			return nil, err
		}
		if err := genArgs(); err != nil {
			return nil, err
		}
		cg.emit(isa.DUP, 0)
		cg.emit(isa.PRINT_CHAR, 0)
		return isa.Int(), nil

	case "malloc":
		if err := arity(1); err != nil {
			return nil, err
		}
		if err := genArgs(); err != nil {
			return nil, err
		}
		cg.emit(isa.ALLOC, 0)
		return isa.PointerTo(isa.Void()), nil

	case "calloc":
		if err := arity(2); err != nil {
			return nil, err
		}
		if err := genArgs(); err != nil {
			return nil, err
		}
		// The heap is never reused, so fresh memory is already zero.
		cg.emit(isa.MUL, 0)
		cg.emit(isa.ALLOC, 0)
		return isa.PointerTo(isa.Void()), nil

	case "free":
		if err := arity(1); err != nil {
			return nil, err
		}
		if err := genArgs(); err != nil {
			return nil, err
		}
		cg.emit(isa.FREE, 0)
		cg.emit(isa.PUSH_IMM, 0)
		return isa.Void(), nil

	case "strlen":
		if err := arity(1); err != nil {
			return nil, err
		}
		if err := genArgs(); err != nil {
			return nil, err
		}
		cg.emit(isa.STRLEN, 0)
		return isa.Int(), nil
	}
	return nil, cg.unsupported(n, "built-in %q is not supported", n.Text)
}

func isString(t *isa.Type) bool {
	return t.IsAddress() && t.Elem() != nil && t.Elem().Kind == isa.TypeChar
}

func (cg *CodeGen) newline() {
	cg.emit(isa.PUSH_IMM, '\n')
	cg.emit(isa.PRINT_CHAR, 0)
}

// printText emits a literal chunk of output.
func (cg *CodeGen) printText(s string) {
	switch len(s) {
	case 0:
	case 1:
		cg.emit(isa.PUSH_IMM, float64(s[0]))
		cg.emit(isa.PRINT_CHAR, 0)
	default:
		cg.emitStr(isa.PUSH_STR, float64(cg.intern(s)), s)
		cg.emit(isa.PRINT_STR, 0)
	}
}

// genPrintf expands a literal format string at compile time into PRINT
// instructions. Numeric conversions carry their verb in the string immediate.
func (cg *CodeGen) genPrintf(n *Node) (*isa.Type, error) {
	if len(n.List) == 0 {
		return nil, cg.unsupported(n, "printf expects a format string")
	}
	format := cg.arena.Get(n.List[0])
	if format.Kind != NodeString {
		return nil, cg.unsupported(n, "printf format must be a string literal")
	}
	args := n.List[1:]
	next := 0
	nextArg := func(verb string) (*isa.Type, error) {
		if next >= len(args) {
			return nil, cg.unsupported(n, "printf: missing argument for %s", verb)
		}
		next++
		return cg.genExpr(args[next-1])
	}

	f := format.Text
	var text []byte
	for i := 0; i < len(f); i++ {
		if f[i] != '%' {
			text = append(text, f[i])
			continue
		}
		spec, verb, width := parseVerb(f[i+1:])
		if verb == 0 {
			return nil, cg.unsupported(n, "printf: bad conversion %q", "%"+f[i+1:min(len(f), i+1+width+1)])
		}
		i += width
		if verb == '%' {
			text = append(text, '%')
			continue
		}
		cg.printText(string(text))
		text = text[:0]

		switch verb {
		case 's':
			if _, err := nextArg(spec); err != nil {
				return nil, err
			}
			cg.emit(isa.PRINT_STR, 0)
		case 'c':
			if _, err := nextArg(spec); err != nil {
				return nil, err
			}
			cg.emit(isa.PRINT_CHAR, 0)
		case 'p':
			if _, err := nextArg(spec); err != nil {
				return nil, err
			}
			cg.printText("0x")
			cg.emitStr(isa.PRINT, 0, "%x")
		default:
			if _, err := nextArg(spec); err != nil {
				return nil, err
			}
			cg.emitStr(isa.PRINT, 0, spec)
		}
	}
	cg.printText(string(text))
	if next != len(args) {
		return nil, cg.unsupported(n, "printf: %d argument(s) unused by the format", len(args)-next)
	}
	cg.emit(isa.PUSH_IMM, 0)
	return isa.Int(), nil
}

// parseVerb reads a conversion after '%': flags, width, precision, length
// modifiers and the verb. It returns the normalized spec without length
// modifiers, the verb byte (0 if malformed) and the bytes consumed.
func parseVerb(s string) (string, byte, int) {
	i := 0
	spec := []byte{'%'}
	for i < len(s) && strings.IndexByte("-+ 0#", s[i]) >= 0 {
		spec = append(spec, s[i])
		i++
	}
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		spec = append(spec, s[i])
		i++
	}
	if i < len(s) && s[i] == '.' {
		spec = append(spec, '.')
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			spec = append(spec, s[i])
			i++
		}
	}
	for i < len(s) && strings.IndexByte("hlLqjzt", s[i]) >= 0 {
		i++
	}
	if i >= len(s) || strings.IndexByte("diufFeEgGxXcsp%", s[i]) < 0 {
		return "", 0, i
	}
	verb := s[i]
	return string(append(spec, verb)), verb, i + 1
}
