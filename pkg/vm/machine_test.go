package vm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"omnivm/pkg/fault"
	"omnivm/pkg/isa"
)

// ins builds an instruction with a numeric immediate.
func ins(op isa.Opcode, imm float64) isa.Instruction {
	return isa.Instruction{Op: op, Imm: imm}
}

// loadProgram wraps code and data into a Program starting at index 0.
func loadProgram(data string, code ...isa.Instruction) *isa.Program {
	return isa.NewProgram(code, []byte(data), nil, nil, 0)
}

func smallLimits() Limits {
	l := DefaultLimits()
	l.InitialMemory = 256
	l.MaxMemory = 64 << 10
	l.FrameBytes = 1 << 10
	return l
}

func run(t *testing.T, prog *isa.Program, limits Limits) (string, error) {
	t.Helper()
	return Run(context.Background(), prog, limits)
}

// stackAfter runs code on a fresh machine and returns the final stack.
func stackAfter(t *testing.T, code ...isa.Instruction) []float64 {
	t.Helper()
	m := New(smallLimits())
	if err := m.Load(loadProgram("", code...)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return m.Stack()
}

func TestALU(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		op   isa.Opcode
		want float64
	}{
		{"ADD", 2, 3, isa.ADD, 5},
		{"SUB", 2, 3, isa.SUB, -1},
		{"MUL", 2.5, 4, isa.MUL, 10},
		{"DIV", 7, 2, isa.DIV, 3.5},
		{"DIV_Zero", 5, 0, isa.DIV, 0},
		{"MOD", 7, 3, isa.MOD, 1},
		{"MOD_Zero", 7, 0, isa.MOD, 0},
		{"BIT_AND", 12, 10, isa.BIT_AND, 8},
		{"BIT_OR", 12, 10, isa.BIT_OR, 14},
		{"BIT_XOR", 12, 10, isa.BIT_XOR, 6},
		{"SHL", 1, 4, isa.SHL, 16},
		{"SHL_Masked", 1, 65, isa.SHL, 2},
		{"SHR_Arithmetic", -16, 2, isa.SHR, -4},
		{"BIT_AND_Truncates", 7.9, 3.2, isa.BIT_AND, 3},
		{"EQ", 3, 3, isa.EQ, 1},
		{"NEQ", 3, 3, isa.NEQ, 0},
		{"LT", 2, 3, isa.LT, 1},
		{"GT", 2, 3, isa.GT, 0},
		{"LTE", 3, 3, isa.LTE, 1},
		{"GTE", 2, 3, isa.GTE, 0},
		{"LOGICAL_AND", 2, 0, isa.LOGICAL_AND, 0},
		{"LOGICAL_OR", 0, -1, isa.LOGICAL_OR, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := stackAfter(t, ins(isa.PUSH_IMM, tt.a), ins(isa.PUSH_IMM, tt.b), ins(tt.op, 0), ins(isa.HALT, 0))
			if len(stack) != 1 || stack[0] != tt.want {
				t.Errorf("%g %s %g: expected [%g], got %v", tt.a, tt.op, tt.b, tt.want, stack)
			}
		})
	}
}

func TestUnaryAndConversions(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		op   isa.Opcode
		want float64
	}{
		{"NEG", 4, isa.NEG, -4},
		{"BIT_NOT", 0, isa.BIT_NOT, -1},
		{"LOGICAL_NOT_Zero", 0, isa.LOGICAL_NOT, 1},
		{"LOGICAL_NOT_NonZero", 0.5, isa.LOGICAL_NOT, 0},
		{"DOUBLE_TO_INT", -2.7, isa.DOUBLE_TO_INT, -2},
		{"DOUBLE_TO_INT_Saturates", 1e300, isa.DOUBLE_TO_INT, 9.223372036854775807e18},
		{"INT_TO_DOUBLE", 3, isa.INT_TO_DOUBLE, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := stackAfter(t, ins(isa.PUSH_IMM, tt.in), ins(tt.op, 0), ins(isa.HALT, 0))
			if len(stack) != 1 || stack[0] != tt.want {
				t.Errorf("expected [%g], got %v", tt.want, stack)
			}
		})
	}
}

func TestStackOps(t *testing.T) {
	t.Run("DUP and SWAP", func(t *testing.T) {
		stack := stackAfter(t,
			ins(isa.PUSH_IMM, 1), ins(isa.PUSH_IMM, 2), ins(isa.SWAP, 0), ins(isa.DUP, 0), ins(isa.HALT, 0))
		if len(stack) != 3 || stack[0] != 2 || stack[1] != 1 || stack[2] != 1 {
			t.Errorf("got %v", stack)
		}
	})
	t.Run("POP on empty stack is a no-op", func(t *testing.T) {
		stack := stackAfter(t, ins(isa.POP, 0), ins(isa.POP, 0), ins(isa.PUSH_IMM, 9), ins(isa.HALT, 0))
		if len(stack) != 1 || stack[0] != 9 {
			t.Errorf("got %v", stack)
		}
	})
	t.Run("binary op on empty stack reads zeros", func(t *testing.T) {
		stack := stackAfter(t, ins(isa.ADD, 0), ins(isa.HALT, 0))
		if len(stack) != 1 || stack[0] != 0 {
			t.Errorf("got %v", stack)
		}
	})
}

func TestPrint(t *testing.T) {
	tests := []struct {
		name string
		code []isa.Instruction
		data string
		want string
	}{
		{
			name: "integer sum",
			code: []isa.Instruction{ins(isa.PUSH_IMM, 2), ins(isa.PUSH_IMM, 3), ins(isa.ADD, 0), ins(isa.PRINT, 0), ins(isa.HALT, 0)},
			want: "5",
		},
		{
			name: "double sum prints as whole number",
			code: []isa.Instruction{ins(isa.PUSH_IMM, 2.5), ins(isa.PUSH_IMM, 1.5), ins(isa.ADD, 0), ins(isa.PRINT, 0)},
			want: "4",
		},
		{
			name: "fraction",
			code: []isa.Instruction{ins(isa.PUSH_IMM, 0.1), ins(isa.PRINT, 0)},
			want: "0.1",
		},
		{
			name: "division by zero",
			code: []isa.Instruction{ins(isa.PUSH_IMM, 5), ins(isa.PUSH_IMM, 0), ins(isa.DIV, 0), ins(isa.PRINT, 0)},
			want: "0",
		},
		{
			name: "verb",
			code: []isa.Instruction{ins(isa.PUSH_IMM, 3.14159), {Op: isa.PRINT, Str: "%.2f"}},
			want: "3.14",
		},
		{
			name: "string from data segment",
			data: "hi\x00",
			code: []isa.Instruction{ins(isa.PUSH_STR, 0), ins(isa.PRINT_STR, 0), ins(isa.PUSH_IMM, '!'), ins(isa.PRINT_CHAR, 0)},
			want: "hi!",
		},
		{
			name: "string past memory prints nothing",
			code: []isa.Instruction{ins(isa.PUSH_IMM, 1 << 20), ins(isa.PRINT_STR, 0), ins(isa.PUSH_IMM, 'x'), ins(isa.PRINT_CHAR, 0)},
			want: "x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, loadProgram(tt.data, tt.code...), smallLimits())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if out != tt.want {
				t.Errorf("expected %q, got %q", tt.want, out)
			}
		})
	}
}

func TestMemory(t *testing.T) {
	t.Run("store and load a cell", func(t *testing.T) {
		stack := stackAfter(t,
			ins(isa.PUSH_IMM, 16), ins(isa.PUSH_IMM, 2.25), ins(isa.STORE, 0),
			ins(isa.PUSH_IMM, 16), ins(isa.LOAD, 0),
			ins(isa.PUSH_IMM, 16), ins(isa.DEREF, 0),
			ins(isa.HALT, 0))
		if len(stack) != 2 || stack[0] != 2.25 || stack[1] != 2.25 {
			t.Errorf("got %v", stack)
		}
	})

	t.Run("byte store truncates", func(t *testing.T) {
		stack := stackAfter(t,
			ins(isa.PUSH_IMM, 3), ins(isa.PUSH_IMM, 300), ins(isa.STORE_BYTE, 0),
			ins(isa.PUSH_IMM, 3), ins(isa.LOAD_BYTE, 0),
			ins(isa.HALT, 0))
		if len(stack) != 1 || stack[0] != 44 {
			t.Errorf("got %v", stack)
		}
	})

	t.Run("memory grows on demand", func(t *testing.T) {
		m := New(smallLimits())
		prog := loadProgram("",
			ins(isa.PUSH_IMM, 10000), ins(isa.PUSH_IMM, 7), ins(isa.STORE, 0),
			ins(isa.PUSH_IMM, 10000), ins(isa.LOAD, 0), ins(isa.HALT, 0))
		if err := m.Load(prog); err != nil {
			t.Fatal(err)
		}
		before := m.MemorySize()
		if _, err := m.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if m.MemorySize() <= before || m.MemorySize() < 10008 {
			t.Errorf("memory did not grow: %d -> %d", before, m.MemorySize())
		}
		if s := m.Stack(); len(s) != 1 || s[0] != 7 {
			t.Errorf("got %v", s)
		}
	})

	t.Run("alloc returns increasing cell-aligned addresses", func(t *testing.T) {
		stack := stackAfter(t,
			ins(isa.PUSH_IMM, 3), ins(isa.ALLOC, 0),
			ins(isa.PUSH_IMM, 16), ins(isa.ALLOC, 0),
			ins(isa.PUSH_IMM, 0), ins(isa.ALLOC, 0),
			ins(isa.HALT, 0))
		if len(stack) != 3 {
			t.Fatalf("got %v", stack)
		}
		if stack[1]-stack[0] != 8 || stack[2]-stack[1] != 16 {
			t.Errorf("unexpected allocation layout %v", stack)
		}
		if int(stack[0])%isa.CellSize != 0 {
			t.Errorf("heap start %g is not aligned", stack[0])
		}
	})

	t.Run("heap starts after the frame region", func(t *testing.T) {
		limits := smallLimits()
		m := New(limits)
		if err := m.Load(loadProgram("abc\x00", ins(isa.PUSH_IMM, 1), ins(isa.ALLOC, 0), ins(isa.HALT, 0))); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got, want := m.Stack()[0], float64(8+limits.FrameBytes); got != want {
			t.Errorf("heap start = %g, want %g", got, want)
		}
	})
}

func TestFrames(t *testing.T) {
	// f(x) returns x * 2; the caller prints f(21).
	code := []isa.Instruction{
		// 0: f
		ins(isa.ENTER, 8),
		ins(isa.ADDR_OF, 0), ins(isa.SWAP, 0), ins(isa.STORE, 0),
		ins(isa.ADDR_OF, 0), ins(isa.LOAD, 0), ins(isa.PUSH_IMM, 2), ins(isa.MUL, 0),
		ins(isa.LEAVE, 0), ins(isa.RET, 0),
		// 10: entry
		ins(isa.PUSH_IMM, 21), {Op: isa.CALL, Imm: 0, Str: "f"}, ins(isa.PRINT, 0), ins(isa.HALT, 0),
	}
	prog := isa.NewProgram(code, nil, map[string]int{"f": 0}, nil, 10)
	out, err := run(t, prog, smallLimits())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "42" {
		t.Errorf("expected 42, got %q", out)
	}
}

func TestHalting(t *testing.T) {
	t.Run("ip past the end", func(t *testing.T) {
		m := New(smallLimits())
		if err := m.Load(loadProgram("", ins(isa.NOOP, 0))); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if m.State() != Halted || m.Cycles() != 1 {
			t.Errorf("state %s after %d cycles", m.State(), m.Cycles())
		}
	})

	t.Run("RET with empty call stack", func(t *testing.T) {
		out, err := run(t, loadProgram("", ins(isa.RET, 0), ins(isa.PUSH_IMM, 1), ins(isa.PRINT, 0)), smallLimits())
		if err != nil || out != "" {
			t.Errorf("got %q, %v", out, err)
		}
	})

	t.Run("cycle budget", func(t *testing.T) {
		limits := smallLimits()
		limits.MaxCycles = 1000
		out, err := run(t, loadProgram("", ins(isa.JMP, 0)), limits)
		if err != nil {
			t.Fatalf("budget exhaustion is not a fault, got %v", err)
		}
		if want := "[ERROR] cycle budget exhausted after 1000 instructions\n"; out != want {
			t.Errorf("expected %q, got %q", want, out)
		}
	})

	t.Run("budget diagnostic starts on its own line", func(t *testing.T) {
		limits := smallLimits()
		limits.MaxCycles = 3
		out, _ := run(t, loadProgram("", ins(isa.PUSH_IMM, 7), ins(isa.PRINT, 0), ins(isa.JMP, 2)), limits)
		if !strings.HasPrefix(out, "7\n[ERROR] cycle budget exhausted") {
			t.Errorf("got %q", out)
		}
	})

	t.Run("halted machine cannot run again", func(t *testing.T) {
		m := New(smallLimits())
		if err := m.Load(loadProgram("", ins(isa.HALT, 0))); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Run(context.Background()); !errors.Is(err, ErrHalted) {
			t.Errorf("second Run: expected ErrHalted, got %v", err)
		}
		if err := m.Step(); !errors.Is(err, ErrHalted) {
			t.Errorf("Step: expected ErrHalted, got %v", err)
		}
		if err := m.Load(loadProgram("")); !errors.Is(err, ErrLoaded) {
			t.Errorf("Load: expected ErrLoaded, got %v", err)
		}
	})

	t.Run("no program", func(t *testing.T) {
		if _, err := New(smallLimits()).Run(context.Background()); !errors.Is(err, ErrNoProgram) {
			t.Errorf("expected ErrNoProgram, got %v", err)
		}
	})
}

func TestStep(t *testing.T) {
	m := New(smallLimits())
	if err := m.Load(loadProgram("", ins(isa.PUSH_IMM, 1), ins(isa.PUSH_IMM, 2), ins(isa.ADD, 0), ins(isa.HALT, 0))); err != nil {
		t.Fatal(err)
	}
	if m.State() != Ready {
		t.Fatalf("expected Ready, got %s", m.State())
	}
	for i := 0; i < 3; i++ {
		if err := m.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if m.State() != Running || m.IP() != 3 {
		t.Errorf("state %s at ip %d", m.State(), m.IP())
	}
	if s := m.Stack(); len(s) != 1 || s[0] != 3 {
		t.Errorf("got %v", s)
	}
	if err := m.Step(); err != nil || m.State() != Halted {
		t.Errorf("HALT: state %s, err %v", m.State(), err)
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name   string
		limits func(*Limits)
		code   []isa.Instruction
		want   error
	}{
		{
			name: "jump out of range",
			code: []isa.Instruction{ins(isa.JMP, 99)},
			want: fault.ErrRuntimeFault,
		},
		{
			name: "call to negative index",
			code: []isa.Instruction{ins(isa.CALL, -1)},
			want: fault.ErrRuntimeFault,
		},
		{
			name: "negative address",
			code: []isa.Instruction{ins(isa.PUSH_IMM, -8), ins(isa.LOAD, 0)},
			want: fault.ErrRuntimeFault,
		},
		{
			name: "address beyond max memory",
			code: []isa.Instruction{ins(isa.PUSH_IMM, 1 << 30), ins(isa.PUSH_IMM, 1), ins(isa.STORE_BYTE, 0)},
			want: fault.ErrRuntimeFault,
		},
		{
			name: "bad print verb",
			code: []isa.Instruction{ins(isa.PUSH_IMM, 1), {Op: isa.PRINT, Str: "%q"}},
			want: fault.ErrRuntimeFault,
		},
		{
			name: "invalid opcode",
			code: []isa.Instruction{{Op: isa.Opcode(250)}},
			want: fault.ErrRuntimeFault,
		},
		{
			name: "runaway recursion",
			code: []isa.Instruction{ins(isa.CALL, 0)},
			want: fault.ErrResourceExhausted,
		},
		{
			name:   "frame region overflow",
			limits: func(l *Limits) { l.FrameBytes = 64 },
			code:   []isa.Instruction{ins(isa.ENTER, 32), ins(isa.ENTER, 40)},
			want:   fault.ErrResourceExhausted,
		},
		{
			name:   "frames without calls",
			limits: func(l *Limits) { l.MaxCallDepth = 4 },
			code:   []isa.Instruction{ins(isa.ENTER, 0), ins(isa.JMP, 0)},
			want:   fault.ErrResourceExhausted,
		},
		{
			name: "heap exhausted",
			code: []isa.Instruction{ins(isa.PUSH_IMM, 1 << 20), ins(isa.ALLOC, 0)},
			want: fault.ErrResourceExhausted,
		},
		{
			name:   "operand stack overflow",
			limits: func(l *Limits) { l.MaxStack = 16 },
			code:   []isa.Instruction{ins(isa.PUSH_IMM, 1), ins(isa.JMP, 0)},
			want:   fault.ErrResourceExhausted,
		},
		{
			name:   "output cap",
			limits: func(l *Limits) { l.MaxOutput = 10 },
			code:   []isa.Instruction{ins(isa.PUSH_IMM, 'a'), ins(isa.PRINT_CHAR, 0), ins(isa.JMP, 0)},
			want:   fault.ErrResourceExhausted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := smallLimits()
			if tt.limits != nil {
				tt.limits(&limits)
			}
			_, err := run(t, loadProgram("", tt.code...), limits)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRuntimeFaultKeepsPartialOutput(t *testing.T) {
	out, err := run(t, loadProgram("",
		ins(isa.PUSH_IMM, 1), ins(isa.PRINT, 0),
		ins(isa.JMP, 1000)), smallLimits())
	var f *fault.Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected a fault, got %v", err)
	}
	if f.IP != 2 {
		t.Errorf("fault IP = %d, want 2", f.IP)
	}
	if out != "1" {
		t.Errorf("partial output = %q", out)
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, loadProgram("", ins(isa.JMP, 0)), smallLimits())
	if !errors.Is(err, fault.ErrCanceled) {
		t.Errorf("expected a canceled fault, got %v", err)
	}
}

func TestDeterminism(t *testing.T) {
	prog := loadProgram("",
		ins(isa.PUSH_IMM, 10), ins(isa.ALLOC, 0), ins(isa.PRINT, 0),
		ins(isa.PUSH_IMM, 2), ins(isa.MATH, float64(isa.MathSqrt)), isa.Instruction{Op: isa.PRINT, Str: "%.4f"},
		ins(isa.ENTER, 16), ins(isa.ADDR_OF, 8), ins(isa.LOAD, 0), ins(isa.PRINT, 0),
	)
	first, err := run(t, prog, smallLimits())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if again, _ := run(t, prog, smallLimits()); again != first {
			t.Fatalf("run %d differs: %q vs %q", i, again, first)
		}
	}
}

func TestMath(t *testing.T) {
	tests := []struct {
		fn   isa.MathFn
		args []float64
		want float64
	}{
		{isa.MathSqrt, []float64{16}, 4},
		{isa.MathFabs, []float64{-3}, 3},
		{isa.MathFloor, []float64{2.7}, 2},
		{isa.MathCeil, []float64{2.1}, 3},
		{isa.MathPow, []float64{2, 10}, 1024},
		{isa.MathExp, []float64{0}, 1},
		{isa.MathLog, []float64{1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.fn.String(), func(t *testing.T) {
			var code []isa.Instruction
			for _, a := range tt.args {
				code = append(code, ins(isa.PUSH_IMM, a))
			}
			code = append(code, ins(isa.MATH, float64(tt.fn)), ins(isa.HALT, 0))
			stack := stackAfter(t, code...)
			if len(stack) != 1 || stack[0] != tt.want {
				t.Errorf("expected [%g], got %v", tt.want, stack)
			}
		})
	}

	t.Run("invalid function", func(t *testing.T) {
		_, err := run(t, loadProgram("", ins(isa.MATH, 99)), smallLimits())
		if !errors.Is(err, fault.ErrRuntimeFault) {
			t.Errorf("expected a runtime fault, got %v", err)
		}
	})
}

func TestStrlen(t *testing.T) {
	m := New(smallLimits())
	if err := m.Load(loadProgram("hello\x00", ins(isa.PUSH_STR, 0), ins(isa.STRLEN, 0), ins(isa.HALT, 0))); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := m.Stack(); len(s) != 1 || s[0] != 5 {
		t.Errorf("got %v", s)
	}
}

func TestLoadRejectsBadIndices(t *testing.T) {
	code := []isa.Instruction{ins(isa.PUSH_IMM, 1), ins(isa.PRINT, 0), ins(isa.HALT, 0)}
	tests := []struct {
		name  string
		funcs map[string]int
		entry int
		ok    bool
	}{
		{"entry at start", nil, 0, true},
		{"entry at end", nil, 3, true},
		{"entry past end", nil, 4, false},
		{"negative entry", nil, -1, false},
		{"function past end", map[string]int{"f": 3}, 0, false},
		{"negative function", map[string]int{"f": -2}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(smallLimits()).Load(isa.NewProgram(code, nil, tt.funcs, nil, tt.entry))
			if tt.ok {
				if err != nil {
					t.Errorf("Load() error = %v", err)
				}
				return
			}
			if !errors.Is(err, fault.ErrRuntimeFault) {
				t.Errorf("Load() error = %v, want a runtime fault", err)
			}
		})
	}
}
