// Package vm executes isa.Program artifacts on a bounded stack machine.
//
// A Machine is single-use: it is created with New, loaded with one Program
// and run until it halts. Every limit in Limits is enforced while running.
package vm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tliron/commonlog"

	"omnivm/pkg/fault"
	"omnivm/pkg/isa"
)

var log = commonlog.GetLogger("omnivm.vm")

var (
	ErrNoProgram = errors.New("vm: no program loaded")
	ErrLoaded    = errors.New("vm: a program is already loaded")
	ErrHalted    = errors.New("vm: machine has halted")
)

// State is the lifecycle of a Machine.
type State int

const (
	Ready State = iota
	Running
	Halted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Machine is the OmniVM interpreter state for one execution.
type Machine struct {
	limits Limits
	code   []isa.Instruction
	loaded bool
	state  State

	stack  []float64
	calls  []int // return indices
	frames []int // saved frame bases

	mem []byte

	ip        int
	fp        int // base of the active frame
	top       int // first free byte of the frame region
	frameBase int
	frameEnd  int
	heap      int

	cycles int64
	out    strings.Builder
	err    error
}

// New returns a Machine in the Ready state.
func New(limits Limits) *Machine {
	return &Machine{limits: limits}
}

// Load validates the limits and lays out memory for prog: the data segment,
// then the frame region, then the heap.
func (m *Machine) Load(prog *isa.Program) error {
	if m.loaded {
		return ErrLoaded
	}
	if err := m.limits.Validate(); err != nil {
		return fmt.Errorf("vm: %w", err)
	}
	if err := prog.Validate(); err != nil {
		return fault.AtIP(fault.RuntimeFault, -1, "%s", err)
	}

	dataLen := prog.DataLen()
	m.frameBase = align(dataLen)
	m.frameEnd = m.frameBase + m.limits.FrameBytes
	if m.frameEnd > m.limits.MaxMemory {
		return fault.AtIP(fault.ResourceExhausted, -1, "data segment of %d bytes leaves no room for the frame region", dataLen)
	}
	m.fp, m.top = m.frameBase, m.frameBase
	m.heap = m.frameEnd

	size := max(m.limits.InitialMemory, dataLen)
	m.mem = make([]byte, size)
	prog.CopyData(m.mem)

	m.code = prog.Instructions()
	m.ip = prog.Entry()
	m.loaded = true
	log.Debugf("loaded %d instructions, %d data bytes, entry %d", len(m.code), dataLen, m.ip)
	return nil
}

func align(n int) int {
	return (n + isa.CellSize - 1) / isa.CellSize * isa.CellSize
}

// State reports the lifecycle state.
func (m *Machine) State() State { return m.state }

// Cycles is the number of instructions executed so far.
func (m *Machine) Cycles() int64 { return m.cycles }

// IP is the index of the next instruction.
func (m *Machine) IP() int { return m.ip }

// Output returns the text produced so far.
func (m *Machine) Output() string { return m.out.String() }

// Err returns the fault that halted the machine, if any.
func (m *Machine) Err() error { return m.err }

// Stack returns a copy of the operand stack, bottom first.
func (m *Machine) Stack() []float64 { return append([]float64(nil), m.stack...) }

// MemorySize is the current length of memory in bytes.
func (m *Machine) MemorySize() int { return len(m.mem) }

// Run executes until the machine halts or ctx is done. It returns the output
// and the fault that stopped execution, if any.
func (m *Machine) Run(ctx context.Context) (string, error) {
	if !m.loaded {
		return "", ErrNoProgram
	}
	if m.state == Halted {
		return m.out.String(), ErrHalted
	}
	m.state = Running

	interval := int64(m.limits.CancelCheckInterval)
	for m.state == Running {
		if m.cycles%interval == 0 {
			if err := ctx.Err(); err != nil {
				m.fail(&fault.Fault{Kind: fault.Canceled, IP: m.ip, Msg: fmt.Sprintf("execution canceled: %v", err)})
				break
			}
		}
		m.step()
	}
	log.Debugf("halted after %d cycles, %d output bytes", m.cycles, m.out.Len())
	return m.out.String(), m.err
}

// Step executes a single instruction.
func (m *Machine) Step() error {
	if !m.loaded {
		return ErrNoProgram
	}
	if m.state == Halted {
		return ErrHalted
	}
	m.state = Running
	m.step()
	return m.err
}

func (m *Machine) halt() { m.state = Halted }

func (m *Machine) fail(err error) {
	if m.err == nil {
		m.err = err
	}
	m.halt()
}

func (m *Machine) faultf(kind fault.Kind, format string, args ...any) {
	m.fail(fault.AtIP(kind, m.ip, format, args...))
}

func (m *Machine) push(v float64) {
	if len(m.stack) >= m.limits.MaxStack {
		m.faultf(fault.ResourceExhausted, "operand stack exceeded %d values", m.limits.MaxStack)
		return
	}
	m.stack = append(m.stack, v)
}

// pop removes the top value. An empty stack yields 0.
func (m *Machine) pop() float64 {
	n := len(m.stack)
	if n == 0 {
		return 0
	}
	v := m.stack[n-1]
	m.stack = m.stack[:n-1]
	return v
}

func (m *Machine) write(s string) {
	if m.out.Len()+len(s) > m.limits.MaxOutput {
		m.out.WriteString(s[:m.limits.MaxOutput-m.out.Len()])
		m.faultf(fault.ResourceExhausted, "output exceeded %d bytes", m.limits.MaxOutput)
		return
	}
	m.out.WriteString(s)
}

// address converts a stack value to a memory index for an n-byte access,
// growing memory as needed. ok is false when the access faulted.
func (m *Machine) address(v float64, n int) (int, bool) {
	if math.IsNaN(v) || v < 0 || v != math.Trunc(v) || v+float64(n) > float64(m.limits.MaxMemory) {
		m.faultf(fault.RuntimeFault, "invalid memory access at address %s", formatNumber(v))
		return 0, false
	}
	addr := int(v)
	m.grow(addr + n)
	return addr, true
}

// grow extends memory to at least n bytes. Callers keep n within MaxMemory.
func (m *Machine) grow(n int) {
	if n <= len(m.mem) {
		return
	}
	size := min(max(n, 2*len(m.mem)), m.limits.MaxMemory)
	m.mem = append(m.mem, make([]byte, size-len(m.mem))...)
}

func (m *Machine) load(addr int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(m.mem[addr:]))
}

func (m *Machine) store(addr int, v float64) {
	binary.LittleEndian.PutUint64(m.mem[addr:], math.Float64bits(v))
}

// target validates a jump or call immediate.
func (m *Machine) target(in isa.Instruction) (int, bool) {
	t := in.Imm
	if math.IsNaN(t) || t != math.Trunc(t) || t < 0 || t >= float64(len(m.code)) {
		m.faultf(fault.RuntimeFault, "%s target %s is outside the program", in.Op, formatNumber(t))
		return 0, false
	}
	return int(t), true
}

func boolean(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// shiftCount masks a shift operand to 0..63.
func shiftCount(v float64) uint {
	return uint(toInt64(v)) & 63
}

func (m *Machine) step() {
	if m.cycles >= m.limits.MaxCycles {
		if out := m.out.String(); out != "" && !strings.HasSuffix(out, "\n") {
			m.write("\n")
		}
		m.write(fmt.Sprintf("[ERROR] cycle budget exhausted after %d instructions\n", m.cycles))
		m.halt()
		return
	}
	if m.ip < 0 || m.ip >= len(m.code) {
		m.halt()
		return
	}

	in := m.code[m.ip]
	m.cycles++
	next := m.ip + 1

	switch in.Op {
	case isa.HALT:
		m.halt()
		return
	case isa.NOOP:

	case isa.PUSH_IMM, isa.PUSH_STR:
		m.push(in.Imm)
	case isa.POP:
		m.pop()
	case isa.DUP:
		if n := len(m.stack); n > 0 {
			m.push(m.stack[n-1])
		}
	case isa.SWAP:
		if n := len(m.stack); n >= 2 {
			m.stack[n-1], m.stack[n-2] = m.stack[n-2], m.stack[n-1]
		}

	case isa.ADD, isa.SUB, isa.MUL, isa.DIV, isa.MOD,
		isa.BIT_AND, isa.BIT_OR, isa.BIT_XOR, isa.SHL, isa.SHR,
		isa.EQ, isa.NEQ, isa.LT, isa.GT, isa.LTE, isa.GTE,
		isa.LOGICAL_AND, isa.LOGICAL_OR:
		b, a := m.pop(), m.pop()
		m.push(binaryOp(in.Op, a, b))

	case isa.NEG:
		m.push(-m.pop())
	case isa.BIT_NOT:
		m.push(float64(^toInt64(m.pop())))
	case isa.LOGICAL_NOT:
		m.push(boolean(m.pop() == 0))

	case isa.LOAD, isa.DEREF:
		if addr, ok := m.address(m.pop(), isa.CellSize); ok {
			m.push(m.load(addr))
		}
	case isa.STORE:
		v := m.pop()
		if addr, ok := m.address(m.pop(), isa.CellSize); ok {
			m.store(addr, v)
		}
	case isa.LOAD_BYTE:
		if addr, ok := m.address(m.pop(), 1); ok {
			m.push(float64(m.mem[addr]))
		}
	case isa.STORE_BYTE:
		v := m.pop()
		if addr, ok := m.address(m.pop(), 1); ok {
			m.mem[addr] = byte(toInt64(v))
		}

	case isa.ALLOC:
		m.alloc(m.pop())
	case isa.FREE:
		// The heap is a bump allocator; nothing is reclaimed.
		m.pop()
	case isa.ADDR_OF:
		m.push(float64(m.fp) + in.Imm)

	case isa.JMP:
		t, ok := m.target(in)
		if !ok {
			return
		}
		next = t
	case isa.JMP_IF, isa.JMP_IF_NOT:
		t, ok := m.target(in)
		if !ok {
			return
		}
		if (m.pop() != 0) == (in.Op == isa.JMP_IF) {
			next = t
		}
	case isa.CALL:
		t, ok := m.target(in)
		if !ok {
			return
		}
		if len(m.calls) >= m.limits.MaxCallDepth {
			m.faultf(fault.ResourceExhausted, "call depth exceeded %d calling %q", m.limits.MaxCallDepth, in.Str)
			return
		}
		m.calls = append(m.calls, next)
		next = t
	case isa.RET:
		n := len(m.calls)
		if n == 0 {
			m.halt()
			return
		}
		next = m.calls[n-1]
		m.calls = m.calls[:n-1]
	case isa.ENTER:
		m.enter(in.Imm)
	case isa.LEAVE:
		if n := len(m.frames); n > 0 {
			m.top = m.fp
			m.fp = m.frames[n-1]
			m.frames = m.frames[:n-1]
		}

	case isa.PRINT:
		v := m.pop()
		if in.Str == "" {
			m.write(formatNumber(v))
			break
		}
		text, err := formatVerb(in.Str, v)
		if err != nil {
			m.faultf(fault.RuntimeFault, "%v", err)
			return
		}
		m.write(text)
	case isa.PRINT_CHAR:
		m.write(string([]byte{byte(toInt64(m.pop()))}))
	case isa.PRINT_STR:
		if s, ok := m.cstring(m.pop()); ok {
			m.write(s)
		}
	case isa.STRLEN:
		if s, ok := m.cstring(m.pop()); ok {
			m.push(float64(len(s)))
		}

	case isa.MATH:
		m.mathOp(in)
	case isa.INT_TO_DOUBLE:
		// Every value is already a float64.
	case isa.DOUBLE_TO_INT:
		m.push(float64(toInt64(m.pop())))

	default:
		m.faultf(fault.RuntimeFault, "invalid opcode %d", uint8(in.Op))
		return
	}

	if m.state != Halted {
		m.ip = next
	}
}

func binaryOp(op isa.Opcode, a, b float64) float64 {
	switch op {
	case isa.ADD:
		return a + b
	case isa.SUB:
		return a - b
	case isa.MUL:
		return a * b
	case isa.DIV:
		if b == 0 {
			return 0
		}
		return a / b
	case isa.MOD:
		if b == 0 {
			return 0
		}
		return math.Mod(a, b)
	case isa.BIT_AND:
		return float64(toInt64(a) & toInt64(b))
	case isa.BIT_OR:
		return float64(toInt64(a) | toInt64(b))
	case isa.BIT_XOR:
		return float64(toInt64(a) ^ toInt64(b))
	case isa.SHL:
		return float64(toInt64(a) << shiftCount(b))
	case isa.SHR:
		return float64(toInt64(a) >> shiftCount(b))
	case isa.EQ:
		return boolean(a == b)
	case isa.NEQ:
		return boolean(a != b)
	case isa.LT:
		return boolean(a < b)
	case isa.GT:
		return boolean(a > b)
	case isa.LTE:
		return boolean(a <= b)
	case isa.GTE:
		return boolean(a >= b)
	case isa.LOGICAL_AND:
		return boolean(a != 0 && b != 0)
	case isa.LOGICAL_OR:
		return boolean(a != 0 || b != 0)
	}
	return 0
}

// alloc bumps the heap by size rounded up to a cell, at least one cell.
func (m *Machine) alloc(size float64) {
	n := isa.CellSize
	if size > 0 {
		if size > float64(m.limits.MaxMemory) {
			m.faultf(fault.ResourceExhausted, "allocation of %s bytes exceeds the memory cap", formatNumber(size))
			return
		}
		n = max(align(int(math.Ceil(size))), isa.CellSize)
	}
	if m.heap+n > m.limits.MaxMemory {
		m.faultf(fault.ResourceExhausted, "heap exhausted allocating %d bytes", n)
		return
	}
	m.push(float64(m.heap))
	m.heap += n
}

// enter opens a frame of size bytes in the frame region and zeroes it.
func (m *Machine) enter(size float64) {
	if math.IsNaN(size) || size < 0 {
		m.faultf(fault.RuntimeFault, "invalid frame size %s", formatNumber(size))
		return
	}
	if float64(m.top)+size > float64(m.frameEnd) {
		m.faultf(fault.ResourceExhausted, "frame region of %d bytes exhausted", m.limits.FrameBytes)
		return
	}
	if len(m.frames) >= m.limits.MaxCallDepth {
		m.faultf(fault.ResourceExhausted, "frame depth exceeded %d", m.limits.MaxCallDepth)
		return
	}
	n := int(size)
	m.frames = append(m.frames, m.fp)
	m.fp = m.top
	m.top += n
	m.grow(m.top)
	clear(m.mem[m.fp:m.top])
}

// cstring reads bytes from addr up to a zero byte or the end of memory.
func (m *Machine) cstring(v float64) (string, bool) {
	if math.IsNaN(v) || v < 0 || v != math.Trunc(v) {
		m.faultf(fault.RuntimeFault, "invalid string address %s", formatNumber(v))
		return "", false
	}
	if v >= float64(len(m.mem)) {
		return "", true
	}
	start := int(v)
	end := start
	for end < len(m.mem) && m.mem[end] != 0 {
		end++
	}
	return string(m.mem[start:end]), true
}

func (m *Machine) mathOp(in isa.Instruction) {
	fn := isa.MathFn(in.Imm)
	if in.Imm != math.Trunc(in.Imm) || fn < isa.MathSqrt || fn > isa.MathPow {
		m.faultf(fault.RuntimeFault, "invalid math function %s", formatNumber(in.Imm))
		return
	}
	if fn == isa.MathPow {
		exp, base := m.pop(), m.pop()
		m.push(math.Pow(base, exp))
		return
	}
	x := m.pop()
	var r float64
	switch fn {
	case isa.MathSqrt:
		r = math.Sqrt(x)
	case isa.MathSin:
		r = math.Sin(x)
	case isa.MathCos:
		r = math.Cos(x)
	case isa.MathTan:
		r = math.Tan(x)
	case isa.MathExp:
		r = math.Exp(x)
	case isa.MathLog:
		r = math.Log(x)
	case isa.MathLog10:
		r = math.Log10(x)
	case isa.MathFabs:
		r = math.Abs(x)
	case isa.MathFloor:
		r = math.Floor(x)
	case isa.MathCeil:
		r = math.Ceil(x)
	}
	m.push(r)
}

// Run loads prog into a fresh Machine and runs it to completion.
func Run(ctx context.Context, prog *isa.Program, limits Limits) (string, error) {
	m := New(limits)
	if err := m.Load(prog); err != nil {
		return "", err
	}
	return m.Run(ctx)
}
