// Package isa defines the OmniVM instruction set and the immutable Program
// artifact that the compiler produces and the virtual machine executes.
package isa

import (
	"fmt"
	"strings"
)

// Opcode is a single OmniVM operation.
type Opcode uint8

const (
	HALT Opcode = iota
	NOOP

	// Stack
	PUSH_IMM // push Imm
	PUSH_STR // push Imm, the data-segment address of a string
	POP
	DUP
	SWAP

	// Arithmetic
	ADD
	SUB
	MUL
	DIV // divide by zero pushes 0
	MOD // modulo by zero pushes 0
	NEG

	// Bitwise, on operands truncated to int64
	BIT_AND
	BIT_OR
	BIT_XOR
	BIT_NOT
	SHL
	SHR

	// Comparison and logic, push 1 or 0
	EQ
	NEQ
	LT
	GT
	LTE
	GTE
	LOGICAL_AND
	LOGICAL_OR
	LOGICAL_NOT

	// Memory
	LOAD       // addr -> 8-byte value
	STORE      // addr value ->
	LOAD_BYTE  // addr -> byte
	STORE_BYTE // addr value ->
	ALLOC      // size -> addr
	FREE       // addr -> (no reclamation)
	ADDR_OF    // push frame base + Imm
	DEREF      // addr -> 8-byte value

	// Control flow, Imm is an absolute instruction index
	JMP
	JMP_IF
	JMP_IF_NOT
	CALL
	RET
	ENTER // reserve Imm bytes of frame storage
	LEAVE

	// I/O
	PRINT      // Str optionally holds a printf verb
	PRINT_CHAR
	PRINT_STR
	STRLEN

	// Math and conversion
	MATH // Imm selects a MathFn
	INT_TO_DOUBLE
	DOUBLE_TO_INT

	opcodeCount
)

var opcodeNames = [...]string{
	HALT:          "HALT",
	NOOP:          "NOOP",
	PUSH_IMM:      "PUSH_IMM",
	PUSH_STR:      "PUSH_STR",
	POP:           "POP",
	DUP:           "DUP",
	SWAP:          "SWAP",
	ADD:           "ADD",
	SUB:           "SUB",
	MUL:           "MUL",
	DIV:           "DIV",
	MOD:           "MOD",
	NEG:           "NEG",
	BIT_AND:       "BIT_AND",
	BIT_OR:        "BIT_OR",
	BIT_XOR:       "BIT_XOR",
	BIT_NOT:       "BIT_NOT",
	SHL:           "SHL",
	SHR:           "SHR",
	EQ:            "EQ",
	NEQ:           "NEQ",
	LT:            "LT",
	GT:            "GT",
	LTE:           "LTE",
	GTE:           "GTE",
	LOGICAL_AND:   "LOGICAL_AND",
	LOGICAL_OR:    "LOGICAL_OR",
	LOGICAL_NOT:   "LOGICAL_NOT",
	LOAD:          "LOAD",
	STORE:         "STORE",
	LOAD_BYTE:     "LOAD_BYTE",
	STORE_BYTE:    "STORE_BYTE",
	ALLOC:         "ALLOC",
	FREE:          "FREE",
	ADDR_OF:       "ADDR_OF",
	DEREF:         "DEREF",
	JMP:           "JMP",
	JMP_IF:        "JMP_IF",
	JMP_IF_NOT:    "JMP_IF_NOT",
	CALL:          "CALL",
	RET:           "RET",
	ENTER:         "ENTER",
	LEAVE:         "LEAVE",
	PRINT:         "PRINT",
	PRINT_CHAR:    "PRINT_CHAR",
	PRINT_STR:     "PRINT_STR",
	STRLEN:        "STRLEN",
	MATH:          "MATH",
	INT_TO_DOUBLE: "INT_TO_DOUBLE",
	DOUBLE_TO_INT: "DOUBLE_TO_INT",
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		m[name] = Opcode(op)
	}
	return m
}()

func (op Opcode) String() string {
	if op < opcodeCount {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool { return op < opcodeCount }

// IsJump reports whether op's immediate is an instruction index.
func (op Opcode) IsJump() bool {
	switch op {
	case JMP, JMP_IF, JMP_IF_NOT, CALL:
		return true
	}
	return false
}

// LookupOpcode resolves a mnemonic (case-insensitive).
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[strings.ToUpper(name)]
	return op, ok
}

// MathFn selects the function applied by MATH.
type MathFn int

const (
	MathSqrt MathFn = iota
	MathSin
	MathCos
	MathTan
	MathExp
	MathLog
	MathLog10
	MathFabs
	MathFloor
	MathCeil
	MathPow // binary: base exponent -> result
)

var mathFnNames = [...]string{
	MathSqrt:  "sqrt",
	MathSin:   "sin",
	MathCos:   "cos",
	MathTan:   "tan",
	MathExp:   "exp",
	MathLog:   "log",
	MathLog10: "log10",
	MathFabs:  "fabs",
	MathFloor: "floor",
	MathCeil:  "ceil",
	MathPow:   "pow",
}

func (fn MathFn) String() string {
	if fn >= 0 && int(fn) < len(mathFnNames) {
		return mathFnNames[fn]
	}
	return fmt.Sprintf("MathFn(%d)", int(fn))
}

// Arity is the number of operands fn pops.
func (fn MathFn) Arity() int {
	if fn == MathPow {
		return 2
	}
	return 1
}

// LookupMathFn resolves a math built-in by name. "abs" is an alias for fabs.
func LookupMathFn(name string) (MathFn, bool) {
	if name == "abs" {
		return MathFabs, true
	}
	for fn, n := range mathFnNames {
		if n == name {
			return MathFn(fn), true
		}
	}
	return 0, false
}

// Instruction is one opcode with its optional immediates.
type Instruction struct {
	Op  Opcode  `cbor:"1,keyasint"`
	Imm float64 `cbor:"2,keyasint,omitempty"`
	Str string  `cbor:"3,keyasint,omitempty"`
}

func (in Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	if HasImmediate(in.Op) {
		fmt.Fprintf(&sb, " %g", in.Imm)
	}
	if in.Str != "" {
		fmt.Fprintf(&sb, " %q", in.Str)
	}
	return sb.String()
}

// HasImmediate reports whether op reads its numeric immediate.
func HasImmediate(op Opcode) bool {
	switch op {
	case PUSH_IMM, PUSH_STR, ADDR_OF, JMP, JMP_IF, JMP_IF_NOT, CALL, ENTER, MATH:
		return true
	}
	return false
}
