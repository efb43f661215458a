// Package asm converts between OmniVM programs and a line-oriented text form.
//
//	; comment
//	msg:   .string "hi"       NUL-terminated bytes in the data segment
//	       .data "\x01\x02"   raw bytes
//	       .zero 16           zeroed bytes
//	.func add                 function add starts at the next instruction
//	.entry                    execution starts at the next instruction
//	loop:  PUSH_IMM 1
//	       JMP loop
//	       PUSH_STR msg
//	       PRINT "%5.2f"
//	       CALL add
//	       MATH sqrt
//
// A label names the next instruction, or the next data directive's address.
package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"omnivm/pkg/isa"
)

type labelKind int

const (
	codeLabel labelKind = iota
	dataLabel
)

type label struct {
	kind  labelKind
	value int
	text  string // contents of a .string
}

type Assembler struct {
	labels    map[string]label
	functions map[string]int
	entry     int
	entryName string
}

type operand struct {
	text   string
	quoted bool
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []operand
}

func NewAssembler() *Assembler {
	return &Assembler{
		labels:    make(map[string]label),
		functions: make(map[string]int),
	}
}

// Assemble parses code into a Program. The map sends instruction indices
// to 1-based source lines.
func Assemble(code string) (*isa.Program, map[int]int, error) {
	return NewAssembler().Assemble(code)
}

func (a *Assembler) Assemble(code string) (*isa.Program, map[int]int, error) {
	lines := strings.Split(code, "\n")
	parsed := make([]parsedLine, 0, len(lines))
	for i, raw := range lines {
		p, err := parseLine(raw, i+1)
		if err != nil {
			return nil, nil, err
		}
		parsed = append(parsed, p)
	}

	if err := a.pass1(parsed); err != nil {
		return nil, nil, err
	}
	return a.pass2(parsed)
}

func isDataDirective(mnemonic string) bool {
	return mnemonic == ".STRING" || mnemonic == ".DATA" || mnemonic == ".ZERO"
}

func (a *Assembler) define(name string, l label, lineNo int) error {
	if _, exists := a.labels[name]; exists {
		return fmt.Errorf("duplicate label '%s' on line %d", name, lineNo)
	}
	a.labels[name] = l
	return nil
}

func (a *Assembler) pass1(lines []parsedLine) error {
	var index, offset int
	var pending []string
	var pendingLine int

	bind := func(kind labelKind, value int, text string) error {
		for _, name := range pending {
			if err := a.define(name, label{kind: kind, value: value, text: text}, pendingLine); err != nil {
				return err
			}
		}
		pending = pending[:0]
		return nil
	}

	for _, p := range lines {
		if len(p.labels) > 0 {
			pending = append(pending, p.labels...)
			pendingLine = p.lineNo
		}
		if p.mnemonic == "" {
			continue
		}

		switch {
		case isDataDirective(p.mnemonic):
			size, text, err := dataSize(p)
			if err != nil {
				return err
			}
			if err := bind(dataLabel, offset, text); err != nil {
				return err
			}
			offset += size

		case p.mnemonic == ".FUNC":
			if len(p.operands) != 1 || p.operands[0].quoted || !isIdentifier(p.operands[0].text) {
				return fmt.Errorf(".func expects a function name on line %d", p.lineNo)
			}
			name := p.operands[0].text
			if _, exists := a.functions[name]; exists {
				return fmt.Errorf("duplicate function '%s' on line %d", name, p.lineNo)
			}
			a.functions[name] = index
			if err := a.define(name, label{kind: codeLabel, value: index}, p.lineNo); err != nil {
				return err
			}

		case p.mnemonic == ".ENTRY":
			switch len(p.operands) {
			case 0:
				a.entry = index
			case 1:
				a.entryName = p.operands[0].text
			default:
				return fmt.Errorf(".entry expects at most one operand on line %d", p.lineNo)
			}

		default:
			if _, ok := isa.LookupOpcode(p.mnemonic); !ok {
				return fmt.Errorf("unknown instruction on line %d: %s", p.lineNo, p.mnemonic)
			}
			if err := bind(codeLabel, index, ""); err != nil {
				return err
			}
			index++
		}
	}
	return bind(codeLabel, index, "")
}

func dataSize(p parsedLine) (int, string, error) {
	if len(p.operands) != 1 {
		return 0, "", fmt.Errorf("%s expects exactly one operand on line %d", strings.ToLower(p.mnemonic), p.lineNo)
	}
	op := p.operands[0]
	if p.mnemonic == ".ZERO" {
		n, err := strconv.Atoi(op.text)
		if op.quoted || err != nil || n < 0 {
			return 0, "", fmt.Errorf("invalid .zero size on line %d: %s", p.lineNo, op.text)
		}
		return n, "", nil
	}
	if !op.quoted {
		return 0, "", fmt.Errorf("%s expects a string operand on line %d", strings.ToLower(p.mnemonic), p.lineNo)
	}
	if p.mnemonic == ".STRING" {
		return len(op.text) + 1, op.text, nil
	}
	return len(op.text), "", nil
}

func (a *Assembler) pass2(lines []parsedLine) (*isa.Program, map[int]int, error) {
	var code []isa.Instruction
	var data []byte
	sourceMap := make(map[int]int)

	for _, p := range lines {
		switch {
		case p.mnemonic == "", p.mnemonic == ".FUNC", p.mnemonic == ".ENTRY":
			continue

		case isDataDirective(p.mnemonic):
			op := p.operands[0]
			switch p.mnemonic {
			case ".STRING":
				data = append(data, op.text...)
				data = append(data, 0)
			case ".DATA":
				data = append(data, op.text...)
			case ".ZERO":
				n, _ := strconv.Atoi(op.text)
				data = append(data, make([]byte, n)...)
			}
			continue
		}

		opcode, _ := isa.LookupOpcode(p.mnemonic)
		in, err := a.instruction(opcode, p)
		if err != nil {
			return nil, nil, err
		}
		sourceMap[len(code)] = p.lineNo
		code = append(code, in)
	}

	if a.entryName != "" {
		l, ok := a.labels[a.entryName]
		if !ok || l.kind != codeLabel {
			return nil, nil, fmt.Errorf("undefined entry label '%s'", a.entryName)
		}
		a.entry = l.value
	}
	return isa.NewProgram(code, data, a.functions, nil, a.entry), sourceMap, nil
}

func (a *Assembler) instruction(op isa.Opcode, p parsedLine) (isa.Instruction, error) {
	in := isa.Instruction{Op: op}
	ops := p.operands

	if !isa.HasImmediate(op) {
		switch {
		case len(ops) == 0:
		case len(ops) == 1 && ops[0].quoted && (op == isa.PRINT || op == isa.PRINT_STR):
			in.Str = ops[0].text
		default:
			return in, fmt.Errorf("%s expects 0 operands on line %d", op, p.lineNo)
		}
		return in, nil
	}

	if len(ops) == 0 || len(ops) > 2 || ops[0].quoted || (len(ops) == 2 && !ops[1].quoted) {
		return in, fmt.Errorf("%s expects an immediate and an optional string on line %d", op, p.lineNo)
	}
	if len(ops) == 2 {
		in.Str = ops[1].text
	}

	tok := ops[0].text
	if op == isa.MATH {
		if fn, ok := isa.LookupMathFn(tok); ok {
			in.Imm = float64(fn)
			return in, nil
		}
	}
	if v, ok := parseNumber(tok); ok {
		in.Imm = v
		return in, nil
	}

	l, ok := a.labels[tok]
	if !ok {
		if isIdentifier(tok) {
			return in, fmt.Errorf("undefined label '%s' on line %d", tok, p.lineNo)
		}
		return in, fmt.Errorf("invalid immediate '%s' on line %d", tok, p.lineNo)
	}
	wantData := op == isa.PUSH_STR
	wantCode := op.IsJump() || op == isa.CALL
	if (wantData && l.kind != dataLabel) || (wantCode && l.kind != codeLabel) {
		return in, fmt.Errorf("label '%s' cannot be used by %s on line %d", tok, op, p.lineNo)
	}
	in.Imm = float64(l.value)
	if in.Str == "" {
		switch op {
		case isa.CALL:
			in.Str = tok
		case isa.PUSH_STR:
			in.Str = l.text
		}
	}
	return in, nil
}

func parseNumber(tok string) (float64, bool) {
	if v, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return float64(v), true
	}
	if v, err := strconv.ParseFloat(tok, 64); err == nil {
		return v, true
	}
	return 0, false
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}
	line := strings.TrimSpace(stripComments(raw))

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 || strings.ContainsAny(line[:colon], " \t\"") {
			break
		}
		name := line[:colon]
		if !isIdentifier(name) {
			return p, fmt.Errorf("invalid label '%s' on line %d", name, lineNo)
		}
		p.labels = append(p.labels, name)
		line = strings.TrimSpace(line[colon+1:])
	}
	if line == "" {
		return p, nil
	}

	end := strings.IndexAny(line, " \t")
	if end < 0 {
		end = len(line)
	}
	p.mnemonic = strings.ToUpper(line[:end])
	ops, err := splitOperands(line[end:], lineNo)
	if err != nil {
		return p, err
	}
	p.operands = ops
	return p, nil
}

// splitOperands splits on spaces and commas. A quoted operand is a Go string
// literal and may contain either.
func splitOperands(s string, lineNo int) ([]operand, error) {
	var ops []operand
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == ',':
			i++
		case c == '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("invalid string literal on line %d", lineNo)
			}
			text, err := strconv.Unquote(s[i : j+1])
			if err != nil {
				return nil, fmt.Errorf("invalid string literal on line %d: %v", lineNo, err)
			}
			ops = append(ops, operand{text: text, quoted: true})
			i = j + 1
		default:
			j := i
			for j < len(s) && s[j] != ' ' && s[j] != '\t' && s[j] != ',' && s[j] != '"' {
				j++
			}
			ops = append(ops, operand{text: s[i:j]})
			i = j
		}
	}
	return ops, nil
}

// stripComments cuts at the first ';' or "//" outside a string literal.
func stripComments(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case !inString && c == ';':
			return line[:i]
		case !inString && c == '/' && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}

	return true
}
