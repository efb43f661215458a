package asm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"omnivm/pkg/isa"
)

const dataChunk = 32

// Disassemble renders p in the text form accepted by Assemble. Jump targets
// get L<index> labels and calls use function names where the table has them.
func Disassemble(p *isa.Program) string {
	var sb strings.Builder
	code := p.Instructions()
	fmt.Fprintf(&sb, "; %d instructions, %d data bytes, entry %d\n", len(code), p.DataLen(), p.Entry())
	for _, name := range p.GlobalNames() {
		g, _ := p.Global(name)
		fmt.Fprintf(&sb, "; %s\n", g)
	}
	writeData(&sb, p.Data())

	funcsAt := make(map[int][]string)
	taken := make(map[string]bool)
	for _, name := range p.FunctionNames() {
		idx, _ := p.Function(name)
		funcsAt[idx] = append(funcsAt[idx], name)
		taken[name] = true
	}

	targets := make(map[int]string)
	for _, in := range code {
		if in.Op == isa.JMP || in.Op == isa.JMP_IF || in.Op == isa.JMP_IF_NOT {
			idx := int(in.Imm)
			name := "L" + strconv.Itoa(idx)
			if float64(idx) == in.Imm && idx >= 0 && idx <= len(code) && !taken[name] {
				targets[idx] = name
			}
		}
	}

	for i := 0; i <= len(code); i++ {
		names := funcsAt[i]
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "\n.func %s\n", name)
		}
		if i == p.Entry() {
			sb.WriteString(".entry\n")
		}
		if name, ok := targets[i]; ok {
			fmt.Fprintf(&sb, "%s:\n", name)
		}
		if i == len(code) {
			break
		}
		sb.WriteString("    ")
		sb.WriteString(renderInstruction(code[i], targets, funcsAt))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func renderInstruction(in isa.Instruction, targets map[int]string, funcsAt map[int][]string) string {
	idx := int(in.Imm)
	switch in.Op {
	case isa.JMP, isa.JMP_IF, isa.JMP_IF_NOT:
		if name, ok := targets[idx]; ok && float64(idx) == in.Imm {
			return fmt.Sprintf("%s %s", in.Op, name)
		}
	case isa.CALL:
		for _, name := range funcsAt[idx] {
			if name == in.Str && float64(idx) == in.Imm {
				return fmt.Sprintf("%s %s", in.Op, name)
			}
		}
	case isa.MATH:
		fn := isa.MathFn(idx)
		if _, ok := isa.LookupMathFn(fn.String()); ok && float64(idx) == in.Imm {
			return fmt.Sprintf("%s %s", in.Op, fn)
		}
	}
	return in.String()
}

// writeData emits the segment as .data chunks, collapsing zero runs.
func writeData(sb *strings.Builder, data []byte) {
	for i := 0; i < len(data); {
		zeros := 0
		for i+zeros < len(data) && data[i+zeros] == 0 {
			zeros++
		}
		if zeros >= isa.CellSize {
			fmt.Fprintf(sb, ".zero %d\n", zeros)
			i += zeros
			continue
		}
		end := i + 1
		for end < len(data) && end-i < dataChunk {
			if data[end] == 0 && zeroRun(data[end:]) >= isa.CellSize {
				break
			}
			end++
		}
		fmt.Fprintf(sb, ".data %s\n", strconv.Quote(string(data[i:end])))
		i = end
	}
}

func zeroRun(b []byte) int {
	n := 0
	for n < len(b) && b[n] == 0 {
		n++
	}
	return n
}
