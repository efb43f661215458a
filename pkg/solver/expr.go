package solver

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

type nodeID int32

type nodeKind uint8

const (
	nodeNumber nodeKind = iota
	nodeVar
	nodeNeg
	nodeBinary // a op b
	nodeCall   // fn(a)
)

type node struct {
	kind nodeKind
	op   byte
	fn   string
	num  float64
	a, b nodeID
}

var functions = map[string]func(float64) float64{
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
	"log":  math.Log,
	"exp":  math.Exp,
	"sqrt": math.Sqrt,
}

// Expr is a parsed expression in one variable. An equation "l = r" is
// stored as l - r.
type Expr struct {
	nodes []node
	root  nodeID
	name  string
}

// Variable returns the name of the unknown, or "" for a constant expression.
func (e *Expr) Variable() string { return e.name }

// Eval evaluates e with the unknown bound to x.
func (e *Expr) Eval(x float64) float64 { return e.eval(e.root, x) }

func (e *Expr) eval(id nodeID, x float64) float64 {
	n := &e.nodes[id]
	switch n.kind {
	case nodeNumber:
		return n.num
	case nodeVar:
		return x
	case nodeNeg:
		return -e.eval(n.a, x)
	case nodeCall:
		return functions[n.fn](e.eval(n.a, x))
	}

	l, r := e.eval(n.a, x), e.eval(n.b, x)
	switch n.op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	case '/':
		return l / r
	default:
		return math.Pow(l, r)
	}
}

func (e *Expr) String() string {
	var sb strings.Builder
	e.write(&sb, e.root)
	return sb.String()
}

func (e *Expr) write(sb *strings.Builder, id nodeID) {
	n := &e.nodes[id]
	switch n.kind {
	case nodeNumber:
		sb.WriteString(strconv.FormatFloat(n.num, 'g', -1, 64))
	case nodeVar:
		sb.WriteString(e.name)
	case nodeNeg:
		sb.WriteString("(-")
		e.write(sb, n.a)
		sb.WriteByte(')')
	case nodeCall:
		sb.WriteString(n.fn)
		sb.WriteByte('(')
		e.write(sb, n.a)
		sb.WriteByte(')')
	case nodeBinary:
		sb.WriteByte('(')
		e.write(sb, n.a)
		fmt.Fprintf(sb, " %c ", n.op)
		e.write(sb, n.b)
		sb.WriteByte(')')
	}
}

// SyntaxError reports where an equation stopped making sense.
type SyntaxError struct {
	Pos int // byte offset
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("column %d: %s", e.Pos+1, e.Msg)
}

type token struct {
	kind byte // 'n' number, 'i' identifier, 0 end, otherwise the operator
	text string
	num  float64
	pos  int
}

type parser struct {
	src  string
	pos  int
	tok  token
	expr *Expr
}

// Parse reads an expression or an equation. Grammar, loosest first:
//
//	equation = sum [ "=" sum ]
//	sum      = product { ("+" | "-") product }
//	product  = unary { ("*" | "/") unary }
//	unary    = ("-" | "+") unary | power
//	power    = primary [ "^" unary ]
//	primary  = number | name | func "(" sum ")" | "(" sum ")"
//
// "^" is right associative and binds tighter than unary minus. Every name
// that is not a function is the unknown, and only one may appear.
func Parse(equation string) (*Expr, error) {
	p := &parser{src: equation, expr: &Expr{}}
	if err := p.next(); err != nil {
		return nil, err
	}
	lhs, err := p.sum()
	if err != nil {
		return nil, err
	}
	root := lhs
	if p.tok.kind == '=' {
		if err := p.next(); err != nil {
			return nil, err
		}
		rhs, err := p.sum()
		if err != nil {
			return nil, err
		}
		root = p.add(node{kind: nodeBinary, op: '-', a: lhs, b: rhs})
	}
	if p.tok.kind != 0 {
		return nil, p.errorf("unexpected %q", p.tok.text)
	}
	p.expr.root = root
	return p.expr, nil
}

func (p *parser) add(n node) nodeID {
	p.expr.nodes = append(p.expr.nodes, n)
	return nodeID(len(p.expr.nodes) - 1)
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) next() error {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{pos: start}
		return nil
	}

	c := p.src[p.pos]
	switch {
	case isDigit(c) || c == '.':
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		if p.pos+1 < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
			j := p.pos + 1
			if p.src[j] == '+' || p.src[j] == '-' {
				j++
			}
			if j < len(p.src) && isDigit(p.src[j]) {
				for j < len(p.src) && isDigit(p.src[j]) {
					j++
				}
				p.pos = j
			}
		}
		text := p.src[start:p.pos]
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return &SyntaxError{Pos: start, Msg: fmt.Sprintf("bad number %q", text)}
		}
		p.tok = token{kind: 'n', text: text, num: v, pos: start}
	case isLetter(c):
		for p.pos < len(p.src) && (isLetter(p.src[p.pos]) || isDigit(p.src[p.pos])) {
			p.pos++
		}
		p.tok = token{kind: 'i', text: p.src[start:p.pos], pos: start}
	case strings.IndexByte("+-*/^()=", c) >= 0:
		p.pos++
		p.tok = token{kind: c, text: string(c), pos: start}
	default:
		return &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", c)}
	}
	return nil
}

func (p *parser) sum() (nodeID, error) {
	lhs, err := p.product()
	if err != nil {
		return 0, err
	}
	for p.tok.kind == '+' || p.tok.kind == '-' {
		op := p.tok.kind
		if err := p.next(); err != nil {
			return 0, err
		}
		rhs, err := p.product()
		if err != nil {
			return 0, err
		}
		lhs = p.add(node{kind: nodeBinary, op: op, a: lhs, b: rhs})
	}
	return lhs, nil
}

func (p *parser) product() (nodeID, error) {
	lhs, err := p.unary()
	if err != nil {
		return 0, err
	}
	for p.tok.kind == '*' || p.tok.kind == '/' {
		op := p.tok.kind
		if err := p.next(); err != nil {
			return 0, err
		}
		rhs, err := p.unary()
		if err != nil {
			return 0, err
		}
		lhs = p.add(node{kind: nodeBinary, op: op, a: lhs, b: rhs})
	}
	return lhs, nil
}

func (p *parser) unary() (nodeID, error) {
	if p.tok.kind == '-' || p.tok.kind == '+' {
		neg := p.tok.kind == '-'
		if err := p.next(); err != nil {
			return 0, err
		}
		operand, err := p.unary()
		if err != nil || !neg {
			return operand, err
		}
		return p.add(node{kind: nodeNeg, a: operand}), nil
	}
	return p.power()
}

func (p *parser) power() (nodeID, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != '^' {
		return base, nil
	}
	if err := p.next(); err != nil {
		return 0, err
	}
	exp, err := p.unary()
	if err != nil {
		return 0, err
	}
	return p.add(node{kind: nodeBinary, op: '^', a: base, b: exp}), nil
}

func (p *parser) primary() (nodeID, error) {
	tok := p.tok
	switch tok.kind {
	case 'n':
		if err := p.next(); err != nil {
			return 0, err
		}
		return p.add(node{kind: nodeNumber, num: tok.num}), nil

	case 'i':
		if err := p.next(); err != nil {
			return 0, err
		}
		if _, ok := functions[tok.text]; ok {
			if p.tok.kind != '(' {
				return 0, p.errorf("%s needs a parenthesized argument", tok.text)
			}
			arg, err := p.group()
			if err != nil {
				return 0, err
			}
			return p.add(node{kind: nodeCall, fn: tok.text, a: arg}), nil
		}
		if p.expr.name != "" && p.expr.name != tok.text {
			return 0, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("second unknown %q, already solving for %q", tok.text, p.expr.name)}
		}
		p.expr.name = tok.text
		return p.add(node{kind: nodeVar}), nil

	case '(':
		return p.group()

	case 0:
		return 0, p.errorf("unexpected end of equation")
	}
	return 0, p.errorf("unexpected %q", tok.text)
}

// group parses "(" sum ")" with the current token on the "(".
func (p *parser) group() (nodeID, error) {
	if err := p.next(); err != nil {
		return 0, err
	}
	inner, err := p.sum()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != ')' {
		return 0, p.errorf("missing ')'")
	}
	return inner, p.next()
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' }
