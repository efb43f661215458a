package compiler

import (
	"fmt"
	"math"
	"strings"

	"omnivm/pkg/fault"
	"omnivm/pkg/isa"
)

// Parser pulls tokens from a Lexer on demand and builds an arena AST.
//
// Grammar:
//
//	program     = (directive | function | declaration | statement)* EOF
//	function    = type declarator "(" params ")" (block | ";")
//	declaration = type declarator ("=" initializer)? ("," declarator ("=" initializer)?)* ";"
//	declarator  = "*"* name ("[" NUMBER? "]")*
//	statement   = block | if | while | do | for | return | break | continue
//	            | declaration | expression ";" | ";"
//	expression  = assignment
//	assignment  = logical_or (assign_op assignment)?
//	logical_or  = logical_and ("||" logical_and)*
//	logical_and = bitwise_or ("&&" bitwise_or)*
//	bitwise_or  = bitwise_xor ("|" bitwise_xor)*
//	bitwise_xor = bitwise_and ("^" bitwise_and)*
//	bitwise_and = equality ("&" equality)*
//	equality    = relational (("=="|"!=") relational)*
//	relational  = shift (("<"|">"|"<="|">=") shift)*
//	shift       = additive (("<<"|">>") additive)*
//	additive    = multiplicative (("+"|"-") multiplicative)*
//	multiplicative = unary (("*"|"/"|"%") unary)*
//	unary       = ("&"|"*"|"~"|"!"|"-"|"+"|"++"|"--") unary | "(" type ")" unary | postfix
//	postfix     = primary ("[" expression "]" | "(" args ")" | "++" | "--")*
//	primary     = NUMBER | CHAR_LIT | STRING+ | name | "(" expression ")"
type Parser struct {
	lex         *Lexer
	buf         []Token // lookahead, filled lazily
	consumed    int     // tokens consumed so far
	arena       *Arena
	sourceLines []string
	depth       int // function nesting, 0 at top level
	nesting     int // open expression and statement levels

	item func() (NodeID, error) // one top-level item, parseTopLevel unless replaced
}

// MaxNesting bounds how deeply statements and expressions may nest,
// counting each link of a left-associative chain as a level.
const MaxNesting = 1000

// nest opens n levels, failing once MaxNesting is passed.
func (p *Parser) nest(tok Token, n int) error {
	if p.nesting+n > MaxNesting {
		return fault.At(fault.ResourceExhausted, tok.Line, "nesting deeper than %d levels", MaxNesting)
	}
	p.nesting += n
	return nil
}

func (p *Parser) unnest(n int) { p.nesting -= n }

// NewParser returns a Parser reading from a fresh Lexer over src.
func NewParser(src string) *Parser {
	p := &Parser{
		lex:         NewLexer(src),
		arena:       NewArena(),
		sourceLines: strings.Split(src, "\n"),
	}
	p.item = p.parseTopLevel
	return p
}

// Arena returns the arena the parser allocates into.
func (p *Parser) Arena() *Arena { return p.arena }

// errorf builds an UnsupportedConstruct fault quoting the offending line.
func (p *Parser) errorf(tok Token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	lineIdx := tok.Line - 1 // Lines are 1-based
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		if snippet := strings.TrimSpace(p.sourceLines[lineIdx]); snippet != "" {
			msg += " |> " + snippet
		}
	}
	return fault.At(fault.UnsupportedConstruct, tok.Line, "%s", msg)
}

// unexpected reports tok as out of place, surfacing lexer diagnostics.
func (p *Parser) unexpected(tok Token, wanted string) error {
	if tok.Type == ILLEGAL {
		return p.errorf(tok, "%s", tok.Lexeme)
	}
	return p.errorf(tok, "expected %s, got %s (%q)", wanted, tok.Type, tok.Lexeme)
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	return p.peekAt(0)
}

// peekAt returns the token at the given offset from the current position.
func (p *Parser) peekAt(offset int) Token {
	for len(p.buf) <= offset {
		p.buf = append(p.buf, p.lex.Next())
	}
	return p.buf[offset]
}

// advance consumes and returns the current token. EOF is never consumed.
func (p *Parser) advance() Token {
	tok := p.peek()
	if tok.Type != EOF {
		p.buf = p.buf[1:]
		p.consumed++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != tt {
		return tok, p.unexpected(tok, tt.String())
	}
	return p.advance(), nil
}

// expectName accepts an identifier or a built-in name.
func (p *Parser) expectName() (Token, error) {
	tok := p.peek()
	if tok.Type != IDENTIFIER && tok.Type != BUILTIN {
		return tok, p.unexpected(tok, "name")
	}
	return p.advance(), nil
}

func (p *Parser) node(kind NodeKind, tok Token) Node {
	return Node{Kind: kind, Line: tok.Line}
}

// Parse parses src into an arena and returns the NodeProgram root.
func Parse(src string) (*Arena, NodeID, error) {
	p := NewParser(src)
	root, err := p.ParseProgram()
	return p.arena, root, err
}

// ParseProgram consumes the whole token stream.
func (p *Parser) ParseProgram() (NodeID, error) {
	prog := Node{Kind: NodeProgram, Line: 1}
	for p.peek().Type != EOF {
		before := p.consumed
		item, err := p.item()
		if err != nil {
			return 0, err
		}
		if err := p.stalled(before); err != nil {
			return 0, err
		}
		if item != 0 {
			prog.List = append(prog.List, item)
		}
	}
	return p.arena.Add(prog), nil
}

// stalled fails when no token has been consumed since before.
func (p *Parser) stalled(before int) error {
	if p.consumed != before {
		return nil
	}
	tok := p.peek()
	return fault.At(fault.LexicalStall, tok.Line, "parser made no progress at %s (%q)", tok.Type, tok.Lexeme)
}

// parseTopLevel parses a function, a global declaration or a statement.
func (p *Parser) parseTopLevel() (NodeID, error) {
	if p.peek().Type.isTypeKeyword() {
		return p.parseDeclaration(true)
	}
	return p.parseStatement()
}

// parseDirective accepts #include lines and rejects every other directive.
func (p *Parser) parseDirective() (NodeID, error) {
	tok := p.advance()
	if strings.HasPrefix(tok.Lexeme, "include") {
		return 0, nil
	}
	name, _, _ := strings.Cut(tok.Lexeme, " ")
	return 0, p.errorf(tok, "preprocessor directive #%s is not supported", name)
}

// parseTypeSpec parses qualifiers and a base type such as "unsigned int",
// "const char" or "double". Pointer stars belong to the declarator.
func (p *Parser) parseTypeSpec() (*isa.Type, error) {
	var base *isa.Type
	isConst, sawModifier := false, false
	for {
		tok := p.peek()
		switch tok.Type {
		case CONST:
			isConst = true
		case UNSIGNED, SIGNED, SHORT, LONG:
			sawModifier = true
		case INT:
			if base == nil {
				base = isa.Int()
			}
		case CHAR:
			base = isa.Char()
		case DOUBLE, FLOAT:
			base = isa.Double()
		case VOID:
			base = isa.Void()
		case STRUCT:
			return nil, p.errorf(tok, "struct types are not supported")
		default:
			if base == nil {
				if !sawModifier {
					return nil, p.unexpected(tok, "type")
				}
				base = isa.Int()
			}
			base.IsConst = isConst
			return base, nil
		}
		p.advance()
	}
}

// parseStars wraps base in one pointer level per '*'.
func (p *Parser) parseStars(base *isa.Type) *isa.Type {
	for p.peek().Type == STAR {
		p.advance()
		if p.peek().Type == CONST {
			p.advance()
		}
		base = isa.PointerTo(base)
	}
	return base
}

// parseArrayDims parses trailing "[N]" suffixes. An empty first dimension
// yields an array of length 0 that the initializer sizes later.
func (p *Parser) parseArrayDims(elem *isa.Type) (*isa.Type, error) {
	var dims []int
	first := p.peek()
	for p.peek().Type == LBRACKET {
		open := p.advance()
		n := 0
		if p.peek().Type != RBRACKET {
			tok := p.peek()
			if tok.Type != NUMBER || tok.IsFloat || tok.Num < 1 || tok.Num != math.Trunc(tok.Num) {
				return nil, p.errorf(tok, "array size must be a positive integer constant")
			}
			if tok.Num > isa.MaxObjectSize {
				return nil, fault.At(fault.ResourceExhausted, tok.Line, "array size %s exceeds %d", tok.Lexeme, isa.MaxObjectSize)
			}
			p.advance()
			n = int(tok.Num)
		} else if len(dims) > 0 {
			return nil, p.errorf(open, "only the first array dimension may be omitted")
		}
		if _, err := p.expect(RBRACKET); err != nil {
			return nil, err
		}
		dims = append(dims, n)
	}
	t, size := elem, elem.Size()
	for i := len(dims) - 1; i >= 0; i-- {
		if n := dims[i]; n > 0 && size > isa.MaxObjectSize/n {
			return nil, fault.At(fault.ResourceExhausted, first.Line, "array needs more than %d bytes", isa.MaxObjectSize)
		}
		size *= max(dims[i], 1)
		t = isa.ArrayOf(t, dims[i])
	}
	return t, nil
}

// parseDeclaration parses a declaration statement, or at top level a
// function definition or prototype.
func (p *Parser) parseDeclaration(topLevel bool) (NodeID, error) {
	start := p.peek()
	base, err := p.parseTypeSpec()
	if err != nil {
		return 0, err
	}

	var decls []NodeID
	for {
		typ := p.parseStars(base.Clone())
		nameTok, err := p.expectName()
		if err != nil {
			return 0, err
		}

		if p.peek().Type == LPAREN {
			if !topLevel || len(decls) > 0 {
				return 0, p.errorf(nameTok, "function %q must be declared at top level", nameTok.Lexeme)
			}
			return p.parseFunction(typ, nameTok)
		}

		typ, err = p.parseArrayDims(typ)
		if err != nil {
			return 0, err
		}
		if typ.Kind == isa.TypeVoid {
			return 0, p.errorf(nameTok, "variable %q declared void", nameTok.Lexeme)
		}

		decl := p.node(NodeVarDecl, nameTok)
		decl.Text = nameTok.Lexeme
		decl.Type = typ
		if p.peek().Type == ASSIGN {
			p.advance()
			if p.peek().Type == LBRACE {
				decl.A, err = p.parseInitList()
			} else {
				decl.A, err = p.parseAssignment()
			}
			if err != nil {
				return 0, err
			}
		}
		decls = append(decls, p.arena.Add(decl))

		if p.peek().Type != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return 0, err
	}
	if len(decls) == 1 {
		return decls[0], nil
	}
	block := p.node(NodeBlock, start)
	block.List = decls
	return p.arena.Add(block), nil
}

// parseInitList parses { elem, elem, ... } with optionally nested lists.
func (p *Parser) parseInitList() (NodeID, error) {
	open, err := p.expect(LBRACE)
	if err != nil {
		return 0, err
	}
	if err := p.nest(open, 1); err != nil {
		return 0, err
	}
	defer p.unnest(1)
	list := p.node(NodeInitList, open)
	for p.peek().Type != RBRACE {
		var elem NodeID
		if p.peek().Type == LBRACE {
			elem, err = p.parseInitList()
		} else {
			elem, err = p.parseAssignment()
		}
		if err != nil {
			return 0, err
		}
		list.List = append(list.List, elem)
		if p.peek().Type != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(RBRACE); err != nil {
		return 0, err
	}
	return p.arena.Add(list), nil
}

// parseFunction parses the parameter list and body after the name.
func (p *Parser) parseFunction(ret *isa.Type, nameTok Token) (NodeID, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return 0, err
	}
	fn := p.node(NodeFunction, nameTok)
	fn.Text = nameTok.Lexeme
	fn.Type = ret

	if p.peek().Type == VOID && p.peekAt(1).Type == RPAREN {
		p.advance()
	}
	for p.peek().Type != RPAREN {
		ptok := p.peek()
		base, err := p.parseTypeSpec()
		if err != nil {
			return 0, err
		}
		typ := p.parseStars(base)
		param := p.node(NodeVarDecl, ptok)
		if t := p.peek().Type; t == IDENTIFIER || t == BUILTIN {
			param.Text = p.advance().Lexeme
		}
		if p.peek().Type == LBRACKET {
			arr, err := p.parseArrayDims(typ)
			if err != nil {
				return 0, err
			}
			// Array parameters decay to a pointer to their element.
			typ = isa.PointerTo(arr.Base)
		}
		if typ.Kind == isa.TypeVoid {
			return 0, p.errorf(ptok, "parameter declared void")
		}
		param.Type = typ
		fn.List = append(fn.List, p.arena.Add(param))
		if p.peek().Type != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(RPAREN); err != nil {
		return 0, err
	}

	if p.peek().Type == SEMICOLON {
		p.advance()
		return p.arena.Add(fn), nil // prototype
	}
	for _, id := range fn.List {
		if p.arena.Get(id).Text == "" {
			return 0, p.errorf(nameTok, "parameter of %q needs a name", fn.Text)
		}
	}

	p.depth++
	body, err := p.parseBlock()
	p.depth--
	if err != nil {
		return 0, err
	}
	fn.A = body
	return p.arena.Add(fn), nil
}

// parseBlock parses { statement* }.
func (p *Parser) parseBlock() (NodeID, error) {
	open, err := p.expect(LBRACE)
	if err != nil {
		return 0, err
	}
	block := p.node(NodeBlock, open)
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return 0, p.errorf(open, "unterminated block opened on line %d", open.Line)
		}
		before := p.consumed
		stmt, err := p.parseStatement()
		if err != nil {
			return 0, err
		}
		if err := p.stalled(before); err != nil {
			return 0, err
		}
		if stmt != 0 {
			block.List = append(block.List, stmt)
		}
	}
	p.advance() // }
	return p.arena.Add(block), nil
}

// parseStatement dispatches to the correct sub-parser based on the leading token.
func (p *Parser) parseStatement() (NodeID, error) {
	tok := p.peek()
	if err := p.nest(tok, 1); err != nil {
		return 0, err
	}
	defer p.unnest(1)

	switch tok.Type {
	case DIRECTIVE:
		return p.parseDirective()

	case LBRACE:
		return p.parseBlock()

	case IF:
		return p.parseIf()

	case WHILE:
		return p.parseWhile()

	case DO:
		return p.parseDoWhile()

	case FOR:
		return p.parseFor()

	case RETURN:
		p.advance()
		n := p.node(NodeReturn, tok)
		if p.peek().Type != SEMICOLON {
			val, err := p.parseExpression()
			if err != nil {
				return 0, err
			}
			n.A = val
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return 0, err
		}
		return p.arena.Add(n), nil

	case BREAK, CONTINUE:
		p.advance()
		if _, err := p.expect(SEMICOLON); err != nil {
			return 0, err
		}
		kind := NodeBreak
		if tok.Type == CONTINUE {
			kind = NodeContinue
		}
		return p.arena.Add(p.node(kind, tok)), nil

	case SEMICOLON:
		p.advance()
		return p.arena.Add(p.node(NodeEmpty, tok)), nil

	case SWITCH, CASE, DEFAULT, GOTO:
		return 0, p.errorf(tok, "%s statements are not supported", strings.ToLower(tok.Type.String()))

	case STRUCT:
		return 0, p.errorf(tok, "struct types are not supported")

	case ELSE:
		return 0, p.errorf(tok, "else without a matching if")

	case ILLEGAL:
		return 0, p.unexpected(tok, "statement")
	}

	if tok.Type.isTypeKeyword() {
		return p.parseDeclaration(p.depth == 0)
	}

	expr, err := p.parseExpression()
	if err != nil {
		return 0, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return 0, err
	}
	stmt := p.node(NodeExprStmt, tok)
	stmt.A = expr
	return p.arena.Add(stmt), nil
}

// parseParenCond parses ( expression ).
func (p *Parser) parseParenCond() (NodeID, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return 0, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return 0, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return 0, err
	}
	return cond, nil
}

// parseIf parses if ( cond ) body [ else elseBody ]
func (p *Parser) parseIf() (NodeID, error) {
	n := p.node(NodeIf, p.advance())
	var err error
	if n.A, err = p.parseParenCond(); err != nil {
		return 0, err
	}
	if n.B, err = p.parseStatement(); err != nil {
		return 0, err
	}
	if p.peek().Type == ELSE {
		p.advance()
		if n.C, err = p.parseStatement(); err != nil {
			return 0, err
		}
	}
	return p.arena.Add(n), nil
}

// parseWhile parses while ( cond ) body
func (p *Parser) parseWhile() (NodeID, error) {
	n := p.node(NodeWhile, p.advance())
	var err error
	if n.A, err = p.parseParenCond(); err != nil {
		return 0, err
	}
	if n.B, err = p.parseStatement(); err != nil {
		return 0, err
	}
	return p.arena.Add(n), nil
}

// parseDoWhile parses do body while ( cond ) ;
func (p *Parser) parseDoWhile() (NodeID, error) {
	n := p.node(NodeDoWhile, p.advance())
	var err error
	if n.A, err = p.parseStatement(); err != nil {
		return 0, err
	}
	if _, err := p.expect(WHILE); err != nil {
		return 0, err
	}
	if n.B, err = p.parseParenCond(); err != nil {
		return 0, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return 0, err
	}
	return p.arena.Add(n), nil
}

// parseFor parses for ( init; cond; post ) body. Any clause may be empty.
func (p *Parser) parseFor() (NodeID, error) {
	n := p.node(NodeFor, p.advance())
	if _, err := p.expect(LPAREN); err != nil {
		return 0, err
	}

	var err error
	switch {
	case p.peek().Type == SEMICOLON:
		p.advance()
	case p.peek().Type.isTypeKeyword():
		// The declaration consumes its own ';'.
		if n.A, err = p.parseDeclaration(false); err != nil {
			return 0, err
		}
	default:
		tok := p.peek()
		expr, err := p.parseExpression()
		if err != nil {
			return 0, err
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return 0, err
		}
		init := p.node(NodeExprStmt, tok)
		init.A = expr
		n.A = p.arena.Add(init)
	}

	if p.peek().Type != SEMICOLON {
		if n.B, err = p.parseExpression(); err != nil {
			return 0, err
		}
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return 0, err
	}

	if p.peek().Type != RPAREN {
		tok := p.peek()
		expr, err := p.parseExpression()
		if err != nil {
			return 0, err
		}
		post := p.node(NodeExprStmt, tok)
		post.A = expr
		n.C = p.arena.Add(post)
	}
	if _, err := p.expect(RPAREN); err != nil {
		return 0, err
	}

	if n.D, err = p.parseStatement(); err != nil {
		return 0, err
	}
	return p.arena.Add(n), nil
}

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() (NodeID, error) {
	return p.parseAssignment()
}

// parseAssignment handles = and the compound assignments, right to left.
func (p *Parser) parseAssignment() (NodeID, error) {
	if err := p.nest(p.peek(), 1); err != nil {
		return 0, err
	}
	defer p.unnest(1)

	left, err := p.parseLogicalOr()
	if err != nil {
		return 0, err
	}
	tok := p.peek()
	if tok.Type == QUESTION {
		return 0, p.errorf(tok, "the conditional operator ?: is not supported")
	}
	if !tok.Type.isAssignOp() {
		return left, nil
	}
	p.advance()
	right, err := p.parseAssignment()
	if err != nil {
		return 0, err
	}
	n := p.node(NodeAssign, tok)
	n.Op = tok.Type
	n.A, n.B = left, right
	return p.arena.Add(n), nil
}

// binaryLevel parses a left-associative chain of the given operators.
func (p *Parser) binaryLevel(kind NodeKind, next func() (NodeID, error), ops ...TokenType) (NodeID, error) {
	left, err := next()
	if err != nil {
		return 0, err
	}
	links := 0
	defer func() { p.unnest(links) }()
	for {
		tok := p.peek()
		found := false
		for _, op := range ops {
			if tok.Type == op {
				found = true
				break
			}
		}
		if !found {
			return left, nil
		}
		if err := p.nest(tok, 1); err != nil {
			return 0, err
		}
		links++
		p.advance()
		right, err := next()
		if err != nil {
			return 0, err
		}
		n := p.node(kind, tok)
		n.Op = tok.Type
		n.A, n.B = left, right
		left = p.arena.Add(n)
	}
}

// parseLogicalOr handles ||
func (p *Parser) parseLogicalOr() (NodeID, error) {
	return p.binaryLevel(NodeLogical, p.parseLogicalAnd, OR_LOGICAL)
}

// parseLogicalAnd handles &&
func (p *Parser) parseLogicalAnd() (NodeID, error) {
	return p.binaryLevel(NodeLogical, p.parseBitwiseOr, AND_LOGICAL)
}

// parseBitwiseOr handles | (lowest precedence among bitwise ops)
func (p *Parser) parseBitwiseOr() (NodeID, error) {
	return p.binaryLevel(NodeBinary, p.parseBitwiseXor, PIPE)
}

// parseBitwiseXor handles ^
func (p *Parser) parseBitwiseXor() (NodeID, error) {
	return p.binaryLevel(NodeBinary, p.parseBitwiseAnd, CARET)
}

// parseBitwiseAnd handles binary &. Unary & is handled in parseUnary.
func (p *Parser) parseBitwiseAnd() (NodeID, error) {
	return p.binaryLevel(NodeBinary, p.parseEquality, AND)
}

// parseEquality handles == and !=
func (p *Parser) parseEquality() (NodeID, error) {
	return p.binaryLevel(NodeBinary, p.parseRelational, EQUALS, NOT_EQ)
}

// parseRelational handles < > <= >=
func (p *Parser) parseRelational() (NodeID, error) {
	return p.binaryLevel(NodeBinary, p.parseShift, LESS, GREATER, LESS_EQ, GREATER_EQ)
}

// parseShift handles << and >>
func (p *Parser) parseShift() (NodeID, error) {
	return p.binaryLevel(NodeBinary, p.parseAdditive, SHL_OP, SHR_OP)
}

// parseAdditive handles + and -
func (p *Parser) parseAdditive() (NodeID, error) {
	return p.binaryLevel(NodeBinary, p.parseMultiplicative, PLUS, MINUS)
}

// parseMultiplicative handles * / %
func (p *Parser) parseMultiplicative() (NodeID, error) {
	return p.binaryLevel(NodeBinary, p.parseUnary, STAR, SLASH, PERCENT)
}

// parseUnary handles casts and the prefix operators.
func (p *Parser) parseUnary() (NodeID, error) {
	tok := p.peek()
	if err := p.nest(tok, 1); err != nil {
		return 0, err
	}
	defer p.unnest(1)

	if tok.Type == LPAREN && (p.peekAt(1).Type.isTypeKeyword() || p.peekAt(1).Type == STRUCT) {
		p.advance() // (
		base, err := p.parseTypeSpec()
		if err != nil {
			return 0, err
		}
		typ := p.parseStars(base)
		if _, err := p.expect(RPAREN); err != nil {
			return 0, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		n := p.node(NodeCast, tok)
		n.Type = typ
		n.A = operand
		return p.arena.Add(n), nil
	}

	switch tok.Type {
	case PLUS:
		p.advance()
		return p.parseUnary()
	case AND, STAR, TILDE, NOT, MINUS, PLUS_PLUS, MINUS_MINUS:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		n := p.node(NodeUnary, tok)
		n.Op = tok.Type
		n.A = operand
		return p.arena.Add(n), nil
	}
	return p.parsePostfix()
}

// parsePostfix handles indexing, calls and postfix ++/--.
func (p *Parser) parsePostfix() (NodeID, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}

	links := 0
	defer func() { p.unnest(links) }()
	for {
		tok := p.peek()
		switch tok.Type {
		case LBRACKET, LPAREN, PLUS_PLUS, MINUS_MINUS:
			if err := p.nest(tok, 1); err != nil {
				return 0, err
			}
			links++
		}
		switch tok.Type {
		case LBRACKET:
			p.advance()
			index, err := p.parseExpression()
			if err != nil {
				return 0, err
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return 0, err
			}
			n := p.node(NodeIndex, tok)
			n.A, n.B = expr, index
			expr = p.arena.Add(n)

		case LPAREN:
			callee := p.arena.Get(expr)
			if callee.Kind != NodeIdent {
				return 0, p.errorf(tok, "expected function name before '('")
			}
			name := callee.Text
			p.advance()
			args, err := p.parseCallArgs()
			if err != nil {
				return 0, err
			}
			n := p.node(NodeCall, tok)
			n.Text = name
			n.List = args
			expr = p.arena.Add(n)

		case PLUS_PLUS, MINUS_MINUS:
			p.advance()
			n := p.node(NodePostfix, tok)
			n.Op = tok.Type
			n.A = expr
			expr = p.arena.Add(n)

		case DOT:
			return 0, p.errorf(tok, "member access requires struct types, which are not supported")

		default:
			return expr, nil
		}
	}
}

func (p *Parser) parseCallArgs() ([]NodeID, error) {
	var args []NodeID
	if p.peek().Type != RPAREN {
		for {
			arg, err := p.parseAssignment()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			if p.peek().Type != COMMA {
				break
			}
			p.advance()
		}
	}

	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return args, nil
}

// parsePrimary handles literals, names, and parenthesised expressions.
func (p *Parser) parsePrimary() (NodeID, error) {
	tok := p.peek()
	switch tok.Type {
	case NUMBER:
		p.advance()
		n := p.node(NodeNumber, tok)
		n.Num = tok.Num
		n.Type = isa.Int()
		if tok.IsFloat {
			n.Type = isa.Double()
		}
		return p.arena.Add(n), nil

	case CHAR_LIT:
		p.advance()
		n := p.node(NodeNumber, tok)
		n.Num = tok.Num
		n.Type = isa.Char()
		return p.arena.Add(n), nil

	case STRING:
		// Adjacent literals concatenate.
		var sb strings.Builder
		for p.peek().Type == STRING {
			sb.WriteString(p.advance().Lexeme)
		}
		n := p.node(NodeString, tok)
		n.Text = sb.String()
		return p.arena.Add(n), nil

	case IDENTIFIER, BUILTIN:
		p.advance()
		n := p.node(NodeIdent, tok)
		n.Text = tok.Lexeme
		return p.arena.Add(n), nil

	case LPAREN:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return 0, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return 0, err
		}
		return expr, nil
	}
	return 0, p.unexpected(tok, "expression")
}
