package compiler

import (
	"strconv"
	"strings"
	"unicode"
)

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"int":      INT,
	"char":     CHAR,
	"double":   DOUBLE,
	"float":    FLOAT,
	"void":     VOID,
	"long":     LONG,
	"short":    SHORT,
	"unsigned": UNSIGNED,
	"signed":   SIGNED,
	"const":    CONST,
	"if":       IF,
	"else":     ELSE,
	"while":    WHILE,
	"do":       DO,
	"for":      FOR,
	"return":   RETURN,
	"break":    BREAK,
	"continue": CONTINUE,
	"struct":   STRUCT,
	"switch":   SWITCH,
	"case":     CASE,
	"default":  DEFAULT,
	"goto":     GOTO,
}

// Lexer is a restartable token stream over src. Each call to Next scans
// exactly one token; nothing is buffered ahead.
type Lexer struct {
	src       []rune
	pos       int  // index of the next rune to consume
	line      int  // current 1-based source line
	lineStart bool // only whitespace seen since the last newline
}

// NewLexer returns a Lexer positioned at the start of src.
func NewLexer(src string) *Lexer {
	l := &Lexer{src: []rune(src)}
	l.Reset()
	return l
}

// Reset rewinds the stream to the first token.
func (l *Lexer) Reset() {
	l.pos = 0
	l.line = 1
	l.lineStart = true
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.lineStart = true
	}
	return r
}

func (l *Lexer) atEnd() bool { return l.pos >= len(l.src) }

func (l *Lexer) skipWhitespace() {
	for !l.atEnd() && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// skipLineComment discards everything from the current position to end-of-line.
// The opening "//" must already have been consumed.
func (l *Lexer) skipLineComment() {
	for !l.atEnd() && l.peek() != '\n' {
		l.advance()
	}
}

// skipBlockComment discards everything up to and including the closing "*/".
// The opening "/*" must already have been consumed.
func (l *Lexer) skipBlockComment() bool {
	for !l.atEnd() {
		if l.peek() == '*' && l.peek2() == '/' {
			l.advance() // *
			l.advance() // /
			return true
		}
		l.advance()
	}
	return false
}

// scanIdent collects a full identifier, keyword or built-in name.
// The first character (letter or '_') must still be at l.peek().
func (l *Lexer) scanIdent() Token {
	line := l.line
	start := l.pos
	for !l.atEnd() {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	} else if IsBuiltin(lexeme) {
		tt = BUILTIN
	}
	return Token{Type: tt, Lexeme: lexeme, Line: line}
}

// scanNumber collects a hex integer or a decimal literal with at most one
// decimal point. The first digit (or the leading '.') must still be at l.peek().
func (l *Lexer) scanNumber() Token {
	line := l.line
	start := l.pos

	if l.peek() == '0' && (l.peek2() == 'x' || l.peek2() == 'X') {
		l.advance() // consume '0'
		l.advance() // consume 'x'
		for !l.atEnd() && isHexDigit(l.peek()) {
			l.advance()
		}
		lexeme := string(l.src[start:l.pos])
		v, err := strconv.ParseUint(lexeme, 0, 64)
		if err != nil {
			return Token{Type: ILLEGAL, Lexeme: "malformed hex literal " + lexeme, Line: line}
		}
		return Token{Type: NUMBER, Lexeme: lexeme, Num: float64(v), Line: line}
	}

	seenDot := false
	for !l.atEnd() {
		r := l.peek()
		if r == '.' && !seenDot {
			seenDot = true
			l.advance()
			continue
		}
		if !unicode.IsDigit(r) {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	// ParseFloat reports range errors alongside a usable ±Inf.
	v, _ := strconv.ParseFloat(lexeme, 64)
	return Token{Type: NUMBER, Lexeme: lexeme, Num: v, IsFloat: seenDot, Line: line}
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// escape decodes the character after a backslash. Unknown escapes stand
// for the character itself.
func escape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '0':
		return 0
	}
	return r
}

// scanChar collects a character literal 'c'.
func (l *Lexer) scanChar() Token {
	line := l.line
	start := l.pos
	l.advance() // consume opening '

	r := l.peek()
	if r == '\'' || r == '\n' || l.atEnd() {
		l.advance()
		return Token{Type: ILLEGAL, Lexeme: "empty or unterminated character literal", Line: line}
	}
	l.advance()
	if r == '\\' {
		r = escape(l.advance())
	}
	if l.peek() != '\'' {
		return Token{Type: ILLEGAL, Lexeme: "unterminated character literal", Line: line}
	}
	l.advance() // consume closing '
	return Token{Type: CHAR_LIT, Lexeme: string(l.src[start:l.pos]), Num: float64(r), Line: line}
}

// scanString collects a string literal "...".
func (l *Lexer) scanString() Token {
	line := l.line
	l.advance() // consume opening "
	var sb strings.Builder

	for !l.atEnd() {
		r := l.peek()
		if r == '"' {
			l.advance() // consume closing "
			return Token{Type: STRING, Lexeme: sb.String(), Line: line}
		}
		if r == '\n' {
			break
		}
		l.advance()
		if r == '\\' {
			r = escape(l.advance())
		}
		sb.WriteRune(r)
	}
	return Token{Type: ILLEGAL, Lexeme: "unterminated string literal", Line: line}
}

// scanDirective consumes a '#' line. The '#' must still be at l.peek().
func (l *Lexer) scanDirective() Token {
	line := l.line
	l.advance() // #
	start := l.pos
	for !l.atEnd() && l.peek() != '\n' {
		l.advance()
	}
	return Token{Type: DIRECTIVE, Lexeme: strings.TrimSpace(string(l.src[start:l.pos])), Line: line}
}

// Next skips whitespace and comments and returns the next Token.
// At the end of input it returns EOF on every call.
func (l *Lexer) Next() Token {
	for {
		l.skipWhitespace()
		if l.atEnd() {
			return Token{Type: EOF, Lexeme: "", Line: l.line}
		}
		if l.peek() == '/' && l.peek2() == '/' {
			l.advance()
			l.advance()
			l.skipLineComment()
			continue
		}
		if l.peek() == '/' && l.peek2() == '*' {
			line := l.line
			l.advance()
			l.advance()
			if !l.skipBlockComment() {
				return Token{Type: ILLEGAL, Lexeme: "unterminated block comment", Line: line}
			}
			continue
		}

		ch := l.peek()
		switch {
		case ch == '#' && l.lineStart:
			return l.scanDirective()
		case unicode.IsLetter(ch) || ch == '_':
			l.lineStart = false
			return l.scanIdent()
		case unicode.IsDigit(ch) || (ch == '.' && unicode.IsDigit(l.peek2())):
			l.lineStart = false
			return l.scanNumber()
		case ch == '"':
			l.lineStart = false
			return l.scanString()
		case ch == '\'':
			l.lineStart = false
			return l.scanChar()
		}

		l.lineStart = false
		if tok, ok := l.scanOperator(); ok {
			return tok
		}
		// Anything else is not part of the language; drop it.
	}
}

// scanOperator consumes one operator or punctuation token.
func (l *Lexer) scanOperator() (Token, bool) {
	line := l.line
	ch := l.advance()
	tok := func(tt TokenType, lexeme string) (Token, bool) {
		return Token{Type: tt, Lexeme: lexeme, Line: line}, true
	}
	// match consumes the next rune if it is next.
	match := func(next rune) bool {
		if l.peek() == next {
			l.advance()
			return true
		}
		return false
	}

	switch ch {
	case '{':
		return tok(LBRACE, "{")
	case '}':
		return tok(RBRACE, "}")
	case '(':
		return tok(LPAREN, "(")
	case ')':
		return tok(RPAREN, ")")
	case '[':
		return tok(LBRACKET, "[")
	case ']':
		return tok(RBRACKET, "]")
	case '.':
		return tok(DOT, ".")
	case ';':
		return tok(SEMICOLON, ";")
	case ',':
		return tok(COMMA, ",")
	case ':':
		return tok(COLON, ":")
	case '?':
		return tok(QUESTION, "?")
	case '~':
		return tok(TILDE, "~")
	case '^':
		return tok(CARET, "^")

	case '+':
		if match('+') {
			return tok(PLUS_PLUS, "++")
		}
		if match('=') {
			return tok(PLUS_ASSIGN, "+=")
		}
		return tok(PLUS, "+")
	case '-':
		if match('-') {
			return tok(MINUS_MINUS, "--")
		}
		if match('=') {
			return tok(MINUS_ASSIGN, "-=")
		}
		return tok(MINUS, "-")
	case '*':
		if match('=') {
			return tok(STAR_ASSIGN, "*=")
		}
		return tok(STAR, "*")
	case '/':
		if match('=') {
			return tok(SLASH_ASSIGN, "/=")
		}
		return tok(SLASH, "/")
	case '%':
		if match('=') {
			return tok(PERCENT_ASSIGN, "%=")
		}
		return tok(PERCENT, "%")
	case '&':
		if match('&') {
			return tok(AND_LOGICAL, "&&")
		}
		return tok(AND, "&")
	case '|':
		if match('|') {
			return tok(OR_LOGICAL, "||")
		}
		return tok(PIPE, "|")
	case '!':
		if match('=') {
			return tok(NOT_EQ, "!=")
		}
		return tok(NOT, "!")
	case '<':
		if match('=') {
			return tok(LESS_EQ, "<=")
		}
		if match('<') {
			return tok(SHL_OP, "<<")
		}
		return tok(LESS, "<")
	case '>':
		if match('=') {
			return tok(GREATER_EQ, ">=")
		}
		if match('>') {
			return tok(SHR_OP, ">>")
		}
		return tok(GREATER, ">")
	case '=':
		if match('=') { // lookahead: distinguish = vs ==
			return tok(EQUALS, "==")
		}
		return tok(ASSIGN, "=")
	}
	return Token{}, false
}

// Lex tokenises all of src and returns the tokens including the final EOF.
func Lex(src string) []Token {
	l := NewLexer(src)
	var tokens []Token
	for {
		tok := l.Next()
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens
		}
	}
}
