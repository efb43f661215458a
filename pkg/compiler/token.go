package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF     TokenType = iota // sentinel: end of input, returned forever
	ILLEGAL                  // malformed literal or comment; Lexeme holds the reason

	// Literals
	IDENTIFIER // variable / function name
	BUILTIN    // name from the fixed built-in set
	NUMBER     // decimal or hex literal, value in Num
	STRING     // string literal "...", escapes already decoded
	CHAR_LIT   // character literal 'c', value in Num
	DIRECTIVE  // '#' line, rest of the line in Lexeme

	// Keywords
	INT      // "int"
	CHAR     // "char"
	DOUBLE   // "double"
	FLOAT    // "float", an alias for double
	VOID     // "void"
	LONG     // "long"
	SHORT    // "short"
	UNSIGNED // "unsigned"
	SIGNED   // "signed"
	CONST    // "const"
	IF       // "if"
	ELSE     // "else"
	WHILE    // "while"
	DO       // "do"
	FOR      // "for"
	RETURN   // "return"
	BREAK    // "break"
	CONTINUE // "continue"
	STRUCT   // "struct"
	SWITCH   // "switch"
	CASE     // "case"
	DEFAULT  // "default"
	GOTO     // "goto"

	// Paired delimiters
	LBRACE   // {
	RBRACE   // }
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]

	// Punctuation
	DOT       // .
	SEMICOLON // ;
	COMMA     // ,
	COLON     // :
	QUESTION  // ?

	// Arithmetic operators
	PLUS        // +
	MINUS       // -
	STAR        // *
	SLASH       // /
	PERCENT     // %
	AND         // & (binary bitwise AND, or unary address-of)
	PIPE        // |
	CARET       // ^
	TILDE       // ~
	SHL_OP      // <<
	SHR_OP      // >>
	AND_LOGICAL // &&
	OR_LOGICAL  // ||
	NOT         // !

	PLUS_PLUS   // ++
	MINUS_MINUS // --

	// Assignment / comparison
	ASSIGN         // =
	PLUS_ASSIGN    // +=
	MINUS_ASSIGN   // -=
	STAR_ASSIGN    // *=
	SLASH_ASSIGN   // /=
	PERCENT_ASSIGN // %=

	EQUALS     // ==
	NOT_EQ     // !=
	LESS       // <
	GREATER    // >
	LESS_EQ    // <=
	GREATER_EQ // >=

	tokenTypeCount
)

var tokenNames = [...]string{
	EOF:            "EOF",
	ILLEGAL:        "ILLEGAL",
	IDENTIFIER:     "IDENTIFIER",
	BUILTIN:        "BUILTIN",
	NUMBER:         "NUMBER",
	STRING:         "STRING",
	CHAR_LIT:       "CHAR_LIT",
	DIRECTIVE:      "DIRECTIVE",
	INT:            "INT",
	CHAR:           "CHAR",
	DOUBLE:         "DOUBLE",
	FLOAT:          "FLOAT",
	VOID:           "VOID",
	LONG:           "LONG",
	SHORT:          "SHORT",
	UNSIGNED:       "UNSIGNED",
	SIGNED:         "SIGNED",
	CONST:          "CONST",
	IF:             "IF",
	ELSE:           "ELSE",
	WHILE:          "WHILE",
	DO:             "DO",
	FOR:            "FOR",
	RETURN:         "RETURN",
	BREAK:          "BREAK",
	CONTINUE:       "CONTINUE",
	STRUCT:         "STRUCT",
	SWITCH:         "SWITCH",
	CASE:           "CASE",
	DEFAULT:        "DEFAULT",
	GOTO:           "GOTO",
	LBRACE:         "LBRACE",
	RBRACE:         "RBRACE",
	LPAREN:         "LPAREN",
	RPAREN:         "RPAREN",
	LBRACKET:       "LBRACKET",
	RBRACKET:       "RBRACKET",
	DOT:            "DOT",
	SEMICOLON:      "SEMICOLON",
	COMMA:          "COMMA",
	COLON:          "COLON",
	QUESTION:       "QUESTION",
	PLUS:           "PLUS",
	MINUS:          "MINUS",
	STAR:           "STAR",
	SLASH:          "SLASH",
	PERCENT:        "PERCENT",
	AND:            "AND",
	PIPE:           "PIPE",
	CARET:          "CARET",
	TILDE:          "TILDE",
	SHL_OP:         "SHL_OP",
	SHR_OP:         "SHR_OP",
	AND_LOGICAL:    "AND_LOGICAL",
	OR_LOGICAL:     "OR_LOGICAL",
	NOT:            "NOT",
	PLUS_PLUS:      "PLUS_PLUS",
	MINUS_MINUS:    "MINUS_MINUS",
	ASSIGN:         "ASSIGN",
	PLUS_ASSIGN:    "PLUS_ASSIGN",
	MINUS_ASSIGN:   "MINUS_ASSIGN",
	STAR_ASSIGN:    "STAR_ASSIGN",
	SLASH_ASSIGN:   "SLASH_ASSIGN",
	PERCENT_ASSIGN: "PERCENT_ASSIGN",
	EQUALS:         "EQUALS",
	NOT_EQ:         "NOT_EQ",
	LESS:           "LESS",
	GREATER:        "GREATER",
	LESS_EQ:        "LESS_EQ",
	GREATER_EQ:     "GREATER_EQ",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// isTypeKeyword reports whether tt can start a type specifier.
func (tt TokenType) isTypeKeyword() bool {
	switch tt {
	case INT, CHAR, DOUBLE, FLOAT, VOID, LONG, SHORT, UNSIGNED, SIGNED, CONST:
		return true
	}
	return false
}

// isAssignOp reports whether tt is = or a compound assignment.
func (tt TokenType) isAssignOp() bool {
	switch tt {
	case ASSIGN, PLUS_ASSIGN, MINUS_ASSIGN, STAR_ASSIGN, SLASH_ASSIGN, PERCENT_ASSIGN:
		return true
	}
	return false
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type    TokenType
	Lexeme  string  // the exact source text that was matched
	Num     float64 // value of NUMBER and CHAR_LIT tokens
	IsFloat bool    // NUMBER had a decimal point
	Line    int     // 1-based source line
}

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}
