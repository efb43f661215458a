package compiler

import (
	"reflect"
	"testing"
)

func TestLex(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Token
	}{
		{
			name:  "Empty",
			input: "",
			expected: []Token{
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Basic Tokens",
			input: "+ - * / & = == != < > ; , { } ( )",
			expected: []Token{
				{Type: PLUS, Lexeme: "+", Line: 1},
				{Type: MINUS, Lexeme: "-", Line: 1},
				{Type: STAR, Lexeme: "*", Line: 1},
				{Type: SLASH, Lexeme: "/", Line: 1},
				{Type: AND, Lexeme: "&", Line: 1},
				{Type: ASSIGN, Lexeme: "=", Line: 1},
				{Type: EQUALS, Lexeme: "==", Line: 1},
				{Type: NOT_EQ, Lexeme: "!=", Line: 1},
				{Type: LESS, Lexeme: "<", Line: 1},
				{Type: GREATER, Lexeme: ">", Line: 1},
				{Type: SEMICOLON, Lexeme: ";", Line: 1},
				{Type: COMMA, Lexeme: ",", Line: 1},
				{Type: LBRACE, Lexeme: "{", Line: 1},
				{Type: RBRACE, Lexeme: "}", Line: 1},
				{Type: LPAREN, Lexeme: "(", Line: 1},
				{Type: RPAREN, Lexeme: ")", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Keywords, Identifiers and Built-ins",
			input: "int double if else while do for return variableName _under_score printf",
			expected: []Token{
				{Type: INT, Lexeme: "int", Line: 1},
				{Type: DOUBLE, Lexeme: "double", Line: 1},
				{Type: IF, Lexeme: "if", Line: 1},
				{Type: ELSE, Lexeme: "else", Line: 1},
				{Type: WHILE, Lexeme: "while", Line: 1},
				{Type: DO, Lexeme: "do", Line: 1},
				{Type: FOR, Lexeme: "for", Line: 1},
				{Type: RETURN, Lexeme: "return", Line: 1},
				{Type: IDENTIFIER, Lexeme: "variableName", Line: 1},
				{Type: IDENTIFIER, Lexeme: "_under_score", Line: 1},
				{Type: BUILTIN, Lexeme: "printf", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Numbers",
			input: "123 0 3.14 .5 0x1A 0Xff",
			expected: []Token{
				{Type: NUMBER, Lexeme: "123", Num: 123, Line: 1},
				{Type: NUMBER, Lexeme: "0", Num: 0, Line: 1},
				{Type: NUMBER, Lexeme: "3.14", Num: 3.14, IsFloat: true, Line: 1},
				{Type: NUMBER, Lexeme: ".5", Num: 0.5, IsFloat: true, Line: 1},
				{Type: NUMBER, Lexeme: "0x1A", Num: 26, Line: 1},
				{Type: NUMBER, Lexeme: "0Xff", Num: 255, Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Second dot ends the number",
			input: "1.2.3",
			expected: []Token{
				{Type: NUMBER, Lexeme: "1.2", Num: 1.2, IsFloat: true, Line: 1},
				{Type: NUMBER, Lexeme: ".3", Num: 0.3, IsFloat: true, Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Hex No Digits",
			input: "0x",
			expected: []Token{
				{Type: ILLEGAL, Lexeme: "malformed hex literal 0x", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Comments",
			input: "x // comment\n y /* block */ z",
			expected: []Token{
				{Type: IDENTIFIER, Lexeme: "x", Line: 1},
				{Type: IDENTIFIER, Lexeme: "y", Line: 2},
				{Type: IDENTIFIER, Lexeme: "z", Line: 2},
				{Type: EOF, Lexeme: "", Line: 2},
			},
		},
		{
			name:  "Unterminated Block Comment",
			input: "/* start",
			expected: []Token{
				{Type: ILLEGAL, Lexeme: "unterminated block comment", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Unknown characters are dropped",
			input: "a @ $ b",
			expected: []Token{
				{Type: IDENTIFIER, Lexeme: "a", Line: 1},
				{Type: IDENTIFIER, Lexeme: "b", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Bitwise and Shift Operators",
			input: "| ^ ~ % << >>",
			expected: []Token{
				{Type: PIPE, Lexeme: "|", Line: 1},
				{Type: CARET, Lexeme: "^", Line: 1},
				{Type: TILDE, Lexeme: "~", Line: 1},
				{Type: PERCENT, Lexeme: "%", Line: 1},
				{Type: SHL_OP, Lexeme: "<<", Line: 1},
				{Type: SHR_OP, Lexeme: ">>", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Single Less and Greater not confused with shifts",
			input: "a < b > c <= d >= e",
			expected: []Token{
				{Type: IDENTIFIER, Lexeme: "a", Line: 1},
				{Type: LESS, Lexeme: "<", Line: 1},
				{Type: IDENTIFIER, Lexeme: "b", Line: 1},
				{Type: GREATER, Lexeme: ">", Line: 1},
				{Type: IDENTIFIER, Lexeme: "c", Line: 1},
				{Type: LESS_EQ, Lexeme: "<=", Line: 1},
				{Type: IDENTIFIER, Lexeme: "d", Line: 1},
				{Type: GREATER_EQ, Lexeme: ">=", Line: 1},
				{Type: IDENTIFIER, Lexeme: "e", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Logical Operators",
			input: "&& || !",
			expected: []Token{
				{Type: AND_LOGICAL, Lexeme: "&&", Line: 1},
				{Type: OR_LOGICAL, Lexeme: "||", Line: 1},
				{Type: NOT, Lexeme: "!", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Increment and Compound Assignment",
			input: "++ -- += -= *= /= %=",
			expected: []Token{
				{Type: PLUS_PLUS, Lexeme: "++", Line: 1},
				{Type: MINUS_MINUS, Lexeme: "--", Line: 1},
				{Type: PLUS_ASSIGN, Lexeme: "+=", Line: 1},
				{Type: MINUS_ASSIGN, Lexeme: "-=", Line: 1},
				{Type: STAR_ASSIGN, Lexeme: "*=", Line: 1},
				{Type: SLASH_ASSIGN, Lexeme: "/=", Line: 1},
				{Type: PERCENT_ASSIGN, Lexeme: "%=", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "String Literal",
			input: "\"hello\"",
			expected: []Token{
				{Type: STRING, Lexeme: "hello", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "String with Escapes",
			input: `"a\nb\t\"q\"\z"`,
			expected: []Token{
				{Type: STRING, Lexeme: "a\nb\t\"q\"z", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Unterminated String",
			input: "\"hello",
			expected: []Token{
				{Type: ILLEGAL, Lexeme: "unterminated string literal", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Character Literals",
			input: `'a' '\n'`,
			expected: []Token{
				{Type: CHAR_LIT, Lexeme: "'a'", Num: 'a', Line: 1},
				{Type: CHAR_LIT, Lexeme: `'\n'`, Num: '\n', Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Directive only at line start",
			input: "#include <stdio.h>\nint x;",
			expected: []Token{
				{Type: DIRECTIVE, Lexeme: "include <stdio.h>", Line: 1},
				{Type: INT, Lexeme: "int", Line: 2},
				{Type: IDENTIFIER, Lexeme: "x", Line: 2},
				{Type: SEMICOLON, Lexeme: ";", Line: 2},
				{Type: EOF, Lexeme: "", Line: 2},
			},
		},
		{
			name:  "Keywords: void struct",
			input: "void struct",
			expected: []Token{
				{Type: VOID, Lexeme: "void", Line: 1},
				{Type: STRUCT, Lexeme: "struct", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Punctuation: . [ ] : ?",
			input: ". [ ] : ?",
			expected: []Token{
				{Type: DOT, Lexeme: ".", Line: 1},
				{Type: LBRACKET, Lexeme: "[", Line: 1},
				{Type: RBRACKET, Lexeme: "]", Line: 1},
				{Type: COLON, Lexeme: ":", Line: 1},
				{Type: QUESTION, Lexeme: "?", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Adjacent Tokens",
			input: "x+y",
			expected: []Token{
				{Type: IDENTIFIER, Lexeme: "x", Line: 1},
				{Type: PLUS, Lexeme: "+", Line: 1},
				{Type: IDENTIFIER, Lexeme: "y", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Lex(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Lex() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLexerRestart(t *testing.T) {
	l := NewLexer("int x;")
	first := []Token{l.Next(), l.Next(), l.Next(), l.Next()}
	if first[3].Type != EOF {
		t.Fatalf("expected EOF after three tokens, got %v", first[3])
	}
	if tok := l.Next(); tok.Type != EOF {
		t.Errorf("EOF should repeat, got %v", tok)
	}

	l.Reset()
	for i, want := range first {
		if got := l.Next(); got != want {
			t.Errorf("token %d after Reset = %v, want %v", i, got, want)
		}
	}
}
