// Package compiler provides the lexer, parser and code generator for the
// OmniVM C-like language.
//
// Pipeline: source → tokens → arena AST → symbols and types → isa.Program
package compiler
