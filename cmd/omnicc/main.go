// Command omnicc prints every stage of the compiler pipeline for a source
// file: tokens, the syntax tree, the generated program and the symbol table.
package main

import (
	"fmt"
	"io"
	"os"

	"omnivm/pkg/asm"
	"omnivm/pkg/compiler"
)

const testSource = `int x = 10;
int y = 20;
int add(int a, int b) { return a + b; }
print(add(x, y));
`

func main() {
	src := testSource
	if len(os.Args) > 1 {
		data, err := os.ReadFile(os.Args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = string(data)
	}
	if err := dump(os.Stdout, src); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dump(w io.Writer, src string) error {
	fmt.Fprintf(w, "Source:\n%s\n", src)

	tokens := compiler.Lex(src)
	fmt.Fprintf(w, "Tokens (%d)\n", len(tokens))
	for _, tok := range tokens {
		fmt.Fprintln(w, " ", tok)
	}
	fmt.Fprintln(w)

	arena, root, err := compiler.Parse(src)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	fmt.Fprintf(w, "AST (%d nodes)\n", arena.Len())
	fmt.Fprint(w, arena.Dump(root))
	fmt.Fprintln(w)

	syms := compiler.NewSymbolTable()
	prog, err := compiler.Generate(arena, root, syms)
	if err != nil {
		return fmt.Errorf("codegen error: %w", err)
	}
	fmt.Fprintln(w, "Program")
	fmt.Fprint(w, asm.Disassemble(prog))
	fmt.Fprintln(w)
	fmt.Fprint(w, syms)
	return nil
}
