package asm

import (
	"testing"

	"omnivm/pkg/compiler"
)

// smallProgram is a counter loop.
const smallProgram = `
    PUSH_IMM 10
loop:
    PUSH_IMM 1
    SUB
    DUP
    JMP_IF loop
    POP
    HALT
`

const benchSource = `
int fib(int n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); }
int table[16];
for (int i = 0; i < 16; i++) table[i] = fib(i);
for (int i = 0; i < 16; i++) printf("%d: %d\n", i, table[i]);
puts("Benchmark complete");
`

func benchListing(b *testing.B) string {
	prog, err := compiler.Compile(benchSource)
	if err != nil {
		b.Fatal(err)
	}
	return Disassemble(prog)
}

func BenchmarkAssemble_Small(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _, err := Assemble(smallProgram)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAssemble_Compiled(b *testing.B) {
	text := benchListing(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, err := Assemble(text)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDisassemble(b *testing.B) {
	prog, err := compiler.Compile(benchSource)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Disassemble(prog)
	}
}
