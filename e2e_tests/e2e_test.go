package e2e

import (
	"context"
	"testing"

	"omnivm/pkg/asm"
	"omnivm/pkg/compiler"
	"omnivm/pkg/isa"
	"omnivm/pkg/runner"
	"omnivm/pkg/vm"
)

const fibSource = `
int fib(int n) {
    if (n == 0) { return 0; }
    if (n == 1) { return 1; }
    return fib(n - 1) + fib(n - 2);
}

int main() {
    int limit = 10;
    int *out = malloc(8 * limit);
    for (int i = 0; i < limit; i++) {
        out[i] = fib(i);
    }
    printf("fib(%d) = %d\n", limit - 1, out[limit - 1]);
    free(out);
    return 0;
}
`

// TestCompilerAndVM takes one program through every artifact form and checks
// that each runs to the same output.
func TestCompilerAndVM(t *testing.T) {
	const want = "fib(9) = 34\n"
	ctx := context.Background()
	limits := vm.DefaultLimits()

	// 1. Compile
	prog, err := compiler.Compile(fibSource)
	if err != nil {
		t.Fatalf("Compilation failed: %v", err)
	}
	if out, err := vm.Run(ctx, prog, limits); err != nil || out != want {
		t.Fatalf("compiled run: %q, %v", out, err)
	}

	// 2. Through the binary codec
	data, err := isa.MarshalProgram(prog)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	loaded, err := isa.UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out, err := vm.Run(ctx, loaded, limits); err != nil || out != want {
		t.Fatalf("decoded run: %q, %v", out, err)
	}

	// 3. Through the text form
	listing := asm.Disassemble(prog)
	reassembled, _, err := asm.Assemble(listing)
	if err != nil {
		t.Fatalf("Assembly failed: %v\nListing:\n%s", err, listing)
	}
	if out, err := vm.Run(ctx, reassembled, limits); err != nil || out != want {
		t.Fatalf("reassembled run: %q, %v\nListing:\n%s", out, err, listing)
	}

	// 4. Through the host entry point
	if got := runner.Execute(fibSource); got != "fib(9) = 34" {
		t.Errorf("Execute = %q", got)
	}
}
