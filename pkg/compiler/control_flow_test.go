package compiler

import (
	"strings"
	"testing"
)

func TestControlFlow(t *testing.T) {
	runCases(t, []runCase{
		{"if", "int x = 1; if (x == 1) { x = 2; } print(x);", "2\n"},
		{"if false", "int x = 1; if (x == 2) x = 5; print(x);", "1\n"},
		{"if else", "int x = 3; if (x > 5) print(1); else print(0);", "0\n"},
		{"else if chain", `
			int x = 2;
			if (x == 1) print(10);
			else if (x == 2) print(20);
			else print(30);
		`, "20\n"},
		{"nested if", "int a = 1; int b = 0; if (a) { if (b) print(1); else print(2); }", "2\n"},
		{"while", "int i = 0; while (i < 3) { print(i); i++; }", "0\n1\n2\n"},
		{"while never runs", "while (0) print(1); print(2);", "2\n"},
		{"do while runs once", "int n = 0; do { print(n); n++; } while (n < 0);", "0\n"},
		{"do while", "int n = 3; do { n--; } while (n > 0); print(n);", "0\n"},
		{"for", "int i; for (i = 0; i < 3; i++) print(i);", "0\n1\n2\n"},
		{"for with declaration", "int sum = 0; for (int i = 1; i <= 10; i++) sum += i; print(sum);", "55\n"},
		{"for ever with break", "int i = 0; for (;;) { if (i == 4) break; i++; } print(i);", "4\n"},
		{"break and continue", `
			int i = 0;
			while (1) {
				i++;
				if (i == 2) continue;
				if (i > 4) break;
				print(i);
			}
		`, "1\n3\n4\n"},
		{"continue in for runs the step", `
			int odd = 0;
			for (int i = 0; i < 6; i++) {
				if (i % 2 == 0) continue;
				odd++;
			}
			print(odd);
		`, "3\n"},
		{"continue in do while checks the condition", `
			int i = 0;
			do {
				i++;
				if (i < 3) continue;
				print(i);
			} while (i < 3);
		`, "3\n"},
		{"nested loops break inner only", `
			int count = 0;
			for (int i = 0; i < 3; i++) {
				for (int j = 0; j < 10; j++) {
					if (j == 2) break;
					count++;
				}
			}
			print(count);
		`, "6\n"},
		{"top-level return ends the program", "print(1); return 0; print(2);", "1\n"},
	})
}

func TestControlFlowListing(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []string
	}{
		{
			name:     "if statement",
			input:    "int x = 1; if (x == 1) { x = 2; }",
			contains: []string{"EQ", "JMP_IF_NOT"},
		},
		{
			name:     "if-else statement",
			input:    "int x = 1; if (x == 1) x = 2; else x = 3;",
			contains: []string{"JMP_IF_NOT", "JMP "},
		},
		{
			name:     "while loop",
			input:    "int x = 0; while (x == 0) { x = 1; }",
			contains: []string{"JMP_IF_NOT", "JMP 3"},
		},
		{
			name:     "do while loop",
			input:    "int x = 0; do { x++; } while (x < 3);",
			contains: []string{"LT", "JMP_IF 3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := listing(mustCompile(t, tt.input))
			for _, want := range tt.contains {
				if !strings.Contains(code, want) {
					t.Errorf("expected listing to contain %q\n%s", want, code)
				}
			}
		})
	}
}
