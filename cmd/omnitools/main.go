// Command omnitools runs the text diff and the equation solver.
//
//	omnitools diff OLD NEW
//	omnitools solve "x^2 = 2"
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"omnivm/pkg/solver"
	"omnivm/pkg/textdiff"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "diff":
		if len(args) != 3 {
			fmt.Fprintln(stderr, "diff expects two files")
			return 2
		}
		old, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		cur, err := os.ReadFile(args[2])
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, textdiff.Diff(string(old), string(cur)))

	case "solve":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "solve expects one equation")
			return 2
		}
		e, err := solver.Parse(args[1])
		if err != nil {
			fmt.Fprintf(stderr, "bad equation: %v\n", err)
			return 1
		}
		res := solver.Newton(e, solver.Start)
		fmt.Fprintln(stdout, strconv.FormatFloat(res.X, 'g', 10, 64))
		if !res.Converged {
			fmt.Fprintf(stderr, "did not converge after %d iterations\n", res.Iterations)
		}

	default:
		usage(stderr)
		return 2
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: omnitools diff OLD NEW | omnitools solve EQUATION")
}
