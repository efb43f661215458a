// Package solver finds a root of a one-variable equation with a bounded
// Newton-Raphson iteration.
package solver

import "math"

const (
	Start         = 1.0
	MaxIterations = 100
	Epsilon       = 1e-7
	Step          = 1e-5

	// derivatives smaller than this stop the iteration
	flat = 1e-9
)

// Result describes one iteration run.
type Result struct {
	X          float64
	Iterations int
	Converged  bool // |f(X)| < Epsilon
}

// Solve returns the last Newton iterate for equation, starting from Start.
// The result is best effort: it is returned whether or not the iteration
// converged. Unparsable input yields NaN.
func Solve(equation string) float64 {
	e, err := Parse(equation)
	if err != nil {
		return math.NaN()
	}
	return Newton(e, Start).X
}

// Newton iterates from x0 until |f(x)| < Epsilon, the derivative flattens
// out or MaxIterations steps were taken. The derivative is a central
// difference with step Step.
func Newton(e *Expr, x0 float64) Result {
	x := x0
	for i := 0; i < MaxIterations; i++ {
		fx := e.Eval(x)
		if math.Abs(fx) < Epsilon {
			return Result{X: x, Iterations: i, Converged: true}
		}
		df := (e.Eval(x+Step) - e.Eval(x-Step)) / (2 * Step)
		if !(math.Abs(df) >= flat) {
			return Result{X: x, Iterations: i}
		}
		x -= fx / df
	}
	return Result{X: x, Iterations: MaxIterations, Converged: math.Abs(e.Eval(x)) < Epsilon}
}
