// Package textdiff renders a line-granular diff of two texts.
package textdiff

import (
	"errors"
	"strings"
)

// Line prefixes.
const (
	Equal  = "  "
	Insert = "+ "
	Delete = "- "
)

// MaxCells bounds the LCS table. DiffLines refuses larger inputs.
const MaxCells = 1 << 24

var ErrTooLarge = errors.New("textdiff: inputs too large to align")

type OpKind int

const (
	OpEqual OpKind = iota
	OpInsert
	OpDelete
)

func (k OpKind) prefix() string {
	switch k {
	case OpInsert:
		return Insert
	case OpDelete:
		return Delete
	}
	return Equal
}

// Op is one aligned line.
type Op struct {
	Kind OpKind
	Line string
}

func (o Op) String() string { return o.Kind.prefix() + o.Line }

// Diff aligns old and new by line and renders every line with its prefix.
// Inputs too large to align render as a full delete followed by a full insert.
func Diff(old, new string) string {
	ops, err := DiffLines(splitLines(old), splitLines(new))
	if err != nil {
		ops = ops[:0]
		for _, l := range splitLines(old) {
			ops = append(ops, Op{OpDelete, l})
		}
		for _, l := range splitLines(new) {
			ops = append(ops, Op{OpInsert, l})
		}
	}
	lines := make([]string, len(ops))
	for i, op := range ops {
		lines[i] = op.String()
	}
	return strings.Join(lines, "\n")
}

// DiffLines returns the edit script turning a into b. Within a changed
// block the deleted lines come before the inserted ones.
func DiffLines(a, b []string) ([]Op, error) {
	n, m := len(a), len(b)
	if (n+1)*(m+1) > MaxCells {
		return nil, ErrTooLarge
	}

	// dp[i][j] is the LCS length of a[:i] and b[:j].
	w := m + 1
	dp := make([]int32, (n+1)*w)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i*w+j] = dp[(i-1)*w+j-1] + 1
			case dp[(i-1)*w+j] >= dp[i*w+j-1]:
				dp[i*w+j] = dp[(i-1)*w+j]
			default:
				dp[i*w+j] = dp[i*w+j-1]
			}
		}
	}

	// Walk back from the end; ops come out reversed.
	ops := make([]Op, 0, n+m)
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && a[i-1] == b[j-1]:
			ops = append(ops, Op{OpEqual, a[i-1]})
			i--
			j--
		case j > 0 && (i == 0 || dp[i*w+j-1] >= dp[(i-1)*w+j]):
			ops = append(ops, Op{OpInsert, b[j-1]})
			j--
		default:
			ops = append(ops, Op{OpDelete, a[i-1]})
			i--
		}
	}
	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return ops, nil
}

// splitLines splits on '\n'. A trailing newline does not start another line
// and the empty text has no lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
