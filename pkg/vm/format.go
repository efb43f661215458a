package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxFieldWidth caps printf widths and precisions so a format cannot be
// used to produce unbounded output from one instruction.
const maxFieldWidth = 256

// formatNumber renders a value the way PRINT does without a verb: whole
// numbers without a fraction, everything else in %g style.
func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case v == math.Trunc(v) && math.Abs(v) < 1e15:
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// toInt64 truncates toward zero and saturates at the int64 range. NaN is 0.
func toInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// printSpec is a parsed %[flags][width][.prec]verb conversion.
type printSpec struct {
	flags     string
	width     int
	precision int // -1 when absent
	verb      byte
}

func parsePrintSpec(s string) (printSpec, error) {
	spec := printSpec{precision: -1}
	if len(s) < 2 || s[0] != '%' {
		return spec, fmt.Errorf("bad print format %q", s)
	}
	i := 1
	for i < len(s) && strings.IndexByte("-+ 0#", s[i]) >= 0 {
		i++
	}
	spec.flags = s[1:i]

	digits := func() (int, bool) {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if start == i {
			return 0, false
		}
		n, err := strconv.Atoi(s[start:i])
		return n, err == nil
	}
	if n, ok := digits(); ok {
		spec.width = n
	}
	if i < len(s) && s[i] == '.' {
		i++
		n, _ := digits()
		spec.precision = n
	}
	if spec.width > maxFieldWidth || spec.precision > maxFieldWidth {
		return spec, fmt.Errorf("print format %q exceeds the field width cap of %d", s, maxFieldWidth)
	}
	if i != len(s)-1 || strings.IndexByte("diufFeEgGxXc", s[i]) < 0 {
		return spec, fmt.Errorf("bad print format %q", s)
	}
	spec.verb = s[i]
	return spec, nil
}

// goVerb rebuilds the conversion for fmt with the given Go verb.
func (p printSpec) goVerb(verb byte) string {
	var sb strings.Builder
	sb.WriteByte('%')
	sb.WriteString(p.flags)
	if p.width > 0 {
		sb.WriteString(strconv.Itoa(p.width))
	}
	if p.precision >= 0 {
		sb.WriteByte('.')
		sb.WriteString(strconv.Itoa(p.precision))
	}
	sb.WriteByte(verb)
	return sb.String()
}

// formatVerb renders v under a printf conversion such as "%5.2f".
func formatVerb(format string, v float64) (string, error) {
	p, err := parsePrintSpec(format)
	if err != nil {
		return "", err
	}
	switch p.verb {
	case 'd', 'i':
		return fmt.Sprintf(p.goVerb('d'), toInt64(v)), nil
	case 'u':
		return fmt.Sprintf(p.goVerb('d'), uint64(toInt64(v))), nil
	case 'x', 'X':
		return fmt.Sprintf(p.goVerb(p.verb), uint64(toInt64(v))), nil
	case 'c':
		return fmt.Sprintf(p.goVerb('c'), rune(byte(toInt64(v)))), nil
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		text := formatNumber(v)
		if strings.Contains(p.flags, "-") {
			return fmt.Sprintf("%-*s", p.width, text), nil
		}
		return fmt.Sprintf("%*s", p.width, text), nil
	}
	if p.precision < 0 && (p.verb == 'g' || p.verb == 'G') {
		p.precision = 6
	}
	return fmt.Sprintf(p.goVerb(p.verb), v), nil
}
