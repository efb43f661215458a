// Package fault defines the error taxonomy shared by the compiler and the VM.
//
// Every failure that can reach a host is a *Fault. Callers match categories
// with errors.Is against the sentinel values below:
//
//	if errors.Is(err, fault.ErrUnknownSymbol) { ... }
package fault

import "fmt"

// Kind identifies the category of a Fault.
type Kind int

const (
	LexicalStall Kind = iota
	UnknownSymbol
	UnsupportedConstruct
	RuntimeFault
	ResourceExhausted
	Canceled
)

var kindNames = [...]string{
	LexicalStall:         "lexical stall",
	UnknownSymbol:        "unknown symbol",
	UnsupportedConstruct: "unsupported construct",
	RuntimeFault:         "runtime fault",
	ResourceExhausted:    "resource exhausted",
	Canceled:             "canceled",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Fault is a categorized compile-time or run-time failure.
// Line is the 1-based source line (0 when unknown); IP is the instruction
// index for run-time faults (-1 when not applicable).
type Fault struct {
	Kind Kind
	Line int
	IP   int
	Msg  string
}

func (f *Fault) Error() string {
	switch {
	case f.Line > 0:
		return fmt.Sprintf("%s: line %d: %s", f.Kind, f.Line, f.Msg)
	case f.IP >= 0:
		return fmt.Sprintf("%s at instruction %d: %s", f.Kind, f.IP, f.Msg)
	default:
		return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
	}
}

// Is reports whether target is the sentinel for f's Kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Msg == "" && t.Kind == f.Kind
}

// Sentinels for errors.Is. They carry no message and never escape as real faults.
var (
	ErrLexicalStall         = &Fault{Kind: LexicalStall, IP: -1}
	ErrUnknownSymbol        = &Fault{Kind: UnknownSymbol, IP: -1}
	ErrUnsupportedConstruct = &Fault{Kind: UnsupportedConstruct, IP: -1}
	ErrRuntimeFault         = &Fault{Kind: RuntimeFault, IP: -1}
	ErrResourceExhausted    = &Fault{Kind: ResourceExhausted, IP: -1}
	ErrCanceled             = &Fault{Kind: Canceled, IP: -1}
)

// At builds a compile-time fault anchored to a source line.
func At(kind Kind, line int, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Line: line, IP: -1, Msg: fmt.Sprintf(format, args...)}
}

// AtIP builds a run-time fault anchored to an instruction index.
func AtIP(kind Kind, ip int, format string, args ...any) *Fault {
	return &Fault{Kind: kind, IP: ip, Msg: fmt.Sprintf(format, args...)}
}
