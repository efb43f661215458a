package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestFaultMatching(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same kind", At(UnknownSymbol, 3, "foo"), ErrUnknownSymbol, true},
		{"other kind", At(UnknownSymbol, 3, "foo"), ErrRuntimeFault, false},
		{"wrapped", fmt.Errorf("compile: %w", AtIP(ResourceExhausted, 7, "heap")), ErrResourceExhausted, true},
		{"not a fault", errors.New("plain"), ErrRuntimeFault, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestFaultMessages(t *testing.T) {
	tests := []struct {
		f    *Fault
		want string
	}{
		{At(UnsupportedConstruct, 4, "struct is not supported"), "unsupported construct: line 4: struct is not supported"},
		{AtIP(RuntimeFault, 12, "jump target %d out of range", 99), "runtime fault at instruction 12: jump target 99 out of range"},
		{&Fault{Kind: Canceled, IP: -1, Msg: "context canceled"}, "canceled: context canceled"},
	}
	for _, tt := range tests {
		if got := tt.f.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if LexicalStall.String() != "lexical stall" {
		t.Errorf("LexicalStall.String() = %q", LexicalStall.String())
	}
	if got := Kind(99).String(); got != "Kind(99)" {
		t.Errorf("Kind(99).String() = %q", got)
	}
}
