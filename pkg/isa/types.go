package isa

import (
	"fmt"
	"math"
	"strings"
)

// TypeKind tags a Type.
type TypeKind uint8

const (
	TypeVoid TypeKind = iota
	TypeInt
	TypeChar
	TypeDouble
	TypePointer
	TypeArray
	TypeFunction
)

var typeKindNames = [...]string{
	TypeVoid:     "void",
	TypeInt:      "int",
	TypeChar:     "char",
	TypeDouble:   "double",
	TypePointer:  "pointer",
	TypeArray:    "array",
	TypeFunction: "function",
}

func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return fmt.Sprintf("TypeKind(%d)", int(k))
}

// CellSize is the width of every non-char scalar in VM memory.
const CellSize = 8

// MaxObjectSize bounds the storage of a single declared object.
const MaxObjectSize = 1 << 31

// Type describes a value in the teaching language.
// Pointer and array types own Base; function types use Base as the return type.
type Type struct {
	Kind    TypeKind `cbor:"1,keyasint"`
	Base    *Type    `cbor:"2,keyasint,omitempty"`
	Len     int      `cbor:"3,keyasint,omitempty"` // array length
	IsConst bool     `cbor:"4,keyasint,omitempty"`
}

func Void() *Type   { return &Type{Kind: TypeVoid} }
func Int() *Type    { return &Type{Kind: TypeInt} }
func Char() *Type   { return &Type{Kind: TypeChar} }
func Double() *Type { return &Type{Kind: TypeDouble} }

// PointerTo returns a pointer type owning base.
func PointerTo(base *Type) *Type { return &Type{Kind: TypePointer, Base: base} }

// ArrayOf returns an n-element array of base.
func ArrayOf(base *Type, n int) *Type { return &Type{Kind: TypeArray, Base: base, Len: n} }

// FunctionReturning returns a function type whose result is ret.
func FunctionReturning(ret *Type) *Type { return &Type{Kind: TypeFunction, Base: ret} }

// Equal reports structural equality. Pointer, array and function types
// recurse on their base.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case TypePointer, TypeFunction:
		return t.Base.Equal(o.Base)
	case TypeArray:
		return t.Len == o.Len && t.Base.Equal(o.Base)
	}
	return true
}

// Size is the storage footprint in bytes.
func (t *Type) Size() int {
	if t == nil {
		return 0
	}
	switch t.Kind {
	case TypeChar:
		return 1
	case TypeInt, TypeDouble, TypePointer:
		return CellSize
	case TypeArray:
		elem := t.Base.Size()
		if elem > 0 && t.Len > math.MaxInt/elem {
			return math.MaxInt
		}
		return t.Len * elem
	}
	return 0
}

// IsInteger reports whether values of t are truncated to whole numbers.
func (t *Type) IsInteger() bool {
	return t != nil && (t.Kind == TypeInt || t.Kind == TypeChar)
}

// IsAddress reports whether t evaluates to a memory address.
func (t *Type) IsAddress() bool {
	return t != nil && (t.Kind == TypePointer || t.Kind == TypeArray)
}

// Elem is the pointed-to or element type, or nil.
func (t *Type) Elem() *Type {
	if t.IsAddress() {
		return t.Base
	}
	return nil
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypePointer:
		return t.Base.String() + "*"
	case TypeArray:
		return fmt.Sprintf("%s[%d]", t.Base, t.Len)
	case TypeFunction:
		return "func() " + t.Base.String()
	}
	if t.IsConst {
		return "const " + t.Kind.String()
	}
	return t.Kind.String()
}

// Symbol is a named storage location or function.
// Address is a data-segment offset for globals, a frame offset for locals
// and the entry instruction index for functions.
type Symbol struct {
	Name     string  `cbor:"1,keyasint"`
	Type     *Type   `cbor:"2,keyasint"`
	Address  int     `cbor:"3,keyasint"`
	Global   bool    `cbor:"4,keyasint,omitempty"`
	Function bool    `cbor:"5,keyasint,omitempty"`
	Params   []*Type `cbor:"6,keyasint,omitempty"`
}

func (s Symbol) String() string {
	var sb strings.Builder
	scope := "local"
	if s.Global {
		scope = "global"
	}
	if s.Function {
		params := make([]string, len(s.Params))
		for i, p := range s.Params {
			params[i] = p.String()
		}
		fmt.Fprintf(&sb, "%s %s(%s) @%d", s.Type.Base, s.Name, strings.Join(params, ", "), s.Address)
		return sb.String()
	}
	fmt.Fprintf(&sb, "%s %s %s @%d", scope, s.Type, s.Name, s.Address)
	return sb.String()
}
