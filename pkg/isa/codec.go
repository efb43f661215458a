package isa

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the current artifact format version.
// Increment when making incompatible changes to the encoding.
const FormatVersion uint16 = 1

// Magic bytes that open every encoded Program: "OMVM".
var Magic = []byte{'O', 'M', 'V', 'M'}

var (
	ErrBadMagic   = errors.New("isa: not an OmniVM program")
	ErrBadVersion = errors.New("isa: unsupported program format version")
)

// wireProgram is the serialized shape of a Program.
type wireProgram struct {
	Code      []Instruction     `cbor:"1,keyasint"`
	Data      []byte            `cbor:"2,keyasint,omitempty"`
	Functions map[string]int    `cbor:"3,keyasint,omitempty"`
	Globals   map[string]Symbol `cbor:"4,keyasint,omitempty"`
	Entry     int               `cbor:"5,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("isa: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	// Artifacts may be untrusted; bound the decoder.
	dm, err := cbor.DecOptions{
		MaxNestedLevels:  64,
		MaxArrayElements: 1 << 22,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("isa: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// MarshalProgram encodes p as magic, big-endian version, then canonical CBOR.
// Identical programs always encode to identical bytes.
func MarshalProgram(p *Program) ([]byte, error) {
	payload, err := encMode.Marshal(wireProgram{
		Code:      p.code,
		Data:      p.data,
		Functions: p.functions,
		Globals:   p.globals,
		Entry:     p.entry,
	})
	if err != nil {
		return nil, fmt.Errorf("isa: marshal program: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(Magic) + 2 + len(payload))
	buf.Write(Magic)
	_ = binary.Write(&buf, binary.BigEndian, FormatVersion)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// UnmarshalProgram decodes bytes produced by MarshalProgram.
func UnmarshalProgram(data []byte) (*Program, error) {
	if len(data) < len(Magic)+2 || !bytes.Equal(data[:len(Magic)], Magic) {
		return nil, ErrBadMagic
	}
	version := binary.BigEndian.Uint16(data[len(Magic):])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
	var w wireProgram
	if err := decMode.Unmarshal(data[len(Magic)+2:], &w); err != nil {
		return nil, fmt.Errorf("isa: unmarshal program: %w", err)
	}
	for i, in := range w.Code {
		if !in.Op.Valid() {
			return nil, fmt.Errorf("isa: instruction %d: invalid opcode %d", i, uint8(in.Op))
		}
	}
	p := NewProgram(w.Code, w.Data, w.Functions, w.Globals, w.Entry)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("isa: %w", err)
	}
	return p, nil
}
