package datapoint

import (
	"errors"
	"fmt"
)

// WireType is the type tag carried alongside each datapoint on the EF00 cluster.
type WireType uint8

const (
	WireRaw    WireType = 0x00
	WireBool   WireType = 0x01
	WireValue  WireType = 0x02
	WireString WireType = 0x03
	WireEnum   WireType = 0x04
	WireBitmap WireType = 0x05
)

func (w WireType) String() string {
	switch w {
	case WireRaw:
		return "raw"
	case WireBool:
		return "bool"
	case WireValue:
		return "value"
	case WireString:
		return "string"
	case WireEnum:
		return "enum"
	case WireBitmap:
		return "bitmap"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(w))
	}
}

// Kind is how a datapoint payload is interpreted, independent of its wire tag.
type Kind int

const (
	RawBytes Kind = iota
	Boolean
	ScaledInteger
	Enum
	PackedColor
	String
	Bitmap
)

var kindNames = map[Kind]string{
	RawBytes:      "raw",
	Boolean:       "boolean",
	ScaledInteger: "scaled",
	Enum:          "enum",
	PackedColor:   "color",
	String:        "string",
	Bitmap:        "bitmap",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind from its name as used in mapping tables.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}

	return RawBytes, fmt.Errorf("unknown datapoint kind: %q", s)
}

// Encoding describes how to decode and encode one datapoint.
type Encoding struct {
	Kind Kind
	// Divisor applies to ScaledInteger, a zero value is treated as 1.
	Divisor    float64
	EnumValues map[int64]string
}

// Record is a single datapoint as framed on the wire.
type Record struct {
	ID   uint8
	Type WireType
	Data []byte
}

// Report is the ordered set of records carried by one inbound message.
type Report []Record

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnsupported      = errors.New("unsupported value")
)

// CodecError is returned when a payload can not be decoded or a value encoded
// for its declared encoding.
type CodecError struct {
	ID     uint8
	Kind   Kind
	Reason string
	Err    error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("datapoint %d (%s): %s: %s", e.ID, e.Kind, e.Err, e.Reason)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func malformed(id uint8, k Kind, format string, args ...any) error {
	return &CodecError{ID: id, Kind: k, Reason: fmt.Sprintf(format, args...), Err: ErrMalformedPayload}
}

func unsupported(id uint8, k Kind, format string, args ...any) error {
	return &CodecError{ID: id, Kind: k, Reason: fmt.Sprintf(format, args...), Err: ErrUnsupported}
}
