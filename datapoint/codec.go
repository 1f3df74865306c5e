package datapoint

import (
	"encoding/binary"
	"math"
	"strconv"
)

const (
	colorWidth        = 12
	colorHueMax       = 360
	colorComponentMax = 1000
)

// Decode interprets the raw payload of datapoint id according to enc.
func Decode(id uint8, enc Encoding, raw []byte) (Value, error) {
	switch enc.Kind {
	case Boolean:
		if len(raw) == 0 {
			return nil, malformed(id, enc.Kind, "empty payload")
		}

		for _, b := range raw {
			if b != 0 {
				return Bool(true), nil
			}
		}

		return Bool(false), nil
	case ScaledInteger:
		divisor, err := divisorOf(id, enc)
		if err != nil {
			return nil, err
		}

		v, err := signedBigEndian(raw)
		if err != nil {
			return nil, malformed(id, enc.Kind, "%s", err)
		}

		return Number(float64(v) / divisor), nil
	case Enum:
		v, err := unsignedBigEndian(raw)
		if err != nil {
			return nil, malformed(id, enc.Kind, "%s", err)
		}

		ev := EnumValue{Raw: int64(v)}
		if name, ok := enc.EnumValues[ev.Raw]; ok {
			ev.Name = name
		}

		return ev, nil
	case RawBytes:
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return Raw(cp), nil
	case PackedColor:
		return decodeColor(id, raw)
	case String:
		return Text(raw), nil
	case Bitmap:
		v, err := unsignedBigEndian(raw)
		if err != nil {
			return nil, malformed(id, enc.Kind, "%s", err)
		}

		return BitmapValue(v), nil
	default:
		return nil, unsupported(id, enc.Kind, "unknown encoding")
	}
}

// Encode converts v into the payload bytes for datapoint id according to enc.
func Encode(id uint8, enc Encoding, v Value) ([]byte, error) {
	if v == nil {
		return nil, unsupported(id, enc.Kind, "nil value")
	}

	switch enc.Kind {
	case Boolean:
		b, ok := v.(Bool)
		if !ok {
			return nil, unsupported(id, enc.Kind, "value of kind %s", v.Kind())
		}

		if b {
			return []byte{0x01}, nil
		}

		return []byte{0x00}, nil
	case ScaledInteger:
		n, ok := v.(Number)
		if !ok {
			return nil, unsupported(id, enc.Kind, "value of kind %s", v.Kind())
		}

		divisor, err := divisorOf(id, enc)
		if err != nil {
			return nil, err
		}

		scaled := math.Round(float64(n) * divisor)
		if math.IsNaN(scaled) || scaled > math.MaxInt32 || scaled < math.MinInt32 {
			return nil, unsupported(id, enc.Kind, "%v out of range", float64(n))
		}

		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, uint32(int32(scaled)))
		return out, nil
	case Enum:
		e, ok := v.(EnumValue)
		if !ok {
			return nil, unsupported(id, enc.Kind, "value of kind %s", v.Kind())
		}

		raw, err := enumRaw(id, enc, e)
		if err != nil {
			return nil, err
		}

		return []byte{uint8(raw)}, nil
	case RawBytes:
		r, ok := v.(Raw)
		if !ok {
			return nil, unsupported(id, enc.Kind, "value of kind %s", v.Kind())
		}

		cp := make([]byte, len(r))
		copy(cp, r)
		return cp, nil
	case PackedColor:
		c, ok := v.(Color)
		if !ok {
			return nil, unsupported(id, enc.Kind, "value of kind %s", v.Kind())
		}

		return encodeColor(c), nil
	case String:
		t, ok := v.(Text)
		if !ok {
			return nil, unsupported(id, enc.Kind, "value of kind %s", v.Kind())
		}

		return []byte(t), nil
	case Bitmap:
		b, ok := v.(BitmapValue)
		if !ok {
			return nil, unsupported(id, enc.Kind, "value of kind %s", v.Kind())
		}

		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, uint32(b))
		return out, nil
	default:
		return nil, unsupported(id, enc.Kind, "unknown encoding")
	}
}

// WireTypeFor returns the wire tag used when sending a value of kind k.
func WireTypeFor(k Kind) WireType {
	switch k {
	case Boolean:
		return WireBool
	case ScaledInteger:
		return WireValue
	case Enum:
		return WireEnum
	case PackedColor, String:
		return WireString
	case Bitmap:
		return WireBitmap
	default:
		return WireRaw
	}
}

// KindForWireType is the natural decode kind for an undocumented datapoint.
func KindForWireType(w WireType) Kind {
	switch w {
	case WireBool:
		return Boolean
	case WireValue:
		return ScaledInteger
	case WireEnum:
		return Enum
	case WireString:
		return String
	case WireBitmap:
		return Bitmap
	default:
		return RawBytes
	}
}

func divisorOf(id uint8, enc Encoding) (float64, error) {
	switch {
	case enc.Divisor == 0:
		return 1, nil
	case enc.Divisor < 0 || math.IsNaN(enc.Divisor) || math.IsInf(enc.Divisor, 0):
		return 0, unsupported(id, enc.Kind, "invalid divisor %v", enc.Divisor)
	default:
		return enc.Divisor, nil
	}
}

func enumRaw(id uint8, enc Encoding, e EnumValue) (int64, error) {
	raw := e.Raw

	if e.Name != "" {
		found := false
		for k, n := range enc.EnumValues {
			if n == e.Name {
				raw, found = k, true
				break
			}
		}

		// A name always wins over Raw, so an unknown one is never sent as Raw.
		if !found {
			return 0, unsupported(id, enc.Kind, "unknown enum name %q", e.Name)
		}
	}

	if raw < 0 || raw > math.MaxUint8 {
		return 0, unsupported(id, enc.Kind, "enum value %d out of range", raw)
	}

	return raw, nil
}

func signedBigEndian(raw []byte) (int64, error) {
	u, err := unsignedBigEndian(raw)
	if err != nil {
		return 0, err
	}

	shift := 64 - uint(len(raw))*8
	return int64(u<<shift) >> shift, nil
}

func unsignedBigEndian(raw []byte) (uint64, error) {
	if len(raw) == 0 || len(raw) > 4 {
		return 0, &lengthError{got: len(raw)}
	}

	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}

	return v, nil
}

type lengthError struct {
	got int
}

func (e *lengthError) Error() string {
	return "integer payload must be 1 to 4 bytes, got " + strconv.Itoa(e.got)
}

func decodeColor(id uint8, raw []byte) (Value, error) {
	if len(raw) < colorWidth {
		return nil, malformed(id, PackedColor, "need %d hex characters, got %d", colorWidth, len(raw))
	}

	var parts [3]uint64
	for i := range parts {
		v, err := strconv.ParseUint(string(raw[i*4:i*4+4]), 16, 16)
		if err != nil {
			return nil, malformed(id, PackedColor, "component %d: %s", i, err)
		}
		parts[i] = v
	}

	return Color{
		Hue:        clampUnit(float64(parts[0]) / colorHueMax),
		Saturation: clampUnit(float64(parts[1]) / colorComponentMax),
		Level:      clampUnit(float64(parts[2]) / colorComponentMax),
	}, nil
}

func encodeColor(c Color) []byte {
	h := uint16(math.Round(clampUnit(c.Hue) * colorHueMax))
	s := uint16(math.Round(clampUnit(c.Saturation) * colorComponentMax))
	l := uint16(math.Round(clampUnit(c.Level) * colorComponentMax))

	out := make([]byte, 0, colorWidth)
	for _, v := range []uint16{h, s, l} {
		out = append(out, []byte(leftPad(strconv.FormatUint(uint64(v), 16)))...)
	}

	return out
}

func leftPad(s string) string {
	for len(s) < 4 {
		s = "0" + s
	}

	return s
}

func clampUnit(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
