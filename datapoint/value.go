package datapoint

import (
	"bytes"
	"fmt"
)

// Value is a decoded datapoint value.
type Value interface {
	Kind() Kind
	fmt.Stringer
}

type Bool bool

func (Bool) Kind() Kind { return Boolean }

func (b Bool) String() string { return fmt.Sprintf("%t", bool(b)) }

// Number is the result of a ScaledInteger decode, already divided.
type Number float64

func (Number) Kind() Kind { return ScaledInteger }

func (n Number) String() string { return fmt.Sprintf("%g", float64(n)) }

// EnumValue carries the raw enum index and, when known, its name.
type EnumValue struct {
	Raw  int64
	Name string
}

func (EnumValue) Kind() Kind { return Enum }

func (e EnumValue) String() string {
	if e.Name != "" {
		return e.Name
	}

	return fmt.Sprintf("%d", e.Raw)
}

type Raw []byte

func (Raw) Kind() Kind { return RawBytes }

func (r Raw) String() string { return fmt.Sprintf("%x", []byte(r)) }

// Equal compares two raw payloads byte for byte.
func (r Raw) Equal(o Raw) bool { return bytes.Equal(r, o) }

// Color holds hue, saturation and level, each as a fraction between 0 and 1.
type Color struct {
	Hue        float64
	Saturation float64
	Level      float64
}

func (Color) Kind() Kind { return PackedColor }

func (c Color) String() string {
	return fmt.Sprintf("h=%.3f s=%.3f l=%.3f", c.Hue, c.Saturation, c.Level)
}

type Text string

func (Text) Kind() Kind { return String }

func (t Text) String() string { return string(t) }

type BitmapValue uint32

func (BitmapValue) Kind() Kind { return Bitmap }

func (b BitmapValue) String() string { return fmt.Sprintf("0x%x", uint32(b)) }
