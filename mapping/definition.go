package mapping

import (
	"fmt"
	"math"
	"sort"

	"github.com/shimmeringbee/tuyadp/datapoint"
)

// DeviceType is the coarse category a device is classified into, selecting its
// mapping table.
type DeviceType string

// Common is the fallback table; every other table inherits from it.
const Common DeviceType = "common"

// BatteryCapability must be mapped by the Common table.
const BatteryCapability = "measure_battery"

type Role int

const (
	Measurement Role = iota
	Setting
	Action
)

var roleNames = map[Role]string{
	Measurement: "measurement",
	Setting:     "setting",
	Action:      "action",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}

	return fmt.Sprintf("role(%d)", int(r))
}

func ParseRole(s string) (Role, error) {
	if s == "" {
		return Measurement, nil
	}

	for r, n := range roleNames {
		if n == s {
			return r, nil
		}
	}

	return Measurement, fmt.Errorf("unknown datapoint role: %q", s)
}

// Definition is a single row of a mapping table. Definitions are shared between
// sessions and must not be modified once loaded.
type Definition struct {
	ID       uint8
	Name     string
	DecodeAs datapoint.Kind
	// Capability is empty when the datapoint has no capability.
	Capability string
	// Scale is the divisor for ScaledInteger datapoints, zero means 1.
	Scale      float64
	EnumValues map[int64]string
	Role       Role
	// Invert flips Boolean datapoints.
	Invert bool
	// TrueValues turns an Enum datapoint into a boolean, true when the raw
	// value is listed.
	TrueValues []int64
	Minimum    *float64
	Maximum    *float64
}

// Encoding returns the codec encoding for this definition.
func (d Definition) Encoding() datapoint.Encoding {
	return datapoint.Encoding{
		Kind:       d.DecodeAs,
		Divisor:    d.Scale,
		EnumValues: d.EnumValues,
	}
}

// Transform applies the definitions post decode adjustments to a value, and
// reverses them with Untransform before encoding.
func (d Definition) Transform(v datapoint.Value) datapoint.Value {
	if e, ok := v.(datapoint.EnumValue); ok && len(d.TrueValues) > 0 {
		v = datapoint.Bool(d.isTrue(e.Raw))
	}

	switch tv := v.(type) {
	case datapoint.Bool:
		if d.Invert {
			return !tv
		}
	case datapoint.Number:
		f := float64(tv)
		if d.Minimum != nil {
			f = math.Max(f, *d.Minimum)
		}
		if d.Maximum != nil {
			f = math.Min(f, *d.Maximum)
		}
		return datapoint.Number(f)
	}

	return v
}

func (d Definition) Untransform(v datapoint.Value) datapoint.Value {
	b, ok := v.(datapoint.Bool)
	if !ok {
		return d.Transform(v)
	}

	if d.Invert {
		b = !b
	}

	if len(d.TrueValues) == 0 {
		return b
	}

	if b {
		return datapoint.EnumValue{Raw: d.TrueValues[0]}
	}

	return datapoint.EnumValue{Raw: d.falseValue()}
}

func (d Definition) isTrue(raw int64) bool {
	for _, t := range d.TrueValues {
		if t == raw {
			return true
		}
	}

	return false
}

// falseValue is the lowest enum value not listed in TrueValues.
func (d Definition) falseValue() int64 {
	keys := make([]int64, 0, len(d.EnumValues))
	for k := range d.EnumValues {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		if !d.isTrue(k) {
			return k
		}
	}

	var raw int64
	for d.isTrue(raw) {
		raw++
	}

	return raw
}

func (d Definition) clone() Definition {
	c := d

	if d.EnumValues != nil {
		c.EnumValues = make(map[int64]string, len(d.EnumValues))
		for k, v := range d.EnumValues {
			c.EnumValues[k] = v
		}
	}

	if d.TrueValues != nil {
		c.TrueValues = append([]int64(nil), d.TrueValues...)
	}

	if d.Minimum != nil {
		m := *d.Minimum
		c.Minimum = &m
	}

	if d.Maximum != nil {
		m := *d.Maximum
		c.Maximum = &m
	}

	return c
}

func (d Definition) validate() error {
	if d.Scale < 0 || math.IsNaN(d.Scale) || math.IsInf(d.Scale, 0) {
		return fmt.Errorf("datapoint %d (%s): invalid scale %v", d.ID, d.Name, d.Scale)
	}

	if _, ok := roleNames[d.Role]; !ok {
		return fmt.Errorf("datapoint %d (%s): invalid role %d", d.ID, d.Name, d.Role)
	}

	if d.Role == Action && d.Name == "" {
		return fmt.Errorf("datapoint %d: action datapoints require a name", d.ID)
	}

	if len(d.TrueValues) > 0 && d.DecodeAs != datapoint.Enum {
		return fmt.Errorf("datapoint %d (%s): true values require an enum datapoint", d.ID, d.Name)
	}

	if d.Minimum != nil && d.Maximum != nil && *d.Minimum > *d.Maximum {
		return fmt.Errorf("datapoint %d (%s): minimum above maximum", d.ID, d.Name)
	}

	return nil
}
