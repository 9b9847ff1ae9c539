package shed

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind distinguishes analog and binary point values.
type Kind uint8

const (
	// KindUnknown is the zero Kind and marks an unset value.
	KindUnknown Kind = iota
	// KindAnalog is a numeric present value (temperature, pressure, setpoint).
	KindAnalog
	// KindBinary is an active/inactive present value (stage outputs).
	KindBinary
)

// Binary present value names as used by building automation controllers.
const (
	ActiveText   = "active"
	InactiveText = "inactive"
)

// ErrInvalidValue is returned when text cannot be parsed as a point value.
var ErrInvalidValue = errors.New("invalid point value")

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindAnalog:
		return "analog"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Value is the present value of a point.
type Value struct {
	// Kind tells which of the other fields is meaningful.
	Kind Kind
	// Number holds analog values.
	Number float64
	// Active holds binary values.
	Active bool
}

// Analog returns an analog value.
func Analog(v float64) Value {
	return Value{Kind: KindAnalog, Number: v}
}

// Binary returns a binary value.
func Binary(active bool) Value {
	return Value{Kind: KindBinary, Active: active}
}

// Inactive is the value written to force a stage output off.
func Inactive() Value {
	return Binary(false)
}

// ParseValue parses controller text: "active"/"inactive" (also on/off) become
// binary values, any finite number becomes analog.
func ParseValue(s string) (Value, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ActiveText, "on":
		return Binary(true), nil
	case InactiveText, "off":
		return Binary(false), nil
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !IsFinite(n) {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}

	return Analog(n), nil
}

// IsFinite reports whether n is neither NaN nor an infinity.
func IsFinite(n float64) bool {
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool {
	return v.Kind == KindUnknown
}

// Float returns the analog number and whether the value is analog.
func (v Value) Float() (float64, bool) {
	return v.Number, v.Kind == KindAnalog
}

// IsActive returns the binary state and whether the value is binary.
func (v Value) IsActive() (bool, bool) {
	return v.Active, v.Kind == KindBinary
}

// String renders the value the way controllers present it.
func (v Value) String() string {
	switch v.Kind {
	case KindAnalog:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindBinary:
		if v.Active {
			return ActiveText
		}

		return InactiveText
	default:
		return "<unset>"
	}
}
