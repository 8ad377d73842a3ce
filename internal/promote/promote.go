// Package promote resolves the element type of an operation's output from
// its operand types and an optional caller override.
package promote

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/dtype"
)

// Rule selects how the default output type is derived when the caller gives
// no explicit type.
type Rule int

const (
	// Default takes the first operand's type.
	Default Rule = iota
	// FloatOnly always defaults to float32 and refuses integral overrides.
	// It covers the remainder and float power families.
	FloatOnly
	// Transcendental keeps a floating first operand's type and otherwise
	// defaults to float32. Integral overrides are refused.
	Transcendental
	// Extrema takes the second operand's type when the first is int16, int32
	// or int64.
	Extrema
	// Widening defaults to float64 when any operand is float64 and to
	// float32 otherwise.
	Widening
	// Fixed always produces Policy.Fixed.
	Fixed
)

func (r Rule) String() string {
	switch r {
	case Default:
		return "default"
	case FloatOnly:
		return "float-only"
	case Transcendental:
		return "transcendental"
	case Extrema:
		return "extrema"
	case Widening:
		return "widening"
	case Fixed:
		return "fixed"
	}
	return fmt.Sprintf("rule(%d)", int(r))
}

// Policy is an operation's promotion rule plus the families its kernel can
// produce. A zero Kinds accepts every family.
type Policy struct {
	Rule  Rule
	Kinds dtype.Kind
	Fixed dtype.DataType
}

// Resolve returns the output type for op. explicit is dtype.Invalid when the
// caller did not ask for a type.
func (p Policy) Resolve(op string, explicit dtype.DataType, operands ...dtype.DataType) (dtype.DataType, error) {
	out, err := p.pick(op, explicit, operands)
	if err != nil {
		return dtype.Invalid, err
	}
	if _, err := dtype.ToNative(out); err != nil {
		return dtype.Invalid, &dtype.UnsupportedError{DType: out, Op: op, Reason: "no native counterpart"}
	}
	if p.Kinds != 0 {
		if err := out.Check(op, p.Kinds); err != nil {
			return dtype.Invalid, err
		}
	}
	return out, nil
}

func (p Policy) pick(op string, explicit dtype.DataType, operands []dtype.DataType) (dtype.DataType, error) {
	if explicit != dtype.Invalid {
		if (p.Rule == FloatOnly || p.Rule == Transcendental) && explicit.IsIntegral() {
			return dtype.Invalid, &dtype.UnsupportedError{DType: explicit, Op: op, Reason: "operation only produces floating point results"}
		}
		return explicit, nil
	}

	if p.Rule == Fixed {
		return p.Fixed, nil
	}
	if p.Rule == FloatOnly {
		return dtype.Float32, nil
	}
	if len(operands) == 0 {
		return dtype.Invalid, fmt.Errorf("%s: no operands to derive an output type from", op)
	}

	first := operands[0]
	switch p.Rule {
	case Transcendental:
		if first.IsFloat() {
			return first, nil
		}
		return dtype.Float32, nil
	case Extrema:
		if len(operands) > 1 && isNarrowInt(first) {
			return operands[1], nil
		}
	case Widening:
		for _, d := range operands {
			if d == dtype.Float64 {
				return dtype.Float64, nil
			}
		}
		return dtype.Float32, nil
	}
	return first, nil
}

func isNarrowInt(d dtype.DataType) bool {
	switch d {
	case dtype.Int16, dtype.Int32, dtype.Int64:
		return true
	}
	return false
}
