package tensor

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/dtype"
)

// maxFloat16 is the largest finite IEEE half-precision value.
const maxFloat16 = 65504

// ScalarConversionError reports a host value that cannot be represented in
// the type a kernel needs it in.
type ScalarConversionError struct {
	Value  float64
	DType  dtype.DataType
	Reason string
}

func (e *ScalarConversionError) Error() string {
	return fmt.Sprintf("cannot convert scalar %v to %s: %s", e.Value, e.DType, e.Reason)
}

// Scalar is a host value encoded for exactly one kernel call. It is created
// right before the dispatch and released right after it.
type Scalar struct {
	value float64
	dtype dtype.DataType
	desc  *device.ScalarDesc
}

// NewScalar encodes value as dt. Integral targets reject NaN, infinities and
// values outside the type's range; fractional parts truncate toward zero.
func NewScalar(value float64, dt dtype.DataType) (*Scalar, error) {
	code, err := dtype.ToNative(dt)
	if err != nil {
		return nil, err
	}
	if err := checkScalar(value, dt); err != nil {
		return nil, err
	}
	bits := make([]byte, dt.Size())
	dt.SetFloat(bits, 0, value)
	return &Scalar{value: value, dtype: dt, desc: &device.ScalarDesc{DType: code, Bits: bits}}, nil
}

func checkScalar(v float64, dt dtype.DataType) error {
	switch {
	case dt.IsIntegral():
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ScalarConversionError{Value: v, DType: dt, Reason: "not a finite number"}
		}
		if dt.IsBool() {
			return nil
		}
		lo, hi := dt.Bounds()
		if t := math.Trunc(v); t < lo || t > hi {
			return &ScalarConversionError{Value: v, DType: dt, Reason: fmt.Sprintf("out of range [%v, %v]", lo, hi)}
		}
	case dt == dtype.Float16:
		if !math.IsInf(v, 0) && math.Abs(v) > maxFloat16 {
			return &ScalarConversionError{Value: v, DType: dt, Reason: "overflows float16"}
		}
	case dt == dtype.Float32, dt == dtype.BFloat16, dt == dtype.Complex64:
		if !math.IsInf(v, 0) && math.Abs(v) > math.MaxFloat32 {
			return &ScalarConversionError{Value: v, DType: dt, Reason: "overflows float32"}
		}
	}
	return nil
}

// Value returns the host value.
func (s *Scalar) Value() float64 { return s.value }

// DType returns the encoded type.
func (s *Scalar) DType() dtype.DataType { return s.dtype }

// Desc returns the device descriptor, or nil once released.
func (s *Scalar) Desc() *device.ScalarDesc { return s.desc }

// Release drops the device descriptor. It is idempotent.
func (s *Scalar) Release() error {
	if s != nil {
		s.desc = nil
	}
	return nil
}
