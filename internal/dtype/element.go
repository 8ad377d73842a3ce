package dtype

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

// Element codecs read and write single little-endian elements of a dense
// buffer. Float reads complex types as their real part.

// Float returns element i of b as a float64.
func (d DataType) Float(b []byte, i int) float64 {
	switch d {
	case Bool, Uint8:
		return float64(b[i])
	case Int8:
		return float64(int8(b[i]))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b[i*2:])))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b[i*2:]))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b[i*4:])))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b[i*4:]))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b[i*8:])))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b[i*8:]))
	case Float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32())
	case BFloat16:
		return float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(b[i*2:])) << 16))
	case Float32, Complex64:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*d.Size():])))
	case Float64, Complex128:
		return math.Float64frombits(binary.LittleEndian.Uint64(b[i*d.Size():]))
	}
	return math.NaN()
}

// SetFloat stores v as element i of b, converting to d. Integer targets
// truncate toward zero and saturate; NaN stores zero.
func (d DataType) SetFloat(b []byte, i int, v float64) {
	switch d {
	case Bool:
		if v != 0 {
			b[i] = 1
		} else {
			b[i] = 0
		}
	case Float16:
		binary.LittleEndian.PutUint16(b[i*2:], float16.Fromfloat32(float32(v)).Bits())
	case BFloat16:
		binary.LittleEndian.PutUint16(b[i*2:], bfloat16Bits(float32(v)))
	case Float32:
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	case Complex64:
		binary.LittleEndian.PutUint32(b[i*8:], math.Float32bits(float32(v)))
		binary.LittleEndian.PutUint32(b[i*8+4:], 0)
	case Complex128:
		binary.LittleEndian.PutUint64(b[i*16:], math.Float64bits(v))
		binary.LittleEndian.PutUint64(b[i*16+8:], 0)
	case Uint64:
		switch {
		case math.IsNaN(v) || v <= 0:
			binary.LittleEndian.PutUint64(b[i*8:], 0)
		case v >= math.MaxUint64:
			binary.LittleEndian.PutUint64(b[i*8:], math.MaxUint64)
		default:
			binary.LittleEndian.PutUint64(b[i*8:], uint64(v))
		}
	default:
		lo, hi := d.Bounds()
		switch {
		case math.IsNaN(v):
			d.SetInt(b, i, 0)
		case v <= lo:
			d.SetInt(b, i, int64(lo))
		case v >= hi:
			d.SetInt(b, i, saturatedMax(d))
		default:
			d.SetInt(b, i, int64(v))
		}
	}
}

// Int returns element i of an integral buffer as an int64. Uint64 values
// above MaxInt64 wrap.
func (d DataType) Int(b []byte, i int) int64 {
	switch d {
	case Bool, Uint8:
		return int64(b[i])
	case Int8:
		return int64(int8(b[i]))
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(b[i*2:])))
	case Uint16:
		return int64(binary.LittleEndian.Uint16(b[i*2:]))
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(b[i*4:])))
	case Uint32:
		return int64(binary.LittleEndian.Uint32(b[i*4:]))
	case Int64, Uint64:
		return int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return int64(d.Float(b, i))
}

// SetInt stores v as element i of b with two's-complement wrapping for
// integer targets.
func (d DataType) SetInt(b []byte, i int, v int64) {
	switch d {
	case Bool:
		if v != 0 {
			b[i] = 1
		} else {
			b[i] = 0
		}
	case Int8, Uint8:
		b[i] = byte(v)
	case Int16, Uint16:
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	case Int32, Uint32:
		binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
	case Int64, Uint64:
		binary.LittleEndian.PutUint64(b[i*8:], uint64(v))
	default:
		d.SetFloat(b, i, float64(v))
	}
}

// Bounds returns the representable range of an integral type, or ±Inf for
// floating types.
func (d DataType) Bounds() (lo, hi float64) {
	switch d {
	case Bool:
		return 0, 1
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Int64:
		return math.MinInt64, math.MaxInt64
	case Uint8:
		return 0, math.MaxUint8
	case Uint16:
		return 0, math.MaxUint16
	case Uint32:
		return 0, math.MaxUint32
	case Uint64:
		return 0, math.MaxUint64
	}
	return math.Inf(-1), math.Inf(1)
}

func saturatedMax(d DataType) int64 {
	switch d {
	case Int8:
		return math.MaxInt8
	case Int16:
		return math.MaxInt16
	case Int32:
		return math.MaxInt32
	case Uint8:
		return math.MaxUint8
	case Uint16:
		return math.MaxUint16
	case Uint32:
		return math.MaxUint32
	case Bool:
		return 1
	}
	return math.MaxInt64
}

func bfloat16Bits(f float32) uint16 {
	u := math.Float32bits(f)
	if f != f {
		return uint16(u>>16) | 0x0040
	}
	u += 0x7fff + (u>>16)&1
	return uint16(u >> 16)
}
