package emulator

import (
	"math"

	"github.com/23skdu/longbow-quiver/internal/dtype"
)

const (
	anyReal  = dtype.KindReal
	numeric  = dtype.KindNumeric
	floating = dtype.KindFloat
)

func registerBuiltins(e *Emulator) {
	ew := map[string]elementwise{
		// Add and Sub take an alpha scalar scaling the second operand.
		"Add": {inputs: 2, scalars: 1, in: anyReal, out: anyReal,
			f: func(v []float64) float64 { return v[0] + v[2]*v[1] },
			i: func(v []int64) int64 { return v[0] + v[2]*v[1] },
			wraps: true},
		"Sub": {inputs: 2, scalars: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return v[0] - v[2]*v[1] },
			i: func(v []int64) int64 { return v[0] - v[2]*v[1] },
			wraps: true},
		"Mul": {inputs: 2, in: anyReal, out: anyReal,
			f: func(v []float64) float64 { return v[0] * v[1] },
			i: func(v []int64) int64 { return v[0] * v[1] },
			wraps: true},
		"Muls": {inputs: 1, scalars: 1, in: anyReal, out: anyReal,
			f: func(v []float64) float64 { return v[0] * v[1] },
			i: func(v []int64) int64 { return v[0] * v[1] },
			wraps: true},
		"Div": {inputs: 2, in: anyReal, out: numeric,
			f: func(v []float64) float64 { return v[0] / v[1] }},
		"FloorDivide": {inputs: 2, in: numeric, out: numeric,
			f: func(v []float64) float64 { return math.Floor(v[0] / v[1]) },
			i: func(v []int64) int64 { return floorDiv(v[0], v[1]) },
			u: func(v []uint64) uint64 { return udiv(v[0], v[1]) }},
		"Reciprocal": {inputs: 1, in: anyReal, out: numeric,
			f: func(v []float64) float64 { return 1 / v[0] }},
		"Neg": {inputs: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return -v[0] },
			i: func(v []int64) int64 { return -v[0] },
			wraps: true},
		"PowTensorTensor": {inputs: 2, in: numeric, out: numeric,
			f: func(v []float64) float64 { return math.Pow(v[0], v[1]) },
			i: func(v []int64) int64 { return ipow(v[0], v[1]) }},
		"PowScalarTensor": {inputs: 1, scalars: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return math.Pow(v[1], v[0]) },
			i: func(v []int64) int64 { return ipow(v[1], v[0]) }},
		"PowTensorScalar": {inputs: 1, scalars: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return math.Pow(v[0], v[1]) },
			i: func(v []int64) int64 { return ipow(v[0], v[1]) }},
		"Fmod": {inputs: 2, in: numeric, out: floating,
			f: func(v []float64) float64 { return math.Mod(v[0], v[1]) }},
		"Remainder": {inputs: 2, in: numeric, out: numeric,
			f: func(v []float64) float64 { return pyMod(v[0], v[1]) },
			i: func(v []int64) int64 { return v[0] - floorDiv(v[0], v[1])*v[1] },
			u: func(v []uint64) uint64 { return v[0] - udiv(v[0], v[1])*v[1] }},
		"Floor": {inputs: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return math.Floor(v[0]) },
			i: func(v []int64) int64 { return v[0] },
			u: func(v []uint64) uint64 { return v[0] }},
		"Maximum": {inputs: 2, in: anyReal, out: anyReal,
			f: func(v []float64) float64 { return nanPropagating(v[0], v[1], math.Max) },
			i: func(v []int64) int64 { return max(v[0], v[1]) },
			u: func(v []uint64) uint64 { return max(v[0], v[1]) }},
		"Minimum": {inputs: 2, in: anyReal, out: anyReal,
			f: func(v []float64) float64 { return nanPropagating(v[0], v[1], math.Min) },
			i: func(v []int64) int64 { return min(v[0], v[1]) },
			u: func(v []uint64) uint64 { return min(v[0], v[1]) }},
		"Fmax": {inputs: 2, in: anyReal, out: anyReal,
			f: func(v []float64) float64 { return nanIgnoring(v[0], v[1], math.Max) },
			i: func(v []int64) int64 { return max(v[0], v[1]) },
			u: func(v []uint64) uint64 { return max(v[0], v[1]) }},
		"Fmin": {inputs: 2, in: anyReal, out: anyReal,
			f: func(v []float64) float64 { return nanIgnoring(v[0], v[1], math.Min) },
			i: func(v []int64) int64 { return min(v[0], v[1]) },
			u: func(v []uint64) uint64 { return min(v[0], v[1]) }},
		"Clamp": {inputs: 1, scalars: 2, in: numeric, out: numeric,
			f: func(v []float64) float64 { return clamp(v[0], v[1], v[2]) },
			i: func(v []int64) int64 { return min(max(v[0], v[1]), v[2]) },
			u: func(v []uint64) uint64 { return min(max(v[0], v[1]), v[2]) }},
		"ClampMin": {inputs: 1, scalars: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return nanPropagating(v[0], v[1], math.Max) },
			i: func(v []int64) int64 { return max(v[0], v[1]) },
			u: func(v []uint64) uint64 { return max(v[0], v[1]) }},
		"ClampMax": {inputs: 1, scalars: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return nanPropagating(v[0], v[1], math.Min) },
			i: func(v []int64) int64 { return min(v[0], v[1]) },
			u: func(v []uint64) uint64 { return min(v[0], v[1]) }},
		"ClampTensor": {inputs: 3, in: numeric, out: numeric,
			f: func(v []float64) float64 { return clamp(v[0], v[1], v[2]) },
			i: func(v []int64) int64 { return min(max(v[0], v[1]), v[2]) },
			u: func(v []uint64) uint64 { return min(max(v[0], v[1]), v[2]) }},
		"Sqrt": {inputs: 1, in: anyReal, out: floating,
			f: func(v []float64) float64 { return math.Sqrt(v[0]) }},
		"Abs": {inputs: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return math.Abs(v[0]) },
			i: func(v []int64) int64 { return iabs(v[0]) },
			u: func(v []uint64) uint64 { return v[0] }},
		"Sign": {inputs: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return sign(v[0]) },
			i: func(v []int64) int64 { return isign(v[0]) },
			u: func(v []uint64) uint64 { return min(v[0], 1) }},
		"Heaviside": {inputs: 2, in: numeric, out: numeric,
			f: func(v []float64) float64 { return heaviside(v[0], v[1]) }},
		// NanToNum scalars: replacement for NaN, +Inf, -Inf.
		"NanToNum": {inputs: 1, scalars: 3, in: anyReal, out: anyReal,
			f: func(v []float64) float64 { return nanToNum(v[0], v[1], v[2], v[3]) },
			i: func(v []int64) int64 { return v[0] },
			u: func(v []uint64) uint64 { return v[0] }},
		"Sin": {inputs: 1, in: anyReal, out: floating,
			f: func(v []float64) float64 { return math.Sin(v[0]) }},
		"Cos": {inputs: 1, in: anyReal, out: floating,
			f: func(v []float64) float64 { return math.Cos(v[0]) }},
		"Tan": {inputs: 1, in: anyReal, out: floating,
			f: func(v []float64) float64 { return math.Tan(v[0]) }},
		"Asin": {inputs: 1, in: anyReal, out: floating,
			f: func(v []float64) float64 { return math.Asin(v[0]) }},
		"Acos": {inputs: 1, in: anyReal, out: floating,
			f: func(v []float64) float64 { return math.Acos(v[0]) }},
		"Atan": {inputs: 1, in: anyReal, out: floating,
			f: func(v []float64) float64 { return math.Atan(v[0]) }},
		"Atan2": {inputs: 2, in: anyReal, out: floating,
			f: func(v []float64) float64 { return math.Atan2(v[0], v[1]) }},
		"Signbit": {inputs: 1, in: anyReal, out: dtype.KindBool,
			f: func(v []float64) float64 { return boolf(math.Signbit(v[0])) }},
		"Copysign": {inputs: 2, in: anyReal, out: floating,
			f: func(v []float64) float64 { return math.Copysign(v[0], v[1]) }},
		"Relu": {inputs: 1, in: numeric, out: numeric,
			f: func(v []float64) float64 { return relu(v[0]) },
			i: func(v []int64) int64 { return max(v[0], 0) },
			u: func(v []uint64) uint64 { return v[0] }},
		"Gelu": {inputs: 1, in: anyReal, out: floating,
			f: func(v []float64) float64 { return 0.5 * v[0] * (1 + math.Erf(v[0]/math.Sqrt2)) }},
	}
	for name, k := range ew {
		e.kernels[name] = &kernel{name: name, emu: e, plan: k.plan}
	}

	red := map[string]reduction{
		"Amax":   {in: anyReal, out: anyReal, f: amax, i: imax, u: umax},
		"Amin":   {in: anyReal, out: anyReal, f: amin, i: imin, u: umin},
		"NanMax": {in: anyReal, out: anyReal, f: nanmax, i: imax, u: umax},
		"NanMin": {in: anyReal, out: anyReal, f: nanmin, i: imin, u: umin},
		"Mean":   {in: anyReal, out: floating, f: mean, emptyOK: true},
	}
	for name, r := range red {
		e.kernels[name] = &kernel{name: name, emu: e, plan: r.plan}
	}

	e.kernels["Cast"] = &kernel{name: "Cast", emu: e, plan: castPlan}
	e.kernels["Softmax"] = &kernel{name: "Softmax", emu: e, plan: softmaxPlan}
}

func floorDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func udiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func pyMod(a, b float64) float64 {
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

func ipow(base, exp int64) int64 {
	if exp < 0 {
		switch base {
		case 1:
			return 1
		case -1:
			if exp%2 == 0 {
				return 1
			}
			return -1
		}
		return 0
	}
	out := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			out *= base
		}
		base *= base
		exp >>= 1
	}
	return out
}

func nanPropagating(a, b float64, f func(a, b float64) float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return f(a, b)
}

func nanIgnoring(a, b float64, f func(a, b float64) float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return f(a, b)
}

func clamp(x, lo, hi float64) float64 {
	return nanPropagating(nanPropagating(x, lo, math.Max), hi, math.Min)
}

func sign(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return x
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func isign(x int64) int64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func iabs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func heaviside(x, h0 float64) float64 {
	switch {
	case math.IsNaN(x):
		return x
	case x < 0:
		return 0
	case x > 0:
		return 1
	}
	return h0
}

func nanToNum(x, nan, posinf, neginf float64) float64 {
	switch {
	case math.IsNaN(x):
		return nan
	case math.IsInf(x, 1):
		return posinf
	case math.IsInf(x, -1):
		return neginf
	}
	return x
}

func relu(x float64) float64 {
	if x > 0 || math.IsNaN(x) {
		return x
	}
	return 0
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
