package ops

import (
	"context"
	"errors"
	"math"

	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/promote"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var (
	transcendental = promote.Policy{Rule: promote.Transcendental, Kinds: dtype.KindFloat}
	widening       = promote.Policy{Rule: promote.Widening, Kinds: dtype.KindFloat}
)

// ErrNoBounds is returned by ClipScalar when neither bound is given.
var ErrNoBounds = errors.New("at least one of the clip bounds must be given")

// Clip limits x to [lo, hi] elementwise, broadcasting all three tensors.
func Clip(ctx context.Context, x, lo, hi *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "clip", "ClampTensor", numericPolicy, opts, nil, x, lo, hi)
}

// ClipScalar limits x to [lo, hi]. A nil bound is open.
func ClipScalar(ctx context.Context, x *tensor.Tensor, lo, hi *float64, opts ...Option) (*tensor.Tensor, error) {
	var (
		kernel string
		bounds []float64
	)
	switch {
	case lo != nil && hi != nil:
		kernel, bounds = "Clamp", []float64{*lo, *hi}
	case lo != nil:
		kernel, bounds = "ClampMin", []float64{*lo}
	case hi != nil:
		kernel, bounds = "ClampMax", []float64{*hi}
	default:
		return nil, ErrNoBounds
	}
	return elementwise(ctx, "clip", kernel, numericPolicy, opts, func(out dtype.DataType) []scalarArg {
		args := make([]scalarArg, len(bounds))
		for i, b := range bounds {
			args[i] = scalarArg{b, floatFor(out)}
		}
		return args
	}, x)
}

// Sqrt returns the non-negative square root.
func Sqrt(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "sqrt", "Sqrt", transcendental, opts, nil, x)
}

// Square returns x * x in float32, or float64 for a float64 input.
func Square(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	o := collect(opts)
	return single(ctx, "square", []*tensor.Tensor{x}, func(s *scope) (*tensor.Tensor, error) {
		out, err := s.output(widening, o.dtype, x)
		if err != nil {
			return nil, err
		}
		return out, s.launch("Mul", []*tensor.Tensor{x, x}, nil, out)
	})
}

// Absolute returns |x| in x's type.
func Absolute(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "absolute", "Abs", numericPolicy, opts, nil, x)
}

// Fabs returns |x| as a floating point tensor.
func Fabs(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "fabs", "Abs", transcendental, opts, nil, x)
}

// Sign returns -1, 0 or 1 per element. NaN stays NaN.
func Sign(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "sign", "Sign", numericPolicy, opts, nil, x)
}

// Heaviside returns 0 where x1 < 0, 1 where x1 > 0 and x2 where x1 == 0.
func Heaviside(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "heaviside", "Heaviside", numericPolicy, opts, nil, x1, x2)
}

// NanToNum replaces NaN with 0 and infinities with the largest finite value
// of the output type, unless WithNaN, WithPosInf or WithNegInf say
// otherwise. Integral tensors are copied unchanged.
func NanToNum(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	o := collect(opts)
	return elementwise(ctx, "nan_to_num", "NanToNum", realPolicy, opts, func(out dtype.DataType) []scalarArg {
		if out.IsIntegral() {
			return []scalarArg{{0, dtype.Int64}, {0, dtype.Int64}, {0, dtype.Int64}}
		}
		nan, pos, neg := 0.0, finiteMax(out), -finiteMax(out)
		if o.nan != nil {
			nan = *o.nan
		}
		if o.posInf != nil {
			pos = *o.posInf
		}
		if o.negInf != nil {
			neg = *o.negInf
		}
		dt := floatFor(out)
		return []scalarArg{{nan, dt}, {pos, dt}, {neg, dt}}
	}, x)
}

// radiansPerDegree converts degrees to radians.
const radiansPerDegree = math.Pi / 180
