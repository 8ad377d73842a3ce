package ops

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/promote"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var (
	realPolicy    = promote.Policy{Kinds: dtype.KindReal}
	numericPolicy = promote.Policy{Kinds: dtype.KindNumeric}
	floatOnly     = promote.Policy{Rule: promote.FloatOnly, Kinds: dtype.KindFloat}
	scalarPower   = promote.Policy{Rule: promote.Fixed, Fixed: dtype.Float64, Kinds: dtype.KindNumeric}
)

// Add returns x1 + x2.
func Add(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "add", "Add", realPolicy, opts, alpha, x1, x2)
}

// Subtract returns x1 - x2.
func Subtract(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "subtract", "Sub", numericPolicy, opts, alpha, x1, x2)
}

// Multiply returns x1 * x2.
func Multiply(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "multiply", "Mul", realPolicy, opts, nil, x1, x2)
}

// Divide returns x1 / x2 in the first operand's type unless overridden.
func Divide(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "divide", "Div", numericPolicy, opts, nil, x1, x2)
}

// TrueDivide is Divide.
func TrueDivide(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "true_divide", "Div", numericPolicy, opts, nil, x1, x2)
}

// FloorDivide returns floor(x1 / x2).
func FloorDivide(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "floor_divide", "FloorDivide", numericPolicy, opts, nil, x1, x2)
}

// Reciprocal returns 1 / x.
func Reciprocal(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "reciprocal", "Reciprocal", numericPolicy, opts, nil, x)
}

// Positive returns a copy of x, cast when a different type is requested.
func Positive(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "positive", "Cast", promote.Policy{}, opts, nil, x)
}

// Negative returns -x.
func Negative(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "negative", "Neg", numericPolicy, opts, nil, x)
}

// Power returns x1 ** x2 elementwise.
func Power(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "power", "PowTensorTensor", numericPolicy, opts, nil, x1, x2)
}

// PowerScalarBase returns base ** x. The result is float64 unless
// overridden.
func PowerScalarBase(ctx context.Context, base float64, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "power", "PowScalarTensor", scalarPower, opts, func(dtype.DataType) []scalarArg {
		return []scalarArg{{base, dtype.Float32}}
	}, x)
}

// PowerScalar returns x ** exponent. The result is float64 unless
// overridden.
func PowerScalar(ctx context.Context, x *tensor.Tensor, exponent float64, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "power", "PowTensorScalar", scalarPower, opts, func(dtype.DataType) []scalarArg {
		return []scalarArg{{exponent, dtype.Float32}}
	}, x)
}

// FloatPower returns x1 ** x2 computed in floating point.
func FloatPower(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "float_power", "PowTensorTensor", floatOnly, opts, nil, x1, x2)
}

// Fmod returns the C-style remainder of x1 / x2, carrying the sign of x1.
func Fmod(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "fmod", "Fmod", floatOnly, opts, nil, x1, x2)
}

// Mod returns the Python-style remainder of x1 / x2, carrying the sign of x2.
func Mod(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "mod", "Remainder", floatOnly, opts, nil, x1, x2)
}

// Remainder is Mod.
func Remainder(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "remainder", "Remainder", floatOnly, opts, nil, x1, x2)
}

// Divmod returns floor(x1 / x2) and x1 - floor(x1 / x2) * x2 through three
// kernel invocations.
func Divmod(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, *tensor.Tensor, error) {
	o := collect(opts)
	return pair(ctx, "divmod", []*tensor.Tensor{x1, x2}, func(s *scope) (*tensor.Tensor, *tensor.Tensor, error) {
		q, err := s.output(numericPolicy, o.dtype, x1, x2)
		if err != nil {
			return nil, nil, err
		}
		if err := s.launch("FloorDivide", []*tensor.Tensor{x1, x2}, nil, q); err != nil {
			return nil, nil, err
		}

		prod, err := s.alloc(q.Shape(), q.DType())
		if err != nil {
			return nil, nil, err
		}
		if err := s.launch("Mul", []*tensor.Tensor{q, x2}, nil, prod); err != nil {
			return nil, nil, err
		}

		r, err := s.alloc(q.Shape(), q.DType())
		if err != nil {
			return nil, nil, err
		}
		if err := s.launch("Sub", []*tensor.Tensor{x1, prod}, alpha(q.DType()), r); err != nil {
			return nil, nil, err
		}
		return q, r, nil
	})
}

// Modf splits a float32 or float64 tensor into x - floor(x) and floor(x),
// in that order.
func Modf(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	return pair(ctx, "modf", []*tensor.Tensor{x}, func(s *scope) (*tensor.Tensor, *tensor.Tensor, error) {
		if dt := x.DType(); dt != dtype.Float32 && dt != dtype.Float64 {
			return nil, nil, &dtype.UnsupportedError{DType: dt, Op: "modf", Reason: "input must be float32 or float64"}
		}
		whole, err := s.alloc(x.Shape(), x.DType())
		if err != nil {
			return nil, nil, err
		}
		if err := s.launch("Floor", []*tensor.Tensor{x}, nil, whole); err != nil {
			return nil, nil, err
		}
		frac, err := s.alloc(x.Shape(), x.DType())
		if err != nil {
			return nil, nil, err
		}
		if err := s.launch("Sub", []*tensor.Tensor{x, whole}, alpha(x.DType()), frac); err != nil {
			return nil, nil, fmt.Errorf("fractional part: %w", err)
		}
		return frac, whole, nil
	})
}
