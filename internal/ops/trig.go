package ops

import (
	"context"

	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Sin returns the sine of x in radians. Like the other trigonometric
// functions it keeps a floating input's type and otherwise produces float32.
func Sin(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "sin", "Sin", transcendental, opts, nil, x)
}

// Cos returns the cosine of x in radians.
func Cos(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "cos", "Cos", transcendental, opts, nil, x)
}

// Tan returns the tangent of x in radians.
func Tan(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "tan", "Tan", transcendental, opts, nil, x)
}

// Arcsin returns the inverse sine of x, NaN outside [-1, 1].
func Arcsin(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "arcsin", "Asin", transcendental, opts, nil, x)
}

// Arccos returns the inverse cosine of x, NaN outside [-1, 1].
func Arccos(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "arccos", "Acos", transcendental, opts, nil, x)
}

// Arctan returns the inverse tangent of x in radians.
func Arctan(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "arctan", "Atan", transcendental, opts, nil, x)
}

// Arctan2 returns the angle of (x2, x1), in float64 when either operand is
// float64 and float32 otherwise.
func Arctan2(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "arctan2", "Atan2", widening, opts, nil, x1, x2)
}

// Hypot returns sqrt(x1*x1 + x2*x2) through four kernel invocations.
func Hypot(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	o := collect(opts)
	return single(ctx, "hypot", []*tensor.Tensor{x1, x2}, func(s *scope) (*tensor.Tensor, error) {
		out, err := s.output(widening, o.dtype, x1, x2)
		if err != nil {
			return nil, err
		}
		dt := out.DType()

		sq1, err := s.alloc(x1.Shape(), dt)
		if err != nil {
			return nil, err
		}
		if err := s.launch("Mul", []*tensor.Tensor{x1, x1}, nil, sq1); err != nil {
			return nil, err
		}
		sq2, err := s.alloc(x2.Shape(), dt)
		if err != nil {
			return nil, err
		}
		if err := s.launch("Mul", []*tensor.Tensor{x2, x2}, nil, sq2); err != nil {
			return nil, err
		}
		sum, err := s.alloc(out.Shape(), dt)
		if err != nil {
			return nil, err
		}
		if err := s.launch("Add", []*tensor.Tensor{sq1, sq2}, alpha(dt), sum); err != nil {
			return nil, err
		}
		return out, s.launch("Sqrt", []*tensor.Tensor{sum}, nil, out)
	})
}

// Radians converts degrees to radians.
func Radians(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "radians", "Muls", transcendental, opts, func(out dtype.DataType) []scalarArg {
		return []scalarArg{{radiansPerDegree, floatFor(out)}}
	}, x)
}

// Degrees converts radians to degrees.
func Degrees(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "degrees", "Muls", transcendental, opts, func(out dtype.DataType) []scalarArg {
		return []scalarArg{{1 / radiansPerDegree, floatFor(out)}}
	}, x)
}
