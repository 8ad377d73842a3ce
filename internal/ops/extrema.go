package ops

import (
	"context"

	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/promote"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var extremaPolicy = promote.Policy{Rule: promote.Extrema, Kinds: dtype.KindReal}

// Maximum returns the elementwise maximum, propagating NaN.
func Maximum(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "maximum", "Maximum", extremaPolicy, opts, nil, x1, x2)
}

// Minimum returns the elementwise minimum, propagating NaN.
func Minimum(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "minimum", "Minimum", extremaPolicy, opts, nil, x1, x2)
}

// Fmax returns the elementwise maximum, ignoring NaN where the other
// operand is a number.
func Fmax(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "fmax", "Fmax", extremaPolicy, opts, nil, x1, x2)
}

// Fmin returns the elementwise minimum, ignoring NaN where the other
// operand is a number.
func Fmin(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "fmin", "Fmin", extremaPolicy, opts, nil, x1, x2)
}

// Max reduces over WithAxes (all axes by default), propagating NaN.
func Max(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return reduction(ctx, "max", "Amax", realPolicy, x, opts)
}

// Amax is Max.
func Amax(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return reduction(ctx, "amax", "Amax", realPolicy, x, opts)
}

// Min reduces over WithAxes (all axes by default), propagating NaN.
func Min(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return reduction(ctx, "min", "Amin", realPolicy, x, opts)
}

// Amin is Min.
func Amin(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return reduction(ctx, "amin", "Amin", realPolicy, x, opts)
}

// NanMax is Max skipping NaN. An all-NaN lane yields NaN.
func NanMax(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return reduction(ctx, "nanmax", "NanMax", realPolicy, x, opts)
}

// NanMin is Min skipping NaN. An all-NaN lane yields NaN.
func NanMin(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return reduction(ctx, "nanmin", "NanMin", realPolicy, x, opts)
}

func reduction(ctx context.Context, name, kernel string, p promote.Policy, x *tensor.Tensor, opts []Option) (*tensor.Tensor, error) {
	o := collect(opts)
	return single(ctx, name, []*tensor.Tensor{x}, func(s *scope) (*tensor.Tensor, error) {
		dt, err := p.Resolve(name, o.dtype, x.DType())
		if err != nil {
			return nil, err
		}
		return s.reduce(kernel, x, dt, o)
	})
}
