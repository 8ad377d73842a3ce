package ops

import (
	"context"

	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/promote"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Signbit reports, as a bool tensor, which elements have their sign bit set.
func Signbit(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return elementwise(ctx, "signbit", "Signbit", promote.Policy{Rule: promote.Fixed, Fixed: dtype.Bool}, nil, nil, x)
}

// Ldexp returns x1 * 2**x2 through two kernel invocations.
func Ldexp(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	o := collect(opts)
	return single(ctx, "ldexp", []*tensor.Tensor{x1, x2}, func(s *scope) (*tensor.Tensor, error) {
		out, err := s.output(transcendental, o.dtype, x1, x2)
		if err != nil {
			return nil, err
		}
		scale, err := s.alloc(x2.Shape(), out.DType())
		if err != nil {
			return nil, err
		}
		if err := s.launch("PowScalarTensor", []*tensor.Tensor{x2}, []scalarArg{{2, dtype.Float32}}, scale); err != nil {
			return nil, err
		}
		return out, s.launch("Mul", []*tensor.Tensor{x1, scale}, nil, out)
	})
}

// Copysign returns the magnitude of x1 with the sign of x2.
func Copysign(ctx context.Context, x1, x2 *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "copysign", "Copysign", transcendental, opts, nil, x1, x2)
}
