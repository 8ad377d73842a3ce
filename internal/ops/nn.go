package ops

import (
	"context"

	"github.com/23skdu/longbow-quiver/internal/dispatch"
	"github.com/23skdu/longbow-quiver/internal/shape"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Relu returns max(x, 0).
func Relu(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "relu", "Relu", numericPolicy, opts, nil, x)
}

// Gelu is the exact, erf-based GELU.
func Gelu(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return elementwise(ctx, "gelu", "Gelu", transcendental, opts, nil, x)
}

// Softmax normalizes exp(x) along axis. Negative axes count from the end.
func Softmax(ctx context.Context, x *tensor.Tensor, axis int, opts ...Option) (*tensor.Tensor, error) {
	o := collect(opts)
	return single(ctx, "softmax", []*tensor.Tensor{x}, func(s *scope) (*tensor.Tensor, error) {
		axes, err := shape.NormalizeAxes([]int{axis}, x.Shape().Rank())
		if err != nil {
			return nil, err
		}
		dt, err := transcendental.Resolve(s.name, o.dtype, x.DType())
		if err != nil {
			return nil, err
		}
		out, err := s.alloc(x.Shape(), dt)
		if err != nil {
			return nil, err
		}
		return out, s.eng.Run(s.ctx, dispatch.Call{Kernel: "Softmax", Inputs: []*tensor.Tensor{x}, Outputs: []*tensor.Tensor{out}, Axes: axes})
	})
}
