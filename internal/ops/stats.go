package ops

import (
	"context"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Mean averages over WithAxes, or over every element when no axis is given.
// Floating inputs keep their type; others produce float32.
func Mean(ctx context.Context, x *tensor.Tensor, opts ...Option) (*tensor.Tensor, error) {
	return reduction(ctx, "mean", "Mean", transcendental, x, opts)
}
