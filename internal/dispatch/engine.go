// Package dispatch runs device kernels through the two-phase protocol: size
// query, workspace reservation, execution, stream synchronization and
// unconditional workspace release.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var tracer = otel.Tracer("quiver-dispatch")

// Engine is the single path by which device computation is triggered.
type Engine struct {
	dc *device.Context
}

// New returns an Engine bound to dc.
func New(dc *device.Context) *Engine {
	return &Engine{dc: dc}
}

// Context returns the device Context the engine dispatches on.
func (e *Engine) Context() *device.Context { return e.dc }

// Launch performs exactly one invocation of kernel. The workspace is
// released on every path before Launch returns.
func (e *Engine) Launch(ctx context.Context, kernel string, args *device.Args) (err error) {
	_, span := tracer.Start(ctx, kernel)
	defer span.End()

	start := time.Now()
	invocations.WithLabelValues(kernel).Inc()

	inv := Begin(e.dc, kernel)
	defer func() {
		if rerr := inv.Release(); rerr != nil && err == nil {
			err = rerr
		}
		span.SetAttributes(attribute.Int64("workspace_bytes", int64(inv.WorkspaceSize())))
		if err != nil {
			stage := "other"
			if s, ok := device.StageOf(err); ok {
				stage = s.String()
			}
			failures.WithLabelValues(kernel, stage).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn().Err(err).Str("kernel", kernel).Str("stage", stage).Msg("Kernel invocation failed")
			return
		}
		elapsed := time.Since(start)
		duration.WithLabelValues(kernel).Observe(elapsed.Seconds())
		log.Debug().Str("kernel", kernel).Uint64("workspace", inv.WorkspaceSize()).Dur("duration", elapsed).Msg("Kernel invocation complete")
	}()

	span.SetAttributes(attribute.String("kernel", kernel), attribute.String("device", e.dc.Name()))
	if err := inv.Query(args); err != nil {
		return err
	}
	workspaceBytes.Observe(float64(inv.WorkspaceSize()))
	if err := inv.Reserve(); err != nil {
		return err
	}
	if err := inv.Execute(); err != nil {
		return err
	}
	return inv.Synchronize()
}

// Call names a kernel and the tensors and scalars it reads and writes.
type Call struct {
	Kernel   string
	Inputs   []*tensor.Tensor
	Scalars  []*tensor.Scalar
	Outputs  []*tensor.Tensor
	Axes     []int
	KeepDims bool
}

// Run describes call's operands to the device and launches it.
func (e *Engine) Run(ctx context.Context, call Call) error {
	args := &device.Args{KeepDims: call.KeepDims}
	for i, t := range call.Inputs {
		d, err := e.describe(t)
		if err != nil {
			return fmt.Errorf("%s input %d: %w", call.Kernel, i, err)
		}
		args.Inputs = append(args.Inputs, d)
	}
	for i, s := range call.Scalars {
		if s == nil || s.Desc() == nil {
			return fmt.Errorf("%s scalar %d: %w", call.Kernel, i, tensor.ErrReleased)
		}
		args.Scalars = append(args.Scalars, s.Desc())
	}
	for i, t := range call.Outputs {
		d, err := e.describe(t)
		if err != nil {
			return fmt.Errorf("%s output %d: %w", call.Kernel, i, err)
		}
		args.Outputs = append(args.Outputs, d)
	}
	for _, a := range call.Axes {
		args.Axes = append(args.Axes, int64(a))
	}
	return e.Launch(ctx, call.Kernel, args)
}

func (e *Engine) describe(t *tensor.Tensor) (*device.TensorDesc, error) {
	switch {
	case t == nil:
		return nil, fmt.Errorf("nil tensor")
	case t.Released():
		return nil, tensor.ErrReleased
	case t.Context() != e.dc:
		return nil, fmt.Errorf("tensor lives on %s, not %s", t.Context().Name(), e.dc.Name())
	}
	return t.Desc(), nil
}
