// Package ops is the NumPy-style array API. Every function resolves its
// output shape and type, allocates the output on the operands' device
// Context and reaches the device only through dispatch.Engine.
//
// A failing operation never returns a partial result: outputs and
// temporaries are owned by a dispatch.Guard until the operation succeeds.
// The caller's context.Context is checked once, before the first allocation.
package ops

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/longbow-quiver/internal/dispatch"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/promote"
	"github.com/23skdu/longbow-quiver/internal/shape"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var tracer = otel.Tracer("quiver-ops")

// Option adjusts one operation call.
type Option func(*options)

type options struct {
	dtype    dtype.DataType
	axes     []int
	keepDims bool
	nan      *float64
	posInf   *float64
	negInf   *float64
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDtype requests an explicit output type.
func WithDtype(dt dtype.DataType) Option {
	return func(o *options) { o.dtype = dt }
}

// WithAxes restricts a reduction to the given axes. Negative axes count from
// the end. Without it a reduction covers every axis.
func WithAxes(axes ...int) Option {
	return func(o *options) { o.axes = append([]int(nil), axes...) }
}

// WithKeepDims keeps reduced axes as extent 1.
func WithKeepDims(keep bool) Option {
	return func(o *options) { o.keepDims = keep }
}

// WithNaN sets the value NanToNum substitutes for NaN.
func WithNaN(v float64) Option {
	return func(o *options) { o.nan = &v }
}

// WithPosInf sets the value NanToNum substitutes for +Inf.
func WithPosInf(v float64) Option {
	return func(o *options) { o.posInf = &v }
}

// WithNegInf sets the value NanToNum substitutes for -Inf.
func WithNegInf(v float64) Option {
	return func(o *options) { o.negInf = &v }
}

// scalarArg is a host value and the type it is encoded as for one kernel.
type scalarArg struct {
	value float64
	dtype dtype.DataType
}

// scope is one public operation in flight.
type scope struct {
	ctx   context.Context
	name  string
	eng   *dispatch.Engine
	guard dispatch.Guard
}

func run(ctx context.Context, name string, inputs []*tensor.Tensor, body func(s *scope) ([]*tensor.Tensor, error)) ([]*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for i, t := range inputs {
		switch {
		case t == nil:
			return nil, fmt.Errorf("%s: operand %d is nil", name, i)
		case t.Released():
			return nil, fmt.Errorf("%s: operand %d: %w", name, i, tensor.ErrReleased)
		case t.Context() != inputs[0].Context():
			return nil, fmt.Errorf("%s: operand %d lives on %s, operand 0 on %s", name, i, t.Context().Name(), inputs[0].Context().Name())
		}
	}

	ctx, span := tracer.Start(ctx, name)
	defer span.End()
	span.SetAttributes(attribute.Int("operands", len(inputs)))

	s := &scope{ctx: ctx, name: name, eng: dispatch.New(inputs[0].Context())}
	defer s.guard.Release()

	outs, err := body(s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for _, o := range outs {
		s.guard.Keep(o)
	}
	return outs, nil
}

func single(ctx context.Context, name string, inputs []*tensor.Tensor, body func(s *scope) (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	outs, err := run(ctx, name, inputs, func(s *scope) ([]*tensor.Tensor, error) {
		out, err := body(s)
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{out}, nil
	})
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

func pair(ctx context.Context, name string, inputs []*tensor.Tensor, body func(s *scope) (*tensor.Tensor, *tensor.Tensor, error)) (*tensor.Tensor, *tensor.Tensor, error) {
	outs, err := run(ctx, name, inputs, func(s *scope) ([]*tensor.Tensor, error) {
		a, b, err := body(s)
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{a, b}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outs[0], outs[1], nil
}

// alloc allocates a tensor owned by the scope's guard.
func (s *scope) alloc(sh shape.Shape, dt dtype.DataType) (*tensor.Tensor, error) {
	t, err := tensor.Allocate(s.eng.Context(), sh, dt)
	if err != nil {
		return nil, err
	}
	s.guard.Track(t)
	return t, nil
}

// output resolves the broadcast shape and promoted type of inputs and
// allocates the result.
func (s *scope) output(p promote.Policy, explicit dtype.DataType, inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	shapes := make([]shape.Shape, len(inputs))
	types := make([]dtype.DataType, len(inputs))
	for i, t := range inputs {
		shapes[i], types[i] = t.Shape(), t.DType()
	}
	sh, err := shape.BroadcastAll(shapes...)
	if err != nil {
		return nil, err
	}
	dt, err := p.Resolve(s.name, explicit, types...)
	if err != nil {
		return nil, err
	}
	return s.alloc(sh, dt)
}

// launch encodes scalars, runs one kernel and releases the scalars again.
func (s *scope) launch(kernel string, inputs []*tensor.Tensor, scalars []scalarArg, outputs ...*tensor.Tensor) error {
	var g dispatch.Guard
	defer g.Release()
	encoded := make([]*tensor.Scalar, len(scalars))
	for i, a := range scalars {
		sc, err := tensor.NewScalar(a.value, a.dtype)
		if err != nil {
			return err
		}
		g.Track(sc)
		encoded[i] = sc
	}
	return s.eng.Run(s.ctx, dispatch.Call{Kernel: kernel, Inputs: inputs, Scalars: encoded, Outputs: outputs})
}

// reduce runs a reduction kernel over o.axes.
func (s *scope) reduce(kernel string, x *tensor.Tensor, dt dtype.DataType, o options) (*tensor.Tensor, error) {
	axes, err := shape.NormalizeAxes(o.axes, x.Shape().Rank())
	if err != nil {
		return nil, err
	}
	out, err := s.alloc(x.Shape().Reduce(axes, o.keepDims), dt)
	if err != nil {
		return nil, err
	}
	return out, s.eng.Run(s.ctx, dispatch.Call{Kernel: kernel, Inputs: []*tensor.Tensor{x}, Outputs: []*tensor.Tensor{out}, Axes: axes, KeepDims: o.keepDims})
}

// elementwise is the common shape of a one-kernel operation: broadcast the
// inputs, promote, allocate, launch.
func elementwise(ctx context.Context, name, kernel string, p promote.Policy, opts []Option, scalars func(out dtype.DataType) []scalarArg, inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	o := collect(opts)
	return single(ctx, name, inputs, func(s *scope) (*tensor.Tensor, error) {
		out, err := s.output(p, o.dtype, inputs...)
		if err != nil {
			return nil, err
		}
		var sc []scalarArg
		if scalars != nil {
			sc = scalars(out.DType())
		}
		return out, s.launch(kernel, inputs, sc, out)
	})
}

// alpha is the unit multiplier Add and Sub apply to their second operand.
func alpha(dtype.DataType) []scalarArg {
	return []scalarArg{{1, dtype.Int32}}
}

// floatFor is the type a real-valued scalar is encoded as for an output of
// type dt.
func floatFor(dt dtype.DataType) dtype.DataType {
	if dt == dtype.Float64 {
		return dtype.Float64
	}
	return dtype.Float32
}

// finiteMax is the largest finite value of a floating type.
func finiteMax(dt dtype.DataType) float64 {
	switch dt {
	case dtype.Float16:
		return 65504
	case dtype.BFloat16:
		return 3.3895313892515355e38
	case dtype.Float64:
		return math.MaxFloat64
	}
	return math.MaxFloat32
}
