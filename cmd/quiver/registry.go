package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/23skdu/longbow-quiver/internal/ops"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// request is one operation call with its operands already on the device.
type request struct {
	inputs []*tensor.Tensor
	opts   []ops.Option
	scalar float64
	axis   int
}

type operation struct {
	arity int
	run   func(ctx context.Context, r request) ([]*tensor.Tensor, error)
}

type (
	unaryFunc  func(context.Context, *tensor.Tensor, ...ops.Option) (*tensor.Tensor, error)
	binaryFunc func(context.Context, *tensor.Tensor, *tensor.Tensor, ...ops.Option) (*tensor.Tensor, error)
)

func one(t *tensor.Tensor, err error) ([]*tensor.Tensor, error) {
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}

func two(a, b *tensor.Tensor, err error) ([]*tensor.Tensor, error) {
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{a, b}, nil
}

func unary(f unaryFunc) operation {
	return operation{arity: 1, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return one(f(ctx, r.inputs[0], r.opts...))
	}}
}

func binary(f binaryFunc) operation {
	return operation{arity: 2, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return one(f(ctx, r.inputs[0], r.inputs[1], r.opts...))
	}}
}

var operations = map[string]operation{
	"add":          binary(ops.Add),
	"subtract":     binary(ops.Subtract),
	"multiply":     binary(ops.Multiply),
	"divide":       binary(ops.Divide),
	"true_divide":  binary(ops.TrueDivide),
	"floor_divide": binary(ops.FloorDivide),
	"power":        binary(ops.Power),
	"float_power":  binary(ops.FloatPower),
	"fmod":         binary(ops.Fmod),
	"mod":          binary(ops.Mod),
	"remainder":    binary(ops.Remainder),
	"maximum":      binary(ops.Maximum),
	"minimum":      binary(ops.Minimum),
	"fmax":         binary(ops.Fmax),
	"fmin":         binary(ops.Fmin),
	"heaviside":    binary(ops.Heaviside),
	"arctan2":      binary(ops.Arctan2),
	"hypot":        binary(ops.Hypot),
	"ldexp":        binary(ops.Ldexp),
	"copysign":     binary(ops.Copysign),

	"reciprocal": unary(ops.Reciprocal),
	"positive":   unary(ops.Positive),
	"negative":   unary(ops.Negative),
	"max":        unary(ops.Max),
	"amax":       unary(ops.Amax),
	"min":        unary(ops.Min),
	"amin":       unary(ops.Amin),
	"nanmax":     unary(ops.NanMax),
	"nanmin":     unary(ops.NanMin),
	"sqrt":       unary(ops.Sqrt),
	"square":     unary(ops.Square),
	"absolute":   unary(ops.Absolute),
	"fabs":       unary(ops.Fabs),
	"sign":       unary(ops.Sign),
	"nan_to_num": unary(ops.NanToNum),
	"sin":        unary(ops.Sin),
	"cos":        unary(ops.Cos),
	"tan":        unary(ops.Tan),
	"arcsin":     unary(ops.Arcsin),
	"arccos":     unary(ops.Arccos),
	"arctan":     unary(ops.Arctan),
	"radians":    unary(ops.Radians),
	"degrees":    unary(ops.Degrees),
	"relu":       unary(ops.Relu),
	"gelu":       unary(ops.Gelu),
	"mean":       unary(ops.Mean),

	"clip": {arity: 3, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return one(ops.Clip(ctx, r.inputs[0], r.inputs[1], r.inputs[2], r.opts...))
	}},
	"divmod": {arity: 2, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return two(ops.Divmod(ctx, r.inputs[0], r.inputs[1], r.opts...))
	}},
	"modf": {arity: 1, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return two(ops.Modf(ctx, r.inputs[0]))
	}},
	"signbit": {arity: 1, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return one(ops.Signbit(ctx, r.inputs[0]))
	}},
	"power_scalar": {arity: 1, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return one(ops.PowerScalar(ctx, r.inputs[0], r.scalar, r.opts...))
	}},
	"power_scalar_base": {arity: 1, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return one(ops.PowerScalarBase(ctx, r.scalar, r.inputs[0], r.opts...))
	}},
	"clip_min": {arity: 1, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return one(ops.ClipScalar(ctx, r.inputs[0], &r.scalar, nil, r.opts...))
	}},
	"clip_max": {arity: 1, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return one(ops.ClipScalar(ctx, r.inputs[0], nil, &r.scalar, r.opts...))
	}},
	"softmax": {arity: 1, run: func(ctx context.Context, r request) ([]*tensor.Tensor, error) {
		return one(ops.Softmax(ctx, r.inputs[0], r.axis, r.opts...))
	}},
}

// lookup resolves name and checks the operand count.
func lookup(name string, operands int) (operation, error) {
	op, ok := operations[name]
	if !ok {
		return operation{}, fmt.Errorf("unknown operation %q", name)
	}
	if operands != op.arity {
		return operation{}, fmt.Errorf("%s takes %d operands, got %d", name, op.arity, operands)
	}
	return op, nil
}

func operationNames() []string {
	names := make([]string, 0, len(operations))
	for n := range operations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func releaseAll(ts []*tensor.Tensor) {
	for _, t := range ts {
		_ = t.Release()
	}
}
