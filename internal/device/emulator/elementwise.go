package emulator

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/dtype"
)

// elementwise is a kernel mapping broadcast inputs and trailing scalars to
// one output element at a time. The int path is taken when the output and
// every operand are integral. uint64 operands stay on it only for kernels
// whose int64 form wraps identically; order-sensitive kernels use u for
// all-unsigned operands and fall back to float64 otherwise.
type elementwise struct {
	inputs  int
	scalars int
	in      dtype.Kind
	out     dtype.Kind
	f       func(v []float64) float64
	i       func(v []int64) int64
	u       func(v []uint64) uint64
	wraps   bool
}

type evalPath int

const (
	floatPath evalPath = iota
	intPath
	uintPath
)

// choose picks the evaluation path for the given operand types.
func (ew elementwise) choose(out dtype.DataType, ins []operand, scalars []scalar) evalPath {
	integral := out.IsIntegral()
	wide := out == dtype.Uint64
	signed := out.Kind()&dtype.KindSigned != 0
	for _, in := range ins {
		integral = integral && in.dt.IsIntegral()
		wide = wide || in.dt == dtype.Uint64
		signed = signed || in.dt.Kind()&dtype.KindSigned != 0
	}
	for _, s := range scalars {
		integral = integral && s.dt.IsIntegral()
		signed = signed || (s.i < 0 && s.dt != dtype.Uint64)
	}
	switch {
	case !integral:
		return floatPath
	case ew.i != nil && (!wide || ew.wraps):
		return intPath
	case wide && !signed && ew.u != nil:
		return uintPath
	}
	return floatPath
}

func (ew elementwise) plan(e *Emulator, args *device.Args) (uint64, func([]byte) device.Status, error) {
	if len(args.Inputs) != ew.inputs || len(args.Scalars) != ew.scalars || len(args.Outputs) != 1 {
		return 0, nil, fmt.Errorf("expected %d inputs, %d scalars and 1 output, got %d, %d and %d",
			ew.inputs, ew.scalars, len(args.Inputs), len(args.Scalars), len(args.Outputs))
	}
	ins, err := e.resolveAll(args.Inputs)
	if err != nil {
		return 0, nil, err
	}
	out, err := e.resolve(args.Outputs[0])
	if err != nil {
		return 0, nil, fmt.Errorf("output: %w", err)
	}
	scalars, err := decodeScalars(args.Scalars)
	if err != nil {
		return 0, nil, err
	}

	if err := checkKind("output", out.dt, ew.out); err != nil {
		return 0, nil, err
	}
	for i, in := range ins {
		if err := checkKind(fmt.Sprintf("input %d", i), in.dt, ew.in); err != nil {
			return 0, nil, err
		}
		if !broadcastable(in.shape, out.shape) {
			return 0, nil, fmt.Errorf("input %d shape %v does not broadcast to output shape %v", i, in.shape, out.shape)
		}
	}
	path := ew.choose(out.dt, ins, scalars)

	strides := make([][]int64, len(ins)+1)
	base := make([]int64, len(ins)+1)
	strides[0], base[0] = out.strides, out.offset
	for i, in := range ins {
		strides[i+1], base[i+1] = readStrides(in, out.shape), in.offset
	}

	run := func([]byte) device.Status {
		n := len(ins)
		switch path {
		case uintPath:
			v := make([]uint64, n+len(scalars))
			for j, s := range scalars {
				v[n+j] = uint64(s.i)
			}
			walk(out.shape, strides, base, func(offs []int64) {
				for j, in := range ins {
					v[j] = uint64(in.dt.Int(in.data, int(offs[j+1])))
				}
				out.dt.SetInt(out.data, int(offs[0]), int64(ew.u(v)))
			})
			return device.StatusSuccess
		case intPath:
			v := make([]int64, n+len(scalars))
			for j, s := range scalars {
				v[n+j] = s.i
			}
			walk(out.shape, strides, base, func(offs []int64) {
				for j, in := range ins {
					v[j] = in.dt.Int(in.data, int(offs[j+1]))
				}
				out.dt.SetInt(out.data, int(offs[0]), ew.i(v))
			})
			return device.StatusSuccess
		}
		v := make([]float64, n+len(scalars))
		for j, s := range scalars {
			v[n+j] = s.f
		}
		walk(out.shape, strides, base, func(offs []int64) {
			for j, in := range ins {
				v[j] = in.dt.Float(in.data, int(offs[j+1]))
			}
			out.dt.SetFloat(out.data, int(offs[0]), ew.f(v))
		})
		return device.StatusSuccess
	}
	return 0, run, nil
}

// castPlan copies elements between dtypes. Same-dtype copies move raw bytes,
// which keeps complex and NaN payloads intact.
func castPlan(e *Emulator, args *device.Args) (uint64, func([]byte) device.Status, error) {
	if len(args.Inputs) != 1 || len(args.Outputs) != 1 {
		return 0, nil, fmt.Errorf("expected 1 input and 1 output")
	}
	in, err := e.resolve(args.Inputs[0])
	if err != nil {
		return 0, nil, err
	}
	out, err := e.resolve(args.Outputs[0])
	if err != nil {
		return 0, nil, err
	}
	if !broadcastable(in.shape, out.shape) {
		return 0, nil, fmt.Errorf("input shape %v does not broadcast to output shape %v", in.shape, out.shape)
	}
	if in.dt != out.dt {
		if err := checkKind("input", in.dt, dtype.KindReal); err != nil {
			return 0, nil, err
		}
		if err := checkKind("output", out.dt, dtype.KindReal); err != nil {
			return 0, nil, err
		}
	}
	strides := [][]int64{out.strides, readStrides(in, out.shape)}
	base := []int64{out.offset, in.offset}

	run := func([]byte) device.Status {
		switch {
		case in.dt == out.dt:
			size := int64(in.dt.Size())
			walk(out.shape, strides, base, func(offs []int64) {
				copy(out.data[offs[0]*size:(offs[0]+1)*size], in.data[offs[1]*size:(offs[1]+1)*size])
			})
		case in.dt.IsIntegral() && out.dt.IsIntegral():
			walk(out.shape, strides, base, func(offs []int64) {
				out.dt.SetInt(out.data, int(offs[0]), in.dt.Int(in.data, int(offs[1])))
			})
		default:
			walk(out.shape, strides, base, func(offs []int64) {
				out.dt.SetFloat(out.data, int(offs[0]), in.dt.Float(in.data, int(offs[1])))
			})
		}
		return device.StatusSuccess
	}
	return 0, run, nil
}
