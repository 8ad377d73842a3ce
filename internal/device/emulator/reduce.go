package emulator

import (
	"fmt"
	"math"
	"unsafe"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/shape"
)

// reduction folds the reduced axes of one input into each output element.
// Lanes are gathered into the kernel workspace.
type reduction struct {
	in      dtype.Kind
	out     dtype.Kind
	f       func(lane []float64) float64
	i       func(lane []int64) int64
	u       func(lane []uint64) uint64
	emptyOK bool
}

func intAxes(axes []int64) []int {
	out := make([]int, len(axes))
	for i, a := range axes {
		out[i] = int(a)
	}
	return out
}

// lanes splits the input's axes into an outer walk over kept positions and
// an inner walk over each reduced lane.
type lanes struct {
	keep       shape.Shape
	inner      shape.Shape
	inOuter    []int64
	inInner    []int64
	outStrides []int64
	length     int64
}

func splitLanes(in, out operand, axes []int, keepDims bool) lanes {
	reduced := make([]bool, len(in.shape))
	for _, a := range axes {
		reduced[a] = true
	}
	l := lanes{
		keep:       make(shape.Shape, len(in.shape)),
		inner:      make(shape.Shape, len(in.shape)),
		inOuter:    make([]int64, len(in.shape)),
		inInner:    make([]int64, len(in.shape)),
		outStrides: make([]int64, len(in.shape)),
		length:     1,
	}
	j := 0
	for i, ext := range in.shape {
		if reduced[i] {
			l.keep[i], l.inner[i] = 1, ext
			l.inInner[i] = in.strides[i]
			l.length *= ext
			if keepDims {
				j++
			}
			continue
		}
		l.keep[i], l.inner[i] = ext, 1
		l.inOuter[i] = in.strides[i]
		l.outStrides[i] = out.strides[j]
		j++
	}
	return l
}

func (r reduction) plan(e *Emulator, args *device.Args) (uint64, func([]byte) device.Status, error) {
	if len(args.Inputs) != 1 || len(args.Outputs) != 1 {
		return 0, nil, fmt.Errorf("expected 1 input and 1 output")
	}
	in, err := e.resolve(args.Inputs[0])
	if err != nil {
		return 0, nil, err
	}
	out, err := e.resolve(args.Outputs[0])
	if err != nil {
		return 0, nil, fmt.Errorf("output: %w", err)
	}
	if err := checkKind("input", in.dt, r.in); err != nil {
		return 0, nil, err
	}
	if err := checkKind("output", out.dt, r.out); err != nil {
		return 0, nil, err
	}
	axes, err := shape.NormalizeAxes(intAxes(args.Axes), in.shape.Rank())
	if err != nil {
		return 0, nil, err
	}
	if want := in.shape.Reduce(axes, args.KeepDims); !want.Equal(out.shape) {
		return 0, nil, fmt.Errorf("output shape %v, want %v", out.shape, want)
	}

	l := splitLanes(in, out, axes, args.KeepDims)
	if l.length == 0 && out.numel() > 0 && !r.emptyOK {
		return 0, nil, fmt.Errorf("zero-size reduction has no identity")
	}
	// uint64 lanes would wrap negative on the int64 path.
	useUint := r.u != nil && in.dt == dtype.Uint64
	useInt := r.i != nil && in.dt.IsIntegral() && in.dt != dtype.Uint64
	ws := uint64(l.length) * 8

	run := func(wsb []byte) device.Status {
		var fl []float64
		var il []int64
		var ul []uint64
		if l.length > 0 {
			fl = unsafe.Slice((*float64)(unsafe.Pointer(&wsb[0])), l.length)
			il = unsafe.Slice((*int64)(unsafe.Pointer(&wsb[0])), l.length)
			ul = unsafe.Slice((*uint64)(unsafe.Pointer(&wsb[0])), l.length)
		}
		outer := [][]int64{l.outStrides, l.inOuter}
		walk(l.keep, outer, []int64{out.offset, in.offset}, func(offs []int64) {
			k := 0
			walk(l.inner, [][]int64{l.inInner}, []int64{offs[1]}, func(inner []int64) {
				switch {
				case useUint:
					ul[k] = uint64(in.dt.Int(in.data, int(inner[0])))
				case useInt:
					il[k] = in.dt.Int(in.data, int(inner[0]))
				default:
					fl[k] = in.dt.Float(in.data, int(inner[0]))
				}
				k++
			})
			if useUint {
				if out.dt.IsIntegral() {
					out.dt.SetInt(out.data, int(offs[0]), int64(r.u(ul)))
				} else {
					out.dt.SetFloat(out.data, int(offs[0]), float64(r.u(ul)))
				}
				return
			}
			if useInt && out.dt.IsIntegral() {
				out.dt.SetInt(out.data, int(offs[0]), r.i(il))
				return
			}
			if useInt {
				out.dt.SetFloat(out.data, int(offs[0]), float64(r.i(il)))
				return
			}
			out.dt.SetFloat(out.data, int(offs[0]), r.f(fl))
		})
		return device.StatusSuccess
	}
	return ws, run, nil
}

func softmaxPlan(e *Emulator, args *device.Args) (uint64, func([]byte) device.Status, error) {
	if len(args.Inputs) != 1 || len(args.Outputs) != 1 || len(args.Axes) != 1 {
		return 0, nil, fmt.Errorf("expected 1 input, 1 output and 1 axis")
	}
	in, err := e.resolve(args.Inputs[0])
	if err != nil {
		return 0, nil, err
	}
	out, err := e.resolve(args.Outputs[0])
	if err != nil {
		return 0, nil, fmt.Errorf("output: %w", err)
	}
	if err := checkKind("input", in.dt, dtype.KindReal); err != nil {
		return 0, nil, err
	}
	if err := checkKind("output", out.dt, dtype.KindFloat); err != nil {
		return 0, nil, err
	}
	if !in.shape.Equal(out.shape) {
		return 0, nil, fmt.Errorf("output shape %v, want %v", out.shape, in.shape)
	}
	axes, err := shape.NormalizeAxes(intAxes(args.Axes), in.shape.Rank())
	if err != nil {
		return 0, nil, err
	}
	ax := axes[0]
	l := splitLanes(in, out, axes, true)
	outLane := out.strides[ax]

	run := func(wsb []byte) device.Status {
		if l.length == 0 {
			return device.StatusSuccess
		}
		lane := unsafe.Slice((*float64)(unsafe.Pointer(&wsb[0])), l.length)
		walk(l.keep, [][]int64{l.outStrides, l.inOuter}, []int64{out.offset, in.offset}, func(offs []int64) {
			for k := range lane {
				lane[k] = in.dt.Float(in.data, int(offs[1]+int64(k)*in.strides[ax]))
			}
			m := floats.Max(lane)
			for k, v := range lane {
				lane[k] = math.Exp(v - m)
			}
			floats.Scale(1/floats.Sum(lane), lane)
			for k, v := range lane {
				out.dt.SetFloat(out.data, int(offs[0]+int64(k)*outLane), v)
			}
		})
		return device.StatusSuccess
	}
	return uint64(l.length) * 8, run, nil
}

func amax(lane []float64) float64 {
	if floats.HasNaN(lane) {
		return math.NaN()
	}
	return floats.Max(lane)
}

func amin(lane []float64) float64 {
	if floats.HasNaN(lane) {
		return math.NaN()
	}
	return floats.Min(lane)
}

func dropNaN(lane []float64) []float64 {
	kept := lane[:0]
	for _, v := range lane {
		if !math.IsNaN(v) {
			kept = append(kept, v)
		}
	}
	return kept
}

func nanmax(lane []float64) float64 {
	if kept := dropNaN(lane); len(kept) > 0 {
		return floats.Max(kept)
	}
	return math.NaN()
}

func nanmin(lane []float64) float64 {
	if kept := dropNaN(lane); len(kept) > 0 {
		return floats.Min(kept)
	}
	return math.NaN()
}

func mean(lane []float64) float64 {
	if len(lane) == 0 {
		return math.NaN()
	}
	return stat.Mean(lane, nil)
}

func imax(lane []int64) int64 {
	m := lane[0]
	for _, v := range lane[1:] {
		m = max(m, v)
	}
	return m
}

func umax(lane []uint64) uint64 {
	m := lane[0]
	for _, v := range lane[1:] {
		m = max(m, v)
	}
	return m
}

func umin(lane []uint64) uint64 {
	m := lane[0]
	for _, v := range lane[1:] {
		m = min(m, v)
	}
	return m
}

func imin(lane []int64) int64 {
	m := lane[0]
	for _, v := range lane[1:] {
		m = min(m, v)
	}
	return m
}
